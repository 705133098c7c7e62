package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/helinwang/stakechain/pkg/consensus"
	"github.com/helinwang/stakechain/pkg/ledger"
	"github.com/helinwang/stakechain/pkg/store"
	"github.com/helinwang/stakechain/pkg/txpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	*txpool.TxnPool
	txns [][]byte
	err  error
}

func (f *fakeSender) SendTxn(b []byte) error {
	if f.err != nil {
		return f.err
	}
	f.txns = append(f.txns, b)
	return nil
}

func (f *fakeSender) TxnStatus(h consensus.Hash) (txpool.Entry, bool) {
	return f.Status(h)
}

func (f *fakeSender) PendingTxn(h consensus.Hash) []byte {
	return f.Get(h)
}

type fixture struct {
	srv    *Server
	sender *fakeSender
	m      *consensus.TipManager
	alice  consensus.SK
	pool   consensus.Addr
	poolSK consensus.SK
}

func newFixture(t *testing.T) *fixture {
	poolPK, poolSK := consensus.RandKeyPair()
	alicePK, aliceSK := consensus.RandKeyPair()
	s, err := ledger.Genesis([]ledger.Account{
		{Addr: alicePK.Addr(), Balance: 50, Delegation: poolPK.Addr()},
	}, []ledger.Pool{
		{ID: poolPK.Addr(), PK: poolPK, Owner: alicePK.Addr()},
	})
	require.Nil(t, err)

	cfg := consensus.DefaultConfig()
	g := &consensus.Genesis{
		Time:   uint64(time.Now().UnixMilli()),
		State:  s.Encode(),
		Params: consensus.NewGenesisParams(cfg),
	}

	reg := prometheus.NewRegistry()
	m, err := consensus.NewTipManager(cfg, g, consensus.Deps{
		Ledger:     ledger.New(),
		Store:      store.New(store.NewMemKV()),
		Registerer: reg,
	})
	require.Nil(t, err)

	sender := &fakeSender{TxnPool: txpool.New(16)}
	return &fixture{
		srv:    NewServer(m, sender, reg),
		sender: sender,
		m:      m,
		alice:  aliceSK,
		pool:   poolPK.Addr(),
		poolSK: poolSK,
	}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, req)
	return w
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, "GET", "/status", "")
	require.Equal(t, http.StatusOK, w.Code)

	var s Status
	require.Nil(t, json.Unmarshal(w.Body.Bytes(), &s))
	assert.Equal(t, f.m.Genesis().Hex(), s.Tip)
	assert.Equal(t, s.Tip, s.Finalized)
	assert.Equal(t, 1, s.TreeSize)
}

func TestTipAndBlock(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, "GET", "/tip", "")
	require.Equal(t, http.StatusOK, w.Code)

	var b Block
	require.Nil(t, json.Unmarshal(w.Body.Bytes(), &b))
	assert.Equal(t, f.m.Genesis().Hex(), b.Hash)
	assert.Equal(t, f.m.Tip().Snapshot.Root().Hex(), b.StateRoot)

	w = f.do(t, "GET", "/block/"+b.Hash, "")
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, "GET", "/block/"+consensus.Hash{1}.Hex(), "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, "GET", "/block/xyz", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAccount(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, "GET", "/account/"+f.alice.MustPK().Addr().Hex(), "")
	require.Equal(t, http.StatusOK, w.Code)

	var a Account
	require.Nil(t, json.Unmarshal(w.Body.Bytes(), &a))
	assert.Equal(t, uint64(50), a.Balance)
	assert.Equal(t, f.pool.Hex(), a.Delegation)

	w = f.do(t, "GET", "/account/"+consensus.ZeroAddr.Hex(), "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSchedule(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, "GET", "/schedule/0?slots=4", "")
	require.Equal(t, http.StatusOK, w.Code)

	var s Schedule
	require.Nil(t, json.Unmarshal(w.Body.Bytes(), &s))
	require.Equal(t, 4, len(s.Slots))
	for _, leaders := range s.Slots {
		require.Equal(t, 1, len(leaders))
		assert.Equal(t, f.pool.Hex(), leaders[0].Pool)
	}

	// the stake distribution of a far epoch is not stable yet.
	w = f.do(t, "GET", "/schedule/100", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTxn(t *testing.T) {
	f := newFixture(t)
	txn := []byte{1, 2, 3}
	w := f.do(t, "POST", "/txn", hex.EncodeToString(txn))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, [][]byte{txn}, f.sender.txns)

	w = f.do(t, "POST", "/txn", "not hex")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	f.sender.err = errors.New("invalid")
	w = f.do(t, "POST", "/txn", hex.EncodeToString(txn))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGraphvizAndMetrics(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, "GET", "/graphviz", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "digraph")

	w = f.do(t, "GET", "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "stakechain_tip_length")
}

func TestTxnStatus(t *testing.T) {
	f := newFixture(t)
	txn := ledger.MakeTransferTxn(f.alice, f.pool, 1, ledger.TxnOpts{})
	h := consensus.TxnHash(txn)

	w := f.do(t, "GET", "/txn/"+h.Hex(), "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	_, err := f.sender.Add(txn, txpool.Local)
	require.Nil(t, err)
	w = f.do(t, "GET", "/txn/"+h.Hex(), "")
	require.Equal(t, http.StatusOK, w.Code)

	var s TxnStatus
	require.Nil(t, json.Unmarshal(w.Body.Bytes(), &s))
	assert.Equal(t, "pending", s.Status)
	assert.Equal(t, "local", s.Origin)
	assert.Equal(t, hex.EncodeToString(txn), s.Txn)
	assert.Empty(t, s.Block)

	block := consensus.SHA3([]byte("block"))
	f.sender.Included(block, []consensus.Hash{h})
	w = f.do(t, "GET", "/txn/"+h.Hex(), "")
	require.Equal(t, http.StatusOK, w.Code)

	s = TxnStatus{}
	require.Nil(t, json.Unmarshal(w.Body.Bytes(), &s))
	assert.Equal(t, "in_block", s.Status)
	assert.Equal(t, block.Hex(), s.Block)
	assert.Empty(t, s.Txn)
}

// signedBlock creates a block of the fixture's pool extending the
// genesis.
func (f *fixture) signedBlock(t *testing.T, slot uint64) *consensus.Block {
	sched, err := f.m.Lookahead(0)
	require.Nil(t, err)

	pk := f.poolSK.MustPK()
	b := &consensus.Block{
		Header: consensus.Header{
			Parent:      f.m.Genesis(),
			Slot:        slot,
			Epoch:       f.m.TimeFrame().EpochOf(slot),
			Leader:      pk.Addr(),
			LeaderPK:    pk,
			LeaderProof: f.poolSK.Sign(consensus.LeaderProofMsg(sched.Nonce, slot)),
			ContentHash: consensus.ContentHash(nil),
		},
	}
	b.Header.Sig = f.poolSK.Sign(b.Header.Encode(false))
	return b
}

func TestWatch(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- f.m.Run(ctx)
	}()
	defer func() {
		cancel()
		require.Nil(t, <-done)
	}()

	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/watch")
	require.Nil(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	events := json.NewDecoder(resp.Body)
	var e Event
	require.Nil(t, events.Decode(&e))
	assert.Equal(t, "tip", e.Type)
	assert.Equal(t, f.m.Genesis().Hex(), e.Block.Hash)

	b := f.signedBlock(t, 1)
	require.Nil(t, f.m.Submit(consensus.Candidate{Block: b, From: consensus.LocalProvenance}))

	got := make(map[string]string)
	for len(got) < 2 {
		var e Event
		require.Nil(t, events.Decode(&e))
		got[e.Type] = e.Block.Hash
	}
	assert.Equal(t, b.Hash().Hex(), got["tip"])
	assert.Equal(t, b.Hash().Hex(), got["block"])
}

type fullChain struct {
	*consensus.TipManager
}

func (fullChain) Subscribe() (*consensus.Subscription, error) {
	return nil, consensus.ErrTooManySubscribers
}

func TestWatchTooManySubscribers(t *testing.T) {
	f := newFixture(t)
	srv := NewServer(fullChain{f.m}, f.sender, nil)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/watch", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
