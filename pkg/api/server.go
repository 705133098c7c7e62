package api

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/helinwang/stakechain/pkg/consensus"
	"github.com/helinwang/stakechain/pkg/ledger"
	"github.com/helinwang/stakechain/pkg/txpool"
	log "github.com/inconshreveable/log15"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxTxnBytes = 64 << 10

// Txns sends the transactions submitted through the API and reports
// their status.
type Txns interface {
	SendTxn([]byte) error
	TxnStatus(h consensus.Hash) (txpool.Entry, bool)
	PendingTxn(h consensus.Hash) []byte
}

// Chain is the read only view of the chain.
type Chain interface {
	Status() consensus.Status
	Tip() *consensus.BranchNode
	Finalized() *consensus.BranchNode
	Heads() []*consensus.BranchNode
	Block(h consensus.Hash) (*consensus.Block, error)
	Lookahead(epoch uint64) (*consensus.EpochSchedule, error)
	TimeFrame() consensus.TimeFrame
	Graphviz() string
	Subscribe() (*consensus.Subscription, error)
}

// Server serves the HTTP query API of the node.
type Server struct {
	chain    Chain
	txns     Txns
	gatherer prometheus.Gatherer
	router   *mux.Router
	srv      *http.Server
}

// NewServer creates a new API server. The metrics endpoint is
// served only when gatherer is not nil.
func NewServer(chain Chain, txns Txns, gatherer prometheus.Gatherer) *Server {
	s := &Server{
		chain:    chain,
		txns:     txns,
		gatherer: gatherer,
		router:   mux.NewRouter(),
	}

	s.router.HandleFunc("/status", s.status).Methods("GET")
	s.router.HandleFunc("/tip", s.tip).Methods("GET")
	s.router.HandleFunc("/finalized", s.finalized).Methods("GET")
	s.router.HandleFunc("/heads", s.heads).Methods("GET")
	s.router.HandleFunc("/block/{hash:[0-9a-f]{64}}", s.block).Methods("GET")
	s.router.HandleFunc("/schedule/{epoch:[0-9]+}", s.schedule).Methods("GET")
	s.router.HandleFunc("/account/{addr:[0-9a-f]{40}}", s.account).Methods("GET")
	s.router.HandleFunc("/graphviz", s.graphviz).Methods("GET")
	s.router.HandleFunc("/txn", s.txn).Methods("POST")
	s.router.HandleFunc("/txn/{hash:[0-9a-f]{64}}", s.txnStatus).Methods("GET")
	s.router.HandleFunc("/watch", s.watch).Methods("GET")
	if gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return s
}

// Handler returns the HTTP handler of the API.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts serving on the address.
func (s *Server) Start(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	s.srv = &http.Server{Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		err := s.srv.Serve(l)
		if err != nil && err != http.ErrServerClosed {
			log.Error("error serving API server", "err", err)
		}
	}()
	return nil
}

// Close stops the server.
func (s *Server) Close() error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Close()
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		log.Debug("write response error", "err", err)
	}
}

func writeErr(w http.ResponseWriter, code int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

// Status is the JSON encoding of the chain status.
type Status struct {
	Tip             string `json:"tip"`
	TipSlot         uint64 `json:"tip_slot"`
	TipLength       uint64 `json:"tip_length"`
	TipStrength     uint64 `json:"tip_strength"`
	Finalized       string `json:"finalized"`
	FinalizedSlot   uint64 `json:"finalized_slot"`
	FinalizedLength uint64 `json:"finalized_length"`
	CurrentSlot     uint64 `json:"current_slot"`
	CurrentEpoch    uint64 `json:"current_epoch"`
	TreeSize        int    `json:"tree_size"`
	Heads           int    `json:"heads"`
	Orphans         int    `json:"orphans"`
	Queued          int    `json:"queued"`
	Future          int    `json:"future"`
	Stalled         bool   `json:"stalled"`
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	st := s.chain.Status()
	writeJSON(w, Status{
		Tip:             st.Tip.Hex(),
		TipSlot:         st.TipSlot,
		TipLength:       st.TipLength,
		TipStrength:     st.TipStrength,
		Finalized:       st.Finalized.Hex(),
		FinalizedSlot:   st.FinalizedSlot,
		FinalizedLength: st.FinalizedLength,
		CurrentSlot:     st.CurrentSlot,
		CurrentEpoch:    s.chain.TimeFrame().EpochOf(st.CurrentSlot),
		TreeSize:        st.TreeSize,
		Heads:           st.Heads,
		Orphans:         st.Orphans,
		Queued:          st.Queued,
		Future:          st.Future,
		Stalled:         st.Stalled,
	})
}

// Block is the JSON encoding of a block.
type Block struct {
	Hash        string   `json:"hash"`
	Parent      string   `json:"parent"`
	Slot        uint64   `json:"slot"`
	Epoch       uint64   `json:"epoch"`
	Leader      string   `json:"leader"`
	ContentHash string   `json:"content_hash"`
	Txns        []string `json:"txns"`
	Length      uint64   `json:"length,omitempty"`
	Strength    uint64   `json:"strength,omitempty"`
	StateRoot   string   `json:"state_root,omitempty"`
}

func blockView(b *consensus.Block) Block {
	txns := make([]string, len(b.Txns))
	for i, t := range b.Txns {
		txns[i] = consensus.TxnHash(t).Hex()
	}

	return Block{
		Hash:        b.Hash().Hex(),
		Parent:      b.Header.Parent.Hex(),
		Slot:        b.Header.Slot,
		Epoch:       b.Header.Epoch,
		Leader:      b.Header.Leader.Hex(),
		ContentHash: b.Header.ContentHash.Hex(),
		Txns:        txns,
	}
}

func nodeView(n *consensus.BranchNode) Block {
	v := blockView(n.Block)
	v.Length = n.Length
	v.Strength = n.Strength
	v.StateRoot = n.Snapshot.Root().Hex()
	return v
}

func (s *Server) tip(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, nodeView(s.chain.Tip()))
}

func (s *Server) finalized(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, nodeView(s.chain.Finalized()))
}

func (s *Server) heads(w http.ResponseWriter, r *http.Request) {
	heads := s.chain.Heads()
	vs := make([]Block, len(heads))
	for i, h := range heads {
		vs[i] = nodeView(h)
	}
	writeJSON(w, vs)
}

func (s *Server) block(w http.ResponseWriter, r *http.Request) {
	h, err := consensus.HashFromHex(mux.Vars(r)["hash"])
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}

	b, err := s.chain.Block(h)
	if errors.Is(err, consensus.ErrNotFound) {
		writeErr(w, http.StatusNotFound, err)
		return
	} else if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, blockView(b))
}

// Leader is a stake-ranked leader of a slot.
type Leader struct {
	Pool  string `json:"pool"`
	Stake uint64 `json:"stake"`
}

// Schedule is the JSON encoding of an epoch schedule.
type Schedule struct {
	Epoch   uint64     `json:"epoch"`
	Version string     `json:"version"`
	Slots   [][]Leader `json:"slots"`
}

func (s *Server) schedule(w http.ResponseWriter, r *http.Request) {
	epoch, err := strconv.ParseUint(mux.Vars(r)["epoch"], 10, 64)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}

	sched, err := s.chain.Lookahead(epoch)
	var se *consensus.ScheduleError
	if errors.As(err, &se) {
		writeErr(w, http.StatusNotFound, err)
		return
	} else if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}

	tf := s.chain.TimeFrame()
	n := tf.SlotsPerEpoch
	if q := r.URL.Query().Get("slots"); q != "" {
		n, err = strconv.ParseUint(q, 10, 64)
		if err != nil {
			writeErr(w, http.StatusBadRequest, err)
			return
		}

		if n > tf.SlotsPerEpoch {
			n = tf.SlotsPerEpoch
		}
	}

	v := Schedule{Epoch: sched.Epoch, Version: sched.Version.Hex()}
	start := tf.EpochStart(epoch)
	for slot := start; slot < start+n; slot++ {
		ranking := sched.Ranking(slot)
		leaders := make([]Leader, len(ranking))
		for i, e := range ranking {
			leaders[i] = Leader{Pool: e.Pool.Hex(), Stake: e.Stake}
		}
		v.Slots = append(v.Slots, leaders)
	}
	writeJSON(w, v)
}

// Account is the JSON encoding of an account at the tip.
type Account struct {
	Addr       string `json:"addr"`
	Balance    uint64 `json:"balance"`
	Nonce      uint64 `json:"nonce"`
	Delegation string `json:"delegation,omitempty"`
}

func (s *Server) account(w http.ResponseWriter, r *http.Request) {
	addr, err := consensus.AddrFromHex(mux.Vars(r)["addr"])
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}

	state, ok := s.chain.Tip().Snapshot.(*ledger.State)
	if !ok {
		writeErr(w, http.StatusNotImplemented, errors.New("unknown ledger"))
		return
	}

	acc, ok := state.Account(addr)
	if !ok {
		writeErr(w, http.StatusNotFound, errors.New("account not found"))
		return
	}

	v := Account{Addr: acc.Addr.Hex(), Balance: acc.Balance, Nonce: acc.Nonce}
	if acc.Delegation != consensus.ZeroAddr {
		v.Delegation = acc.Delegation.Hex()
	}
	writeJSON(w, v)
}

func (s *Server) graphviz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/vnd.graphviz")
	io.WriteString(w, s.chain.Graphviz())
}

func (s *Server) txn(w http.ResponseWriter, r *http.Request) {
	b, err := io.ReadAll(io.LimitReader(r.Body, maxTxnBytes))
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}

	txn, err := hex.DecodeString(string(b))
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}

	err = s.txns.SendTxn(txn)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}

	writeJSON(w, map[string]string{"hash": consensus.TxnHash(txn).Hex()})
}

// TxnStatus is the JSON encoding of the status of a transaction.
type TxnStatus struct {
	Hash   string `json:"hash"`
	Status string `json:"status"`
	Origin string `json:"origin"`
	Block  string `json:"block,omitempty"`
	Reason string `json:"reason,omitempty"`
	// Txn is the hex encoded transaction while it is pending.
	Txn string `json:"txn,omitempty"`
}

func (s *Server) txnStatus(w http.ResponseWriter, r *http.Request) {
	h, err := consensus.HashFromHex(mux.Vars(r)["hash"])
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}

	e, ok := s.txns.TxnStatus(h)
	if !ok {
		writeErr(w, http.StatusNotFound, errors.New("transaction not found"))
		return
	}

	v := TxnStatus{
		Hash:   h.Hex(),
		Status: e.Status.String(),
		Origin: e.Origin.String(),
		Reason: e.Reason,
	}

	switch e.Status {
	case txpool.InBlock:
		v.Block = e.Block.Hex()
	case txpool.Pending:
		if txn := s.txns.PendingTxn(h); txn != nil {
			v.Txn = hex.EncodeToString(txn)
		}
	}
	writeJSON(w, v)
}

// Event is a newline delimited JSON event of the watch stream.
type Event struct {
	// Type is "tip" for a tip update and "block" for a block added
	// to the tree.
	Type  string `json:"type"`
	Block Block  `json:"block"`
}

// watch streams the tip updates and the new blocks, starting with
// the current tip.
func (s *Server) watch(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeErr(w, http.StatusInternalServerError, errors.New("streaming not supported"))
		return
	}

	sub, err := s.chain.Subscribe()
	if errors.Is(err, consensus.ErrTooManySubscribers) {
		writeErr(w, http.StatusServiceUnavailable, err)
		return
	} else if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)
	send := func(e Event) bool {
		err := enc.Encode(e)
		if err != nil {
			log.Debug("watch stream closed", "err", err)
			return false
		}
		flusher.Flush()
		return true
	}

	if !send(Event{Type: "tip", Block: nodeView(s.chain.Tip())}) {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case n, ok := <-sub.Tip:
			if !ok || !send(Event{Type: "tip", Block: nodeView(n)}) {
				return
			}
		case b, ok := <-sub.Blocks:
			if !ok || !send(Event{Type: "block", Block: blockView(b)}) {
				return
			}
		}
	}
}
