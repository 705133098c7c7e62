package main

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/helinwang/stakechain/pkg/api"
	"github.com/helinwang/stakechain/pkg/consensus"
	"github.com/helinwang/stakechain/pkg/ledger"
	"github.com/urfave/cli"
)

var apiAddr string
var credentialPath string
var fee uint64
var validFor uint64

var client = &http.Client{Timeout: 10 * time.Second}

var errNotFound = errors.New("not found")

func get(path string, v interface{}) error {
	resp, err := client.Get(apiAddr + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return decode(resp, v)
}

func decode(resp *http.Response, v interface{}) error {
	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&e)
		return fmt.Errorf("request failed (%s): %s", resp.Status, e.Error)
	}

	if s, ok := v.(*string); ok {
		b, err := io.ReadAll(resp.Body)
		*s = string(b)
		return err
	}

	return json.NewDecoder(resp.Body).Decode(v)
}

func sendTxn(txn []byte) error {
	resp, err := client.Post(apiAddr+"/txn", "text/plain", strings.NewReader(hex.EncodeToString(txn)))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var r map[string]string
	err = decode(resp, &r)
	if err != nil {
		return err
	}

	fmt.Println(r["hash"])
	return nil
}

func loadSK() (consensus.SK, error) {
	c, err := consensus.LoadCredential(credentialPath)
	if err != nil {
		return nil, err
	}

	return c.SK, nil
}

// txnOpts returns the options of the next transaction of the
// account, the nonce is read from the tip state.
func txnOpts(addr consensus.Addr) (ledger.TxnOpts, error) {
	var st api.Status
	err := get("/status", &st)
	if err != nil {
		return ledger.TxnOpts{}, err
	}

	opts := ledger.TxnOpts{Fee: fee}
	if validFor > 0 {
		opts.ValidUntil = st.CurrentSlot + validFor
	}

	var acc api.Account
	err = get("/account/"+addr.Hex(), &acc)
	if err == errNotFound {
		return opts, nil
	} else if err != nil {
		return opts, err
	}

	opts.Nonce = acc.Nonce
	return opts, nil
}

func printAccount(c *cli.Context) error {
	var addr consensus.Addr
	if s := c.Args().First(); s != "" {
		var err error
		addr, err = consensus.AddrFromHex(s)
		if err != nil {
			return err
		}
	} else {
		sk, err := loadSK()
		if err != nil {
			return err
		}
		addr = sk.MustPK().Addr()
	}

	var acc api.Account
	err := get("/account/"+addr.Hex(), &acc)
	if err == errNotFound {
		return fmt.Errorf("account %s does not exist", addr.Hex())
	} else if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 1, ' ', tabwriter.Debug)
	fmt.Fprintln(tw, "\tAddr\tBalance\tNonce\tDelegation\t")
	fmt.Fprintf(tw, "\t%s\t%d\t%d\t%s\t\n", acc.Addr, acc.Balance, acc.Nonce, acc.Delegation)
	return tw.Flush()
}

func send(c *cli.Context) error {
	args := c.Args()
	if len(args) < 2 {
		return fmt.Errorf("send needs 2 arguments (received: %d), please check usage using ./wallet -h", len(args))
	}

	to, err := consensus.AddrFromHex(args[0])
	if err != nil {
		return err
	}

	amount, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		return err
	}

	sk, err := loadSK()
	if err != nil {
		return err
	}

	opts, err := txnOpts(sk.MustPK().Addr())
	if err != nil {
		return err
	}

	return sendTxn(ledger.MakeTransferTxn(sk, to, amount, opts))
}

func registerPool(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return errors.New("register_pool needs the pool credential file path")
	}

	pool, err := consensus.LoadCredential(path)
	if err != nil {
		return err
	}

	sk, err := loadSK()
	if err != nil {
		return err
	}

	opts, err := txnOpts(sk.MustPK().Addr())
	if err != nil {
		return err
	}

	return sendTxn(ledger.MakeRegisterPoolTxn(sk, pool.SK.MustPK(), opts))
}

func poolCmd(mk func(consensus.SK, consensus.Addr, ledger.TxnOpts) []byte) func(c *cli.Context) error {
	return func(c *cli.Context) error {
		pool, err := consensus.AddrFromHex(c.Args().First())
		if err != nil {
			return err
		}

		sk, err := loadSK()
		if err != nil {
			return err
		}

		opts, err := txnOpts(sk.MustPK().Addr())
		if err != nil {
			return err
		}

		return sendTxn(mk(sk, pool, opts))
	}
}

func printStatus(c *cli.Context) error {
	var st api.Status
	err := get("/status", &st)
	if err != nil {
		return err
	}

	str := "Out of sync"
	if st.TipSlot+2 >= st.CurrentSlot {
		str = "In sync"
	}

	fmt.Printf("%s, slot: %d, tip: %s (slot %d, length %d), finalized: %s (length %d)\n",
		str, st.CurrentSlot, st.Tip, st.TipSlot, st.TipLength, st.Finalized, st.FinalizedLength)
	return nil
}

func printSchedule(c *cli.Context) error {
	epoch := c.Args().First()
	if epoch == "" {
		var st api.Status
		err := get("/status", &st)
		if err != nil {
			return err
		}
		epoch = strconv.FormatUint(st.CurrentEpoch, 10)
	}

	var s api.Schedule
	err := get("/schedule/"+epoch+"?slots="+strconv.Itoa(c.Int("slots")), &s)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 1, ' ', tabwriter.Debug)
	fmt.Fprintln(tw, "\tSlot\tRank\tPool\tStake\t")
	for i, leaders := range s.Slots {
		for rank, l := range leaders {
			fmt.Fprintf(tw, "\t%d\t%d\t%s\t%d\t\n", i, rank, l.Pool, l.Stake)
		}
	}
	return tw.Flush()
}

func printTxn(c *cli.Context) error {
	h, err := consensus.HashFromHex(c.Args().First())
	if err != nil {
		return err
	}

	var st api.TxnStatus
	err = get("/txn/"+h.Hex(), &st)
	if err == errNotFound {
		return fmt.Errorf("transaction %s is unknown to the node", h.Hex())
	} else if err != nil {
		return err
	}

	switch {
	case st.Block != "":
		fmt.Printf("%s: %s, block %s\n", st.Status, st.Origin, st.Block)
	case st.Reason != "":
		fmt.Printf("%s: %s, %s\n", st.Status, st.Origin, st.Reason)
	default:
		fmt.Printf("%s: %s\n", st.Status, st.Origin)
	}
	return nil
}

func printGraphviz(c *cli.Context) error {
	var graph string
	err := get("/graphviz", &graph)
	if err != nil {
		return err
	}

	fmt.Println(graph)
	return nil
}

func main() {
	app := cli.NewApp()
	app.Name = "stakechain wallet"
	app.Usage = ""

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:        "credential, c",
			Usage:       "path to the account credential file",
			Destination: &credentialPath,
		},
		cli.StringFlag{
			Name:        "addr",
			Value:       "http://127.0.0.1:12001",
			Usage:       "node's HTTP API endpoint",
			Destination: &apiAddr,
		},
		cli.Uint64Flag{
			Name:        "fee",
			Value:       1,
			Usage:       "transaction fee",
			Destination: &fee,
		},
		cli.Uint64Flag{
			Name:        "valid-for",
			Usage:       "number of slots the transaction stays valid for, 0 means no expiry",
			Destination: &validFor,
		},
	}

	app.Commands = []cli.Command{
		{
			Name:   "status",
			Usage:  "Print the chain status: ./wallet status",
			Action: printStatus,
		},
		{
			Name:   "graphviz",
			Usage:  "Print the block tree in graphviz format, please go to http://www.webgraphviz.com/ for visualization",
			Action: printGraphviz,
		},
		{
			Name:   "schedule",
			Usage:  "Print the leader schedule of the epoch: ./wallet schedule EPOCH",
			Action: printSchedule,
			Flags: []cli.Flag{
				cli.IntFlag{Name: "slots", Value: 10, Usage: "number of slots to print"},
			},
		},
		{
			Name:   "account",
			Usage:  "Print account information: ./wallet account ADDRESS, or, ./wallet -c CREDENTIAL_FILE_PATH account",
			Action: printAccount,
		},
		{
			Name:   "txn",
			Usage:  "Print the status of a transaction: ./wallet txn HASH",
			Action: printTxn,
		},
		{
			Name:   "send",
			Usage:  "Send coins to the recipient: ./wallet -c CREDENTIAL_FILE_PATH send ADDRESS AMOUNT",
			Action: send,
		},
		{
			Name:   "register_pool",
			Usage:  "Register a stake pool owned by the account: ./wallet -c CREDENTIAL_FILE_PATH register_pool POOL_CREDENTIAL_FILE_PATH",
			Action: registerPool,
		},
		{
			Name:   "retire_pool",
			Usage:  "Retire a stake pool owned by the account: ./wallet -c CREDENTIAL_FILE_PATH retire_pool POOL_ADDRESS",
			Action: poolCmd(ledger.MakeRetirePoolTxn),
		},
		{
			Name:   "delegate",
			Usage:  "Delegate the account's stake to a pool: ./wallet -c CREDENTIAL_FILE_PATH delegate POOL_ADDRESS",
			Action: poolCmd(ledger.MakeDelegateTxn),
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
