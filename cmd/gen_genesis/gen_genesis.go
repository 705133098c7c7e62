package main

import (
	"flag"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/helinwang/stakechain/pkg/consensus"
	"github.com/helinwang/stakechain/pkg/ledger"
)

func main() {
	var numPool int
	var numAccount int
	var balance uint64
	var outDir string
	var seed string
	var start string

	cfg := consensus.DefaultConfig()
	var strength string
	flag.IntVar(&numPool, "N", 4, "number of stake pools registered in the genesis")
	flag.IntVar(&numAccount, "a", 8, "number of funded accounts, they delegate to the pools round robin")
	flag.Uint64Var(&balance, "balance", 1000000, "balance of each funded account")
	flag.StringVar(&outDir, "d", "./credentials", "output directory name")
	flag.StringVar(&seed, "seed", "stakechain-genesis", "random seed")
	flag.StringVar(&start, "start", "", "genesis time in RFC3339, defaults to now")
	flag.DurationVar(&cfg.SlotDuration, "slot", cfg.SlotDuration, "slot duration")
	flag.Uint64Var(&cfg.SlotsPerEpoch, "epoch", cfg.SlotsPerEpoch, "slots per epoch")
	flag.Uint64Var(&cfg.StabilitySlots, "stability", cfg.StabilitySlots, "slots before the epoch start the stake distribution is taken at")
	flag.IntVar(&cfg.LeadersPerSlot, "leaders", cfg.LeadersPerSlot, "eligible leaders per slot")
	flag.Uint64Var(&cfg.FinalityDepth, "finality", cfg.FinalityDepth, "finality depth")
	flag.StringVar(&strength, "strength", cfg.Strength.String(), "block strength policy: stake or unit")
	flag.Parse()

	var err error
	cfg.Strength, err = consensus.ParseStrengthPolicy(strength)
	if err != nil {
		panic(err)
	}

	err = cfg.Validate()
	if err != nil {
		panic(err)
	}

	genesisTime := time.Now()
	if start != "" {
		genesisTime, err = time.Parse(time.RFC3339, start)
		if err != nil {
			panic(err)
		}
	}

	rand := consensus.Rand(consensus.SHA3([]byte(seed)))
	poolDir := path.Join(outDir, "pools")
	accountDir := path.Join(outDir, "accounts")
	for _, dir := range []string{poolDir, accountDir} {
		err = os.MkdirAll(dir, os.ModePerm)
		if err != nil {
			panic(err)
		}
	}

	pools := make([]ledger.Pool, numPool)
	for i := range pools {
		sk := rand.SK()
		rand = rand.Derive(rand[:])
		pk := sk.MustPK()
		pools[i] = ledger.Pool{ID: pk.Addr(), PK: pk, Owner: pk.Addr()}

		err = consensus.SaveCredential(fmt.Sprintf("%s/pool-%d", poolDir, i), consensus.NodeCredentials{SK: sk})
		if err != nil {
			panic(err)
		}
	}

	accounts := make([]ledger.Account, numAccount)
	for i := range accounts {
		sk := rand.SK()
		rand = rand.Derive(rand[:])
		accounts[i] = ledger.Account{Addr: sk.MustPK().Addr(), Balance: balance}
		if numPool > 0 {
			accounts[i].Delegation = pools[i%numPool].ID
		}

		err = consensus.SaveCredential(fmt.Sprintf("%s/account-%d", accountDir, i), consensus.NodeCredentials{SK: sk})
		if err != nil {
			panic(err)
		}
	}

	state, err := ledger.Genesis(accounts, pools)
	if err != nil {
		panic(err)
	}

	g := &consensus.Genesis{
		Time:   uint64(genesisTime.UnixMilli()),
		Seed:   consensus.Hash(rand.Derive([]byte("seed"))),
		State:  state.Encode(),
		Params: consensus.NewGenesisParams(cfg),
	}

	err = consensus.SaveGenesis(path.Join(outDir, "genesis.rlp"), g)
	if err != nil {
		panic(err)
	}

	for _, e := range state.Stake() {
		fmt.Printf("pool %s stake %d\n", e.Pool.Hex(), e.Stake)
	}
	fmt.Printf("genesis %s at %s\n", g.Block().Hash().Hex(), genesisTime.Format(time.RFC3339))
}
