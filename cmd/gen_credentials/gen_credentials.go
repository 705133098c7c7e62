package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/helinwang/stakechain/pkg/consensus"
)

func main() {
	num := flag.Int("N", 100, "number of credentials to generate")
	seed := flag.String("seed", "stakechain-credentials", "random seed")
	dir := flag.String("dir", "./credentials", "output directory name")
	flag.Parse()

	err := os.MkdirAll(*dir, os.ModePerm)
	if err != nil {
		panic(err)
	}

	rand := consensus.Rand(consensus.SHA3([]byte(*seed)))
	for i := 0; i < *num; i++ {
		c := consensus.NodeCredentials{SK: rand.SK()}
		rand = rand.Derive(rand[:])

		err := consensus.SaveCredential(fmt.Sprintf("%s/node-%d", *dir, i), c)
		if err != nil {
			panic(err)
		}
	}
}
