package main

import (
	"encoding/base64"
	"flag"
	"fmt"

	"github.com/helinwang/stakechain/pkg/consensus"
)

func main() {
	c := flag.String("c", "", "path to the credential file")
	flag.Parse()

	credential, err := consensus.LoadCredential(*c)
	if err != nil {
		panic(err)
	}

	pk, err := credential.SK.PK()
	if err != nil {
		panic(err)
	}

	fmt.Println("credential info (keys encoded using base64):")
	fmt.Printf("PK: %s\n", base64.StdEncoding.EncodeToString(pk))
	fmt.Printf("Addr: %s\n", pk.Addr().Hex())
}
