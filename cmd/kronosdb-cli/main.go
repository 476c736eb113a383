package main

import (
	"fmt"

	"github.com/kronosdb/kronosdb/cmd/kronosdb-cli/cli"
)

func main() {
	if err := cli.GetCommand().Execute(); err != nil {
		fmt.Printf("Error : %+v\n", err)
	}
}
