package main

import (
	"os"

	quarrycmder "github.com/papercomputeco/quarry/cmd/quarry"
)

func main() {
	cmd := quarrycmder.NewQuarryCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
