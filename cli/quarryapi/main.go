package main

import (
	"os"

	servecmder "github.com/papercomputeco/quarry/cmd/quarry/serve"
)

func main() {
	cmd := servecmder.NewServeCmd()
	cmd.Use = "quarryapi"
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Override path to .quarry/ config directory")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
