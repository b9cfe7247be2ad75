package main

import (
	"os"

	"github.com/G-Research/paramsweep/cmd/sweep/cmd"
	"github.com/G-Research/paramsweep/internal/common"
)

func main() {
	common.ConfigureLogging()
	err := cmd.RootCmd().Execute()
	if err != nil {
		os.Exit(1)
	}
}
