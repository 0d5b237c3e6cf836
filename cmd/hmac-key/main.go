// Package main generates settlement secrets and signs sample callbacks.
package main

import (
	"flag"
	"os"

	"github.com/louisbranch/settlement/internal/platform/config"
	"github.com/louisbranch/settlement/internal/tools/hmackey"
)

func main() {
	cfg, err := hmackey.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf(config.ExitUsage, "parse flags: %v", err)
	}
	if cfg.SignKey != "" {
		if err := hmackey.Sign(cfg, os.Stdout, os.Stdin); err != nil {
			config.Exitf(config.ExitFailure, "sign payload: %v", err)
		}
		return
	}
	if err := hmackey.Run(cfg, os.Stdout, nil); err != nil {
		config.Exitf(config.ExitFailure, "generate key: %v", err)
	}
}
