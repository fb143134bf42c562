// Package main runs the preparedness drill lab.
//
// It reads config from flags/env and plays a drill in the terminal or serves
// drills over MCP until shutdown.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	labcmd "github.com/louisbranch/prepared.space/internal/cmd/lab"
	"github.com/louisbranch/prepared.space/internal/platform/config"
)

func main() {
	cfg, err := labcmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("parse flags: %v", err)
	}
	log.SetPrefix("[LAB] ")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := labcmd.Run(ctx, cfg); err != nil {
		config.Exitf("lab: %v", err)
	}
}
