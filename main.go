package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"
)

var logger = log.New(os.Stdout, "[Thermo-Bridge] ", log.LstdFlags|log.Lshortfile)

const (
	cmdRun      = "run"
	cmdSimulate = "simulate"
)

// parseCommand splits the optional subcommand from its flags.
func parseCommand(args []string) (string, []string) {
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		return args[0], args[1:]
	}
	return cmdRun, args
}

func main() {
	command, args := parseCommand(os.Args[1:])
	if command != cmdRun && command != cmdSimulate {
		logger.Fatalf("Unknown command %q, expected %q or %q", command, cmdRun, cmdSimulate)
	}

	cfg, err := loadConfig(command, args)
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(command); err != nil {
		logger.Fatalf("Invalid config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if command == cmdSimulate {
		err = runSimulator(ctx, cfg)
	} else {
		err = runBridge(ctx, cfg)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		stop()
		logger.Fatalf("%s: %v", command, err)
	}
	logger.Println("Shutdown complete")
}
