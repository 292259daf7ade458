// ABOUTME: Entry point for coven-inbox: reference backend, end-to-end demo and token minting
// ABOUTME: Dispatches subcommands; each parses its own pflag set

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/pflag"

	"github.com/2389/coven-inbox/internal/config"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                                           _       _
  ___ _____   _____ _ __        (_)_ __ | |__   _____  __
 / __/ _ \ \ / / _ \ '_ \ _____ | | '_ \| '_ \ / _ \ \/ /
| (_| (_) \ V /  __/ | | |_____|| | | | | |_) | (_) >  <
 \___\___/ \_/ \___|_| |_|      |_|_| |_|_.__/ \___/_/\_\
`

func usage() {
	fmt.Println("Usage: coven-inbox <command> [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                  Start the reference backend")
	fmt.Println("  demo                   Run the inbox flows end to end over websockets")
	fmt.Println("  token USER             Mint a channel token for USER")
	fmt.Println("  version                Print the version")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	args := os.Args[2:]
	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx, args)
	case "demo":
		err = runDemo(ctx, args)
	case "token":
		err = runToken(args)
	case "version", "--version":
		fmt.Printf("coven-inbox %s\n", version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(1)
	}

	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("Error:"), err)
		os.Exit(1)
	}
}

// loadConfig resolves and loads the config file. A missing file at a
// default location yields the defaults; a missing explicit path is an error.
func loadConfig(flagPath string) (*config.Config, string, error) {
	path := config.ResolvePath(flagPath)
	explicit := flagPath != "" || os.Getenv(config.EnvConfigPath) != ""

	if _, err := os.Stat(path); err != nil && errors.Is(err, os.ErrNotExist) && !explicit {
		return config.Default(), "(defaults)", nil
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

// printInfo prints one aligned startup line.
func printInfo(label, value string) {
	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("%-10s %s\n", label+":", value)
}
