// ABOUTME: serve subcommand: runs the reference backend until interrupted
// ABOUTME: Optionally seeds users from repeated --user flags

package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/pflag"

	"github.com/2389/coven-inbox/internal/gateway"
	"github.com/2389/coven-inbox/internal/store"
)

func runServe(ctx context.Context, args []string) error {
	var configPath string
	var users []string

	flagSet := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "config file (default: $COVEN_INBOX_CONFIG or ~/.config/coven/inbox.yaml)")
	flagSet.StringArrayVarP(&users, "user", "u", nil, "register a user at startup, as ID or ID:Display Name (repeatable)")
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	cfg, source, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	logger := setupLogger(cfg.Logging)

	printInfo("Config", source)
	printInfo("HTTP", cfg.Server.HTTPAddr)
	printInfo("Database", fmt.Sprintf("%s (%s)", cfg.Database.Path, cfg.Database.Driver))
	fmt.Println()

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	for _, entry := range users {
		id, name, _ := strings.Cut(entry, ":")
		if _, err := gw.Service().RegisterUser(ctx, id, name, ""); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				logger.Debug("user already registered", "user_id", id)
				continue
			}
			_ = gw.Shutdown(context.Background())
			return fmt.Errorf("seeding user %q: %w", id, err)
		}
	}

	logger.Info("starting coven-inbox",
		"config", source,
		"http_addr", cfg.Server.HTTPAddr,
		"database", cfg.Database.Path,
	)

	return gw.Run(ctx)
}
