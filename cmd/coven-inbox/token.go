// ABOUTME: token subcommand: mints a channel JWT for a user with the configured secret
// ABOUTME: The token is printed to stdout for use as a Bearer header or ?token= parameter

package main

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/2389/coven-inbox/internal/auth"
)

func runToken(args []string) error {
	var configPath string
	var ttl time.Duration

	flagSet := pflag.NewFlagSet("token", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "config file")
	flagSet.DurationVar(&ttl, "ttl", 0, "token lifetime (default: auth.token_ttl)")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if flagSet.NArg() != 1 {
		return fmt.Errorf("usage: coven-inbox token USER")
	}

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required to mint tokens")
	}
	if ttl <= 0 {
		ttl = cfg.Auth.TokenTTL
	}

	token, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)).Generate(flagSet.Arg(0), ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}
	fmt.Println(token)
	return nil
}
