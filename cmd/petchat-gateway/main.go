// ABOUTME: Entry point for the petchat-gateway chat server
// ABOUTME: Wires cobra commands for serving, probing health and listing sessions

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/petchat-gateway/internal/config"
	"github.com/2389/petchat-gateway/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
             _       _           _
  _ __   ___| |_ ___| |__   __ _| |_
 | '_ \ / _ \ __/ __| '_ \ / _' | __|
 | |_) |  __/ || (__| | | | (_| | |_
 | .__/ \___|\__\___|_| |_|\__,_|\__|
 |_|
`

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "petchat-gateway",
		Short:         "Framed TCP chat router with AI side-channels",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"config file (default $"+config.EnvConfigPath+" or ~/.config/petchat/gateway.yaml)")

	load := func() (*config.Config, string, error) {
		return loadConfig(configPath)
	}

	rootCmd.AddCommand(
		newServeCmd(load),
		newHealthCmd(load),
		newSessionsCmd(load),
		newVersionCmd(),
	)
	return rootCmd
}

type configLoader func() (*config.Config, string, error)

// loadConfig resolves and loads the config file, falling back to defaults
// when no file exists.
func loadConfig(flagValue string) (*config.Config, string, error) {
	path := config.ResolvePath(flagValue)
	if path == "" {
		return config.Default(), "(defaults)", nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

func newServeCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := load()
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, path)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config, configPath string) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	logger := setupLogger(cfg.Logging, os.Stdout)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Chat:      %s\n", cfg.Server.ListenAddr)
	if cfg.Server.HTTPAddr != "" {
		green.Print("    ▶ ")
		fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	}
	if cfg.Server.GRPCAddr != "" {
		green.Print("    ▶ ")
		fmt.Printf("gRPC:      %s\n", cfg.Server.GRPCAddr)
	}
	green.Print("    ▶ ")
	fmt.Printf("Model:     %s\n", cfg.Provider.Model)

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}
	fmt.Println()

	logger.Info("starting petchat-gateway",
		"config", configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"http_addr", cfg.Server.HTTPAddr,
		"model", cfg.Provider.Model,
	)

	gw, err := gateway.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}
	return gw.Run(ctx)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version)
			return err
		},
	}
}
