// ABOUTME: Entry point for exo-broker, the conversational session broker
// ABOUTME: Cobra commands for serving, config setup, sending test frames and health checks

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/casuallyexisting/exo/internal/config"
	"github.com/casuallyexisting/exo/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
  ___ __  _____        | |__  _ __ ___ | | _____ _ __
 / _ \\ \/ / _ \ _____ | '_ \| '__/ _ \| |/ / _ \ '__|
|  __/ >  < (_) |_____|| |_) | | | (_) |   <  __/ |
 \___/_/\_\___/        |_.__/|_|  \___/|_|\_\___|_|
`

// getConfigPath returns the path to the broker config file.
// Priority: EXO_CONFIG env var > XDG_CONFIG_HOME/exo/broker.yaml > ~/.config/exo/broker.yaml
func getConfigPath() string {
	if envPath := os.Getenv("EXO_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "broker.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "exo", "broker.yaml")
}

// getDataPath returns the path to the exo data directory.
// Priority: XDG_DATA_HOME/exo > ~/.local/share/exo
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "exo")
}

var configPath string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "exo-broker",
		Short:         "Conversational session broker",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default $EXO_CONFIG or ~/.config/exo/broker.yaml)")

	root.AddCommand(
		newServeCmd(),
		newInitCmd(),
		newSendCmd(),
		newCheckCmd(),
		newLogCmd(),
	)
	return root
}

func resolvedConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return getConfigPath()
}

func loadConfig() (*config.Config, string, error) {
	path := resolvedConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the broker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, path, err := loadConfig()
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", path)
	green.Print("    ▶ ")
	fmt.Printf("Frames:    %s\n", cfg.Server.Addr)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Backend:   %s", cfg.Generation.Backend)
	if cfg.Generation.Model != "" {
		gray.Printf(" (%s)", cfg.Generation.Model)
	}
	fmt.Println()
	green.Print("    ▶ ")
	fmt.Printf("Roster:    %d speakers, player %q\n", len(cfg.Persona.Roster), cfg.Persona.Player)

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}
	if cfg.ChatLog.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Chat log:  %s\n", cfg.ChatLog.Path)
	} else {
		yellow.Print("    ▶ ")
		fmt.Println("Chat log:  disabled")
	}

	fmt.Println()

	logger.Info("starting exo-broker",
		"config", path,
		"addr", cfg.Server.Addr,
		"http_addr", cfg.Server.HTTPAddr,
	)

	gw, err := gateway.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}
