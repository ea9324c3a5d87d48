// ABOUTME: Entry point for exo-matrix, the Matrix front-end for the exo broker
// ABOUTME: Loads TOML config, optionally enables E2EE, and runs the room bridge

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"
)

const banner = `
  ___ __  _____        _ __ ___   __ _| |_ _ __(_)_  __
 / _ \ \/ / _ \ _____ | '_ ' _ \ / _' | __| '__| \ \/ /
|  __/>  < (_) |_____|| | | | | | (_| | |_| |  | |>  <
 \___/_/\_\___/       |_| |_| |_|\__,_|\__|_|  |_/_/\_\
`

// getConfigPath returns the path to the adapter config file.
// Priority: EXO_MATRIX_CONFIG env var > XDG_CONFIG_HOME/exo/matrix.toml > ~/.config/exo/matrix.toml
func getConfigPath() string {
	if envPath := os.Getenv("EXO_MATRIX_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "matrix.toml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "exo", "matrix.toml")
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

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	configPath := getConfigPath()
	cfg, err := Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config from %s: %w", configPath, err)
	}

	logger := setupLogger(cfg.Logging.Level)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:     %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Homeserver: %s\n", cfg.Matrix.Homeserver)
	green.Print("    ▶ ")
	fmt.Printf("User:       %s\n", cfg.Matrix.UserID)
	green.Print("    ▶ ")
	fmt.Printf("Broker:     %s\n", cfg.Broker.Addr)
	if cfg.Matrix.Encryption {
		green.Print("    ▶ ")
		fmt.Println("Encryption: enabled")
	}
	fmt.Println()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	bridge, err := NewBridge(cfg, nil, logger)
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}

	if cfg.Matrix.Encryption {
		cryptoMgr, err := SetupCrypto(ctx, bridge.matrix, cfg.Matrix.UserID, cfg.Matrix.RecoveryKey, getDataPath(), logger)
		if err != nil {
			return fmt.Errorf("setting up encryption: %w", err)
		}
		defer cryptoMgr.Close()
	} else {
		logger.Info("encryption disabled")
	}

	return bridge.Run(ctx)
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
}
