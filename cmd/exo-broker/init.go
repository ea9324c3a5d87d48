// ABOUTME: Interactive "exo-broker init" that writes a starter YAML config
// ABOUTME: Answers are read line by line; an empty answer or EOF takes the default

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a new config file interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInit(cmd.InOrStdin(), cmd.OutOrStdout(), resolvedConfigPath(), getDataPath())
		},
	}
}

// initAnswers holds everything the init dialogue collects.
type initAnswers struct {
	addr, httpAddr      string
	player              string
	roster              []string
	sudoers             []string
	backend, model      string
	endpoint, apiKey    string
	chatLogPath         string
	tailscaleHostname   string
	logLevel, logFormat string
}

func yes(s string) bool {
	s = strings.ToLower(s)
	return s == "yes" || s == "y"
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func runInit(in io.Reader, out io.Writer, defaultConfigPath, dataPath string) error {
	reader := bufio.NewReader(in)
	ask := func(q, def string) string { return prompt(reader, out, q, def) }

	fmt.Fprintln(out, "exo-broker configuration setup")
	fmt.Fprintln(out, "==============================")
	fmt.Fprintln(out)

	outputFile := ask("Config file path", defaultConfigPath)
	if _, err := os.Stat(outputFile); err == nil {
		if !yes(ask("File exists. Overwrite?", "no")) {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	var a initAnswers

	fmt.Fprintln(out, "\n--- Server Configuration ---")
	a.addr = ask("Frame listener address", "127.0.0.1:25077")
	a.httpAddr = ask("HTTP health address", "127.0.0.1:25078")

	fmt.Fprintln(out, "\n--- Persona ---")
	a.player = ask("Player name (the speaker users talk as)", "Player")
	a.roster = splitList(ask("Roster (comma separated, include the player)", a.player+", Exo"))

	fmt.Fprintln(out, "\n--- Access ---")
	a.sudoers = splitList(ask("Sudoer sender IDs (comma separated)", ""))

	fmt.Fprintln(out, "\n--- Generation ---")
	a.backend = ask("Backend (ollama/gemini/echo)", "ollama")
	switch a.backend {
	case "ollama":
		a.endpoint = ask("Ollama endpoint", "http://127.0.0.1:11434")
		a.model = ask("Model", "llama3.2")
	case "gemini":
		a.model = ask("Model", "gemini-2.0-flash")
		a.apiKey = ask("API key (or ${GEMINI_API_KEY})", "${GEMINI_API_KEY}")
	}

	fmt.Fprintln(out, "\n--- Chat Log ---")
	if yes(ask("Record conversations?", "no")) {
		a.chatLogPath = ask("SQLite database path", filepath.Join(dataPath, "chatlog.db"))
	}

	fmt.Fprintln(out, "\n--- Tailscale ---")
	if yes(ask("Enable Tailscale?", "no")) {
		a.tailscaleHostname = ask("Tailscale hostname", "exo-broker")
	}

	fmt.Fprintln(out, "\n--- Logging ---")
	a.logLevel = ask("Log level (debug/info/warn/error)", "info")
	a.logFormat = ask("Log format (text/json)", "text")

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(renderConfig(a)), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Fprintf(out, "\nConfig written to %s\n", outputFile)
	fmt.Fprintln(out, "\nTo start the broker:")
	fmt.Fprintln(out, "  exo-broker serve")
	return nil
}

func yamlList(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = fmt.Sprintf("%q", s)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

func renderConfig(a initAnswers) string {
	var cfg strings.Builder
	cfg.WriteString("# exo-broker configuration\n")
	cfg.WriteString("# Generated by exo-broker init\n\n")

	cfg.WriteString("server:\n")
	fmt.Fprintf(&cfg, "  addr: %q\n", a.addr)
	fmt.Fprintf(&cfg, "  http_addr: %q\n", a.httpAddr)
	cfg.WriteString("  read_timeout: \"30s\"\n\n")

	cfg.WriteString("persona:\n")
	fmt.Fprintf(&cfg, "  player: %q\n", a.player)
	fmt.Fprintf(&cfg, "  roster: %s\n\n", yamlList(a.roster))

	cfg.WriteString("access:\n")
	fmt.Fprintf(&cfg, "  sudoers: %s\n", yamlList(a.sudoers))
	fmt.Fprintf(&cfg, "  operators: %s\n\n", yamlList(a.sudoers))

	cfg.WriteString("firewall:\n")
	cfg.WriteString("  intercepts: {}\n")
	cfg.WriteString("  banned: []\n")
	cfg.WriteString("  rejections: []\n\n")

	cfg.WriteString("generation:\n")
	fmt.Fprintf(&cfg, "  backend: %q\n", a.backend)
	if a.model != "" {
		fmt.Fprintf(&cfg, "  model: %q\n", a.model)
	}
	if a.endpoint != "" {
		fmt.Fprintf(&cfg, "  endpoint: %q\n", a.endpoint)
	}
	if a.apiKey != "" {
		fmt.Fprintf(&cfg, "  api_key: %q\n", a.apiKey)
	}
	cfg.WriteString("  beam_width: 3\n")
	cfg.WriteString("  timeout: \"60s\"\n\n")

	cfg.WriteString("chatlog:\n")
	fmt.Fprintf(&cfg, "  enabled: %t\n", a.chatLogPath != "")
	if a.chatLogPath != "" {
		fmt.Fprintf(&cfg, "  path: %q\n", a.chatLogPath)
	}
	cfg.WriteString("\n")

	cfg.WriteString("tailscale:\n")
	fmt.Fprintf(&cfg, "  enabled: %t\n", a.tailscaleHostname != "")
	if a.tailscaleHostname != "" {
		fmt.Fprintf(&cfg, "  hostname: %q\n", a.tailscaleHostname)
	}
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	fmt.Fprintf(&cfg, "  level: %q\n", a.logLevel)
	fmt.Fprintf(&cfg, "  format: %q\n", a.logFormat)
	return cfg.String()
}

func prompt(reader *bufio.Reader, out io.Writer, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(out, "%s [%s]: ", question, defaultVal)
	} else {
		fmt.Fprintf(out, "%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
		// On EOF or error, return default
		fmt.Fprintln(out)
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
