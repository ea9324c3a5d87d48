// ABOUTME: Client-side exo-broker commands: send a frame, check health, read the chat log
// ABOUTME: They read the same config file as serve to find the broker's addresses

package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/casuallyexisting/exo/internal/chatlog"
	"github.com/casuallyexisting/exo/internal/wire"
)

func newSendCmd() *cobra.Command {
	var sender, addr string
	cmd := &cobra.Command{
		Use:   "send <message...>",
		Short: "Send one message to the broker and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				cfg, _, err := loadConfig()
				if err != nil {
					return err
				}
				addr = cfg.Server.Addr
			}
			reply, err := wire.NewClient(addr).Send(cmd.Context(), sender, strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), reply)
			return nil
		},
	}
	cmd.Flags().StringVar(&sender, "as", "CLI-local", "sender ID to use")
	cmd.Flags().StringVar(&addr, "addr", "", "broker frame address (default from config)")
	return cmd
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check broker health over HTTP and gRPC",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			out := cmd.OutOrStdout()
			body, err := checkHTTP(ctx, cfg.Server.HTTPAddr)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s %s\n", color.GreenString("http:"), body)

			if cfg.Server.HealthGRPCAddr != "" {
				status, err := checkGRPC(ctx, cfg.Server.HealthGRPCAddr)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s %s\n", color.GreenString("grpc:"), status)
			}
			return nil
		},
	}
}

func checkHTTP(ctx context.Context, addr string) (string, error) {
	url := fmt.Sprintf("http://%s/health/ready", addr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, body)
	}
	return string(body), nil
}

func checkGRPC(ctx context.Context, addr string) (string, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return "", fmt.Errorf("connecting to gRPC health: %w", err)
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return "", fmt.Errorf("gRPC health check failed: %w", err)
	}
	return resp.GetStatus().String(), nil
}

func newLogCmd() *cobra.Command {
	var user string
	var limit int
	var since time.Duration
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Print the most recent chat events, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.ChatLog.Path == "" {
				return fmt.Errorf("chatlog.path is not configured")
			}
			l, err := chatlog.NewSQLite(cfg.ChatLog.Path, nil)
			if err != nil {
				return err
			}
			defer l.Close()

			params := chatlog.ListParams{UserID: user, Limit: limit}
			if since > 0 {
				t := time.Now().Add(-since)
				params.Since = &t
			}
			events, err := l.List(cmd.Context(), params)
			if err != nil {
				return err
			}
			printEvents(cmd.OutOrStdout(), events)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "only events for this sender ID")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of events")
	cmd.Flags().DurationVar(&since, "since", 0, "only events newer than this, e.g. 1h")
	return cmd
}

func printEvents(w io.Writer, events []chatlog.Event) {
	gray := color.New(color.FgHiBlack)
	for _, e := range events {
		arrow := color.CyanString(">")
		if e.Direction == chatlog.DirectionOutbound {
			arrow = color.GreenString("<")
		}
		speaker := e.Speaker
		if speaker == "" {
			speaker = string(e.Kind)
		}
		gray.Fprintf(w, "%s %s ", e.Timestamp.Local().Format("2006-01-02 15:04:05"), e.UserID)
		fmt.Fprintf(w, "%s %s: %s\n", arrow, speaker, e.Text)
	}
}
