// ABOUTME: Tailscale (tsnet) listeners so the broker can join a tailnet instead of binding TCP
// ABOUTME: The frame port, HTTP health on :80 and gRPC health on :50051 are served on the node

package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"
)

// warnIgnoredAddresses logs a warning if server addresses are configured but Tailscale is enabled.
func (g *Gateway) warnIgnoredAddresses() {
	if g.config.Server.Addr != "" || g.config.Server.HTTPAddr != "" || g.config.Server.HealthGRPCAddr != "" {
		g.logger.Warn("server addresses are ignored when tailscale is enabled",
			"addr", g.config.Server.Addr,
			"http_addr", g.config.Server.HTTPAddr,
			"health_grpc_addr", g.config.Server.HealthGRPCAddr,
		)
	}
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "exo-broker", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListeners starts a tsnet node and listens on it.
func (g *Gateway) setupTailscaleListeners(ctx context.Context) error {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return fmt.Errorf("starting tailscale: %w", err)
	}
	g.logTailscaleStatus(tsCfg.Hostname, status)

	listen := func(port string) (net.Listener, error) {
		ln, err := g.tsnetServer.Listen("tcp", ":"+port)
		if err != nil {
			g.closeListeners()
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale port %s: %w", port, err)
		}
		return ln, nil
	}

	if g.frameLn, err = listen(strconv.Itoa(tsCfg.Port)); err != nil {
		return err
	}
	if g.httpLn, err = listen("80"); err != nil {
		return err
	}
	if g.grpcLn, err = listen("50051"); err != nil {
		return err
	}
	return nil
}

// logTailscaleStatus logs info about the tailscale node status.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName, "port", g.config.Tailscale.Port)
}
