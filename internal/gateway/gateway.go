// ABOUTME: Gateway orchestrator wiring the broker to the frame listener, health endpoints and sinks
// ABOUTME: Manages listener setup (TCP or tailscale), concurrent serving and graceful shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"tailscale.com/tsnet"

	"github.com/casuallyexisting/exo/internal/broker"
	"github.com/casuallyexisting/exo/internal/chatlog"
	"github.com/casuallyexisting/exo/internal/command"
	"github.com/casuallyexisting/exo/internal/config"
	"github.com/casuallyexisting/exo/internal/firewall"
	"github.com/casuallyexisting/exo/internal/generator"
	"github.com/casuallyexisting/exo/internal/notify"
	"github.com/casuallyexisting/exo/internal/session"
)

// healthService is the gRPC health service name reported for the broker.
const healthService = "exo.Broker"

// defaultShutdownGrace bounds how long shutdown waits for in-flight turns.
const defaultShutdownGrace = 5 * time.Second

// Gateway owns every long-lived component of the broker process.
type Gateway struct {
	config    *config.Config
	store     *session.Store
	broker    *broker.Broker
	generator generator.Generator
	chatlog   chatlog.Sink
	notifier  notify.Notifier

	frames       *FrameServer
	httpServer   *http.Server
	grpcServer   *grpc.Server
	healthServer *health.Server
	tsnetServer  *tsnet.Server
	logger       *slog.Logger

	shutdownGrace time.Duration

	frameLn net.Listener
	httpLn  net.Listener
	grpcLn  net.Listener
}

// initChatLog opens the SQLite chat log when enabled.
func initChatLog(cfg *config.Config, logger *slog.Logger) (chatlog.Sink, error) {
	if !cfg.ChatLog.Enabled {
		return chatlog.Nop{}, nil
	}
	l, err := chatlog.NewSQLite(cfg.ChatLog.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing chat log: %w", err)
	}
	return l, nil
}

// initNotifier builds the operator channel: always the log, plus Matrix when
// configured, with repeats suppressed for the configured window.
func initNotifier(cfg *config.Config, logger *slog.Logger) (notify.Notifier, error) {
	chain := notify.Multi{notify.NewLog(logger)}
	if m := cfg.Notify.Matrix; m.Enabled {
		mx, err := notify.NewMatrix(notify.MatrixConfig{
			Homeserver:  m.Homeserver,
			UserID:      m.UserID,
			AccessToken: m.AccessToken,
			RoomID:      m.RoomID,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("initializing matrix notifier: %w", err)
		}
		chain = append(chain, mx)
		logger.Info("matrix notifications enabled", "room_id", m.RoomID)
	}
	return notify.NewThrottle(chain, cfg.Notify.Window), nil
}

// New creates a Gateway from cfg. Nothing listens until Listen is called.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	gen, err := generator.New(ctx, cfg.Generation, cfg.Persona.Roster, cfg.Persona.Player, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing generator: %w", err)
	}

	sink, err := initChatLog(cfg, logger)
	if err != nil {
		return nil, err
	}

	notifier, err := initNotifier(cfg, logger)
	if err != nil {
		_ = sink.Close()
		return nil, err
	}

	store := session.NewStore(cfg.ChatLog.Enabled, logger)
	fw := firewall.New(firewall.Config{
		Intercepts: cfg.Firewall.Intercepts,
		Banned:     cfg.Firewall.Banned,
		Rejections: cfg.Firewall.Rejections,
	}, nil, logger)

	info := gen.Info()
	router := command.NewRouter(store, cfg, command.Descriptor{
		Personality: cfg.Persona.Roster,
		Player:      cfg.Persona.Player,
		Engine:      info.Engine,
		Model:       info.Model,
		Hardware:    cfg.Generation.Device,
	}, logger)

	b := broker.New(broker.Options{
		Player:    cfg.Persona.Player,
		Roster:    cfg.Persona.Roster,
		StopToken: cfg.Generation.StopToken,
		BeamWidth: cfg.Generation.BeamWidth,
		Params:    generator.ParamsFromConfig(cfg.Generation),
		Timeout:   cfg.Generation.Timeout,
	}, broker.Deps{
		Store:     store,
		Router:    router,
		Firewall:  fw,
		Generator: gen,
		Access:    cfg,
		ChatLog:   sink,
	}, logger)

	var limiter *senderLimiter
	if cfg.RateLimit.Enabled {
		limiter = newSenderLimiter(cfg.RateLimit.PerSec, cfg.RateLimit.Burst)
	}

	gw := &Gateway{
		config:    cfg,
		store:     store,
		broker:    b,
		generator: gen,
		chatlog:   sink,
		notifier:  notifier,
		frames: NewFrameServer(FrameServerConfig{
			Handler:     b,
			Notifier:    notifier,
			Limiter:     limiter,
			MaxFrame:    cfg.Server.MaxFrameBytes,
			ReadTimeout: cfg.Server.ReadTimeout,
		}, logger),
		healthServer:  health.NewServer(),
		logger:        logger.With("component", "gateway"),
		shutdownGrace: defaultShutdownGrace,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", gw.handleHealth)
	mux.HandleFunc("/health/ready", gw.handleReady)
	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	gw.grpcServer = grpc.NewServer()
	healthpb.RegisterHealthServer(gw.grpcServer, gw.healthServer)
	gw.healthServer.SetServingStatus(healthService, healthpb.HealthCheckResponse_NOT_SERVING)

	logger.Info("gateway initialized",
		"player", cfg.Persona.Player,
		"roster", len(cfg.Persona.Roster),
		"engine", info.Engine,
		"model", info.Model,
		"chatlog", cfg.ChatLog.Enabled,
	)
	return gw, nil
}

// Broker returns the session broker.
func (g *Gateway) Broker() *broker.Broker {
	return g.broker
}

// FrameAddr returns the bound frame listener address, or nil before Listen.
func (g *Gateway) FrameAddr() net.Addr {
	if g.frameLn == nil {
		return nil
	}
	return g.frameLn.Addr()
}

// HTTPAddr returns the bound HTTP listener address, or nil before Listen.
func (g *Gateway) HTTPAddr() net.Addr {
	if g.httpLn == nil {
		return nil
	}
	return g.httpLn.Addr()
}

// GRPCAddr returns the bound gRPC health listener address, or nil when disabled.
func (g *Gateway) GRPCAddr() net.Addr {
	if g.grpcLn == nil {
		return nil
	}
	return g.grpcLn.Addr()
}

// setupTCPListeners binds the frame, HTTP and optional gRPC health listeners.
func (g *Gateway) setupTCPListeners() error {
	g.logger.Info("starting gateway",
		"addr", g.config.Server.Addr,
		"http_addr", g.config.Server.HTTPAddr,
		"health_grpc_addr", g.config.Server.HealthGRPCAddr,
	)

	var err error
	g.frameLn, err = net.Listen("tcp", g.config.Server.Addr)
	if err != nil {
		return fmt.Errorf("listening on frame address: %w", err)
	}

	if g.config.Server.HTTPAddr != "" {
		g.httpLn, err = net.Listen("tcp", g.config.Server.HTTPAddr)
		if err != nil {
			g.closeListeners()
			return fmt.Errorf("listening on HTTP address: %w", err)
		}
	}

	if g.config.Server.HealthGRPCAddr != "" {
		g.grpcLn, err = net.Listen("tcp", g.config.Server.HealthGRPCAddr)
		if err != nil {
			g.closeListeners()
			return fmt.Errorf("listening on gRPC health address: %w", err)
		}
	}
	return nil
}

func (g *Gateway) closeListeners() {
	for _, ln := range []net.Listener{g.frameLn, g.httpLn, g.grpcLn} {
		if ln != nil {
			_ = ln.Close()
		}
	}
}

// Listen binds every listener based on configuration (tailscale or TCP).
func (g *Gateway) Listen(ctx context.Context) error {
	if g.config.Tailscale.Enabled {
		g.warnIgnoredAddresses()
		return g.setupTailscaleListeners(ctx)
	}
	return g.setupTCPListeners()
}

// Serve runs all servers on the bound listeners until ctx is canceled or one
// of them fails, then shuts everything down.
func (g *Gateway) Serve(ctx context.Context) error {
	if g.frameLn == nil {
		return errors.New("gateway is not listening")
	}

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		if err := g.frames.Serve(egCtx, g.frameLn); err != nil {
			return fmt.Errorf("frame server: %w", err)
		}
		return nil
	})

	if g.httpLn != nil {
		eg.Go(func() error {
			g.logger.Info("HTTP server listening", "addr", g.httpLn.Addr().String())
			if err := g.httpServer.Serve(g.httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("HTTP server: %w", err)
			}
			return nil
		})
	}

	if g.grpcLn != nil {
		eg.Go(func() error {
			g.logger.Info("gRPC health server listening", "addr", g.grpcLn.Addr().String())
			if err := g.grpcServer.Serve(g.grpcLn); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("gRPC health server: %w", err)
			}
			return nil
		})
	}

	g.healthServer.SetServingStatus(healthService, healthpb.HealthCheckResponse_SERVING)
	g.healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	eg.Go(func() error {
		<-egCtx.Done()
		if ctx.Err() != nil {
			g.logger.Info("context canceled, initiating shutdown")
		}
		return g.gracefulShutdown()
	})

	return eg.Wait()
}

// Run binds the listeners and serves until ctx is canceled.
// Returns nil on graceful shutdown, or an error if a server fails.
func (g *Gateway) Run(ctx context.Context) error {
	if err := g.Listen(ctx); err != nil {
		return err
	}
	return g.Serve(ctx)
}

// gracefulShutdown uses a fresh context since the serving context is already done.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), g.shutdownGrace)
	defer cancel()
	return g.Shutdown(ctx)
}

// shutdownGRPCServer gracefully stops the gRPC server or force-stops on context cancel.
func (g *Gateway) shutdownGRPCServer(ctx context.Context) {
	stopped := make(chan struct{})
	go func() {
		g.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		g.grpcServer.Stop()
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops accepting work, waits for in-flight turns and releases
// resources. If turns are still running when ctx expires the chat log is left
// open so their records are not lost.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")
	g.healthServer.Shutdown()

	var errs []error
	drainErr := g.frames.Shutdown(ctx)
	errs = appendCloseError(errs, "frame shutdown", drainErr)
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	g.shutdownGRPCServer(ctx)

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
		g.tsnetServer = nil
	}
	switch {
	case g.chatlog == nil:
	case drainErr != nil:
		g.logger.Warn("turns still in flight, leaving chat log open", "error", drainErr)
	default:
		errs = appendCloseError(errs, "chat log close", g.chatlog.Close())
		g.chatlog = nil
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}
