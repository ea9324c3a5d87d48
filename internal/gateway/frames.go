// ABOUTME: Frame listener accepting one "<sender>://<message>" exchange per TCP connection
// ABOUTME: Each connection gets its own goroutine; a faulty turn never takes the listener down

package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/casuallyexisting/exo/internal/notify"
	"github.com/casuallyexisting/exo/internal/wire"
)

// Apology is returned to the user when a turn fails internally.
const Apology = "An error occurred. Please try again later."

// SlowDown is returned to senders that exceed their rate limit.
const SlowDown = "Slow down, please."

// frameIdleGap ends a frame when a sender that keeps its write side open
// pauses after sending some bytes.
const frameIdleGap = 50 * time.Millisecond

// TurnHandler runs turns for the frame listener. *broker.Broker satisfies it.
type TurnHandler interface {
	HandleTurn(ctx context.Context, userID, text string) (string, error)
	Privileged(userID string) bool
}

// FrameServerConfig configures a FrameServer.
type FrameServerConfig struct {
	Handler     TurnHandler
	Notifier    notify.Notifier
	Limiter     *senderLimiter
	MaxFrame    int
	ReadTimeout time.Duration
}

// FrameServer serves the wire protocol.
type FrameServer struct {
	handler     TurnHandler
	notifier    notify.Notifier
	limiter     *senderLimiter
	maxFrame    int
	readTimeout time.Duration
	logger      *slog.Logger

	wg       sync.WaitGroup
	mu       sync.Mutex
	listener net.Listener
	closed   bool
}

// NewFrameServer creates a frame server.
func NewFrameServer(cfg FrameServerConfig, logger *slog.Logger) *FrameServer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxFrame <= 0 {
		cfg.MaxFrame = wire.DefaultMaxFrame
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.NewLog(logger)
	}
	return &FrameServer{
		handler:     cfg.Handler,
		notifier:    cfg.Notifier,
		limiter:     cfg.Limiter,
		maxFrame:    cfg.MaxFrame,
		readTimeout: cfg.ReadTimeout,
		logger:      logger.With("component", "frames"),
	}
}

// Serve accepts connections until ln is closed or ctx is canceled. In-flight
// connections keep running; Shutdown waits for them.
func (s *FrameServer) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = ln.Close()
		return nil
	}
	s.listener = ln
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	s.logger.Info("frame listener accepting", "addr", ln.Addr().String())

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil || s.isClosed() {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				s.logger.Warn("temporary accept error", "error", err)
				continue
			}
			return fmt.Errorf("accepting frame connection: %w", err)
		}
		s.wg.Add(1)
		// In-flight turns outlive cancellation; generation has its own timeout.
		go s.handleConn(context.WithoutCancel(ctx), conn)
	}
}

func (s *FrameServer) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close stops accepting new connections. In-flight exchanges continue.
func (s *FrameServer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

// Shutdown closes the listener and waits for in-flight exchanges or ctx.
func (s *FrameServer) Shutdown(ctx context.Context) error {
	err := s.Close()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *FrameServer) handleConn(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	remote := conn.RemoteAddr().String()
	data, err := s.readFrame(conn)
	if len(data) == 0 {
		s.logger.Debug("connection closed before a frame arrived", "remote", remote, "error", err)
		return
	}

	frame, err := wire.Decode(data)
	if err != nil {
		s.logger.Warn("dropping malformed frame", "remote", remote, "bytes", len(data))
		return
	}

	logger := s.logger.With("user_id", frame.Sender)
	if s.limiter != nil && !s.limiter.Allow(frame.Sender) {
		logger.Warn("sender rate limited")
		s.write(conn, logger, SlowDown)
		return
	}

	reply, err := s.runTurn(ctx, frame)
	if err != nil {
		logger.Error("turn failed", "error", err)
		if nerr := s.notifier.Notify(ctx, notify.Prefix+err.Error()); nerr != nil {
			logger.Warn("failed to notify operators", "error", nerr)
		}
		reply = Apology
		if s.handler.Privileged(frame.Sender) {
			reply += "\n" + err.Error()
		}
	}

	s.write(conn, logger, reply)
}

// readFrame collects one frame, which may arrive in several segments. Reading
// stops at EOF, when maxFrame bytes are buffered, or once the sender goes
// quiet for frameIdleGap after its first bytes.
func (s *FrameServer) readFrame(conn net.Conn) ([]byte, error) {
	var deadline time.Time
	if s.readTimeout > 0 {
		deadline = time.Now().Add(s.readTimeout)
		_ = conn.SetReadDeadline(deadline)
	}

	buf := make([]byte, s.maxFrame)
	n := 0
	for n < len(buf) {
		if n > 0 {
			idle := time.Now().Add(frameIdleGap)
			if !deadline.IsZero() && deadline.Before(idle) {
				idle = deadline
			}
			_ = conn.SetReadDeadline(idle)
		}
		m, err := conn.Read(buf[n:])
		n += m
		if err != nil {
			var ne net.Error
			if n > 0 && (errors.Is(err, io.EOF) || (errors.As(err, &ne) && ne.Timeout())) {
				return buf[:n], nil
			}
			return buf[:n], err
		}
	}
	return buf, nil
}

// runTurn calls the handler, converting a panic into an error.
func (s *FrameServer) runTurn(ctx context.Context, frame wire.Frame) (reply string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic handling turn: %v", r)
		}
	}()
	return s.handler.HandleTurn(ctx, frame.Sender, frame.Text)
}

func (s *FrameServer) write(conn net.Conn, logger *slog.Logger, reply string) {
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if _, err := conn.Write([]byte(reply)); err != nil {
		logger.Warn("failed to write reply", "error", err)
	}
}
