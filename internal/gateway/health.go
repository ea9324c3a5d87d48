// ABOUTME: HTTP liveness and readiness handlers for the broker
// ABOUTME: Readiness also verifies the chat log database when one is configured

package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

type pinger interface {
	Ping(ctx context.Context) error
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once the chat log (if any) answers a ping.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if p, ok := g.chatlog.(pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			g.logger.Warn("readiness check failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("chat log unavailable"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d sessions)", g.store.Len())
}
