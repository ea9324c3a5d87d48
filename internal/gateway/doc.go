// Package gateway runs the exo broker process.
//
// # Overview
//
// The Gateway owns every long-lived component: the session store, the
// broker, the generator backend, the chat log and the operator notifier. It
// serves three listeners:
//
//   - the frame listener, one "<sender>://<message>" exchange per TCP connection
//   - an HTTP server with /health and /health/ready
//   - a gRPC server exposing grpc.health.v1 for orchestrators
//
// With tailscale enabled the same listeners are opened on a tsnet node
// instead of the configured TCP addresses.
//
// # Frame Exchange
//
// The FrameServer reads a single bounded chunk from the connection. A chunk
// without the "://" separator is dropped and the connection closed without a
// reply. Otherwise the turn runs and its reply is written before the
// connection closes. A failing or panicking turn is reported to operators
// with an "ERROR: " prefix and the user receives Apology, with the error
// detail appended for sudoers and operators.
//
// # Lifecycle
//
//	gw, err := gateway.New(ctx, cfg, logger)
//	if err != nil { ... }
//	err = gw.Run(ctx) // returns after ctx is canceled and shutdown completes
//
// Shutdown stops accepting connections and waits for in-flight turns.
package gateway
