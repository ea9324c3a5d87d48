// ABOUTME: Chat log sink recording inbound messages and their outcomes while chat logging is on
// ABOUTME: Defines the Event ledger entry, the Sink interface and a no-op sink

package chatlog

import (
	"context"
	"time"
)

// Direction says whether an event came from a user or went back to one.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Kind categorizes an outcome.
type Kind string

const (
	KindMessage     Kind = "message"
	KindReply       Kind = "reply"
	KindBeam        Kind = "beam"
	KindIntercepted Kind = "intercepted"
	KindBlocked     Kind = "blocked"
	KindNoResponse  Kind = "no_response"
)

// Event is one chat log entry.
type Event struct {
	ID        string
	UserID    string
	Direction Direction
	Kind      Kind
	Speaker   string
	Text      string
	Timestamp time.Time
}

// Sink receives chat log events. Implementations must be safe for concurrent use.
type Sink interface {
	Record(ctx context.Context, event *Event) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

// Record implements Sink.
func (Nop) Record(context.Context, *Event) error { return nil }

// Close implements Sink.
func (Nop) Close() error { return nil }
