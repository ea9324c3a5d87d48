// ABOUTME: Wire codec for the one-exchange-per-connection frame protocol
// ABOUTME: A request frame is "<senderId>://<messageText>"; the reply is the raw payload until close

package wire

import (
	"errors"
	"strings"
)

// Separator divides sender from message. Only the first occurrence counts,
// so messages may themselves contain "://".
const Separator = "://"

// DefaultMaxFrame bounds a single read of a request frame.
const DefaultMaxFrame = 16 * 1024

// ErrMalformedFrame is returned for frames without a separator or sender.
var ErrMalformedFrame = errors.New("malformed frame")

// Frame is one decoded request.
type Frame struct {
	Sender string
	Text   string
}

// Decode parses a request frame.
func Decode(data []byte) (Frame, error) {
	sender, text, ok := strings.Cut(string(data), Separator)
	if !ok || sender == "" {
		return Frame{}, ErrMalformedFrame
	}
	return Frame{Sender: sender, Text: text}, nil
}

// Encode renders a request frame.
func Encode(sender, text string) []byte {
	return []byte(sender + Separator + text)
}
