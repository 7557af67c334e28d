package dispatch

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// Channel is a notification delivery channel. Severity determines how
// many of these an event fans out across, not just the message content.
type Channel string

const (
	ChannelPush  Channel = "push"
	ChannelSMS   Channel = "sms"
	ChannelVoice Channel = "voice"
	ChannelEmail Channel = "email"
)

// Transport is the capability required from the notification provider
// layer. Concrete push/SMS/voice integrations live outside this module.
type Transport interface {
	Send(ctx context.Context, channel Channel, recipient, message string) error
}

// LogTransport writes sends to the log instead of a provider. Default
// wiring until a real transport is configured.
type LogTransport struct {
	Logger zerolog.Logger
}

func (t *LogTransport) Send(_ context.Context, channel Channel, recipient, message string) error {
	t.Logger.Info().
		Str("channel", string(channel)).
		Str("recipient", recipient).
		Str("message", message).
		Msg("notification send")
	return nil
}

// SendCall records a single call to a MockTransport.
type SendCall struct {
	Channel   Channel
	Recipient string
	Message   string
}

// MockTransport is a test double for Transport. FailChannels lets a test
// fail specific channels while others succeed.
type MockTransport struct {
	mu           sync.Mutex
	calls        []SendCall
	FailAll      bool
	FailChannels map[Channel]bool
}

func (m *MockTransport) Send(_ context.Context, channel Channel, recipient, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, SendCall{Channel: channel, Recipient: recipient, Message: message})
	if m.FailAll || m.FailChannels[channel] {
		return errors.New("transport unavailable")
	}
	return nil
}

// Calls returns a copy of recorded sends.
func (m *MockTransport) Calls() []SendCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SendCall, len(m.calls))
	copy(out, m.calls)
	return out
}
