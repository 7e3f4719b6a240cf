// Package notify defines the outbound delivery contract for possession
// factors. Real SMS/email providers live outside this service; adapters talk
// to this interface only.
package notify

import (
	"context"
	"log/slog"
)

// Channel selects the delivery medium.
type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
)

// Message is one outbound delivery: a one-time code headed to a target.
type Message struct {
	Channel Channel
	Target  string // phone number or email address
	Code    string
}

// Dispatcher sends a message. Implementations must not retry internally;
// retry policy belongs to the caller's infrastructure.
type Dispatcher interface {
	Send(ctx context.Context, msg Message) error
}

// LogDispatcher is the dev/test dispatcher: it logs that a delivery would
// have happened, never the code itself.
type LogDispatcher struct {
	Logger *slog.Logger
}

func (d *LogDispatcher) Send(ctx context.Context, msg Message) error {
	d.Logger.Info("one-time code dispatched",
		"channel", string(msg.Channel),
		"target", MaskTarget(string(msg.Channel), msg.Target),
	)
	return nil
}

// MaskTarget hides most of a delivery target for display: "+61•••••321" or
// "a•••@example.com". Responses must never echo the full destination.
func MaskTarget(channel, target string) string {
	if target == "" {
		return ""
	}

	if channel == string(ChannelEmail) {
		at := -1
		for i, r := range target {
			if r == '@' {
				at = i
				break
			}
		}
		if at <= 1 {
			return "•••" + target[max(at, 0):]
		}
		return target[:1] + "•••" + target[at:]
	}

	// Phone-style targets keep the prefix and the last three digits.
	if len(target) <= 5 {
		return "•••"
	}
	return target[:2] + "•••••" + target[len(target)-3:]
}
