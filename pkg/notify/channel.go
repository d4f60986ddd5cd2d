package notify

import (
	"context"
	"errors"

	"github.com/smith3v/family-reminders/pkg/db"
	"github.com/smith3v/family-reminders/pkg/logger"
	"github.com/smith3v/family-reminders/pkg/ui"
)

// ErrNoDelivery is returned by job handlers when every channel attempt for
// the job failed, so the queue retries it.
var ErrNoDelivery = errors.New("no channel accepted the notification")

// Channel is an outbound delivery mechanism such as a chat bot or email.
type Channel interface {
	Name() string
	// Registered reports whether the user can be reached on this channel.
	Registered(profile db.UserProfile) bool
	// Send delivers one rendered message and returns the channel's delivery id.
	Send(ctx context.Context, profile db.UserProfile, msg ui.Message) (string, error)
}

type deliveryResult struct {
	attempted int
	delivered int
}

func (r *deliveryResult) add(other deliveryResult) {
	r.attempted += other.attempted
	r.delivered += other.delivered
}

func (r deliveryResult) allFailed() bool {
	return r.attempted > 0 && r.delivered == 0
}

// deliver sends msg on every channel the user registered. A failing channel
// is logged and does not stop the others.
func deliver(ctx context.Context, channels []Channel, profile db.UserProfile, msg ui.Message) deliveryResult {
	var res deliveryResult
	for _, ch := range channels {
		if !ch.Registered(profile) {
			continue
		}
		res.attempted++
		deliveryID, err := ch.Send(ctx, profile, msg)
		if err != nil {
			logger.Warn("channel delivery failed", "channel", ch.Name(), "user_id", profile.UserID, "error", err)
			continue
		}
		res.delivered++
		logger.Debug("notification delivered", "channel", ch.Name(), "user_id", profile.UserID, "delivery_id", deliveryID)
	}
	if res.attempted == 0 {
		logger.Info("user has no registered channels", "user_id", profile.UserID)
	}
	return res
}
