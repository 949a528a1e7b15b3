package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	pubnub "github.com/pubnub/go/v7"
)

const (
	EventPaymentApproved = "payment_approved"
	EventPaymentRejected = "payment_rejected"
	EventPaymentFailed   = "payment_failed"
	EventPaymentExpired  = "payment_expired"
)

// Notifier pushes best-effort lifecycle events to a user. Delivery failure
// never affects the payment state.
type Notifier interface {
	Notify(ctx context.Context, userID, event string, data map[string]any)
}

type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, string, string, map[string]any) {}

// PubNubNotifier publishes to the per-user channel user-<id>.
type PubNubNotifier struct {
	pn *pubnub.PubNub
}

func NewPubNubNotifier(publishKey, subscribeKey, secretKey, userID string) *PubNubNotifier {
	cfg := pubnub.NewConfigWithUserId(pubnub.UserId(userID))
	cfg.PublishKey = publishKey
	cfg.SubscribeKey = subscribeKey
	cfg.SecretKey = secretKey
	return &PubNubNotifier{pn: pubnub.NewPubNub(cfg)}
}

func (n *PubNubNotifier) Notify(ctx context.Context, userID, event string, data map[string]any) {
	channel := fmt.Sprintf("user-%s", userID)
	msg := map[string]any{
		"type":      event,
		"timestamp": time.Now().Unix(),
	}
	for k, v := range data {
		msg[k] = v
	}

	if _, _, err := n.pn.Publish().Channel(channel).Message(msg).Execute(); err != nil {
		slog.Warn("Failed to publish notification", "channel", channel, "event", event, "error", err)
	}
}
