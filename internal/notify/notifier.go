package notify

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"bookswap/internal/models"
)

// Payload keys used by the exchange core
const (
	KeyBook        = "book"
	KeyOtherBook   = "other_book"
	KeyCounterpart = "counterpart"
	KeyContact     = "contact"
	KeyAddress     = "address"
	KeyTrack       = "track"
	KeyComment     = "comment"
)

// Notifier delivers a lifecycle event to a member. Delivery is best effort:
// callers log failures and never roll back on them.
type Notifier interface {
	Notify(ctx context.Context, recipient models.Member, kind models.EventKind, payload map[string]string) error
}

// LogNotifier writes notifications to the log instead of delivering them
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a notifier for deployments without a delivery channel
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs the rendered message
func (n *LogNotifier) Notify(ctx context.Context, recipient models.Member, kind models.EventKind, payload map[string]string) error {
	n.logger.Info("Notification",
		zap.String("recipient_id", recipient.ID),
		zap.String("kind", string(kind)),
		zap.String("text", Render(kind, payload)),
	)
	return nil
}

// Render produces the message text for an event
func Render(kind models.EventKind, p map[string]string) string {
	var text string
	switch kind {
	case models.EventRequestCreated:
		text = fmt.Sprintf("%s would like to exchange for your book %s.", p[KeyCounterpart], p[KeyBook])
		if c := p[KeyComment]; c != "" {
			text += "\nComment: " + c
		}
	case models.EventRequestAccepted:
		text = fmt.Sprintf("%s accepted your request for %s and chose %s in return. Please send your book.",
			p[KeyCounterpart], p[KeyBook], p[KeyOtherBook])
	case models.EventRequestRejected:
		text = fmt.Sprintf("Your request for %s was declined.", p[KeyBook])
	case models.EventRequestRejectedCompeting:
		text = fmt.Sprintf("Your request for %s was declined: the owner accepted another member's request for this book.", p[KeyBook])
	case models.EventExchangeInProgress:
		text = fmt.Sprintf("Both books of your exchange with %s are on their way.", p[KeyCounterpart])
	case models.EventExchangeCompleted:
		text = fmt.Sprintf("Your exchange with %s is complete. %s is now in your library.", p[KeyCounterpart], p[KeyBook])
	case models.EventExchangeProblems:
		text = fmt.Sprintf("Your exchange with %s has not completed in time. Contact: %s. Address: %s.",
			p[KeyCounterpart], p[KeyContact], p[KeyAddress])
	case models.EventExchangeCancelled:
		text = fmt.Sprintf("Your exchange with %s was cancelled by an administrator.", p[KeyCounterpart])
	default:
		keys := make([]string, 0, len(p))
		for k := range p {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		b.WriteString(string(kind))
		for _, k := range keys {
			fmt.Fprintf(&b, "\n%s: %s", k, p[k])
		}
		text = b.String()
	}
	return text
}
