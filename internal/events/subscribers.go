package events

import (
	"context"
	"fmt"

	"habitloop/internal/notify"
)

// AuditStore is the persistence the activity audit subscriber needs.
type AuditStore interface {
	AppendAudit(ctx context.Context, userID, event, detail string) error
}

// AuditRecorder returns a handler that writes every event it sees to
// the activity audit trail.
func AuditRecorder(st AuditStore) HandlerFunc {
	return func(ctx context.Context, ev Event) error {
		detail := ""
		if len(ev.Fields) > 0 {
			detail = fmt.Sprintf("%v", ev.Fields)
		}
		return st.AppendAudit(ctx, ev.UserID, ev.Type, detail)
	}
}

// AchievementToast returns a handler that surfaces a freshly unlocked
// achievement to the user through the notification collaborator.
func AchievementToast(n notify.Notifier) HandlerFunc {
	return func(ctx context.Context, ev Event) error {
		code, _ := ev.Fields["code"].(string)
		return n.Deliver(ctx, ev.UserID, fmt.Sprintf("Achievement unlocked: %s", code))
	}
}
