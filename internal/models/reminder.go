package models

import (
	"strings"
	"time"
)

// ReminderStatus enumerates lifecycle states persisted in the reminder store.
type ReminderStatus string

const (
	StatusActive    ReminderStatus = "active"
	StatusPaused    ReminderStatus = "paused"
	StatusCompleted ReminderStatus = "completed"
)

// Field bounds enforced on create and update.
const (
	MaxTitleLength       = 255
	MaxDescriptionLength = 1000
	MinFollowUp          = time.Minute
	MaxFollowUp          = 60 * time.Minute
)

// Reminder is the central entity owned by the lifecycle manager.
type Reminder struct {
	ID               string         `json:"id"`
	Title            string         `json:"title"`
	Description      string         `json:"description,omitempty"`
	ScheduledAt      time.Time      `json:"scheduled_at"`
	FollowUp         time.Duration  `json:"follow_up,omitempty"`
	CallIfNoResponse bool           `json:"call_if_no_response"`
	CallOptOut       bool           `json:"call_opt_out"`
	Status           ReminderStatus `json:"status"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	LastNotifiedAt   *time.Time     `json:"last_notified_at,omitempty"`
	UserResponded    bool           `json:"user_responded"`
}

// IsOpen reports whether the reminder is listed and addressable by intents.
func (r Reminder) IsOpen() bool {
	return r.Status == StatusActive || r.Status == StatusPaused
}

// EscalationEligible reports whether a missed notification may end in a call.
func (r Reminder) EscalationEligible() bool {
	return r.FollowUp > 0 && r.CallIfNoResponse && !r.CallOptOut
}

// NotifiedFor reports whether the notification for the current schedule already went out.
func (r Reminder) NotifiedFor(scheduledAt time.Time) bool {
	return r.LastNotifiedAt != nil && !r.LastNotifiedAt.Before(scheduledAt)
}

// SameTitle compares titles the way the duplicate guard does.
func SameTitle(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// ProcessedMessage records an inbound message id that already produced a mutation.
type ProcessedMessage struct {
	MessageID   string    `json:"message_id"`
	ProcessedAt time.Time `json:"processed_at"`
}
