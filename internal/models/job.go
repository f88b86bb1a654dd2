package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// JobKind distinguishes the two timers a reminder can own.
type JobKind string

const (
	JobNotify   JobKind = "notify"
	JobFollowUp JobKind = "follow_up"
)

// JobKinds lists every kind in cancellation order.
var JobKinds = []JobKind{JobNotify, JobFollowUp}

// JobKey derives the durable scheduler key for a reminder's job of the given kind.
func JobKey(kind JobKind, reminderID string) string {
	return string(kind) + ":" + reminderID
}

// ParseJobKey splits a key produced by JobKey.
func ParseJobKey(key string) (JobKind, string, error) {
	kind, id, ok := strings.Cut(key, ":")
	if !ok || id == "" {
		return "", "", fmt.Errorf("malformed job key %q", key)
	}
	switch JobKind(kind) {
	case JobNotify, JobFollowUp:
		return JobKind(kind), id, nil
	}
	return "", "", fmt.Errorf("unknown job kind in key %q", key)
}

// JobPayload is what the lifecycle manager stores with each scheduled job.
// DueAt pins the job to the reminder state that armed it so stale fires can be detected.
type JobPayload struct {
	ReminderID string    `json:"reminder_id"`
	Kind       JobKind   `json:"kind"`
	DueAt      time.Time `json:"due_at"`
}

// Encode marshals the payload for the scheduler.
func (p JobPayload) Encode() ([]byte, error) {
	return json.Marshal(p)
}

// DecodeJobPayload unmarshals a payload written by Encode.
func DecodeJobPayload(raw []byte) (JobPayload, error) {
	var p JobPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("decode job payload: %w", err)
	}
	if p.ReminderID == "" {
		return p, fmt.Errorf("job payload missing reminder_id")
	}
	return p, nil
}
