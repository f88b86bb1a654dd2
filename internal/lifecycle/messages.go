package lifecycle

import (
	"fmt"
	"strings"
	"time"

	"reminder-assistant/internal/clock"
	"reminder-assistant/internal/intent"
	"reminder-assistant/internal/models"
)

const defaultUnknownReply = "I'm not sure what you'd like me to do. Try saying something like 'Remind me to...' or 'List my reminders'."

func (m *Manager) format(t time.Time) string {
	return clock.Format(t, m.clock.Location())
}

func (m *Manager) duplicateReply(r models.Reminder) string {
	return fmt.Sprintf("You already have a similar reminder: *%s* scheduled for %s.", r.Title, m.format(r.ScheduledAt))
}

func (m *Manager) createdReply(r models.Reminder) string {
	var b strings.Builder
	b.WriteString("✅ *Reminder created!*\n\n")
	fmt.Fprintf(&b, "📌 *%s*\n", r.Title)
	fmt.Fprintf(&b, "⏰ %s\n", m.format(r.ScheduledAt))
	fmt.Fprintf(&b, "📅 (%s)", clock.Describe(r.ScheduledAt, m.clock.Now()))
	if r.FollowUp > 0 {
		fmt.Fprintf(&b, "\n⏳ Follow-up: %d minutes after", int(r.FollowUp/time.Minute))
	}
	if r.EscalationEligible() {
		b.WriteString("\n📞 Will call if no response")
	}
	return b.String()
}

func (m *Manager) listReply(open []models.Reminder) string {
	if len(open) == 0 {
		return "📭 You don't have any active reminders.\n\nSay 'Remind me to...' to create one!"
	}
	now := m.clock.Now()
	var b strings.Builder
	fmt.Fprintf(&b, "📋 *Your Reminders* (%d)\n\n", len(open))
	for i, r := range open {
		icon := "✅"
		if r.Status == models.StatusPaused {
			icon = "⏸️"
		}
		call := ""
		if r.CallIfNoResponse && !r.CallOptOut {
			call = " 📞"
		}
		fmt.Fprintf(&b, "%d. %s *%s*%s\n", i+1, icon, r.Title, call)
		fmt.Fprintf(&b, "    ⏰ %s\n", m.format(r.ScheduledAt))
		if r.Status == models.StatusActive {
			fmt.Fprintf(&b, "    📅 %s\n", clock.Describe(r.ScheduledAt, now))
		}
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

func batchReply(verb string, titles []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %d reminders:", verb, len(titles))
	for _, t := range titles {
		fmt.Fprintf(&b, "\n• *%s*", t)
	}
	return b.String()
}

func joinNotes(reply string, notes []string) string {
	if len(notes) == 0 {
		return reply
	}
	return reply + "\n\n" + strings.Join(notes, "\n")
}

func unknownReply(in intent.Intent) string {
	if in.ResponseMessage != "" {
		return in.ResponseMessage
	}
	return defaultUnknownReply
}

func notificationText(r models.Reminder) string {
	text := "⏰ *Reminder*: " + r.Title
	if r.Description != "" {
		text += "\n\n" + r.Description
	}
	return text
}
