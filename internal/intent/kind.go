package intent

import "strings"

// Kind is the closed set of actions an inbound message can ask for.
type Kind int

const (
	KindUnknown Kind = iota
	KindCreate
	KindUpdate
	KindDelete
	KindPause
	KindResume
	KindList
	KindOptOutCalls
	KindOptInCalls
	KindAcknowledge
)

var kindLabels = map[Kind]string{
	KindUnknown:     "unknown",
	KindCreate:      "create_reminder",
	KindUpdate:      "update_reminder",
	KindDelete:      "delete_reminder",
	KindPause:       "pause_reminder",
	KindResume:      "resume_reminder",
	KindList:        "list_reminders",
	KindOptOutCalls: "opt_out_calls",
	KindOptInCalls:  "opt_in_calls",
	KindAcknowledge: "acknowledge",
}

// ParseKind maps a label from the language service onto a Kind. Unrecognized labels are KindUnknown.
func ParseKind(label string) Kind {
	label = strings.ToLower(strings.TrimSpace(label))
	for k, l := range kindLabels {
		if l == label {
			return k
		}
	}
	return KindUnknown
}

func (k Kind) String() string {
	if l, ok := kindLabels[k]; ok {
		return l
	}
	return "unknown"
}

// NeedsTarget reports whether the kind acts on specific existing reminders.
func (k Kind) NeedsTarget() bool {
	switch k {
	case KindUpdate, KindDelete, KindPause, KindResume:
		return true
	}
	return false
}
