package intent

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"reminder-assistant/internal/clock"
	"reminder-assistant/internal/models"
)

//go:embed schema.json
var schemaDoc string

const schemaURL = "https://reminder-assistant/schemas/intent.json"

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func intentSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(schemaURL, strings.NewReader(schemaDoc)); err != nil {
			schemaErr = fmt.Errorf("intent schema load failed: %w", err)
			return
		}
		compiledSchema, schemaErr = c.Compile(schemaURL)
		if schemaErr != nil {
			schemaErr = fmt.Errorf("intent schema compile failed: %w", schemaErr)
		}
	})
	return compiledSchema, schemaErr
}

// Intent is the validated internal form of one inbound request.
type Intent struct {
	Kind             Kind
	Title            string
	Description      string
	ScheduledAt      *time.Time
	FollowUp         *time.Duration
	CallIfNoResponse *bool
	Target           Target
	// ResponseMessage is the language service's own reply, used for unknown intents.
	ResponseMessage string
}

// Target names existing reminders by keyword or by 1-based list position.
type Target struct {
	Keyword   string
	Positions []int
}

// Empty reports whether no reference was given.
func (t Target) Empty() bool {
	return t.Keyword == "" && len(t.Positions) == 0
}

func (t Target) String() string {
	if len(t.Positions) > 0 {
		parts := make([]string, len(t.Positions))
		for i, p := range t.Positions {
			parts[i] = fmt.Sprintf("#%d", p)
		}
		return strings.Join(parts, ", ")
	}
	return t.Keyword
}

type wireIntent struct {
	Intent           string    `json:"intent"`
	Title            *string   `json:"title"`
	Description      *string   `json:"description"`
	ScheduledTime    *string   `json:"scheduled_time"`
	FollowUpMinutes  *float64  `json:"follow_up_minutes"`
	CallIfNoResponse *bool     `json:"call_if_no_response"`
	TargetReminder   *string   `json:"target_reminder"`
	TargetPositions  []float64 `json:"target_positions"`
	ResponseMessage  *string   `json:"response_message"`
}

// strictLayouts are tried before natural-language resolution. Layouts without an offset
// are read in the local zone.
var strictLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
}

// Decode validates raw against the intent schema and coerces it into an Intent. Structural
// problems wrap ErrMalformed; field values the user can fix come back as *Rejection, with
// the returned Intent still carrying the parsed Kind.
func Decode(raw []byte, c clock.Clock) (Intent, error) {
	schema, err := intentSchema()
	if err != nil {
		return Intent{}, err
	}
	var doc any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return Intent{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := schema.Validate(doc); err != nil {
		return Intent{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	var w wireIntent
	if err := json.Unmarshal(raw, &w); err != nil {
		return Intent{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	in := Intent{
		Kind:             ParseKind(w.Intent),
		Title:            trimmed(w.Title),
		Description:      trimmed(w.Description),
		CallIfNoResponse: w.CallIfNoResponse,
		Target:           Target{Keyword: trimmed(w.TargetReminder)},
		ResponseMessage:  trimmed(w.ResponseMessage),
	}
	for _, p := range w.TargetPositions {
		if p < 1 {
			return Intent{Kind: in.Kind}, Rejectf("Reminder numbers start at 1. Say 'list my reminders' to see them numbered.")
		}
		in.Target.Positions = append(in.Target.Positions, int(p))
	}

	if w.FollowUpMinutes != nil {
		d := time.Duration(*w.FollowUpMinutes) * time.Minute
		if d < models.MinFollowUp || d > models.MaxFollowUp {
			return Intent{Kind: in.Kind}, Rejectf("Follow-up delay must be between %d and %d minutes.",
				int(models.MinFollowUp/time.Minute), int(models.MaxFollowUp/time.Minute))
		}
		in.FollowUp = &d
	}

	if s := trimmed(w.ScheduledTime); s != "" {
		t, err := ParseTime(s, c.Now())
		if err != nil {
			return Intent{Kind: in.Kind}, err
		}
		in.ScheduledAt = &t
	}
	return in, nil
}

// ParseTime reads s as a strict timestamp first and as a natural-language phrase second.
func ParseTime(s string, now time.Time) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	for _, layout := range strictLayouts {
		if t, err := time.ParseInLocation(layout, s, now.Location()); err == nil {
			return t, nil
		}
	}
	t, err := clock.Resolve(s, now)
	if err != nil {
		return time.Time{}, &Rejection{
			Message: fmt.Sprintf("I couldn't understand the time '%s'. Try something like 'tomorrow at 9am' or 'in 30 minutes'.", s),
			Err:     fmt.Errorf("%w: %v", ErrTimeNotUnderstood, err),
		}
	}
	return t, nil
}

func trimmed(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}
