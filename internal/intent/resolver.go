package intent

import (
	"strings"

	"reminder-assistant/internal/models"
)

// stopwords never count toward a token-overlap match.
var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "my": true, "to": true, "for": true,
	"reminder": true, "reminders": true, "one": true,
}

// Resolve maps a target onto open reminders. open must be in list order (ascending
// scheduled time). presented is the id order last shown to the user; when empty, the
// current list order is used for positions.
func Resolve(target Target, presented []string, open []models.Reminder) ([]models.Reminder, error) {
	switch {
	case len(target.Positions) > 0:
		return resolvePositions(target.Positions, presented, open)
	case target.Keyword != "":
		r, err := resolveKeyword(target.Keyword, open)
		if err != nil {
			return nil, err
		}
		return []models.Reminder{r}, nil
	}
	return nil, Rejectf("Which reminder do you mean? Please mention its name or number.")
}

func resolvePositions(positions []int, presented []string, open []models.Reminder) ([]models.Reminder, error) {
	byID := make(map[string]models.Reminder, len(open))
	for _, r := range open {
		byID[r.ID] = r
	}
	if len(presented) == 0 {
		presented = make([]string, len(open))
		for i, r := range open {
			presented[i] = r.ID
		}
	}
	for _, p := range positions {
		if p < 1 || p > len(presented) {
			return nil, Rejectf("There is no reminder #%d; your list has %d %s. Say 'list my reminders' to see them.",
				p, len(presented), pluralize(len(presented), "reminder"))
		}
	}

	seen := make(map[int]bool, len(positions))
	out := make([]models.Reminder, 0, len(positions))
	for _, p := range positions {
		if seen[p] {
			continue
		}
		seen[p] = true
		r, ok := byID[presented[p-1]]
		if !ok {
			return nil, Rejectf("Reminder #%d is no longer in your list. Say 'list my reminders' to refresh it.", p)
		}
		out = append(out, r)
	}
	return out, nil
}

func resolveKeyword(keyword string, open []models.Reminder) (models.Reminder, error) {
	kw := strings.ToLower(strings.TrimSpace(keyword))

	var best *models.Reminder
	for i := range open {
		if !strings.Contains(strings.ToLower(open[i].Title), kw) {
			continue
		}
		if best == nil || open[i].CreatedAt.After(best.CreatedAt) {
			best = &open[i]
		}
	}
	if best != nil {
		return *best, nil
	}

	kwTokens := tokens(kw)
	for _, r := range open {
		for _, tt := range tokens(strings.ToLower(r.Title)) {
			for _, kt := range kwTokens {
				if strings.Contains(tt, kt) || strings.Contains(kt, tt) {
					return r, nil
				}
			}
		}
	}
	return models.Reminder{}, Rejectf("I couldn't find a reminder matching '%s'. Try 'list my reminders' to see your active reminders.", keyword)
}

func tokens(s string) []string {
	var out []string
	for _, f := range strings.Fields(s) {
		f = strings.Trim(f, ".,!?'\"()")
		if f != "" && !stopwords[f] {
			out = append(out, f)
		}
	}
	return out
}

func pluralize(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}
