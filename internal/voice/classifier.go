package voice

import (
	"strings"

	"healthbridge/internal/model"
)

type Classification struct {
	Recognized bool             `json:"recognized"`
	Level      model.AlertLevel `json:"level,omitempty"`
	Keywords   []string         `json:"keywords,omitempty"`
	Command    string           `json:"command"`
}

type tier struct {
	level    model.AlertLevel
	keywords []string
}

// Checked in order; the first tier with any match wins.
var tiers = []tier{
	{
		level:    model.LevelCritical,
		keywords: []string{"emergency", "help me", "urgent", "critical", "ambulance", "heart attack", "stroke", "can't breathe"},
	},
	{
		level:    model.LevelUrgent,
		keywords: []string{"need help", "pain", "injured", "fell", "accident", "hurt"},
	},
	{
		level:    model.LevelModerate,
		keywords: []string{"assistance", "dizzy", "not feeling well", "sick"},
	},
}

func Classify(command string) Classification {
	text := normalize(command)
	out := Classification{Command: command}
	if text == "" {
		return out
	}
	for _, t := range tiers {
		var matched []string
		for _, kw := range t.keywords {
			if strings.Contains(text, kw) {
				matched = append(matched, kw)
			}
		}
		if len(matched) > 0 {
			out.Recognized = true
			out.Level = t.level
			out.Keywords = matched
			return out
		}
	}
	return out
}

func Keywords() map[model.AlertLevel][]string {
	out := make(map[model.AlertLevel][]string, len(tiers))
	for _, t := range tiers {
		out[t.level] = append([]string(nil), t.keywords...)
	}
	return out
}

// normalize lowercases and folds typographic apostrophes so "can’t breathe"
// matches the "can't breathe" keyword.
func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer("’", "'", "‘", "'").Replace(s)
}
