package voice

import (
	"testing"

	"healthbridge/internal/model"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		command    string
		recognized bool
		level      model.AlertLevel
	}{
		{"I need an ambulance, heart attack", true, model.LevelCritical},
		{"HELP ME please", true, model.LevelCritical},
		{"I can’t breathe", true, model.LevelCritical},
		{"I fell in the kitchen", true, model.LevelUrgent},
		{"chest pain", true, model.LevelUrgent},
		{"I feel dizzy", true, model.LevelModerate},
		{"not feeling well today", true, model.LevelModerate},
		{"banana", false, ""},
		{"", false, ""},
	}
	for _, tc := range cases {
		got := Classify(tc.command)
		if got.Recognized != tc.recognized || got.Level != tc.level {
			t.Fatalf("Classify(%q) = %+v", tc.command, got)
		}
	}
}

func TestClassifyReportsTierKeywords(t *testing.T) {
	got := Classify("I need an ambulance, heart attack")
	if len(got.Keywords) != 2 || got.Keywords[0] != "ambulance" || got.Keywords[1] != "heart attack" {
		t.Fatalf("keywords: %v", got.Keywords)
	}
}

func TestClassifyPrecedence(t *testing.T) {
	// "hurt" is urgent and "sick" moderate, but "emergency" is critical.
	got := Classify("I am sick and hurt, this is an emergency")
	if got.Level != model.LevelCritical {
		t.Fatalf("critical tier should win: %+v", got)
	}
	got = Classify("sick and hurt")
	if got.Level != model.LevelUrgent {
		t.Fatalf("urgent tier should win over moderate: %+v", got)
	}
}
