package alerts

import (
	"context"
	"errors"
	"testing"
	"time"

	"healthbridge/internal/model"
)

func seed(t *testing.T, s *Store, base time.Time, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		user := "u1"
		if i%2 == 1 {
			user = "u2"
		}
		err := s.AddAlert(context.Background(), model.HealthAlert{
			ID:          "a" + string(rune('0'+i)),
			UserID:      user,
			PhoneNumber: "+1555000" + user,
			Level:       model.LevelUrgent,
			Timestamp:   base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("add: %v", err)
		}
	}
}

func TestListNewestFirstAndFilter(t *testing.T) {
	s := NewStore(100)
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	seed(t, s, base, 5)

	all, _ := s.ListAlerts(context.Background(), model.AlertFilter{})
	if len(all) != 5 || all[0].ID != "a4" || all[4].ID != "a0" {
		t.Fatalf("unexpected order: %v", ids(all))
	}
	u2, _ := s.ListAlerts(context.Background(), model.AlertFilter{UserID: "u2"})
	if len(u2) != 2 || u2[0].ID != "a3" {
		t.Fatalf("user filter: %v", ids(u2))
	}
	byPhone, _ := s.ListAlerts(context.Background(), model.AlertFilter{PhoneNumber: "+1555000u1"})
	if len(byPhone) != 3 {
		t.Fatalf("phone filter: %v", ids(byPhone))
	}
	limited, _ := s.ListAlerts(context.Background(), model.AlertFilter{Limit: 2})
	if len(limited) != 2 || limited[0].ID != "a4" {
		t.Fatalf("limit: %v", ids(limited))
	}
}

func TestLimitAppliesAfterTimestampOrder(t *testing.T) {
	s := NewStore(10)
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	ctx := context.Background()
	// Concurrent dispatches may append the newer alert first.
	_ = s.AddAlert(ctx, model.HealthAlert{ID: "newer", Timestamp: base.Add(time.Minute)})
	_ = s.AddAlert(ctx, model.HealthAlert{ID: "older", Timestamp: base})

	got, _ := s.ListAlerts(ctx, model.AlertFilter{Limit: 1})
	if len(got) != 1 || got[0].ID != "newer" {
		t.Fatalf("limit must keep the newest by timestamp: %v", ids(got))
	}
}

func TestEvictsOldest(t *testing.T) {
	s := NewStore(3)
	seed(t, s, time.Now(), 5)
	if s.Len() != 3 {
		t.Fatalf("len: %d", s.Len())
	}
	all, _ := s.ListAlerts(context.Background(), model.AlertFilter{})
	if all[len(all)-1].ID != "a2" {
		t.Fatalf("oldest should be evicted: %v", ids(all))
	}
}

func TestAcknowledgeIdempotent(t *testing.T) {
	s := NewStore(10)
	seed(t, s, time.Now(), 2)
	first := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	a, err := s.AcknowledgeAlert(context.Background(), "a1", true, first)
	if err != nil || !a.Acknowledged || a.AcknowledgedAt == nil {
		t.Fatalf("ack: %+v %v", a, err)
	}
	a, err = s.AcknowledgeAlert(context.Background(), "a1", true, first.Add(time.Hour))
	if err != nil || !a.Acknowledged {
		t.Fatalf("second ack: %+v %v", a, err)
	}
	if !a.AcknowledgedAt.Equal(first) {
		t.Fatalf("repeat ack must keep the first timestamp: %s", a.AcknowledgedAt)
	}
	a, err = s.AcknowledgeAlert(context.Background(), "a1", false, first)
	if err != nil || a.Acknowledged || a.AcknowledgedAt != nil {
		t.Fatalf("unack: %+v %v", a, err)
	}
}

func TestAcknowledgeUnknown(t *testing.T) {
	s := NewStore(10)
	seed(t, s, time.Now(), 2)
	before, _ := s.ListAlerts(context.Background(), model.AlertFilter{})
	if _, err := s.AcknowledgeAlert(context.Background(), "missing", true, time.Now()); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	after, _ := s.ListAlerts(context.Background(), model.AlertFilter{})
	if len(before) != len(after) {
		t.Fatalf("alert list changed")
	}
	for i := range after {
		if after[i].Acknowledged {
			t.Fatalf("alert %s unexpectedly acknowledged", after[i].ID)
		}
	}
}

func TestSince(t *testing.T) {
	s := NewStore(10)
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	seed(t, s, base, 4)
	if got := s.Since(base.Add(2 * time.Minute)); len(got) != 2 {
		t.Fatalf("since: %v", ids(got))
	}
}

func ids(list []model.HealthAlert) []string {
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, a.ID)
	}
	return out
}
