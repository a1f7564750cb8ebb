package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"healthbridge/internal/alerts"
	"healthbridge/internal/config"
	"healthbridge/internal/cooldown"
	"healthbridge/internal/dispatch"
	"healthbridge/internal/ingest"
	"healthbridge/internal/logging"
	"healthbridge/internal/metrics"
	"healthbridge/internal/model"
	"healthbridge/internal/notify"
	"healthbridge/internal/storage"
)

type recordingDispatcher struct {
	mu   sync.Mutex
	reqs []dispatch.Request
	err  error
}

func (r *recordingDispatcher) Dispatch(_ context.Context, req dispatch.Request) (dispatch.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
	if r.err != nil {
		return dispatch.Result{}, r.err
	}
	return dispatch.Result{Alert: model.EmergencyAlert{ID: "e1", UserID: req.UserID, Level: req.Level}}, nil
}

func (r *recordingDispatcher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reqs)
}

type failingCooldown struct{}

func (failingCooldown) Last(context.Context, string) (time.Time, bool, error) {
	return time.Time{}, false, errors.New("redis down")
}
func (failingCooldown) Mark(context.Context, string, time.Time) error { return errors.New("redis down") }

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Monitoring.DedupeWindow = 0
	cfg.Monitoring.DefaultCooldown = 15 * time.Minute
	return cfg
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newServiceForTest(t *testing.T, cfg *config.Config, d Dispatcher, gate *cooldown.Gate) (*Service, *storage.Memory, *clock) {
	t.Helper()
	store := storage.NewMemory(100, alerts.NewStore(10))
	svc, err := NewService(cfg, logging.Discard(), store, d, gate, nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	c := &clock{t: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
	svc.now = c.now
	if err := store.PutProfile(context.Background(), model.Profile{UserID: "u1", PhoneNumber: "+15550001"}); err != nil {
		t.Fatalf("profile: %v", err)
	}
	return svc, store, c
}

func heart(c *clock, v float64) ingest.DeviceReading {
	return ingest.DeviceReading{
		UserID:  "u1",
		Source:  "test",
		Reading: model.VitalReading{Type: model.HeartRate, Value: model.Scalar(v), Timestamp: c.t},
	}
}

func TestNormalReadingRecordedWithoutAlert(t *testing.T) {
	d := &recordingDispatcher{}
	svc, store, c := newServiceForTest(t, testConfig(), d, nil)

	out, err := svc.RecordReading(context.Background(), heart(c, 72))
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if out.Evaluation.Exceeded || out.AlertSent {
		t.Fatalf("unexpected breach: %+v", out)
	}
	if out.Reading.Unit != "bpm" {
		t.Fatalf("default unit not applied: %q", out.Reading.Unit)
	}
	recent, _ := store.RecentReadings(context.Background(), "u1", model.HeartRate, 10)
	if len(recent) != 1 {
		t.Fatalf("reading not stored: %d", len(recent))
	}
	if d.count() != 0 || svc.Processed() != 1 {
		t.Fatalf("dispatches %d processed %d", d.count(), svc.Processed())
	}
}

func TestCriticalBreachDispatches(t *testing.T) {
	d := &recordingDispatcher{}
	svc, _, c := newServiceForTest(t, testConfig(), d, nil)

	out, err := svc.RecordReading(context.Background(), heart(c, 150))
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if !out.AlertSent || out.Alert == nil || out.Evaluation.Severity != model.SeverityCritical {
		t.Fatalf("expected dispatched critical: %+v", out)
	}
	req := d.reqs[0]
	if req.Level != model.LevelCritical || req.TriggerMethod != model.TriggerDevice || req.PhoneNumber != "+15550001" {
		t.Fatalf("unexpected request: %+v", req)
	}
	if req.Message != out.Evaluation.Message {
		t.Fatalf("message %q want %q", req.Message, out.Evaluation.Message)
	}
}

func TestWarningBreachDispatchesModerate(t *testing.T) {
	d := &recordingDispatcher{}
	svc, _, c := newServiceForTest(t, testConfig(), d, nil)
	ctx := context.Background()
	for _, v := range []float64{70, 72, 71} {
		if _, err := svc.RecordReading(ctx, heart(c, v)); err != nil {
			t.Fatalf("record: %v", err)
		}
		c.t = c.t.Add(time.Minute)
	}
	out, err := svc.RecordReading(ctx, heart(c, 100))
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if out.Evaluation.Severity != model.SeverityWarning || !out.AlertSent {
		t.Fatalf("expected warning dispatch: %+v", out)
	}
	if d.reqs[0].Level != model.LevelModerate {
		t.Fatalf("level %s", d.reqs[0].Level)
	}
}

func TestCooldownSuppressesRepeatBreach(t *testing.T) {
	d := &recordingDispatcher{}
	svc, _, c := newServiceForTest(t, testConfig(), d, nil)
	ctx := context.Background()

	if out, _ := svc.RecordReading(ctx, heart(c, 150)); !out.AlertSent {
		t.Fatalf("first breach should dispatch")
	}
	c.t = c.t.Add(5 * time.Minute)
	out, err := svc.RecordReading(ctx, heart(c, 155))
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if out.AlertSent || !out.Suppressed || !out.Evaluation.Exceeded {
		t.Fatalf("breach inside cooldown must be suppressed: %+v", out)
	}
	c.t = c.t.Add(11 * time.Minute)
	if out, _ := svc.RecordReading(ctx, heart(c, 152)); !out.AlertSent {
		t.Fatalf("breach after cooldown should dispatch: %+v", out)
	}
	if d.count() != 2 {
		t.Fatalf("dispatches: %d", d.count())
	}
}

func TestProfileCooldownOverridesDefault(t *testing.T) {
	d := &recordingDispatcher{}
	svc, store, c := newServiceForTest(t, testConfig(), d, nil)
	ctx := context.Background()
	_ = store.PutProfile(ctx, model.Profile{UserID: "u1", PhoneNumber: "+15550001", NotificationCooldown: 2 * time.Minute})

	svc.RecordReading(ctx, heart(c, 150))
	c.t = c.t.Add(3 * time.Minute)
	if out, _ := svc.RecordReading(ctx, heart(c, 150)); !out.AlertSent {
		t.Fatalf("profile cooldown of 2m should have elapsed: %+v", out)
	}
}

func TestFailedDispatchDoesNotStartCooldown(t *testing.T) {
	d := &recordingDispatcher{err: errors.New("channels down")}
	svc, _, c := newServiceForTest(t, testConfig(), d, nil)
	ctx := context.Background()

	out, err := svc.RecordReading(ctx, heart(c, 150))
	if err != nil {
		t.Fatalf("dispatch failure must not fail the reading: %v", err)
	}
	if out.AlertSent {
		t.Fatalf("alert should not be marked sent")
	}
	d.err = nil
	c.t = c.t.Add(time.Minute)
	if out, _ := svc.RecordReading(ctx, heart(c, 150)); !out.AlertSent {
		t.Fatalf("retry should dispatch: %+v", out)
	}
}

func TestCooldownErrorFailsOpen(t *testing.T) {
	d := &recordingDispatcher{}
	svc, _, c := newServiceForTest(t, testConfig(), d, cooldown.NewGate(failingCooldown{}))

	out, err := svc.RecordReading(context.Background(), heart(c, 150))
	if err != nil || !out.AlertSent {
		t.Fatalf("expected dispatch despite cooldown error: %+v %v", out, err)
	}
}

func TestNoProfileSkipsDispatch(t *testing.T) {
	d := &recordingDispatcher{}
	svc, _, c := newServiceForTest(t, testConfig(), d, nil)
	dr := heart(c, 150)
	dr.UserID = "stranger"

	out, err := svc.RecordReading(context.Background(), dr)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if !out.Evaluation.Exceeded || out.AlertSent || d.count() != 0 {
		t.Fatalf("unexpected: %+v dispatches=%d", out, d.count())
	}
}

func TestDuplicateReadingDropped(t *testing.T) {
	cfg := testConfig()
	cfg.Monitoring.DedupeWindow = 2 * time.Second
	d := &recordingDispatcher{}
	svc, store, c := newServiceForTest(t, cfg, d, nil)
	ctx := context.Background()

	dr := heart(c, 72)
	if out, _ := svc.RecordReading(ctx, dr); out.Duplicate {
		t.Fatalf("first reading flagged duplicate")
	}
	out, err := svc.RecordReading(ctx, dr)
	if err != nil || !out.Duplicate {
		t.Fatalf("expected duplicate: %+v %v", out, err)
	}
	recent, _ := store.RecentReadings(ctx, "u1", model.HeartRate, 10)
	if len(recent) != 1 {
		t.Fatalf("duplicate stored: %d", len(recent))
	}
}

func TestInvalidReadingRejected(t *testing.T) {
	svc, _, c := newServiceForTest(t, testConfig(), nil, nil)
	ctx := context.Background()

	dr := heart(c, 72)
	dr.UserID = " "
	if _, err := svc.RecordReading(ctx, dr); !model.IsValidation(err) {
		t.Fatalf("expected validation error for user, got %v", err)
	}
	dr = heart(c, 72)
	dr.Reading.Value = model.Pressure(120, 80)
	if _, err := svc.RecordReading(ctx, dr); !model.IsValidation(err) {
		t.Fatalf("expected validation error for shape, got %v", err)
	}
}

func TestStoredThresholdsOverrideDefaults(t *testing.T) {
	d := &recordingDispatcher{}
	svc, store, c := newServiceForTest(t, testConfig(), d, nil)
	ctx := context.Background()
	limit := model.Scalar(90)
	_ = store.PutThresholds(ctx, "u1", []model.Threshold{{Type: model.HeartRate, Max: &limit}})

	out, _ := svc.RecordReading(ctx, heart(c, 95))
	if !out.Evaluation.Exceeded {
		t.Fatalf("user max of 90 should trip: %+v", out)
	}
	th, err := svc.Thresholds(ctx, "u1")
	if err != nil {
		t.Fatalf("thresholds: %v", err)
	}
	if len(th) != len(svc.DefaultThresholds()) {
		t.Fatalf("merged set should keep defaults for other types: %d", len(th))
	}
}

func TestUpdateConfigRejectsBadThresholds(t *testing.T) {
	svc, _, _ := newServiceForTest(t, testConfig(), nil, nil)
	before := svc.DefaultThresholds()

	cfg := testConfig()
	cfg.Monitoring.DefaultThresholds = []config.ThresholdConfig{{Type: "nonsense", Max: "1"}}
	if err := svc.UpdateConfig(cfg); err == nil {
		t.Fatalf("expected error")
	}
	if len(svc.DefaultThresholds()) != len(before) {
		t.Fatalf("defaults changed after rejected update")
	}
}

func TestStartConsumesChannel(t *testing.T) {
	store := storage.NewMemory(100, alerts.NewStore(10))
	_ = store.PutProfile(context.Background(), model.Profile{UserID: "u1", PhoneNumber: "+15550001"})
	ch := &countingChannel{}
	disp := dispatch.NewDispatcher(config.DispatchConfig{}, logging.Discard(), store, store, nil, ch)
	rec := metrics.NewRecorder()
	svc, err := NewService(testConfig(), logging.Discard(), store, disp, nil, rec)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	in := make(chan ingest.DeviceReading, 1)
	svc.Start(ctx, in)
	in <- ingest.DeviceReading{
		UserID:  "u1",
		Reading: model.VitalReading{Type: model.OxygenLevel, Value: model.Scalar(85), Timestamp: time.Now()},
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		list, _ := store.ListEmergencies(context.Background(), "u1", 0)
		if len(list) == 1 {
			if list[0].TriggerMethod != model.TriggerDevice || len(list[0].VitalSigns) != 1 {
				t.Fatalf("unexpected alert: %+v", list[0])
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("emergency was not recorded")
}

func TestStartStopsWhenInputCloses(t *testing.T) {
	d := &recordingDispatcher{}
	svc, _, _ := newServiceForTest(t, testConfig(), d, nil)
	in := make(chan ingest.DeviceReading)
	done := svc.Start(context.Background(), in)
	close(in)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("consumer kept running after its input closed")
	}
	if svc.Processed() != 0 {
		t.Fatalf("closed channel must not yield readings: %d", svc.Processed())
	}
}

type countingChannel struct{}

func (countingChannel) Name() string { return "count" }
func (countingChannel) Deliver(context.Context, notify.Notification) model.ChannelResult {
	return model.ChannelResult{Channel: "count", Status: model.ChannelDelivered}
}
