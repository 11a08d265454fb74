package reactivation

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abraan16/dr-sonrisa-backend/internal/interactions"
	"github.com/abraan16/dr-sonrisa-backend/internal/messaging"
	"github.com/abraan16/dr-sonrisa-backend/internal/notify"
	"github.com/abraan16/dr-sonrisa-backend/internal/observability/metrics"
	"github.com/abraan16/dr-sonrisa-backend/internal/patients"
)

type fakeStore struct {
	candidates map[int][]patients.Patient
	booked     map[uuid.UUID]bool
	advanced   []uuid.UUID
	listErr    error
}

func (f *fakeStore) ListReactivationCandidates(_ context.Context, attempt int, _ time.Time, limit int) ([]patients.Patient, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := f.candidates[attempt]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) HasAppointments(_ context.Context, id uuid.UUID) (bool, error) {
	return f.booked[id], nil
}

func (f *fakeStore) AdvanceFollowUp(_ context.Context, id uuid.UUID, maxCount int, _ time.Time) (int, patients.FollowUpStatus, error) {
	f.advanced = append(f.advanced, id)
	return 1, patients.FollowUpPending, nil
}

type fakeComposer struct {
	attempts []int
	err      error
}

func (f *fakeComposer) ComposeReactivation(_ context.Context, p *patients.Patient, attempt int) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.attempts = append(f.attempts, attempt)
	return "¿Sigues interesado? 🦷", nil
}

type fakeGateway struct {
	sent []string
	err  error
}

func (f *fakeGateway) Send(_ context.Context, to, text string) (*messaging.Receipt, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, to)
	return &messaging.Receipt{MessageID: "MSG"}, nil
}

type fakeLedger struct {
	appended int
}

func (f *fakeLedger) Append(context.Context, uuid.UUID, interactions.Role, string, interactions.MediaType) error {
	f.appended++
	return nil
}

type fakeAlerter struct {
	messages []string
}

func (f *fakeAlerter) Notify(_ context.Context, text string) error {
	f.messages = append(f.messages, text)
	return nil
}

func lead(phone string) patients.Patient {
	return patients.Patient{
		ID:             uuid.New(),
		Phone:          phone,
		Status:         patients.StatusLead,
		FollowUpStatus: patients.FollowUpPending,
	}
}

func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func newTestScheduler(store *fakeStore, composer *fakeComposer, gw *fakeGateway, rdb *redis.Client, alerter *fakeAlerter) *Scheduler {
	var gwIface messaging.Gateway
	if gw != nil {
		gwIface = gw
	}
	var alerterIface notify.Alerter
	if alerter != nil {
		alerterIface = alerter
	}
	s := NewScheduler(store, composer, gwIface, &fakeLedger{}, rdb, alerterIface, Config{
		Hour:      10,
		BatchSize: 5,
	}, nil)
	return s.WithClock(func() time.Time {
		return time.Date(2026, 3, 15, 10, 5, 0, 0, time.UTC)
	})
}

func TestRunSweepMessagesBothTiers(t *testing.T) {
	first := lead("18090000111")
	final := lead("18090000222")
	store := &fakeStore{
		candidates: map[int][]patients.Patient{0: {first}, 1: {final}},
		booked:     map[uuid.UUID]bool{},
	}
	composer := &fakeComposer{}
	gw := &fakeGateway{}
	alerter := &fakeAlerter{}

	s := newTestScheduler(store, composer, gw, testRedis(t), alerter)
	require.NoError(t, s.RunSweep(context.Background()))

	assert.Equal(t, []string{"18090000111", "18090000222"}, gw.sent)
	assert.Equal(t, []int{0, 1}, composer.attempts)
	assert.Len(t, store.advanced, 2)
	require.Len(t, alerter.messages, 1)
	assert.Contains(t, alerter.messages[0], "Mensajes enviados: 2 (1er intento: 1, último aviso: 1)")
}

func TestRunSweepSkipsBookedLead(t *testing.T) {
	booked := lead("18090000111")
	store := &fakeStore{
		candidates: map[int][]patients.Patient{0: {booked}},
		booked:     map[uuid.UUID]bool{booked.ID: true},
	}
	gw := &fakeGateway{}
	alerter := &fakeAlerter{}

	s := newTestScheduler(store, &fakeComposer{}, gw, testRedis(t), alerter)
	require.NoError(t, s.RunSweep(context.Background()))

	assert.Empty(t, gw.sent)
	assert.Empty(t, store.advanced)
	require.Len(t, alerter.messages, 1)
	assert.Contains(t, alerter.messages[0], "Mensajes enviados: 0")
	assert.Contains(t, alerter.messages[0], "Omitidos: 1")
}

func TestRunSweepNotifiesEvenWhenIdle(t *testing.T) {
	store := &fakeStore{candidates: map[int][]patients.Patient{}, booked: map[uuid.UUID]bool{}}
	alerter := &fakeAlerter{}

	s := newTestScheduler(store, &fakeComposer{}, &fakeGateway{}, testRedis(t), alerter)
	require.NoError(t, s.RunSweep(context.Background()))

	require.Len(t, alerter.messages, 1)
	assert.Contains(t, alerter.messages[0], "Mensajes enviados: 0")
}

func TestRunSweepSkipsStoppedCampaign(t *testing.T) {
	stopped := lead("18090000111")
	stopped.FollowUpStatus = patients.FollowUpStopped
	store := &fakeStore{
		candidates: map[int][]patients.Patient{0: {stopped}},
		booked:     map[uuid.UUID]bool{},
	}
	gw := &fakeGateway{}
	alerter := &fakeAlerter{}

	s := newTestScheduler(store, &fakeComposer{}, gw, testRedis(t), alerter)
	require.NoError(t, s.RunSweep(context.Background()))

	assert.Empty(t, gw.sent)
	assert.Contains(t, alerter.messages[0], "Omitidos: 1")
}

func TestRunSweepRejectsMalformedPhone(t *testing.T) {
	store := &fakeStore{
		candidates: map[int][]patients.Patient{0: {lead("555"), lead("1809000a111")}},
		booked:     map[uuid.UUID]bool{},
	}
	gw := &fakeGateway{}
	alerter := &fakeAlerter{}

	s := newTestScheduler(store, &fakeComposer{}, gw, testRedis(t), alerter)
	require.NoError(t, s.RunSweep(context.Background()))

	assert.Empty(t, gw.sent)
	assert.Empty(t, store.advanced)
	assert.Contains(t, alerter.messages[0], "Fallidos: 2")
}

func TestRunSweepLeaseBlocksSecondRun(t *testing.T) {
	store := &fakeStore{candidates: map[int][]patients.Patient{0: {lead("18090000111")}}, booked: map[uuid.UUID]bool{}}
	gw := &fakeGateway{}
	rdb := testRedis(t)

	s := newTestScheduler(store, &fakeComposer{}, gw, rdb, nil)
	require.NoError(t, s.RunSweep(context.Background()))
	assert.ErrorIs(t, s.RunSweep(context.Background()), ErrSweepHeld)
	assert.Len(t, gw.sent, 1)
}

func TestRunSweepSendFailureIsolated(t *testing.T) {
	a, b := lead("18090000111"), lead("18090000222")
	store := &fakeStore{candidates: map[int][]patients.Patient{0: {a, b}}, booked: map[uuid.UUID]bool{}}
	gw := &fakeGateway{}
	composer := &fakeComposer{}
	alerter := &fakeAlerter{}

	// First send fails, second succeeds.
	failing := &flakyGateway{inner: gw, failFirst: true}
	s := newTestScheduler(store, composer, nil, testRedis(t), alerter)
	s.gateway = failing

	require.NoError(t, s.RunSweep(context.Background()))
	assert.Equal(t, []string{"18090000222"}, gw.sent)
	assert.Len(t, store.advanced, 1)
	assert.Contains(t, alerter.messages[0], "Fallidos: 1")
}

type flakyGateway struct {
	inner     *fakeGateway
	failFirst bool
	calls     int
}

func (f *flakyGateway) Send(ctx context.Context, to, text string) (*messaging.Receipt, error) {
	f.calls++
	if f.failFirst && f.calls == 1 {
		return nil, errors.New("gateway down")
	}
	return f.inner.Send(ctx, to, text)
}

func TestTickHourlyOnlyAtConfiguredHour(t *testing.T) {
	store := &fakeStore{candidates: map[int][]patients.Patient{0: {lead("18090000111")}}, booked: map[uuid.UUID]bool{}}
	gw := &fakeGateway{}
	s := newTestScheduler(store, &fakeComposer{}, gw, testRedis(t), nil)

	s.WithClock(func() time.Time {
		return time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)
	})
	s.TickHourly(context.Background())
	assert.Empty(t, gw.sent)

	s.WithClock(func() time.Time {
		return time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
	})
	s.TickHourly(context.Background())
	assert.Len(t, gw.sent, 1)
}

func TestRunSweepCountsOutcomes(t *testing.T) {
	ok := lead("18090000111")
	booked := lead("18090000222")
	broken := lead("555")
	store := &fakeStore{
		candidates: map[int][]patients.Patient{0: {ok, booked, broken}},
		booked:     map[uuid.UUID]bool{booked.ID: true},
	}

	promReg := prometheus.NewRegistry()
	s := newTestScheduler(store, &fakeComposer{}, &fakeGateway{}, testRedis(t), nil)
	s.WithMetrics(metrics.NewPipelineMetrics(promReg))

	require.NoError(t, s.RunSweep(context.Background()))

	expected := `
# HELP sonrisa_reactivation_messages_total Total reactivation messages
# TYPE sonrisa_reactivation_messages_total counter
sonrisa_reactivation_messages_total{status="failed"} 1
sonrisa_reactivation_messages_total{status="sent"} 1
sonrisa_reactivation_messages_total{status="skipped"} 1
`
	require.NoError(t, testutil.GatherAndCompare(promReg, strings.NewReader(expected),
		"sonrisa_reactivation_messages_total"))
}

func TestRunSweepBatchCap(t *testing.T) {
	var many []patients.Patient
	for i := 0; i < 10; i++ {
		many = append(many, lead("18090000111"))
	}
	store := &fakeStore{candidates: map[int][]patients.Patient{0: many}, booked: map[uuid.UUID]bool{}}
	gw := &fakeGateway{}

	s := newTestScheduler(store, &fakeComposer{}, gw, testRedis(t), nil)
	require.NoError(t, s.RunSweep(context.Background()))
	assert.Len(t, gw.sent, 5)
}
