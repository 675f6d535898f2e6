package reminder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hackgods/practicum-scheduling/internal/appointment"
	redisclient "github.com/hackgods/practicum-scheduling/internal/redis"
)

type stubSource struct {
	items []appointment.Appointment
	err   error
	days  []time.Time
}

func (s *stubSource) DueOn(_ context.Context, day time.Time) ([]appointment.Appointment, error) {
	s.days = append(s.days, day)
	return s.items, s.err
}

type recordingQueue struct {
	mu     sync.Mutex
	events []appointment.Event
	err    error
}

func (q *recordingQueue) Enqueue(_ context.Context, ev appointment.Event) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.events = append(q.events, ev)
	return nil
}

func newMarker(t *testing.T) (*redisclient.Marker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return redisclient.NewMarker(client, MarkPrefix, MarkTTL), mr
}

func due(clock string) appointment.Appointment {
	start, _ := time.Parse("2006-01-02 15:04", "2025-03-10 "+clock)
	return appointment.Appointment{
		ID:           uuid.New(),
		PatientID:    uuid.New(),
		ClinicianID:  uuid.New(),
		StartsAt:     start,
		DurationMins: 50,
		Status:       appointment.StatusScheduled,
	}
}

func TestRunPublishesOncePerAppointment(t *testing.T) {
	marker, mr := newMarker(t)
	source := &stubSource{items: []appointment.Appointment{due("09:00"), due("16:30")}}
	pub := &recordingQueue{}
	r := NewRunner(source, pub, marker, appointment.DefaultPolicy(), zap.NewNop(), nil)

	now := time.Date(2025, 3, 9, 18, 0, 0, 0, time.UTC)

	res, err := r.Run(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, Result{Day: "2025-03-10", Due: 2, Published: 2}, res)
	require.Len(t, pub.events, 2)
	assert.Equal(t, appointment.EventReminderDue, pub.events[0].Type)
	assert.Equal(t, now, pub.events[0].OccurredAt)
	assert.True(t, mr.Exists("reminder:"+source.items[0].ID.String()+":2025-03-10"))

	res, err = r.Run(context.Background(), now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Skipped)
	assert.Equal(t, 0, res.Published)
	assert.Len(t, pub.events, 2)

	// Once the marker expires the reminder would go out again.
	mr.FastForward(49 * time.Hour)
	res, err = r.Run(context.Background(), now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Published)
}

func TestRunUsesClinicCalendarDay(t *testing.T) {
	marker, _ := newMarker(t)
	source := &stubSource{}
	policy := appointment.DefaultPolicy()
	policy.Location = time.FixedZone("CST", -6*60*60)
	r := NewRunner(source, &recordingQueue{}, marker, policy, nil, nil)

	// 02:00 UTC on the 10th is still the evening of the 9th at the clinic.
	res, err := r.Run(context.Background(), time.Date(2025, 3, 10, 2, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "2025-03-10", res.Day)
	require.Len(t, source.days, 1)
	assert.Equal(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), source.days[0])
}

func TestRunReportsSourceError(t *testing.T) {
	marker, _ := newMarker(t)
	source := &stubSource{err: errors.New("db down")}
	r := NewRunner(source, &recordingQueue{}, marker, appointment.DefaultPolicy(), nil, nil)

	_, err := r.Run(context.Background(), time.Now())
	assert.ErrorContains(t, err, "db down")
}

func TestRunSkipsWhenDedupeUnavailable(t *testing.T) {
	marker, mr := newMarker(t)
	mr.Close()
	source := &stubSource{items: []appointment.Appointment{due("10:00")}}
	pub := &recordingQueue{}
	r := NewRunner(source, pub, marker, appointment.DefaultPolicy(), nil, nil)

	res, err := r.Run(context.Background(), time.Date(2025, 3, 9, 18, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Empty(t, pub.events)
}

func TestRunRetriesRemindersTheQueueRefused(t *testing.T) {
	marker, mr := newMarker(t)
	source := &stubSource{items: []appointment.Appointment{due("10:00")}}
	queue := &recordingQueue{err: errors.New("notification queue is full")}
	r := NewRunner(source, queue, marker, appointment.DefaultPolicy(), nil, nil)
	now := time.Date(2025, 3, 9, 18, 0, 0, 0, time.UTC)

	res, err := r.Run(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, Result{Day: "2025-03-10", Due: 1, Failed: 1}, res)
	assert.False(t, mr.Exists("reminder:"+source.items[0].ID.String()+":2025-03-10"))

	queue.err = nil
	res, err = r.Run(context.Background(), now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Published)
	assert.Len(t, queue.events, 1)
}

func TestInvalidatorClearsMovedAppointment(t *testing.T) {
	marker, mr := newMarker(t)
	a := due("10:00")
	ctx := context.Background()

	first, err := marker.MarkOnce(ctx, a.ID.String()+":2025-03-10")
	require.NoError(t, err)
	require.True(t, first)

	inv := NewInvalidator(marker, zap.NewNop())

	inv.Publish(ctx, appointment.Event{Type: appointment.EventCancelled, Appointment: a})
	assert.True(t, mr.Exists("reminder:"+a.ID.String()+":2025-03-10"))

	previous := a.StartsAt
	a.StartsAt = a.StartsAt.Add(3 * time.Hour)
	inv.Publish(ctx, appointment.Event{Type: appointment.EventRescheduled, Appointment: a, PreviousStartsAt: &previous})
	assert.False(t, mr.Exists("reminder:"+a.ID.String()+":2025-03-10"))
}

type stallingDeduper struct{}

func (stallingDeduper) MarkOnce(context.Context, string) (bool, error) { return true, nil }

func (stallingDeduper) Forget(ctx context.Context, _ string) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestInvalidatorDoesNotHangOnSlowRedis(t *testing.T) {
	inv := NewInvalidator(stallingDeduper{}, nil)
	inv.timeout = 20 * time.Millisecond

	a := due("10:00")
	previous := a.StartsAt
	a.StartsAt = a.StartsAt.Add(time.Hour)

	done := make(chan struct{})
	go func() {
		defer close(done)
		inv.Publish(context.Background(), appointment.Event{Type: appointment.EventRescheduled, Appointment: a, PreviousStartsAt: &previous})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("invalidator blocked past its timeout")
	}
}
