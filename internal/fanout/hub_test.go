package fanout

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/fieldwatch/internal/alert"
	"github.com/tphakala/fieldwatch/internal/errors"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type statsRecorder struct {
	mu           sync.Mutex
	observers    int
	dropped      map[string]int
	disconnected map[string]int
}

func newStatsRecorder() *statsRecorder {
	return &statsRecorder{dropped: map[string]int{}, disconnected: map[string]int{}}
}

func (r *statsRecorder) SetObservers(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = n
}

func (r *statsRecorder) ObserverDropped(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropped[reason]++
}

func (r *statsRecorder) ObserverDisconnected(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconnected[reason]++
}

func (r *statsRecorder) snapshot() (observers int, dropped, disconnected map[string]int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	dropped = make(map[string]int, len(r.dropped))
	for k, v := range r.dropped {
		dropped[k] = v
	}
	disconnected = make(map[string]int, len(r.disconnected))
	for k, v := range r.disconnected {
		disconnected[k] = v
	}
	return r.observers, dropped, disconnected
}

func event(n int) alert.Event {
	return alert.Event{
		ID:   fmt.Sprintf("evt-%03d", n),
		Type: alert.EventCreated,
		Alert: alert.Alert{
			ID:      fmt.Sprintf("alert-%03d", n),
			Actions: []alert.Action{{Action: alert.ActionAcknowledge}},
		},
	}
}

func receive(t *testing.T, ch <-chan alert.Event, n int) []string {
	t.Helper()
	ids := make([]string, 0, n)
	timeout := time.After(5 * time.Second)
	for len(ids) < n {
		select {
		case ev, ok := <-ch:
			if !ok {
				return ids
			}
			ids = append(ids, ev.ID)
		case <-timeout:
			t.Fatalf("received %d of %d events", len(ids), n)
		}
	}
	return ids
}

func drain(ch <-chan alert.Event) {
	for range ch {
	}
}

func TestPublishDeliversInOrderToEveryObserver(t *testing.T) {
	t.Parallel()

	hub := NewHub(DefaultConfig(), nil)
	defer hub.Stop()

	first, _, err := hub.Subscribe("first")
	require.NoError(t, err)
	second, _, err := hub.Subscribe("second")
	require.NoError(t, err)

	want := make([]string, 0, 20)
	for i := range 20 {
		hub.Publish(event(i))
		want = append(want, event(i).ID)
	}

	assert.Equal(t, want, receive(t, first, 20))
	assert.Equal(t, want, receive(t, second, 20))
	assert.Equal(t, []string{"first", "second"}, hub.Observers())
}

func TestSlowObserverIsDisconnectedWithoutStallingOthers(t *testing.T) {
	t.Parallel()

	stats := newStatsRecorder()
	hub := NewHub(Config{
		QueueSize:           64,
		DeliveryTimeout:     10 * time.Millisecond,
		MaxDeliveryFailures: 3,
	}, stats)
	defer hub.Stop()

	_, slowCtx, err := hub.Subscribe("slow")
	require.NoError(t, err)
	fast, _, err := hub.Subscribe("fast")
	require.NoError(t, err)

	for i := range 10 {
		hub.Publish(event(i))
	}
	assert.Len(t, receive(t, fast, 10), 10)

	select {
	case <-slowCtx.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("slow observer was not disconnected")
	}

	assert.Eventually(t, func() bool {
		observers, dropped, disconnected := stats.snapshot()
		return observers == 1 &&
			dropped[ReasonDeliveryFailed] == 0 &&
			disconnected[ReasonDeliveryFailed] == 1
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"fast"}, hub.Observers())
}

func TestQueueOverflowDisconnectsByDefault(t *testing.T) {
	t.Parallel()

	stats := newStatsRecorder()
	hub := NewHub(Config{QueueSize: 2, DeliveryTimeout: time.Minute}, stats)
	defer hub.Stop()

	ch, ctx, err := hub.Subscribe("stuck")
	require.NoError(t, err)

	for i := range 3 {
		hub.Publish(event(i))
	}

	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("overflowing observer was not disconnected")
	}
	drain(ch)

	_, _, disconnected := stats.snapshot()
	assert.Equal(t, 1, disconnected[ReasonQueueFull])
	assert.Empty(t, hub.Observers())
}

func TestDropOldestKeepsNewestEvents(t *testing.T) {
	t.Parallel()

	stats := newStatsRecorder()
	hub := NewHub(Config{QueueSize: 2, DeliveryTimeout: time.Minute, Overflow: DropOldest}, stats)
	defer hub.Stop()

	ch, ctx, err := hub.Subscribe("lagging")
	require.NoError(t, err)

	for i := range 4 {
		hub.Publish(event(i))
	}

	// The first event may already be in flight when it is evicted.
	var got []string
	timeout := time.After(5 * time.Second)
	for len(got) == 0 || got[len(got)-1] != event(3).ID {
		select {
		case ev := <-ch:
			got = append(got, ev.ID)
		case <-timeout:
			t.Fatalf("newest event never arrived, got %v", got)
		}
	}

	assert.Subset(t, []string{event(0).ID, event(1).ID, event(2).ID, event(3).ID}, got)
	assert.Contains(t, got, event(2).ID)
	assert.IsIncreasing(t, got)
	assert.NoError(t, ctx.Err())

	_, dropped, _ := stats.snapshot()
	assert.Equal(t, 2, dropped[ReasonQueueFull])
}

func TestPublishNeverBlocks(t *testing.T) {
	t.Parallel()

	hub := NewHub(Config{QueueSize: 8, DeliveryTimeout: time.Minute, Overflow: DropOldest}, nil)
	defer hub.Stop()

	_, _, err := hub.Subscribe("idle")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := range 1000 {
			hub.Publish(event(i))
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publish blocked on an idle observer")
	}
}

func TestSubscribeErrors(t *testing.T) {
	t.Parallel()

	hub := NewHub(DefaultConfig(), nil)

	_, _, err := hub.Subscribe("dup")
	require.NoError(t, err)
	_, _, err = hub.Subscribe("dup")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateObserver)
	assert.True(t, errors.IsCategory(err, errors.CategoryConflict))

	hub.Stop()

	_, _, err = hub.Subscribe("late")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHubStopped)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()

	stats := newStatsRecorder()
	hub := NewHub(DefaultConfig(), stats)
	defer hub.Stop()

	ch, ctx, err := hub.Subscribe("")
	require.NoError(t, err)
	ids := hub.Observers()
	require.Len(t, ids, 1)

	hub.Unsubscribe(ids[0])
	hub.Unsubscribe("unknown")

	<-ctx.Done()
	drain(ch)

	observers, _, disconnected := stats.snapshot()
	assert.Zero(t, observers)
	assert.Empty(t, disconnected)
}

func TestDeliveredEventsAreIndependentCopies(t *testing.T) {
	t.Parallel()

	hub := NewHub(DefaultConfig(), nil)
	defer hub.Stop()

	a, _, err := hub.Subscribe("a")
	require.NoError(t, err)
	b, _, err := hub.Subscribe("b")
	require.NoError(t, err)

	hub.Publish(event(1))

	evA := <-a
	evA.Alert.Actions[0].Note = "changed"
	evB := <-b
	assert.Empty(t, evB.Alert.Actions[0].Note)
}

func TestStopClosesAllObservers(t *testing.T) {
	t.Parallel()

	hub := NewHub(DefaultConfig(), nil)

	chans := make([]<-chan alert.Event, 0, 3)
	for i := range 3 {
		ch, _, err := hub.Subscribe(fmt.Sprintf("obs-%d", i))
		require.NoError(t, err)
		chans = append(chans, ch)
	}
	hub.Publish(event(1))

	hub.Stop()

	for _, ch := range chans {
		drain(ch)
	}
	assert.Empty(t, hub.Observers())
}
