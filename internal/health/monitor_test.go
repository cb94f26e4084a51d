package health_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/veles-ai/veles/internal/eventbus"
	"github.com/veles-ai/veles/internal/health"
)

func countingProbe(count *atomic.Int32, err error) health.Probe {
	return health.Probe{
		Name: "counting",
		Check: func(ctx context.Context) error {
			count.Add(1)
			return err
		},
	}
}

func TestCheckCachesWithinFreshnessWindow(t *testing.T) {
	var mu sync.Mutex
	now := time.Now()
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}

	var probes atomic.Int32
	m := health.NewMonitor(
		[]health.Probe{countingProbe(&probes, nil)},
		health.WithClock(clock),
		health.WithFreshness(30*time.Second),
	)

	require.True(t, m.Check(context.Background(), false))
	require.True(t, m.Check(context.Background(), false))
	require.EqualValues(t, 1, probes.Load(), "fresh cache must not re-probe")

	advance(31 * time.Second)
	require.True(t, m.Check(context.Background(), false))
	require.EqualValues(t, 2, probes.Load(), "stale cache must re-probe")

	require.True(t, m.Check(context.Background(), true))
	require.EqualValues(t, 3, probes.Load(), "force must always re-probe")
}

func TestCheckFailureIsNotCached(t *testing.T) {
	var probes atomic.Int32
	m := health.NewMonitor([]health.Probe{countingProbe(&probes, errors.New("down"))})

	require.False(t, m.Check(context.Background(), false))
	require.False(t, m.Check(context.Background(), false))
	require.EqualValues(t, 2, probes.Load(), "a failed check must not satisfy the freshness window")
}

func TestCheckSingleFlight(t *testing.T) {
	var probes atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	m := health.NewMonitor([]health.Probe{{
		Name: "blocking",
		Check: func(ctx context.Context) error {
			probes.Add(1)
			close(started)
			<-release
			return nil
		},
	}})

	first := make(chan bool, 1)
	go func() {
		first <- m.Check(context.Background(), true)
	}()
	<-started

	// Second caller arrives mid-probe: it must wait, not probe again.
	secondDone := make(chan bool, 1)
	go func() {
		secondDone <- m.Check(context.Background(), false)
	}()

	time.Sleep(20 * time.Millisecond)
	close(release)

	require.True(t, <-first)
	require.True(t, <-secondDone)
	require.EqualValues(t, 1, probes.Load(), "concurrent checks must share one probe")
}

func TestCascadeStopsAtFirstSuccess(t *testing.T) {
	var order []string
	probe := func(name string, err error) health.Probe {
		return health.Probe{
			Name: name,
			Check: func(ctx context.Context) error {
				order = append(order, name)
				return err
			},
		}
	}

	m := health.NewMonitor([]health.Probe{
		probe("first", errors.New("nope")),
		probe("second", nil),
		probe("third", nil),
	})

	require.True(t, m.Check(context.Background(), true))
	require.Equal(t, []string{"first", "second"}, order)
}

func TestTransitionOnlyEvents(t *testing.T) {
	bus := eventbus.New()
	defer bus.Shutdown()
	sub := eventbus.SubscribeTo(bus, eventbus.Bridge.Lifecycle)
	defer sub.Close()

	healthyErr := atomic.Pointer[error]{}
	m := health.NewMonitor([]health.Probe{{
		Name: "toggle",
		Check: func(ctx context.Context) error {
			if errp := healthyErr.Load(); errp != nil {
				return *errp
			}
			return nil
		},
	}}, health.WithBus(bus))

	require.True(t, m.Check(context.Background(), true))
	require.True(t, m.Check(context.Background(), true))

	down := errors.New("down")
	healthyErr.Store(&down)
	require.False(t, m.Check(context.Background(), true))

	var states []eventbus.LifecycleState
	deadline := time.After(time.Second)
	for len(states) < 2 {
		select {
		case env := <-sub.C():
			states = append(states, env.Payload.State)
		case <-deadline:
			t.Fatalf("timed out; got states %v", states)
		}
	}
	select {
	case env := <-sub.C():
		t.Fatalf("unexpected extra event %v", env.Payload.State)
	case <-time.After(50 * time.Millisecond):
	}

	require.Equal(t, []eventbus.LifecycleState{
		eventbus.LifecycleConnected,
		eventbus.LifecycleDisconnected,
	}, states)
}

func TestOnConnectedFiresOnTransition(t *testing.T) {
	var hooks atomic.Int32
	m := health.NewMonitor(
		[]health.Probe{countingProbe(new(atomic.Int32), nil)},
		health.WithOnConnected(func() { hooks.Add(1) }),
	)

	require.True(t, m.Check(context.Background(), true))
	require.True(t, m.Check(context.Background(), true))
	require.EqualValues(t, 1, hooks.Load())
}

func TestProbePanicReadsAsDisconnected(t *testing.T) {
	m := health.NewMonitor([]health.Probe{{
		Name:  "broken",
		Check: func(ctx context.Context) error { panic("boom") },
	}})
	require.False(t, m.Check(context.Background(), true))
}
