package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/strefethen/heartbeat-hub-go/internal/fleet"
	"github.com/strefethen/heartbeat-hub-go/internal/protocol"
)

// fakeDispatcher records dispatched rounds and answers OK for every node.
type fakeDispatcher struct {
	mu     sync.Mutex
	rounds []protocol.Command
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, nodes []fleet.Node, cmd protocol.Command, timeout time.Duration) []fleet.DispatchResult {
	d.mu.Lock()
	d.rounds = append(d.rounds, cmd)
	d.mu.Unlock()

	results := make([]fleet.DispatchResult, len(nodes))
	for i, node := range nodes {
		results[i] = fleet.DispatchResult{
			Node:    node.Name,
			Outcome: fleet.OutcomeResponded,
			Response: &protocol.Response{
				Status:      protocol.StatusOK,
				IsPlaying:   true,
				CurrentFile: cmd.Spec.Filename,
			},
		}
	}
	return results
}

func (d *fakeDispatcher) roundCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.rounds)
}

func newTestScheduler(t *testing.T, cfg Config) (*Scheduler, *fakeDispatcher, *fleet.Registry) {
	t.Helper()
	registry := fleet.NewRegistry()
	require.NoError(t, registry.Add("living-room", "10.0.0.1", 9915))
	dispatcher := &fakeDispatcher{}
	sched := New(registry, dispatcher, nil, time.Second, nil)
	sched.Restore(cfg, &protocol.PlaybackSpec{Filename: "heartbeat.mp3", Volume: 75, PlayCount: 1})
	return sched, dispatcher, registry
}

func at(hour, minute int) time.Time {
	return time.Date(2025, 6, 1, hour, minute, 0, 0, time.Local)
}

func TestScheduler_IntervalDedup(t *testing.T) {
	sched, dispatcher, _ := newTestScheduler(t, Config{
		Enabled: true, IntervalMinutes: 10, StartTime: "00:00", EndTime: "23:59",
	})

	t0 := at(12, 0)
	sched.Tick(t0)
	require.Equal(t, 1, dispatcher.roundCount())
	require.Equal(t, t0, *sched.Config().LastFiredAt)

	// Inside the interval: no fire.
	sched.Tick(at(12, 5))
	require.Equal(t, 1, dispatcher.roundCount())

	// Interval elapsed: fires exactly once and advances lastFiredAt.
	t11 := at(12, 11)
	sched.Tick(t11)
	require.Equal(t, 2, dispatcher.roundCount())
	require.Equal(t, t11, *sched.Config().LastFiredAt)
}

func TestScheduler_FirstTickFiresWhenNeverFired(t *testing.T) {
	sched, dispatcher, _ := newTestScheduler(t, Config{
		Enabled: true, IntervalMinutes: 10, StartTime: "00:00", EndTime: "23:59",
	})

	sched.Tick(at(9, 0))
	require.Equal(t, 1, dispatcher.roundCount())
}

func TestScheduler_WindowWrapsMidnight(t *testing.T) {
	cfg := Config{Enabled: true, IntervalMinutes: 10, StartTime: "22:00", EndTime: "02:00"}

	require.True(t, due(cfg, at(23, 30)))
	require.True(t, due(cfg, at(1, 30)))
	require.False(t, due(cfg, at(10, 0)))
}

func TestScheduler_DormantOutsideWindow(t *testing.T) {
	sched, dispatcher, _ := newTestScheduler(t, Config{
		Enabled: true, IntervalMinutes: 10, StartTime: "22:00", EndTime: "02:00",
	})

	sched.Tick(at(10, 0))
	require.Equal(t, 0, dispatcher.roundCount())
	require.Nil(t, sched.Config().LastFiredAt)
}

func TestScheduler_ZeroIntervalNeverFires(t *testing.T) {
	sched, dispatcher, _ := newTestScheduler(t, Config{
		Enabled: true, IntervalMinutes: 0, StartTime: "00:00", EndTime: "23:59",
	})

	sched.Tick(at(12, 0))
	require.Equal(t, 0, dispatcher.roundCount())
}

func TestScheduler_DisabledNeverFires(t *testing.T) {
	sched, dispatcher, _ := newTestScheduler(t, Config{
		Enabled: false, IntervalMinutes: 10, StartTime: "00:00", EndTime: "23:59",
	})

	sched.Tick(at(12, 0))
	require.Equal(t, 0, dispatcher.roundCount())
}

func TestScheduler_WindowReentryRespectsInterval(t *testing.T) {
	fired := at(1, 55)
	sched, dispatcher, _ := newTestScheduler(t, Config{
		Enabled: true, IntervalMinutes: 60, StartTime: "22:00", EndTime: "02:00",
		LastFiredAt: &fired,
	})

	// Re-entering the window the same evening, interval not yet elapsed.
	sched.Tick(at(22, 30))
	require.Equal(t, 0, dispatcher.roundCount())

	// Interval elapsed well before this tick.
	sched.Tick(at(23, 30))
	require.Equal(t, 1, dispatcher.roundCount())
}

func TestScheduler_TickGranularity(t *testing.T) {
	// Tick period (30s) and interval (1m) are not integer multiples of the
	// wall clock; elapsed-time comparison still fires at the first tick at
	// or past the interval.
	sched, dispatcher, _ := newTestScheduler(t, Config{
		Enabled: true, IntervalMinutes: 1, StartTime: "00:00", EndTime: "23:59",
	})

	base := at(12, 0)
	sched.Tick(base)
	require.Equal(t, 1, dispatcher.roundCount())

	sched.Tick(base.Add(30 * time.Second))
	require.Equal(t, 1, dispatcher.roundCount())

	sched.Tick(base.Add(60 * time.Second))
	require.Equal(t, 2, dispatcher.roundCount())
}

func TestScheduler_NoSpecSkipsWithoutStamping(t *testing.T) {
	registry := fleet.NewRegistry()
	require.NoError(t, registry.Add("n1", "10.0.0.1", 9915))
	dispatcher := &fakeDispatcher{}
	sched := New(registry, dispatcher, nil, time.Second, nil)
	require.NoError(t, sched.SetConfig(Config{
		Enabled: true, IntervalMinutes: 10, StartTime: "00:00", EndTime: "23:59",
	}))

	sched.Tick(at(12, 0))
	require.Equal(t, 0, dispatcher.roundCount())
	require.Nil(t, sched.Config().LastFiredAt)
}

func TestScheduler_ManualPlayResetsCountdown(t *testing.T) {
	sched, dispatcher, _ := newTestScheduler(t, Config{
		Enabled: true, IntervalMinutes: 10, StartTime: "00:00", EndTime: "23:59",
	})

	sched.Tick(at(12, 0))
	require.Equal(t, 1, dispatcher.roundCount())

	require.NoError(t, sched.NotifyManualPlay(protocol.PlaybackSpec{Filename: "other.mp3", Volume: 50, PlayCount: 1}, at(12, 9)))

	// Would have been due at 12:10 relative to the auto fire, but the manual
	// play restarted the countdown.
	sched.Tick(at(12, 11))
	require.Equal(t, 1, dispatcher.roundCount())

	sched.Tick(at(12, 19))
	require.Equal(t, 2, dispatcher.roundCount())

	// The manual spec became the auto-play spec.
	spec, ok := sched.LastSpec()
	require.True(t, ok)
	require.Equal(t, "other.mp3", spec.Filename)
}

func TestScheduler_FiredRoundUpdatesRegistry(t *testing.T) {
	sched, _, registry := newTestScheduler(t, Config{
		Enabled: true, IntervalMinutes: 10, StartTime: "00:00", EndTime: "23:59",
	})

	sched.Tick(at(12, 0))

	node, ok := registry.Get("living-room")
	require.True(t, ok)
	require.Equal(t, fleet.ReachabilityOK, node.Reachability)
	require.True(t, node.IsPlaying)
	require.Equal(t, "heartbeat.mp3", node.CurrentFile)
	require.Equal(t, "PLAY", node.LastRequest)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	bad := Config{StartTime: "25:00", EndTime: "23:59"}
	require.Error(t, bad.Validate())

	bad = Config{StartTime: "10:00", EndTime: "10:75"}
	require.Error(t, bad.Validate())

	bad = Config{StartTime: "10:00", EndTime: "11:00", IntervalMinutes: -5}
	require.Error(t, bad.Validate())
}

func TestInWindow_FullDayWhenStartEqualsEnd(t *testing.T) {
	require.True(t, inWindow("08:00", "08:00", at(3, 0)))
	require.True(t, inWindow("08:00", "08:00", at(20, 0)))
}
