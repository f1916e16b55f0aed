// Package scheduler drives automatic playback: on a fixed tick it decides
// whether an auto-play round is due for the configured interval and time
// window, and fires the dispatcher exactly once per due slot.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/strefethen/heartbeat-hub-go/internal/fleet"
	"github.com/strefethen/heartbeat-hub-go/internal/protocol"
)

// Config is the global auto-play schedule. StartTime and EndTime are
// wall-clock "HH:MM" values; EndTime before StartTime means the window wraps
// midnight. IntervalMinutes of zero disables auto-play regardless of the
// Enabled flag.
type Config struct {
	Enabled         bool       `json:"enabled"`
	IntervalMinutes int        `json:"interval_minutes"`
	StartTime       string     `json:"start_time"`
	EndTime         string     `json:"end_time"`
	LastFiredAt     *time.Time `json:"last_fired_at,omitempty"`
}

// DefaultConfig mirrors the controller's factory settings: disabled, full-day
// window.
func DefaultConfig() Config {
	return Config{StartTime: "00:00", EndTime: "23:59"}
}

// Validate checks the window fields.
func (c Config) Validate() error {
	if _, err := parseClock(c.StartTime); err != nil {
		return fmt.Errorf("start_time: %w", err)
	}
	if _, err := parseClock(c.EndTime); err != nil {
		return fmt.Errorf("end_time: %w", err)
	}
	if c.IntervalMinutes < 0 {
		return fmt.Errorf("interval_minutes must be >= 0")
	}
	return nil
}

// Store persists schedule state across hub restarts.
type Store interface {
	SaveSchedule(cfg Config) error
}

// Scheduler owns the schedule config, the last-used playback spec, and the
// tick loop. It talks to the rest of the hub only through the dispatcher and
// the registry's update API.
type Scheduler struct {
	registry   *fleet.Registry
	dispatcher fleet.CommandDispatcher
	store      Store
	timeout    time.Duration
	logger     *log.Logger

	// OnRound, when set, runs after each fired auto-play round.
	OnRound func()

	mu      sync.Mutex
	cfg     Config
	spec    protocol.PlaybackSpec
	hasSpec bool
	cron    *cron.Cron
}

// New creates a scheduler. tickSpec is a robfig/cron spec such as
// "@every 30s".
func New(registry *fleet.Registry, dispatcher fleet.CommandDispatcher, store Store, timeout time.Duration, logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.Default()
	}
	return &Scheduler{
		registry:   registry,
		dispatcher: dispatcher,
		store:      store,
		timeout:    timeout,
		logger:     logger,
		cfg:        DefaultConfig(),
	}
}

// Start launches the tick loop.
func (s *Scheduler) Start(tickSpec string) error {
	runner := cron.New()
	if _, err := runner.AddFunc(tickSpec, func() { s.Tick(time.Now()) }); err != nil {
		return fmt.Errorf("invalid tick spec %q: %w", tickSpec, err)
	}
	runner.Start()

	s.mu.Lock()
	s.cron = runner
	s.mu.Unlock()

	s.logger.Printf("scheduler started, tick %s", tickSpec)
	return nil
}

// Stop halts the tick loop and waits for an in-flight tick to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	runner := s.cron
	s.cron = nil
	s.mu.Unlock()

	if runner != nil {
		<-runner.Stop().Done()
	}
	s.logger.Printf("scheduler stopped")
}

// Config returns the current schedule config.
func (s *Scheduler) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// SetConfig replaces the schedule config, preserving lastFiredAt, and
// persists it.
func (s *Scheduler) SetConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	cfg.LastFiredAt = s.cfg.LastFiredAt
	s.cfg = cfg
	s.mu.Unlock()

	return s.persist()
}

// Restore loads persisted schedule state without writing it back.
func (s *Scheduler) Restore(cfg Config, spec *protocol.PlaybackSpec) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	if spec != nil {
		s.spec = *spec
		s.hasSpec = true
	}
}

// LastSpec returns the last-used playback spec, if one has been set.
func (s *Scheduler) LastSpec() (protocol.PlaybackSpec, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spec, s.hasSpec
}

// NotifyManualPlay records a manually dispatched spec: it becomes the
// auto-play spec and restarts the interval countdown.
func (s *Scheduler) NotifyManualPlay(spec protocol.PlaybackSpec, now time.Time) error {
	s.mu.Lock()
	s.spec = spec
	s.hasSpec = true
	s.cfg.LastFiredAt = &now
	s.mu.Unlock()
	return s.persist()
}

// Tick evaluates the schedule at the given instant and fires at most one
// auto-play round. Exported so tests can drive ticks directly.
func (s *Scheduler) Tick(now time.Time) {
	s.mu.Lock()
	if !due(s.cfg, now) {
		s.mu.Unlock()
		return
	}
	if !s.hasSpec {
		s.mu.Unlock()
		s.logger.Printf("auto-play due but no playback spec set; skipping")
		return
	}
	// Stamp before dispatching so a re-entered tick can never double-fire.
	fireTime := now
	s.cfg.LastFiredAt = &fireTime
	spec := s.spec
	s.mu.Unlock()

	if err := s.persist(); err != nil {
		s.logger.Printf("persist schedule: %v", err)
	}

	nodes := s.registry.List()
	s.logger.Printf("auto-play firing: %s to %d node(s)", spec.Filename, len(nodes))

	results := s.dispatcher.Dispatch(context.Background(), nodes, protocol.Play(spec), s.timeout)
	for _, result := range results {
		s.registry.ApplyDispatchResult(string(protocol.CommandPlay), result)
	}

	if s.OnRound != nil {
		s.OnRound()
	}
}

func (s *Scheduler) persist() error {
	if s.store == nil {
		return nil
	}
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()
	return s.store.SaveSchedule(cfg)
}

// due decides whether an auto-play round should fire at the given instant.
func due(cfg Config, now time.Time) bool {
	if !cfg.Enabled || cfg.IntervalMinutes <= 0 {
		return false
	}
	if !inWindow(cfg.StartTime, cfg.EndTime, now) {
		return false
	}
	if cfg.LastFiredAt == nil {
		return true
	}
	return now.Sub(*cfg.LastFiredAt) >= time.Duration(cfg.IntervalMinutes)*time.Minute
}

// inWindow reports whether now's wall-clock time falls in [start, end).
// end < start means the window wraps midnight; start == end means the
// window covers the whole day.
func inWindow(start, end string, now time.Time) bool {
	startMin, err := parseClock(start)
	if err != nil {
		return false
	}
	endMin, err := parseClock(end)
	if err != nil {
		return false
	}

	nowMin := now.Hour()*60 + now.Minute()
	switch {
	case startMin == endMin:
		return true
	case startMin < endMin:
		return nowMin >= startMin && nowMin < endMin
	default:
		return nowMin >= startMin || nowMin < endMin
	}
}

// parseClock parses "HH:MM" into minutes since midnight.
func parseClock(value string) (int, error) {
	parts := strings.SplitN(value, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time %q, want HH:MM", value)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("invalid hour in %q", value)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("invalid minute in %q", value)
	}
	return hour*60 + minute, nil
}
