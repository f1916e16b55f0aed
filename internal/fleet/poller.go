package fleet

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/strefethen/heartbeat-hub-go/internal/protocol"
)

// Poller periodically pings every node and feeds the results into the
// registry. It shares nothing with manual or scheduled dispatch rounds
// except the registry's update API.
type Poller struct {
	registry   *Registry
	dispatcher CommandDispatcher
	interval   time.Duration
	timeout    time.Duration
	logger     *log.Logger

	// OnRound, when set, runs after each completed poll round. The hub uses
	// it to push fleet snapshots to WebSocket clients.
	OnRound func()

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewPoller creates a health poller.
func NewPoller(registry *Registry, dispatcher CommandDispatcher, interval, timeout time.Duration, logger *log.Logger) *Poller {
	if logger == nil {
		logger = log.Default()
	}
	return &Poller{
		registry:   registry,
		dispatcher: dispatcher,
		interval:   interval,
		timeout:    timeout,
		logger:     logger,
		stopCh:     make(chan struct{}),
	}
}

// Start begins the polling loop, issuing an immediate first round.
func (p *Poller) Start() {
	p.logger.Printf("health poller starting, interval %v", p.interval)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run()
	}()
}

// Stop halts the polling loop and waits for an in-flight round to finish.
func (p *Poller) Stop() {
	close(p.stopCh)
	p.wg.Wait()
	p.logger.Printf("health poller stopped")
}

func (p *Poller) run() {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.PollOnce()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			// A slow round delays the next tick; rounds never stack.
			p.PollOnce()
		}
	}
}

// PollOnce runs a single ping round against the current fleet.
func (p *Poller) PollOnce() {
	nodes := p.registry.List()
	if len(nodes) == 0 {
		return
	}

	results := p.dispatcher.Dispatch(context.Background(), nodes, protocol.Ping(), p.timeout)
	for _, result := range results {
		p.registry.ApplyDispatchResult(string(protocol.CommandPing), result)
	}

	if p.OnRound != nil {
		p.OnRound()
	}
}
