package fleet

import (
	"bufio"
	"context"
	"errors"
	"log"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/strefethen/heartbeat-hub-go/internal/protocol"
)

// CommandDispatcher fans a command out to a set of nodes. The poller and
// scheduler depend on this interface so tests can inject fakes.
type CommandDispatcher interface {
	Dispatch(ctx context.Context, nodes []Node, cmd protocol.Command, perNodeTimeout time.Duration) []DispatchResult
}

// Dispatcher sends one command to every target node concurrently and
// collects per-node outcomes. It is a pure fan-out primitive: no retries,
// no shared state, and the slowest node never delays the others' results
// beyond the per-node timeout.
type Dispatcher struct {
	logger *log.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.Default()
	}
	return &Dispatcher{logger: logger}
}

// Dispatch sends cmd to every node and returns exactly one result per input
// node, in input order.
func (d *Dispatcher) Dispatch(ctx context.Context, nodes []Node, cmd protocol.Command, perNodeTimeout time.Duration) []DispatchResult {
	results := make([]DispatchResult, len(nodes))
	if len(nodes) == 0 {
		return results
	}

	payload, err := protocol.EncodeCommand(cmd)
	if err != nil {
		for i, node := range nodes {
			results[i] = DispatchResult{Node: node.Name, Outcome: OutcomeOther, Err: err.Error()}
		}
		return results
	}

	roundID := uuid.NewString()[:8]
	d.logger.Printf("round %s: dispatching %s to %d node(s)", roundID, cmd.Type, len(nodes))

	var wg sync.WaitGroup
	for i, node := range nodes {
		wg.Add(1)
		go func(idx int, target Node) {
			defer wg.Done()
			results[idx] = d.send(ctx, target, payload, perNodeTimeout)
		}(i, node)
	}
	wg.Wait()

	for _, result := range results {
		if result.Outcome != OutcomeResponded {
			d.logger.Printf("round %s: node %s: %s (%s)", roundID, result.Node, result.Outcome, result.Err)
		}
	}
	return results
}

// send performs one connect/write/read exchange against a single node.
func (d *Dispatcher) send(ctx context.Context, node Node, payload []byte, timeout time.Duration) DispatchResult {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", node.Addr())
	if err != nil {
		return DispatchResult{Node: node.Name, Outcome: classifyError(err), Err: err.Error()}
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(timeout))

	if _, err := conn.Write(payload); err != nil {
		return DispatchResult{Node: node.Name, Outcome: classifyError(err), Err: err.Error()}
	}

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		return DispatchResult{Node: node.Name, Outcome: classifyError(err), Err: err.Error()}
	}

	resp, err := protocol.DecodeResponse(line)
	if err != nil {
		return DispatchResult{Node: node.Name, Outcome: OutcomeOther, Err: err.Error()}
	}

	return DispatchResult{Node: node.Name, Outcome: OutcomeResponded, Response: &resp}
}

// classifyError maps network failures onto dispatch outcomes.
func classifyError(err error) Outcome {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return OutcomeRefused
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return OutcomeTimedOut
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return OutcomeTimedOut
	}
	return OutcomeOther
}
