// Package fleet holds the controller's view of the node fleet: the
// registry, the command dispatcher, and the health poller.
package fleet

import (
	"fmt"
	"time"

	"github.com/strefethen/heartbeat-hub-go/internal/protocol"
)

// Reachability is the controller's current belief about a node.
type Reachability string

const (
	ReachabilityUnknown Reachability = "Unknown"
	ReachabilityOK      Reachability = "OK"
	ReachabilityTimeout Reachability = "Timeout"
	ReachabilityRefused Reachability = "Refused"
	ReachabilityError   Reachability = "Error"
)

// Node is one audio playback server. Identity fields (Name, Host, Port) are
// user-assigned; status fields are owned by the Registry and updated only
// through ApplyDispatchResult.
type Node struct {
	Name string `json:"name"`
	Host string `json:"host"`
	Port int    `json:"port"`

	Reachability Reachability `json:"reachability"`
	IsPlaying    bool         `json:"is_playing"`
	CurrentFile  string       `json:"current_file,omitempty"`
	LastRequest  string       `json:"last_request,omitempty"`
	LastUpdated  time.Time    `json:"last_updated"`
}

// Addr returns the node's dial address.
func (n Node) Addr() string {
	return fmt.Sprintf("%s:%d", n.Host, n.Port)
}

// Outcome classifies the per-node result of one dispatch round.
type Outcome string

const (
	OutcomeResponded Outcome = "RESPONDED"
	OutcomeTimedOut  Outcome = "TIMED_OUT"
	OutcomeRefused   Outcome = "CONNECTION_REFUSED"
	OutcomeOther     Outcome = "OTHER_ERROR"
)

// DispatchResult is the outcome of sending one command to one node.
// Response is set only for OutcomeResponded; Err describes the failure for
// the other outcomes.
type DispatchResult struct {
	Node     string             `json:"node"`
	Outcome  Outcome            `json:"outcome"`
	Response *protocol.Response `json:"response,omitempty"`
	Err      string             `json:"error,omitempty"`
}

// reachabilityFor maps a dispatch outcome onto the registry status. A node
// that answered with an ERROR response is still reachable.
func reachabilityFor(outcome Outcome) Reachability {
	switch outcome {
	case OutcomeResponded:
		return ReachabilityOK
	case OutcomeTimedOut:
		return ReachabilityTimeout
	case OutcomeRefused:
		return ReachabilityRefused
	default:
		return ReachabilityError
	}
}
