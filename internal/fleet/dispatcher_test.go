package fleet

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/strefethen/heartbeat-hub-go/internal/protocol"
)

// mockNode is a minimal command server for dispatcher tests. Behavior "ok"
// answers every command, "busy" rejects PLAY with AlreadyPlaying, "hang"
// accepts but never responds.
func mockNode(t *testing.T, behavior string) Node {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				line, err := bufio.NewReader(conn).ReadBytes('\n')
				if err != nil {
					return
				}
				if behavior == "hang" {
					time.Sleep(5 * time.Second)
					return
				}

				cmd, err := protocol.DecodeCommand(line)
				if err != nil {
					return
				}
				resp := protocol.Response{Status: protocol.StatusOK}
				switch {
				case behavior == "busy" && cmd.Type == protocol.CommandPlay:
					resp = protocol.Response{
						Status: protocol.StatusError, IsPlaying: true,
						CurrentFile: "busy.mp3", Message: "AlreadyPlaying",
					}
				case cmd.Type == protocol.CommandPlay:
					resp.IsPlaying = true
					resp.CurrentFile = cmd.Spec.Filename
				}
				data, _ := protocol.EncodeResponse(resp)
				conn.Write(data)
			}(conn)
		}
	}()

	host, portStr, err := net.SplitHostPort(listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return Node{Name: behavior + "-" + portStr, Host: host, Port: port}
}

// refusedNode points at a port with no listener.
func refusedNode(t *testing.T) Node {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	require.NoError(t, listener.Close())

	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return Node{Name: "refused-" + portStr, Host: host, Port: port}
}

func TestDispatcher_PlayToAcceptingNode(t *testing.T) {
	node := mockNode(t, "ok")
	dispatcher := NewDispatcher(nil)

	results := dispatcher.Dispatch(context.Background(), []Node{node},
		protocol.Play(protocol.PlaybackSpec{Filename: "heartbeat.mp3", Volume: 75, PlayCount: 3}),
		time.Second)

	require.Len(t, results, 1)
	require.Equal(t, OutcomeResponded, results[0].Outcome)
	require.True(t, results[0].Response.OK())
	require.True(t, results[0].Response.IsPlaying)
	require.Equal(t, "heartbeat.mp3", results[0].Response.CurrentFile)
}

func TestDispatcher_ConnectionRefused(t *testing.T) {
	node := refusedNode(t)
	dispatcher := NewDispatcher(nil)

	results := dispatcher.Dispatch(context.Background(), []Node{node}, protocol.Ping(), time.Second)

	require.Len(t, results, 1)
	require.Equal(t, OutcomeRefused, results[0].Outcome)
	require.Nil(t, results[0].Response)
}

func TestDispatcher_TimeoutOnHangingNode(t *testing.T) {
	node := mockNode(t, "hang")
	dispatcher := NewDispatcher(nil)

	start := time.Now()
	results := dispatcher.Dispatch(context.Background(), []Node{node}, protocol.Ping(), 200*time.Millisecond)

	require.Len(t, results, 1)
	require.Equal(t, OutcomeTimedOut, results[0].Outcome)
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestDispatcher_BusyNodeRespondsErrorButReachable(t *testing.T) {
	node := mockNode(t, "busy")
	dispatcher := NewDispatcher(nil)

	results := dispatcher.Dispatch(context.Background(), []Node{node},
		protocol.Play(protocol.PlaybackSpec{Filename: "x.mp3", Volume: 50, PlayCount: 1}),
		time.Second)

	require.Len(t, results, 1)
	require.Equal(t, OutcomeResponded, results[0].Outcome)
	require.Equal(t, protocol.StatusError, results[0].Response.Status)
	require.Equal(t, "AlreadyPlaying", results[0].Response.Message)
	require.Equal(t, ReachabilityOK, reachabilityFor(results[0].Outcome))
}

func TestDispatcher_MixedFleetReturnsExactlyNResults(t *testing.T) {
	nodes := []Node{
		mockNode(t, "ok"),
		refusedNode(t),
		mockNode(t, "hang"),
		mockNode(t, "ok"),
	}
	dispatcher := NewDispatcher(nil)

	start := time.Now()
	results := dispatcher.Dispatch(context.Background(), nodes, protocol.Ping(), 300*time.Millisecond)
	elapsed := time.Since(start)

	require.Len(t, results, len(nodes))
	for i, result := range results {
		require.Equal(t, nodes[i].Name, result.Node)
	}
	require.Equal(t, OutcomeResponded, results[0].Outcome)
	require.Equal(t, OutcomeRefused, results[1].Outcome)
	require.Equal(t, OutcomeTimedOut, results[2].Outcome)
	require.Equal(t, OutcomeResponded, results[3].Outcome)

	// The hanging node must not delay the round beyond its own timeout.
	require.Less(t, elapsed, 2*time.Second)
}

func TestDispatcher_EmptyFleet(t *testing.T) {
	dispatcher := NewDispatcher(nil)
	results := dispatcher.Dispatch(context.Background(), nil, protocol.Ping(), time.Second)
	require.Empty(t, results)
}
