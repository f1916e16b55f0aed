package node

import (
	"bufio"
	"context"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/strefethen/heartbeat-hub-go/internal/playback"
	"github.com/strefethen/heartbeat-hub-go/internal/protocol"
)

// blockingPlayer simulates long-running playback until released.
type blockingPlayer struct {
	mu      sync.Mutex
	started int
	release chan struct{}
}

func newBlockingPlayer() *blockingPlayer {
	return &blockingPlayer{release: make(chan struct{})}
}

func (p *blockingPlayer) Play(ctx context.Context, path string, volume int) error {
	p.mu.Lock()
	p.started++
	p.mu.Unlock()
	select {
	case <-p.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func startTestServer(t *testing.T, player playback.Player, files ...string) *Server {
	t.Helper()
	dir := t.TempDir()
	for _, name := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("audio"), 0o644))
	}
	engine := playback.NewEngine(player, dir, nil)
	srv := NewServer(engine, nil)
	require.NoError(t, srv.Start("127.0.0.1:0"))
	t.Cleanup(srv.Stop)
	return srv
}

func roundTrip(t *testing.T, addr string, payload []byte) protocol.Response {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(2 * time.Second))

	_, err = conn.Write(payload)
	require.NoError(t, err)

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	require.NoError(t, err)

	resp, err := protocol.DecodeResponse(line)
	require.NoError(t, err)
	return resp
}

func sendCommand(t *testing.T, addr string, cmd protocol.Command) protocol.Response {
	t.Helper()
	payload, err := protocol.EncodeCommand(cmd)
	require.NoError(t, err)
	return roundTrip(t, addr, payload)
}

func TestServer_PlayRespondsAtAdmission(t *testing.T) {
	player := newBlockingPlayer()
	srv := startTestServer(t, player, "heartbeat.mp3")

	resp := sendCommand(t, srv.Addr().String(), protocol.Play(protocol.PlaybackSpec{
		Filename: "heartbeat.mp3", Volume: 75, PlayCount: 3,
	}))

	require.Equal(t, protocol.StatusOK, resp.Status)
	require.True(t, resp.IsPlaying)
	require.Equal(t, "heartbeat.mp3", resp.CurrentFile)
}

func TestServer_SecondPlayRejectedAlreadyPlaying(t *testing.T) {
	player := newBlockingPlayer()
	srv := startTestServer(t, player, "heartbeat.mp3", "other.mp3")
	addr := srv.Addr().String()

	first := sendCommand(t, addr, protocol.Play(protocol.PlaybackSpec{
		Filename: "heartbeat.mp3", Volume: 75, PlayCount: 1,
	}))
	require.Equal(t, protocol.StatusOK, first.Status)

	second := sendCommand(t, addr, protocol.Play(protocol.PlaybackSpec{
		Filename: "other.mp3", Volume: 50, PlayCount: 1,
	}))
	require.Equal(t, protocol.StatusError, second.Status)
	require.Equal(t, "AlreadyPlaying", second.Message)
	require.True(t, second.IsPlaying)
	require.Equal(t, "heartbeat.mp3", second.CurrentFile)
}

func TestServer_PingAndStopServicedDuringPlayback(t *testing.T) {
	player := newBlockingPlayer()
	srv := startTestServer(t, player, "heartbeat.mp3")
	addr := srv.Addr().String()

	play := sendCommand(t, addr, protocol.Play(protocol.PlaybackSpec{
		Filename: "heartbeat.mp3", Volume: 75, PlayCount: 5,
	}))
	require.Equal(t, protocol.StatusOK, play.Status)

	ping := sendCommand(t, addr, protocol.Ping())
	require.Equal(t, protocol.StatusOK, ping.Status)
	require.True(t, ping.IsPlaying)
	require.Equal(t, "heartbeat.mp3", ping.CurrentFile)
	require.NotEmpty(t, ping.Hostname)

	stop := sendCommand(t, addr, protocol.Stop())
	require.Equal(t, protocol.StatusOK, stop.Status)
	require.False(t, stop.IsPlaying)

	after := sendCommand(t, addr, protocol.Ping())
	require.False(t, after.IsPlaying)
	require.Empty(t, after.CurrentFile)
}

func TestServer_StopWhenIdleIsNoOp(t *testing.T) {
	srv := startTestServer(t, newBlockingPlayer())

	resp := sendCommand(t, srv.Addr().String(), protocol.Stop())
	require.Equal(t, protocol.StatusOK, resp.Status)
	require.False(t, resp.IsPlaying)
}

func TestServer_MissingFileReturnsError(t *testing.T) {
	srv := startTestServer(t, newBlockingPlayer())

	resp := sendCommand(t, srv.Addr().String(), protocol.Play(protocol.PlaybackSpec{
		Filename: "nope.mp3", Volume: 75, PlayCount: 1,
	}))
	require.Equal(t, protocol.StatusError, resp.Status)
	require.Contains(t, resp.Message, "file not found")
	require.False(t, resp.IsPlaying)
}

func TestServer_MalformedRequestGetsErrorResponse(t *testing.T) {
	srv := startTestServer(t, newBlockingPlayer())

	resp := roundTrip(t, srv.Addr().String(), []byte("{\"command\": garbage\n"))
	require.Equal(t, protocol.StatusError, resp.Status)
	require.Contains(t, resp.Message, "malformed")
}

func TestServer_RequestWithoutTrailingNewline(t *testing.T) {
	srv := startTestServer(t, newBlockingPlayer())

	conn, err := net.DialTimeout("tcp", srv.Addr().String(), time.Second)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(2 * time.Second))

	_, err = conn.Write([]byte(`{"command":"PING"}`))
	require.NoError(t, err)
	require.NoError(t, conn.(*net.TCPConn).CloseWrite())

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	require.NoError(t, err)
	resp, err := protocol.DecodeResponse(line)
	require.NoError(t, err)
	require.Equal(t, protocol.StatusOK, resp.Status)
}

func TestServer_BindFailureIsReturned(t *testing.T) {
	player := newBlockingPlayer()
	srv := startTestServer(t, player)

	other := NewServer(playback.NewEngine(player, t.TempDir(), nil), nil)
	err := other.Start(srv.Addr().String())
	require.Error(t, err)
}
