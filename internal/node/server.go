// Package node implements the audio node's TCP command server. Each
// connection carries exactly one request/response pair and is then closed.
package node

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"sync"
	"time"

	"github.com/strefethen/heartbeat-hub-go/internal/playback"
	"github.com/strefethen/heartbeat-hub-go/internal/protocol"
)

// connTimeout bounds how long a single connection may take to deliver its
// request and accept the response.
const connTimeout = 30 * time.Second

// Server accepts controller connections and drives the playback engine.
// Multiple connections are serviced concurrently; the engine is the single
// serialization point for playback.
type Server struct {
	engine   *playback.Engine
	logger   *log.Logger
	hostname string

	listener net.Listener
	stopCh   chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

// NewServer creates a command server around the given engine.
func NewServer(engine *playback.Engine, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return &Server{
		engine:   engine,
		logger:   logger,
		hostname: hostname,
		stopCh:   make(chan struct{}),
	}
}

// Start binds the listener and begins accepting connections in the
// background. A bind failure is returned to the caller; it is the only
// unrecoverable server error.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	s.listener = listener
	s.logger.Printf("command server listening on %s", listener.Addr())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop()
	}()
	return nil
}

// Addr returns the bound listener address. Valid after Start.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Stop closes the listener, halts playback, and waits for in-flight
// connections to finish.
func (s *Server) Stop() {
	s.once.Do(func() {
		close(s.stopCh)
		if s.listener != nil {
			s.listener.Close()
		}
	})
	s.wg.Wait()
	s.engine.Stop()
	s.logger.Printf("command server stopped")
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
				s.logger.Printf("accept error: %v", err)
				continue
			}
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

// handleConn runs one request/response exchange. Malformed requests get an
// ERROR response; only stream corruption closes the connection silently.
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(connTimeout))

	line, err := readMessage(conn)
	if err != nil {
		s.logger.Printf("read error from %s: %v", conn.RemoteAddr(), err)
		return
	}

	cmd, err := protocol.DecodeCommand(line)
	if err != nil {
		s.logger.Printf("malformed request from %s: %v", conn.RemoteAddr(), err)
		s.respond(conn, protocol.Response{
			Status:  protocol.StatusError,
			Message: "malformed request",
		})
		return
	}

	s.logger.Printf("received %s from %s", cmd.Type, conn.RemoteAddr())
	s.respond(conn, s.execute(cmd))
}

// execute runs a decoded command against the engine and builds the response.
func (s *Server) execute(cmd protocol.Command) protocol.Response {
	switch cmd.Type {
	case protocol.CommandPlay:
		if err := s.engine.Start(*cmd.Spec); err != nil {
			playing, file := s.engine.Status()
			message := err.Error()
			if errors.Is(err, playback.ErrAlreadyPlaying) {
				message = "AlreadyPlaying"
			}
			return protocol.Response{
				Status:      protocol.StatusError,
				IsPlaying:   playing,
				CurrentFile: file,
				Message:     message,
			}
		}
		return protocol.Response{
			Status:      protocol.StatusOK,
			IsPlaying:   true,
			CurrentFile: cmd.Spec.Filename,
			Message:     "Playback started",
		}

	case protocol.CommandStop:
		s.engine.Stop()
		return protocol.Response{
			Status:  protocol.StatusOK,
			Message: "Playback stopped",
		}

	case protocol.CommandPing:
		playing, file := s.engine.Status()
		return protocol.Response{
			Status:      protocol.StatusOK,
			IsPlaying:   playing,
			CurrentFile: file,
			Hostname:    s.hostname,
		}
	}

	return protocol.Response{Status: protocol.StatusError, Message: "unknown command"}
}

func (s *Server) respond(conn net.Conn, resp protocol.Response) {
	data, err := protocol.EncodeResponse(resp)
	if err != nil {
		s.logger.Printf("encode response: %v", err)
		return
	}
	if _, err := conn.Write(data); err != nil {
		s.logger.Printf("write response to %s: %v", conn.RemoteAddr(), err)
	}
}

// readMessage reads one newline-terminated message. A half-closed stream
// that delivered data before EOF is treated as a complete message so older
// clients that skip the trailing newline still work.
func readMessage(conn net.Conn) ([]byte, error) {
	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && len(line) > 0 {
			return line, nil
		}
		return nil, err
	}
	return line, nil
}
