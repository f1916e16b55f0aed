// Package protocol implements the heartbeat wire protocol: one
// newline-terminated JSON object per request and per response, exchanged
// over a single-use TCP connection on port 9915.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// CommandType identifies a request variant.
type CommandType string

const (
	CommandPlay CommandType = "PLAY"
	CommandStop CommandType = "STOP"
	CommandPing CommandType = "PING"
)

// Response status values.
const (
	StatusOK    = "OK"
	StatusError = "ERROR"
)

// ErrMalformed is returned when a message cannot be decoded into a valid
// command or response.
var ErrMalformed = errors.New("malformed message")

// PlaybackSpec describes one playback request. Volume is clamped to [0,100]
// during decode; PlayCount below 1 is rejected.
type PlaybackSpec struct {
	Filename  string `json:"filename"`
	Volume    int    `json:"volume"`
	PlayCount int    `json:"playcount"`
}

// Clamped returns a copy with the volume forced into [0,100].
func (s PlaybackSpec) Clamped() PlaybackSpec {
	if s.Volume < 0 {
		s.Volume = 0
	}
	if s.Volume > 100 {
		s.Volume = 100
	}
	return s
}

// Command is the tagged request variant. Spec is set only for PLAY.
type Command struct {
	Type CommandType
	Spec *PlaybackSpec
}

// Play builds a PLAY command for the given spec.
func Play(spec PlaybackSpec) Command {
	clamped := spec.Clamped()
	return Command{Type: CommandPlay, Spec: &clamped}
}

// Stop builds a STOP command.
func Stop() Command { return Command{Type: CommandStop} }

// Ping builds a PING command.
func Ping() Command { return Command{Type: CommandPing} }

// Response is the node's answer to a single command.
type Response struct {
	Status      string `json:"status"`
	IsPlaying   bool   `json:"is_playing"`
	CurrentFile string `json:"current_file,omitempty"`
	Message     string `json:"message,omitempty"`
	Hostname    string `json:"hostname,omitempty"`
}

// OK reports whether the response carries an OK status.
func (r Response) OK() bool { return r.Status == StatusOK }

// wireCommand is the on-the-wire request shape. Field names match the
// original protocol and must not change.
type wireCommand struct {
	Command  string `json:"command"`
	Filename string `json:"filename,omitempty"`
	Volume   *int   `json:"volume,omitempty"`
	PlayCnt  *int   `json:"playcount,omitempty"`
}

// EncodeCommand serializes a command to its newline-terminated wire form.
func EncodeCommand(cmd Command) ([]byte, error) {
	wire := wireCommand{Command: string(cmd.Type)}
	switch cmd.Type {
	case CommandPlay:
		if cmd.Spec == nil {
			return nil, fmt.Errorf("encode PLAY: missing spec: %w", ErrMalformed)
		}
		spec := cmd.Spec.Clamped()
		if spec.Filename == "" {
			return nil, fmt.Errorf("encode PLAY: empty filename: %w", ErrMalformed)
		}
		if spec.PlayCount < 1 {
			return nil, fmt.Errorf("encode PLAY: playcount %d < 1: %w", spec.PlayCount, ErrMalformed)
		}
		wire.Filename = spec.Filename
		wire.Volume = &spec.Volume
		wire.PlayCnt = &spec.PlayCount
	case CommandStop, CommandPing:
	default:
		return nil, fmt.Errorf("encode: unknown command %q: %w", cmd.Type, ErrMalformed)
	}

	data, err := json.Marshal(wire)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// DecodeCommand parses a wire message into a command, validating required
// fields and ranges.
func DecodeCommand(data []byte) (Command, error) {
	var wire wireCommand
	if err := json.Unmarshal(bytes.TrimSpace(data), &wire); err != nil {
		return Command{}, fmt.Errorf("decode: invalid JSON: %w", ErrMalformed)
	}

	switch CommandType(wire.Command) {
	case CommandPlay:
		if wire.Filename == "" {
			return Command{}, fmt.Errorf("decode PLAY: filename is required: %w", ErrMalformed)
		}
		spec := PlaybackSpec{Filename: wire.Filename, Volume: 100, PlayCount: 1}
		if wire.Volume != nil {
			spec.Volume = *wire.Volume
		}
		if wire.PlayCnt != nil {
			spec.PlayCount = *wire.PlayCnt
		}
		if spec.PlayCount < 1 {
			return Command{}, fmt.Errorf("decode PLAY: playcount %d < 1: %w", spec.PlayCount, ErrMalformed)
		}
		spec = spec.Clamped()
		return Command{Type: CommandPlay, Spec: &spec}, nil
	case CommandStop:
		return Command{Type: CommandStop}, nil
	case CommandPing:
		return Command{Type: CommandPing}, nil
	default:
		return Command{}, fmt.Errorf("decode: unknown command %q: %w", wire.Command, ErrMalformed)
	}
}

// EncodeResponse serializes a response to its newline-terminated wire form.
func EncodeResponse(resp Response) ([]byte, error) {
	if resp.Status != StatusOK && resp.Status != StatusError {
		return nil, fmt.Errorf("encode: invalid status %q: %w", resp.Status, ErrMalformed)
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// DecodeResponse parses a wire message into a response.
func DecodeResponse(data []byte) (Response, error) {
	var resp Response
	if err := json.Unmarshal(bytes.TrimSpace(data), &resp); err != nil {
		return Response{}, fmt.Errorf("decode: invalid JSON: %w", ErrMalformed)
	}
	if resp.Status != StatusOK && resp.Status != StatusError {
		return Response{}, fmt.Errorf("decode: invalid status %q: %w", resp.Status, ErrMalformed)
	}
	return resp, nil
}
