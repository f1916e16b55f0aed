package playback

import (
	"context"
	"os/exec"
	"strconv"
)

// ExecPlayer plays audio by shelling out to a command-line player, cvlc by
// default. Each Play call runs one process to completion; cancelling the
// context kills the process.
type ExecPlayer struct {
	Command string
}

// NewExecPlayer returns a player using the given command, or cvlc when empty.
func NewExecPlayer(command string) *ExecPlayer {
	if command == "" {
		command = "cvlc"
	}
	return &ExecPlayer{Command: command}
}

// Play runs the player once for the given file. Volume 0-100 maps to the
// cvlc gain range 0.0-1.0.
func (p *ExecPlayer) Play(ctx context.Context, path string, volume int) error {
	gain := float64(volume) / 100.0
	cmd := exec.CommandContext(ctx, p.Command,
		"--play-and-exit",
		"--no-video",
		"--quiet",
		"--no-loop",
		"--gain", strconv.FormatFloat(gain, 'f', 2, 64),
		path,
	)
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}
