// Package playback owns the node's single-playback-at-a-time state machine
// around the underlying audio player.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/strefethen/heartbeat-hub-go/internal/protocol"
)

// ErrAlreadyPlaying is returned when a PLAY arrives while playback is in
// progress. The node never interrupts the current track for a new one.
var ErrAlreadyPlaying = errors.New("already playing")

// repeatGap is the pause between consecutive repeats of the same file.
const repeatGap = 500 * time.Millisecond

// Player is the opaque audio-output facility. Play blocks until the file
// has been played to completion, the context is cancelled, or the player
// fails.
type Player interface {
	Play(ctx context.Context, path string, volume int) error
}

// Engine serializes playback: at most one PLAY is admitted at a time, and
// the admission gate is held only for the instant of the Idle -> Playing
// transition, never for the duration of playback.
type Engine struct {
	player   Player
	mediaDir string
	logger   *log.Logger

	mu          sync.Mutex
	playing     bool
	currentFile string
	cancel      context.CancelFunc
	done        chan struct{}
}

// NewEngine creates an engine that resolves filenames against mediaDir.
func NewEngine(player Player, mediaDir string, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{player: player, mediaDir: mediaDir, logger: logger}
}

// Start admits a playback request. It returns once the engine has
// transitioned to Playing; the repeat loop runs in the background. Returns
// ErrAlreadyPlaying if playback is in progress, or a validation error if the
// file cannot be played.
func (e *Engine) Start(spec protocol.PlaybackSpec) error {
	path, err := e.resolve(spec.Filename)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if e.playing {
		e.mu.Unlock()
		return ErrAlreadyPlaying
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	e.playing = true
	e.currentFile = spec.Filename
	e.cancel = cancel
	e.done = done
	e.mu.Unlock()

	go e.run(ctx, path, spec, done)
	return nil
}

// run plays the file spec.PlayCount times sequentially, then returns the
// engine to Idle. A player failure abandons the remaining repeats.
func (e *Engine) run(ctx context.Context, path string, spec protocol.PlaybackSpec, done chan struct{}) {
	defer func() {
		e.mu.Lock()
		e.playing = false
		e.currentFile = ""
		e.cancel = nil
		e.done = nil
		e.mu.Unlock()
		close(done)
	}()

	e.logger.Printf("playing %s %d time(s) at %d%% volume", spec.Filename, spec.PlayCount, spec.Volume)

	for i := 0; i < spec.PlayCount; i++ {
		if ctx.Err() != nil {
			return
		}
		if err := e.player.Play(ctx, path, spec.Volume); err != nil {
			if ctx.Err() != nil {
				return
			}
			e.logger.Printf("player error on %s (repeat %d/%d): %v", spec.Filename, i+1, spec.PlayCount, err)
			return
		}
		if i < spec.PlayCount-1 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(repeatGap):
			}
		}
	}

	e.logger.Printf("playback of %s completed", spec.Filename)
}

// Stop halts playback immediately and discards remaining repeats. It is a
// no-op when idle. Stop returns once the engine is back in Idle.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.playing {
		e.mu.Unlock()
		return
	}
	cancel := e.cancel
	done := e.done
	e.mu.Unlock()

	cancel()
	<-done
}

// Status returns a snapshot of the engine state. Safe to call concurrently
// with Start and Stop.
func (e *Engine) Status() (isPlaying bool, currentFile string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playing, e.currentFile
}

// resolve maps a request filename onto the media directory, rejecting names
// that escape it.
func (e *Engine) resolve(filename string) (string, error) {
	if filename == "" {
		return "", fmt.Errorf("filename is required")
	}
	path := filepath.Join(e.mediaDir, filepath.Clean("/"+filename))
	if rel, err := filepath.Rel(e.mediaDir, path); err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("invalid filename: %s", filename)
	}
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("file not found: %s", filename)
	}
	return path, nil
}
