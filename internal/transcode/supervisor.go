// SPDX-License-Identifier: MIT

// Package transcode supervises per-device ffmpeg processes that turn a
// stream source into a segmented HLS rendition.
package transcode

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/abdliliaai/visiony-guard-sub000/internal/log"
	"github.com/abdliliaai/visiony-guard-sub000/internal/metrics"
)

// PlaylistName is the per-device HLS playlist file name.
const PlaylistName = "index.m3u8"

// Lifecycle carries the signals a supervisor emits for one process.
// Exactly one of OnEnded or OnError fires per process, after OnStarted
// (unless the process dies before it starts producing output).
type Lifecycle struct {
	// OnStarted fires once when the transcode is considered live: the
	// playlist file appeared, or the settle delay elapsed with the
	// process still running.
	OnStarted func()

	// OnEnded fires when the process exits after a requested stop.
	OnEnded func()

	// OnError fires when the process exits without a requested stop.
	// There is no automatic restart; the failure is terminal for the
	// owning stream.
	OnError func(err error)
}

// Supervisor spawns and supervises transcode processes.
type Supervisor struct {
	BinPath     string
	HLSRoot     string
	StopGrace   time.Duration
	SettleDelay time.Duration
	logger      zerolog.Logger
}

// NewSupervisor creates a supervisor writing HLS output below hlsRoot.
func NewSupervisor(binPath, hlsRoot string, stopGrace time.Duration) *Supervisor {
	return &Supervisor{
		BinPath:     binPath,
		HLSRoot:     hlsRoot,
		StopGrace:   stopGrace,
		SettleDelay: 2 * time.Second,
		logger:      log.WithComponent("transcode"),
	}
}

// Process is an opaque handle to one running transcode.
type Process struct {
	deviceID string
	cmd      *exec.Cmd
	outDir   string
	stderr   *tailBuffer
	done     chan struct{}
	stopMu   sync.Mutex
	stopping bool
	logger   zerolog.Logger
}

// OutputDir returns the directory the process writes segments to.
func (p *Process) OutputDir() string {
	return p.outDir
}

// Start launches a transcode of sourceURI for deviceID and begins
// supervising it. Lifecycle signals are delivered on internal goroutines;
// callbacks must not block.
func (s *Supervisor) Start(ctx context.Context, deviceID, sourceURI string, lc Lifecycle) (*Process, error) {
	// No new processes once the daemon lifetime context is done.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	outDir := filepath.Join(s.HLSRoot, deviceID)
	if err := os.MkdirAll(outDir, 0o750); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	playlist := filepath.Join(outDir, PlaylistName)
	args := s.buildArgs(sourceURI, playlist)

	cmd := exec.Command(s.BinPath, args...) // #nosec G204 -- binary path comes from operator config
	stderr := newTailBuffer(4096)
	cmd.Stdout = nil
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("transcode start failed: %w", err)
	}

	p := &Process{
		deviceID: deviceID,
		cmd:      cmd,
		outDir:   outDir,
		stderr:   stderr,
		done:     make(chan struct{}),
		logger:   log.WithDevice("transcode", deviceID),
	}

	p.logger.Info().
		Str("event", "transcode.started").
		Str(log.FieldSource, sourceURI).
		Int(log.FieldPID, cmd.Process.Pid).
		Str("playlist", playlist).
		Msg("started transcode process")

	go p.wait(lc)
	go p.watchReady(playlist, s.SettleDelay, lc)

	return p, nil
}

// wait blocks on process exit and routes it to the right lifecycle signal.
func (p *Process) wait(lc Lifecycle) {
	err := p.cmd.Wait()
	close(p.done)

	p.stopMu.Lock()
	requested := p.stopping
	p.stopMu.Unlock()

	if requested {
		p.logger.Info().
			Str("event", "transcode.ended").
			Msg("transcode process ended after stop")
		if lc.OnEnded != nil {
			lc.OnEnded()
		}
		return
	}

	if err == nil {
		err = fmt.Errorf("transcode process exited unexpectedly")
	} else if msg := lastLine(p.stderr.String()); msg != "" {
		err = fmt.Errorf("transcode process failed: %w (%s)", err, msg)
	} else {
		err = fmt.Errorf("transcode process failed: %w", err)
	}
	metrics.SupervisorFailuresTotal.Inc()
	p.logger.Error().
		Err(err).
		Str("event", "transcode.error").
		Msg("transcode process failed")
	if lc.OnError != nil {
		lc.OnError(err)
	}
}

// watchReady signals OnStarted when the playlist appears or the settle
// delay elapses, whichever comes first. A process that dies before
// either never signals started.
func (p *Process) watchReady(playlist string, settle time.Duration, lc Lifecycle) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	deadline := time.NewTimer(settle)
	defer deadline.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-deadline.C:
			if lc.OnStarted != nil {
				lc.OnStarted()
			}
			return
		case <-ticker.C:
			if _, err := os.Stat(playlist); err == nil {
				if lc.OnStarted != nil {
					lc.OnStarted()
				}
				return
			}
		}
	}
}

// Stop terminates the process: interrupt, bounded grace, then kill.
// Idempotent; returns once the process has exited or the grace period
// (twice over) expired.
func (p *Process) Stop(ctx context.Context, grace time.Duration) error {
	p.stopMu.Lock()
	alreadyStopping := p.stopping
	p.stopping = true
	p.stopMu.Unlock()

	select {
	case <-p.done:
		return nil
	default:
	}

	if !alreadyStopping && p.cmd.Process != nil {
		_ = p.cmd.Process.Signal(os.Interrupt)
	}

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		_ = p.cmd.Process.Kill()
		return ctx.Err()
	case <-time.After(grace):
		p.logger.Warn().
			Str("event", "transcode.kill").
			Msg("transcode process did not exit within grace period, killing")
		_ = p.cmd.Process.Kill()
	}

	select {
	case <-p.done:
		return nil
	case <-time.After(grace):
		return fmt.Errorf("transcode process for %s did not exit after kill", p.deviceID)
	}
}

// Cleanup removes the per-device output directory.
func (p *Process) Cleanup() error {
	return os.RemoveAll(p.outDir)
}

// tailBuffer keeps the most recent max bytes written to it, so a
// long-running process cannot grow the diagnostics without bound.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if len(b.buf) > b.max {
		b.buf = b.buf[len(b.buf)-b.max:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.TrimSpace(string(b.buf))
}

// lastLine returns the final non-empty line, where ffmpeg puts the
// decisive error.
func lastLine(s string) string {
	lines := strings.Split(s, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}

func (s *Supervisor) buildArgs(sourceURI, playlist string) []string {
	args := []string{"-hide_banner", "-loglevel", "error"}
	if strings.HasPrefix(sourceURI, "rtsp://") {
		args = append(args, "-rtsp_transport", "tcp")
	}
	args = append(args,
		"-i", sourceURI,
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-tune", "zerolatency",
		"-c:a", "aac",
		"-f", "hls",
		"-hls_time", "2",
		"-hls_list_size", "6",
		"-hls_flags", "delete_segments+append_list",
		playlist,
	)
	return args
}
