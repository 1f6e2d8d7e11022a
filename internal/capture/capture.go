// SPDX-License-Identifier: MIT

// Package capture extracts single still frames from a stream source.
package capture

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/abdliliaai/visiony-guard-sub000/internal/log"
)

// Grabber extracts one JPEG frame from a source URI on demand.
type Grabber struct {
	BinPath string
	Timeout time.Duration
	logger  zerolog.Logger
}

// NewGrabber creates a frame grabber using the given ffmpeg binary.
func NewGrabber(binPath string, timeout time.Duration) *Grabber {
	return &Grabber{
		BinPath: binPath,
		Timeout: timeout,
		logger:  log.WithComponent("capture"),
	}
}

// Grab samples a single frame from sourceURI and returns it as JPEG
// bytes. The call is bounded by the grabber timeout; on expiry the child
// process is killed and an error is returned.
func (g *Grabber) Grab(ctx context.Context, sourceURI string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, g.Timeout)
	defer cancel()

	args := buildArgs(sourceURI)
	cmd := exec.CommandContext(ctx, g.BinPath, args...) // #nosec G204 -- binary path comes from operator config

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("frame capture timed out after %s: %w", g.Timeout, ctx.Err())
		}
		return nil, fmt.Errorf("frame capture failed: %w (%s)", err, firstLine(stderr.String()))
	}

	if stdout.Len() == 0 {
		return nil, fmt.Errorf("frame capture produced no data (%s)", firstLine(stderr.String()))
	}

	g.logger.Debug().
		Str("event", "capture.grab").
		Str(log.FieldSource, sourceURI).
		Int("bytes", stdout.Len()).
		Dur("duration", time.Since(start)).
		Msg("frame captured")

	return stdout.Bytes(), nil
}

func buildArgs(sourceURI string) []string {
	args := []string{"-hide_banner", "-loglevel", "error"}
	if strings.HasPrefix(sourceURI, "rtsp://") {
		args = append(args, "-rtsp_transport", "tcp")
	}
	args = append(args,
		"-i", sourceURI,
		"-frames:v", "1",
		"-q:v", "2",
		"-f", "image2",
		"pipe:1",
	)
	return args
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
