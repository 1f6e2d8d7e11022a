// SPDX-License-Identifier: MIT

// Package registry is the authoritative in-memory table of active
// per-device streams. All lifecycle state flows through it: it launches
// the transcode supervisor and detection loop on start and tears both
// down on stop. No other component keeps parallel stream state.
package registry

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/abdliliaai/visiony-guard-sub000/internal/log"
	"github.com/abdliliaai/visiony-guard-sub000/internal/metrics"
	"github.com/abdliliaai/visiony-guard-sub000/internal/pipeline"
	"github.com/abdliliaai/visiony-guard-sub000/internal/transcode"
	"github.com/abdliliaai/visiony-guard-sub000/internal/types"
)

// Entry is the externally visible snapshot of one stream. It never
// exposes process or loop handles.
type Entry struct {
	DeviceID        string             `json:"deviceId"`
	SourceURI       string             `json:"sourceURI"`
	TenantID        string             `json:"tenantId"`
	Status          types.StreamStatus `json:"status"`
	StartedAt       time.Time          `json:"startedAt"`
	LastSnapshotRef string             `json:"lastSnapshotRef,omitempty"`
}

// ProcessHandle is the registry's view of a running transcode process.
type ProcessHandle interface {
	Stop(ctx context.Context, grace time.Duration) error
	Cleanup() error
}

// Supervisor launches supervised transcode processes.
type Supervisor interface {
	Start(ctx context.Context, deviceID, sourceURI string, lc transcode.Lifecycle) (ProcessHandle, error)
}

// WrapSupervisor adapts the concrete transcode supervisor to the
// registry's Supervisor interface.
func WrapSupervisor(s *transcode.Supervisor) Supervisor {
	return supervisorAdapter{s}
}

type supervisorAdapter struct {
	s *transcode.Supervisor
}

func (a supervisorAdapter) Start(ctx context.Context, deviceID, sourceURI string, lc transcode.Lifecycle) (ProcessHandle, error) {
	return a.s.Start(ctx, deviceID, sourceURI, lc)
}

// Deps bundles the registry's collaborators.
type Deps struct {
	Supervisor Supervisor
	Grabber    pipeline.FrameGrabber
	Detector   pipeline.Detector
	Thresholds pipeline.ThresholdSource
	Publisher  pipeline.EventPublisher
	Status     pipeline.StatusWriter

	TickInterval  time.Duration
	StopGrace     time.Duration
	CleanupOnStop bool
}

// stream is the internal record: entry snapshot plus owned handles.
type stream struct {
	mu    sync.Mutex
	entry Entry
	proc  ProcessHandle
	loop  *pipeline.Loop
}

// Registry implements start/stop/list/get over the stream table.
// Start/stop for the same device serialize on a per-device lock;
// unrelated devices proceed fully in parallel.
type Registry struct {
	rootCtx context.Context
	deps    Deps
	logger  zerolog.Logger

	mu      sync.RWMutex
	streams map[string]*stream
	keys    *keyedMutex
}

// New creates a registry. rootCtx bounds the lifetime of all loops.
func New(rootCtx context.Context, deps Deps) *Registry {
	return &Registry{
		rootCtx: rootCtx,
		deps:    deps,
		logger:  log.WithComponent("registry"),
		streams: make(map[string]*stream),
		keys:    newKeyedMutex(),
	}
}

var allowedSchemes = map[string]bool{
	"rtsp":  true,
	"rtmp":  true,
	"http":  true,
	"https": true,
	"file":  true,
}

func validateSource(sourceURI string) error {
	if sourceURI == "" {
		return ErrInvalidSource
	}
	u, err := url.Parse(sourceURI)
	if err != nil || !allowedSchemes[u.Scheme] {
		return ErrInvalidSource
	}
	return nil
}

// Start registers a stream for deviceID and launches its transcode.
// It returns once the entry is registered, not once the stream flows.
// Starting an already-active device is a warning no-op returning the
// existing entry. An invalid source URI is rejected synchronously and
// never enters the registry.
func (r *Registry) Start(ctx context.Context, deviceID, sourceURI, tenantID string) (Entry, error) {
	if err := validateSource(sourceURI); err != nil {
		return Entry{}, err
	}

	r.keys.Lock(deviceID)
	defer r.keys.Unlock(deviceID)

	// The request may have been abandoned while waiting for the
	// per-device lock.
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}

	r.mu.RLock()
	existing, ok := r.streams[deviceID]
	r.mu.RUnlock()
	if ok {
		r.logger.Warn().
			Str("event", "stream.start_duplicate").
			Str(log.FieldDeviceID, deviceID).
			Msg("start requested for already-active device")
		return existing.snapshot(), nil
	}

	st := &stream{
		entry: Entry{
			DeviceID:  deviceID,
			SourceURI: sourceURI,
			TenantID:  tenantID,
			Status:    types.StreamStarting,
			StartedAt: time.Now().UTC(),
		},
	}
	st.loop = pipeline.NewLoop(deviceID, tenantID, sourceURI, r.deps.TickInterval, pipeline.Deps{
		Grabber:    r.deps.Grabber,
		Detector:   r.deps.Detector,
		Thresholds: r.deps.Thresholds,
		Publisher:  r.deps.Publisher,
		Status:     r.deps.Status,
		OnEvent:    func(ev types.Event) { r.recordEvent(deviceID, ev) },
	})

	// Register before launching so lifecycle callbacks from a process
	// that starts (or dies) immediately find the entry. The per-device
	// lock keeps a concurrent Stop out until the handle is attached.
	r.mu.Lock()
	r.streams[deviceID] = st
	r.mu.Unlock()

	proc, err := r.deps.Supervisor.Start(r.rootCtx, deviceID, sourceURI, transcode.Lifecycle{
		OnStarted: func() { r.onSupervisorStarted(deviceID) },
		OnEnded:   func() { r.onSupervisorEnded(deviceID) },
		OnError:   func(err error) { r.onSupervisorError(deviceID, err) },
	})
	if err != nil {
		r.mu.Lock()
		delete(r.streams, deviceID)
		r.mu.Unlock()
		r.logger.Error().
			Err(err).
			Str("event", "stream.start_failed").
			Str(log.FieldDeviceID, deviceID).
			Msg("transcode launch failed")
		return Entry{}, err
	}
	st.proc = proc
	metrics.ActiveStreams.Set(float64(r.count()))

	r.logger.Info().
		Str("event", "stream.start").
		Str(log.FieldDeviceID, deviceID).
		Str(log.FieldTenantID, tenantID).
		Str(log.FieldSource, sourceURI).
		Msg("stream registered")

	return st.snapshot(), nil
}

// Stop tears down the stream for deviceID: the detection loop is
// cancelled first (no further ticks), then the transcode process is
// terminated within the grace period, then the entry is removed.
func (r *Registry) Stop(ctx context.Context, deviceID string) error {
	r.keys.Lock(deviceID)
	defer r.keys.Unlock(deviceID)

	r.mu.RLock()
	st, ok := r.streams[deviceID]
	r.mu.RUnlock()
	if !ok {
		r.logger.Warn().
			Str("event", "stream.stop_unknown").
			Str(log.FieldDeviceID, deviceID).
			Msg("stop requested for unknown device")
		return ErrNotFound
	}

	st.transition(types.StreamStopped)
	st.loop.Stop()

	if err := st.proc.Stop(ctx, r.deps.StopGrace); err != nil {
		r.logger.Warn().
			Err(err).
			Str("event", "stream.stop_grace_exceeded").
			Str(log.FieldDeviceID, deviceID).
			Msg("transcode did not stop cleanly")
	}
	if r.deps.CleanupOnStop {
		if err := st.proc.Cleanup(); err != nil {
			r.logger.Warn().Err(err).Str(log.FieldDeviceID, deviceID).Msg("output cleanup failed")
		}
	}

	r.mu.Lock()
	delete(r.streams, deviceID)
	r.mu.Unlock()
	metrics.ActiveStreams.Set(float64(r.count()))

	r.markOffline(deviceID)

	r.logger.Info().
		Str("event", "stream.stop").
		Str(log.FieldDeviceID, deviceID).
		Msg("stream stopped and removed")

	return nil
}

// StopAll stops every active stream via the per-device stop path,
// bounded overall by ctx.
func (r *Registry) StopAll(ctx context.Context) error {
	r.mu.RLock()
	ids := make([]string, 0, len(r.streams))
	for id := range r.streams {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		g.Go(func() error {
			if err := r.Stop(ctx, id); err != nil && err != ErrNotFound {
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

// List returns a snapshot of all entries.
func (r *Registry) List() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]Entry, 0, len(r.streams))
	for _, st := range r.streams {
		entries = append(entries, st.snapshot())
	}
	return entries
}

// Get returns the entry for deviceID, if present.
func (r *Registry) Get(deviceID string) (Entry, bool) {
	r.mu.RLock()
	st, ok := r.streams[deviceID]
	r.mu.RUnlock()
	if !ok {
		return Entry{}, false
	}
	return st.snapshot(), true
}

// Count returns the number of registered streams.
func (r *Registry) Count() int {
	return r.count()
}

func (r *Registry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.streams)
}

// onSupervisorStarted transitions the stream to running and starts the
// detection loop. A stream already stopped or failed stays put: status
// transitions are monotonic within one lifecycle.
func (r *Registry) onSupervisorStarted(deviceID string) {
	r.mu.RLock()
	st, ok := r.streams[deviceID]
	r.mu.RUnlock()
	if !ok {
		return
	}

	st.mu.Lock()
	if !st.entry.Status.CanTransition(types.StreamRunning) {
		st.mu.Unlock()
		return
	}
	old := st.entry.Status
	st.entry.Status = types.StreamRunning
	loop := st.loop
	st.mu.Unlock()

	r.logStateChange(deviceID, old, types.StreamRunning)
	loop.Run(r.rootCtx)
	r.markOnline(deviceID)
}

// onSupervisorError marks the stream failed and stops its loop. The
// entry stays visible in error status so list/health reflect the
// failure; removal happens via the explicit stop path. There is no
// implicit restart.
func (r *Registry) onSupervisorError(deviceID string, procErr error) {
	r.mu.RLock()
	st, ok := r.streams[deviceID]
	r.mu.RUnlock()
	if !ok {
		return
	}

	st.mu.Lock()
	if !st.entry.Status.CanTransition(types.StreamError) {
		st.mu.Unlock()
		return
	}
	old := st.entry.Status
	st.entry.Status = types.StreamError
	loop := st.loop
	st.mu.Unlock()

	r.logger.Error().
		Err(procErr).
		Str("event", "stream.error").
		Str(log.FieldDeviceID, deviceID).
		Msg("transcode failed, stream is terminal")
	r.logStateChange(deviceID, old, types.StreamError)

	loop.Stop()
	r.markOffline(deviceID)
}

// onSupervisorEnded fires when the process exits after a requested
// stop; the stop path owns the state change, nothing to do here.
func (r *Registry) onSupervisorEnded(deviceID string) {
	r.logger.Debug().
		Str("event", "stream.transcode_ended").
		Str(log.FieldDeviceID, deviceID).
		Msg("transcode ended")
}

func (r *Registry) recordEvent(deviceID string, ev types.Event) {
	if ev.ImageRef == "" {
		return
	}
	r.mu.RLock()
	st, ok := r.streams[deviceID]
	r.mu.RUnlock()
	if !ok {
		return
	}
	st.mu.Lock()
	st.entry.LastSnapshotRef = ev.ImageRef
	st.mu.Unlock()
}

func (r *Registry) markOnline(deviceID string) {
	r.upsertStatus(deviceID, true)
}

func (r *Registry) markOffline(deviceID string) {
	r.upsertStatus(deviceID, false)
}

// upsertStatus is best-effort: a datastore hiccup must not affect the
// lifecycle paths that call it.
func (r *Registry) upsertStatus(deviceID string, online bool) {
	if r.deps.Status == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := r.deps.Status.UpsertDeviceStatus(ctx, types.DeviceStatus{
		DeviceID: deviceID,
		Online:   online,
		LastSeen: time.Now().UTC(),
	})
	if err != nil {
		r.logger.Warn().
			Err(err).
			Str(log.FieldDeviceID, deviceID).
			Msg("device status upsert failed")
	}
}

func (r *Registry) logStateChange(deviceID string, old, next types.StreamStatus) {
	r.logger.Info().
		Str("event", "stream.state").
		Str(log.FieldDeviceID, deviceID).
		Str(log.FieldOldState, old.String()).
		Str(log.FieldNewState, next.String()).
		Msg("stream state changed")
}

func (s *stream) snapshot() Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entry
}

// transition forces the entry into next when legal; used by the stop
// path before teardown so late supervisor callbacks cannot resurrect
// the stream.
func (s *stream) transition(next types.StreamStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.entry.Status.CanTransition(next) {
		return
	}
	s.entry.Status = next
}
