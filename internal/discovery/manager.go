package discovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/projectdiscovery/gologger"
	"github.com/rs/xid"
)

// ProberFactory builds the prober used by a session.
type ProberFactory func(cfg Config) Prober

// DefaultProberFactory probes over HTTP with the session's timeout.
func DefaultProberFactory(cfg Config) Prober {
	return NewHTTPProbe(cfg.ProbeTimeout())
}

// Manager orchestrates scan sessions and tracks their progress. Starting a new
// session replaces the current one.
type Manager struct {
	mu          sync.Mutex
	sessionID   string
	config      Config
	status      ScanStatus
	devices     []Device
	total       int
	processed   int
	batches     int
	batchesDone int
	percent     int
	message     string

	scanCancel context.CancelFunc
	done       chan struct{}

	pauseMu   sync.Mutex
	pauseCond *sync.Cond
	paused    bool

	newProber     ProberFactory
	updateHandler func(Update)
	statusHandler func(Progress)
}

// NewManager creates a Manager with default values.
func NewManager() *Manager {
	return NewManagerWithProber(DefaultProberFactory)
}

// NewManagerWithProber creates a Manager that probes through factory.
func NewManagerWithProber(factory ProberFactory) *Manager {
	m := &Manager{
		status:    StatusIdle,
		newProber: factory,
	}
	m.pauseCond = sync.NewCond(&m.pauseMu)
	return m
}

// Start plans the address space and begins a new session. A running session
// is cancelled and replaced. Planning errors are returned before anything runs.
func (m *Manager) Start(ctx context.Context, config Config, update func(Update), status func(Progress)) (Snapshot, error) {
	config = config.WithDefaults()
	if err := config.Validate(); err != nil {
		return Snapshot{}, err
	}

	targets, err := resolveTargets(config)
	if err != nil {
		return Snapshot{}, err
	}
	if len(targets) == 0 {
		return Snapshot{}, ErrNoTargets
	}

	m.mu.Lock()
	if m.scanCancel != nil {
		gologger.Verbose().Msgf("replacing scan session %s", m.sessionID)
		m.scanCancel()
		m.scanCancel = nil
	}
	m.releasePause()

	scanCtx, cancel := context.WithCancel(ctx)
	id := xid.New().String()
	m.sessionID = id
	m.scanCancel = cancel
	m.done = make(chan struct{})
	m.config = config
	m.devices = nil
	m.total = len(targets)
	m.processed = 0
	m.batches = len(Batches(targets, config.BatchSize))
	m.batchesDone = 0
	m.percent = 0
	m.message = ""
	m.updateHandler = update
	m.statusHandler = status
	m.status = StatusRunning

	snapshot := m.snapshotLocked()
	done := m.done
	m.mu.Unlock()

	gologger.Info().Msgf("scan %s started: %d addresses in %d batches", id, len(targets), snapshot.Progress.Batches)
	emitStatus(status, snapshot.Progress)

	go m.run(scanCtx, cancel, id, config, targets, done)

	return snapshot, nil
}

// Pause holds the session before its next batch.
func (m *Manager) Pause() (Progress, error) {
	m.mu.Lock()
	if m.status != StatusRunning {
		progress := m.snapshotLocked().Progress
		m.mu.Unlock()
		return progress, ErrNoActiveScan
	}
	m.pauseMu.Lock()
	m.paused = true
	m.pauseMu.Unlock()
	m.status = StatusPaused
	progress := m.snapshotLocked().Progress
	handler := m.statusHandler
	m.mu.Unlock()

	emitStatus(handler, progress)
	return progress, nil
}

// Resume continues a paused session.
func (m *Manager) Resume() (Progress, error) {
	m.mu.Lock()
	if m.status != StatusPaused {
		progress := m.snapshotLocked().Progress
		m.mu.Unlock()
		return progress, ErrNoActiveScan
	}
	m.releasePause()
	m.status = StatusRunning
	progress := m.snapshotLocked().Progress
	handler := m.statusHandler
	m.mu.Unlock()

	emitStatus(handler, progress)
	return progress, nil
}

// Cancel stops scheduling further batches. Probes already in flight drain.
func (m *Manager) Cancel() (Progress, error) {
	m.mu.Lock()
	if m.status != StatusRunning && m.status != StatusPaused {
		progress := m.snapshotLocked().Progress
		m.mu.Unlock()
		return progress, ErrNoActiveScan
	}
	if m.scanCancel != nil {
		m.scanCancel()
	}
	m.releasePause()
	m.status = StatusCancelled
	m.message = "scan cancelled"
	progress := m.snapshotLocked().Progress
	handler := m.statusHandler
	m.mu.Unlock()

	emitStatus(handler, progress)
	return progress, nil
}

// Wait blocks until the current session terminates or ctx is done.
func (m *Manager) Wait(ctx context.Context) error {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetSnapshot returns the latest snapshot of the session state.
func (m *Manager) GetSnapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Device looks up a device of the current session by address.
func (m *Manager) Device(address string) (Device, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, device := range m.devices {
		if device.Address == address {
			return device, true
		}
	}
	return Device{}, false
}

// releasePause must be called with m.mu held.
func (m *Manager) releasePause() {
	m.pauseMu.Lock()
	m.paused = false
	m.pauseCond.Broadcast()
	m.pauseMu.Unlock()
}

func (m *Manager) waitWhilePaused(ctx context.Context) error {
	m.pauseMu.Lock()
	defer m.pauseMu.Unlock()
	for m.paused && ctx.Err() == nil {
		m.pauseCond.Wait()
	}
	return ctx.Err()
}

func (m *Manager) run(ctx context.Context, cancel context.CancelFunc, id string, config Config, targets []string, done chan struct{}) {
	defer close(done)
	defer cancel()

	// wake a paused gate when the session context ends
	stop := context.AfterFunc(ctx, func() {
		m.pauseMu.Lock()
		m.pauseCond.Broadcast()
		m.pauseMu.Unlock()
	})
	defer stop()

	agg := NewAggregator()
	scheduler := &Scheduler{
		Prober:    m.newProber(config),
		BatchSize: config.BatchSize,
		Yield:     config.Yield(),
		Gate:      m.waitWhilePaused,
	}

	err := scheduler.Run(ctx, targets, agg, func(report BatchReport) {
		m.mu.Lock()
		if m.sessionID != id {
			m.mu.Unlock()
			return
		}
		m.devices = report.Devices
		m.processed = report.Processed
		m.batchesDone = report.Index + 1
		// the last batch reports 100; completion is announced below
		if report.Percent > m.percent && report.Processed < report.Total {
			m.percent = report.Percent
		}
		snapshot := m.snapshotLocked()
		update, status := m.updateHandler, m.statusHandler
		m.mu.Unlock()

		if len(report.NewDevices) > 0 && update != nil {
			update(Update{Devices: report.NewDevices, Progress: snapshot.Progress})
		}
		emitStatus(status, snapshot.Progress)
	})

	m.mu.Lock()
	if m.sessionID != id {
		m.mu.Unlock()
		return
	}
	m.scanCancel = nil
	switch {
	case m.status == StatusCancelled:
		// Cancel already announced the session; keep drained devices
		m.message = "scan cancelled"
	case err == nil:
		summary := agg.Finalize()
		m.devices = summary.Devices
		m.percent = 100
		m.status = StatusCompleted
		m.message = fmt.Sprintf("found %d device(s)", summary.Count)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		m.status = StatusCancelled
		m.message = "scan cancelled"
	default:
		m.devices = nil
		m.status = StatusFailed
		m.message = fmt.Sprintf("scan failed: %v", err)
	}
	snapshot := m.snapshotLocked()
	handler := m.statusHandler
	m.mu.Unlock()

	switch snapshot.Progress.Status {
	case StatusCompleted:
		gologger.Info().Msgf("scan %s completed: %s", id, snapshot.Progress.Message)
	case StatusFailed:
		gologger.Error().Msgf("scan %s failed: %v", id, err)
	default:
		gologger.Warning().Msgf("scan %s cancelled after %d/%d addresses", id, snapshot.Progress.Processed, snapshot.Progress.Total)
	}
	emitStatus(handler, snapshot.Progress)
}

func emitStatus(handler func(Progress), progress Progress) {
	if handler != nil {
		handler(progress)
	}
}

func (m *Manager) snapshotLocked() Snapshot {
	devices := make([]Device, len(m.devices))
	copy(devices, m.devices)
	return Snapshot{
		Config: m.config,
		Progress: Progress{
			SessionID:   m.sessionID,
			Total:       m.total,
			Processed:   m.processed,
			Batches:     m.batches,
			BatchesDone: m.batchesDone,
			Percent:     m.percent,
			Found:       len(devices),
			Status:      m.status,
			Message:     m.message,
		},
		Devices: devices,
		Updated: time.Now().UTC(),
	}
}
