package discovery

import (
	"errors"
	"fmt"
	"time"
)

const (
	// DefaultBatchSize is the number of addresses probed concurrently per batch.
	DefaultBatchSize = 60
	// DefaultProbeTimeoutMs bounds both sub-probes of a single address.
	DefaultProbeTimeoutMs = 400
	// DefaultYieldMs is the pause inserted between two batches.
	DefaultYieldMs = 10
)

// Range is an inclusive span of host octets.
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Size returns the number of host octets covered by the range.
func (r Range) Size() int {
	if r.End < r.Start {
		return 0
	}
	return r.End - r.Start + 1
}

func (r Range) String() string {
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}

// Config describes the parameters of a scan session.
type Config struct {
	Subnet         string   `json:"subnet"`
	Ranges         []Range  `json:"ranges,omitempty"`
	Targets        []string `json:"targets,omitempty"`
	BatchSize      int      `json:"batchSize"`
	ProbeTimeoutMs int      `json:"probeTimeoutMs"`
	YieldMs        int      `json:"yieldMs"`
}

// WithDefaults fills unset fields with the package defaults.
func (c Config) WithDefaults() Config {
	if len(c.Ranges) == 0 && len(c.Targets) == 0 {
		c.Ranges = DefaultRanges()
	}
	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.ProbeTimeoutMs == 0 {
		c.ProbeTimeoutMs = DefaultProbeTimeoutMs
	}
	if c.YieldMs == 0 {
		c.YieldMs = DefaultYieldMs
	}
	return c
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.Subnet == "" && len(c.Targets) == 0 {
		return errors.New("subnet is required")
	}
	if c.BatchSize <= 0 {
		return errors.New("batchSize must be greater than 0")
	}
	if c.ProbeTimeoutMs <= 0 {
		return errors.New("probeTimeoutMs must be greater than 0")
	}
	if c.YieldMs < 0 {
		return errors.New("yieldMs cannot be negative")
	}
	return nil
}

// ProbeTimeout returns the per-probe deadline as a duration.
func (c Config) ProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutMs) * time.Millisecond
}

// Yield returns the inter-batch pause as a duration.
func (c Config) Yield() time.Duration {
	return time.Duration(c.YieldMs) * time.Millisecond
}

// Identity is what a terminal reports on its configuration endpoint.
type Identity struct {
	DeviceID        string `json:"deviceId"`
	FirmwareVersion string `json:"firmwareVersion"`
	IsOnline        bool   `json:"isOnline"`
}

// ProbeResult is the outcome of probing one candidate address.
type ProbeResult struct {
	Address    string    `json:"address"`
	Reachable  bool      `json:"reachable"`
	Recognized bool      `json:"recognized"`
	Identity   *Identity `json:"identity,omitempty"`
}

// Classification tells recognized terminals apart from other HTTP hosts.
type Classification string

const (
	ClassRecognized Classification = "recognized"
	ClassGeneric    Classification = "generic"
)

// GenericTypeTag labels hosts that accepted a connection but gave no identity.
const GenericTypeTag = "unknown"

// Device is a host discovered during a scan session.
type Device struct {
	ID              string         `json:"id"`
	Address         string         `json:"address"`
	DisplayName     string         `json:"displayName"`
	Classification  Classification `json:"classification"`
	FirmwareVersion string         `json:"firmwareVersion,omitempty"`
	TypeTag         string         `json:"typeTag,omitempty"`
	Online          bool           `json:"online"`
	LastSeen        time.Time      `json:"lastSeen"`
}

// Summary is the final outcome of a session.
type Summary struct {
	Count   int      `json:"count"`
	Devices []Device `json:"devices"`
}

// ScanStatus represents the lifecycle state of a scan session.
type ScanStatus string

const (
	StatusIdle      ScanStatus = "idle"
	StatusRunning   ScanStatus = "running"
	StatusPaused    ScanStatus = "paused"
	StatusCancelled ScanStatus = "cancelled"
	StatusCompleted ScanStatus = "completed"
	StatusFailed    ScanStatus = "failed"
)

// Progress contains a summary of the current scan progress.
type Progress struct {
	SessionID   string     `json:"sessionId"`
	Total       int        `json:"total"`
	Processed   int        `json:"processed"`
	Batches     int        `json:"batches"`
	BatchesDone int        `json:"batchesDone"`
	Percent     int        `json:"percent"`
	Found       int        `json:"found"`
	Status      ScanStatus `json:"status"`
	Message     string     `json:"message,omitempty"`
}

// Snapshot is a point-in-time view of a session's configuration, devices and progress.
type Snapshot struct {
	Config   Config    `json:"config"`
	Progress Progress  `json:"progress"`
	Devices  []Device  `json:"devices"`
	Updated  time.Time `json:"updated"`
}

// Update carries the devices discovered by one batch.
type Update struct {
	Devices  []Device `json:"devices"`
	Progress Progress `json:"progress"`
}

var (
	// ErrNoActiveScan indicates there is no running or paused scan to control.
	ErrNoActiveScan = errors.New("no active scan")
	// ErrNoTargets indicates the planner produced an empty address sequence.
	ErrNoTargets = errors.New("no targets resolved from subnet")
	// ErrAggregatorClosed is returned when results arrive after finalization.
	ErrAggregatorClosed = errors.New("aggregator already finalized")
	// ErrMalformedResult is returned for results the aggregator cannot map.
	ErrMalformedResult = errors.New("malformed probe result")
	// ErrUnknownDevice is returned for addresses the current session has not found.
	ErrUnknownDevice = errors.New("device not found in the current session")
	// ErrNotManageable is returned for generic hosts, which expose no device API.
	ErrNotManageable = errors.New("device is not a recognized terminal")
)
