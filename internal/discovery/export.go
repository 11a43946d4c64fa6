package discovery

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"time"
)

const exportVersion = 1

// ExportConfig holds session configuration metadata in exported files.
type ExportConfig struct {
	Subnet         string   `json:"subnet,omitempty"`
	Ranges         []string `json:"ranges,omitempty"`
	Targets        []string `json:"targets,omitempty"`
	BatchSize      int      `json:"batch_size"`
	ProbeTimeoutMs int      `json:"probe_timeout_ms"`
}

// Export is the serialisable summary of one session.
type Export struct {
	GeneratedAt time.Time    `json:"generated_at"`
	SessionID   string       `json:"session_id"`
	Status      ScanStatus   `json:"status"`
	Config      ExportConfig `json:"config"`
	Count       int          `json:"count"`
	Devices     []Device     `json:"devices"`
}

// ErrNothingToExport is returned when no session has run yet.
var ErrNothingToExport = errors.New("no scan data to export")

// Save writes a snapshot to w as a versioned JSON document.
func Save(w io.Writer, snapshot Snapshot) error {
	if snapshot.Progress.SessionID == "" {
		return ErrNothingToExport
	}
	export := Export{
		GeneratedAt: time.Now().UTC(),
		SessionID:   snapshot.Progress.SessionID,
		Status:      snapshot.Progress.Status,
		Config: ExportConfig{
			Subnet:         snapshot.Config.Subnet,
			Targets:        snapshot.Config.Targets,
			BatchSize:      snapshot.Config.BatchSize,
			ProbeTimeoutMs: snapshot.Config.ProbeTimeoutMs,
		},
		Count:   len(snapshot.Devices),
		Devices: snapshot.Devices,
	}
	for _, r := range snapshot.Config.Ranges {
		export.Config.Ranges = append(export.Config.Ranges, r.String())
	}
	if export.Devices == nil {
		export.Devices = []Device{}
	}

	payload := struct {
		Version int    `json:"version"`
		Export  Export `json:"export"`
	}{
		Version: exportVersion,
		Export:  export,
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(payload)
}

// Export serialises the current session to JSON.
func (m *Manager) Export() ([]byte, error) {
	snapshot := m.GetSnapshot()
	var buf bytes.Buffer
	if err := Save(&buf, snapshot); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
