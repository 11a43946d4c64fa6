package devicectl

import (
	"errors"
	"time"
)

// Action names accepted by a terminal's action endpoint.
const (
	ActionSync          = "sync"
	ActionResetWiFi     = "reset-wifi"
	ActionRestart       = "restart"
	actionSwitchNetwork = "switch-network"
)

// ActionResult is the common reply to mutating calls.
type ActionResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Text returns whichever of message or error the terminal filled in.
func (r ActionResult) Text() string {
	if r.Message != "" {
		return r.Message
	}
	return r.Error
}

// DeviceConfig is a terminal's configuration document. Fields holds every
// top-level key, including the ones surfaced as typed fields.
type DeviceConfig struct {
	DeviceID        string         `json:"deviceId"`
	FirmwareVersion string         `json:"firmwareVersion"`
	IsOnline        bool           `json:"isOnline"`
	Fields          map[string]any `json:"fields"`
}

// Heartbeat reports how long ago the terminal last reached its backend.
type Heartbeat struct {
	TimeSinceLastHeartbeat int64 `json:"timeSinceLastHeartbeat"`
}

// NetworkStatus describes the terminal's Wi-Fi link.
type NetworkStatus struct {
	WifiConnected bool   `json:"wifiConnected"`
	SSID          string `json:"ssid"`
	RSSI          int    `json:"rssi"`
}

// LastScan is the most recent badge read.
type LastScan struct {
	Name    string `json:"name"`
	Time    string `json:"time"`
	Message string `json:"message"`
}

// Status is the terminal's runtime status.
type Status struct {
	SystemInitialized bool           `json:"systemInitialized"`
	Uptime            int64          `json:"uptime"`
	FreeHeap          int64          `json:"freeHeap"`
	Heartbeat         *Heartbeat     `json:"heartbeat,omitempty"`
	Network           *NetworkStatus `json:"network,omitempty"`
	LastScan          *LastScan      `json:"lastScan,omitempty"`
}

// UptimeDuration converts the millisecond uptime.
func (s Status) UptimeDuration() time.Duration {
	return time.Duration(s.Uptime) * time.Millisecond
}

// Filesystem reports flash usage.
type Filesystem struct {
	UsedBytes  int64 `json:"usedBytes"`
	TotalBytes int64 `json:"totalBytes"`
}

// Logs summarises records buffered while the terminal was offline.
type Logs struct {
	OfflineCount int        `json:"offlineCount"`
	Filesystem   Filesystem `json:"filesystem"`
}

// FirmwareFile is one entry of the terminal's firmware listing.
type FirmwareFile struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Type        string `json:"type"`
	Size        int64  `json:"size"`
	Available   *bool  `json:"available,omitempty"`
}

// DownloadError is returned when a download answers with a JSON error body
// instead of file content.
type DownloadError struct {
	Message string `json:"error"`
	Note    string `json:"note,omitempty"`
}

func (e *DownloadError) Error() string {
	if e.Note != "" {
		return e.Message + " (" + e.Note + ")"
	}
	return e.Message
}

var (
	// ErrActionFailed is returned when a terminal answers success=false.
	ErrActionFailed = errors.New("device rejected the request")
	// ErrUnknownAction is returned for action names the terminal does not expose.
	ErrUnknownAction = errors.New("unknown device action")
	// ErrInvalidAddress is returned for addresses that are not IPv4 literals.
	ErrInvalidAddress = errors.New("invalid device address")
	// ErrUnexpectedResponse is returned when a reply cannot be decoded.
	ErrUnexpectedResponse = errors.New("unexpected device response")
)
