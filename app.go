package main

import (
	"bytes"
	"context"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"terminalscan/internal/devicectl"
	"terminalscan/internal/discovery"
)

// App struct
type App struct {
	ctx     context.Context
	cancel  context.CancelFunc
	manager *discovery.Manager
	devices *devicectl.Pool
	emit    func(ctx context.Context, name string, data ...interface{})
}

// NewApp creates a new App application struct
func NewApp() *App {
	return &App{
		manager: discovery.NewManager(),
		devices: devicectl.NewPool(devicectl.Options{}),
		emit:    runtime.EventsEmit,
	}
}

// startup is called when the app starts. Scans run under a context derived
// from the window's so closing it stops them.
func (a *App) startup(ctx context.Context) {
	a.ctx, a.cancel = context.WithCancel(ctx)
}

func (a *App) shutdown(context.Context) {
	if a.cancel != nil {
		a.cancel()
	}
}

func (a *App) handleUpdate(update discovery.Update) {
	a.emit(a.ctx, "scan:update", update)
}

func (a *App) handleStatus(progress discovery.Progress) {
	a.emit(a.ctx, "scan:status", progress)
}

// DefaultConfig returns the defaults shown in the scan form.
func (a *App) DefaultConfig() discovery.Config {
	cfg := discovery.Config{}.WithDefaults()
	if subnets := discovery.DefaultSubnets(); len(subnets) > 0 {
		cfg.Subnet = subnets[0]
	}
	return cfg
}

// Subnets returns the shortlist of subnets offered to the user.
func (a *App) Subnets() []string {
	return discovery.DefaultSubnets()
}

// StartScan starts a new session, replacing any running one.
func (a *App) StartScan(config discovery.Config) (discovery.Snapshot, error) {
	return a.manager.Start(a.ctx, config, a.handleUpdate, a.handleStatus)
}

// PauseScan halts the active scan before its next batch.
func (a *App) PauseScan() (discovery.Progress, error) {
	return a.manager.Pause()
}

// ResumeScan continues a paused scan.
func (a *App) ResumeScan() (discovery.Progress, error) {
	return a.manager.Resume()
}

// CancelScan terminates the active scan.
func (a *App) CancelScan() (discovery.Progress, error) {
	return a.manager.Cancel()
}

// GetSnapshot returns the latest scan snapshot.
func (a *App) GetSnapshot() discovery.Snapshot {
	return a.manager.GetSnapshot()
}

// ExportResults exports the current scan snapshot to JSON.
func (a *App) ExportResults() (string, error) {
	data, err := a.manager.Export()
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (a *App) client(address string) (*devicectl.Client, error) {
	device, ok := a.manager.Device(address)
	if !ok {
		return nil, discovery.ErrUnknownDevice
	}
	if device.Classification != discovery.ClassRecognized {
		return nil, discovery.ErrNotManageable
	}
	return a.devices.Get(address)
}

// DeviceConfig reads a terminal's configuration.
func (a *App) DeviceConfig(address string) (*devicectl.DeviceConfig, error) {
	c, err := a.client(address)
	if err != nil {
		return nil, err
	}
	return c.Config(a.ctx)
}

// UpdateDeviceConfig posts a partial configuration to a terminal.
func (a *App) UpdateDeviceConfig(address string, fields map[string]interface{}) (devicectl.ActionResult, error) {
	c, err := a.client(address)
	if err != nil {
		return devicectl.ActionResult{}, err
	}
	return c.UpdateConfig(a.ctx, fields)
}

// DeviceStatus reads a terminal's runtime status.
func (a *App) DeviceStatus(address string) (*devicectl.Status, error) {
	c, err := a.client(address)
	if err != nil {
		return nil, err
	}
	return c.Status(a.ctx)
}

// DeviceLogs reads a terminal's offline log summary.
func (a *App) DeviceLogs(address string) (*devicectl.Logs, error) {
	c, err := a.client(address)
	if err != nil {
		return nil, err
	}
	return c.Logs(a.ctx)
}

// DeviceFirmware lists a terminal's firmware files.
func (a *App) DeviceFirmware(address string) ([]devicectl.FirmwareFile, error) {
	c, err := a.client(address)
	if err != nil {
		return nil, err
	}
	return c.Firmware(a.ctx)
}

// DeviceDownload fetches a firmware or log file from a terminal. A JSON error
// reply from the terminal is returned as a *devicectl.DownloadError.
func (a *App) DeviceDownload(address, file string) ([]byte, error) {
	c, err := a.client(address)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := c.Download(a.ctx, file, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DeviceAction runs sync, reset-wifi or restart on a terminal.
func (a *App) DeviceAction(address, name string) (devicectl.ActionResult, error) {
	c, err := a.client(address)
	if err != nil {
		return devicectl.ActionResult{}, err
	}
	return c.Action(a.ctx, name)
}

// SwitchDeviceNetwork moves a terminal to another Wi-Fi network.
func (a *App) SwitchDeviceNetwork(address, ssid, password string) (devicectl.ActionResult, error) {
	c, err := a.client(address)
	if err != nil {
		return devicectl.ActionResult{}, err
	}
	return c.SwitchNetwork(a.ctx, ssid, password)
}

// DeviceLatency pings a terminal.
func (a *App) DeviceLatency(address string) (devicectl.LatencyReport, error) {
	c, err := a.client(address)
	if err != nil {
		return devicectl.LatencyReport{}, err
	}
	return c.Latency(a.ctx, 3)
}
