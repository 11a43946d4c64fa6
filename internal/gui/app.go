package gui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/projectdiscovery/gologger"

	"terminalscan/internal/devicectl"
	"terminalscan/internal/discovery"
)

const latencyAttempts = 3

// App hosts the web-based admin panel.
type App struct {
	manager *discovery.Manager
	devices *devicectl.Pool

	// scans outlive the request that started them
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	clients map[chan event]struct{}
}

// New constructs an App probing the real network.
func New() *App {
	return NewWithDeps(discovery.NewManager(), devicectl.NewPool(devicectl.Options{}))
}

// NewWithDeps constructs an App around an existing manager and client pool.
func NewWithDeps(manager *discovery.Manager, devices *devicectl.Pool) *App {
	ctx, cancel := context.WithCancel(context.Background())
	return &App{
		manager: manager,
		devices: devices,
		ctx:     ctx,
		cancel:  cancel,
		clients: make(map[chan event]struct{}),
	}
}

// Manager exposes the scan manager driving the panel.
func (a *App) Manager() *discovery.Manager {
	return a.manager
}

// Handler returns the panel's routes.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", a.handleIndex)
	mux.HandleFunc("/subnets", a.handleSubnets)
	mux.HandleFunc("/start", a.handleStart)
	mux.HandleFunc("/pause", a.handlePause)
	mux.HandleFunc("/resume", a.handleResume)
	mux.HandleFunc("/cancel", a.handleCancel)
	mux.HandleFunc("/snapshot", a.handleSnapshot)
	mux.HandleFunc("/events", a.handleEvents)
	mux.HandleFunc("/export", a.handleExport)
	mux.HandleFunc("/device/config", a.handleDeviceConfig)
	mux.HandleFunc("/device/status", a.handleDeviceStatus)
	mux.HandleFunc("/device/logs", a.handleDeviceLogs)
	mux.HandleFunc("/device/firmware", a.handleDeviceFirmware)
	mux.HandleFunc("/device/download", a.handleDeviceDownload)
	mux.HandleFunc("/device/action", a.handleDeviceAction)
	mux.HandleFunc("/device/latency", a.handleDeviceLatency)
	return mux
}

// Run serves the panel on addr until ctx is done. An empty addr picks a free
// loopback port.
func (a *App) Run(ctx context.Context, addr string, openBrowser bool) error {
	if addr == "" {
		addr = "127.0.0.1:0"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	url := "http://" + ln.Addr().String()
	gologger.Info().Msgf("web panel available at %s", url)
	if openBrowser {
		launchBrowser(url)
	}

	server := &http.Server{Handler: a.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		a.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close cancels any running scan and disconnects event streams.
func (a *App) Close() {
	a.cancel()
	a.mu.Lock()
	defer a.mu.Unlock()
	for ch := range a.clients {
		delete(a.clients, ch)
		close(ch)
	}
}

func (a *App) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	io.WriteString(w, indexHTML)
}

func (a *App) handleSubnets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"subnets": discovery.DefaultSubnets(),
		"ranges":  discovery.DefaultRanges(),
		"defaults": discovery.Config{
			BatchSize:      discovery.DefaultBatchSize,
			ProbeTimeoutMs: discovery.DefaultProbeTimeoutMs,
			YieldMs:        discovery.DefaultYieldMs,
		},
	})
}

func (a *App) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var cfg discovery.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		http.Error(w, "invalid request payload", http.StatusBadRequest)
		return
	}
	cfg.Subnet = strings.TrimSpace(cfg.Subnet)

	snapshot, err := a.manager.Start(a.ctx, cfg, a.onUpdate, a.onStatus)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusAccepted, snapshot)
}

func (a *App) handlePause(w http.ResponseWriter, r *http.Request) {
	a.control(w, r, a.manager.Pause)
}

func (a *App) handleResume(w http.ResponseWriter, r *http.Request) {
	a.control(w, r, a.manager.Resume)
}

func (a *App) handleCancel(w http.ResponseWriter, r *http.Request) {
	a.control(w, r, a.manager.Cancel)
}

func (a *App) control(w http.ResponseWriter, r *http.Request, op func() (discovery.Progress, error)) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	progress, err := op()
	if errors.Is(err, discovery.ErrNoActiveScan) {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

func (a *App) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, a.manager.GetSnapshot())
}

func (a *App) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	data, err := a.manager.Export()
	if errors.Is(err, discovery.ErrNothingToExport) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", "attachment; filename=terminals.json")
	w.Write(data)
}

func (a *App) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	ch := make(chan event, 16)
	if !a.addClient(ch) {
		http.Error(w, "panel is shutting down", http.StatusServiceUnavailable)
		return
	}
	defer a.removeClient(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	snapshot := a.manager.GetSnapshot()
	writeEvent(w, event{Type: "snapshot", Progress: snapshot.Progress, Devices: snapshot.Devices})
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			writeEvent(w, ev)
			flusher.Flush()
		}
	}
}

func (a *App) onUpdate(update discovery.Update) {
	a.broadcast(event{Type: "update", Progress: update.Progress, Devices: update.Devices})
}

func (a *App) onStatus(progress discovery.Progress) {
	a.broadcast(event{Type: "status", Progress: progress})
}

func (a *App) addClient(ch chan event) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ctx.Err() != nil {
		return false
	}
	a.clients[ch] = struct{}{}
	return true
}

func (a *App) removeClient(ch chan event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.clients[ch]; ok {
		delete(a.clients, ch)
		close(ch)
	}
}

func (a *App) broadcast(ev event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for ch := range a.clients {
		select {
		case ch <- ev:
		default:
			gologger.Debug().Msgf("dropping %s event for slow client", ev.Type)
		}
	}
}

// deviceClient resolves the address query parameter to a client, accepting
// only devices found by the current session.
func (a *App) deviceClient(w http.ResponseWriter, r *http.Request, method string) (*devicectl.Client, bool) {
	if r.Method != method {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return nil, false
	}
	address := strings.TrimSpace(r.URL.Query().Get("address"))
	if address == "" {
		http.Error(w, "address is required", http.StatusBadRequest)
		return nil, false
	}
	device, ok := a.manager.Device(address)
	if !ok {
		http.Error(w, discovery.ErrUnknownDevice.Error()+": "+address, http.StatusNotFound)
		return nil, false
	}
	if device.Classification != discovery.ClassRecognized {
		http.Error(w, discovery.ErrNotManageable.Error()+": "+address, http.StatusUnprocessableEntity)
		return nil, false
	}
	client, err := a.devices.Get(address)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil, false
	}
	return client, true
}

func (a *App) handleDeviceConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		client, ok := a.deviceClient(w, r, http.MethodPost)
		if !ok {
			return
		}
		var fields map[string]any
		if err := json.NewDecoder(r.Body).Decode(&fields); err != nil || len(fields) == 0 {
			http.Error(w, "invalid request payload", http.StatusBadRequest)
			return
		}
		result, err := client.UpdateConfig(r.Context(), fields)
		writeResult(w, result, err)
		return
	}
	client, ok := a.deviceClient(w, r, http.MethodGet)
	if !ok {
		return
	}
	cfg, err := client.Config(r.Context())
	writeReply(w, cfg, err)
}

func (a *App) handleDeviceStatus(w http.ResponseWriter, r *http.Request) {
	client, ok := a.deviceClient(w, r, http.MethodGet)
	if !ok {
		return
	}
	status, err := client.Status(r.Context())
	writeReply(w, status, err)
}

func (a *App) handleDeviceLogs(w http.ResponseWriter, r *http.Request) {
	client, ok := a.deviceClient(w, r, http.MethodGet)
	if !ok {
		return
	}
	logs, err := client.Logs(r.Context())
	writeReply(w, logs, err)
}

func (a *App) handleDeviceFirmware(w http.ResponseWriter, r *http.Request) {
	client, ok := a.deviceClient(w, r, http.MethodGet)
	if !ok {
		return
	}
	files, err := client.Firmware(r.Context())
	writeReply(w, map[string]any{"files": files}, err)
}

func (a *App) handleDeviceDownload(w http.ResponseWriter, r *http.Request) {
	client, ok := a.deviceClient(w, r, http.MethodGet)
	if !ok {
		return
	}
	file := r.URL.Query().Get("file")
	if file == "" {
		http.Error(w, "file is required", http.StatusBadRequest)
		return
	}
	var buf bytes.Buffer
	if _, err := client.Download(r.Context(), file, &buf); err != nil {
		writeDeviceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file))
	w.Write(buf.Bytes())
}

func (a *App) handleDeviceAction(w http.ResponseWriter, r *http.Request) {
	client, ok := a.deviceClient(w, r, http.MethodPost)
	if !ok {
		return
	}
	name := r.URL.Query().Get("name")
	if name == "switch-network" {
		var req struct {
			SSID     string `json:"ssid"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request payload", http.StatusBadRequest)
			return
		}
		result, err := client.SwitchNetwork(r.Context(), req.SSID, req.Password)
		writeResult(w, result, err)
		return
	}
	result, err := client.Action(r.Context(), name)
	writeResult(w, result, err)
}

func (a *App) handleDeviceLatency(w http.ResponseWriter, r *http.Request) {
	client, ok := a.deviceClient(w, r, http.MethodGet)
	if !ok {
		return
	}
	report, err := client.Latency(r.Context(), latencyAttempts)
	if err != nil {
		// an unanswered ping is still a report
		gologger.Debug().Msgf("latency for %s: %v", client.Address(), err)
	}
	writeJSON(w, http.StatusOK, report)
}

func writeReply(w http.ResponseWriter, v any, err error) {
	if err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func writeResult(w http.ResponseWriter, result devicectl.ActionResult, err error) {
	if errors.Is(err, devicectl.ErrActionFailed) {
		writeJSON(w, http.StatusBadGateway, result)
		return
	}
	if err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func writeDeviceError(w http.ResponseWriter, err error) {
	var downloadErr *devicectl.DownloadError
	switch {
	case errors.As(err, &downloadErr):
		writeJSON(w, http.StatusBadGateway, downloadErr)
	case errors.Is(err, devicectl.ErrUnknownAction):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusBadGateway)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeEvent(w http.ResponseWriter, ev event) {
	data, _ := json.Marshal(ev)
	fmt.Fprintf(w, "data: %s\n\n", data)
}

func launchBrowser(url string) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	case "darwin":
		cmd = exec.Command("open", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	if err := cmd.Start(); err != nil {
		gologger.Warning().Msgf("could not open browser: %v", err)
	}
}

type event struct {
	Type     string             `json:"type"`
	Progress discovery.Progress `json:"progress"`
	Devices  []discovery.Device `json:"devices,omitempty"`
}
