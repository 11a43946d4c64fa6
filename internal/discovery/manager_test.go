package discovery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tidwall/gjson"
)

func waitForScan(t *testing.T, m *Manager) Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Wait(ctx); err != nil {
		t.Fatalf("scan did not finish: %v", err)
	}
	return m.GetSnapshot()
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type statusLog struct {
	mu     sync.Mutex
	events []Progress
}

func (l *statusLog) record(p Progress) {
	l.mu.Lock()
	l.events = append(l.events, p)
	l.mu.Unlock()
}

func (l *statusLog) all() []Progress {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Progress(nil), l.events...)
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{Subnet: "192.168.1", BatchSize: 2, ProbeTimeoutMs: 100}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}

	bad := []Config{
		{Subnet: "", BatchSize: 1, ProbeTimeoutMs: 100},
		{Subnet: "192.168.1", BatchSize: 0, ProbeTimeoutMs: 100},
		{Subnet: "192.168.1", BatchSize: 1, ProbeTimeoutMs: 0},
		{Subnet: "192.168.1", BatchSize: 1, ProbeTimeoutMs: 100, YieldMs: -1},
	}
	for idx, c := range bad {
		if err := c.Validate(); err == nil {
			t.Fatalf("expected validation error for config %d", idx)
		}
	}

	filled := Config{Subnet: "10.0.0"}.WithDefaults()
	if filled.BatchSize != DefaultBatchSize || filled.ProbeTimeoutMs != DefaultProbeTimeoutMs || len(filled.Ranges) != len(DefaultRanges()) {
		t.Fatalf("expected defaults to be applied, got %+v", filled)
	}
}

func TestManagerEndToEndOverHTTP(t *testing.T) {
	terminal := identityServer(t, http.StatusOK, `{"deviceId":"AABBCCDD","firmwareVersion":"1.2.0"}`)
	plain := acceptAndClose(t)
	dial := routeDial(map[string]string{
		"192.168.1.100:80": terminal,
		"192.168.1.101:80": plain,
	})

	m := NewManagerWithProber(func(cfg Config) Prober {
		return NewHTTPProbe(cfg.ProbeTimeout()).WithDial(dial)
	})

	var mu sync.Mutex
	var updates []Update
	statuses := &statusLog{}
	cfg := Config{Subnet: "192.168.1", Ranges: []Range{{Start: 100, End: 102}}, BatchSize: 60, ProbeTimeoutMs: 400}
	if _, err := m.Start(context.Background(), cfg, func(u Update) {
		mu.Lock()
		updates = append(updates, u)
		mu.Unlock()
	}, statuses.record); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}

	snapshot := waitForScan(t, m)
	if snapshot.Progress.Status != StatusCompleted {
		t.Fatalf("expected completed scan, got %s (%s)", snapshot.Progress.Status, snapshot.Progress.Message)
	}
	if snapshot.Progress.Percent != 100 || snapshot.Progress.Message != "found 2 device(s)" {
		t.Fatalf("unexpected final progress %+v", snapshot.Progress)
	}
	if len(snapshot.Devices) != 2 {
		t.Fatalf("expected 2 devices, got %+v", snapshot.Devices)
	}

	first, second := snapshot.Devices[0], snapshot.Devices[1]
	if first.Address != "192.168.1.100" || first.Classification != ClassRecognized || first.ID != "AABBCCDD" || first.FirmwareVersion != "1.2.0" {
		t.Fatalf("unexpected recognized device %+v", first)
	}
	if second.Address != "192.168.1.101" || second.Classification != ClassGeneric || second.TypeTag != GenericTypeTag {
		t.Fatalf("unexpected generic device %+v", second)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(updates) != 1 || len(updates[0].Devices) != 2 {
		t.Fatalf("expected one update carrying both devices, got %+v", updates)
	}

	events := statuses.all()
	if last := events[len(events)-1]; last.Status != StatusCompleted || last.Percent != 100 {
		t.Fatalf("expected final completed status event, got %+v", last)
	}
}

func TestManagerRepeatScanYieldsSameDevices(t *testing.T) {
	prober := newFakeProber(map[string]ProbeResult{
		"10.0.0.3":  recognized("T-3", "1.0"),
		"10.0.0.40": generic(),
		"10.0.0.7":  generic(),
	})
	m := NewManagerWithProber(func(Config) Prober { return prober })
	cfg := Config{Subnet: "10.0.0", Ranges: []Range{{Start: 1, End: 50}}, BatchSize: 8, YieldMs: 1}

	var runs [][]Device
	for i := 0; i < 2; i++ {
		if _, err := m.Start(context.Background(), cfg, nil, nil); err != nil {
			t.Fatalf("run %d: unexpected start error: %v", i, err)
		}
		runs = append(runs, waitForScan(t, m).Devices)
	}

	if len(runs[0]) != 3 || len(runs[0]) != len(runs[1]) {
		t.Fatalf("expected identical device counts, got %d and %d", len(runs[0]), len(runs[1]))
	}
	for i := range runs[0] {
		a, b := runs[0][i], runs[1][i]
		if a.ID != b.ID || a.Address != b.Address || a.Classification != b.Classification {
			t.Fatalf("device %d differs between runs: %+v vs %+v", i, a, b)
		}
	}
	if runs[0][0].Address != "10.0.0.3" || runs[0][1].Address != "10.0.0.7" || runs[0][2].Address != "10.0.0.40" {
		t.Fatalf("expected devices in probe order, got %+v", runs[0])
	}
}

func TestManagerProgressIsMonotonic(t *testing.T) {
	prober := newFakeProber(map[string]ProbeResult{"10.0.0.129": generic()})
	m := NewManagerWithProber(func(Config) Prober { return prober })
	statuses := &statusLog{}

	cfg := Config{Subnet: "10.0.0", Ranges: []Range{{Start: 0, End: 129}}, BatchSize: 60, YieldMs: 1}
	if _, err := m.Start(context.Background(), cfg, nil, statuses.record); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	waitForScan(t, m)

	events := statuses.all()
	last := -1
	for i, p := range events {
		if p.Percent < last {
			t.Fatalf("event %d: progress went backwards from %d to %d", i, last, p.Percent)
		}
		if p.Percent == 100 && p.Status != StatusCompleted {
			t.Fatalf("event %d: reported 100%% before completion: %+v", i, p)
		}
		last = p.Percent
	}
	if last != 100 {
		t.Fatalf("expected to finish at 100%%, got %d", last)
	}
}

func TestManagerFailureDiscardsDevices(t *testing.T) {
	prober := newFakeProber(map[string]ProbeResult{
		"10.0.0.1": generic(),
		"10.0.0.5": {Reachable: true, Recognized: true},
	})
	m := NewManagerWithProber(func(Config) Prober { return prober })
	cfg := Config{Subnet: "10.0.0", Ranges: []Range{{Start: 1, End: 8}}, BatchSize: 4, YieldMs: 1}
	if _, err := m.Start(context.Background(), cfg, nil, nil); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}

	snapshot := waitForScan(t, m)
	if snapshot.Progress.Status != StatusFailed {
		t.Fatalf("expected failed scan, got %s", snapshot.Progress.Status)
	}
	if !strings.HasPrefix(snapshot.Progress.Message, "scan failed:") {
		t.Fatalf("unexpected failure message %q", snapshot.Progress.Message)
	}
	if len(snapshot.Devices) != 0 {
		t.Fatalf("expected partial devices to be discarded, got %+v", snapshot.Devices)
	}
}

func TestManagerCancelKeepsPartialDevices(t *testing.T) {
	prober := newFakeProber(map[string]ProbeResult{"10.0.0.1": generic()})
	release := make(chan struct{})
	prober.block["10.0.0.1"] = release
	m := NewManagerWithProber(func(Config) Prober { return prober })

	cfg := Config{Subnet: "10.0.0", Ranges: []Range{{Start: 1, End: 3}}, BatchSize: 1, YieldMs: 1}
	if _, err := m.Start(context.Background(), cfg, nil, nil); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	eventually(t, "first probe", func() bool { return prober.totalCalls() == 1 })

	progress, err := m.Cancel()
	if err != nil {
		t.Fatalf("unexpected cancel error: %v", err)
	}
	if progress.Status != StatusCancelled {
		t.Fatalf("expected cancelled status, got %s", progress.Status)
	}
	close(release)

	snapshot := waitForScan(t, m)
	if snapshot.Progress.Status != StatusCancelled {
		t.Fatalf("expected cancelled scan, got %s", snapshot.Progress.Status)
	}
	if prober.totalCalls() != 1 {
		t.Fatalf("expected no batches after cancel, got %d probes", prober.totalCalls())
	}
	if len(snapshot.Devices) != 1 || snapshot.Devices[0].Address != "10.0.0.1" {
		t.Fatalf("expected drained device to be kept, got %+v", snapshot.Devices)
	}
	if _, err := m.Cancel(); !errors.Is(err, ErrNoActiveScan) {
		t.Fatalf("expected ErrNoActiveScan on second cancel, got %v", err)
	}
}

func TestManagerCancelDuringLastBatchOverHTTP(t *testing.T) {
	arrived := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case arrived <- struct{}{}:
		default:
		}
		time.Sleep(150 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"deviceId":"AABBCCDD","firmwareVersion":"1.2.0"}`)
	}))
	t.Cleanup(srv.Close)
	dial := routeDial(map[string]string{"192.168.1.100:80": strings.TrimPrefix(srv.URL, "http://")})

	m := NewManagerWithProber(func(cfg Config) Prober {
		return NewHTTPProbe(cfg.ProbeTimeout()).WithDial(dial)
	})
	statuses := &statusLog{}
	cfg := Config{Subnet: "192.168.1", Ranges: []Range{{Start: 100, End: 100}}, BatchSize: 60, ProbeTimeoutMs: 1000}
	if _, err := m.Start(context.Background(), cfg, nil, statuses.record); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}

	select {
	case <-arrived:
	case <-time.After(5 * time.Second):
		t.Fatalf("identity request never reached the terminal")
	}
	if _, err := m.Cancel(); err != nil {
		t.Fatalf("unexpected cancel error: %v", err)
	}

	snapshot := waitForScan(t, m)
	if snapshot.Progress.Status != StatusCancelled || snapshot.Progress.Message != "scan cancelled" {
		t.Fatalf("expected cancelled scan, got %s (%s)", snapshot.Progress.Status, snapshot.Progress.Message)
	}
	if snapshot.Progress.Percent >= 100 {
		t.Fatalf("expected percent below 100 after cancel, got %d", snapshot.Progress.Percent)
	}
	for _, device := range snapshot.Devices {
		if device.Classification != ClassRecognized {
			t.Fatalf("terminal in the drained batch downgraded to %s", device.Classification)
		}
	}
	for _, p := range statuses.all() {
		if p.Status == StatusCompleted {
			t.Fatalf("cancelled session reported completion: %+v", p)
		}
	}
}

func TestManagerPauseAndResume(t *testing.T) {
	prober := newFakeProber(nil)
	release := make(chan struct{})
	prober.block["10.0.0.1"] = release
	m := NewManagerWithProber(func(Config) Prober { return prober })

	cfg := Config{Subnet: "10.0.0", Ranges: []Range{{Start: 1, End: 4}}, BatchSize: 1, YieldMs: 1}
	if _, err := m.Start(context.Background(), cfg, nil, nil); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	eventually(t, "first probe", func() bool { return prober.totalCalls() == 1 })

	progress, err := m.Pause()
	if err != nil || progress.Status != StatusPaused {
		t.Fatalf("expected paused status, got %s (err %v)", progress.Status, err)
	}
	if _, err := m.Pause(); !errors.Is(err, ErrNoActiveScan) {
		t.Fatalf("expected second pause to fail, got %v", err)
	}
	close(release)

	eventually(t, "first batch", func() bool { return m.GetSnapshot().Progress.BatchesDone == 1 })
	time.Sleep(50 * time.Millisecond)
	if calls := prober.totalCalls(); calls != 1 {
		t.Fatalf("expected paused scan to hold, got %d probes", calls)
	}

	if progress, err = m.Resume(); err != nil || progress.Status != StatusRunning {
		t.Fatalf("expected running status, got %s (err %v)", progress.Status, err)
	}
	snapshot := waitForScan(t, m)
	if snapshot.Progress.Status != StatusCompleted || prober.totalCalls() != 4 {
		t.Fatalf("expected completed scan of 4 addresses, got %s with %d probes", snapshot.Progress.Status, prober.totalCalls())
	}
	if _, err := m.Resume(); !errors.Is(err, ErrNoActiveScan) {
		t.Fatalf("expected resume after completion to fail, got %v", err)
	}
}

func TestManagerCancelWhilePaused(t *testing.T) {
	prober := newFakeProber(nil)
	release := make(chan struct{})
	prober.block["10.0.0.1"] = release
	m := NewManagerWithProber(func(Config) Prober { return prober })

	cfg := Config{Subnet: "10.0.0", Ranges: []Range{{Start: 1, End: 4}}, BatchSize: 1, YieldMs: 1}
	if _, err := m.Start(context.Background(), cfg, nil, nil); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	eventually(t, "first probe", func() bool { return prober.totalCalls() == 1 })
	if _, err := m.Pause(); err != nil {
		t.Fatalf("unexpected pause error: %v", err)
	}
	close(release)
	eventually(t, "first batch", func() bool { return m.GetSnapshot().Progress.BatchesDone == 1 })

	if _, err := m.Cancel(); err != nil {
		t.Fatalf("unexpected cancel error: %v", err)
	}
	if snapshot := waitForScan(t, m); snapshot.Progress.Status != StatusCancelled {
		t.Fatalf("expected cancelled scan, got %s", snapshot.Progress.Status)
	}
}

func TestManagerStartReplacesSession(t *testing.T) {
	prober := newFakeProber(map[string]ProbeResult{
		"10.0.0.1":    generic(),
		"192.168.4.9": generic(),
	})
	release := make(chan struct{})
	prober.block["10.0.0.1"] = release
	m := NewManagerWithProber(func(Config) Prober { return prober })
	statuses := &statusLog{}

	first, err := m.Start(context.Background(), Config{Subnet: "10.0.0", Ranges: []Range{{Start: 1, End: 2}}, BatchSize: 1}, nil, statuses.record)
	if err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	eventually(t, "first probe", func() bool { return prober.totalCalls() == 1 })

	second, err := m.Start(context.Background(), Config{Subnet: "192.168.4", Ranges: []Range{{Start: 9, End: 9}}}, nil, statuses.record)
	if err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	if first.Progress.SessionID == second.Progress.SessionID {
		t.Fatalf("expected a fresh session id")
	}

	waitForScan(t, m)
	close(release)
	time.Sleep(50 * time.Millisecond)

	snapshot := m.GetSnapshot()
	if snapshot.Progress.SessionID != second.Progress.SessionID || snapshot.Progress.Status != StatusCompleted {
		t.Fatalf("expected second session to own the state, got %+v", snapshot.Progress)
	}
	if len(snapshot.Devices) != 1 || snapshot.Devices[0].Address != "192.168.4.9" {
		t.Fatalf("expected only the second session's devices, got %+v", snapshot.Devices)
	}
	events := statuses.all()
	if last := events[len(events)-1]; last.SessionID != second.Progress.SessionID {
		t.Fatalf("expected stale session to stay silent, last event %+v", last)
	}
}

func TestManagerStartRejectsBadInput(t *testing.T) {
	m := NewManagerWithProber(func(Config) Prober { return newFakeProber(nil) })
	if _, err := m.Start(context.Background(), Config{Subnet: "not-a-subnet"}, nil, nil); err == nil {
		t.Fatalf("expected planning error")
	}
	if _, err := m.Start(context.Background(), Config{Subnet: "10.0.0", Ranges: []Range{{Start: 9, End: 3}}}, nil, nil); err == nil {
		t.Fatalf("expected invalid range error")
	}
	if status := m.GetSnapshot().Progress.Status; status != StatusIdle {
		t.Fatalf("expected manager to stay idle, got %s", status)
	}
	if _, err := m.Pause(); !errors.Is(err, ErrNoActiveScan) {
		t.Fatalf("expected ErrNoActiveScan, got %v", err)
	}
	if err := m.Wait(context.Background()); err != nil {
		t.Fatalf("expected Wait without a session to return immediately, got %v", err)
	}
}

func TestManagerExport(t *testing.T) {
	m := NewManagerWithProber(func(Config) Prober {
		return newFakeProber(map[string]ProbeResult{
			"10.0.0.2": recognized("T-2", "2.1.0"),
			"10.0.0.3": generic(),
		})
	})
	if _, err := m.Export(); !errors.Is(err, ErrNothingToExport) {
		t.Fatalf("expected ErrNothingToExport before any scan, got %v", err)
	}

	cfg := Config{Subnet: "10.0.0", Ranges: []Range{{Start: 1, End: 5}}, BatchSize: 2, YieldMs: 1}
	if _, err := m.Start(context.Background(), cfg, nil, nil); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	waitForScan(t, m)

	data, err := m.Export()
	if err != nil {
		t.Fatalf("unexpected export error: %v", err)
	}
	doc := gjson.ParseBytes(data)
	if doc.Get("version").Int() != 1 {
		t.Fatalf("expected version 1, got %s", doc.Get("version").Raw)
	}
	if doc.Get("export.count").Int() != 2 || doc.Get("export.status").String() != string(StatusCompleted) {
		t.Fatalf("unexpected export header: %s", data)
	}
	if doc.Get("export.config.ranges.0").String() != "1-5" || doc.Get("export.config.batch_size").Int() != 2 {
		t.Fatalf("unexpected export config: %s", doc.Get("export.config").Raw)
	}
	if doc.Get("export.devices.0.firmwareVersion").String() != "2.1.0" {
		t.Fatalf("unexpected exported devices: %s", doc.Get("export.devices").Raw)
	}
}

func TestManagerDeviceLookup(t *testing.T) {
	m := NewManagerWithProber(func(Config) Prober {
		return newFakeProber(map[string]ProbeResult{"10.0.0.2": generic()})
	})
	if _, err := m.Start(context.Background(), Config{Subnet: "10.0.0", Ranges: []Range{{Start: 1, End: 3}}}, nil, nil); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	waitForScan(t, m)

	if _, ok := m.Device("10.0.0.2"); !ok {
		t.Fatalf("expected discovered device to be found")
	}
	if _, ok := m.Device("10.0.0.1"); ok {
		t.Fatalf("expected unreachable address to be unknown")
	}
}
