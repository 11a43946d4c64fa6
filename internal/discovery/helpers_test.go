package discovery

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeProber answers from a fixed table and records how it was called.
type fakeProber struct {
	mu      sync.Mutex
	results map[string]ProbeResult
	calls   map[string]int
	order   []string
	delay   func(address string) time.Duration
	block   map[string]chan struct{}

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	completed   atomic.Int32
	onStart     func(address string, completed int)
}

func newFakeProber(results map[string]ProbeResult) *fakeProber {
	return &fakeProber{
		results: results,
		calls:   make(map[string]int),
		block:   make(map[string]chan struct{}),
	}
}

func (f *fakeProber) Probe(ctx context.Context, address string) ProbeResult {
	current := f.inFlight.Add(1)
	for {
		peak := f.maxInFlight.Load()
		if current <= peak || f.maxInFlight.CompareAndSwap(peak, current) {
			break
		}
	}
	defer f.inFlight.Add(-1)
	defer f.completed.Add(1)

	f.mu.Lock()
	f.calls[address]++
	f.order = append(f.order, address)
	wait := f.block[address]
	onStart := f.onStart
	f.mu.Unlock()

	if onStart != nil {
		onStart(address, int(f.completed.Load()))
	}
	if wait != nil {
		<-wait
	}
	if f.delay != nil {
		time.Sleep(f.delay(address))
	}

	if result, ok := f.results[address]; ok {
		result.Address = address
		return result
	}
	return ProbeResult{Address: address}
}

func (f *fakeProber) callCount(address string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[address]
}

func (f *fakeProber) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.order)
}

func recognized(id, firmware string) ProbeResult {
	return ProbeResult{Reachable: true, Recognized: true, Identity: &Identity{DeviceID: id, FirmwareVersion: firmware, IsOnline: true}}
}

func generic() ProbeResult {
	return ProbeResult{Reachable: true}
}

// routeDial sends connections for "ip:port" keys to local listener addresses
// and refuses everything else.
func routeDial(routes map[string]string) DialFunc {
	dialer := &net.Dialer{}
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		target, ok := routes[addr]
		if !ok {
			return nil, errors.New("connection refused")
		}
		return dialer.DialContext(ctx, network, target)
	}
}

// acceptAndClose listens on loopback, accepting and immediately closing
// every connection: reachable, but not an HTTP terminal.
func acceptAndClose(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()
	return ln.Addr().String()
}
