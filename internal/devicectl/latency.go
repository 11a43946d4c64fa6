package devicectl

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	ping "github.com/go-ping/ping"
)

// LatencyReport summarises an ICMP echo exchange with a terminal.
type LatencyReport struct {
	Address   string    `json:"address"`
	Reachable bool      `json:"reachable"`
	Sent      int       `json:"sent"`
	Received  int       `json:"received"`
	AvgMs     float64   `json:"avgMs"`
	MinMs     float64   `json:"minMs"`
	MaxMs     float64   `json:"maxMs"`
	SamplesMs []float64 `json:"samplesMs,omitempty"`
	TTL       int       `json:"ttl,omitempty"`
}

// Latency pings the terminal. Unprivileged ICMP needs the
// net.ipv4.ping_group_range sysctl on Linux; Windows always uses raw sockets.
func (c *Client) Latency(ctx context.Context, attempts int) (LatencyReport, error) {
	return pingHost(ctx, c.address, attempts)
}

func pingHost(ctx context.Context, host string, attempts int) (LatencyReport, error) {
	report := LatencyReport{Address: host}
	if attempts <= 0 {
		attempts = 1
	}

	pinger, err := ping.NewPinger(host)
	if err != nil {
		return report, err
	}
	pinger.SetPrivileged(runtime.GOOS == "windows")
	pinger.Count = attempts
	pinger.Timeout = time.Duration(attempts) * time.Second

	var mu sync.Mutex
	var rtts []time.Duration
	pinger.OnRecv = func(pkt *ping.Packet) {
		mu.Lock()
		rtts = append(rtts, pkt.Rtt)
		if pkt.Ttl > 0 {
			report.TTL = pkt.Ttl
		}
		mu.Unlock()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- pinger.Run()
	}()

	select {
	case <-ctx.Done():
		pinger.Stop()
		<-errCh
		return report, ctx.Err()
	case err := <-errCh:
		if err != nil {
			return report, fmt.Errorf("ping %s: %w", host, err)
		}
	}

	stats := pinger.Statistics()
	mu.Lock()
	defer mu.Unlock()
	report.Sent = stats.PacketsSent
	report.Received = stats.PacketsRecv
	if stats.PacketsRecv == 0 {
		return report, errors.New("no response")
	}
	report.Reachable = true
	report.SamplesMs = durationsToMillis(rtts)
	report.AvgMs = toMillis(stats.AvgRtt)
	report.MinMs = toMillis(stats.MinRtt)
	report.MaxMs = toMillis(stats.MaxRtt)
	return report, nil
}

func durationsToMillis(values []time.Duration) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = toMillis(v)
	}
	return out
}

func toMillis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
