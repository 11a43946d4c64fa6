package discovery

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/projectdiscovery/gologger"
	"github.com/tidwall/gjson"
)

const (
	// IdentityPath is the terminal's configuration endpoint.
	IdentityPath = "/api/config"
	// DefaultPort is the standard web port both sub-probes target.
	DefaultPort = 80

	maxIdentityBodySize = 64 << 10
)

// Prober classifies one candidate address. Implementations never return an
// error: every failure is reported as a negative result.
type Prober interface {
	Probe(ctx context.Context, address string) ProbeResult
}

// DialFunc opens a network connection, like (*net.Dialer).DialContext.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// HTTPProbe runs the identity and generic checks against one address.
type HTTPProbe struct {
	Timeout time.Duration
	Port    int
	Dial    DialFunc

	client *http.Client
}

// NewHTTPProbe creates a probe bound to the given per-address timeout.
func NewHTTPProbe(timeout time.Duration) *HTTPProbe {
	p := &HTTPProbe{Timeout: timeout, Port: DefaultPort}
	return p.init()
}

// WithDial returns a copy of the probe that opens connections through dial.
func (p *HTTPProbe) WithDial(dial DialFunc) *HTTPProbe {
	cp := &HTTPProbe{Timeout: p.Timeout, Port: p.Port, Dial: dial}
	return cp.init()
}

func (p *HTTPProbe) init() *HTTPProbe {
	if p.Dial == nil {
		dialer := &net.Dialer{}
		p.Dial = dialer.DialContext
	}
	if p.Port == 0 {
		p.Port = DefaultPort
	}
	p.client = &http.Client{
		Transport: &http.Transport{
			DialContext:       p.Dial,
			DisableKeepAlives: true,
		},
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return p
}

// Probe issues both checks concurrently under one deadline and resolves the outcome.
func (p *HTTPProbe) Probe(ctx context.Context, address string) ProbeResult {
	result := ProbeResult{Address: address}

	probeCtx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	identityCh := make(chan *Identity, 1)
	genericCh := make(chan bool, 1)

	go func() {
		var identity *Identity
		defer func() {
			if r := recover(); r != nil {
				gologger.Debug().Msgf("identity probe of %s panicked: %v", address, r)
				identity = nil
			}
			identityCh <- identity
		}()
		identity = p.identify(probeCtx, address)
	}()

	go func() {
		ok := false
		defer func() {
			if r := recover(); r != nil {
				gologger.Debug().Msgf("generic probe of %s panicked: %v", address, r)
				ok = false
			}
			genericCh <- ok
		}()
		ok = p.connect(probeCtx, address)
	}()

	identity := <-identityCh
	generic := <-genericCh

	switch {
	case identity != nil:
		result.Reachable = true
		result.Recognized = true
		result.Identity = identity
	case generic:
		result.Reachable = true
	}
	return result
}

func (p *HTTPProbe) hostPort(address string) string {
	return net.JoinHostPort(address, strconv.Itoa(p.Port))
}

func (p *HTTPProbe) identify(ctx context.Context, address string) *Identity {
	url := fmt.Sprintf("http://%s%s", p.hostPort(address), IdentityPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxIdentityBodySize))
	if err != nil {
		return nil
	}
	return parseIdentity(data)
}

// parseIdentity accepts a body only when it carries string deviceId and
// firmwareVersion fields.
func parseIdentity(data []byte) *Identity {
	if !gjson.ValidBytes(data) {
		return nil
	}
	doc := gjson.ParseBytes(data)
	if !doc.IsObject() {
		return nil
	}
	deviceID := doc.Get("deviceId")
	firmware := doc.Get("firmwareVersion")
	if deviceID.Type != gjson.String || firmware.Type != gjson.String {
		return nil
	}
	if deviceID.String() == "" || firmware.String() == "" {
		return nil
	}

	identity := &Identity{
		DeviceID:        deviceID.String(),
		FirmwareVersion: firmware.String(),
		IsOnline:        true,
	}
	if online := doc.Get("isOnline"); online.IsBool() {
		identity.IsOnline = online.Bool()
	}
	return identity
}

func (p *HTTPProbe) connect(ctx context.Context, address string) bool {
	conn, err := p.Dial(ctx, "tcp", p.hostPort(address))
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
