package devicectl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/projectdiscovery/gologger"
	errorutil "github.com/projectdiscovery/utils/errors"
	sliceutil "github.com/projectdiscovery/utils/slice"
	"github.com/tidwall/gjson"
)

const (
	// DefaultTimeout bounds a single management call.
	DefaultTimeout = 5 * time.Second
	// DefaultPort is the terminal's web port.
	DefaultPort = 80

	maxResponseSize = 1 << 20
)

var knownActions = []string{ActionSync, ActionResetWiFi, ActionRestart}

// Options configures clients created by NewClient and Pool.
type Options struct {
	Timeout   time.Duration
	Port      int
	Transport http.RoundTripper
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Port <= 0 {
		o.Port = DefaultPort
	}
	return o
}

// Client talks to one terminal's management API. Calls are independent and
// never retried.
type Client struct {
	address string
	baseURL string
	http    *http.Client
}

// NewClient creates a client for an IPv4 address.
func NewClient(address string, opts Options) (*Client, error) {
	ip := net.ParseIP(address)
	if ip == nil || ip.To4() == nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	opts = opts.withDefaults()
	return &Client{
		address: ip.To4().String(),
		baseURL: "http://" + net.JoinHostPort(ip.To4().String(), strconv.Itoa(opts.Port)),
		http: &http.Client{
			Timeout:   opts.Timeout,
			Transport: opts.Transport,
		},
	}, nil
}

// Address returns the terminal's IPv4 address.
func (c *Client) Address() string {
	return c.address
}

// Config fetches the configuration document.
func (c *Client) Config(ctx context.Context) (*DeviceConfig, error) {
	body, err := c.get(ctx, "/api/config")
	if err != nil {
		return nil, err
	}
	doc := gjson.ParseBytes(body)
	if !doc.IsObject() {
		return nil, fmt.Errorf("%w: config is not an object", ErrUnexpectedResponse)
	}
	cfg := &DeviceConfig{
		DeviceID:        doc.Get("deviceId").String(),
		FirmwareVersion: doc.Get("firmwareVersion").String(),
		IsOnline:        true,
		Fields:          make(map[string]any),
	}
	if online := doc.Get("isOnline"); online.Exists() {
		cfg.IsOnline = online.Bool()
	}
	doc.ForEach(func(key, value gjson.Result) bool {
		cfg.Fields[key.String()] = value.Value()
		return true
	})
	return cfg, nil
}

// UpdateConfig posts a partial configuration.
func (c *Client) UpdateConfig(ctx context.Context, fields map[string]any) (ActionResult, error) {
	return c.post(ctx, "/api/config", fields)
}

// Status fetches the runtime status.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var status Status
	if err := c.getJSON(ctx, "/api/status", &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Logs fetches the offline log summary.
func (c *Client) Logs(ctx context.Context) (*Logs, error) {
	var logs Logs
	if err := c.getJSON(ctx, "/api/logs", &logs); err != nil {
		return nil, err
	}
	return &logs, nil
}

// Firmware lists the files the terminal offers for download.
func (c *Client) Firmware(ctx context.Context) ([]FirmwareFile, error) {
	var list struct {
		Files []FirmwareFile `json:"files"`
	}
	if err := c.getJSON(ctx, "/api/firmware/list", &list); err != nil {
		return nil, err
	}
	return list.Files, nil
}

// Download copies a firmware file into w. A JSON reply is decoded into a
// *DownloadError.
func (c *Client) Download(ctx context.Context, file string, w io.Writer) (int64, error) {
	endpoint := c.baseURL + "/api/firmware/download?file=" + url.QueryEscape(file)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, errorutil.NewWithErr(err).Msgf("download of %s from %s failed", file, c.address)
	}
	defer resp.Body.Close()

	if isJSON(resp.Header.Get("Content-Type")) {
		var downloadErr DownloadError
		if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&downloadErr); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrUnexpectedResponse, err)
		}
		if downloadErr.Message == "" {
			downloadErr.Message = fmt.Sprintf("download failed with status %d", resp.StatusCode)
		}
		return 0, &downloadErr
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, fmt.Errorf("%w: status %d", ErrUnexpectedResponse, resp.StatusCode)
	}
	return io.Copy(w, resp.Body)
}

// Action triggers one of sync, reset-wifi or restart.
func (c *Client) Action(ctx context.Context, name string) (ActionResult, error) {
	if !sliceutil.Contains(knownActions, name) {
		return ActionResult{}, fmt.Errorf("%w: %s", ErrUnknownAction, name)
	}
	return c.post(ctx, "/api/actions/"+name, nil)
}

// SwitchNetwork moves the terminal to another Wi-Fi network.
func (c *Client) SwitchNetwork(ctx context.Context, ssid, password string) (ActionResult, error) {
	if ssid == "" {
		return ActionResult{}, fmt.Errorf("ssid is required")
	}
	body := map[string]string{"ssid": ssid, "password": password}
	return c.post(ctx, "/api/actions/"+actionSwitchNetwork, body)
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	body, err := c.get(ctx, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %v", ErrUnexpectedResponse, err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, payload any) (ActionResult, error) {
	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return ActionResult{}, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return ActionResult{}, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	gologger.Verbose().Msgf("POST %s on %s", path, c.address)
	body, err := c.do(req)
	if err != nil {
		return ActionResult{}, err
	}
	var result ActionResult
	if err := json.Unmarshal(body, &result); err != nil {
		return ActionResult{}, fmt.Errorf("%w: %v", ErrUnexpectedResponse, err)
	}
	if !result.Success {
		return result, fmt.Errorf("%w: %s", ErrActionFailed, result.Text())
	}
	return result, nil
}

// do sends req and returns the body of a 2xx reply. Other replies keep their
// body when it decodes as an action result so the caller sees the device's error.
func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errorutil.NewWithErr(err).Msgf("%s %s on %s failed", req.Method, req.URL.Path, c.address)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, errorutil.NewWithErr(err).Msgf("could not read reply from %s", c.address)
	}
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return body, nil
	}
	if req.Method == http.MethodPost && gjson.ValidBytes(body) && gjson.GetBytes(body, "success").Exists() {
		return body, nil
	}
	return nil, fmt.Errorf("%w: status %d", ErrUnexpectedResponse, resp.StatusCode)
}

func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == "application/json"
}
