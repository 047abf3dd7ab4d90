package wiser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shimmeringbee/retry"
	"golang.org/x/time/rate"
)

// Connection identifies a controller. It is immutable once the client is built.
type Connection struct {
	Address string
	Token   string
}

// BaseURL returns the REST root of the controller
func (c Connection) BaseURL() string {
	return fmt.Sprintf("http://%s/api/", c.Address)
}

// Options tune a Client. Zero values select the defaults.
type Options struct {
	Timeout      time.Duration // Per-attempt timeout (default: 10s)
	Retries      int           // Extra attempts for reads; mutations are never retried
	RateLimitRPS float64       // Requests per second towards the controller, 0 = unlimited
	HTTPClient   *http.Client
}

// Client talks to the Wiser controller REST API
type Client struct {
	conn       Connection
	httpClient *http.Client
	limiter    *rate.Limiter
	timeout    time.Duration
	retries    int
}

// NewClient creates a new client for the given controller
func NewClient(conn Connection, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimitRPS), 1)
	}

	return &Client{
		conn:       conn,
		httpClient: opts.HTTPClient,
		limiter:    limiter,
		timeout:    opts.Timeout,
		retries:    opts.Retries,
	}
}

// Connection returns the connection the client was built with
func (c *Client) Connection() Connection {
	return c.conn
}

// Close releases idle connections
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// envelope is the {status, data} wrapper of every controller response
type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data"`
}

func (e *envelope) ok() bool {
	return e.Status == "success"
}

// ListDevices returns the basic records of all devices. A controller that
// answers with a non-success status yields an empty list.
func (c *Client) ListDevices(ctx context.Context) ([]Device, error) {
	env, err := c.getEnvelope(ctx, "ListDevices", "devices")
	if err != nil {
		return nil, err
	}
	if !env.ok() {
		log.Warn().Str("status", env.Status).Str("message", env.Message).Msg("Controller refused device listing")
		return []Device{}, nil
	}

	var devices []Device
	if err := json.Unmarshal(env.Data, &devices); err != nil {
		return nil, c.malformed("ListDevices", "devices", err)
	}
	if devices == nil {
		devices = []Device{}
	}
	return devices, nil
}

// GetDevice returns the full record of one device including its outputs
func (c *Client) GetDevice(ctx context.Context, id string) (*DeviceDetail, error) {
	path := "devices/" + id
	env, err := c.getEnvelope(ctx, "GetDevice", path)
	if err != nil {
		return nil, err
	}
	if !env.ok() {
		return nil, c.vendorStatus("GetDevice", path, env)
	}

	var device DeviceDetail
	if err := json.Unmarshal(env.Data, &device); err != nil {
		return nil, c.malformed("GetDevice", path, err)
	}
	return &device, nil
}

// GetLoad returns one load with its current state. Both an enveloped and a bare load body are accepted.
func (c *Client) GetLoad(ctx context.Context, id LoadID) (*Load, error) {
	path := "loads/" + id.String()
	body, err := c.get(ctx, "GetLoad", path)
	if err != nil {
		return nil, err
	}

	data := json.RawMessage(body)
	if env, isEnvelope := asEnvelope(body); isEnvelope {
		if !env.ok() {
			return nil, c.vendorStatus("GetLoad", path, env)
		}
		data = env.Data
	}

	var load Load
	if err := json.Unmarshal(data, &load); err != nil {
		return nil, c.malformed("GetLoad", path, err)
	}
	return &load, nil
}

// SetLoadState posts a partial state and returns the load as confirmed by the controller.
// The controller answers with either the full load or only its new state; in the latter
// case only ID and State of the returned load are populated.
func (c *Client) SetLoadState(ctx context.Context, id LoadID, update LoadUpdate) (*Load, error) {
	path := "load/" + id.String()

	var body []byte
	if update.Bri != nil {
		var err error
		if body, err = json.Marshal(update); err != nil {
			return nil, err
		}
	}

	env, err := c.mutate(ctx, "SetLoadState", http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}
	if !env.ok() {
		return nil, c.vendorStatus("SetLoadState", path, env)
	}

	load, err := confirmedLoad(id, env.Data)
	if err != nil {
		return nil, c.malformed("SetLoadState", path, err)
	}
	return load, nil
}

// Ping asks the controller to flash a load so it can be located physically
func (c *Client) Ping(ctx context.Context, id LoadID, ping Ping) error {
	path := "load/" + id.String() + "/ping"
	body, err := json.Marshal(ping)
	if err != nil {
		return err
	}

	env, err := c.mutate(ctx, "Ping", http.MethodPut, path, body)
	if err != nil {
		return err
	}
	if !env.ok() {
		return c.vendorStatus("Ping", path, env)
	}
	return nil
}

// Identify is a fire-and-forget Ping. Failures are logged, never returned.
func (c *Client) Identify(ctx context.Context, id LoadID, ping Ping) {
	if err := c.Ping(ctx, id, ping); err != nil {
		log.Warn().Err(err).Stringer("load", id).Msg("Identify request failed")
	}
}

// confirmedLoad decodes a mutation response that may be a full load or a bare state
func confirmedLoad(id LoadID, data json.RawMessage) (*Load, error) {
	var probe struct {
		ID    *LoadID         `json:"id"`
		State json.RawMessage `json:"state"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, err
	}

	if probe.State != nil {
		var load Load
		if err := json.Unmarshal(data, &load); err != nil {
			return nil, err
		}
		if probe.ID == nil {
			load.ID = id
		}
		if load.Type == "" {
			state, err := decodeState(probe.State)
			if err != nil {
				return nil, err
			}
			load.State = state
		}
		return &load, nil
	}

	state, err := decodeState(data)
	if err != nil {
		return nil, err
	}
	return &Load{ID: id, State: state}, nil
}

// asEnvelope reports whether body is a {status, data} envelope
func asEnvelope(body []byte) (*envelope, bool) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil || env.Status == "" {
		return nil, false
	}
	return &env, true
}

// getEnvelope performs a read and requires an envelope in the response
func (c *Client) getEnvelope(ctx context.Context, op, path string) (*envelope, error) {
	body, err := c.get(ctx, op, path)
	if err != nil {
		return nil, err
	}
	return c.envelope(op, path, body)
}

// get performs a read with bounded retries, each attempt limited by the client timeout
func (c *Client) get(ctx context.Context, op, path string) ([]byte, error) {
	var body []byte
	var lastErr error
	err := retry.Retry(ctx, c.timeout, c.retries+1, func(ctx context.Context) error {
		var err error
		body, err = c.request(ctx, op, http.MethodGet, path, nil)
		if err != nil {
			log.Debug().Err(err).Str("op", op).Msg("Controller read attempt failed")
			lastErr = err
			if !IsRetryable(err) {
				// nil ends the retry loop; lastErr carries the failure out
				return nil
			}
		}
		return err
	})
	if lastErr != nil && !IsRetryable(lastErr) {
		return nil, lastErr
	}
	if err != nil {
		if lastErr != nil {
			return nil, lastErr
		}
		return nil, &TransportError{Op: op, URL: c.conn.BaseURL() + path, Err: err}
	}
	return body, nil
}

// mutate performs a single-attempt write
func (c *Client) mutate(ctx context.Context, op, method, path string, body []byte) (*envelope, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.request(ctx, op, method, path, body)
	if err != nil {
		return nil, err
	}
	return c.envelope(op, path, resp)
}

func (c *Client) request(ctx context.Context, op, method, path string, body []byte) ([]byte, error) {
	url := c.conn.BaseURL() + path

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &TransportError{Op: op, URL: url, Err: err}
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, &TransportError{Op: op, URL: url, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.conn.Token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: op, URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &TransportError{
			Op:         op,
			URL:        url,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status code: %d", resp.StatusCode),
		}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: op, URL: url, StatusCode: resp.StatusCode, Err: err}
	}
	return data, nil
}

func (c *Client) envelope(op, path string, body []byte) (*envelope, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, c.malformed(op, path, err)
	}
	if env.Status == "" {
		return nil, c.malformed(op, path, fmt.Errorf("envelope has no status"))
	}
	return &env, nil
}

func (c *Client) malformed(op, path string, err error) error {
	return &TransportError{Op: op, URL: c.conn.BaseURL() + path, Err: fmt.Errorf("%w: %v", ErrMalformedResponse, err)}
}

func (c *Client) vendorStatus(op, path string, env *envelope) error {
	return fmt.Errorf("%s %s: %w: status %q: %s", op, path, ErrVendorStatus, env.Status, env.Message)
}
