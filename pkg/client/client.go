package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"
)

// ErrNotFound is returned for any operation on an unknown process id.
var ErrNotFound = errors.New("process not found")

// Client talks to a running warden daemon over its HTTP API.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration.
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	Logger   *slog.Logger
	TLS      *TLSClientConfig
	Insecure bool // skip TLS verification entirely
}

// TLSClientConfig holds TLS settings for the client connection.
type TLSClientConfig struct {
	Enabled    bool
	CACert     string // CA certificate file path
	ClientCert string // client certificate file
	ClientKey  string // client private key file
	ServerName string // server name override for verification
	SkipVerify bool
}

// DefaultConfig returns the configuration matching a locally running daemon
// with default settings.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://127.0.0.1:8085/api",
		Timeout: 10 * time.Second,
	}
}

// New creates a warden API client.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultConfig().BaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	transport := &http.Transport{}
	if (cfg.TLS != nil && cfg.TLS.Enabled) || cfg.Insecure {
		tlsConf, err := setupClientTLS(cfg)
		if err != nil {
			cfg.Logger.Error("client TLS setup failed", "error", err)
		} else {
			transport.TLSClientConfig = tlsConf
		}
	}

	return &Client{
		baseURL: cfg.BaseURL,
		logger:  cfg.Logger,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
	}
}

// IsReachable reports whether the daemon answers its status endpoint.
func (c *Client) IsReachable(ctx context.Context) bool {
	var s Summary
	return c.doJSON(ctx, http.MethodGet, c.baseURL+"/status", nil, &s) == nil
}

// Status returns the daemon-wide status overview.
func (c *Client) Status(ctx context.Context) (Summary, error) {
	var s Summary
	err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/status", nil, &s)
	return s, err
}

// Create registers a new process with the daemon.
func (c *Client) Create(ctx context.Context, id, entryFile string) (Process, error) {
	var p Process
	err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/processes", CreateRequest{ID: id, EntryFile: entryFile}, &p)
	return p, err
}

// List returns all registered processes.
func (c *Client) List(ctx context.Context) ([]Process, error) {
	var ps []Process
	err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/processes", nil, &ps)
	return ps, err
}

// Get returns one process record.
func (c *Client) Get(ctx context.Context, id string) (Process, error) {
	var p Process
	err := c.doJSON(ctx, http.MethodGet, c.processURL(id), nil, &p)
	return p, err
}

// Start launches the process. The bool reports whether the call actually
// started it; false means it was already running.
func (c *Client) Start(ctx context.Context, id string) (bool, error) {
	var res ActionResult
	err := c.doJSON(ctx, http.MethodPost, c.processURL(id)+"/start", nil, &res)
	return res.Changed, err
}

// Stop terminates the process. The bool reports whether a live process was
// actually stopped.
func (c *Client) Stop(ctx context.Context, id string) (bool, error) {
	var res ActionResult
	err := c.doJSON(ctx, http.MethodPost, c.processURL(id)+"/stop", nil, &res)
	return res.Changed, err
}

// Delete stops the process and removes it entirely.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, c.processURL(id), nil, nil)
}

// Logs returns captured output, oldest first. limit 0 fetches all retained
// entries.
func (c *Client) Logs(ctx context.Context, id string, limit int) ([]LogEntry, error) {
	u := c.processURL(id) + "/logs"
	if limit > 0 {
		u += "?limit=" + strconv.Itoa(limit)
	}
	var entries []LogEntry
	err := c.doJSON(ctx, http.MethodGet, u, nil, &entries)
	return entries, err
}

// ClearLogs drops all captured output for the process.
func (c *Client) ClearLogs(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, c.processURL(id)+"/logs", nil, nil)
}

func (c *Client) processURL(id string) string {
	return c.baseURL + "/processes/" + url.PathEscape(id)
}

// doJSON performs one API call: optional JSON body in, optional JSON body out.
func (c *Client) doJSON(ctx context.Context, method, u string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("request failed", "method", method, "url", u, "error", err)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return c.apiError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) apiError(resp *http.Response) error {
	var er ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil || er.Error == "" {
		er.Error = fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	c.logger.Debug("api error", "status", resp.StatusCode, "error", er.Error)
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, er.Error)
	}
	return fmt.Errorf("api error: %s", er.Error)
}

// setupClientTLS builds the TLS settings for the HTTP transport.
func setupClientTLS(cfg Config) (*tls.Config, error) {
	tlsConf := &tls.Config{MinVersion: tls.VersionTLS12}

	if cfg.Insecure {
		tlsConf.InsecureSkipVerify = true
		return tlsConf, nil
	}

	if cfg.TLS != nil {
		if cfg.TLS.SkipVerify {
			tlsConf.InsecureSkipVerify = true
		}
		if cfg.TLS.ServerName != "" {
			tlsConf.ServerName = cfg.TLS.ServerName
		}
		if cfg.TLS.CACert != "" {
			if err := loadCACert(tlsConf, cfg.TLS.CACert); err != nil {
				return nil, fmt.Errorf("load CA certificate: %w", err)
			}
		}
		if cfg.TLS.ClientCert != "" && cfg.TLS.ClientKey != "" {
			cert, err := tls.LoadX509KeyPair(cfg.TLS.ClientCert, cfg.TLS.ClientKey)
			if err != nil {
				return nil, fmt.Errorf("load client certificate: %w", err)
			}
			tlsConf.Certificates = []tls.Certificate{cert}
		}
	}

	return tlsConf, nil
}

func loadCACert(tlsConf *tls.Config, path string) error {
	pem, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read CA certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return errors.New("parse CA certificate")
	}
	tlsConf.RootCAs = pool
	return nil
}
