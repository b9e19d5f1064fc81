// Package docapi is a client for the document REST API the gateway sits in
// front of.
package docapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doc-organiser/preview-gateway/internal/logging"
	"github.com/doc-organiser/preview-gateway/internal/models"
	"github.com/doc-organiser/preview-gateway/internal/upload"
	"go.uber.org/zap"
)

const maxErrorBody = 1 << 20

// Config configures a Client.
type Config struct {
	BaseURL         string
	Token           string
	Timeout         time.Duration // per metadata and content request; uploads are bounded by ctx only
	MaxContentBytes int64
}

// StatusError is a non-2xx answer from the document API.
type StatusError struct {
	Status  int
	Code    string
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("document api returned %d", e.Status)
	}
	return fmt.Sprintf("document api returned %d: %s", e.Status, e.Message)
}

// Unwrap exposes a 409 as upload.ErrConflict.
func (e *StatusError) Unwrap() error {
	if e.Status == http.StatusConflict {
		return upload.ErrConflict
	}
	return nil
}

// envelope is the API's response wrapper.
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Client talks to the document API with a static bearer token.
type Client struct {
	base     string
	token    string
	timeout  time.Duration
	maxBytes int64
	http     *http.Client
	logger   *zap.Logger
}

// New validates cfg and returns a client.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing upstream url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("upstream url must be http or https, got %q", cfg.BaseURL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		base:     strings.TrimRight(cfg.BaseURL, "/"),
		token:    cfg.Token,
		timeout:  timeout,
		maxBytes: cfg.MaxContentBytes,
		http:     &http.Client{},
		logger:   logging.Component(logger, "docapi"),
	}, nil
}

func (c *Client) endpoint(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	return c.base + "/" + strings.Join(escaped, "/")
}

func (c *Client) newRequest(ctx context.Context, method, target string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}

	c.logger.Debug("upstream request",
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, readStatusError(resp)
	}
	return resp, nil
}

func readStatusError(resp *http.Response) error {
	se := &StatusError{Status: resp.StatusCode}

	var env envelope
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if json.Unmarshal(body, &env) == nil {
		se.Message = env.Message
		if env.Error != nil {
			se.Code = env.Error.Code
			if env.Error.Message != "" {
				se.Message = env.Error.Message
			}
		}
	}
	return se
}

// getJSON fetches an enveloped response and decodes its data into out.
func (c *Client) getJSON(ctx context.Context, target string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return decodeEnvelope(resp.Body, out)
}

func decodeEnvelope(r io.Reader, out any) error {
	var env envelope
	if err := json.NewDecoder(r).Decode(&env); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return errors.New("response has no data")
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decoding response data: %w", err)
	}
	return nil
}

// GetDocument returns the metadata of one document.
func (c *Client) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	var doc models.Document
	if err := c.getJSON(ctx, c.endpoint("documents", id), &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// FetchContent downloads the raw bytes of a document.
func (c *Client) FetchContent(ctx context.Context, id string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodGet, c.endpoint("documents", id, "download"), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body io.Reader = resp.Body
	if c.maxBytes > 0 {
		body = io.LimitReader(resp.Body, c.maxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("reading document %s: %w", id, err)
	}
	if c.maxBytes > 0 && int64(len(data)) > c.maxBytes {
		return nil, fmt.Errorf("document %s exceeds %d bytes", id, c.maxBytes)
	}
	return data, nil
}

// FetchPreviewURL asks the API for a short-lived preview link.
func (c *Client) FetchPreviewURL(ctx context.Context, id string) (string, error) {
	var link string
	if err := c.getJSON(ctx, c.endpoint("documents", id, "preview"), &link); err != nil {
		return "", err
	}
	if link == "" {
		return "", fmt.Errorf("empty preview url for %s", id)
	}
	return link, nil
}
