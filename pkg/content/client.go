// Package content talks to the content store: a cluster API for adds and
// pins, a node API for health, and a gateway for reads.
package content

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Content ids, v0 (Qm...) and common v1 encodings.
var cidRe = regexp.MustCompile(`^(Qm[1-9A-HJ-NP-Za-km-z]{44}|b[A-Za-z2-7]{58}|B[A-Z2-7]{58}|z[1-9A-HJ-NP-Za-km-z]{48}|F[0-9A-F]{50})$`)

// ValidCID reports whether cid is a well-formed content id.
func ValidCID(cid string) bool {
	return cidRe.MatchString(cid)
}

const (
	probeTimeout = 5 * time.Second
	pinTimeout   = 30 * time.Second
	fetchTimeout = 30 * time.Second
)

// Options configures the client. Zero values fall back to defaults.
type Options struct {
	APIURL        string // cluster API, handles /add and /pin
	NodeURL       string // node API, handles /version
	GatewayURL    string // read gateway
	MaxRetries    int
	UploadTimeout time.Duration
}

// Client is the content store client. Safe for concurrent use.
type Client struct {
	apiURL        string
	nodeURL       string
	gatewayURL    string
	maxRetries    int
	uploadTimeout time.Duration
	retryInterval time.Duration
	http          *http.Client
	logger        *slog.Logger
}

// NewClient creates a client from opts.
func NewClient(opts Options, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.UploadTimeout <= 0 {
		opts.UploadTimeout = 120 * time.Second
	}
	return &Client{
		apiURL:        opts.APIURL,
		nodeURL:       opts.NodeURL,
		gatewayURL:    opts.GatewayURL,
		maxRetries:    opts.MaxRetries,
		uploadTimeout: opts.UploadTimeout,
		retryInterval: time.Second,
		http:          &http.Client{},
		logger:        logger,
	}
}

// Upload stores the file at path and returns its content id. Transient
// failures are retried with exponential backoff (1s, 2s, 4s); a missing file
// fails immediately.
func (c *Client) Upload(ctx context.Context, path string) (string, error) {
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("file not found: %s", path)
	}

	attempt := 0
	operation := func() (string, error) {
		attempt++
		c.logger.Info("uploading file to content store",
			"path", path, "attempt", attempt, "max_attempts", c.maxRetries)

		start := time.Now()
		cid, err := c.uploadOnce(ctx, path)
		if err != nil {
			c.logger.Error("content upload failed", "path", path, "attempt", attempt, "error", err)
			return "", err
		}

		c.logger.Info("content upload successful", "cid", cid, "duration", time.Since(start))
		return cid, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retryInterval
	bo.Multiplier = 2
	bo.RandomizationFactor = 0

	cid, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(c.maxRetries)),
	)
	if err != nil {
		return "", fmt.Errorf("content upload failed after %d attempts: %w", c.maxRetries, err)
	}
	return cid, nil
}

func (c *Client) uploadOnce(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", backoff.Permanent(err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, c.uploadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/add", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("content store returned status %d", resp.StatusCode)
	}

	var result struct {
		Hash string `json:"Hash"`
		CID  string `json:"cid"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode content store response: %w", err)
	}

	cid := result.Hash
	if cid == "" {
		cid = result.CID
	}
	if cid == "" {
		return "", fmt.Errorf("no content id returned from store")
	}
	return cid, nil
}

// Fetch retrieves a file's bytes through the read gateway.
func (c *Client) Fetch(ctx context.Context, cid string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.gatewayURL+"/"+cid, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve %s: %w", cid, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to retrieve %s: status %d", cid, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// Pin pins a content id. Best-effort: failures are logged and reported as
// false, never as errors.
func (c *Client) Pin(ctx context.Context, cid string) bool {
	if err := c.pinOp(ctx, "/pin/add", cid); err != nil {
		c.logger.Error("failed to pin content", "cid", cid, "error", err)
		return false
	}
	c.logger.Info("content pinned", "cid", cid)
	return true
}

// Unpin removes a pin. Best-effort, used by saga compensation.
func (c *Client) Unpin(ctx context.Context, cid string) (bool, error) {
	if err := c.pinOp(ctx, "/pin/rm", cid); err != nil {
		c.logger.Error("failed to unpin content", "cid", cid, "error", err)
		return false, err
	}
	c.logger.Info("content unpinned", "cid", cid)
	return true, nil
}

func (c *Client) pinOp(ctx context.Context, op, cid string) error {
	ctx, cancel := context.WithTimeout(ctx, pinTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+op+"?arg="+cid, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("content store returned status %d", resp.StatusCode)
	}
	return nil
}

// Probe reports whether the content node answers its version endpoint within
// five seconds.
func (c *Client) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.nodeURL+"/version", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Error("content store not available", "error", err)
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}
