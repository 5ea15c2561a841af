// Package webhook delivers terminal job snapshots to a configured callback URL.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/reviewgate/reviewgate/internal/job"
)

const (
	retryAttempts = 8
	retryBase     = time.Second
	retryCap      = 5 * time.Minute
)

// Notifier posts job snapshots to one callback URL.
type Notifier struct {
	url       string
	client    *http.Client
	logger    *slog.Logger
	attempts  int
	retryBase time.Duration

	// allowPrivate skips the private-address check; tests deliver to loopback.
	allowPrivate bool
}

// Option configures a Notifier.
type Option func(*Notifier)

// AllowPrivate permits loopback and private destinations, for callbacks
// served on the developer's own machine.
func AllowPrivate() Option {
	return func(n *Notifier) { n.allowPrivate = true }
}

// New returns a Notifier for callbackURL. A host that is literally
// loopback or private is rejected here unless AllowPrivate is given;
// names are resolved and checked again on every delivery.
func New(callbackURL string, logger *slog.Logger, opts ...Option) (*Notifier, error) {
	u, err := url.Parse(callbackURL)
	if err != nil {
		return nil, fmt.Errorf("invalid callback URL: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return nil, fmt.Errorf("unsupported callback scheme: %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, errors.New("callback URL has no host")
	}

	n := &Notifier{
		url:       callbackURL,
		client:    &http.Client{Timeout: 30 * time.Second},
		logger:    logger,
		attempts:  retryAttempts,
		retryBase: retryBase,
	}
	for _, opt := range opts {
		opt(n)
	}

	if !n.allowPrivate && isPrivateHost(u.Hostname()) {
		return nil, fmt.Errorf("callback host %q is loopback or private; set REVIEWGATE_CALLBACK_ALLOW_PRIVATE=true to allow it", u.Hostname())
	}
	return n, nil
}

// isPrivateHost reports hosts that are private without a DNS lookup.
func isPrivateHost(host string) bool {
	if strings.EqualFold(host, "localhost") || strings.HasSuffix(strings.ToLower(host), ".localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && isPrivateIP(ip)
}

func isPrivateIP(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified()
}

// Notify dispatches the snapshot asynchronously. Up to 8 attempts with
// full-jitter exponential backoff (cap 5 min). Retries stop when ctx is done.
func (n *Notifier) Notify(ctx context.Context, j *job.Job) {
	payload, err := json.Marshal(j)
	if err != nil {
		n.logger.Error("webhook: encode job", "job_id", j.ID, "error", err)
		return
	}
	go n.send(ctx, j.ID, payload)
}

func (n *Notifier) send(ctx context.Context, jobID string, payload []byte) {
	if !n.allowPrivate {
		if err := validateURL(n.url); err != nil {
			n.logger.Warn("webhook: rejected callback URL", "url", n.url, "error", err)
			return
		}
	}

	for attempt := 1; attempt <= n.attempts; attempt++ {
		if ctx.Err() != nil {
			return
		}
		err := n.post(ctx, payload)
		if err == nil {
			n.logger.Debug("webhook delivered", "job_id", jobID, "attempt", attempt)
			return
		}
		n.logger.Warn("webhook attempt failed", "job_id", jobID, "attempt", attempt, "error", err)
		if attempt < n.attempts {
			select {
			case <-ctx.Done():
				return
			case <-time.After(jitter(n.retryBase, attempt)):
			}
		}
	}
	n.logger.Error("webhook: all retries exhausted", "job_id", jobID, "url", n.url)
}

// validateURL blocks private and internal destinations.
func validateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}

	ips, err := net.LookupHost(u.Hostname())
	if err != nil {
		return fmt.Errorf("DNS lookup failed: %w", err)
	}

	for _, ipStr := range ips {
		ip := net.ParseIP(ipStr)
		if ip == nil {
			continue
		}
		if isPrivateIP(ip) {
			return fmt.Errorf("private/internal IP blocked: %s", ipStr)
		}
	}

	return nil
}

// jitter returns a random duration in [0, min(retryCap, base * 2^attempt)).
func jitter(base time.Duration, attempt int) time.Duration {
	exp := min(base*(1<<attempt), retryCap)
	if exp <= 0 {
		return 0
	}
	return rand.N(exp)
}

func (n *Notifier) post(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("non-2xx status: %d", resp.StatusCode)
	}
	return nil
}
