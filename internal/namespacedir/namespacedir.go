// Package namespacedir resolves the connection URI of a PID- or
// SYSV-namespace leader by querying an external directory service over
// HTTP, guarded by a circuit breaker. ipc.Manager.ResolveLeader uses it to
// locate cur_process.ns[PID_NS]/cur_process.ns[SYSV_NS] without a
// hard-coded address, matching the original's IPC_FORCE_RECONNECT
// reconnect-by-URI path. It is consulted only when ResolveLeader is
// called; InitPorts and Connect do not use it, and it is never on the
// per-message path.
package namespacedir

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/liboscore/shim/internal/ipcerr"
	"github.com/liboscore/shim/internal/resilience"
)

// Namespace identifies which leader is being resolved.
type Namespace string

const (
	NamespacePID  Namespace = "pid"
	NamespaceSYSV Namespace = "sysv"
)

// Client resolves namespace-leader URIs from a directory service.
type Client struct {
	baseURL string
	http    *retryablehttp.Client
	breaker *resilience.Breaker
	log     *zap.Logger
}

// Config configures a Client.
type Config struct {
	BaseURL     string
	RequestTTL  time.Duration
	RetryMax    int
	BreakerName string
}

// New returns a Client pointed at cfg.BaseURL, wrapped in a circuit
// breaker that opens after repeated lookup failures.
func New(cfg Config, log *zap.Logger) *Client {
	h := retryablehttp.NewClient()
	h.RetryMax = cfg.RetryMax
	h.Logger = nil // the teacher's zap logger does not implement retryablehttp's interface; silence its own

	name := cfg.BreakerName
	if name == "" {
		name = "namespacedir"
	}

	return &Client{
		baseURL: cfg.BaseURL,
		http:    h,
		log:     log,
		breaker: resilience.New(name, resilience.Settings{
			MaxRequests: 1,
			Interval:    30 * time.Second,
			Timeout:     10 * time.Second,
			ReadyToTrip: func(c resilience.Counts) bool { return c.ConsecutiveFailures >= 3 },
			Logger:      log,
		}),
	}
}

type leaderResponse struct {
	URI string `json:"uri"`
}

// Resolve looks up the connection URI for ns's current leader. Callers
// should treat a non-nil error as "no leader known right now" rather
// than fatal. Nothing retries a failed lookup automatically; the next
// Resolve call makes a fresh one.
func (c *Client) Resolve(ctx context.Context, ns Namespace) (string, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.doResolve(ctx, ns)
	})
	if err != nil {
		if err == resilience.ErrCircuitOpen || err == resilience.ErrTooManyRequests {
			return "", fmt.Errorf("namespacedir: %w: %v", ipcerr.ErrAgain, err)
		}
		return "", err
	}
	return result.(string), nil
}

func (c *Client) doResolve(ctx context.Context, ns Namespace) (string, error) {
	url := fmt.Sprintf("%s/namespaces/%s/leader", c.baseURL, ns)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("namespacedir: build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("namespacedir: %w: %v", ipcerr.ErrNoSuchProcess, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", fmt.Errorf("namespacedir: %w: no leader for %s", ipcerr.ErrNoSuchProcess, ns)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("namespacedir: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("namespacedir: read body: %w", err)
	}

	var lr leaderResponse
	if err := json.Unmarshal(body, &lr); err != nil {
		return "", fmt.Errorf("namespacedir: %w: decode response: %v", ipcerr.ErrInvalidArgument, err)
	}
	if lr.URI == "" {
		return "", fmt.Errorf("namespacedir: %w: empty leader uri", ipcerr.ErrInvalidArgument)
	}
	return lr.URI, nil
}
