package reachability

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// DefaultProbeInterval is how often a Prober checks the target.
const DefaultProbeInterval = 10 * time.Second

// Prober determines connectivity by issuing HEAD requests against a URL.
// Any HTTP response counts as reachable; transport errors and timeouts
// count as unreachable.
type Prober struct {
	broadcaster

	url      string
	client   *http.Client
	interval time.Duration
	logger   *slog.Logger
}

// ProberOption configures a Prober.
type ProberOption func(*Prober)

// WithHTTPClient overrides the client (default: 3s timeout).
func WithHTTPClient(c *http.Client) ProberOption {
	return func(p *Prober) { p.client = c }
}

// WithInterval sets the probe interval.
func WithInterval(d time.Duration) ProberOption {
	return func(p *Prober) { p.interval = d }
}

// WithLogger sets the logger (default slog.Default()).
func WithLogger(l *slog.Logger) ProberOption {
	return func(p *Prober) { p.logger = l }
}

// NewProber creates a prober for url. It reports disconnected until the
// first probe succeeds.
func NewProber(url string, opts ...ProberOption) *Prober {
	p := &Prober{
		url:      url,
		client:   &http.Client{Timeout: 3 * time.Second},
		interval: DefaultProbeInterval,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Probe checks the target once and records the result.
func (p *Prober) Probe(ctx context.Context) bool {
	ok := p.check(ctx)
	if p.set(ok) {
		p.logger.Info("reachability changed", "url", p.url, "connected", ok)
	}
	return ok
}

func (p *Prober) check(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		p.logger.Debug("probe request", "error", err)
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Debug("probe failed", "url", p.url, "error", err)
		return false
	}
	resp.Body.Close()
	return true
}

// Run probes immediately and then every interval until ctx is cancelled.
func (p *Prober) Run(ctx context.Context) error {
	p.Probe(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.Probe(ctx)
		}
	}
}
