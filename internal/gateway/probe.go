package gateway

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"missioncontrol/internal/domain"
)

// Prober performs a single bounded reachability check against the gateway.
// Any failure is reported as crashed; causes are not distinguished.
type Prober interface {
	Probe(ctx context.Context) domain.HealthStatus
}

// TCPProber dials Addr once.
type TCPProber struct {
	Addr    string
	Timeout time.Duration
}

func NewTCPProber(host string, port int, timeout time.Duration) TCPProber {
	return TCPProber{Addr: net.JoinHostPort(host, fmt.Sprint(port)), Timeout: timeout}
}

func (p TCPProber) Probe(ctx context.Context) domain.HealthStatus {
	d := net.Dialer{Timeout: p.Timeout}
	conn, err := d.DialContext(ctx, "tcp", p.Addr)
	if err != nil {
		return domain.HealthCrashed
	}
	conn.Close()
	return domain.HealthHealthy
}

// HTTPProber issues one GET against URL; any 2xx response is healthy.
type HTTPProber struct {
	URL     string
	Timeout time.Duration
	Client  *http.Client
}

func (p HTTPProber) Probe(ctx context.Context) domain.HealthStatus {
	client := p.Client
	if client == nil {
		client = &http.Client{Timeout: p.Timeout}
	}
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return domain.HealthCrashed
	}
	resp, err := client.Do(req)
	if err != nil {
		return domain.HealthCrashed
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.HealthCrashed
	}
	return domain.HealthHealthy
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context) domain.HealthStatus

func (f ProberFunc) Probe(ctx context.Context) domain.HealthStatus { return f(ctx) }
