package gateway

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"missioncontrol/internal/domain"
)

func TestTCPProber(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()
	addr := ln.Addr().String()

	p := TCPProber{Addr: addr, Timeout: time.Second}
	assert.Equal(t, domain.HealthHealthy, p.Probe(context.Background()))

	require.NoError(t, ln.Close())
	assert.Equal(t, domain.HealthCrashed, p.Probe(context.Background()))
}

func TestTCPProber_UnresolvableHost(t *testing.T) {
	p := NewTCPProber("gateway.invalid", 18789, 500*time.Millisecond)
	assert.Equal(t, domain.HealthCrashed, p.Probe(context.Background()))
}

func TestHTTPProber(t *testing.T) {
	code := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/models", r.URL.Path)
		w.WriteHeader(code)
	}))
	defer srv.Close()

	p := HTTPProber{URL: srv.URL + "/api/models", Timeout: time.Second}
	assert.Equal(t, domain.HealthHealthy, p.Probe(context.Background()))

	code = http.StatusServiceUnavailable
	assert.Equal(t, domain.HealthCrashed, p.Probe(context.Background()))
}

func TestHTTPProber_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	p := HTTPProber{URL: srv.URL, Timeout: 100 * time.Millisecond}
	start := time.Now()
	assert.Equal(t, domain.HealthCrashed, p.Probe(context.Background()))
	assert.Less(t, time.Since(start), 2*time.Second)
}
