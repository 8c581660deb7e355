// Package statusapi exposes the optional, loopback-only read-only status
// introspection endpoint (spec section 4.10): claim liveness/TTL, the
// currently running action and stage, and cumulative transport statistics.
// Routing and server lifecycle follow the gin.New/gin.Recovery/graceful
// shutdown pattern this codebase's lineage uses for its own REST API.
package statusapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/TenSeventy7/libfprint-egismoc-sdcp/internal/action"
	"github.com/TenSeventy7/libfprint-egismoc-sdcp/internal/claim"
	"github.com/TenSeventy7/libfprint-egismoc-sdcp/internal/transport"
)

// ClaimQuery reports whether a live claim exists for DeviceSerial and, if
// so, how many seconds remain before it expires. It is satisfied by
// *claim.Store plus the caller's device serial and expiration window.
type ClaimQuery struct {
	Store                  *claim.Store
	DeviceSerial           string
	ClaimExpirationSeconds int64
}

func (q ClaimQuery) snapshot() (live bool, ttlSeconds int64) {
	if q.Store == nil {
		return false, 0
	}
	cl, state, err := q.Store.Load(q.DeviceSerial, q.ClaimExpirationSeconds, time.Now())
	if err != nil || state != claim.StateLive {
		return false, 0
	}
	elapsed := time.Since(cl.ConnectedRealtime)
	remaining := time.Duration(q.ClaimExpirationSeconds)*time.Second - elapsed
	if remaining < 0 {
		remaining = 0
	}
	return true, int64(remaining.Seconds())
}

// StatusResponse is the JSON body served at GET /api/v1/status.
type StatusResponse struct {
	ClaimLive       bool   `json:"claim_live"`
	ClaimTTLSeconds int64  `json:"claim_ttl_seconds"`
	ActiveAction    string `json:"active_action"`
	ActiveStage     string `json:"active_stage"`
	RequestCount    uint64 `json:"request_count"`
	BytesWritten    uint64 `json:"bytes_written"`
	BytesRead       uint64 `json:"bytes_read"`
	ErrorCount      uint64 `json:"error_count"`
	PeakLatencyMs   int64  `json:"peak_latency_ms"`
}

// Server wraps the gin router and HTTP server bound to 127.0.0.1.
type Server struct {
	core      *action.Core
	claims    ClaimQuery
	transport *transport.Transport
	httpSrv   *http.Server
}

// New builds a Server. addr must be a 127.0.0.1 host:port; New refuses any
// other bind address so the endpoint can never be reached off-host.
func New(addr string, core *action.Core, tr *transport.Transport, claims ClaimQuery) (*Server, error) {
	if err := requireLoopback(addr); err != nil {
		return nil, err
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{core: core, claims: claims, transport: tr}

	api := router.Group("/api/v1")
	{
		api.GET("/status", s.handleStatus)
	}

	s.httpSrv = &http.Server{Addr: addr, Handler: router}
	return s, nil
}

func requireLoopback(addr string) error {
	if addr == "" {
		return fmt.Errorf("statusapi: empty bind address")
	}
	if len(addr) < len("127.0.0.1:") || addr[:len("127.0.0.1:")] != "127.0.0.1:" {
		return fmt.Errorf("statusapi: refusing to bind %q: must be 127.0.0.1:<port>", addr)
	}
	return nil
}

// Run starts the HTTP server and blocks until ctx is cancelled, then shuts
// it down gracefully with a 5s timeout.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleStatus(c *gin.Context) {
	live, ttl := s.claims.snapshot()
	status := s.core.Status()
	stats := s.transport.Stats()

	c.JSON(http.StatusOK, StatusResponse{
		ClaimLive:       live,
		ClaimTTLSeconds: ttl,
		ActiveAction:    status.ActiveAction,
		ActiveStage:     status.ActiveStage,
		RequestCount:    stats.RequestCount,
		BytesWritten:    stats.BytesWritten,
		BytesRead:       stats.BytesRead,
		ErrorCount:      stats.ErrorCount,
		PeakLatencyMs:   stats.PeakLatency.Milliseconds(),
	})
}
