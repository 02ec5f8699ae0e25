package core

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"memberpay/internal/types"
)

// healthCheckTimeout bounds the whole probe round. A probe still running at
// the deadline is reported as timed out.
const healthCheckTimeout = 2 * time.Second

// HealthProbe checks one backing dependency (Postgres, Redis).
type HealthProbe interface {
	Name() string
	Check(ctx context.Context) error
}

type componentStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthResponse struct {
	Status     string                     `json:"status"`
	Version    string                     `json:"version,omitempty"`
	Components map[string]componentStatus `json:"components,omitempty"`
}

const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
)

// HandleHealth serves GET /health: 200 when every probe passes, 503 otherwise.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	resp := healthResponse{Status: statusHealthy, Version: s.version()}
	if len(s.HealthProbes) == 0 {
		JSON(w, r, http.StatusOK, resp)
		return
	}

	resp.Components = runProbes(ctx, s.HealthProbes)
	for _, c := range resp.Components {
		if c.Status != statusHealthy {
			resp.Status = statusUnhealthy
		}
	}

	if resp.Status != statusHealthy {
		types.LoggerFromContext(r.Context(), s.Logger).Warn("health check failed", "components", resp.Components)
		JSON(w, r, http.StatusServiceUnavailable, resp)
		return
	}
	JSON(w, r, http.StatusOK, resp)
}

// runProbes checks every probe concurrently and returns once all have
// answered or ctx is done.
func runProbes(ctx context.Context, probes []HealthProbe) map[string]componentStatus {
	type answer struct {
		name string
		err  error
	}
	answers := make(chan answer, len(probes))
	for _, p := range probes {
		go func() {
			answers <- answer{name: p.Name(), err: checkProbe(ctx, p)}
		}()
	}

	out := make(map[string]componentStatus, len(probes))
	for _, p := range probes {
		out[p.Name()] = componentStatus{Status: statusUnhealthy, Message: "health check timed out"}
	}

	for pending := len(probes); pending > 0; pending-- {
		select {
		case a := <-answers:
			if a.err != nil {
				out[a.name] = componentStatus{Status: statusUnhealthy, Message: a.err.Error()}
			} else {
				out[a.name] = componentStatus{Status: statusHealthy}
			}
		case <-ctx.Done():
			return out
		}
	}
	return out
}

func checkProbe(ctx context.Context, p HealthProbe) (err error) {
	defer func() {
		if rvr := recover(); rvr != nil {
			err = fmt.Errorf("probe panicked: %v", rvr)
		}
	}()
	return p.Check(ctx)
}

func (s *Server) version() string {
	if s.Config == nil {
		return ""
	}
	return s.Config.Build.Version
}
