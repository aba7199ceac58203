// Copyright 2025 Certen Protocol
//
// GET /v1/info, GET /health, and GET /health/detailed, mirroring the
// teacher's HealthStatus shape generalized across this service's
// components.

package admission

import (
	"context"
	"net/http"
	"time"

	"github.com/certen/bundler/pkg/chain"
	"github.com/certen/bundler/pkg/objectstore"
)

type infoResponse struct {
	Version  string   `json:"version"`
	Networks []string `json:"networks"`
	Wallet   string   `json:"walletAddress"`
}

// handleInfo returns static service metadata a client needs before
// constructing an upload: the receipt schema version, enabled networks,
// and the service's own wallet address (the `to` side of receipt
// signatures, not of payments).
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, infoResponse{
		Version:  receiptVersion,
		Networks: s.payments.Networks(),
		Wallet:   s.wallet.Address(),
	})
}

type healthResponse struct {
	Status string `json:"status"`
}

// handleHealth is the cheap liveness probe: it does not touch any
// dependency, only confirms the process is serving requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

type componentHealth struct {
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

type detailedHealthResponse struct {
	Status     string                     `json:"status"`
	CheckedAt  time.Time                  `json:"checkedAt"`
	Components map[string]componentHealth `json:"components"`
}

// handleHealthDetailed checks the database, the object store and the chain
// gateway; the queue broker's Redis connection is not checked. A single unhealthy component downgrades the overall status but
// does not fail the request — operators read this endpoint to decide
// whether to page, not the load balancer to decide whether to route.
func (s *Server) handleHealthDetailed(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	components := map[string]componentHealth{}
	overall := true

	if s.db != nil {
		dbStatus, err := s.db.Health(ctx)
		switch {
		case err != nil:
			components["database"] = componentHealth{Healthy: false, Error: err.Error()}
			overall = false
		case !dbStatus.Healthy:
			components["database"] = componentHealth{Healthy: false, Error: dbStatus.Error}
			overall = false
		default:
			components["database"] = componentHealth{Healthy: true}
		}
	}

	if s.store != nil {
		components["objectStore"] = checkObjectStore(ctx, s.store)
		if !components["objectStore"].Healthy {
			overall = false
		}
	} else {
		components["objectStore"] = componentHealth{Healthy: true}
	}

	components["chainGateway"] = checkChainGateway(ctx, s.chainGateway)
	if !components["chainGateway"].Healthy {
		overall = false
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !overall {
		status = "degraded"
		httpStatus = http.StatusOK
	}

	writeJSON(w, httpStatus, detailedHealthResponse{
		Status:     status,
		CheckedAt:  time.Now(),
		Components: components,
	})
}

func checkObjectStore(ctx context.Context, store *objectstore.Client) componentHealth {
	if !store.IsEnabled() {
		return componentHealth{Healthy: true}
	}
	if _, err := store.Exists(ctx, "health-check-probe"); err != nil {
		return componentHealth{Healthy: false, Error: err.Error()}
	}
	return componentHealth{Healthy: true}
}

func checkChainGateway(ctx context.Context, g *chain.Gateway) componentHealth {
	if g == nil {
		return componentHealth{Healthy: true}
	}
	if _, err := g.CurrentHeight(ctx); err != nil {
		return componentHealth{Healthy: false, Error: err.Error()}
	}
	return componentHealth{Healthy: true}
}
