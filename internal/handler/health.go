package handler

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
)

const healthCheckTimeout = 3 * time.Second

// Dependency is one backend probed by the health endpoints. Required
// dependencies gate readiness.
type Dependency struct {
	Name     string
	Required bool
	Check    func(ctx context.Context) error
}

type dependencyStatus struct {
	Status    string `json:"status"`
	Required  bool   `json:"required"`
	LatencyMs int64  `json:"latencyMs"`
	Error     string `json:"error,omitempty"`
}

type HealthHandler struct {
	deps []Dependency
}

func NewHealthHandler(deps ...Dependency) *HealthHandler {
	return &HealthHandler{deps: deps}
}

// Health handles GET /health
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	services := make(fiber.Map, len(h.deps))
	for _, d := range h.deps {
		services[d.Name] = d.Check != nil
	}
	return c.JSON(fiber.Map{"status": "ok", "services": services})
}

// Live handles GET /health/live
func (h *HealthHandler) Live(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "alive"})
}

// Ready handles GET /health/ready
func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	results := h.probe(c.UserContext(), true)
	if !healthy(results) {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "not_ready", "checks": results})
	}
	return c.JSON(fiber.Map{"status": "ready", "checks": results})
}

// Detailed handles GET /health/detailed
func (h *HealthHandler) Detailed(c *fiber.Ctx) error {
	results := h.probe(c.UserContext(), false)

	status := "ok"
	for _, r := range results {
		if r.Status != "up" {
			status = "degraded"
		}
	}
	if !healthy(results) {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unhealthy", "checks": results})
	}
	return c.JSON(fiber.Map{"status": status, "checks": results})
}

// probe runs the checks concurrently, each under its own timeout.
func (h *HealthHandler) probe(ctx context.Context, requiredOnly bool) map[string]dependencyStatus {
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]dependencyStatus, len(h.deps))
	)
	for _, d := range h.deps {
		if requiredOnly && !d.Required {
			continue
		}
		if d.Check == nil {
			mu.Lock()
			results[d.Name] = dependencyStatus{Status: "disabled", Required: d.Required}
			mu.Unlock()
			continue
		}
		wg.Add(1)
		go func(d Dependency) {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
			defer cancel()

			start := time.Now()
			err := d.Check(checkCtx)
			st := dependencyStatus{Status: "up", Required: d.Required, LatencyMs: time.Since(start).Milliseconds()}
			if err != nil {
				st.Status = "down"
				st.Error = err.Error()
			}
			mu.Lock()
			results[d.Name] = st
			mu.Unlock()
		}(d)
	}
	wg.Wait()
	return results
}

func healthy(results map[string]dependencyStatus) bool {
	for _, r := range results {
		if r.Required && r.Status != "up" {
			return false
		}
	}
	return true
}
