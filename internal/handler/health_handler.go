package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
)

const (
	healthTimeout = 2 * time.Second

	stateConnected = "connected"
	stateFailed    = "failed"
)

// HealthCheck checks one dependency. A nil error means reachable.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

func RegisterHealthRoutes(app fiber.Router, checks ...HealthCheck) {
	app.Get("/livez", LivezHandler())
	app.Get("/health", HealthHandler(checks...))
	app.Get("/readyz", ReadyzHandler(checks...))
}

func LivezHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status": "ok",
		})
	}
}

// HealthHandler reports each dependency as connected or failed. It is
// observational and always answers 200.
func HealthHandler(checks ...HealthCheck) fiber.Handler {
	return func(c *fiber.Ctx) error {
		states, _ := runChecks(c.UserContext(), checks)
		return c.Status(fiber.StatusOK).JSON(states)
	}
}

// ReadyzHandler answers 503 while any dependency is failing.
func ReadyzHandler(checks ...HealthCheck) fiber.Handler {
	return func(c *fiber.Ctx) error {
		states, healthy := runChecks(c.UserContext(), checks)

		status := "ready"
		statusCode := fiber.StatusOK
		if !healthy {
			status = "not_ready"
			statusCode = fiber.StatusServiceUnavailable
		}

		return c.Status(statusCode).JSON(fiber.Map{
			"status": status,
			"checks": states,
		})
	}
}

func runChecks(parent context.Context, checks []HealthCheck) (fiber.Map, bool) {
	ctx, cancel := context.WithTimeout(parent, healthTimeout)
	defer cancel()

	states := make(fiber.Map, len(checks))
	healthy := true
	for _, check := range checks {
		state := stateConnected
		if err := check.Check(ctx); err != nil {
			state = stateFailed
			healthy = false
		}
		states[check.Name] = state
	}
	return states, healthy
}
