package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Meridian-Markets/engine/internal/store"
)

func RegisterRoutes(app *fiber.App, nc *nats.Conn, st store.Store,
	resolver PrincipalResolver,
	orderHandler *OrderHandler,
	adminHandler *AdminHandler,
) {
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		checks := map[string]string{
			"nats":  "ok",
			"store": "ok",
		}
		status := "ok"
		code := fiber.StatusOK

		if nc == nil || !nc.IsConnected() {
			checks["nats"] = "disconnected"
			status = "degraded"
			code = fiber.StatusServiceUnavailable
		} else if err := nc.FlushTimeout(1 * time.Second); err != nil {
			checks["nats"] = err.Error()
			status = "degraded"
			code = fiber.StatusServiceUnavailable
		}

		healthCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := st.HealthCheck(healthCtx); err != nil {
			checks["store"] = err.Error()
			status = "degraded"
			code = fiber.StatusServiceUnavailable
		}

		return c.Status(code).JSON(fiber.Map{
			"status": status,
			"checks": checks,
		})
	})

	// Trading surface
	v1 := app.Group("/api/v1", AuthMiddleware(resolver))
	v1.Post("/orders", orderHandler.SubmitOrder)
	v1.Get("/orders", orderHandler.GetOrders)
	// Registered before the :orderId routes so "history" is not read as an id.
	v1.Get("/orders/history", orderHandler.GetHistory)
	v1.Get("/orders/:orderId", orderHandler.GetOrder)
	v1.Put("/orders/:orderId", orderHandler.UpdateOrder)
	v1.Delete("/orders/:orderId", orderHandler.CancelOrder)
	v1.Get("/orders/:orderId/history", orderHandler.GetOrderHistory)
	v1.Get("/positions", orderHandler.GetPositions)

	// Operational surface
	adm := v1.Group("/admin", RequireAdmin())
	adm.Get("/fraud/alerts", adminHandler.GetFraudAlerts)
	adm.Get("/fraud/stats", adminHandler.GetGateStats)
	adm.Post("/fraud/evaluate", adminHandler.EvaluateFraud)
	adm.Get("/fraud/rules", adminHandler.GetRules)
	adm.Put("/fraud/rules", adminHandler.UpdateRules)
	adm.Post("/fraud/rules", adminHandler.UpdateRules)
	adm.Get("/users/:userId/stats", adminHandler.GetUserStats)
	adm.Get("/health", adminHandler.GetSystemHealth)
}
