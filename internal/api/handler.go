package api

import (
	"context"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Meridian-Markets/engine/internal/admin"
	"github.com/Meridian-Markets/engine/internal/store"
	"github.com/Meridian-Markets/engine/pkg/model"
)

// OrderService is the slice of the order manager the handlers call.
type OrderService interface {
	SubmitOrder(ctx context.Context, userID string, signal model.TradeSignal) (*model.Order, error)
	UpdateOrder(ctx context.Context, userID, orderID string, signal model.TradeSignal) (*model.Order, error)
	CancelOrder(ctx context.Context, userID, orderID string) (*model.Order, error)
	GetOrder(ctx context.Context, userID, orderID string) (*model.Order, error)
	GetOrders(ctx context.Context, userID string) ([]model.Order, error)
	GetHistory(ctx context.Context, userID string, limit int) ([]model.Order, error)
	GetOrderHistory(ctx context.Context, userID, orderID string) ([]store.OrderEventRow, error)
	GetPositions(ctx context.Context, userID string) ([]model.Position, error)
}

// OrderHandler serves the trading surface.
type OrderHandler struct {
	logger  *zap.Logger
	service OrderService
}

func NewOrderHandler(logger *zap.Logger, service OrderService) *OrderHandler {
	return &OrderHandler{logger: logger, service: service}
}

// SubmitOrder handles order submissions.
func (h *OrderHandler) SubmitOrder(c *fiber.Ctx) error {
	var req OrderRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: err.Error()})
	}
	signal, err := req.ToSignal()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: err.Error()})
	}

	caller := CallerFrom(c)
	order, err := h.service.SubmitOrder(c.Context(), caller.UserID, signal)
	if err != nil {
		h.logger.Info("api.submit_order.rejected",
			zap.String("user_id", caller.UserID),
			zap.String("symbol", req.Symbol),
			zap.Error(err))
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(order)
}

// GetOrders lists the caller's orders.
func (h *OrderHandler) GetOrders(c *fiber.Ctx) error {
	orders, err := h.service.GetOrders(c.Context(), CallerFrom(c).UserID)
	if err != nil {
		return respondError(c, err)
	}
	if orders == nil {
		orders = []model.Order{}
	}
	return c.JSON(fiber.Map{"orders": orders})
}

// GetOrder returns one order.
func (h *OrderHandler) GetOrder(c *fiber.Ctx) error {
	order, err := h.service.GetOrder(c.Context(), CallerFrom(c).UserID, c.Params("orderId"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(order)
}

// UpdateOrder amends a live order.
func (h *OrderHandler) UpdateOrder(c *fiber.Ctx) error {
	var req OrderRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: err.Error()})
	}
	signal, err := req.ToSignal()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: err.Error()})
	}

	caller := CallerFrom(c)
	order, err := h.service.UpdateOrder(c.Context(), caller.UserID, c.Params("orderId"), signal)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(order)
}

// CancelOrder cancels a live order.
func (h *OrderHandler) CancelOrder(c *fiber.Ctx) error {
	caller := CallerFrom(c)
	order, err := h.service.CancelOrder(c.Context(), caller.UserID, c.Params("orderId"))
	if err != nil {
		return respondError(c, err)
	}
	h.logger.Info("api.cancel_order",
		zap.String("user_id", caller.UserID),
		zap.String("order_id", order.ID))
	return c.JSON(order)
}

// GetHistory returns the caller's orders, newest first. Query param: limit
// (default 100).
func (h *OrderHandler) GetHistory(c *fiber.Ctx) error {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "limit must be a positive integer"})
		}
		limit = parsed
	}

	orders, err := h.service.GetHistory(c.Context(), CallerFrom(c).UserID, limit)
	if err != nil {
		return respondError(c, err)
	}
	if orders == nil {
		orders = []model.Order{}
	}
	return c.JSON(fiber.Map{"orders": orders})
}

// GetOrderHistory returns the immutable state history of one order.
func (h *OrderHandler) GetOrderHistory(c *fiber.Ctx) error {
	history, err := h.service.GetOrderHistory(c.Context(), CallerFrom(c).UserID, c.Params("orderId"))
	if err != nil {
		return respondError(c, err)
	}
	if history == nil {
		history = []store.OrderEventRow{}
	}
	return c.JSON(fiber.Map{"history": history})
}

// GetPositions returns the caller's derived positions.
func (h *OrderHandler) GetPositions(c *fiber.Ctx) error {
	positions, err := h.service.GetPositions(c.Context(), CallerFrom(c).UserID)
	if err != nil {
		return respondError(c, err)
	}
	if positions == nil {
		positions = []model.Position{}
	}
	return c.JSON(fiber.Map{"positions": positions})
}

// AdminHandler serves the operational surface.
type AdminHandler struct {
	logger *zap.Logger
	view   *admin.View
}

func NewAdminHandler(logger *zap.Logger, view *admin.View) *AdminHandler {
	return &AdminHandler{logger: logger, view: view}
}

// GetFraudAlerts lists flagged decisions. Query params: since (RFC3339,
// default 24h ago), limit (default 100).
func (h *AdminHandler) GetFraudAlerts(c *fiber.Ctx) error {
	since := time.Now().Add(-24 * time.Hour)
	if raw := c.Query("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "since must be RFC3339"})
		}
		since = parsed
	}
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "limit must be a positive integer"})
		}
		limit = parsed
	}

	alerts, err := h.view.FraudAlerts(c.Context(), since, limit)
	if err != nil {
		return respondError(c, err)
	}
	if alerts == nil {
		alerts = []store.FraudAlertRow{}
	}
	return c.JSON(fiber.Map{"alerts": alerts})
}

// GetUserStats aggregates one user's activity.
func (h *AdminHandler) GetUserStats(c *fiber.Ctx) error {
	stats, err := h.view.UserStats(c.Context(), c.Params("userId"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(stats)
}

// GetSystemHealth reports the admin health snapshot.
func (h *AdminHandler) GetSystemHealth(c *fiber.Ctx) error {
	return c.JSON(h.view.SystemHealth(c.Context()))
}

// GetGateStats returns the fraud gate's live counters.
func (h *AdminHandler) GetGateStats(c *fiber.Ctx) error {
	return c.JSON(h.view.GateStats())
}

// EvaluateFraud scores a submitted event through the live gate without
// touching any order. Missing eventId and timestamp are filled in.
func (h *AdminHandler) EvaluateFraud(c *fiber.Ctx) error {
	var event model.TelemetryEvent
	if err := c.BodyParser(&event); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: err.Error()})
	}
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if err := event.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: err.Error()})
	}
	return c.JSON(h.view.Evaluate(c.Context(), event))
}

// GetRules returns the active fraud rule set.
func (h *AdminHandler) GetRules(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"rules": h.view.Rules()})
}

// UpdateRules replaces the fraud rule set.
func (h *AdminHandler) UpdateRules(c *fiber.Ctx) error {
	var req UpdateRulesRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: err.Error()})
	}
	rules, err := req.ToRules()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: err.Error()})
	}
	if err := h.view.UpdateRules(c.Context(), rules); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: err.Error()})
	}

	h.logger.Info("api.fraud_rules_updated", zap.Int("count", len(rules)))
	return c.JSON(fiber.Map{"rules": h.view.Rules()})
}
