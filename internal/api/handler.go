package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/hardik25812/caidene-order-sub000/internal/dnsverify"
	"github.com/hardik25812/caidene-order-sub000/internal/models"
	"github.com/hardik25812/caidene-order-sub000/internal/redisclient"
	"github.com/hardik25812/caidene-order-sub000/internal/service"
	"github.com/hardik25812/caidene-order-sub000/internal/store"
	"github.com/hardik25812/caidene-order-sub000/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Handler contains HTTP handlers
type Handler struct {
	fulfillment  *service.FulfillmentService
	poller       *dnsverify.Poller
	store        *store.Store
	redis        *redisclient.Client
	lowThreshold int
}

// NewHandler creates a new HTTP handler
func NewHandler(fulfillment *service.FulfillmentService, poller *dnsverify.Poller, s *store.Store,
	redis *redisclient.Client, lowThreshold int) *Handler {
	return &Handler{
		fulfillment:  fulfillment,
		poller:       poller,
		store:        s,
		redis:        redis,
		lowThreshold: lowThreshold,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/fulfill", h.fulfill)
		v1.GET("/orders/:id", h.getOrder)
		v1.POST("/orders/:id/retry", h.retryOrder)
		v1.POST("/dns/verify", h.verifyDNS)
		v1.GET("/customers/:email/orders", h.customerOrders)
		v1.GET("/inventory/stats", h.inventoryStats)
		v1.GET("/inventory/accounts", h.listAccounts)
		v1.POST("/inventory/accounts", h.addAccounts)
		v1.POST("/inventory/accounts/deplete", h.depleteAccounts)
		v1.GET("/alerts", h.listAlerts)
		v1.POST("/alerts/:id/read", h.markAlertRead)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// FulfillRequest is the payment-confirmation trigger payload.
type FulfillRequest struct {
	OrderID       string               `json:"order_id" binding:"required"`
	CustomerEmail string               `json:"customer_email" binding:"required,email"`
	Domains       []models.OrderDomain `json:"domains" binding:"required,min=1"`
	EventID       string               `json:"event_id,omitempty"`
}

// fulfill runs the fulfillment saga for a paid order. Safe to invoke more
// than once per order: completed domains are skipped.
func (h *Handler) fulfill(c *gin.Context) {
	var req FulfillRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	if req.EventID == "" {
		req.EventID = c.GetHeader("Idempotency-Key")
	}
	if req.EventID == "" {
		req.EventID = uuid.New().String()
	}

	// Fast-path dedup in front of the durable processed-events check.
	if h.redis != nil {
		if seen, err := h.redis.CheckIdempotencyKey(c.Request.Context(), req.EventID); err == nil && seen {
			order, err := h.fulfillment.GetOrder(c.Request.Context(), req.OrderID)
			if err == nil {
				c.JSON(http.StatusOK, order)
				return
			}
		}
	}

	event := &models.PaymentSucceededEvent{
		BaseEvent: models.BaseEvent{
			EventID:   req.EventID,
			EventType: models.EventTypePaymentSucceeded,
			Timestamp: time.Now(),
		},
		OrderID:       req.OrderID,
		CustomerEmail: req.CustomerEmail,
		Domains:       req.Domains,
	}

	if err := h.fulfillment.HandlePaymentConfirmed(c.Request.Context(), event); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Fulfillment failed",
			"details": err.Error(),
		})
		return
	}

	if h.redis != nil {
		if err := h.redis.SetIdempotencyKey(c.Request.Context(), req.EventID, req.OrderID, 24*time.Hour); err != nil {
			util.GetLogger().Warn("Failed to set idempotency key", zap.Error(err))
		}
	}

	order, err := h.fulfillment.GetOrder(c.Request.Context(), req.OrderID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load order"})
		return
	}

	c.JSON(http.StatusOK, order)
}

// getOrder returns the customer-facing order view: aggregate status plus
// per-domain nameserver instructions. Internal errors surface only as the
// captured error string per domain.
func (h *Handler) getOrder(c *gin.Context) {
	order, err := h.fulfillment.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "Order not found",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, order)
}

// retryOrder re-runs fulfillment over unresolved domains only.
func (h *Handler) retryOrder(c *gin.Context) {
	outcome, err := h.fulfillment.RetryOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Retry failed",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, outcome)
}

// VerifyDNSRequest optionally targets one order; omitted means sweep all.
type VerifyDNSRequest struct {
	OrderID string `json:"order_id,omitempty"`
}

// verifyDNS triggers DNS verification manually.
func (h *Handler) verifyDNS(c *gin.Context) {
	var req VerifyDNSRequest
	_ = c.ShouldBindJSON(&req)

	if req.OrderID != "" {
		verified, records, err := h.poller.VerifyOrder(c.Request.Context(), req.OrderID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "Verification failed",
				"details": err.Error(),
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"verified": verified,
			"results":  records,
		})
		return
	}

	result, err := h.poller.Sweep(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Sweep failed",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, result)
}

// customerOrders lists a customer's orders, newest first.
func (h *Handler) customerOrders(c *gin.Context) {
	orders, err := h.store.GetOrdersByCustomer(c.Request.Context(), c.Param("email"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list orders"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// inventoryStats returns the pool aggregate.
func (h *Handler) inventoryStats(c *gin.Context) {
	stats, err := h.store.Stats(c.Request.Context(), h.lowThreshold)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read inventory stats"})
		return
	}

	c.JSON(http.StatusOK, stats)
}

// AddAccountsRequest bulk-ingests credentials into the pool.
type AddAccountsRequest struct {
	Accounts []struct {
		Email    string  `json:"email" binding:"required,email"`
		Password string  `json:"password" binding:"required"`
		Notes    *string `json:"notes,omitempty"`
	} `json:"accounts" binding:"required,min=1"`
}

func (h *Handler) addAccounts(c *gin.Context) {
	var req AddAccountsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	accounts := make([]models.InventoryAccount, 0, len(req.Accounts))
	for _, acc := range req.Accounts {
		accounts = append(accounts, models.InventoryAccount{
			Email:    acc.Email,
			Password: acc.Password,
			Notes:    acc.Notes,
		})
	}

	added, err := h.store.AddAccounts(c.Request.Context(), accounts)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to add accounts",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"added": added})
}

// listAccounts returns inventory records for the admin view.
func (h *Handler) listAccounts(c *gin.Context) {
	limit := 100
	if l, err := strconv.Atoi(c.Query("limit")); err == nil && l > 0 {
		limit = l
	}

	accounts, err := h.store.ListAccounts(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list accounts"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"accounts": accounts})
}

// DepleteAccountsRequest flags credentials as unusable. Terminal.
type DepleteAccountsRequest struct {
	Emails []string `json:"emails" binding:"required,min=1"`
}

func (h *Handler) depleteAccounts(c *gin.Context) {
	var req DepleteAccountsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	if err := h.store.MarkDepleted(c.Request.Context(), req.Emails); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to deplete accounts",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"depleted": len(req.Emails)})
}

// listAlerts returns operator notifications, optionally filtered by status.
func (h *Handler) listAlerts(c *gin.Context) {
	status := c.Query("status")
	limit := 100
	if l, err := strconv.Atoi(c.Query("limit")); err == nil && l > 0 {
		limit = l
	}

	alerts, err := h.store.ListAlerts(c.Request.Context(), status, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list alerts"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"alerts": alerts})
}

func (h *Handler) markAlertRead(c *gin.Context) {
	if err := h.store.MarkAlertRead(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to mark alert read"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
