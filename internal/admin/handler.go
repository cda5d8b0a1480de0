package admin

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"nav-strike-engine/internal/domain"
	"nav-strike-engine/internal/observability"
	"nav-strike-engine/internal/reporting"
)

// Handler serves the admin API over HTTP.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates a Handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger.Named("http")}
}

// NewRouter builds a gin engine with recovery, request logging and all routes.
func NewRouter(h *Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), h.requestLogger())
	h.RegisterRoutes(router)
	return router
}

// RegisterRoutes registers operational and /api/v1 routes.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	router.GET("/metrics", gin.WrapH(observability.Handler()))
	router.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, h.svc.Status())
	})

	api := router.Group("/api/v1")
	{
		api.POST("/orders", h.Enqueue)
		api.GET("/orders/pending", h.PendingOrders)
		api.DELETE("/orders/:id", h.CancelOrder)

		api.POST("/strikes", h.ExecuteStrike)
		api.GET("/strikes", h.ListStrikes)
		api.GET("/strikes/:id", h.GetStrike)

		api.POST("/reconcile", h.Reconcile)

		api.GET("/fund", h.FundState)
		api.GET("/fund/report", h.FundReport)

		api.POST("/accounts/:account/freeze", h.Freeze)
		api.POST("/accounts/:account/thaw", h.Thaw)
	}
}

// Enqueue accepts an investor intent.
func (h *Handler) Enqueue(c *gin.Context) {
	var req EnqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	o, err := h.svc.Enqueue(c.Request.Context(), req.Investor, req.Kind, req.Amount)
	if err != nil {
		h.fail(c, "enqueue order", err)
		return
	}
	c.JSON(http.StatusCreated, newOrderResponse(o))
}

// PendingOrders lists orders awaiting the next strike.
func (h *Handler) PendingOrders(c *gin.Context) {
	pending := h.svc.GetPendingOrders()
	out := make([]OrderResponse, 0, len(pending))
	for _, o := range pending {
		out = append(out, newOrderResponse(o))
	}
	c.JSON(http.StatusOK, out)
}

// CancelOrder withdraws a PENDING order.
func (h *Handler) CancelOrder(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "order id must be an integer"})
		return
	}
	if err := h.svc.CancelOrder(c.Request.Context(), id); err != nil {
		h.fail(c, "cancel order", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ExecuteStrike runs a strike at the NAV in the request body.
func (h *Handler) ExecuteStrike(c *gin.Context) {
	var req StrikeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	r, err := h.svc.ExecuteStrike(c.Request.Context(), req.NAV)
	if err != nil {
		h.fail(c, "execute strike", err)
		return
	}
	c.JSON(http.StatusOK, newStrikeReportResponse(r))
}

// ListStrikes returns recent strike reports, newest first.
func (h *Handler) ListStrikes(c *gin.Context) {
	limit := 20
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	reports, err := h.svc.ListStrikeReports(c.Request.Context(), limit)
	if err != nil {
		h.fail(c, "list strikes", err)
		return
	}
	out := make([]StrikeReportResponse, 0, len(reports))
	for _, r := range reports {
		out = append(out, newStrikeReportResponse(r))
	}
	c.JSON(http.StatusOK, out)
}

// GetStrike returns one strike report as json (default), md or csv.
// The id "latest" selects the most recent strike.
func (h *Handler) GetStrike(c *gin.Context) {
	r, err := h.svc.GetStrikeReport(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "get strike", err)
		return
	}

	switch c.DefaultQuery("format", "json") {
	case "json":
		c.JSON(http.StatusOK, newStrikeReportResponse(r))
	case "md":
		c.Data(http.StatusOK, "text/markdown; charset=utf-8", []byte(reporting.RenderStrikeMarkdown(r)))
	case "csv":
		body := reporting.RenderReceiptsCSV(r.Receipts)
		if c.Query("table") == "failures" {
			body = reporting.RenderFailuresCSV(r.StrikeID, r.Failures)
		}
		c.Data(http.StatusOK, "text/csv; charset=utf-8", []byte(body))
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "format must be json, md or csv"})
	}
}

// Reconcile resolves timed-out settlements.
func (h *Handler) Reconcile(c *gin.Context) {
	res, err := h.svc.Reconcile(c.Request.Context())
	if err != nil {
		h.fail(c, "reconcile", err)
		return
	}
	c.JSON(http.StatusOK, newReconcileResponse(res))
}

// FundState returns current fund accounting.
func (h *Handler) FundState(c *gin.Context) {
	fs, err := h.svc.GetFundState()
	if err != nil {
		h.fail(c, "get fund state", err)
		return
	}
	c.JSON(http.StatusOK, newFundResponse(fs))
}

// FundReport renders activity over ?window= (default 24h) as md (default),
// csv (daily flows) or json.
func (h *Handler) FundReport(c *gin.Context) {
	window, err := time.ParseDuration(c.DefaultQuery("window", "24h"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "window must be a duration such as 24h"})
		return
	}

	format := c.DefaultQuery("format", "md")
	switch format {
	case "md", "csv", "json":
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "format must be json, md or csv"})
		return
	}

	r, err := h.svc.FundReport(c.Request.Context(), window)
	if err != nil {
		h.fail(c, "generate fund report", err)
		return
	}

	switch format {
	case "md":
		c.Data(http.StatusOK, "text/markdown; charset=utf-8", []byte(reporting.RenderMarkdown(r)))
	case "csv":
		c.Data(http.StatusOK, "text/csv; charset=utf-8", []byte(reporting.RenderFlowsCSV(r.DailyFlows)))
	default:
		c.JSON(http.StatusOK, r)
	}
}

// Freeze blocks an account.
func (h *Handler) Freeze(c *gin.Context) {
	if err := h.svc.Freeze(c.Request.Context(), c.Param("account")); err != nil {
		h.fail(c, "freeze account", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Thaw unblocks an account.
func (h *Handler) Thaw(c *gin.Context) {
	if err := h.svc.Thaw(c.Request.Context(), c.Param("account")); err != nil {
		h.fail(c, "thaw account", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) fail(c *gin.Context, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(op+" failed", zap.Error(err))
	} else {
		h.logger.Debug(op+" rejected", zap.Int("status", status), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case isNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrStrikeInProgress), errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, domain.ErrLedgerSubmission),
		errors.Is(err, domain.ErrLedgerRejected),
		errors.Is(err, domain.ErrLedgerConfirmationTimeout):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrConfiguration):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		h.logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
