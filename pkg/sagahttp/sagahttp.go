// Package sagahttp is the admin HTTP surface (§4.6): creating and
// inspecting sagas, driving manual compensation, and reading/mutating the
// controlled failure injector's live configuration.
package sagahttp

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	sagaerrors "github.com/director74/sagacore/pkg/errors"
	"github.com/director74/sagacore/pkg/failureinjector"
	"github.com/director74/sagacore/pkg/saga"
)

// Handler serves every admin route against one Engine and one
// failureinjector.Injector.
type Handler struct {
	engine    *saga.Engine
	store     saga.Store
	injector  *failureinjector.Injector
}

func NewHandler(engine *saga.Engine, store saga.Store, injector *failureinjector.Injector) *Handler {
	return &Handler{engine: engine, store: store, injector: injector}
}

// RegisterRoutes mounts every admin route plus /metrics on router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", h.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/saga")
	{
		api.GET("", h.ListSagas)
		api.GET("/:id", h.GetSaga)
		api.GET("/:id/transitions", h.GetTransitions)
		api.GET("/by-state/:state", h.ListSagasByState)
		api.POST("/sale", h.CreateSaleSaga)
		api.POST("/order", h.CreateOrderSaga)
		api.POST("/stock", h.CreateStockUpdateSaga)
		api.POST("/compensate/:id", h.CompensateSaga)
	}

	fc := router.Group("/failure-config")
	{
		fc.GET("", h.GetFailureConfig)
		fc.PUT("", h.UpdateFailureConfig)
		fc.POST("/toggle", h.ToggleFailureConfig)
		fc.POST("/simulate", h.SimulateFailure)
	}
}

func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func correlationID(c *gin.Context) string {
	return c.GetHeader("X-Correlation-Id")
}

// --- saga inspection ---

func (h *Handler) ListSagas(c *gin.Context) {
	records, err := h.store.GetAll(c.Request.Context())
	if sagaerrors.HandleGinError(c, err) {
		return
	}
	c.JSON(http.StatusOK, records)
}

func (h *Handler) GetSaga(c *gin.Context) {
	rec, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, sagaerrors.ErrorResponse("saga not found", nil))
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handler) GetTransitions(c *gin.Context) {
	transitions, err := h.store.GetTransitions(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, sagaerrors.ErrorResponse("saga not found", nil))
		return
	}
	c.JSON(http.StatusOK, transitions)
}

func (h *Handler) ListSagasByState(c *gin.Context) {
	records, err := h.store.GetByState(c.Request.Context(), saga.State(c.Param("state")))
	if sagaerrors.HandleGinError(c, err) {
		return
	}
	c.JSON(http.StatusOK, records)
}

// --- saga creation ---

func (h *Handler) CreateSaleSaga(c *gin.Context) {
	var req saga.CreateSaleRequest
	if !sagaerrors.BindJSON(c, &req) {
		return
	}

	result, err := h.engine.ExecuteSaleSaga(c.Request.Context(), req, correlationID(c))
	if err != nil {
		c.JSON(http.StatusBadRequest, sagaerrors.ErrorResponse(err.Error(), nil))
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (h *Handler) CreateOrderSaga(c *gin.Context) {
	var req saga.CreateOrderRequest
	if !sagaerrors.BindJSON(c, &req) {
		return
	}

	result, err := h.engine.ExecuteOrderSaga(c.Request.Context(), req, correlationID(c))
	if err != nil {
		c.JSON(http.StatusBadRequest, sagaerrors.ErrorResponse(err.Error(), nil))
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (h *Handler) CreateStockUpdateSaga(c *gin.Context) {
	var req saga.StockUpdateRequest
	if !sagaerrors.BindJSON(c, &req) {
		return
	}

	result, err := h.engine.ExecuteStockUpdateSaga(c.Request.Context(), req, correlationID(c))
	if err != nil {
		c.JSON(http.StatusBadRequest, sagaerrors.ErrorResponse(err.Error(), nil))
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (h *Handler) CompensateSaga(c *gin.Context) {
	result, err := h.engine.CompensateSaga(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, sagaerrors.ErrorResponse(err.Error(), nil))
		return
	}
	c.JSON(http.StatusOK, result)
}

// --- failure injector admin ---

func (h *Handler) GetFailureConfig(c *gin.Context) {
	c.JSON(http.StatusOK, h.injector.Get())
}

// updateFailureConfigRequest mirrors failureinjector.PartialConfig with
// JSON-friendly field names; a nil pointer/empty slice leaves that field
// untouched, matching Injector.Update's partial-merge semantics.
type updateFailureConfigRequest struct {
	Enabled          *bool                           `json:"enabled"`
	Probabilities    map[failureinjector.Kind]float64 `json:"probabilities"`
	FailureDelayMs   *int                            `json:"failureDelayMs"`
	CriticalProducts []string                        `json:"criticalProducts"`
	CriticalStores   []string                        `json:"criticalStores"`
}

func (h *Handler) UpdateFailureConfig(c *gin.Context) {
	var req updateFailureConfigRequest
	if !sagaerrors.BindJSON(c, &req) {
		return
	}

	cfg := h.injector.Update(failureinjector.PartialConfig{
		Enabled:          req.Enabled,
		Probabilities:    req.Probabilities,
		FailureDelayMs:   req.FailureDelayMs,
		CriticalProducts: req.CriticalProducts,
		CriticalStores:   req.CriticalStores,
	})
	c.JSON(http.StatusOK, cfg)
}

func (h *Handler) ToggleFailureConfig(c *gin.Context) {
	current := h.injector.Get()
	next := !current.Enabled
	cfg := h.injector.Update(failureinjector.PartialConfig{Enabled: &next})
	c.JSON(http.StatusOK, cfg)
}

// simulateFailureRequest asks the injector to evaluate (without a real
// saga step running) whether a given decision point would fail right now,
// so an operator can sanity-check a probability/critical-list change
// before wiring it into a live saga (§12 supplemented feature).
type simulateFailureRequest struct {
	Kind        failureinjector.Kind `json:"kind" binding:"required"`
	ProductName string               `json:"productName"`
	StoreID     string               `json:"storeId"`
}

func (h *Handler) SimulateFailure(c *gin.Context) {
	var req simulateFailureRequest
	if !sagaerrors.BindJSON(c, &req) {
		return
	}

	err := h.injector.MaybeFail(c.Request.Context(), req.Kind, failureinjector.FailureContext{
		ProductName: req.ProductName,
		StoreID:     req.StoreID,
	})
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"failed": true, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"failed": false})
}
