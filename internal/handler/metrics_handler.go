package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/consultease/central/internal/models"
	"github.com/consultease/central/internal/service"
	"github.com/consultease/central/pkg/response"
)

// brokerStatus is the slice of the connection manager the operations
// endpoints report on.
type brokerStatus interface {
	IsConnected() bool
	PendingDeliveries() int
	QueuedMessages() int
}

// consultationCounter supplies the per-status consultation totals shown on
// the operations dashboard.
type consultationCounter interface {
	CountByStatus(ctx context.Context) (map[models.ConsultationStatus]int, error)
}

// MetricsHandler exposes observability endpoints.
type MetricsHandler struct {
	metrics *service.MetricsService
	broker  brokerStatus
	counts  consultationCounter
	logger  *zap.Logger
}

// NewMetricsHandler constructs a metrics handler. The broker and counter may
// be nil in tests.
func NewMetricsHandler(metrics *service.MetricsService, broker brokerStatus, counts consultationCounter, logger *zap.Logger) *MetricsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MetricsHandler{metrics: metrics, broker: broker, counts: counts, logger: logger}
}

// Prometheus serves the Prometheus metrics endpoint.
func (h *MetricsHandler) Prometheus(c *gin.Context) {
	if h.metrics == nil {
		c.Status(http.StatusServiceUnavailable)
		return
	}
	h.metrics.Handler().ServeHTTP(c.Writer, c.Request)
}

// Health responds for readiness/liveness usage. The service is considered up
// even when the broker is down; broker state is reported, not gating.
func (h *MetricsHandler) Health(c *gin.Context) {
	brokerConnected := false
	if h.broker != nil {
		brokerConnected = h.broker.IsConnected()
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "broker_connected": brokerConnected})
}

// System returns the aggregated operations snapshot.
func (h *MetricsHandler) System(c *gin.Context) {
	snapshot := h.metrics.Snapshot()
	if h.broker != nil {
		snapshot.BrokerConnected = h.broker.IsConnected()
		snapshot.PendingDeliveries = h.broker.PendingDeliveries()
		snapshot.QueuedMessages = h.broker.QueuedMessages()
	}
	if h.counts != nil {
		counts, err := h.counts.CountByStatus(c.Request.Context())
		if err != nil {
			h.logger.Warn("consultation status counts unavailable", zap.Error(err))
		} else {
			snapshot.ConsultationsByStatus = counts
		}
	}
	response.JSON(c, http.StatusOK, snapshot, nil)
}
