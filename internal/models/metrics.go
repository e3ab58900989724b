package models

import "time"

// SystemMetrics is a lightweight aggregate snapshot for the operations
// dashboard, complementing the Prometheus scrape endpoint.
type SystemMetrics struct {
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	CacheHitRatio            float64   `json:"cache_hit_ratio"`
	MessagesPublished        uint64    `json:"messages_published"`
	MessagesAcked            uint64    `json:"messages_acked"`
	MessagesDropped          uint64    `json:"messages_dropped"`
	MessagesQueued           uint64    `json:"messages_queued"`
	PendingDeliveries        int       `json:"pending_deliveries"`
	QueuedMessages           int       `json:"queued_messages"`
	BrokerConnected          bool      `json:"broker_connected"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`

	ConsultationsByStatus map[ConsultationStatus]int `json:"consultations_by_status,omitempty"`
}
