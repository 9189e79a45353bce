package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Métricas de sessão
	ChargingSessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ocpp_datum_sessions_started_total",
		Help: "Total de sessões de carregamento iniciadas",
	})

	ChargingSessionsEnded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ocpp_datum_sessions_ended_total",
		Help: "Total de sessões de carregamento encerradas",
	})

	ChargingSessionsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ocpp_datum_sessions_rejected_total",
		Help: "Total de inícios de sessão rejeitados",
	}, []string{"reason"})

	ReadingsRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ocpp_datum_readings_recorded_total",
		Help: "Total de leituras persistidas",
	})

	// Métricas de datum
	DatumPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ocpp_datum_published_total",
		Help: "Total de datum publicados por destino",
	}, []string{"sink", "result"})

	// Métricas do coalescedor de status
	StatusUpdatesEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ocpp_datum_status_enqueued_total",
		Help: "Total de atualizações de status recebidas",
	})

	StatusUpdatesCoalesced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ocpp_datum_status_coalesced_total",
		Help: "Total de atualizações de status substituídas antes da escrita",
	})

	StatusUpdatesFlushed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ocpp_datum_status_flushed_total",
		Help: "Total de atualizações de status gravadas",
	}, []string{"result"})

	StatusQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ocpp_datum_status_queue_depth",
		Help: "Atualizações de status pendentes",
	})

	// Métricas de infraestrutura
	OCPPMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ocpp_datum_ocpp_messages_total",
		Help: "Total de mensagens OCPP",
	}, []string{"action", "direction"})

	ConnectedChargePoints = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ocpp_datum_connected_charge_points",
		Help: "Carregadores conectados",
	})

	DatabaseLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ocpp_datum_database_latency_seconds",
		Help:    "Latência de queries no banco",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
)
