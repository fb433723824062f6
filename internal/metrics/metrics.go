// Package metrics holds the Prometheus collectors of the chat service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MessagesAppended = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chat",
		Name:      "messages_appended_total",
		Help:      "Messages persisted by the message store.",
	})

	// PublishFailures is labelled by target: chat, user or stream.
	PublishFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chat",
		Name:      "publish_failures_total",
		Help:      "Best-effort deliveries that failed after the message was stored.",
	}, []string{"target"})

	TypingRelayed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chat",
		Name:      "typing_events_total",
		Help:      "Typing presence events relayed by the websocket gateway.",
	})

	WebSocketSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chat",
		Name:      "websocket_sessions",
		Help:      "Open websocket gateway sessions.",
	})

	RecentCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chat",
		Name:      "recent_cache_lookups_total",
		Help:      "Newest-page cache lookups by result (hit or miss).",
	}, []string{"result"})
)

// Handler serves the default registry for scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}
