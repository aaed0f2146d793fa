package chat

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "chathistory"
	subsystem = "cache"
)

var cachedMessages = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: subsystem,
	Name:      "messages",
	Help:      "Message identifiers currently held in chat indexes",
})

var cachedChats = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: subsystem,
	Name:      "chats",
	Help:      "Chats with an in-memory index",
})

var historyRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: subsystem,
	Name:      "history_requests_total",
	Help:      "History requests by how they were answered",
}, []string{"result"})

var evictedMessages = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: subsystem,
	Name:      "evicted_messages_total",
	Help:      "Messages dropped from memory",
}, []string{"reason"})
