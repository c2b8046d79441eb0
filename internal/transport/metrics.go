package transport

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cowrite",
		Subsystem: "transport",
		Name:      "messages_sent_total",
		Help:      "Protocol messages queued for delivery, by transport and kind.",
	}, []string{"transport", "kind"})

	messagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cowrite",
		Subsystem: "transport",
		Name:      "messages_received_total",
		Help:      "Protocol messages received, by transport and kind.",
	}, []string{"transport", "kind"})

	messagesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cowrite",
		Subsystem: "transport",
		Name:      "messages_dropped_total",
		Help:      "Inbound messages rejected by the decoder.",
	}, []string{"transport"})

	peerEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cowrite",
		Subsystem: "transport",
		Name:      "peer_events_total",
		Help:      "Peer joins and leaves.",
	}, []string{"transport", "event"})

	peerResets = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cowrite",
		Subsystem: "transport",
		Name:      "peer_resets_total",
		Help:      "Peers disconnected because their outbound queue overflowed.",
	}, []string{"transport"})

	rendezvousErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cowrite",
		Subsystem: "rendezvous",
		Name:      "errors_total",
		Help:      "Failed advertise or lookup attempts, by rendezvous.",
	}, []string{"rendezvous"})

	rendezvousPeers = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cowrite",
		Subsystem: "rendezvous",
		Name:      "peers_found_total",
		Help:      "Candidate peers returned by lookups, by rendezvous.",
	}, []string{"rendezvous"})
)
