// Package metrics exports client activity as Prometheus collectors. A
// Collector is handed to the event engine, the network client and the
// notification bus as their observer.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ZentaChain/zentalk-icq/pkg/event"
	"github.com/ZentaChain/zentalk-icq/pkg/notify"
)

const namespace = "icq"

// Collector implements event.Observer, network.Observer and
// notify.Publisher
type Collector struct {
	packetsIn    *prometheus.CounterVec
	packetsOut   *prometheus.CounterVec
	decodeErrors prometheus.Counter
	unhandled    *prometheus.CounterVec

	eventsOpened *prometheus.CounterVec
	eventsClosed *prometheus.CounterVec
	pending      *prometheus.GaugeVec
	misses       *prometheus.CounterVec

	signals *prometheus.CounterVec
}

var _ event.Observer = (*Collector)(nil)
var _ notify.Publisher = (*Collector)(nil)

// New registers the collectors with reg. A nil reg uses the default
// registerer.
func New(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		packetsIn: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_in_total",
			Help:      "SNAC packets received, by family and subtype",
		}, []string{"family", "subtype"}),

		packetsOut: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_out_total",
			Help:      "Requests written to the server, by request type",
		}, []string{"request"}),

		decodeErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Inbound packets that failed to decode",
		}),

		unhandled: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unhandled_packets_total",
			Help:      "Inbound SNACs with no registered handler",
		}, []string{"family", "subtype"}),

		eventsOpened: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "opened_total",
			Help:      "Correlation events opened, by kind",
		}, []string{"kind"}),

		eventsClosed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "closed_total",
			Help:      "Correlation events closed, by kind and result",
		}, []string{"kind", "result"}),

		pending: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "pending",
			Help:      "Correlation events waiting for a reply",
		}, []string{"kind"}),

		misses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "correlation_misses_total",
			Help:      "Replies whose key matched no pending event",
		}, []string{"kind"}),

		signals: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_total",
			Help:      "Notifications published, by kind",
		}, []string{"kind"}),
	}
}

func hex16(v uint16) string { return fmt.Sprintf("0x%04x", v) }

func (c *Collector) PacketIn(family, subtype uint16) {
	c.packetsIn.WithLabelValues(hex16(family), hex16(subtype)).Inc()
}

func (c *Collector) PacketOut(name string) {
	c.packetsOut.WithLabelValues(name).Inc()
}

func (c *Collector) DecodeError() { c.decodeErrors.Inc() }

func (c *Collector) Unhandled(family, subtype uint16) {
	c.unhandled.WithLabelValues(hex16(family), hex16(subtype)).Inc()
}

func (c *Collector) EventOpened(kind event.Kind) {
	c.eventsOpened.WithLabelValues(kind.String()).Inc()
	c.pending.WithLabelValues(kind.String()).Inc()
}

func (c *Collector) EventClosed(kind event.Kind, r event.Result) {
	c.eventsClosed.WithLabelValues(kind.String(), r.String()).Inc()
	c.pending.WithLabelValues(kind.String()).Dec()
}

func (c *Collector) CorrelationMiss(kind event.Kind) {
	c.misses.WithLabelValues(kind.String()).Inc()
}

// Publish counts a notification
func (c *Collector) Publish(s notify.Signal) {
	c.signals.WithLabelValues(string(s.Kind)).Inc()
}
