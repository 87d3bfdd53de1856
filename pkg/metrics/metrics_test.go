package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/ZentaChain/zentalk-icq/pkg/event"
	"github.com/ZentaChain/zentalk-icq/pkg/network"
	"github.com/ZentaChain/zentalk-icq/pkg/notify"
)

var _ network.Observer = (*Collector)(nil)

func TestCollectorPackets(t *testing.T) {
	c := New(prometheus.NewRegistry())

	c.PacketIn(0x0003, 0x000b)
	c.PacketIn(0x0003, 0x000b)
	c.PacketOut("SetStatus")
	c.DecodeError()
	c.Unhandled(0x0042, 0x0001)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.packetsIn.WithLabelValues("0x0003", "0x000b")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.packetsOut.WithLabelValues("SetStatus")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.decodeErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.unhandled.WithLabelValues("0x0042", "0x0001")))
}

func TestCollectorEvents(t *testing.T) {
	c := New(prometheus.NewRegistry())
	kind := event.Running.String()

	c.EventOpened(event.Running)
	c.EventOpened(event.Running)
	assert.Equal(t, 2.0, testutil.ToFloat64(c.pending.WithLabelValues(kind)))

	c.EventClosed(event.Running, event.Success)
	c.CorrelationMiss(event.Running)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.pending.WithLabelValues(kind)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.eventsClosed.WithLabelValues(kind, event.Success.String())))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.misses.WithLabelValues(kind)))
}

func TestCollectorSignals(t *testing.T) {
	c := New(prometheus.NewRegistry())
	var pub notify.Publisher = notify.Multi{c, notify.Discard}
	pub.Publish(notify.New(notify.MessageReceived, "42", nil))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.signals.WithLabelValues(string(notify.MessageReceived))))
}

func TestDuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
