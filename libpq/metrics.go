package libpq

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts server traffic. A nil *Metrics records nothing.
type Metrics struct {
	connections prometheus.Gauge
	rows        prometheus.Counter
	rowBytes    prometheus.Counter
	bytesOut    prometheus.Counter
}

// NewMetrics creates the server metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pgwire",
			Name:      "connections",
			Help:      "Number of open client connections.",
		}),
		rows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pgwire",
			Name:      "data_rows_total",
			Help:      "DataRow messages sent to clients.",
		}),
		rowBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pgwire",
			Name:      "data_row_bytes_total",
			Help:      "Bytes of DataRow messages sent to clients.",
		}),
		bytesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pgwire",
			Name:      "sent_bytes_total",
			Help:      "Bytes written to client connections.",
		}),
	}
	reg.MustRegister(m.connections, m.rows, m.rowBytes, m.bytesOut)
	return m
}

func (m *Metrics) connOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) connClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

func (m *Metrics) rowsSent(rows, n int) {
	if m != nil {
		m.rows.Add(float64(rows))
		m.rowBytes.Add(float64(n))
	}
}

// countingWriter counts the bytes written to a connection.
type countingWriter struct {
	w io.Writer
	m *Metrics
}

func (cw countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	if cw.m != nil {
		cw.m.bytesOut.Add(float64(n))
	}
	return n, err
}

// Rows is the counter of DataRow messages sent.
func (m *Metrics) Rows() prometheus.Counter {
	return m.rows
}

// SentBytes is the counter of bytes written to clients.
func (m *Metrics) SentBytes() prometheus.Counter {
	return m.bytesOut
}
