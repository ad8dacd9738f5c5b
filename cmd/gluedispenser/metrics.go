package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	reg *prometheus.Registry

	linesSent    prometheus.Counter
	points       prometheus.Counter
	runs         *prometheus.CounterVec
	deviceErrors prometheus.Counter
	sending      prometheus.Gauge
}

func newMetrics() *metrics {
	m := &metrics{
		reg: prometheus.NewRegistry(),
		linesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gluedispenser_lines_sent_total",
			Help: "Total number of lines written to the device.",
		}),
		points: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gluedispenser_points_total",
			Help: "Total number of deposition points completed.",
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gluedispenser_runs_total",
			Help: "Total number of transmission runs by outcome.",
		}, []string{"outcome"}),
		deviceErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gluedispenser_device_errors_total",
			Help: "Total number of device failures aborting a run.",
		}),
		sending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gluedispenser_sending",
			Help: "Whether a transmission run is in progress.",
		}),
	}
	m.reg.MustRegister(m.linesSent, m.points, m.runs, m.deviceErrors, m.sending)
	return m
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
