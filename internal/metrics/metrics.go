// Package metrics exposes the client's Prometheus collectors. A nil *Registry
// is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Registry struct {
	registry      *prometheus.Registry
	connectsTotal *prometheus.CounterVec
	pollsTotal    *prometheus.CounterVec
	txTotal       *prometheus.CounterVec
	requestsTotal *prometheus.CounterVec
	txInFlight    prometheus.Gauge
	mintedCount   prometheus.Gauge
	presaleEnded  prometheus.Gauge
}

func New() *Registry {
	connects := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "citanft_wallet_connects_total",
		Help: "Wallet connection attempts by result",
	}, []string{"result"})

	polls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "citanft_contract_reads_total",
		Help: "Contract state reads by field and result",
	}, []string{"field", "result"})

	txs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "citanft_transactions_total",
		Help: "Write transactions by operation and result",
	}, []string{"operation", "result"})

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "citanft_write_requests_total",
		Help: "Write API requests by operation and status",
	}, []string{"operation", "status"})

	inFlight := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "citanft_transaction_in_flight",
		Help: "1 while a write transaction awaits confirmation",
	})

	minted := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "citanft_minted_count",
		Help: "Last observed number of minted tokens",
	})

	ended := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "citanft_presale_ended",
		Help: "1 once the presale end timestamp has passed",
	})

	r := prometheus.NewRegistry()
	r.MustRegister(connects, polls, txs, requests, inFlight, minted, ended)

	return &Registry{
		registry:      r,
		connectsTotal: connects,
		pollsTotal:    polls,
		txTotal:       txs,
		requestsTotal: requests,
		txInFlight:    inFlight,
		mintedCount:   minted,
		presaleEnded:  ended,
	}
}

func (m *Registry) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Registry) IncConnect(result string) {
	if m == nil {
		return
	}
	m.connectsTotal.WithLabelValues(result).Inc()
}

func (m *Registry) IncRead(field, result string) {
	if m == nil {
		return
	}
	m.pollsTotal.WithLabelValues(field, result).Inc()
}

func (m *Registry) IncTx(operation, result string) {
	if m == nil {
		return
	}
	m.txTotal.WithLabelValues(operation, result).Inc()
}

func (m *Registry) IncRequest(operation, status string) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(operation, status).Inc()
}

func (m *Registry) SetInFlight(inFlight bool) {
	if m == nil {
		return
	}
	if inFlight {
		m.txInFlight.Set(1)
		return
	}
	m.txInFlight.Set(0)
}

func (m *Registry) SetMinted(count float64) {
	if m == nil {
		return
	}
	m.mintedCount.Set(count)
}

func (m *Registry) SetPresaleEnded(ended bool) {
	if m == nil {
		return
	}
	if ended {
		m.presaleEnded.Set(1)
		return
	}
	m.presaleEnded.Set(0)
}
