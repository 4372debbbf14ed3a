package services

import (
	"context"
	"math/big"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"raffle-oracle/internal/models"
)

const namespace = "raffle"

// MetricsNotifier counts raffle events.
type MetricsNotifier struct {
	events      *prometheus.CounterVec
	paidOutWei  prometheus.Counter
	depositsWei prometheus.Counter
}

func NewMetricsNotifier(reg prometheus.Registerer) *MetricsNotifier {
	f := promauto.With(reg)
	return &MetricsNotifier{
		events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "raffle events by kind",
		}, []string{"kind"}),
		paidOutWei: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "paid_out_wei_total",
			Help:      "total amount paid to winners, in wei",
		}),
		depositsWei: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deposits_wei_total",
			Help:      "total amount deposited by entrants, in wei",
		}),
	}
}

func (m *MetricsNotifier) Notify(_ context.Context, ev models.Event) {
	m.events.WithLabelValues(string(ev.Kind)).Inc()
	if ev.Amount == nil {
		return
	}
	// float64 loses precision past 2^53 wei.
	amount, _ := new(big.Float).SetInt(ev.Amount).Float64()
	switch ev.Kind {
	case models.EventEntryRecorded:
		m.depositsWei.Add(amount)
	case models.EventWinnerSelected:
		m.paidOutWei.Add(amount)
	}
}

// RaffleCollector exposes the live pool and player count of a raffle.
type RaffleCollector struct {
	raffle  *Raffle
	pool    *prometheus.Desc
	players *prometheus.Desc
	state   *prometheus.Desc
}

func NewRaffleCollector(r *Raffle) *RaffleCollector {
	return &RaffleCollector{
		raffle:  r,
		pool:    prometheus.NewDesc(namespace+"_pool_wei", "current pool, in wei", nil, nil),
		players: prometheus.NewDesc(namespace+"_players", "entrants in the current round", nil, nil),
		state:   prometheus.NewDesc(namespace+"_state", "0 open, 1 calculating", nil, nil),
	}
}

func (c *RaffleCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.pool
	ch <- c.players
	ch <- c.state
}

func (c *RaffleCollector) Collect(ch chan<- prometheus.Metric) {
	l := c.raffle.Snapshot()
	pool, _ := new(big.Float).SetInt(l.Pool).Float64()
	ch <- prometheus.MustNewConstMetric(c.pool, prometheus.GaugeValue, pool)
	ch <- prometheus.MustNewConstMetric(c.players, prometheus.GaugeValue, float64(len(l.Players)))
	ch <- prometheus.MustNewConstMetric(c.state, prometheus.GaugeValue, float64(l.State))
}
