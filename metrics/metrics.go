// Package metrics exposes lottery activity as Prometheus collectors. Every
// value is derived from chain events, so the collectors only see committed
// transactions.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tolelom/tolotto/events"
)

const namespace = "tolotto"

// Metrics holds the node's collectors.
type Metrics struct {
	Registry *prometheus.Registry

	BlockHeight     prometheus.Gauge
	Transactions    *prometheus.CounterVec
	RoundsCreated   prometheus.Counter
	TicketsSold     prometheus.Counter
	TicketRevenue   prometheus.Counter
	DrawsRequested  prometheus.Counter
	DrawsDelivered  prometheus.Counter
	PrizesClaimed   prometheus.Counter
	PrizesPaid      prometheus.Counter
	TicketTransfers prometheus.Counter
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		BlockHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "block_height",
			Help: "Height of the last committed block.",
		}),
		Transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "transactions_total",
			Help: "Executed transactions by outcome.",
		}, []string{"outcome"}),
		RoundsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "rounds_created_total",
			Help: "Lottery rounds created.",
		}),
		TicketsSold: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "tickets_sold_total",
			Help: "Tickets minted by successful purchases.",
		}),
		TicketRevenue: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "ticket_revenue_total",
			Help: "Funds paid for tickets.",
		}),
		DrawsRequested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "draws_requested_total",
			Help: "Draw requests issued, including superseding ones.",
		}),
		DrawsDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "draws_delivered_total",
			Help: "Rounds whose winning pick was fixed.",
		}),
		PrizesClaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "prizes_claimed_total",
			Help: "Successful prize claims.",
		}),
		PrizesPaid: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "prizes_paid_total",
			Help: "Funds paid out to winners.",
		}),
		TicketTransfers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "ticket_transfers_total",
			Help: "Tickets moved between owners.",
		}),
	}
	m.Registry.MustRegister(
		m.BlockHeight, m.Transactions, m.RoundsCreated, m.TicketsSold, m.TicketRevenue,
		m.DrawsRequested, m.DrawsDelivered, m.PrizesClaimed, m.PrizesPaid, m.TicketTransfers,
	)
	return m
}

// Subscribe feeds the collectors from em.
func (m *Metrics) Subscribe(em *events.Emitter) {
	em.Subscribe(events.EventBlockCommit, func(ev events.Event) {
		m.BlockHeight.Set(float64(ev.BlockHeight))
	})
	em.Subscribe(events.EventTxExecuted, func(events.Event) {
		m.Transactions.WithLabelValues("success").Inc()
	})
	em.Subscribe(events.EventTxFailed, func(events.Event) {
		m.Transactions.WithLabelValues("failed").Inc()
	})
	em.Subscribe(events.EventRoundCreated, func(events.Event) {
		m.RoundsCreated.Inc()
	})
	em.Subscribe(events.EventTicketsBought, func(ev events.Event) {
		if ids, ok := ev.Data["ticket_ids"].([]uint64); ok {
			m.TicketsSold.Add(float64(len(ids)))
		}
		if cost, ok := ev.Data["cost"].(uint64); ok {
			m.TicketRevenue.Add(float64(cost))
		}
	})
	em.Subscribe(events.EventDrawRequested, func(events.Event) {
		m.DrawsRequested.Inc()
	})
	em.Subscribe(events.EventRandomnessDelivered, func(events.Event) {
		m.DrawsDelivered.Inc()
	})
	em.Subscribe(events.EventPrizeClaimed, func(ev events.Event) {
		m.PrizesClaimed.Inc()
		if amount, ok := ev.Data["amount"].(uint64); ok {
			m.PrizesPaid.Add(float64(amount))
		}
	})
	em.Subscribe(events.EventTicketTransfer, func(events.Event) {
		m.TicketTransfers.Inc()
	})
}
