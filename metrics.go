package main

import "github.com/prometheus/client_golang/prometheus"

type coreMetrics struct {
	votesCast       prometheus.Counter
	transfers       *prometheus.CounterVec
	bountiesPlaced  prometheus.Counter
	bountiesClaimed prometheus.Counter
	bountiesExpired prometheus.Counter
	txnRetries      prometheus.Counter
	txnContention   prometheus.Counter
	eventsPublished *prometheus.CounterVec
}

func newCoreMetrics(reg prometheus.Registerer) *coreMetrics {
	m := &coreMetrics{
		votesCast: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "votebank",
			Name:      "votes_cast_total",
			Help:      "Votes committed by the vote engine",
		}),
		transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "votebank",
			Name:      "transfers_total",
			Help:      "Committed credit transfers by kind",
		}, []string{"kind"}),
		bountiesPlaced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "votebank",
			Name:      "bounties_placed_total",
			Help:      "Bounties placed",
		}),
		bountiesClaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "votebank",
			Name:      "bounty_claims_total",
			Help:      "Bounty claims paid out",
		}),
		bountiesExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "votebank",
			Name:      "bounties_expired_total",
			Help:      "Bounties transitioned to expired",
		}),
		txnRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "votebank",
			Name:      "txn_retries_total",
			Help:      "Ledger transaction attempts retried after conflict",
		}),
		txnContention: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "votebank",
			Name:      "txn_contention_total",
			Help:      "Ledger transactions aborted after exhausting retries",
		}),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "votebank",
			Name:      "events_published_total",
			Help:      "Domain events published by type",
		}, []string{"type"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.votesCast,
			m.transfers,
			m.bountiesPlaced,
			m.bountiesClaimed,
			m.bountiesExpired,
			m.txnRetries,
			m.txnContention,
			m.eventsPublished,
		)
	}
	return m
}
