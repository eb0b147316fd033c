package metrics

import (
	"database/sql"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"fanpool/internal/models"
	"fanpool/internal/settlement"
)

// SettlementsApplied counts newly written settlements by type.
var SettlementsApplied = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "fanpool_settlements_applied_total",
		Help: "Settlements written, by type",
	},
	[]string{"type"},
)

// SettledAmount sums the amounts of newly written settlements by type.
var SettledAmount = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "fanpool_settled_amount_total",
		Help: "Smallest currency units paid out or refunded",
	},
	[]string{"type"},
)

var (
	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fanpool_settlement_runs_total",
			Help: "Settlement runs by outcome",
		},
		[]string{"outcome"},
	)

	RunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fanpool_settlement_run_duration_seconds",
			Help:    "Wall time of a settlement run",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
		},
	)

	ParticipantFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fanpool_settlement_participant_failures_total",
			Help: "Participants whose settlement write failed and awaits a re-run",
		},
	)

	BatchesProcessed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fanpool_settlement_batches_total",
			Help: "Settlement batches processed",
		},
	)

	ChainBetsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fanpool_chain_bets_ingested_total",
			Help: "Chain bet logs by ingest result",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(SettlementsApplied, SettledAmount)
	prometheus.MustRegister(RunsTotal, RunDuration, ParticipantFailures, BatchesProcessed, ChainBetsIngested)
}

// RegisterDB exports connection pool stats of the settlement database.
func RegisterDB(db *sql.DB) error {
	if db == nil {
		return nil
	}
	return prometheus.Register(collectors.NewDBStatsCollector(db, "fanpool"))
}

func ObserveSettlement(item models.Settlement) {
	SettlementsApplied.WithLabelValues(item.Type).Inc()
	if item.Amount > 0 {
		SettledAmount.WithLabelValues(item.Type).Add(float64(item.Amount))
	}
}

// ObserveRun records a finished run. err is the value RunSettlement returned.
func ObserveRun(summary settlement.RunSummary, started time.Time, err error) {
	RunDuration.Observe(time.Since(started).Seconds())
	ParticipantFailures.Add(float64(summary.Failed))
	RunsTotal.WithLabelValues(RunOutcome(summary, err)).Inc()
}

func RunOutcome(summary settlement.RunSummary, err error) string {
	switch {
	case summary.Cancelled:
		return "cancelled"
	case err != nil:
		return "error"
	case summary.Failed > 0:
		return "partial"
	case summary.Settled:
		return "settled"
	default:
		return "incomplete"
	}
}
