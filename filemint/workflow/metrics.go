package workflow

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filemint_workflow_transitions_total",
			Help: "Workflow state transitions, by state entered.",
		},
		[]string{"state"},
	)

	runDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "filemint_workflow_run_duration_seconds",
			Help:    "Duration of workflow runs, by final state.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"state"},
	)

	storageRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "filemint_storage_retries_total",
		Help: "Pin attempts retried after the storage network was unavailable.",
	})

	registrationResubmitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "filemint_registration_resubmits_total",
		Help: "Registrations resubmitted after the ledger dropped the original transaction.",
	})
)
