package afya

import (
	"github.com/prometheus/client_golang/prometheus"
)

// clientMetrics counts the interaction flows the SDK drives.
type clientMetrics struct {
	submissions      *prometheus.CounterVec
	pollCycles       prometheus.Counter
	jobOutcomes      *prometheus.CounterVec
	speechDispatches prometheus.Counter
}

func newClientMetrics(reg prometheus.Registerer) *clientMetrics {
	m := &clientMetrics{
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "afya",
			Subsystem: "client",
			Name:      "submissions_total",
			Help:      "Submissions by input kind and terminal outcome.",
		}, []string{"kind", "outcome"}),
		pollCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "afya",
			Subsystem: "client",
			Name:      "job_poll_cycles_total",
			Help:      "Individual job status polls issued.",
		}),
		jobOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "afya",
			Subsystem: "client",
			Name:      "job_outcomes_total",
			Help:      "Video job terminations by outcome.",
		}, []string{"outcome"}),
		speechDispatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "afya",
			Subsystem: "client",
			Name:      "speech_dispatches_total",
			Help:      "Finalized voice utterances handed to the dispatcher.",
		}),
	}
	reg.MustRegister(m.submissions, m.pollCycles, m.jobOutcomes, m.speechDispatches)
	return m
}
