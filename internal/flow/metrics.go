package flow

import "github.com/prometheus/client_golang/prometheus"

// Branch labels used in metrics and message meta.
const (
	branchTutor            = "tutor"
	branchRejected         = "rejected"
	branchLeadInfo         = "lead_info"
	branchLeadAcademic     = "lead_academic"
	branchLeadLinked       = "lead_linked"
	branchLeadEmailUnknown = "lead_email_unknown"
	branchLeadNoPhone      = "lead_no_phone"
	branchUnsupported      = "unsupported"
)

var branchTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "studypipe",
		Subsystem: "router",
		Name:      "branch_total",
		Help:      "Inbound messages by routing outcome",
	},
	[]string{"branch"},
)

var fallbackTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "studypipe",
		Subsystem: "router",
		Name:      "fallback_replies_total",
		Help:      "Replies replaced by the fixed apology after a generation failure",
	},
	[]string{"persona"},
)

func init() {
	prometheus.MustRegister(branchTotal, fallbackTotal)
}

// RegisterMetrics registers router metrics with a custom registry.
func RegisterMetrics(reg prometheus.Registerer) {
	if reg == nil || reg == prometheus.DefaultRegisterer {
		return
	}
	reg.MustRegister(branchTotal, fallbackTotal)
}
