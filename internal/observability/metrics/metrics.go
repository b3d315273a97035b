package metrics

import "github.com/prometheus/client_golang/prometheus"

// FunnelMetrics exposes counters/histograms for the booking funnel.
type FunnelMetrics struct {
	stepViews        *prometheus.CounterVec
	otpSends         *prometheus.CounterVec
	otpVerifications *prometheus.CounterVec
	commitAttempts   *prometheus.CounterVec
	commitOutcomes   *prometheus.CounterVec
	commitLatency    *prometheus.HistogramVec
	smsOutbound      *prometheus.CounterVec
}

func NewFunnelMetrics(reg prometheus.Registerer) *FunnelMetrics {
	m := &FunnelMetrics{
		stepViews: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "appraisal",
			Subsystem: "journey",
			Name:      "step_views_total",
			Help:      "Journey steps rendered, by step name",
		}, []string{"step"}),
		otpSends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "appraisal",
			Subsystem: "otp",
			Name:      "sends_total",
			Help:      "OTP code sends by outcome",
		}, []string{"status"}),
		otpVerifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "appraisal",
			Subsystem: "otp",
			Name:      "verifications_total",
			Help:      "OTP verifications by outcome",
		}, []string{"status"}),
		commitAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "appraisal",
			Subsystem: "appointments",
			Name:      "commit_attempts_total",
			Help:      "Appointment store attempts by result",
		}, []string{"result"}),
		commitOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "appraisal",
			Subsystem: "appointments",
			Name:      "commits_total",
			Help:      "Appointment commits by final outcome",
		}, []string{"outcome"}),
		commitLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "appraisal",
			Subsystem: "appointments",
			Name:      "commit_latency_seconds",
			Help:      "End-to-end commit latency including retries",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		smsOutbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "appraisal",
			Subsystem: "messaging",
			Name:      "outbound_total",
			Help:      "Outbound SMS sends by provider and status",
		}, []string{"provider", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.stepViews, m.otpSends, m.otpVerifications, m.commitAttempts, m.commitOutcomes, m.commitLatency, m.smsOutbound)
	return m
}

func (m *FunnelMetrics) ObserveStepView(step string) {
	if m == nil {
		return
	}
	m.stepViews.WithLabelValues(step).Inc()
}

func (m *FunnelMetrics) ObserveOTPSend(status string) {
	if m == nil {
		return
	}
	m.otpSends.WithLabelValues(status).Inc()
}

func (m *FunnelMetrics) ObserveOTPVerification(status string) {
	if m == nil {
		return
	}
	m.otpVerifications.WithLabelValues(status).Inc()
}

func (m *FunnelMetrics) ObserveCommitAttempt(ok bool) {
	if m == nil {
		return
	}
	result := "error"
	if ok {
		result = "ok"
	}
	m.commitAttempts.WithLabelValues(result).Inc()
}

// ObserveCommit records the final outcome ("committed", "degraded",
// "rejected") and its latency.
func (m *FunnelMetrics) ObserveCommit(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.commitOutcomes.WithLabelValues(outcome).Inc()
	m.commitLatency.WithLabelValues(outcome).Observe(seconds)
}

func (m *FunnelMetrics) ObserveSMS(provider, status string) {
	if m == nil {
		return
	}
	m.smsOutbound.WithLabelValues(provider, status).Inc()
}
