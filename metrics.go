package acctguard

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "acctguard"

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	logins        *prometheus.CounterVec
	lockouts      prometheus.Counter
	registrations *prometheus.CounterVec
	refreshes     *prometheus.CounterVec
	authChecks    *prometheus.CounterVec
	tokensIssued  *prometheus.CounterVec
	otpSent       *prometheus.CounterVec
	otpVerified   *prometheus.CounterVec
	auditDropped  prometheus.Counter
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		logins: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "logins_total",
			Help:      "Password login attempts by result.",
		}, []string{"result"}),
		lockouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "lockouts_total",
			Help:      "Accounts locked after reaching the failure threshold.",
		}),
		registrations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "registrations_total",
			Help:      "Account registrations by method and result.",
		}, []string{"method", "result"}),
		refreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "refreshes_total",
			Help:      "Token refresh attempts by result.",
		}, []string{"result"}),
		authChecks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "auth_checks_total",
			Help:      "Bearer token checks on protected calls by result.",
		}, []string{"result"}),
		tokensIssued: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "tokens_issued_total",
			Help:      "Signed tokens issued by kind.",
		}, []string{"kind"}),
		otpSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "otp_sent_total",
			Help:      "One-time code deliveries by channel, purpose and result.",
		}, []string{"channel", "purpose", "result"}),
		otpVerified: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "otp_verifications_total",
			Help:      "One-time code verifications by purpose and result.",
		}, []string{"purpose", "result"}),
		auditDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "audit_dropped_total",
			Help:      "Audit events dropped because the buffer was full.",
		}),
	}
}

func resultLabel(err error) string {
	if err == nil {
		return "success"
	}
	if code := auditErrorCode(err); code != "" {
		return string(code)
	}
	return string(auditErrInternal)
}

func (m *Metrics) login(err error) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(resultLabel(err)).Inc()
}

func (m *Metrics) lockout() {
	if m == nil {
		return
	}
	m.lockouts.Inc()
}

func (m *Metrics) registration(method string, err error) {
	if m == nil {
		return
	}
	m.registrations.WithLabelValues(method, resultLabel(err)).Inc()
}

func (m *Metrics) refresh(err error) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(resultLabel(err)).Inc()
}

func (m *Metrics) authCheck(err error) {
	if m == nil {
		return
	}
	m.authChecks.WithLabelValues(resultLabel(err)).Inc()
}

func (m *Metrics) tokenIssued(kind string) {
	if m == nil {
		return
	}
	m.tokensIssued.WithLabelValues(kind).Inc()
}

func (m *Metrics) otpSend(channel Channel, purpose Purpose, err error) {
	if m == nil {
		return
	}
	m.otpSent.WithLabelValues(string(channel), string(purpose), resultLabel(err)).Inc()
}

func (m *Metrics) otpVerify(purpose Purpose, err error) {
	if m == nil {
		return
	}
	m.otpVerified.WithLabelValues(string(purpose), resultLabel(err)).Inc()
}

func (m *Metrics) auditDrop() {
	if m == nil {
		return
	}
	m.auditDropped.Inc()
}
