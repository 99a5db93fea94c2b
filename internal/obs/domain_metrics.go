package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// InvoiceRecalcTotal counts invoice total recalculations by outcome.
	InvoiceRecalcTotal *prometheus.CounterVec
	// InvoiceCreatedTotal counts created invoices by kind (invoice or quote).
	InvoiceCreatedTotal *prometheus.CounterVec
	// PolicyLookupTotal counts product discount policy lookups by origin.
	PolicyLookupTotal *prometheus.CounterVec
	// EmailSendTotal counts outbound email outcomes.
	EmailSendTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		InvoiceRecalcTotal = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invoice_recalculations_total",
			Help:      "Count of invoice total recalculations by outcome.",
		}, []string{"result"}))
		InvoiceCreatedTotal = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invoices_created_total",
			Help:      "Count of created invoices and quotes.",
		}, []string{"kind"}))
		PolicyLookupTotal = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discount_policy_lookups_total",
			Help:      "Count of product discount policy lookups by origin.",
		}, []string{"origin"}))
		EmailSendTotal = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "emails_sent_total",
			Help:      "Count of outbound email delivery outcomes.",
		}, []string{"result"}))
	})
}
