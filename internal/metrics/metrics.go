// Package metrics содержит сбор и публикацию Prometheus-метрик сервиса.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector собирает метрики фоновых сверок и credit guard.
type Collector struct {
	registry *prometheus.Registry

	expiredQuotes     prometheus.Counter
	expiredShares     prometheus.Counter
	expiredRequests   prometheus.Counter
	notificationsSent prometheus.Counter
	expirationAlerts  prometheus.Counter
	mileageReminders  prometheus.Counter
	creditGate        *prometheus.CounterVec
}

// NewCollector создаёт Collector и регистрирует метрики в собственном реестре.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		expiredQuotes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "techtrust_expired_quotes_total",
			Help: "Total number of quotes expired by the reconciliation sweep",
		}),
		expiredShares: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "techtrust_expired_shares_total",
			Help: "Total number of estimate shares deactivated by the reconciliation sweep",
		}),
		expiredRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "techtrust_expired_requests_total",
			Help: "Total number of service requests expired by the reconciliation sweep",
		}),
		notificationsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "techtrust_expiration_notifications_total",
			Help: "Total number of notifications written by the expiration sweep",
		}),
		expirationAlerts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "techtrust_compliance_alerts_total",
			Help: "Total number of compliance and insurance expiration alerts",
		}),
		mileageReminders: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "techtrust_mileage_reminders_total",
			Help: "Total number of stale mileage reminders sent",
		}),
		creditGate: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "techtrust_credit_gate_total",
			Help: "Credit guard gate decisions by status and outcome",
		}, []string{"status", "allowed"}),
	}

	registry.MustRegister(
		c.expiredQuotes,
		c.expiredShares,
		c.expiredRequests,
		c.notificationsSent,
		c.expirationAlerts,
		c.mileageReminders,
		c.creditGate,
	)

	return c
}

// RecordExpirationSweep записывает счётчики одной сверки истечений.
func (c *Collector) RecordExpirationSweep(quotes, shares, requests, notifications int) {
	c.expiredQuotes.Add(float64(quotes))
	c.expiredShares.Add(float64(shares))
	c.expiredRequests.Add(float64(requests))
	c.notificationsSent.Add(float64(notifications))
}

// RecordExpirationAlerts записывает количество алертов проверки документов и полисов.
func (c *Collector) RecordExpirationAlerts(count int) {
	c.expirationAlerts.Add(float64(count))
}

// RecordMileageReminders записывает количество отправленных напоминаний о пробеге.
func (c *Collector) RecordMileageReminders(notified int) {
	c.mileageReminders.Add(float64(notified))
}

// RecordCreditGate записывает решение credit guard.
func (c *Collector) RecordCreditGate(status string, allowed bool) {
	c.creditGate.WithLabelValues(status, strconv.FormatBool(allowed)).Inc()
}

// Handler возвращает HTTP-обработчик для эндпоинта /metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
