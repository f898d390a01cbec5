// Package metrics содержит prometheus-метрики оркестрации заказов.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics агрегирует счётчики сервиса. Nil-значение безопасно:
// методы записи превращаются в no-op, что упрощает тесты.
type Metrics struct {
	ordersCreated      *prometheus.CounterVec
	sessionsCreated    *prometheus.CounterVec
	paymentFallbacks   *prometheus.CounterVec
	reconciliations    *prometheus.CounterVec
	illegalTransitions prometheus.Counter
}

// New регистрирует метрики в указанном registry.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ordersCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_orders_created_total",
			Help: "Созданные заказы по способу оплаты.",
		}, []string{"method"}),
		sessionsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_payment_sessions_created_total",
			Help: "Созданные платёжные сессии по режиму шлюза.",
		}, []string{"mode"}),
		paymentFallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_payment_fallback_total",
			Help: "Переводы заказа на оплату наличными по причине.",
		}, []string{"reason"}),
		reconciliations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_reconciliations_total",
			Help: "Сверки статуса оплаты по результату.",
		}, []string{"result"}),
		illegalTransitions: factory.NewCounter(prometheus.CounterOpts{
			Name: "storefront_illegal_transitions_total",
			Help: "Отклонённые ручные правки статуса заказа.",
		}),
	}
}

// OrderCreated учитывает созданный заказ.
func (m *Metrics) OrderCreated(method string) {
	if m == nil {
		return
	}
	m.ordersCreated.WithLabelValues(method).Inc()
}

// SessionCreated учитывает созданную платёжную сессию.
func (m *Metrics) SessionCreated(mode string) {
	if m == nil {
		return
	}
	m.sessionsCreated.WithLabelValues(mode).Inc()
}

// PaymentFallback учитывает перевод заказа на оплату наличными.
func (m *Metrics) PaymentFallback(reason string) {
	if m == nil {
		return
	}
	m.paymentFallbacks.WithLabelValues(reason).Inc()
}

// Reconciliation учитывает сверку статуса оплаты.
func (m *Metrics) Reconciliation(result string) {
	if m == nil {
		return
	}
	m.reconciliations.WithLabelValues(result).Inc()
}

// IllegalTransition учитывает отклонённую правку статуса.
func (m *Metrics) IllegalTransition() {
	if m == nil {
		return
	}
	m.illegalTransitions.Inc()
}
