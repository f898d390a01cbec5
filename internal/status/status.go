// Package status задаёт граф допустимых переходов статусов заказа
// и порядок финальности статусов оплаты.
package status

import (
	"errors"

	"github.com/mmeshcher/storefront-system/internal/model"
)

// ErrIllegalTransition возвращается при попытке недопустимого перехода статуса заказа.
var ErrIllegalTransition = errors.New("illegal order status transition")

// ErrPaymentRegression возвращается при попытке отката статуса оплаты к менее финальному.
var ErrPaymentRegression = errors.New("payment status regression")

// transitions перечисляет допустимые переходы для ручных правок персонала.
// PAYMENT_FAILED сюда намеренно не входит как цель: этот статус
// выставляет только сверка с платёжным шлюзом.
var transitions = map[model.OrderStatus][]model.OrderStatus{
	model.OrderStatusPending:       {model.OrderStatusConfirmed, model.OrderStatusCancelled},
	model.OrderStatusConfirmed:     {model.OrderStatusProcessing, model.OrderStatusCancelled},
	model.OrderStatusProcessing:    {model.OrderStatusShipped, model.OrderStatusCancelled},
	model.OrderStatusShipped:       {model.OrderStatusDelivered},
	model.OrderStatusDelivered:     {model.OrderStatusRefunded},
	model.OrderStatusCancelled:     {},
	model.OrderStatusPaymentFailed: {model.OrderStatusConfirmed, model.OrderStatusCancelled},
	model.OrderStatusRefunded:      {},
}

// Known сообщает, является ли значение известным статусом заказа.
func Known(s model.OrderStatus) bool {
	_, ok := transitions[s]
	return ok
}

// KnownPayment сообщает, является ли значение известным статусом оплаты.
func KnownPayment(s model.PaymentStatus) bool {
	switch s {
	case model.PaymentStatusPending, model.PaymentStatusPaid, model.PaymentStatusCompleted,
		model.PaymentStatusFailed, model.PaymentStatusCancelled:
		return true
	}
	return false
}

// CanTransition проверяет допустимость перехода статуса заказа.
// Переход в тот же статус разрешён и трактуется как no-op.
func CanTransition(from, to model.OrderStatus) bool {
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidNext возвращает список статусов, в которые разрешён переход из указанного.
func ValidNext(from model.OrderStatus) []model.OrderStatus {
	next := transitions[from]
	out := make([]model.OrderStatus, len(next))
	copy(out, next)
	return out
}

// Terminal сообщает, является ли статус заказа конечным.
func Terminal(s model.OrderStatus) bool {
	return s == model.OrderStatusDelivered || s == model.OrderStatusCancelled || s == model.OrderStatusRefunded
}

// PaymentRank задаёт полный порядок финальности статусов оплаты.
// Сверка применяет новый статус, только если его ранг строго выше текущего:
// запоздавший PENDING после PAID — no-op, первый конечный исход выигрывает.
func PaymentRank(s model.PaymentStatus) int {
	switch s {
	case model.PaymentStatusPending:
		return 0
	case model.PaymentStatusPaid, model.PaymentStatusFailed, model.PaymentStatusCancelled:
		return 1
	case model.PaymentStatusCompleted:
		return 2
	}
	return -1
}

// TerminalPayment сообщает, является ли статус оплаты конечным.
func TerminalPayment(s model.PaymentStatus) bool {
	return PaymentRank(s) >= 1
}
