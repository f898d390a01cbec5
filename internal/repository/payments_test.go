package repository

import (
	"testing"

	"github.com/mmeshcher/storefront-system/internal/model"
)

func TestPaymentApplies(t *testing.T) {
	tests := []struct {
		name string
		cur  model.PaymentStatus
		next model.PaymentStatus
		want bool
	}{
		{"paid advances pending", model.PaymentStatusPending, model.PaymentStatusPaid, true},
		{"failed advances pending", model.PaymentStatusPending, model.PaymentStatusFailed, true},
		{"cancelled advances pending", model.PaymentStatusPending, model.PaymentStatusCancelled, true},
		{"completed advances paid", model.PaymentStatusPaid, model.PaymentStatusCompleted, true},

		// Запоздавший PENDING после PAID — no-op.
		{"late pending after paid", model.PaymentStatusPaid, model.PaymentStatusPending, false},
		{"late pending after completed", model.PaymentStatusCompleted, model.PaymentStatusPending, false},

		// Повтор того же статуса идемпотентен.
		{"paid after paid", model.PaymentStatusPaid, model.PaymentStatusPaid, false},
		{"completed after completed", model.PaymentStatusCompleted, model.PaymentStatusCompleted, false},
		{"pending after pending", model.PaymentStatusPending, model.PaymentStatusPending, false},

		// Первый конечный исход выигрывает: равный ранг не перезаписывается.
		{"failed after paid", model.PaymentStatusPaid, model.PaymentStatusFailed, false},
		{"cancelled after failed", model.PaymentStatusFailed, model.PaymentStatusCancelled, false},
		{"paid after cancelled", model.PaymentStatusCancelled, model.PaymentStatusPaid, false},

		{"completed after failed", model.PaymentStatusFailed, model.PaymentStatusCompleted, true},
		{"paid after completed", model.PaymentStatusCompleted, model.PaymentStatusPaid, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := paymentApplies(tt.cur, tt.next); got != tt.want {
				t.Errorf("paymentApplies(%s, %s) = %v, want %v", tt.cur, tt.next, got, tt.want)
			}
		})
	}
}

func TestReconciledOrderStatus(t *testing.T) {
	tests := []struct {
		name string
		cur  model.OrderStatus
		pay  model.PaymentStatus
		want model.OrderStatus
	}{
		// Успешная оплата подтверждает только ожидающий заказ.
		{"paid confirms pending", model.OrderStatusPending, model.PaymentStatusPaid, model.OrderStatusConfirmed},
		{"completed confirms pending", model.OrderStatusPending, model.PaymentStatusCompleted, model.OrderStatusConfirmed},
		{"paid recovers payment failed", model.OrderStatusPaymentFailed, model.PaymentStatusPaid, model.OrderStatusConfirmed},
		{"paid keeps processing", model.OrderStatusProcessing, model.PaymentStatusPaid, model.OrderStatusProcessing},
		{"paid keeps shipped", model.OrderStatusShipped, model.PaymentStatusPaid, model.OrderStatusShipped},
		{"completed keeps confirmed", model.OrderStatusConfirmed, model.PaymentStatusCompleted, model.OrderStatusConfirmed},

		// Неуспех переводит незавершённый заказ в PAYMENT_FAILED.
		{"failed marks pending", model.OrderStatusPending, model.PaymentStatusFailed, model.OrderStatusPaymentFailed},
		{"failed marks confirmed", model.OrderStatusConfirmed, model.PaymentStatusFailed, model.OrderStatusPaymentFailed},
		{"failed keeps delivered", model.OrderStatusDelivered, model.PaymentStatusFailed, model.OrderStatusDelivered},
		{"failed keeps cancelled", model.OrderStatusCancelled, model.PaymentStatusFailed, model.OrderStatusCancelled},
		{"failed keeps refunded", model.OrderStatusRefunded, model.PaymentStatusFailed, model.OrderStatusRefunded},

		// Отмена оплаты не трогает отгруженный и конечные заказы.
		{"cancelled cancels pending", model.OrderStatusPending, model.PaymentStatusCancelled, model.OrderStatusCancelled},
		{"cancelled cancels confirmed", model.OrderStatusConfirmed, model.PaymentStatusCancelled, model.OrderStatusCancelled},
		{"cancelled cancels processing", model.OrderStatusProcessing, model.PaymentStatusCancelled, model.OrderStatusCancelled},
		{"cancelled cancels payment failed", model.OrderStatusPaymentFailed, model.PaymentStatusCancelled, model.OrderStatusCancelled},
		{"cancelled keeps shipped", model.OrderStatusShipped, model.PaymentStatusCancelled, model.OrderStatusShipped},
		{"cancelled keeps delivered", model.OrderStatusDelivered, model.PaymentStatusCancelled, model.OrderStatusDelivered},
		{"cancelled keeps refunded", model.OrderStatusRefunded, model.PaymentStatusCancelled, model.OrderStatusRefunded},

		// PENDING до гейта по рангу не доходит, но и сам по себе ничего не меняет.
		{"pending keeps pending", model.OrderStatusPending, model.PaymentStatusPending, model.OrderStatusPending},
		{"pending keeps shipped", model.OrderStatusShipped, model.PaymentStatusPending, model.OrderStatusShipped},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := reconciledOrderStatus(tt.cur, tt.pay); got != tt.want {
				t.Errorf("reconciledOrderStatus(%s, %s) = %s, want %s", tt.cur, tt.pay, got, tt.want)
			}
		})
	}
}
