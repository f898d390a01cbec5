package status

import (
	"testing"

	"github.com/mmeshcher/storefront-system/internal/model"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from model.OrderStatus
		to   model.OrderStatus
		want bool
	}{
		{"pending to confirmed", model.OrderStatusPending, model.OrderStatusConfirmed, true},
		{"pending to cancelled", model.OrderStatusPending, model.OrderStatusCancelled, true},
		{"pending skips to shipped", model.OrderStatusPending, model.OrderStatusShipped, false},
		{"confirmed to processing", model.OrderStatusConfirmed, model.OrderStatusProcessing, true},
		{"processing to shipped", model.OrderStatusProcessing, model.OrderStatusShipped, true},
		{"shipped to delivered", model.OrderStatusShipped, model.OrderStatusDelivered, true},
		{"shipped cannot cancel", model.OrderStatusShipped, model.OrderStatusCancelled, false},
		{"delivered to refunded", model.OrderStatusDelivered, model.OrderStatusRefunded, true},
		{"delivered back to pending", model.OrderStatusDelivered, model.OrderStatusPending, false},
		{"cancelled is terminal", model.OrderStatusCancelled, model.OrderStatusConfirmed, false},
		{"refunded is terminal", model.OrderStatusRefunded, model.OrderStatusPending, false},
		{"payment failed retries to confirmed", model.OrderStatusPaymentFailed, model.OrderStatusConfirmed, true},
		{"payment failed to cancelled", model.OrderStatusPaymentFailed, model.OrderStatusCancelled, true},
		{"no manual path into payment failed", model.OrderStatusPending, model.OrderStatusPaymentFailed, false},
		{"same status is a no-op", model.OrderStatusShipped, model.OrderStatusShipped, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestTerminal(t *testing.T) {
	terminal := []model.OrderStatus{
		model.OrderStatusDelivered,
		model.OrderStatusCancelled,
		model.OrderStatusRefunded,
	}
	for _, s := range terminal {
		if !Terminal(s) {
			t.Errorf("Terminal(%s) = false, want true", s)
		}
	}

	if Terminal(model.OrderStatusPending) {
		t.Errorf("Terminal(PENDING) = true, want false")
	}
	if Terminal(model.OrderStatusPaymentFailed) {
		t.Errorf("Terminal(PAYMENT_FAILED) = true, want false")
	}
}

func TestKnown(t *testing.T) {
	if !Known(model.OrderStatusProcessing) {
		t.Errorf("PROCESSING must be known")
	}
	if Known(model.OrderStatus("BOGUS")) {
		t.Errorf("BOGUS must not be known")
	}
	if KnownPayment(model.PaymentStatus("WEIRD")) {
		t.Errorf("WEIRD must not be a known payment status")
	}
	if !KnownPayment(model.PaymentStatusCompleted) {
		t.Errorf("COMPLETED must be a known payment status")
	}
}

func TestPaymentRank(t *testing.T) {
	if PaymentRank(model.PaymentStatusPending) != 0 {
		t.Errorf("PENDING rank must be 0")
	}
	for _, s := range []model.PaymentStatus{model.PaymentStatusPaid, model.PaymentStatusFailed, model.PaymentStatusCancelled} {
		if PaymentRank(s) != 1 {
			t.Errorf("rank of %s = %d, want 1", s, PaymentRank(s))
		}
	}
	if PaymentRank(model.PaymentStatusCompleted) != 2 {
		t.Errorf("COMPLETED rank must be 2")
	}
	if PaymentRank(model.PaymentStatus("BOGUS")) != -1 {
		t.Errorf("unknown status rank must be -1")
	}

	// Запоздавший PENDING после PAID не должен применяться.
	if PaymentRank(model.PaymentStatusPending) >= PaymentRank(model.PaymentStatusPaid) {
		t.Errorf("PENDING must rank below PAID")
	}
}

func TestTerminalPayment(t *testing.T) {
	if TerminalPayment(model.PaymentStatusPending) {
		t.Errorf("PENDING is not terminal")
	}
	for _, s := range []model.PaymentStatus{
		model.PaymentStatusPaid,
		model.PaymentStatusFailed,
		model.PaymentStatusCancelled,
		model.PaymentStatusCompleted,
	} {
		if !TerminalPayment(s) {
			t.Errorf("%s must be terminal", s)
		}
	}
}

func TestValidNextIsACopy(t *testing.T) {
	next := ValidNext(model.OrderStatusPending)
	if len(next) != 2 {
		t.Fatalf("ValidNext(PENDING) returned %d statuses, want 2", len(next))
	}

	next[0] = model.OrderStatusRefunded
	if CanTransition(model.OrderStatusPending, model.OrderStatusRefunded) {
		t.Fatalf("mutating ValidNext result must not change the transition graph")
	}
}
