package domain

import "testing"

func TestPaymentStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to PaymentStatus
		want     bool
	}{
		{PaymentStatusPending, PaymentStatusDone, true},
		{PaymentStatusPending, PaymentStatusError, true},
		{PaymentStatusPending, PaymentStatusPending, false},
		{PaymentStatusDone, PaymentStatusError, false},
		{PaymentStatusDone, PaymentStatusPending, false},
		{PaymentStatusError, PaymentStatusDone, false},
		{PaymentStatusError, PaymentStatusPending, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}

	if PaymentStatusPending.IsTerminal() {
		t.Error("pending must not be terminal")
	}
	if !PaymentStatusDone.IsTerminal() || !PaymentStatusError.IsTerminal() {
		t.Error("done and error must be terminal")
	}
}
