package pricing

import "testing"

func int64Ptr(v int64) *int64 {
	return &v
}

func TestCalculate(t *testing.T) {
	cfg := Config{
		DeliveryCostCents:          1000,
		FreeDeliveryThresholdCents: 10000,
	}

	tests := []struct {
		name         string
		lines        []Line
		wantSubtotal int64
		wantShipping int64
		wantTotal    int64
	}{
		{
			name: "below threshold pays delivery",
			lines: []Line{
				{UnitPriceCents: 9500, Quantity: 1},
			},
			wantSubtotal: 9500,
			wantShipping: 1000,
			wantTotal:    10500,
		},
		{
			name: "above threshold ships free",
			lines: []Line{
				{UnitPriceCents: 6000, Quantity: 2},
			},
			wantSubtotal: 12000,
			wantShipping: 0,
			wantTotal:    12000,
		},
		{
			name: "exactly at threshold ships free",
			lines: []Line{
				{UnitPriceCents: 10000, Quantity: 1},
			},
			wantSubtotal: 10000,
			wantShipping: 0,
			wantTotal:    10000,
		},
		{
			name: "sale price wins over unit price",
			lines: []Line{
				{UnitPriceCents: 9000, SalePriceCents: int64Ptr(4000), Quantity: 2},
			},
			wantSubtotal: 8000,
			wantShipping: 1000,
			wantTotal:    9000,
		},
		{
			name: "mixed lines",
			lines: []Line{
				{UnitPriceCents: 2500, Quantity: 3},
				{UnitPriceCents: 1000, SalePriceCents: int64Ptr(500), Quantity: 1},
			},
			wantSubtotal: 8000,
			wantShipping: 1000,
			wantTotal:    9000,
		},
		{
			name:         "empty cart",
			lines:        nil,
			wantSubtotal: 0,
			wantShipping: 1000,
			wantTotal:    1000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Calculate(tt.lines, cfg)

			if got.SubtotalCents != tt.wantSubtotal {
				t.Errorf("subtotal = %d, want %d", got.SubtotalCents, tt.wantSubtotal)
			}
			if got.ShippingCents != tt.wantShipping {
				t.Errorf("shipping = %d, want %d", got.ShippingCents, tt.wantShipping)
			}
			if got.TotalCents != tt.wantTotal {
				t.Errorf("total = %d, want %d", got.TotalCents, tt.wantTotal)
			}
		})
	}
}

func TestCalculateIsPure(t *testing.T) {
	cfg := Config{DeliveryCostCents: 500, FreeDeliveryThresholdCents: 10000}
	lines := []Line{{UnitPriceCents: 300, Quantity: 2}}

	first := Calculate(lines, cfg)
	second := Calculate(lines, cfg)

	if first != second {
		t.Fatalf("repeated calculation differs: %+v vs %+v", first, second)
	}
}
