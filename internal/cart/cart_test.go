package cart

import (
	"errors"
	"testing"
)

func TestSplitLineID(t *testing.T) {
	products := map[string]bool{
		"prod123":      true,
		"ks-chair":     true,
		"ks-chair-xl":  true,
		"plainproduct": true,
	}
	exists := func(id string) bool { return products[id] }

	tests := []struct {
		name        string
		id          string
		wantProduct string
		wantVariant string
		wantErr     bool
	}{
		{
			name:        "simple composite",
			id:          "prod123-varABC",
			wantProduct: "prod123",
			wantVariant: "varABC",
		},
		{
			name: "hyphenated product id, first matching prefix wins",
			id:   "ks-chair-red",
			// "ks" не товар, "ks-chair" — товар, остаток становится вариантом.
			wantProduct: "ks-chair",
			wantVariant: "red",
		},
		{
			name:        "whole id is a product without variant",
			id:          "plainproduct",
			wantProduct: "plainproduct",
			wantVariant: "",
		},
		{
			name:        "hyphenated id that is itself a product",
			id:          "ks-chair-xl",
			wantProduct: "ks-chair",
			wantVariant: "xl",
		},
		{
			name:    "no prefix matches",
			id:      "ghost-variant",
			wantErr: true,
		},
		{
			name:    "empty id",
			id:      "",
			wantErr: true,
		},
		{
			// Пустой остаток после дефиса не считается вариантом,
			// а целиком "prod123-" товаром не является.
			name:    "dangling hyphen",
			id:      "prod123-",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			product, variant, err := SplitLineID(tt.id, exists)

			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q/%q", product, variant)
				}
				if !errors.Is(err, ErrUnknownLineID) {
					t.Fatalf("expected ErrUnknownLineID, got %v", err)
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if product != tt.wantProduct || variant != tt.wantVariant {
				t.Errorf("SplitLineID(%q) = %q/%q, want %q/%q",
					tt.id, product, variant, tt.wantProduct, tt.wantVariant)
			}
		})
	}
}

func TestSplitLineIDScansLeftToRight(t *testing.T) {
	calls := []string{}
	exists := func(id string) bool {
		calls = append(calls, id)
		return id == "a-b"
	}

	product, variant, err := SplitLineID("a-b-c", exists)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if product != "a-b" || variant != "c" {
		t.Fatalf("got %q/%q, want a-b/c", product, variant)
	}

	// Сначала пробуется самый короткий префикс.
	if len(calls) < 2 || calls[0] != "a" || calls[1] != "a-b" {
		t.Fatalf("unexpected probe order: %v", calls)
	}
}
