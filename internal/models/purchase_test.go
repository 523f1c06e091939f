package models

import (
	"math"
	"testing"
)

func TestTotalPrice(t *testing.T) {
	tests := []struct {
		name      string
		purchases []Purchase
		expected  float64
	}{
		{
			name:      "empty collection",
			purchases: []Purchase{},
			expected:  0,
		},
		{
			name: "sums payment amounts",
			purchases: []Purchase{
				{PaymentAmount: 50},
				{PaymentAmount: 19.9},
				{PaymentAmount: 0},
			},
			expected: 69.9,
		},
		{
			name: "non-finite amounts treated as zero",
			purchases: []Purchase{
				{PaymentAmount: math.NaN()},
				{PaymentAmount: math.Inf(1)},
				{PaymentAmount: 25},
			},
			expected: 25,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := TotalPrice(tt.purchases)
			if result != tt.expected {
				t.Errorf("TotalPrice() = %v; want %v", result, tt.expected)
			}
		})
	}
}

func TestOriginalTotalPrice(t *testing.T) {
	tests := []struct {
		name      string
		purchases []Purchase
		expected  float64
	}{
		{
			name:      "empty collection",
			purchases: []Purchase{},
			expected:  0,
		},
		{
			name: "prefers original price when present",
			purchases: []Purchase{
				{PaymentAmount: 40, OriginalPrice: 50},
				{PaymentAmount: 10, OriginalPrice: 10},
			},
			expected: 60,
		},
		{
			name: "falls back to payment amount per record",
			purchases: []Purchase{
				{PaymentAmount: 40, OriginalPrice: 50},
				{PaymentAmount: 30},
			},
			expected: 80,
		},
		{
			name: "non-finite original price falls back",
			purchases: []Purchase{
				{PaymentAmount: 15, OriginalPrice: math.NaN()},
			},
			expected: 15,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := OriginalTotalPrice(tt.purchases)
			if result != tt.expected {
				t.Errorf("OriginalTotalPrice() = %v; want %v", result, tt.expected)
			}
		})
	}
}

func TestGroupByType(t *testing.T) {
	purchases := []Purchase{
		{ID: 1, PurchasableType: ProductTypeFile},
		{ID: 2, PurchasableType: ProductTypeSubscription},
		{ID: 3, PurchasableType: ProductTypeCourse},
		{ID: 4, PurchasableType: ProductTypeSubscription},
		{ID: 5, PurchasableType: ProductTypeGame},
	}

	groups := GroupByType(purchases)

	if len(groups.Subscriptions) != 2 {
		t.Errorf("expected 2 subscriptions, got %d", len(groups.Subscriptions))
	}
	if len(groups.Products) != 3 {
		t.Errorf("expected 3 products, got %d", len(groups.Products))
	}

	// Every input record must land in exactly one group
	seen := make(map[uint]int)
	for _, p := range groups.Subscriptions {
		seen[p.ID]++
		if p.PurchasableType != ProductTypeSubscription {
			t.Errorf("purchase %d misplaced in subscriptions", p.ID)
		}
	}
	for _, p := range groups.Products {
		seen[p.ID]++
		if p.PurchasableType == ProductTypeSubscription {
			t.Errorf("purchase %d misplaced in products", p.ID)
		}
	}
	if len(seen) != len(purchases) {
		t.Errorf("expected %d distinct purchases across groups, got %d", len(purchases), len(seen))
	}
	for id, count := range seen {
		if count != 1 {
			t.Errorf("purchase %d appears %d times across groups", id, count)
		}
	}
}

func TestGroupByTypeEmpty(t *testing.T) {
	groups := GroupByType(nil)
	if groups.Subscriptions == nil || groups.Products == nil {
		t.Error("expected empty slices, got nil")
	}
	if len(groups.Subscriptions) != 0 || len(groups.Products) != 0 {
		t.Error("expected both groups empty")
	}
}
