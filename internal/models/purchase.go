package models

import (
	"math"
	"time"

	"gorm.io/gorm"
)

// PaymentStatus governs the lifecycle of a purchase and its visibility in
// cart/checkout views
type PaymentStatus string

const (
	PaymentStatusCart      PaymentStatus = "cart"
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

const (
	PaymentMethodFree    = "free"
	PaymentMethodGateway = "payment_gateway"
)

// CreatedVia values recorded in purchase metadata
const (
	CreatedViaAddToCart  = "add_to_cart"
	CreatedViaFreeAccess = "free_access"
)

// PurchaseMetadata carries provenance and in-progress payment markers for a
// purchase. It is persisted as a JSON column but typed here so every known
// key has a compile-time shape.
type PurchaseMetadata struct {
	CreatedVia           string     `json:"created_via,omitempty"`
	ProductID            uint       `json:"product_id,omitempty"`
	PaymentInProgress    bool       `json:"payment_in_progress,omitempty"`
	PaymentPageCreatedAt *time.Time `json:"payment_page_created_at,omitempty"`
	OrderID              string     `json:"order_id,omitempty"`
}

// Purchase records a user's claim on a purchasable entity.
//
// At most one non-refunded purchase may exist per
// (buyer_user_id, purchasable_type, purchasable_id); the constraint is
// enforced by a partial unique index created in the migration step, the
// service-level pre-check only exists to fail fast with a friendly error.
type Purchase struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	BuyerUserID     uint          `gorm:"index" json:"buyer_user_id"`
	PurchasableType ProductType   `gorm:"type:varchar(50)" json:"purchasable_type"`
	PurchasableID   string        `gorm:"type:varchar(100)" json:"purchasable_id"`
	PaymentAmount   float64       `gorm:"type:decimal(15,2)" json:"payment_amount"`
	OriginalPrice   float64       `gorm:"type:decimal(15,2)" json:"original_price"`
	DiscountAmount  float64       `gorm:"type:decimal(15,2)" json:"discount_amount"`
	PaymentStatus   PaymentStatus `gorm:"type:varchar(20);index" json:"payment_status"`
	PaymentMethod   string        `gorm:"type:varchar(50)" json:"payment_method"`

	Metadata PurchaseMetadata `gorm:"serializer:json" json:"metadata"`

	// Relationships
	Buyer User `gorm:"foreignKey:BuyerUserID" json:"buyer,omitempty"`
}

// IsRefunded reports whether the uniqueness constraint has been released for
// this purchase
func (p Purchase) IsRefunded() bool {
	return p.PaymentStatus == PaymentStatusRefunded
}

// sanitizeAmount coerces non-finite values to 0 so a single malformed record
// cannot poison a cart total
func sanitizeAmount(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// TotalPrice sums payment_amount across the collection
func TotalPrice(purchases []Purchase) float64 {
	var total float64
	for _, p := range purchases {
		total += sanitizeAmount(p.PaymentAmount)
	}
	return total
}

// OriginalTotalPrice sums original_price per record, falling back to
// payment_amount when no original price was recorded
func OriginalTotalPrice(purchases []Purchase) float64 {
	var total float64
	for _, p := range purchases {
		if v := sanitizeAmount(p.OriginalPrice); v > 0 {
			total += v
		} else {
			total += sanitizeAmount(p.PaymentAmount)
		}
	}
	return total
}

// PurchaseGroups partitions purchases into subscriptions and regular products
type PurchaseGroups struct {
	Subscriptions []Purchase `json:"subscriptions"`
	Products      []Purchase `json:"products"`
}

// GroupByType partitions a collection by whether the purchasable is a
// subscription. Every input record lands in exactly one group.
func GroupByType(purchases []Purchase) PurchaseGroups {
	groups := PurchaseGroups{
		Subscriptions: []Purchase{},
		Products:      []Purchase{},
	}
	for _, p := range purchases {
		if p.PurchasableType == ProductTypeSubscription {
			groups.Subscriptions = append(groups.Subscriptions, p)
		} else {
			groups.Products = append(groups.Products, p)
		}
	}
	return groups
}
