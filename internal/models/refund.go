package models

import (
	"time"

	"gorm.io/gorm"
)

// Refund records a refund issued against a purchase. The purchase itself
// flips to payment_status "refunded", which releases the one-active-purchase
// constraint for its (buyer, type, entity) triple.
type Refund struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	PurchaseID     uint           `gorm:"index" json:"purchase_id"`
	UserID         uint           `gorm:"index" json:"user_id"`
	TotalRefund    float64        `gorm:"type:decimal(15,2)" json:"total_refund"`
	PaymentGateway PaymentGateway `gorm:"type:varchar(50)" json:"payment_gateway"`
	Reason         string         `gorm:"type:varchar(255)" json:"reason"`
	RefundDate     time.Time      `json:"refund_date"`

	// Relationships
	Purchase Purchase `gorm:"foreignKey:PurchaseID" json:"purchase,omitempty"`
	User     User     `gorm:"foreignKey:UserID" json:"user,omitempty"`
}
