package models

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

type PaymentGateway string

const (
	PaymentGatewayMidtrans PaymentGateway = "midtrans"
	PaymentGatewayManual   PaymentGateway = "manual"
)

// PaymentSession tracks a single payment-page handoff for a user's cart.
// The order ID links the gateway transaction back to the cart purchases
// stamped with the same ID in their metadata.
type PaymentSession struct {
	ID               uint            `gorm:"primaryKey" json:"id"`
	UserID           uint            `gorm:"index" json:"user_id"`
	PaymentGateway   PaymentGateway  `gorm:"type:varchar(50);not null" json:"payment_gateway"`
	OrderID          string          `gorm:"type:varchar(100);index" json:"order_id"`
	Amount           float64         `gorm:"type:decimal(15,2)" json:"amount"`
	IsActive         bool            `gorm:"default:true" json:"is_active"`
	RequestMetadata  json.RawMessage `gorm:"type:jsonb" json:"request_metadata"`
	ResponseMetadata json.RawMessage `gorm:"type:jsonb" json:"response_metadata"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	DeletedAt        gorm.DeletedAt  `gorm:"index" json:"deleted_at,omitempty"`
}
