package models

import (
	"time"

	"gorm.io/gorm"
)

// ProductType identifies the category of a purchasable entity
type ProductType string

const (
	ProductTypeFile         ProductType = "file"
	ProductTypeWorkshop     ProductType = "workshop"
	ProductTypeCourse       ProductType = "course"
	ProductTypeTool         ProductType = "tool"
	ProductTypeGame         ProductType = "game"
	ProductTypeSubscription ProductType = "subscription"
)

// Product is the catalog record for a purchasable entity. A purchase request
// must resolve to exactly one product via (product_type, entity_id).
type Product struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	ProductType ProductType `gorm:"type:varchar(50);uniqueIndex:idx_products_type_entity,priority:1" json:"product_type"`
	EntityID    string      `gorm:"type:varchar(100);uniqueIndex:idx_products_type_entity,priority:2" json:"entity_id"`
	Name        string      `gorm:"type:varchar(255)" json:"name"`
	Price       float64     `gorm:"type:decimal(15,2)" json:"price"`
	IsPublished bool        `gorm:"default:true" json:"is_published"`
}
