package services

import (
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/omriozer/ludora-checkout/internal/models"
)

// newTestDB opens an isolated in-memory database with the full schema,
// including the partial unique index from the migration step
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	// A single connection keeps every query on the same in-memory database
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access underlying database: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := AutoMigrate(db); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

func seedProduct(t *testing.T, db *gorm.DB, productType models.ProductType, entityID string, price float64) models.Product {
	t.Helper()
	product := models.Product{
		ProductType: productType,
		EntityID:    entityID,
		Name:        string(productType) + " " + entityID,
		Price:       price,
		IsPublished: true,
	}
	if err := db.Create(&product).Error; err != nil {
		t.Fatalf("failed to seed product: %v", err)
	}
	return product
}

func seedUser(t *testing.T, db *gorm.DB, uid, email string) models.User {
	t.Helper()
	user := models.User{
		FirebaseUID: uid,
		Name:        "Test User",
		Email:       email,
		Role:        models.UserRoleMember,
	}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}
	return user
}
