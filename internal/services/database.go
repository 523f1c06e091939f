package services

import (
	"log"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/omriozer/ludora-checkout/internal/models"
)

// InitDB initializes the database connection with connection pooling
func InitDB(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Info),
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}

	// Get underlying sql.DB to configure connection pool
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	// Connection pool settings
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	log.Println("Database connection established")
	return db, nil
}

// AutoMigrate runs database migrations for all models
func AutoMigrate(db *gorm.DB) error {
	log.Println("Running database migrations...")

	err := db.AutoMigrate(
		&models.User{},
		&models.Product{},
		&models.Purchase{},
		&models.PaymentSession{},
		&models.PaymentCallbackHistory{},
		&models.Refund{},
		&models.ScheduledTask{},
		&models.ScheduledTaskHistory{},
	)
	if err != nil {
		return err
	}

	// One non-refunded paid purchase per (buyer, type, entity). AutoMigrate
	// cannot express a partial index, so it is created here. This index is the
	// system of record for duplicate prevention; the service-level check only
	// fails fast with a friendlier error. Free grants are excluded: they are
	// idempotent enrollment, not contested payment.
	err = db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_purchases_one_active_per_entity
		ON purchases (buyer_user_id, purchasable_type, purchasable_id)
		WHERE payment_status <> 'refunded' AND payment_method <> 'free' AND deleted_at IS NULL`).Error
	if err != nil {
		return err
	}

	log.Println("Database migrations completed")
	return nil
}
