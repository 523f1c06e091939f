package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/omriozer/ludora-checkout/internal/models"
)

const productCacheTTL = 5 * time.Minute

// ProductService serves the purchasable catalog. Reads go through the Redis
// cache when one is configured; writes invalidate it.
type ProductService struct {
	db    *gorm.DB
	cache *RedisCache
}

func NewProductService(db *gorm.DB, cache *RedisCache) *ProductService {
	return &ProductService{db: db, cache: cache}
}

// ListPublished returns the published catalog, optionally filtered by type
func (s *ProductService) ListPublished(ctx context.Context, productType models.ProductType) ([]models.Product, error) {
	key := fmt.Sprintf("products:published:%s", productType)
	return GetOrSet(s.cache, ctx, key, productCacheTTL, func() ([]models.Product, error) {
		query := s.db.Where("is_published = ?", true)
		if productType != "" {
			query = query.Where("product_type = ?", productType)
		}
		var products []models.Product
		if err := query.Order("name asc").Find(&products).Error; err != nil {
			return nil, err
		}
		return products, nil
	})
}

// Resolve finds the product record for a purchasable entity
func (s *ProductService) Resolve(ctx context.Context, entityType models.ProductType, entityID string) (*models.Product, error) {
	key := fmt.Sprintf("products:resolve:%s:%s", entityType, entityID)
	product, err := GetOrSet(s.cache, ctx, key, productCacheTTL, func() (models.Product, error) {
		var p models.Product
		err := s.db.
			Where("product_type = ? AND entity_id = ?", entityType, entityID).
			First(&p).Error
		return p, err
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoMatchingProduct
		}
		return nil, err
	}
	return &product, nil
}

// Upsert creates or updates a catalog record and drops the stale cache keys
func (s *ProductService) Upsert(ctx context.Context, product *models.Product) error {
	var err error
	if product.ID == 0 {
		err = s.db.Create(product).Error
	} else {
		err = s.db.Save(product).Error
	}
	if err != nil {
		return err
	}

	s.invalidate(ctx, product)
	return nil
}

func (s *ProductService) invalidate(ctx context.Context, product *models.Product) {
	if s.cache == nil {
		return
	}
	_ = s.cache.Delete(ctx, fmt.Sprintf("products:published:%s", product.ProductType))
	_ = s.cache.Delete(ctx, "products:published:")
	_ = s.cache.Delete(ctx, fmt.Sprintf("products:resolve:%s:%s", product.ProductType, product.EntityID))
}
