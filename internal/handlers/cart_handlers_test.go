package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/omriozer/ludora-checkout/internal/models"
	"github.com/omriozer/ludora-checkout/internal/services"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access underlying database: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := services.AutoMigrate(db); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

func newCartHandlerFixture(t *testing.T) (*CartHandler, *gorm.DB, models.User) {
	t.Helper()

	db := newTestDB(t)
	query := services.NewPurchaseQueryService(db, 0)
	purchases := services.NewPurchaseService(db, query, services.PurchaseConfig{AllowDuplicateFreeGrants: true})

	user := models.User{FirebaseUID: "uid-1", Name: "Dana", Email: "dana@example.com"}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}

	product := models.Product{ProductType: models.ProductTypeCourse, EntityID: "course-7", Name: "Fractions", Price: 120}
	if err := db.Create(&product).Error; err != nil {
		t.Fatalf("failed to seed product: %v", err)
	}

	return NewCartHandler(query, purchases), db, user
}

func doRequest(t *testing.T, user models.User, method, target, body string, handler echo.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()

	e := echo.New()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("user", user)

	if err := handler(c); err != nil {
		e.HTTPErrorHandler(err, c)
	}
	return rec
}

func TestHandleAddToCartAndGetCart(t *testing.T) {
	h, _, user := newCartHandlerFixture(t)

	rec := doRequest(t, user, http.MethodPost, "/api/cart",
		`{"entity_type":"course","entity_id":"course-7","price":120}`, h.HandleAddToCart)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, user, http.MethodGet, "/api/cart", "", h.HandleGetCart)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"total_price":120`) {
		t.Errorf("expected cart total of 120, got %s", body)
	}
	if !strings.Contains(body, `"course-7"`) {
		t.Errorf("expected cart to contain the course, got %s", body)
	}
}

func TestHandleAddToCartUnknownProduct(t *testing.T) {
	h, _, user := newCartHandlerFixture(t)

	rec := doRequest(t, user, http.MethodPost, "/api/cart",
		`{"entity_type":"game","entity_id":"nope","price":10}`, h.HandleAddToCart)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown product, got %d", rec.Code)
	}
}

func TestHandleAddToCartDuplicate(t *testing.T) {
	h, _, user := newCartHandlerFixture(t)

	body := `{"entity_type":"course","entity_id":"course-7","price":120}`
	rec := doRequest(t, user, http.MethodPost, "/api/cart", body, h.HandleAddToCart)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}

	rec = doRequest(t, user, http.MethodPost, "/api/cart", body, h.HandleAddToCart)
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 for duplicate add, got %d", rec.Code)
	}
}

func TestHandleAddToCartBadEntityType(t *testing.T) {
	h, _, user := newCartHandlerFixture(t)

	rec := doRequest(t, user, http.MethodPost, "/api/cart",
		`{"entity_type":"mystery","entity_id":"x","price":1}`, h.HandleAddToCart)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown entity type, got %d", rec.Code)
	}
}

func TestHandleCheckOwnership(t *testing.T) {
	h, _, user := newCartHandlerFixture(t)

	rec := doRequest(t, user, http.MethodGet, "/api/purchases/check?entity_type=course&entity_id=course-7", "", h.HandleCheckOwnership)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"owned":false`) {
		t.Errorf("expected owned=false before purchase, got %s", rec.Body.String())
	}

	rec = doRequest(t, user, http.MethodPost, "/api/purchases/free",
		`{"entity_type":"course","entity_id":"course-7","price":120}`, h.HandleFreeGrant)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 for free grant, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, user, http.MethodGet, "/api/purchases/check?entity_type=course&entity_id=course-7", "", h.HandleCheckOwnership)
	if !strings.Contains(rec.Body.String(), `"owned":true`) {
		t.Errorf("expected owned=true after free grant, got %s", rec.Body.String())
	}
}

func TestHandleClearCart(t *testing.T) {
	h, db, user := newCartHandlerFixture(t)

	rec := doRequest(t, user, http.MethodPost, "/api/cart",
		`{"entity_type":"course","entity_id":"course-7","price":120}`, h.HandleAddToCart)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}

	rec = doRequest(t, user, http.MethodDelete, "/api/cart", "", h.HandleClearCart)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var count int64
	if err := db.Model(&models.Purchase{}).Where("buyer_user_id = ?", user.ID).Count(&count).Error; err != nil {
		t.Fatalf("failed to count purchases: %v", err)
	}
	if count != 0 {
		t.Errorf("expected empty cart after clear, found %d purchases", count)
	}
}
