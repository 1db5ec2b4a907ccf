// Package participants defines the contracts SE invokes directly in
// orchestrated mode (§6) and ships in-memory fakes so the engine and its
// templates can be exercised without standing up the real Product, Store,
// and Sale services. The fakes follow the same validate/mutate/idempotent
// shape as the teacher's payment-service saga consumer, adapted to be
// called in-process instead of over the bus.
package participants

import (
	"context"
	"fmt"
	"sync"

	"github.com/director74/sagacore/pkg/failureinjector"
)

// Store is the subset of store data a saga needs to validate against.
type Store struct {
	StoreID string
	Name    string
}

// ProductService is the contract SE uses to check and mutate stock.
type ProductService interface {
	// ValidateStockAvailability reports whether quantity units of
	// productName are available at storeID.
	ValidateStockAvailability(ctx context.Context, productName, storeID string, quantity int, sagaID string) (bool, error)

	// UpdateStock applies delta to productName's stock at storeID. delta is
	// negative for a reservation and positive for a release. Implementations
	// must be idempotent per (sagaID, stepName): a retried call with the
	// same pair must not double-apply.
	UpdateStock(ctx context.Context, productName, storeID string, delta int, sagaID, stepName string) (bool, error)
}

// StoreService is the contract SE uses to resolve a store by id.
type StoreService interface {
	GetStoreByID(ctx context.Context, storeID, sagaID string) (Store, error)
}

// SaleService is the contract SE uses to price and record a sale.
type SaleService interface {
	ValidateSaleItems(ctx context.Context, items []SaleItem, storeID, sagaID string) (bool, error)
	CalculateSaleTotal(ctx context.Context, items []SaleItem, storeID, sagaID string) (float64, error)

	// CreateSale must be idempotent per sagaID via deduplication: a retried
	// call for the same sagaID returns the same saleID rather than creating
	// a second sale.
	CreateSale(ctx context.Context, sagaID, storeID string, items []SaleItem, total float64) (saleID string, err error)

	// CancelSale is the compensation paired with CreateSale.
	CancelSale(ctx context.Context, saleID, storeID string) (bool, error)
}

// SaleItem mirrors saga.SaleItem without importing the engine package, so
// participants has no dependency on it (participants is a leaf package the
// engine depends on, not the reverse).
type SaleItem struct {
	ProductName string
	Quantity    int
	UnitPrice   float64
}

// ErrNotFound is returned by GetStoreByID when storeID is unknown.
var ErrNotFound = fmt.Errorf("store not found")

// InMemory is a single fake implementing ProductService, StoreService and
// SaleService together, backed by a map of per-store stock levels. It
// routes every decision point through a shared failureinjector.Injector so
// CFI-driven test scenarios (spec §8 scenario 6) work against it exactly as
// they would against a real participant.
type InMemory struct {
	mu    sync.Mutex
	cfi   *failureinjector.Injector
	stock map[string]map[string]int // storeID -> productName -> quantity
	sales map[string]string         // sagaID -> saleID, for CreateSale idempotency
	applied map[string]bool         // (sagaID, stepName) -> UpdateStock already applied
	nextSale int
}

// NewInMemory seeds stock levels from initialStock (storeID -> productName
// -> quantity) and wires cfi as the shared failure source.
func NewInMemory(cfi *failureinjector.Injector, initialStock map[string]map[string]int) *InMemory {
	stock := make(map[string]map[string]int, len(initialStock))
	for store, products := range initialStock {
		stock[store] = make(map[string]int, len(products))
		for product, qty := range products {
			stock[store][product] = qty
		}
	}
	return &InMemory{
		cfi:     cfi,
		stock:   stock,
		sales:   make(map[string]string),
		applied: make(map[string]bool),
	}
}

func (m *InMemory) ValidateStockAvailability(ctx context.Context, productName, storeID string, quantity int, sagaID string) (bool, error) {
	if err := m.cfi.MaybeFail(ctx, failureinjector.InsufficientStock, failureinjector.FailureContext{ProductName: productName, StoreID: storeID, ServiceName: "ProductService"}); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	have := m.stock[storeID][productName]
	return have >= quantity, nil
}

func (m *InMemory) UpdateStock(ctx context.Context, productName, storeID string, delta int, sagaID, stepName string) (bool, error) {
	if err := m.cfi.MaybeFail(ctx, failureinjector.ServiceUnavailable, failureinjector.FailureContext{ProductName: productName, StoreID: storeID, ServiceName: "ProductService"}); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := sagaID + ":" + stepName
	if m.applied[key] {
		return true, nil
	}

	if m.stock[storeID] == nil {
		m.stock[storeID] = make(map[string]int)
	}
	m.stock[storeID][productName] += delta
	m.applied[key] = true
	return true, nil
}

func (m *InMemory) GetStoreByID(ctx context.Context, storeID, sagaID string) (Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.stock[storeID]; !ok {
		return Store{}, ErrNotFound
	}
	return Store{StoreID: storeID, Name: storeID}, nil
}

func (m *InMemory) ValidateSaleItems(ctx context.Context, items []SaleItem, storeID, sagaID string) (bool, error) {
	return len(items) > 0, nil
}

func (m *InMemory) CalculateSaleTotal(ctx context.Context, items []SaleItem, storeID, sagaID string) (float64, error) {
	if err := m.cfi.MaybeFail(ctx, failureinjector.DatabaseFailure, failureinjector.FailureContext{StoreID: storeID, ServiceName: "SaleService"}); err != nil {
		return 0, err
	}

	var total float64
	for _, item := range items {
		total += float64(item.Quantity) * item.UnitPrice
	}
	return total, nil
}

func (m *InMemory) CreateSale(ctx context.Context, sagaID, storeID string, items []SaleItem, total float64) (string, error) {
	if err := m.cfi.MaybeFail(ctx, failureinjector.PaymentFailure, failureinjector.FailureContext{StoreID: storeID, ServiceName: "SaleService"}); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if saleID, ok := m.sales[sagaID]; ok {
		return saleID, nil
	}

	m.nextSale++
	saleID := fmt.Sprintf("sale-%d", m.nextSale)
	m.sales[sagaID] = saleID
	return saleID, nil
}

func (m *InMemory) CancelSale(ctx context.Context, saleID, storeID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for sagaID, id := range m.sales {
		if id == saleID {
			delete(m.sales, sagaID)
			return true, nil
		}
	}
	return false, nil
}
