package participants_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/director74/sagacore/pkg/failureinjector"
	"github.com/director74/sagacore/pkg/participants"
)

func newFake() *participants.InMemory {
	return participants.NewInMemory(failureinjector.New(), map[string]map[string]int{
		"store-1": {"widget": 10, "gadget": 5},
	})
}

func TestInMemory_ValidateStockAvailability(t *testing.T) {
	fake := newFake()
	ctx := context.Background()

	ok, err := fake.ValidateStockAvailability(ctx, "widget", "store-1", 5, "saga-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = fake.ValidateStockAvailability(ctx, "widget", "store-1", 50, "saga-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInMemory_UpdateStockAppliesDelta(t *testing.T) {
	fake := newFake()
	ctx := context.Background()

	_, err := fake.UpdateStock(ctx, "widget", "store-1", -3, "saga-1", "ReserveStock")
	require.NoError(t, err)

	ok, err := fake.ValidateStockAvailability(ctx, "widget", "store-1", 8, "saga-1")
	require.NoError(t, err)
	assert.False(t, ok, "stock should now be 7, not enough for 8")

	ok, err = fake.ValidateStockAvailability(ctx, "widget", "store-1", 7, "saga-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestInMemory_UpdateStockIsIdempotentPerSagaAndStep(t *testing.T) {
	fake := newFake()
	ctx := context.Background()

	_, err := fake.UpdateStock(ctx, "widget", "store-1", -3, "saga-1", "ReserveStock")
	require.NoError(t, err)
	_, err = fake.UpdateStock(ctx, "widget", "store-1", -3, "saga-1", "ReserveStock")
	require.NoError(t, err)

	ok, err := fake.ValidateStockAvailability(ctx, "widget", "store-1", 7, "saga-1")
	require.NoError(t, err)
	assert.True(t, ok, "a retried UpdateStock call with the same (sagaId, stepName) must not double-apply the delta")
}

func TestInMemory_UpdateStockDistinctStepsBothApply(t *testing.T) {
	fake := newFake()
	ctx := context.Background()

	_, err := fake.UpdateStock(ctx, "widget", "store-1", -3, "saga-1", "ReserveStock")
	require.NoError(t, err)
	_, err = fake.UpdateStock(ctx, "widget", "store-1", 3, "saga-1", "ReleaseStock")
	require.NoError(t, err)

	ok, err := fake.ValidateStockAvailability(ctx, "widget", "store-1", 10, "saga-1")
	require.NoError(t, err)
	assert.True(t, ok, "distinct step names for the same saga must each apply independently")
}

func TestInMemory_GetStoreByID(t *testing.T) {
	fake := newFake()
	ctx := context.Background()

	store, err := fake.GetStoreByID(ctx, "store-1", "saga-1")
	require.NoError(t, err)
	assert.Equal(t, "store-1", store.StoreID)

	_, err = fake.GetStoreByID(ctx, "store-unknown", "saga-1")
	assert.ErrorIs(t, err, participants.ErrNotFound)
}

func TestInMemory_CreateSaleIsIdempotentPerSaga(t *testing.T) {
	fake := newFake()
	ctx := context.Background()
	items := []participants.SaleItem{{ProductName: "widget", Quantity: 1, UnitPrice: 9.99}}

	first, err := fake.CreateSale(ctx, "saga-1", "store-1", items, 9.99)
	require.NoError(t, err)
	assert.NotEmpty(t, first)

	second, err := fake.CreateSale(ctx, "saga-1", "store-1", items, 9.99)
	require.NoError(t, err)
	assert.Equal(t, first, second, "a retried CreateSale for the same sagaId must return the same saleId, not create a second sale")
}

func TestInMemory_CreateSaleDistinctSagasGetDistinctSales(t *testing.T) {
	fake := newFake()
	ctx := context.Background()
	items := []participants.SaleItem{{ProductName: "widget", Quantity: 1, UnitPrice: 9.99}}

	first, err := fake.CreateSale(ctx, "saga-1", "store-1", items, 9.99)
	require.NoError(t, err)
	second, err := fake.CreateSale(ctx, "saga-2", "store-1", items, 9.99)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestInMemory_CancelSale(t *testing.T) {
	fake := newFake()
	ctx := context.Background()
	items := []participants.SaleItem{{ProductName: "widget", Quantity: 1, UnitPrice: 9.99}}

	saleID, err := fake.CreateSale(ctx, "saga-1", "store-1", items, 9.99)
	require.NoError(t, err)

	cancelled, err := fake.CancelSale(ctx, saleID, "store-1")
	require.NoError(t, err)
	assert.True(t, cancelled)

	cancelled, err = fake.CancelSale(ctx, "unknown-sale", "store-1")
	require.NoError(t, err)
	assert.False(t, cancelled)
}

func TestInMemory_CalculateSaleTotal(t *testing.T) {
	fake := newFake()
	ctx := context.Background()
	items := []participants.SaleItem{
		{ProductName: "widget", Quantity: 2, UnitPrice: 9.99},
		{ProductName: "gadget", Quantity: 1, UnitPrice: 4.5},
	}

	total, err := fake.CalculateSaleTotal(ctx, items, "store-1", "saga-1")
	require.NoError(t, err)
	assert.InDelta(t, 24.48, total, 0.001)
}

func TestInMemory_ValidateSaleItemsRejectsEmpty(t *testing.T) {
	fake := newFake()
	ctx := context.Background()

	ok, err := fake.ValidateSaleItems(ctx, nil, "store-1", "saga-1")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = fake.ValidateSaleItems(ctx, []participants.SaleItem{{ProductName: "widget", Quantity: 1}}, "store-1", "saga-1")
	require.NoError(t, err)
	assert.True(t, ok)
}
