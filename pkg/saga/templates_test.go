package saga

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/director74/sagacore/pkg/participants"
)

// Mock fakes for the participant contracts, matching the teacher's
// saga_orchestrator_test.go mocking style (mock.Mock-embedding fakes with
// m.Called/args.Error helpers) instead of participants.InMemory, so each
// scenario controls exactly one failure point.

type mockStoreService struct{ mock.Mock }

func (m *mockStoreService) GetStoreByID(ctx context.Context, storeID, sagaID string) (participants.Store, error) {
	args := m.Called(ctx, storeID, sagaID)
	store, _ := args.Get(0).(participants.Store)
	return store, args.Error(1)
}

type mockProductService struct{ mock.Mock }

func (m *mockProductService) ValidateStockAvailability(ctx context.Context, productName, storeID string, quantity int, sagaID string) (bool, error) {
	args := m.Called(ctx, productName, storeID, quantity, sagaID)
	return args.Bool(0), args.Error(1)
}

func (m *mockProductService) UpdateStock(ctx context.Context, productName, storeID string, delta int, sagaID, stepName string) (bool, error) {
	args := m.Called(ctx, productName, storeID, delta, sagaID, stepName)
	return args.Bool(0), args.Error(1)
}

type mockSaleService struct{ mock.Mock }

func (m *mockSaleService) ValidateSaleItems(ctx context.Context, items []participants.SaleItem, storeID, sagaID string) (bool, error) {
	args := m.Called(ctx, items, storeID, sagaID)
	return args.Bool(0), args.Error(1)
}

func (m *mockSaleService) CalculateSaleTotal(ctx context.Context, items []participants.SaleItem, storeID, sagaID string) (float64, error) {
	args := m.Called(ctx, items, storeID, sagaID)
	return args.Get(0).(float64), args.Error(1)
}

func (m *mockSaleService) CreateSale(ctx context.Context, sagaID, storeID string, items []participants.SaleItem, total float64) (string, error) {
	args := m.Called(ctx, sagaID, storeID, items, total)
	return args.String(0), args.Error(1)
}

func (m *mockSaleService) CancelSale(ctx context.Context, saleID, storeID string) (bool, error) {
	args := m.Called(ctx, saleID, storeID)
	return args.Bool(0), args.Error(1)
}

func saleRequest() CreateSaleRequest {
	return CreateSaleRequest{
		StoreID: "store-1",
		Items:   []SaleItem{{ProductName: "widget", Quantity: 2, UnitPrice: 9.99}},
	}
}

func orderRequest() CreateOrderRequest {
	return CreateOrderRequest{
		CustomerID:    "customer-1",
		StoreID:       "store-1",
		Items:         []SaleItem{{ProductName: "widget", Quantity: 2, UnitPrice: 9.99}},
		PaymentMethod: "card",
	}
}

// TestSaleSagaTemplate_HappyPath covers §8 scenario 1: every participant
// call succeeds and the saga reaches Completed with no compensation.
func TestSaleSagaTemplate_HappyPath(t *testing.T) {
	stores := new(mockStoreService)
	products := new(mockProductService)
	sales := new(mockSaleService)

	stores.On("GetStoreByID", mock.Anything, "store-1", mock.Anything).Return(participants.Store{StoreID: "store-1"}, nil)
	products.On("ValidateStockAvailability", mock.Anything, "widget", "store-1", 2, mock.Anything).Return(true, nil)
	products.On("UpdateStock", mock.Anything, "widget", "store-1", -2, mock.Anything, "ReserveStock").Return(true, nil)
	sales.On("ValidateSaleItems", mock.Anything, mock.Anything, "store-1", mock.Anything).Return(true, nil)
	sales.On("CalculateSaleTotal", mock.Anything, mock.Anything, "store-1", mock.Anything).Return(19.98, nil)
	sales.On("CreateSale", mock.Anything, mock.Anything, "store-1", mock.Anything, 19.98).Return("sale-1", nil)

	e := newTestEngine(t)
	e.RegisterTemplate(TypeSale, func() Template { return SaleSagaTemplate(stores, products, sales) })

	result, err := e.ExecuteSaleSaga(context.Background(), saleRequest(), "corr-happy")
	require.NoError(t, err)
	require.True(t, result.IsSuccess)
	require.Empty(t, result.CompensationResults)

	stores.AssertExpectations(t)
	products.AssertExpectations(t)
	sales.AssertExpectations(t)
}

// TestSaleSagaTemplate_InsufficientStock covers §8 scenario 2: the stock
// check fails and the saga never reaches ReserveStock's UpdateStock call,
// so there is nothing yet to compensate.
func TestSaleSagaTemplate_InsufficientStock(t *testing.T) {
	stores := new(mockStoreService)
	products := new(mockProductService)
	sales := new(mockSaleService)

	stores.On("GetStoreByID", mock.Anything, "store-1", mock.Anything).Return(participants.Store{StoreID: "store-1"}, nil)
	products.On("ValidateStockAvailability", mock.Anything, "widget", "store-1", 2, mock.Anything).Return(false, nil)

	e := newTestEngine(t)
	e.RegisterTemplate(TypeSale, func() Template { return SaleSagaTemplate(stores, products, sales) })

	result, err := e.ExecuteSaleSaga(context.Background(), saleRequest(), "corr-short")
	require.NoError(t, err)
	require.False(t, result.IsSuccess)
	require.Empty(t, result.CompensationResults)

	rec, err := e.store.Get(context.Background(), result.SagaID)
	require.NoError(t, err)
	require.Equal(t, StateCompensated, rec.CurrentState)

	products.AssertExpectations(t)
	sales.AssertNotCalled(t, "CreateSale", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

// TestSaleSagaTemplate_CreateSaleFails_CompensatesReservedStock covers §8
// scenario 3's compensation half for the sale saga: CreateSale fails after
// stock has already been reserved, so the reservation must be released.
func TestSaleSagaTemplate_CreateSaleFails_CompensatesReservedStock(t *testing.T) {
	stores := new(mockStoreService)
	products := new(mockProductService)
	sales := new(mockSaleService)

	stores.On("GetStoreByID", mock.Anything, "store-1", mock.Anything).Return(participants.Store{StoreID: "store-1"}, nil)
	products.On("ValidateStockAvailability", mock.Anything, "widget", "store-1", 2, mock.Anything).Return(true, nil)
	products.On("UpdateStock", mock.Anything, "widget", "store-1", -2, mock.Anything, "ReserveStock").Return(true, nil)
	sales.On("ValidateSaleItems", mock.Anything, mock.Anything, "store-1", mock.Anything).Return(true, nil)
	sales.On("CalculateSaleTotal", mock.Anything, mock.Anything, "store-1", mock.Anything).Return(19.98, nil)
	sales.On("CreateSale", mock.Anything, mock.Anything, "store-1", mock.Anything, 19.98).Return("", errors.New("sale service unavailable"))
	// Compensation releases exactly what was reserved.
	products.On("UpdateStock", mock.Anything, "widget", "store-1", 2, mock.Anything, "ReleaseStock").Return(true, nil)

	e := newTestEngine(t)
	e.RegisterTemplate(TypeSale, func() Template { return SaleSagaTemplate(stores, products, sales) })

	result, err := e.ExecuteSaleSaga(context.Background(), saleRequest(), "corr-compensate")
	require.NoError(t, err)
	require.False(t, result.IsSuccess)
	require.Len(t, result.CompensationResults, 1)
	require.Equal(t, "ReserveStock", result.CompensationResults[0].StepName)
	require.True(t, result.CompensationResults[0].IsSuccessful)
	require.False(t, result.HasCompensationFailures)

	products.AssertExpectations(t)
}

// TestSaleSagaTemplate_CompensationItselfFails covers the partial
// compensation failure boundary (§4.1.1, §8): the release call fails, and
// the saga must still land on Failed with HasCompensationFailures=true
// rather than hanging or panicking.
func TestSaleSagaTemplate_CompensationItselfFails(t *testing.T) {
	stores := new(mockStoreService)
	products := new(mockProductService)
	sales := new(mockSaleService)

	stores.On("GetStoreByID", mock.Anything, "store-1", mock.Anything).Return(participants.Store{StoreID: "store-1"}, nil)
	products.On("ValidateStockAvailability", mock.Anything, "widget", "store-1", 2, mock.Anything).Return(true, nil)
	products.On("UpdateStock", mock.Anything, "widget", "store-1", -2, mock.Anything, "ReserveStock").Return(true, nil)
	sales.On("ValidateSaleItems", mock.Anything, mock.Anything, "store-1", mock.Anything).Return(true, nil)
	sales.On("CalculateSaleTotal", mock.Anything, mock.Anything, "store-1", mock.Anything).Return(19.98, nil)
	sales.On("CreateSale", mock.Anything, mock.Anything, "store-1", mock.Anything, 19.98).Return("", errors.New("sale service unavailable"))
	products.On("UpdateStock", mock.Anything, "widget", "store-1", 2, mock.Anything, "ReleaseStock").Return(false, errors.New("product service unreachable"))

	e := newTestEngine(t)
	e.RegisterTemplate(TypeSale, func() Template { return SaleSagaTemplate(stores, products, sales) })

	result, err := e.ExecuteSaleSaga(context.Background(), saleRequest(), "corr-double-fail")
	require.NoError(t, err)
	require.False(t, result.IsSuccess)
	require.True(t, result.HasCompensationFailures)
	require.Len(t, result.CompensationResults, 1)
	require.False(t, result.CompensationResults[0].IsSuccessful)

	rec, err := e.store.Get(context.Background(), result.SagaID)
	require.NoError(t, err)
	require.Equal(t, StateFailed, rec.CurrentState)
}

// TestOrderSagaTemplate_HappyPath mirrors TestSaleSagaTemplate_HappyPath for
// the order saga: ValidateStore, ReserveStock, ChargePayment, CreateOrder
// and ConfirmStock all succeed and the saga reaches Completed with no
// compensation.
func TestOrderSagaTemplate_HappyPath(t *testing.T) {
	stores := new(mockStoreService)
	products := new(mockProductService)
	sales := new(mockSaleService)

	stores.On("GetStoreByID", mock.Anything, "store-1", mock.Anything).Return(participants.Store{StoreID: "store-1"}, nil)
	products.On("ValidateStockAvailability", mock.Anything, "widget", "store-1", 2, mock.Anything).Return(true, nil)
	products.On("UpdateStock", mock.Anything, "widget", "store-1", -2, mock.Anything, "ReserveStock").Return(true, nil)
	sales.On("CalculateSaleTotal", mock.Anything, mock.Anything, "store-1", mock.Anything).Return(19.98, nil)
	sales.On("CreateSale", mock.Anything, mock.Anything, "store-1", mock.Anything, 19.98).Return("sale-1", nil)

	e := newTestEngine(t)
	e.RegisterTemplate(TypeOrder, func() Template { return OrderSagaTemplate(stores, products, sales) })

	result, err := e.ExecuteOrderSaga(context.Background(), orderRequest(), "corr-order-happy")
	require.NoError(t, err)
	require.True(t, result.IsSuccess)
	require.Empty(t, result.CompensationResults)

	stores.AssertExpectations(t)
	products.AssertExpectations(t)
	sales.AssertExpectations(t)
}

// TestOrderSagaTemplate_ChargePaymentFails_CompensatesReservedStock covers
// §8 scenario 3: ChargePayment fails after ReserveStock already succeeded,
// so the saga must land on Compensated with exactly one compensation
// (releasing the reserved stock), in LIFO order.
func TestOrderSagaTemplate_ChargePaymentFails_CompensatesReservedStock(t *testing.T) {
	stores := new(mockStoreService)
	products := new(mockProductService)
	sales := new(mockSaleService)

	stores.On("GetStoreByID", mock.Anything, "store-1", mock.Anything).Return(participants.Store{StoreID: "store-1"}, nil)
	products.On("ValidateStockAvailability", mock.Anything, "widget", "store-1", 2, mock.Anything).Return(true, nil)
	products.On("UpdateStock", mock.Anything, "widget", "store-1", -2, mock.Anything, "ReserveStock").Return(true, nil)
	sales.On("CalculateSaleTotal", mock.Anything, mock.Anything, "store-1", mock.Anything).Return(19.98, nil)
	sales.On("CreateSale", mock.Anything, mock.Anything, "store-1", mock.Anything, 19.98).Return("", errors.New("payment declined"))
	products.On("UpdateStock", mock.Anything, "widget", "store-1", 2, mock.Anything, "ReleaseStock").Return(true, nil)

	e := newTestEngine(t)
	e.RegisterTemplate(TypeOrder, func() Template { return OrderSagaTemplate(stores, products, sales) })

	result, err := e.ExecuteOrderSaga(context.Background(), orderRequest(), "corr-order-compensate")
	require.NoError(t, err)
	require.False(t, result.IsSuccess)
	require.Len(t, result.CompensationResults, 1)
	require.Equal(t, "ReserveStock", result.CompensationResults[0].StepName)
	require.True(t, result.CompensationResults[0].IsSuccessful)
	require.False(t, result.HasCompensationFailures)

	rec, err := e.store.Get(context.Background(), result.SagaID)
	require.NoError(t, err)
	require.Equal(t, StateCompensated, rec.CurrentState)

	sales.AssertExpectations(t)
	products.AssertExpectations(t)
}

// TestExecuteOrderSaga_ValidationRejectsBeforeCreatingSaga mirrors
// TestEngine_ExecuteSaleSaga_ValidationRejectsBeforeCreatingSaga for the
// order saga's own required fields.
func TestExecuteOrderSaga_ValidationRejectsBeforeCreatingSaga(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.ExecuteOrderSaga(context.Background(), CreateOrderRequest{}, "corr-order-invalid")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)

	all, err := e.store.GetAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}
