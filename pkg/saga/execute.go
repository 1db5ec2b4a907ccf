package saga

import (
	"context"
	"errors"
	"fmt"
)

// ErrValidation is the sentinel every Execute* call wraps its validation
// failures with (§7's ValidationError): malformed input never creates a
// saga.
var ErrValidation = errors.New("invalid saga request")

func validationError(reason string) error {
	return fmt.Errorf("%w: %s", ErrValidation, reason)
}

// ExecuteSaleSaga runs the orchestrated sale saga to completion or
// compensation (§4.1, §8 scenarios 1 and 2). A malformed request never
// reaches the store: ErrValidation is returned directly and SE creates
// nothing.
func (e *Engine) ExecuteSaleSaga(ctx context.Context, req CreateSaleRequest, correlationID string) (SagaResult, error) {
	if req.StoreID == "" {
		return SagaResult{}, validationError("storeId is required")
	}
	if len(req.Items) == 0 {
		return SagaResult{}, validationError("at least one item is required")
	}
	for _, it := range req.Items {
		if it.ProductName == "" {
			return SagaResult{}, validationError("item productName is required")
		}
		if it.Quantity <= 0 {
			return SagaResult{}, validationError("item quantity must be positive")
		}
	}

	factory, ok := e.templates[TypeSale]
	if !ok {
		return SagaResult{}, fmt.Errorf("no template registered for %s", TypeSale)
	}

	initialData := map[string]interface{}{
		"storeId": req.StoreID,
		"items":   req.Items,
	}
	return e.run(ctx, TypeSale, factory(), initialData, correlationID)
}

// ExecuteOrderSaga runs the orchestrated order saga (§4.1, §8 scenario 3).
func (e *Engine) ExecuteOrderSaga(ctx context.Context, req CreateOrderRequest, correlationID string) (SagaResult, error) {
	if req.CustomerID == "" {
		return SagaResult{}, validationError("customerId is required")
	}
	if req.StoreID == "" {
		return SagaResult{}, validationError("storeId is required")
	}
	if len(req.Items) == 0 {
		return SagaResult{}, validationError("at least one item is required")
	}
	if req.PaymentMethod == "" {
		return SagaResult{}, validationError("paymentMethod is required")
	}
	for _, it := range req.Items {
		if it.ProductName == "" {
			return SagaResult{}, validationError("item productName is required")
		}
		if it.Quantity <= 0 {
			return SagaResult{}, validationError("item quantity must be positive")
		}
	}

	factory, ok := e.templates[TypeOrder]
	if !ok {
		return SagaResult{}, fmt.Errorf("no template registered for %s", TypeOrder)
	}

	initialData := map[string]interface{}{
		"storeId":       req.StoreID,
		"items":         req.Items,
		"customerId":    req.CustomerID,
		"paymentMethod": req.PaymentMethod,
	}
	return e.run(ctx, TypeOrder, factory(), initialData, correlationID)
}

// ExecuteStockUpdateSaga runs the orchestrated stock-update saga (§4.1,
// §8 scenario 6's CFI wiring applies equally here).
func (e *Engine) ExecuteStockUpdateSaga(ctx context.Context, req StockUpdateRequest, correlationID string) (SagaResult, error) {
	if req.ProductName == "" {
		return SagaResult{}, validationError("productName is required")
	}
	if req.StoreID == "" {
		return SagaResult{}, validationError("storeId is required")
	}
	if req.Quantity <= 0 {
		return SagaResult{}, validationError("quantity must be positive")
	}
	if req.Operation != StockOperationIncrease && req.Operation != StockOperationDecrease {
		return SagaResult{}, validationError("operation must be increase or decrease")
	}

	factory, ok := e.templates[TypeStockUpdate]
	if !ok {
		return SagaResult{}, fmt.Errorf("no template registered for %s", TypeStockUpdate)
	}

	initialData := map[string]interface{}{
		"productName": req.ProductName,
		"storeId":     req.StoreID,
		"quantity":    req.Quantity,
		"operation":   req.Operation,
	}
	return e.run(ctx, TypeStockUpdate, factory(), initialData, correlationID)
}
