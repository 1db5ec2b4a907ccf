package saga

import (
	"github.com/director74/sagacore/pkg/participants"
)

// toParticipantItems adapts saga.SaleItem to participants.SaleItem so
// templates can hand a caller's request items straight to the participant
// contracts without participants importing this package (§4.1 template
// design: forward/compensate close over nothing but the services they're
// built with, never over request state).
func toParticipantItems(items []SaleItem) []participants.SaleItem {
	out := make([]participants.SaleItem, 0, len(items))
	for _, it := range items {
		out = append(out, participants.SaleItem{ProductName: it.ProductName, Quantity: it.Quantity, UnitPrice: it.UnitPrice})
	}
	return out
}

func moneyFromFloat(total float64) Money {
	return Money(total*100 + 0.5)
}

func (m Money) toFloat() float64 {
	return float64(m) / 100.0
}

// SaleSagaTemplate builds the orchestrated Started → StoreValidated →
// StockReserved → TotalCalculated → SaleCreated → StockConfirmed →
// Completed sequence (§4.1, §8 scenario 1). Each step's Forward reads only
// from the generic data map and returns a self-contained payload so its
// paired Compensate can be rederived from the template plus that payload
// alone, with no closure over the original CreateSaleRequest.
func SaleSagaTemplate(stores participants.StoreService, products participants.ProductService, sales participants.SaleService) Template {
	return Template{
		Type: TypeSale,
		Steps: []Step{
			{
				Name:              "ValidateStore",
				ServiceName:       "StoreService",
				ExpectedPrevState: StateStarted,
				ExpectedPostState: StateStoreValidated,
				Forward: func(ctx StepContext, data map[string]interface{}) (map[string]interface{}, error) {
					storeID := data["storeId"].(string)
					if _, err := stores.GetStoreByID(ctx, storeID, ctx.SagaID); err != nil {
						return nil, NewStepFailure("ServiceUnavailable", err.Error())
					}
					return map[string]interface{}{"storeId": storeID}, nil
				},
			},
			{
				Name:              "ReserveStock",
				ServiceName:       "ProductService",
				ExpectedPrevState: StateStoreValidated,
				ExpectedPostState: StateStockReserved,
				CompensateOnError: true,
				Forward: func(ctx StepContext, data map[string]interface{}) (map[string]interface{}, error) {
					storeID := data["storeId"].(string)
					items := data["items"].([]SaleItem)

					for _, it := range items {
						ok, err := products.ValidateStockAvailability(ctx, it.ProductName, storeID, it.Quantity, ctx.SagaID)
						if err != nil {
							return nil, err
						}
						if !ok {
							return nil, NewStepFailure("InsufficientStock", "insufficient stock for "+it.ProductName)
						}
					}
					for _, it := range items {
						if _, err := products.UpdateStock(ctx, it.ProductName, storeID, -it.Quantity, ctx.SagaID, "ReserveStock"); err != nil {
							return nil, err
						}
					}
					return map[string]interface{}{"storeId": storeID, "items": items}, nil
				},
				Compensate: func(ctx StepContext, data map[string]interface{}) error {
					storeID := data["storeId"].(string)
					items := data["items"].([]SaleItem)
					for _, it := range items {
						if _, err := products.UpdateStock(ctx, it.ProductName, storeID, it.Quantity, ctx.SagaID, "ReleaseStock"); err != nil {
							return err
						}
					}
					return nil
				},
			},
			{
				Name:              "CalculateTotal",
				ServiceName:       "SaleService",
				ExpectedPrevState: StateStockReserved,
				ExpectedPostState: StateTotalCalculated,
				Forward: func(ctx StepContext, data map[string]interface{}) (map[string]interface{}, error) {
					storeID := data["storeId"].(string)
					items := data["items"].([]SaleItem)

					ok, err := sales.ValidateSaleItems(ctx, toParticipantItems(items), storeID, ctx.SagaID)
					if err != nil {
						return nil, err
					}
					if !ok {
						return nil, NewStepFailure("ValidationError", "sale items failed validation")
					}

					total, err := sales.CalculateSaleTotal(ctx, toParticipantItems(items), storeID, ctx.SagaID)
					if err != nil {
						return nil, err
					}
					return map[string]interface{}{"totalCents": int64(moneyFromFloat(total))}, nil
				},
			},
			{
				Name:              "CreateSale",
				ServiceName:       "SaleService",
				ExpectedPrevState: StateTotalCalculated,
				ExpectedPostState: StateSaleCreated,
				CompensateOnError: true,
				Forward: func(ctx StepContext, data map[string]interface{}) (map[string]interface{}, error) {
					storeID := data["storeId"].(string)
					items := data["items"].([]SaleItem)
					total := Money(data["totalCents"].(int64)).toFloat()

					saleID, err := sales.CreateSale(ctx, ctx.SagaID, storeID, toParticipantItems(items), total)
					if err != nil {
						return nil, err
					}
					return map[string]interface{}{"saleId": saleID, "storeId": storeID}, nil
				},
				Compensate: func(ctx StepContext, data map[string]interface{}) error {
					saleID := data["saleId"].(string)
					storeID := data["storeId"].(string)
					_, err := sales.CancelSale(ctx, saleID, storeID)
					return err
				},
			},
			{
				Name:              "ConfirmStock",
				ServiceName:       "ProductService",
				ExpectedPrevState: StateSaleCreated,
				ExpectedPostState: StateStockConfirmed,
				Forward: func(ctx StepContext, data map[string]interface{}) (map[string]interface{}, error) {
					// The reservation already applied the stock delta;
					// confirming is a no-op acknowledgement step so a
					// saga's final state machine hop matches §4.1's
					// published edge set without double-applying deltas.
					return map[string]interface{}{}, nil
				},
			},
		},
	}
}

// OrderSagaTemplate mirrors SaleSagaTemplate's shape for a customer order:
// validate store, reserve stock, charge payment, create the order, confirm
// stock. PaymentFailure at the charge step compensates ReserveStock
// (ReleaseStock) only: CreateOrder runs after ChargePayment, so it has not
// run yet and no CancelOrder compensation is issued.
func OrderSagaTemplate(stores participants.StoreService, products participants.ProductService, sales participants.SaleService) Template {
	return Template{
		Type: TypeOrder,
		Steps: []Step{
			{
				Name:              "ValidateStore",
				ServiceName:       "StoreService",
				ExpectedPrevState: StateStarted,
				ExpectedPostState: StateStoreValidated,
				Forward: func(ctx StepContext, data map[string]interface{}) (map[string]interface{}, error) {
					storeID := data["storeId"].(string)
					if _, err := stores.GetStoreByID(ctx, storeID, ctx.SagaID); err != nil {
						return nil, NewStepFailure("ServiceUnavailable", err.Error())
					}
					return map[string]interface{}{"storeId": storeID}, nil
				},
			},
			{
				Name:              "ReserveStock",
				ServiceName:       "ProductService",
				ExpectedPrevState: StateStoreValidated,
				ExpectedPostState: StateStockReserved,
				CompensateOnError: true,
				Forward: func(ctx StepContext, data map[string]interface{}) (map[string]interface{}, error) {
					storeID := data["storeId"].(string)
					items := data["items"].([]SaleItem)

					for _, it := range items {
						ok, err := products.ValidateStockAvailability(ctx, it.ProductName, storeID, it.Quantity, ctx.SagaID)
						if err != nil {
							return nil, err
						}
						if !ok {
							return nil, NewStepFailure("InsufficientStock", "insufficient stock for "+it.ProductName)
						}
					}
					for _, it := range items {
						if _, err := products.UpdateStock(ctx, it.ProductName, storeID, -it.Quantity, ctx.SagaID, "ReserveStock"); err != nil {
							return nil, err
						}
					}
					return map[string]interface{}{"storeId": storeID, "items": items}, nil
				},
				Compensate: func(ctx StepContext, data map[string]interface{}) error {
					storeID := data["storeId"].(string)
					items := data["items"].([]SaleItem)
					for _, it := range items {
						if _, err := products.UpdateStock(ctx, it.ProductName, storeID, it.Quantity, ctx.SagaID, "ReleaseStock"); err != nil {
							return err
						}
					}
					return nil
				},
			},
			{
				Name:              "ChargePayment",
				ServiceName:       "SaleService",
				ExpectedPrevState: StateStockReserved,
				ExpectedPostState: StateTotalCalculated,
				CompensateOnError: true,
				Forward: func(ctx StepContext, data map[string]interface{}) (map[string]interface{}, error) {
					storeID := data["storeId"].(string)
					items := data["items"].([]SaleItem)

					total, err := sales.CalculateSaleTotal(ctx, toParticipantItems(items), storeID, ctx.SagaID)
					if err != nil {
						return nil, err
					}

					saleID, err := sales.CreateSale(ctx, ctx.SagaID, storeID, toParticipantItems(items), total)
					if err != nil {
						return nil, err
					}
					return map[string]interface{}{"saleId": saleID, "storeId": storeID, "totalCents": int64(moneyFromFloat(total))}, nil
				},
				Compensate: func(ctx StepContext, data map[string]interface{}) error {
					saleID := data["saleId"].(string)
					storeID := data["storeId"].(string)
					_, err := sales.CancelSale(ctx, saleID, storeID)
					return err
				},
			},
			{
				Name:              "CreateOrder",
				ServiceName:       "SaleService",
				ExpectedPrevState: StateTotalCalculated,
				ExpectedPostState: StateSaleCreated,
				CompensateOnError: true,
				Forward: func(ctx StepContext, data map[string]interface{}) (map[string]interface{}, error) {
					saleID := data["saleId"].(string)
					return map[string]interface{}{"orderId": saleID}, nil
				},
				Compensate: func(ctx StepContext, data map[string]interface{}) error {
					// CancelOrder is a no-op: the order's backing record is
					// the sale created by ChargePayment, and ChargePayment's
					// own compensation cancels that sale.
					return nil
				},
			},
			{
				Name:              "ConfirmStock",
				ServiceName:       "ProductService",
				ExpectedPrevState: StateSaleCreated,
				ExpectedPostState: StateStockConfirmed,
				Forward: func(ctx StepContext, data map[string]interface{}) (map[string]interface{}, error) {
					return map[string]interface{}{}, nil
				},
			},
		},
	}
}

// StockUpdateSagaTemplate runs a single-service stock mutation through the
// same state machine and compensation discipline as the multi-service
// sagas, so an operator-triggered restock or manual decrement gets the
// same transition log and metrics as a sale.
func StockUpdateSagaTemplate(products participants.ProductService) Template {
	return Template{
		Type: TypeStockUpdate,
		Steps: []Step{
			{
				Name:              "ApplyStockDelta",
				ServiceName:       "ProductService",
				ExpectedPrevState: StateStarted,
				ExpectedPostState: StateStockConfirmed,
				CompensateOnError: true,
				Forward: func(ctx StepContext, data map[string]interface{}) (map[string]interface{}, error) {
					productName := data["productName"].(string)
					storeID := data["storeId"].(string)
					quantity := data["quantity"].(int)
					operation := data["operation"].(StockOperation)

					delta := quantity
					if operation == StockOperationDecrease {
						delta = -quantity
					}

					if _, err := products.UpdateStock(ctx, productName, storeID, delta, ctx.SagaID, "ApplyStockDelta"); err != nil {
						return nil, err
					}
					return map[string]interface{}{"productName": productName, "storeId": storeID, "delta": delta}, nil
				},
				Compensate: func(ctx StepContext, data map[string]interface{}) error {
					productName := data["productName"].(string)
					storeID := data["storeId"].(string)
					delta := data["delta"].(int)
					_, err := products.UpdateStock(ctx, productName, storeID, -delta, ctx.SagaID, "RevertStockDelta")
					return err
				},
			},
		},
	}
}
