package consumer

import (
	"github.com/example/ec-checkout-saga/internal/contracts"
	"github.com/example/ec-checkout-saga/internal/infrastructure/store"
)

// Route binds a router to the topic it consumes.
type Route struct {
	Topic  string
	Router *Router
}

// Routes builds one router per command consumer. Each becomes its own
// consumer group.
func Routes(tx store.TxManager, inv *Inventory, ord *Ordering, carts *Cart, opts ...RouterOption) []Route {
	return []Route{
		{contracts.TopicInventoryCommands, NewRouter(ReserveStockConsumer, tx, opts...).
			On(contracts.TypeReserveStockForOrder, inv.ReserveStock)},
		{contracts.TopicInventoryCommands, NewRouter(DeductStockConsumer, tx, opts...).
			On(contracts.TypeDeductStock, inv.DeductStock)},
		{contracts.TopicInventoryCommands, NewRouter(ReleaseStockConsumer, tx, opts...).
			On(contracts.TypeReleaseStockReservations, inv.ReleaseReservations)},
		{contracts.TopicOrderingCommands, NewRouter(ConfirmOrderConsumer, tx, opts...).
			On(contracts.TypeConfirmOrder, ord.ConfirmOrder)},
		{contracts.TopicOrderingCommands, NewRouter(OrderFailedConsumer, tx, opts...).
			On(contracts.TypeOrderFailed, ord.OrderFailed)},
		{contracts.TopicCheckoutSagaEvents, NewRouter(OrderProgressConsumer, tx, opts...).
			On(contracts.TypeStockReservationCompleted, ord.StockReserved)},
		{contracts.TopicCartCommands, NewRouter(ClearCartConsumer, tx, opts...).
			On(contracts.TypeClearCart, carts.ClearCart)},
	}
}
