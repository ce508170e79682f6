package port

type MetricsRecorder interface {
	// ObserveOperation counts one ledger operation by outcome
	ObserveOperation(operation, outcome string)

	// SetStockLevel reports the current total of a SKU
	SetStockLevel(sku string, quantity int)

	// EventDropped counts an event the queue had no room for
	EventDropped()
}
