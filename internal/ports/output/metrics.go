package output

import "time"

// MetricsCollector defines the secondary port for metrics collection.
type MetricsCollector interface {
	// IncOrdersProcessed increments the processed-order counter.
	IncOrdersProcessed(success bool)

	// IncLayersLoaded increments the layer counter with a result status
	// (loaded, skipped, failed).
	IncLayersLoaded(status string)

	// AddFeaturesLoaded adds to the total feature counter.
	AddFeaturesLoaded(count int64)

	// ObserveLayerLoadDuration records the duration of one layer load.
	ObserveLayerLoadDuration(layer string, duration time.Duration)

	// ObserveOrderDuration records the duration of one order.
	ObserveOrderDuration(duration time.Duration)

	// SetOrdersTracked sets the number of orders with loaded metadata.
	SetOrdersTracked(count int)

	// IncStorageOperations increments the storage operation counter.
	IncStorageOperations(operation string, success bool)
}

// NoOpMetrics is a no-op implementation of MetricsCollector.
type NoOpMetrics struct{}

// IncOrdersProcessed implements MetricsCollector.
func (n *NoOpMetrics) IncOrdersProcessed(_ bool) {}

// IncLayersLoaded implements MetricsCollector.
func (n *NoOpMetrics) IncLayersLoaded(_ string) {}

// AddFeaturesLoaded implements MetricsCollector.
func (n *NoOpMetrics) AddFeaturesLoaded(_ int64) {}

// ObserveLayerLoadDuration implements MetricsCollector.
func (n *NoOpMetrics) ObserveLayerLoadDuration(_ string, _ time.Duration) {}

// ObserveOrderDuration implements MetricsCollector.
func (n *NoOpMetrics) ObserveOrderDuration(_ time.Duration) {}

// SetOrdersTracked implements MetricsCollector.
func (n *NoOpMetrics) SetOrdersTracked(_ int) {}

// IncStorageOperations implements MetricsCollector.
func (n *NoOpMetrics) IncStorageOperations(_ string, _ bool) {}
