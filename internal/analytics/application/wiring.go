package application

import (
	"context"

	"telemetry-engine/internal/eventing"
	telemetry "telemetry-engine/internal/telemetry/domain"
)

// WireAnalyticsEventBus registers the aggregation handlers on the event bus.
func WireAnalyticsEventBus(bus eventing.EventBus, rollover *RolloverHandler, processed eventing.ProcessedStore) {
	if bus == nil || rollover == nil {
		return
	}
	eventing.Subscribe(bus, eventing.EventTypeOf[telemetry.ReadingsIngested](), "analytics.rollover", func(ctx context.Context, event any) error {
		evt, ok := event.(telemetry.ReadingsIngested)
		if !ok {
			return eventing.ErrInvalidEventType
		}
		return rollover.HandleReadingsIngested(ctx, evt)
	}, processed)
}
