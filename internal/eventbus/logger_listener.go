package eventbus

import (
	"context"

	"github.com/annel0/shard-engine/internal/logging"
)

// StartLoggingListener пишет каждое событие шины в лог на уровне DEBUG.
func StartLoggingListener(bus EventBus, log *logging.Logger) (Subscription, error) {
	if log == nil {
		log = logging.GetEventsLogger()
	}
	sub, err := bus.Subscribe(context.Background(), Filter{}, func(_ context.Context, ev *Envelope) {
		log.Debug("%s %s prio=%d corr=%s %dB", ev.EventType, ev.ID, ev.Priority, ev.CorrelationID, len(ev.Payload))
	})
	if err != nil {
		return nil, err
	}
	log.Debug("журнал событий шины включён")
	return sub, nil
}
