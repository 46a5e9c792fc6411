package eventbus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// Envelope описывает универсальный контейнер события.
// Все поля фиксированы для версиирования и трассировки.
type Envelope struct {
	ID            string            `json:"id"`                       // Глобально уникальный идентификатор (UUID).
	Timestamp     time.Time         `json:"timestamp"`                // Время создания события (UTC).
	Source        string            `json:"source"`                   // Имя сервиса-источника.
	EventType     string            `json:"event_type"`               // Тип события (ShardGenerated, ShardPlanned).
	Version       int               `json:"version"`                  // Схема полезной нагрузки.
	CorrelationID string            `json:"correlation_id,omitempty"` // Для связывания цепочек.
	Priority      int               `json:"priority"`                 // 0=Low … 9=Critical (для backpressure).
	Payload       []byte            `json:"payload"`                  // JSON полезной нагрузки.
	Metadata      map[string]string `json:"metadata,omitempty"`       // Произвольные метаданные.
}

// Filter позволяет подписаться только на нужные события.
type Filter struct {
	Types   []string // Если пусто - все типы.
	Sources []string // Если пусто - все источники.
	// Durable - имя постоянного консьюмера JetStream: после рестарта
	// доставка продолжается с места остановки. Шина в памяти его игнорирует.
	Durable string
}

// Subscription возвращается при подписке; позволяет отписаться.
type Subscription interface {
	Unsubscribe()
}

// Handler потребляет события.
type Handler func(ctx context.Context, ev *Envelope)

// Stats агрегированные метрики шины.
type Stats struct {
	Published uint64
	Consumed  uint64
	Dropped   uint64
	InFlight  int
}

// ErrBusClosed возвращается при публикации в закрытую шину
var ErrBusClosed = errors.New("eventbus: closed")

// EventBus определяет абстракцию шины событий.
// Реализации: in-memory и NATS JetStream.
type EventBus interface {
	Publish(ctx context.Context, ev *Envelope) error
	Subscribe(ctx context.Context, f Filter, h Handler) (Subscription, error)
	Metrics() Stats
	Close() error
}

//================ In-Memory implementation =================//

// memoryBus раздаёт события подписчикам в порядке публикации.
// У каждого подписчика своя очередь. Младшие события медленному подписчику
// отбрасываются; ShardGenerated ждёт его, придерживая раздачу остальным.
type memoryBus struct {
	mu          sync.RWMutex // подписчики
	subscribers map[int]*subscriber
	nextID      int

	closeMu sync.RWMutex // closed и отправка в buffer
	closed  bool
	buffer  chan *Envelope
	done    chan struct{}

	published atomic.Uint64
	consumed  atomic.Uint64
	dropped   atomic.Uint64
}

type subscriber struct {
	filter  Filter
	handler Handler
	queue   chan *Envelope
	ctx     context.Context
	cancel  context.CancelFunc
	stopped chan struct{}
}

// NewMemoryBus создаёт in-memory Bus с указанным буфером.
func NewMemoryBus(capacity int) EventBus {
	if capacity <= 0 {
		capacity = 64
	}
	mb := &memoryBus{
		subscribers: make(map[int]*subscriber),
		buffer:      make(chan *Envelope, capacity),
		done:        make(chan struct{}),
	}
	go mb.dispatchLoop()
	return mb
}

// Publish ставит событие в буфер. При заполненном буфере события
// с приоритетом ниже PriorityHigh отбрасываются, остальные ждут места.
func (mb *memoryBus) Publish(ctx context.Context, ev *Envelope) error {
	mb.closeMu.RLock()
	defer mb.closeMu.RUnlock()
	if mb.closed {
		return ErrBusClosed
	}

	select {
	case mb.buffer <- ev:
		mb.published.Add(1)
		return nil
	default:
	}

	if ev.Priority < PriorityHigh {
		mb.dropped.Add(1)
		return nil
	}
	select {
	case mb.buffer <- ev:
		mb.published.Add(1)
		return nil
	case <-ctx.Done():
		mb.dropped.Add(1)
		return ctx.Err()
	}
}

func (mb *memoryBus) Subscribe(ctx context.Context, f Filter, h Handler) (Subscription, error) {
	mb.closeMu.RLock()
	defer mb.closeMu.RUnlock()
	if mb.closed {
		return nil, ErrBusClosed
	}

	mb.mu.Lock()
	defer mb.mu.Unlock()

	id := mb.nextID
	mb.nextID++
	cctx, cancel := context.WithCancel(ctx)
	sub := &subscriber{
		filter:  f,
		handler: h,
		queue:   make(chan *Envelope, cap(mb.buffer)),
		ctx:     cctx,
		cancel:  cancel,
		stopped: make(chan struct{}),
	}
	mb.subscribers[id] = sub
	go mb.deliver(sub)

	return &memSub{bus: mb, id: id}, nil
}

func (mb *memoryBus) Metrics() Stats {
	return Stats{
		Published: mb.published.Load(),
		Consumed:  mb.consumed.Load(),
		Dropped:   mb.dropped.Load(),
		InFlight:  len(mb.buffer),
	}
}

// Close перестаёт принимать события и ждёт, пока подписчики обработают
// всё, что уже попало в шину. Затем подписки отменяются.
func (mb *memoryBus) Close() error {
	mb.closeMu.Lock()
	if mb.closed {
		mb.closeMu.Unlock()
		return nil
	}
	mb.closed = true
	close(mb.buffer)
	mb.closeMu.Unlock()

	<-mb.done

	mb.mu.Lock()
	subs := make([]*subscriber, 0, len(mb.subscribers))
	for id, sub := range mb.subscribers {
		subs = append(subs, sub)
		delete(mb.subscribers, id)
	}
	mb.mu.Unlock()

	// dispatchLoop завершён, писателей в очереди больше нет
	for _, sub := range subs {
		close(sub.queue)
	}
	for _, sub := range subs {
		<-sub.stopped
		sub.cancel()
	}
	return nil
}

// dispatchLoop раскладывает события по очередям подписчиков.
// Событие с приоритетом PriorityHigh и выше ждёт места в очереди
// подписчика, младшие при полной очереди отбрасываются.
func (mb *memoryBus) dispatchLoop() {
	defer close(mb.done)
	var targets []*subscriber
	for ev := range mb.buffer {
		targets = targets[:0]
		mb.mu.RLock()
		for _, sub := range mb.subscribers {
			if matchFilter(ev, sub.filter) {
				targets = append(targets, sub)
			}
		}
		mb.mu.RUnlock()

		for _, sub := range targets {
			mb.enqueue(sub, ev)
		}
	}
}

func (mb *memoryBus) enqueue(sub *subscriber, ev *Envelope) {
	select {
	case sub.queue <- ev:
		return
	default:
	}
	if ev.Priority < PriorityHigh {
		mb.dropped.Add(1)
		return
	}
	select {
	case sub.queue <- ev:
	case <-sub.ctx.Done():
		mb.dropped.Add(1)
	}
}

// deliver вызывает обработчик подписчика по одному событию за раз
// до отписки или закрытия очереди
func (mb *memoryBus) deliver(sub *subscriber) {
	defer close(sub.stopped)
	for {
		select {
		case <-sub.ctx.Done():
			return
		case ev, ok := <-sub.queue:
			if !ok {
				return
			}
			sub.handler(sub.ctx, ev)
			mb.consumed.Add(1)
		}
	}
}

func matchFilter(ev *Envelope, f Filter) bool {
	match := func(val string, arr []string) bool {
		if len(arr) == 0 {
			return true
		}
		for _, v := range arr {
			if v == val {
				return true
			}
		}
		return false
	}
	return match(ev.EventType, f.Types) && match(ev.Source, f.Sources)
}

type memSub struct {
	bus *memoryBus
	id  int
}

func (s *memSub) Unsubscribe() {
	s.bus.mu.Lock()
	if sub, ok := s.bus.subscribers[s.id]; ok {
		sub.cancel()
		delete(s.bus.subscribers, s.id)
	}
	s.bus.mu.Unlock()
}
