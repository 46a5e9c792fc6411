package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/annel0/shard-engine/internal/eventbus"
	"github.com/annel0/shard-engine/internal/logging"
)

// OutboundWebhook представляет исходящий webhook
type OutboundWebhook struct {
	Name         string     `json:"name"`
	URL          string     `json:"url"`
	Secret       string     `json:"-"`
	Events       []string   `json:"events"`  // События, на которые подписан; "*" - все
	Timeout      int        `json:"timeout"` // Таймаут в секундах
	RetryCount   int        `json:"retry_count"`
	LastUsed     *time.Time `json:"last_used,omitempty"`
	FailureCount int        `json:"failure_count"`
}

// OutboundWebhookEvent - тело запроса к webhook'у
type OutboundWebhookEvent struct {
	ID        string          `json:"id"`
	EventType string          `json:"event_type"`
	Timestamp int64           `json:"timestamp"`
	Source    string          `json:"source"`
	Data      json.RawMessage `json:"data"`
}

// OutboundWebhookManager пересылает события шины на внешние webhook'и
type OutboundWebhookManager struct {
	mu         sync.RWMutex
	webhooks   []*OutboundWebhook
	eventQueue chan OutboundWebhookEvent
	httpClient *http.Client
	retryDelay time.Duration
	log        *logging.Logger
	sub        eventbus.Subscription
	closed     bool
	wg         sync.WaitGroup
}

// NewOutboundWebhookManager создаёт менеджер и запускает воркер очереди
func NewOutboundWebhookManager(webhooks []OutboundWebhook, log *logging.Logger) *OutboundWebhookManager {
	if log == nil {
		log = logging.GetAPILogger()
	}
	manager := &OutboundWebhookManager{
		eventQueue: make(chan OutboundWebhookEvent, 256),
		httpClient: &http.Client{},
		retryDelay: time.Second,
		log:        log,
	}
	for i := range webhooks {
		wh := webhooks[i]
		if wh.Timeout <= 0 {
			wh.Timeout = 30
		}
		if wh.RetryCount < 0 {
			wh.RetryCount = 0
		}
		if len(wh.Events) == 0 {
			wh.Events = []string{"*"}
		}
		manager.webhooks = append(manager.webhooks, &wh)
	}

	manager.wg.Add(1)
	go manager.eventWorker()
	return manager
}

// webhookConsumer - durable-консьюмер JetStream: события, опубликованные
// пока сервис лежал, доставляются после рестарта
const webhookConsumer = "webhooks"

// Attach подписывает менеджер на события генератора
func (owm *OutboundWebhookManager) Attach(ctx context.Context, bus eventbus.EventBus) error {
	filter := eventbus.Filter{Sources: []string{eventbus.SourceShardEngine}, Durable: webhookConsumer}
	sub, err := bus.Subscribe(ctx, filter, func(_ context.Context, ev *eventbus.Envelope) {
		owm.Enqueue(ev)
	})
	if err != nil {
		return fmt.Errorf("подписка webhook'ов: %w", err)
	}
	owm.sub = sub
	return nil
}

// GetWebhooks возвращает копию списка webhook'ов
func (owm *OutboundWebhookManager) GetWebhooks() []OutboundWebhook {
	owm.mu.RLock()
	defer owm.mu.RUnlock()

	out := make([]OutboundWebhook, 0, len(owm.webhooks))
	for _, wh := range owm.webhooks {
		out = append(out, *wh)
	}
	return out
}

// Enqueue ставит событие в очередь; при переполнении событие пропускается
func (owm *OutboundWebhookManager) Enqueue(ev *eventbus.Envelope) {
	event := OutboundWebhookEvent{
		ID:        ev.ID,
		EventType: ev.EventType,
		Timestamp: ev.Timestamp.Unix(),
		Source:    ev.Source,
		Data:      json.RawMessage(ev.Payload),
	}

	owm.mu.RLock()
	defer owm.mu.RUnlock()
	if owm.closed {
		return
	}
	select {
	case owm.eventQueue <- event:
		owm.log.Debug("Событие %s добавлено в очередь webhook'ов", ev.EventType)
	default:
		owm.log.Warn("Очередь webhook'ов переполнена, событие %s пропущено", ev.EventType)
	}
}

// Close отписывается от шины и дожидается отправки очереди
func (owm *OutboundWebhookManager) Close() {
	if owm.sub != nil {
		owm.sub.Unsubscribe()
	}
	owm.mu.Lock()
	if owm.closed {
		owm.mu.Unlock()
		return
	}
	owm.closed = true
	close(owm.eventQueue)
	owm.mu.Unlock()
	owm.wg.Wait()
}

// eventWorker обрабатывает события из очереди
func (owm *OutboundWebhookManager) eventWorker() {
	defer owm.wg.Done()
	for event := range owm.eventQueue {
		owm.processEvent(event)
	}
}

func (owm *OutboundWebhookManager) processEvent(event OutboundWebhookEvent) {
	owm.mu.RLock()
	var targets []*OutboundWebhook
	for _, wh := range owm.webhooks {
		if isSubscribedToEvent(wh, event.EventType) {
			targets = append(targets, wh)
		}
	}
	owm.mu.RUnlock()

	for _, wh := range targets {
		owm.sendToWebhook(wh, event)
	}
}

func isSubscribedToEvent(webhook *OutboundWebhook, eventType string) bool {
	for _, subscribedEvent := range webhook.Events {
		if subscribedEvent == eventType || subscribedEvent == "*" {
			return true
		}
	}
	return false
}

// sendToWebhook отправляет событие с повторами и обновляет статистику webhook'а
func (owm *OutboundWebhookManager) sendToWebhook(webhook *OutboundWebhook, event OutboundWebhookEvent) {
	jsonData, err := json.Marshal(event)
	if err != nil {
		owm.log.Error("Ошибка маршалинга события для webhook %s: %v", webhook.Name, err)
		return
	}

	attempt := 0
	op := func() error {
		attempt++
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(webhook.Timeout)*time.Second)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhook.URL, bytes.NewReader(jsonData))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "Shard-Engine/2.0")
		req.Header.Set("X-Event-Type", event.EventType)
		req.Header.Set("X-Event-ID", event.ID)
		if webhook.Secret != "" {
			req.Header.Set("X-Webhook-Signature", generateSignature(jsonData, webhook.Secret))
		}

		resp, err := owm.httpClient.Do(req)
		if err != nil {
			owm.log.Warn("Попытка %d/%d для webhook %s: %v", attempt, webhook.RetryCount+1, webhook.Name, err)
			return err
		}
		resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			owm.log.Warn("Webhook %s вернул статус %d на попытке %d", webhook.Name, resp.StatusCode, attempt)
			return fmt.Errorf("статус %d", resp.StatusCode)
		}
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = owm.retryDelay
	policy.MaxElapsedTime = 0
	err = backoff.Retry(op, backoff.WithMaxRetries(policy, uint64(webhook.RetryCount)))

	owm.mu.Lock()
	now := time.Now()
	webhook.LastUsed = &now
	if err != nil {
		webhook.FailureCount++
	}
	owm.mu.Unlock()

	if err != nil {
		owm.log.Error("Событие %s не доставлено в webhook %s: %v", event.EventType, webhook.Name, err)
		return
	}
	owm.log.Info("Событие %s отправлено в webhook %s", event.EventType, webhook.Name)
}

// generateSignature генерирует HMAC подпись тела
func generateSignature(data []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(data)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
