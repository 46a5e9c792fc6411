package eventbus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Типы событий жизненного цикла шарда
const (
	EventShardGenerated = "ShardGenerated"
	EventShardPlanned   = "ShardPlanned"
)

// SourceShardEngine - источник всех событий генератора
const SourceShardEngine = "shard-engine"

// Приоритеты: при переполнении буфера шина в памяти отбрасывает события ниже PriorityHigh
const (
	PriorityLow    = 2
	PriorityNormal = 5
	PriorityHigh   = 7
)

// PriorityFor - приоритет по типу события. Сохранённый шард важнее превью плана.
func PriorityFor(eventType string) int {
	switch eventType {
	case EventShardGenerated:
		return PriorityHigh
	case EventShardPlanned:
		return PriorityLow
	default:
		return PriorityNormal
	}
}

// Subject - тема JetStream для типа события
func Subject(eventType string) string {
	return subjectPrefix + eventType
}

const subjectPrefix = "shards."

// NewEnvelope упаковывает payload в JSON-конверт с новым UUID
func NewEnvelope(eventType string, payload any) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("сериализация %s: %w", eventType, err)
	}
	return &Envelope{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Source:    SourceShardEngine,
		EventType: eventType,
		Version:   1,
		Priority:  PriorityFor(eventType),
		Payload:   data,
		Metadata:  map[string]string{"content_type": "application/json"},
	}, nil
}

// DecodePayload разбирает JSON-нагрузку конверта
func DecodePayload(ev *Envelope, out any) error {
	return json.Unmarshal(ev.Payload, out)
}
