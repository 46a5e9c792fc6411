package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/annel0/shard-engine/internal/rng"
	"github.com/annel0/shard-engine/internal/shard"
)

// ErrInvalidRequest - запрос не прошёл проверку
var ErrInvalidRequest = errors.New("engine: invalid request")

// ErrSeedConflict - все попытки вывести свободный сид заняты
var ErrSeedConflict = errors.New("engine: no free seed")

// Verbosity - подробность ответа /plan
type Verbosity string

const (
	VerbosityMini   Verbosity = "mini"
	VerbosityNormal Verbosity = "normal"
	VerbosityFull   Verbosity = "full"
)

// PlanRequest - запрос на план или генерацию шарда
type PlanRequest struct {
	TemplateID    string         `json:"templateId"`
	Name          string         `json:"name"`
	AutoSeed      *bool          `json:"autoSeed,omitempty"`
	Seed          *int           `json:"seed,omitempty"`
	BiomePack     string         `json:"biomePack,omitempty"`
	Overrides     map[string]any `json:"overrides,omitempty"`
	PlanVerbosity Verbosity      `json:"planVerbosity,omitempty"`
}

// AutoSeedEnabled - по умолчанию сервер сам выбирает сид
func (r *PlanRequest) AutoSeedEnabled() bool {
	return r.AutoSeed == nil || *r.AutoSeed
}

// Normalize обрезает имя и подставляет значения по умолчанию
func (r *PlanRequest) Normalize() {
	r.TemplateID = strings.TrimSpace(r.TemplateID)
	r.Name = strings.TrimSpace(r.Name)
	r.BiomePack = strings.TrimSpace(r.BiomePack)
	if r.PlanVerbosity == "" {
		r.PlanVerbosity = VerbosityNormal
	}
}

// Validate проверяет запрос после Normalize
func (r *PlanRequest) Validate() error {
	if r.TemplateID == "" {
		return fmt.Errorf("templateId обязателен: %w", ErrInvalidRequest)
	}
	if r.Name == "" {
		return fmt.Errorf("name не может быть пустым: %w", ErrInvalidRequest)
	}
	if shard.SafeName(r.Name) == "" {
		return fmt.Errorf("name %q не содержит допустимых символов [A-Za-z0-9_-]: %w", r.Name, ErrInvalidRequest)
	}
	if r.Seed != nil && (*r.Seed < 0 || *r.Seed > rng.MaxSeed) {
		return fmt.Errorf("seed %d вне диапазона 0..%d: %w", *r.Seed, rng.MaxSeed, ErrInvalidRequest)
	}
	switch r.PlanVerbosity {
	case VerbosityMini, VerbosityNormal, VerbosityFull:
	default:
		return fmt.Errorf("planVerbosity %q: %w", r.PlanVerbosity, ErrInvalidRequest)
	}
	return nil
}

// DecodeRequest разбирает JSON запроса, нормализует и проверяет его
func DecodeRequest(data []byte) (*PlanRequest, error) {
	var req PlanRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("разбор запроса: %v: %w", err, ErrInvalidRequest)
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return &req, nil
}
