package engine

import (
	"context"
	"fmt"

	"github.com/annel0/shard-engine/internal/rng"
	"github.com/annel0/shard-engine/internal/shard"
	"github.com/annel0/shard-engine/internal/storage"
)

// maxSeedAttempts ограничивает перевыводы сида при коллизиях
const maxSeedAttempts = 16

// DeriveSeed выводит сид из имени, шаблона и хеша переопределений.
// attempt > 0 добавляет суффикс повтора.
func DeriveSeed(name, templateID, overridesHash string, attempt int) int {
	basis := fmt.Sprintf("%s|%s|%s", name, templateID, overridesHash)
	if attempt > 0 {
		basis = fmt.Sprintf("%s|%d", basis, attempt)
	}
	return int(rng.HashString(basis) % uint64(rng.MaxSeed+1))
}

// resolveSeed: явный сид побеждает; иначе выводится детерминированно.
// С autoSeed и индексом сид, занятый шардом с другим именем, перевыводится.
func resolveSeed(ctx context.Context, req *PlanRequest, overridesHash string, idx storage.ShardIndex) (int, error) {
	if req.Seed != nil {
		return *req.Seed, nil
	}

	name := req.Name
	if idx == nil || !req.AutoSeedEnabled() {
		return DeriveSeed(name, req.TemplateID, overridesHash, 0), nil
	}

	for attempt := 0; attempt < maxSeedAttempts; attempt++ {
		seed := DeriveSeed(name, req.TemplateID, overridesHash, attempt)
		taken, err := storage.SeedTaken(ctx, idx, seed, shard.SafeName(name))
		if err != nil {
			return 0, fmt.Errorf("проверка сида %08d: %w", seed, err)
		}
		if !taken {
			return seed, nil
		}
	}
	return 0, fmt.Errorf("%s/%s после %d попыток: %w", req.TemplateID, name, maxSeedAttempts, ErrSeedConflict)
}
