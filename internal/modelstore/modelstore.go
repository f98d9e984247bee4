// Package modelstore serves model definitions to the scoring pipeline,
// reading through the cache to the repository.
package modelstore

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

// DefaultTTL is the cache lifetime of a model definition.
const DefaultTTL = 5 * time.Minute

// Compiler compiles a model definition. *engine.Engine satisfies it.
type Compiler interface {
	Compile(model *domain.RiskModel) (*scoring.Program, error)
}

// ModelEvent is published on domain.TopicModelUpdated.
type ModelEvent struct {
	ModelID string             `json:"modelId"`
	Version string             `json:"version"`
	Status  domain.ModelStatus `json:"status"`
}

// Store is a read-through model store. Cache and bus are optional.
type Store struct {
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	compiler Compiler
	ttl      time.Duration
}

// New creates a store.
func New(repo domain.Repository, c domain.Cache, bus domain.EventBus, compiler Compiler, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{repo: repo, cache: c, bus: bus, compiler: compiler, ttl: ttl}
}

// Get returns a model definition, from the cache when present.
func (s *Store) Get(ctx context.Context, tenantID, modelID string) (*domain.RiskModel, error) {
	if s.cache != nil {
		model, err := cache.GetModel(ctx, s.cache, tenantID, modelID)
		if err != nil {
			slog.Warn("model cache read failed",
				"tenant_id", tenantID,
				"model_id", modelID,
				"error", err,
			)
		} else if model != nil {
			return model, nil
		}
	}

	model, err := s.repo.GetModel(ctx, tenantID, modelID)
	if err != nil {
		return nil, err
	}

	s.refresh(ctx, tenantID, model)
	return model, nil
}

// List returns every model of the tenant.
func (s *Store) List(ctx context.Context, tenantID string) ([]*domain.RiskModel, error) {
	return s.repo.ListModels(ctx, tenantID)
}

// Save compiles the definition, stores it and refreshes the cache. A model
// that does not compile is never stored.
func (s *Store) Save(ctx context.Context, tenantID string, model *domain.RiskModel) error {
	if s.compiler != nil {
		if _, err := s.compiler.Compile(model); err != nil {
			return err
		}
	}
	if err := s.repo.SaveModel(ctx, tenantID, model); err != nil {
		return err
	}

	s.refresh(ctx, tenantID, model)
	s.publish(ctx, tenantID, ModelEvent{ModelID: model.ID, Version: model.Version, Status: model.Status})
	return nil
}

// UpdateStatus moves a model to a new lifecycle status and evicts it from
// the cache.
func (s *Store) UpdateStatus(ctx context.Context, tenantID, modelID string, status domain.ModelStatus) error {
	if err := s.repo.UpdateModelStatus(ctx, tenantID, modelID, status); err != nil {
		return err
	}

	if s.cache != nil {
		if err := cache.DeleteModel(ctx, s.cache, tenantID, modelID); err != nil {
			slog.Warn("model cache eviction failed",
				"tenant_id", tenantID,
				"model_id", modelID,
				"error", err,
			)
		}
	}

	s.publish(ctx, tenantID, ModelEvent{ModelID: modelID, Status: status})
	return nil
}

func (s *Store) refresh(ctx context.Context, tenantID string, model *domain.RiskModel) {
	if s.cache == nil {
		return
	}
	if err := cache.SetModel(ctx, s.cache, tenantID, model, s.ttl); err != nil {
		slog.Warn("model cache write failed",
			"tenant_id", tenantID,
			"model_id", model.ID,
			"error", err,
		)
	}
}

func (s *Store) publish(ctx context.Context, tenantID string, event ModelEvent) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, tenantID, domain.TopicModelUpdated, payload); err != nil {
		slog.Warn("failed to publish model update",
			"tenant_id", tenantID,
			"model_id", event.ModelID,
			"error", err,
		)
	}
}
