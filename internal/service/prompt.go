// Package service implements the use-cases on top of the domain and the
// ports: prompt version management, experiment lifecycle, variant assignment,
// and the promote/no-promote decision engine.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	pdotel "github.com/promptdeck/promptdeck/internal/adapter/otel"
	"github.com/promptdeck/promptdeck/internal/adapter/ws"
	"github.com/promptdeck/promptdeck/internal/domain/event"
	"github.com/promptdeck/promptdeck/internal/domain/prompt"
	"github.com/promptdeck/promptdeck/internal/port/broadcast"
	"github.com/promptdeck/promptdeck/internal/port/cache"
	"github.com/promptdeck/promptdeck/internal/port/database"
	"github.com/promptdeck/promptdeck/internal/port/messagequeue"
)

// PromptService manages versioned prompt content and the active pointer.
type PromptService struct {
	store    database.Store
	queue    messagequeue.Queue
	hub      broadcast.Broadcaster
	cache    cache.Cache
	cacheTTL time.Duration
	metrics  *pdotel.Metrics
}

// NewPromptService creates a PromptService.
func NewPromptService(store database.Store, queue messagequeue.Queue, hub broadcast.Broadcaster) *PromptService {
	return &PromptService{store: store, queue: queue, hub: hub}
}

// SetCache attaches a cache for active-version lookups. Activation
// invalidates the entry, but a read racing the activation can re-seed a
// stale copy, so the TTL bounds the staleness window.
func (s *PromptService) SetCache(c cache.Cache, ttl time.Duration) {
	s.cache = c
	s.cacheTTL = ttl
}

// SetMetrics attaches metric instruments.
func (s *PromptService) SetMetrics(m *pdotel.Metrics) {
	s.metrics = m
}

// CreateVersion appends a new version of a prompt, or converges on the
// existing version when the same content was already submitted for this
// prompt. The first version of a new prompt is activated automatically.
func (s *PromptService) CreateVersion(ctx context.Context, req prompt.CreateRequest) (*prompt.Version, bool, error) {
	if err := req.Validate(); err != nil {
		return nil, false, err
	}

	v, created, err := s.store.CreatePromptVersion(ctx, req)
	if err != nil {
		return nil, false, err
	}
	if !created {
		return v, false, nil
	}

	payload, _ := json.Marshal(event.VersionPayload{
		VersionID:     v.ID,
		Version:       v.Version,
		ContentHash:   v.ContentHash,
		Author:        v.Author,
		ChangeSummary: v.ChangeSummary,
	})
	publishEvent(ctx, s.queue, messagequeue.SubjectVersionCreated, event.Event{
		Type:       event.TypeVersionCreated,
		PromptName: v.PromptName,
		Payload:    payload,
	})
	if v.IsActive {
		// Bootstrap activation of version 1 is an activation like any other.
		s.invalidateActive(ctx, v.PromptName)
		publishEvent(ctx, s.queue, messagequeue.SubjectVersionActivated, event.Event{
			Type:       event.TypeVersionActivated,
			PromptName: v.PromptName,
			Payload:    payload,
		})
	}
	s.hub.BroadcastEvent(ctx, ws.EventVersionCreated, ws.VersionEvent{
		PromptName: v.PromptName,
		VersionID:  v.ID,
		Version:    v.Version,
		IsActive:   v.IsActive,
	})
	if s.metrics != nil {
		attrs := metric.WithAttributes(attribute.String("prompt.name", v.PromptName))
		s.metrics.VersionsCreated.Add(ctx, 1, attrs)
		if v.IsActive {
			s.metrics.VersionsActivated.Add(ctx, 1, attrs)
		}
	}

	slog.Info("prompt version created", "prompt", v.PromptName, "version", v.Version, "active", v.IsActive)
	return v, true, nil
}

// GetActive returns the prompt's single active version, read through the
// cache when one is attached.
func (s *PromptService) GetActive(ctx context.Context, promptName string) (*prompt.Version, error) {
	if s.cache != nil {
		if data, ok, err := s.cache.Get(ctx, activeVersionKey(promptName)); err == nil && ok {
			var v prompt.Version
			if err := json.Unmarshal(data, &v); err == nil {
				return &v, nil
			}
		}
	}

	v, err := s.store.GetActiveVersion(ctx, promptName)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if data, err := json.Marshal(v); err == nil {
			if err := s.cache.Set(ctx, activeVersionKey(promptName), data, s.cacheTTL); err != nil {
				slog.Debug("cache active version", "prompt", promptName, "error", err)
			}
		}
	}
	return v, nil
}

// GetVersion returns one numbered version of a prompt.
func (s *PromptService) GetVersion(ctx context.Context, promptName string, version int) (*prompt.Version, error) {
	return s.store.GetVersionByNumber(ctx, promptName, version)
}

// History returns all versions of a prompt, newest first.
func (s *PromptService) History(ctx context.Context, promptName string) ([]prompt.Version, error) {
	return s.store.ListVersions(ctx, promptName)
}

// PromptNames returns every known prompt name.
func (s *PromptService) PromptNames(ctx context.Context) ([]string, error) {
	return s.store.ListPromptNames(ctx)
}

// SetActive atomically makes the target version the prompt's only active one.
func (s *PromptService) SetActive(ctx context.Context, promptName string, version int) (*prompt.Version, error) {
	v, err := s.store.SetActiveVersion(ctx, promptName, version)
	if err != nil {
		return nil, err
	}

	s.invalidateActive(ctx, promptName)

	payload, _ := json.Marshal(event.VersionPayload{
		VersionID:     v.ID,
		Version:       v.Version,
		ContentHash:   v.ContentHash,
		Author:        v.Author,
		ChangeSummary: v.ChangeSummary,
	})
	publishEvent(ctx, s.queue, messagequeue.SubjectVersionActivated, event.Event{
		Type:       event.TypeVersionActivated,
		PromptName: promptName,
		Payload:    payload,
	})
	s.hub.BroadcastEvent(ctx, ws.EventVersionActivated, ws.VersionEvent{
		PromptName: promptName,
		VersionID:  v.ID,
		Version:    v.Version,
		IsActive:   true,
	})
	if s.metrics != nil {
		s.metrics.VersionsActivated.Add(ctx, 1,
			metric.WithAttributes(attribute.String("prompt.name", promptName)))
	}

	slog.Info("prompt version activated", "prompt", promptName, "version", v.Version)
	return v, nil
}

// StartActivationSubscriber invalidates cached active versions when an
// activation is published by another instance. Without it, an instance keeps
// serving its cached copy until the TTL expires.
func (s *PromptService) StartActivationSubscriber(ctx context.Context) (cancel func(), err error) {
	if s.cache == nil {
		return func() {}, nil
	}
	return s.queue.Subscribe(ctx, messagequeue.SubjectVersionActivated, func(msgCtx context.Context, _ string, data []byte) error {
		var ev event.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			return fmt.Errorf("unmarshal activation event: %w", err)
		}
		if ev.PromptName == "" {
			return nil
		}
		s.invalidateActive(msgCtx, ev.PromptName)
		return nil
	})
}

func (s *PromptService) invalidateActive(ctx context.Context, promptName string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, activeVersionKey(promptName)); err != nil {
		slog.Warn("invalidate active version cache", "prompt", promptName, "error", err)
	}
}

// activeVersionKey is the cache key for a prompt's active version.
func activeVersionKey(promptName string) string {
	return "active:" + promptName
}
