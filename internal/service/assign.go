package service

import (
	"context"
	"errors"
	"fmt"

	pdotel "github.com/promptdeck/promptdeck/internal/adapter/otel"
	"github.com/promptdeck/promptdeck/internal/domain"
	"github.com/promptdeck/promptdeck/internal/domain/experiment"
	"github.com/promptdeck/promptdeck/internal/domain/prompt"
	"github.com/promptdeck/promptdeck/internal/port/database"
)

// Assignment names the prompt version a generation job must render with,
// and whether that choice came from a running experiment.
type Assignment struct {
	PromptName   string               `json:"prompt_name"`
	JobID        string               `json:"job_id"`
	Version      *prompt.Version      `json:"version"`
	Experimental bool                 `json:"experimental"`
	TestID       string               `json:"ab_test_id,omitempty"`
	VariantID    experiment.VariantID `json:"variant_id,omitempty"`
}

// AssignService resolves prompt versions for generation jobs, routing jobs
// through a running experiment's arms when one exists.
type AssignService struct {
	store   database.Store
	prompts *PromptService
}

// NewAssignService creates an AssignService.
func NewAssignService(store database.Store, prompts *PromptService) *AssignService {
	return &AssignService{store: store, prompts: prompts}
}

// Resolve returns the version the job renders with. With no running
// experiment this is the prompt's active version. During an experiment the
// job is pinned to an arm by a stable hash of its ID, so a retried or
// re-scored job always lands on the same variant.
func (s *AssignService) Resolve(ctx context.Context, promptName, jobID string) (*Assignment, error) {
	if promptName == "" || jobID == "" {
		return nil, fmt.Errorf("prompt_name and job_id are required: %w", domain.ErrValidation)
	}

	ctx, span := pdotel.StartResolveSpan(ctx, promptName, jobID)
	defer span.End()

	t, err := s.store.GetRunningTestForPrompt(ctx, promptName)
	if errors.Is(err, domain.ErrNotFound) {
		v, err := s.prompts.GetActive(ctx, promptName)
		if err != nil {
			return nil, err
		}
		return &Assignment{PromptName: promptName, JobID: jobID, Version: v}, nil
	}
	if err != nil {
		return nil, err
	}

	variantID := experiment.AssignVariant(jobID)
	variant, err := t.Variant(variantID)
	if err != nil {
		return nil, err
	}
	v, err := s.store.GetVersionByID(ctx, variant.PromptVersionID)
	if err != nil {
		return nil, err
	}

	return &Assignment{
		PromptName:   promptName,
		JobID:        jobID,
		Version:      v,
		Experimental: true,
		TestID:       t.ID,
		VariantID:    variantID,
	}, nil
}
