// Package prompt defines the versioned prompt template domain.
//
// A prompt is a named family of immutable, numbered content snapshots.
// Exactly one version per prompt name is active at any time; the active
// version is what the generation pipeline renders with.
package prompt

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/promptdeck/promptdeck/internal/domain"
)

// Version is one immutable snapshot of a prompt's content.
// Only IsActive ever changes after creation.
type Version struct {
	ID            string    `json:"id"`
	PromptName    string    `json:"prompt_name"`
	Version       int       `json:"version"`
	Content       string    `json:"content"`
	ContentHash   string    `json:"content_hash"`
	Author        string    `json:"author,omitempty"`
	ChangeSummary string    `json:"change_summary,omitempty"`
	IsActive      bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
}

// CreateRequest holds the fields needed to create a new prompt version.
// The version number and content hash are assigned by the store.
type CreateRequest struct {
	PromptName    string `json:"prompt_name"`
	Content       string `json:"content"`
	Author        string `json:"author,omitempty"`
	ChangeSummary string `json:"change_summary,omitempty"`
}

// Validate checks that a CreateRequest has all required fields.
func (r *CreateRequest) Validate() error {
	if r.PromptName == "" {
		return fmt.Errorf("prompt_name is required: %w", domain.ErrValidation)
	}
	if r.Content == "" {
		return fmt.Errorf("content is required: %w", domain.ErrValidation)
	}
	return nil
}

// HashContent returns the SHA-256 hex digest used to deduplicate
// identical submissions within a prompt name.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
