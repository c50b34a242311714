// Package content defines the records and calls the learner session makes
// against the content store.
package content

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("content not found")

// Kind distinguishes the two independently gated record types.
type Kind string

const (
	KindSection Kind = "section"
	KindVideo   Kind = "video"
)

type Section struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Position    int       `json:"position"`
	HasPassword bool      `json:"hasPassword"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type Item struct {
	ID          string    `json:"id"`
	SectionID   string    `json:"sectionId"`
	Title       string    `json:"title"`
	MediaURL    string    `json:"mediaUrl,omitempty"`
	Position    int       `json:"position"`
	HasPassword bool      `json:"hasPassword"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Validation is the content store's answer to a password attempt. HasPassword
// false means the item is no longer protected, whatever was submitted.
type Validation struct {
	OK          bool   `json:"ok"`
	HasPassword bool   `json:"hasPassword"`
	Error       string `json:"error,omitempty"`
}

type Store interface {
	FetchSections(ctx context.Context) ([]Section, error)
	FetchAssignedContentItems(ctx context.Context) ([]Item, error)
	ValidateSectionPassword(ctx context.Context, sectionID, candidate string) (Validation, error)
	ValidateVideoPassword(ctx context.Context, itemID, candidate string) (Validation, error)
}
