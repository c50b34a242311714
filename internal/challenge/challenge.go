// Package challenge runs the password exchange for a gated section or video.
package challenge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sendrec/portal/internal/content"
)

var (
	ErrTransport = errors.New("password check unavailable")
	ErrNoPrompt  = errors.New("no password prompt open")
)

const (
	msgIncorrect   = "incorrect password"
	msgUnavailable = "could not check the password, try again"
)

type Status int

const (
	Idle Status = iota
	Submitted
	Granted
	Denied
	AutoGranted
)

func (s Status) String() string {
	switch s {
	case Submitted:
		return "submitted"
	case Granted:
		return "granted"
	case Denied:
		return "denied"
	case AutoGranted:
		return "auto-granted"
	default:
		return "idle"
	}
}

// Closed reports whether the status ends the prompt.
func (s Status) Closed() bool {
	return s == Granted || s == AutoGranted
}

type Validator interface {
	ValidateSectionPassword(ctx context.Context, sectionID, candidate string) (content.Validation, error)
	ValidateVideoPassword(ctx context.Context, itemID, candidate string) (content.Validation, error)
}

type Unlocker interface {
	UnlockSection(id string)
	UnlockVideo(id string)
	IsSectionUnlocked(id string) bool
	IsVideoUnlocked(id string) bool
}

// Prompt is the modal password dialog for one item.
type Prompt struct {
	Kind   content.Kind
	ItemID string
	Status Status
	Error  string
}

type Challenger struct {
	validator Validator
	store     Unlocker

	mu     sync.Mutex
	prompt *Prompt
}

func New(validator Validator, store Unlocker) *Challenger {
	return &Challenger{validator: validator, store: store}
}

// Current returns a copy of the open prompt.
func (c *Challenger) Current() (Prompt, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.prompt == nil {
		return Prompt{}, false
	}
	return *c.prompt, true
}

// Open shows the prompt for one item, replacing any other open prompt.
func (c *Challenger) Open(kind content.Kind, itemID string) Prompt {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prompt = &Prompt{Kind: kind, ItemID: itemID, Status: Idle}
	return *c.prompt
}

func (c *Challenger) Cancel() {
	c.mu.Lock()
	c.prompt = nil
	c.mu.Unlock()
}

// Probe submits an empty credential to learn whether the item is still
// protected. It returns AutoGranted when it is not, Idle otherwise.
func (c *Challenger) Probe(ctx context.Context, kind content.Kind, itemID string) (Status, error) {
	v, err := c.validate(ctx, kind, itemID, "")
	if err != nil {
		return Idle, err
	}
	if !v.HasPassword {
		c.unlock(kind, itemID)
		slog.Info("challenge: item no longer protected", "kind", string(kind), "id", itemID)
		return AutoGranted, nil
	}
	return Idle, nil
}

// Submit sends candidate for the open prompt. A transport failure leaves the
// prompt open and is returned wrapped in ErrTransport.
func (c *Challenger) Submit(ctx context.Context, candidate string) (Prompt, error) {
	c.mu.Lock()
	p := c.prompt
	if p == nil {
		c.mu.Unlock()
		return Prompt{}, ErrNoPrompt
	}
	p.Status = Submitted
	p.Error = ""
	kind, itemID := p.Kind, p.ItemID
	c.mu.Unlock()

	v, err := c.validate(ctx, kind, itemID, candidate)

	var status Status
	var message string
	switch {
	case err != nil:
		status, message = Denied, msgUnavailable
	case !v.HasPassword:
		status = AutoGranted
	case v.OK:
		status = Granted
	default:
		status, message = Denied, v.Error
		if message == "" {
			message = msgIncorrect
		}
	}

	if status.Closed() {
		c.unlock(kind, itemID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	result := Prompt{Kind: kind, ItemID: itemID, Status: status, Error: message}
	if c.prompt == p {
		if status.Closed() {
			c.prompt = nil
		} else {
			*p = result
		}
	}
	return result, err
}

func (c *Challenger) validate(ctx context.Context, kind content.Kind, itemID, candidate string) (content.Validation, error) {
	var (
		v   content.Validation
		err error
	)
	switch kind {
	case content.KindSection:
		v, err = c.validator.ValidateSectionPassword(ctx, itemID, candidate)
	case content.KindVideo:
		v, err = c.validator.ValidateVideoPassword(ctx, itemID, candidate)
	default:
		return content.Validation{}, fmt.Errorf("unknown content kind %q", kind)
	}
	if err != nil {
		return content.Validation{}, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return v, nil
}

func (c *Challenger) unlock(kind content.Kind, itemID string) {
	if kind == content.KindSection {
		c.store.UnlockSection(itemID)
		return
	}
	c.store.UnlockVideo(itemID)
}

func (c *Challenger) isUnlocked(kind content.Kind, itemID string) bool {
	if kind == content.KindSection {
		return c.store.IsSectionUnlocked(itemID)
	}
	return c.store.IsVideoUnlocked(itemID)
}
