package challenge

import (
	"context"

	"github.com/sendrec/portal/internal/content"
)

type Decision int

const (
	// Open means the rendering layer may show the item now.
	Open Decision = iota
	// NeedsPassword means a prompt has been opened for the item.
	NeedsPassword
)

// Access decides whether an item can be shown. Items without a password
// never reach the challenge protocol.
func (c *Challenger) Access(ctx context.Context, kind content.Kind, itemID string, hasPassword bool) (Decision, error) {
	if !hasPassword || c.isUnlocked(kind, itemID) {
		return Open, nil
	}

	status, err := c.Probe(ctx, kind, itemID)
	if err != nil {
		// Fall back to the prompt; Submit will surface the failure.
		c.Open(kind, itemID)
		return NeedsPassword, err
	}
	if status == AutoGranted {
		return Open, nil
	}
	c.Open(kind, itemID)
	return NeedsPassword, nil
}
