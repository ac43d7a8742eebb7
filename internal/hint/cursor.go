// Package hint computes redemption and insertion hints over the trove
// ledger. Everything here is read-only with respect to ledger state and
// safe to run concurrently under the engine's read lock.
package hint

import "github.com/google/uuid"

// Cursor walks active troves from worst to best nominal collateral ratio.
// uuid.Nil is the end-of-list sentinel in both directions.
type Cursor interface {
	// Last returns the owner with the lowest nominal ratio, uuid.Nil when
	// no troves exist.
	Last() uuid.UUID
	// Prev returns the owner with the next higher nominal ratio, uuid.Nil
	// past the best trove or for unknown owners.
	Prev(owner uuid.UUID) uuid.UUID
}
