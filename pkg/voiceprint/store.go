package voiceprint

import (
	"context"
	"iter"
)

// Store is the durable repository of voiceprints keyed by identity.
//
// Implementations must allow concurrent reads with writes serialized
// per identity: a Put for identity X is invisible to a concurrent
// GetActive for X until it fully completes (all-or-nothing visibility
// of the new version).
type Store interface {
	// Put inserts or supersedes the active voiceprint for
	// vp.Identity. The store assigns the next version number, marks
	// the previous active record superseded, and activates the new
	// record — atomically. The passed record is not retained.
	//
	// Putting over a revoked identity re-activates it: a new
	// enrollment is exactly how a revoked identity comes back.
	Put(ctx context.Context, vp *Voiceprint) error

	// GetActive returns the active voiceprint for an identity.
	// Returns ErrNotFound when the identity was never enrolled or is
	// revoked.
	GetActive(ctx context.Context, identity string) (*Voiceprint, error)

	// History returns all versions for an identity in ascending
	// version order, read-only. Returns ErrNotFound for unknown
	// identities.
	History(ctx context.Context, identity string) ([]*Voiceprint, error)

	// Revoke marks every version of an identity unusable for
	// verification. Idempotent: revoking twice is safe and leaves the
	// identity non-active both times. Returns ErrNotFound for
	// identities that were never enrolled.
	Revoke(ctx context.Context, identity string) error

	// List lazily yields one Summary per known identity, reflecting
	// its latest version. The sequence is finite and restartable.
	List(ctx context.Context) iter.Seq2[Summary, error]

	// Close releases resources held by the store.
	Close() error
}
