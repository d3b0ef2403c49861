package storage

import (
	"github.com/sboxhq/sbox/pkg/types"
)

// Store defines the interface for durable session registry storage.
// The daemon keeps its authoritative session registry in memory; the
// store mirrors it so a restarted daemon can re-adopt containers that
// are still running.
type Store interface {
	// Sessions
	SaveSession(session *types.Session) error
	GetSession(id string) (*types.Session, error)
	ListSessions() ([]*types.Session, error)
	DeleteSession(id string) error

	// Utility
	Close() error
}
