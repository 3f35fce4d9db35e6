package interfaces

import (
	"context"
)

// ImportantKeyword is the custom IMAP keyword backing the flagged marker.
const ImportantKeyword = "$Important"

// RemoteMailboxStatus is the state of a selected remote folder.
type RemoteMailboxStatus struct {
	UIDValidity uint32
	Messages    uint32
	Unseen      uint32
}

// RawMessage is a message as fetched from the remote server, before parsing.
type RawMessage struct {
	UID   uint32
	Flags []string
	Body  []byte
}

// MailConnection is a single authenticated session against the remote
// mailbox. Implementations are not safe for concurrent use; callers lease a
// connection, use it, and return it.
type MailConnection interface {
	Select(folder string) (*RemoteMailboxStatus, error)
	UidSearchAll() ([]uint32, error)
	UidFetch(uids []uint32) ([]*RawMessage, error)
	AddFlags(uid uint32, flags ...string) error
	RemoveFlags(uid uint32, flags ...string) error
	Expunge() error
	Idle(stop <-chan struct{}) error
	Noop() error
	Logout() error
}

// MailDialer establishes new authenticated sessions.
type MailDialer interface {
	Dial(ctx context.Context) (MailConnection, error)
}

// ConnectionPool hands out leased sessions with bounded growth.
type ConnectionPool interface {
	Lease(ctx context.Context) (MailConnection, error)
	Release(conn MailConnection)
	Discard(conn MailConnection)
	Stats() PoolStats
	Close()
}

// PoolStats is a snapshot of pool occupancy.
type PoolStats struct {
	Idle  int `json:"idle"`
	Total int `json:"total"`
	Max   int `json:"max"`
}
