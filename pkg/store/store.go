// Package store defines the snapshot store: a bounded history of opaque JSON
// documents of which only the latest is served.
// Implementations must provide identical semantics across backends.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"time"
)

// DefaultRetain is the number of snapshots kept after each append.
const DefaultRetain = 5

// EmptyDocument is returned by Latest when there is nothing to serve.
var EmptyDocument = json.RawMessage(`{}`)

// Snapshot is one persisted document.
// Data is stored and returned without interpretation.
type Snapshot struct {
	ID          int64
	Data        json.RawMessage
	LastUpdated time.Time
}

// Store reads and writes snapshots.
type Store interface {
	// Latest returns the data of the most recent snapshot, or EmptyDocument.
	Latest(ctx context.Context) (json.RawMessage, error)
	// Append inserts data and prunes everything but the most recent snapshots.
	Append(ctx context.Context, data json.RawMessage) error
	// Clear deletes every snapshot.
	Clear(ctx context.Context) error
}

// Pinger is implemented by stores that can report backend liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// IsEmptyDocument reports whether a stored document should be served as {}.
// A missing row and a stored JSON null both count as empty.
func IsEmptyDocument(data json.RawMessage) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
