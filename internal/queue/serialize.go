package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// SnapshotVersion is the current SerializedQueue format version.
const SnapshotVersion = 1

// ErrUnsupportedVersion is returned when decoding a snapshot written by an
// unknown format version.
var ErrUnsupportedVersion = errors.New("unsupported queue snapshot version")

// SerializedQueue is the durable form of a queue, written when a
// transaction is prepared for two-phase commit.
type SerializedQueue struct {
	Version  int              `json:"version" msgpack:"version"`
	Keys     []RefreshKey     `json:"keys" msgpack:"keys"`
	Metadata SnapshotMetadata `json:"metadata" msgpack:"metadata"`
}

// SnapshotMetadata describes where and when a snapshot was taken.
type SnapshotMetadata struct {
	EnqueuedAt     time.Time `json:"enqueued_at" msgpack:"enqueued_at"`
	SourceSession  string    `json:"source_session" msgpack:"source_session"`
	SavepointDepth int       `json:"savepoint_depth" msgpack:"savepoint_depth"`
}

// Snapshot captures the pending set without draining it.
func (q *Queue) Snapshot(now time.Time, session string) SerializedQueue {
	return SerializedQueue{
		Version: SnapshotVersion,
		Keys:    q.Keys(),
		Metadata: SnapshotMetadata{
			EnqueuedAt:     now.UTC(),
			SourceSession:  session,
			SavepointDepth: q.SavepointDepth(),
		},
	}
}

// snapshotWire carries the snapshot fields without the BinaryMarshaler
// methods, which msgpack would otherwise call back into.
type snapshotWire SerializedQueue

// MarshalBinary encodes the snapshot with msgpack.
func (s SerializedQueue) MarshalBinary() ([]byte, error) {
	b, err := msgpack.Marshal(snapshotWire(s))
	if err != nil {
		return nil, fmt.Errorf("encode queue snapshot: %w", err)
	}
	return b, nil
}

// UnmarshalBinary decodes a msgpack snapshot and checks its version.
func (s *SerializedQueue) UnmarshalBinary(data []byte) error {
	var out snapshotWire
	if err := msgpack.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("decode queue snapshot: %w", err)
	}
	if out.Version != SnapshotVersion {
		return fmt.Errorf("decode queue snapshot: %w: %d", ErrUnsupportedVersion, out.Version)
	}
	*s = SerializedQueue(out)
	return nil
}

// JSON renders the snapshot for diagnostics.
func (s SerializedQueue) JSON() ([]byte, error) {
	return json.Marshal(s)
}

// Len returns the number of keys in the snapshot.
func (s SerializedQueue) Len() int { return len(s.Keys) }
