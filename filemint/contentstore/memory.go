package contentstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/filemint/filemint/filemint/failures"
)

// Multicodec prefixes for a CIDv1 with a sha2-256 multihash.
var (
	cidRawPrefix  = []byte{0x01, 0x55, 0x12, 0x20}
	cidJSONPrefix = []byte{0x01, 0x80, 0x04, 0x12, 0x20}
)

// Memory is an in-process Store. Identifiers are real base16 CIDv1 strings, so they are
// deterministic for identical payloads.
type Memory struct {
	mu      sync.Mutex
	pins    map[string][]byte
	calls   int
	maxSize int64
	faults  []error
}

var _ Store = (*Memory)(nil)

func NewMemory(maxSize int64) *Memory {
	return &Memory{
		pins:    map[string][]byte{},
		maxSize: maxSize,
	}
}

func (m *Memory) Pin(ctx context.Context, name string, data []byte) (PinnedArtifact, error) {
	if err := ctx.Err(); err != nil {
		return PinnedArtifact{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	if err := m.fault(); err != nil {
		return PinnedArtifact{}, err
	}
	if len(data) == 0 {
		return PinnedArtifact{}, fmt.Errorf("%w: empty file", failures.ErrPayloadRejected)
	}
	if m.maxSize > 0 && int64(len(data)) > m.maxSize {
		return PinnedArtifact{}, fmt.Errorf("%w: file is %d bytes, limit is %d", failures.ErrPayloadRejected, len(data), m.maxSize)
	}

	id := contentID(cidRawPrefix, data)
	m.pins[id] = append([]byte(nil), data...)

	return PinnedArtifact{ContentID: id, Size: int64(len(data)), Kind: KindFile}, nil
}

func (m *Memory) PinJSON(ctx context.Context, name string, document any) (PinnedArtifact, error) {
	if err := ctx.Err(); err != nil {
		return PinnedArtifact{}, err
	}
	data, err := json.Marshal(document)
	if err != nil {
		return PinnedArtifact{}, fmt.Errorf("%w: failed to encode document: %v", failures.ErrPayloadRejected, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	if err := m.fault(); err != nil {
		return PinnedArtifact{}, err
	}

	id := contentID(cidJSONPrefix, data)
	m.pins[id] = data

	return PinnedArtifact{ContentID: id, Size: int64(len(data)), Kind: KindMetadata}, nil
}

// Get returns a copy of a pinned payload.
func (m *Memory) Get(contentID string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.pins[contentID]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}

// Calls is the number of pin requests received, successful or not.
func (m *Memory) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// FailNext makes the next n pin requests fail with err.
func (m *Memory) FailNext(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for range n {
		m.faults = append(m.faults, err)
	}
}

func (m *Memory) fault() error {
	if len(m.faults) == 0 {
		return nil
	}
	err := m.faults[0]
	m.faults = m.faults[1:]
	return err
}

func contentID(prefix, data []byte) string {
	digest := sha256.Sum256(data)
	return "f" + hex.EncodeToString(prefix) + hex.EncodeToString(digest[:])
}
