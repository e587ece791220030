package asset

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/scriptbridge/errors"
)

// MemorySource serves scripts from memory. Put replaces a source and
// reports the change on Changes.
type MemorySource struct {
	files   map[string][]byte
	changes chan string
	mu      sync.RWMutex
}

// NewMemorySource creates an empty source. buffer sizes the change channel;
// changes that do not fit are dropped.
func NewMemorySource(buffer int) *MemorySource {
	return &MemorySource{
		files:   make(map[string][]byte),
		changes: make(chan string, buffer),
	}
}

// Put stores a copy of src under id.
func (m *MemorySource) Put(id string, src []byte) {
	m.mu.Lock()
	m.files[id] = append([]byte(nil), src...)
	m.mu.Unlock()

	select {
	case m.changes <- id:
	default:
		Logger().Warn("change notification dropped", zap.String("script", id))
	}
}

// Delete removes id. It does not emit a change.
func (m *MemorySource) Delete(id string) {
	m.mu.Lock()
	delete(m.files, id)
	m.mu.Unlock()
}

func (m *MemorySource) Load(_ context.Context, id string) (Asset, error) {
	m.mu.RLock()
	src, ok := m.files[id]
	m.mu.RUnlock()
	if !ok {
		return Asset{}, errors.NotFound(errors.PhaseLoad, "script", id)
	}
	return Asset{
		ID:       id,
		Language: DetectLanguage(id),
		Bytes:    append([]byte(nil), src...),
	}, nil
}

func (m *MemorySource) Changes() <-chan string { return m.changes }
