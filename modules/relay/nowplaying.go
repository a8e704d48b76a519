package relay

import (
	"sync"
	"time"

	"github.com/zachfi/icystream/pkg/icy"
)

// NowPlaying holds the metadata currently sent to listeners.
type NowPlaying struct {
	mu        sync.RWMutex
	metadata  *icy.Metadata
	updatedAt time.Time
}

// Set replaces the current metadata and reports whether it changed.
func (n *NowPlaying) Set(m *icy.Metadata) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.metadata.Equal(m) {
		return false
	}
	n.metadata = m
	n.updatedAt = time.Now()
	return true
}

// Get returns the current metadata, nil before the first Set.
func (n *NowPlaying) Get() *icy.Metadata {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.metadata
}

// UpdatedAt returns when the metadata last changed.
func (n *NowPlaying) UpdatedAt() time.Time {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.updatedAt
}
