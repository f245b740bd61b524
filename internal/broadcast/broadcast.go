// Package broadcast fans media client events out to registered listeners.
// It replaces a process-wide singleton sender with an injected registry:
// the UI layer registers typed listeners, the session task publishes.
package broadcast

import (
	"sync"

	"github.com/dotsem/CapyShell/internal/domain"
	"go.uber.org/zap"
)

// Broadcaster holds the listener registry. Registration and publishing are
// safe from different goroutines; listeners are invoked synchronously from
// the publishing task, so they must not block.
type Broadcaster struct {
	logger *zap.Logger

	mu               sync.RWMutex
	updateListeners  []domain.UpdateListener
	sourcesListeners []domain.SourcesListener
}

// NewBroadcaster creates an empty listener registry
func NewBroadcaster(logger *zap.Logger) *Broadcaster {
	return &Broadcaster{logger: logger}
}

// OnUpdate registers a listener for snapshot updates
func (b *Broadcaster) OnUpdate(l domain.UpdateListener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.updateListeners = append(b.updateListeners, l)
}

// OnSourcesChanged registers a listener for source-list changes
func (b *Broadcaster) OnSourcesChanged(l domain.SourcesListener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sourcesListeners = append(b.sourcesListeners, l)
}

// PublishUpdate delivers a snapshot to every update listener
func (b *Broadcaster) PublishUpdate(data domain.MprisData) {
	b.mu.RLock()
	listeners := make([]domain.UpdateListener, len(b.updateListeners))
	copy(listeners, b.updateListeners)
	b.mu.RUnlock()

	if len(listeners) == 0 {
		// Expected during startup, before the UI attaches
		b.logger.Debug("Snapshot published with no listeners attached")
	}
	for _, l := range listeners {
		l(data)
	}
}

// PublishSources delivers a source-list change to every sources listener
func (b *Broadcaster) PublishSources(sources []domain.PlayerSource, activeBusName string) {
	b.mu.RLock()
	listeners := make([]domain.SourcesListener, len(b.sourcesListeners))
	copy(listeners, b.sourcesListeners)
	b.mu.RUnlock()

	for _, l := range listeners {
		l(sources, activeBusName)
	}
}
