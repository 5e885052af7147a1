package client

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zokiio/proximity-voice/internal/speaker"
)

const positionTTL = 5 * time.Second

type trackedSource struct {
	position  speaker.Vec3
	occlusion float64
	// relative sources have no world position and play at the listener.
	relative bool
	seen     time.Time
}

// PositionTracker is the client's view of the game world, fed by listener
// updates and by the positions carried on audio packets.
type PositionTracker struct {
	mu       sync.RWMutex
	listener speaker.Pose
	sources  map[uuid.UUID]trackedSource
	ttl      time.Duration
	now      func() time.Time
}

func NewPositionTracker() *PositionTracker {
	return &PositionTracker{
		sources: make(map[uuid.UUID]trackedSource),
		ttl:     positionTTL,
		now:     time.Now,
	}
}

func (pt *PositionTracker) SetListener(pose speaker.Pose) {
	pt.mu.Lock()
	pt.listener = pose
	pt.mu.Unlock()
}

func (pt *PositionTracker) Listener() speaker.Pose {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	return pt.listener
}

// Update records a source's world position and its occlusion, 0..1.
func (pt *PositionTracker) Update(id uuid.UUID, position speaker.Vec3, occlusion float64) {
	pt.mu.Lock()
	pt.sources[id] = trackedSource{position: position, occlusion: occlusion, seen: pt.now()}
	pt.mu.Unlock()
}

// UpdateRelative marks a source that carries no position. It follows the
// listener so it is heard centered at full volume.
func (pt *PositionTracker) UpdateRelative(id uuid.UUID) {
	pt.mu.Lock()
	pt.sources[id] = trackedSource{relative: true, seen: pt.now()}
	pt.mu.Unlock()
}

func (pt *PositionTracker) Forget(id uuid.UUID) {
	pt.mu.Lock()
	delete(pt.sources, id)
	pt.mu.Unlock()
}

func (pt *PositionTracker) SourcePosition(id uuid.UUID) (speaker.Vec3, bool) {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	src, ok := pt.sources[id]
	if !ok || pt.now().Sub(src.seen) > pt.ttl {
		return speaker.Vec3{}, false
	}
	if src.relative {
		return pt.listener.Position, true
	}
	return src.position, true
}

func (pt *PositionTracker) OccludedPercent(id uuid.UUID, _, _ speaker.Vec3) float64 {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	return pt.sources[id].occlusion
}

// Prune drops sources not heard from within the TTL and returns how many
// were removed.
func (pt *PositionTracker) Prune() int {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	now := pt.now()
	removed := 0
	for id, src := range pt.sources {
		if now.Sub(src.seen) > pt.ttl {
			delete(pt.sources, id)
			removed++
		}
	}
	return removed
}

func (pt *PositionTracker) Len() int {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	return len(pt.sources)
}
