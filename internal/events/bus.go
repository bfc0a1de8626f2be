// Package events implements the Event Bus (§4.H): a typed, bounded,
// best-effort in-process broadcast. Subscribers that fall behind drop
// events rather than blocking producers; each subscriber tracks its own
// drop count. Grounded on the teacher's WSHub broadcast pattern
// (internal/api/websocket.go) — a mutex-guarded subscriber set, each with
// its own buffered channel and a non-blocking send.
package events

import (
	"sync"
	"sync/atomic"
)

// Kind is one member of the closed event-kind set.
type Kind string

const (
	KindScanProgress      Kind = "scan_progress"
	KindScanComplete      Kind = "scan_complete"
	KindJobUpdate         Kind = "job_update"
	KindMetadataRefreshed Kind = "metadata_refreshed"
	KindTranscodeStarted  Kind = "transcode_started"
	KindTranscodeEnded    Kind = "transcode_ended"
	KindHeartbeat         Kind = "heartbeat"
)

// Event is one typed broadcast message.
type Event struct {
	Kind Kind
	Data interface{}
}

// ScanProgressData is the payload shape for KindScanProgress.
type ScanProgressData struct {
	LibraryID  string `json:"library_id"`
	FilesSeen  int    `json:"files_seen"`
	FilesAdded int    `json:"files_added"`
}

// ScanCompleteData is the payload shape for KindScanComplete.
type ScanCompleteData struct {
	LibraryID string   `json:"library_id"`
	JobID     string   `json:"job_id"`
	Errors    []string `json:"errors,omitempty"`
}

// JobUpdateData is the payload shape for KindJobUpdate.
type JobUpdateData struct {
	JobID    string  `json:"job_id"`
	Status   string  `json:"status"`
	Progress float64 `json:"progress"`
}

// MetadataRefreshedData is the payload shape for KindMetadataRefreshed.
type MetadataRefreshedData struct {
	ItemID string `json:"item_id"`
}

// TranscodeSessionData is the payload shape for KindTranscodeStarted/Ended.
type TranscodeSessionData struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	FileID    string `json:"file_id"`
}

const defaultBufferSize = 64

// Subscriber receives events published after it subscribes. A subscriber
// that does not drain its channel promptly accumulates drops instead of
// stalling the bus.
type Subscriber struct {
	id      uint64
	ch      chan Event
	dropped atomic.Int64
}

// Events returns the channel events arrive on.
func (s *Subscriber) Events() <-chan Event { return s.ch }

// Dropped returns the number of events this subscriber has missed because
// its buffer was full.
func (s *Subscriber) Dropped() int64 { return s.dropped.Load() }

// Bus is a single-producer-multi-consumer-per-channel, many-producer-overall
// broadcast. Publish never blocks on a slow subscriber.
type Bus struct {
	mu         sync.RWMutex
	subs       map[uint64]*Subscriber
	nextID     uint64
	bufferSize int
}

// NewBus creates a bus whose subscriber channels hold bufferSize events
// before dropping. bufferSize <= 0 uses a sane default.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &Bus{subs: make(map[uint64]*Subscriber), bufferSize: bufferSize}
}

// Subscribe registers a new subscriber. Callers must call Unsubscribe when
// done to release the channel.
func (b *Bus) Subscribe() *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := &Subscriber{id: b.nextID, ch: make(chan Event, b.bufferSize)}
	b.subs[sub.id] = sub
	return sub
}

// Unsubscribe removes a subscriber from the bus. Safe to call more than
// once.
func (b *Bus) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub.id]; ok {
		delete(b.subs, sub.id)
		close(sub.ch)
	}
}

// Publish broadcasts an event to every current subscriber. A subscriber
// whose buffer is full has its drop counter incremented instead of
// blocking this call.
func (b *Bus) Publish(kind Kind, data interface{}) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	evt := Event{Kind: kind, Data: data}
	for _, sub := range b.subs {
		select {
		case sub.ch <- evt:
		default:
			sub.dropped.Add(1)
		}
	}
}

// SubscriberCount reports the number of live subscribers, mainly for
// diagnostics and tests.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
