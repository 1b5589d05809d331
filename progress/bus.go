package progress

import (
	"math"
	"sync"
	"time"

	"github.com/flowclip/flowclip-api/metrics"
	"github.com/flowclip/flowclip-api/store"
)

// coalesceInterval is the floor between non-forced updates on one lane.
const coalesceInterval = 5 * time.Second

// Frame is one progress message as delivered to WebSocket subscribers.
type Frame struct {
	Type    string                 `json:"type"`
	VideoID int64                  `json:"video_id"`
	UserID  int64                  `json:"user_id"`
	Status  store.ProcessingStatus `json:"status"`
}

type lane struct {
	mu             sync.Mutex
	lastSent       time.Time
	lastIntPercent int
	pending        *Frame
	flushScheduled bool
}

// Bus fans per-(user,video) progress deltas out to subscribed clients.
// Delivery is best-effort: the state manager enqueues and returns, slow
// subscribers lose frames rather than backing up the pipeline.
type Bus struct {
	mu    sync.Mutex
	lanes map[[2]int64]*lane
	subs  map[int64]map[chan Frame]struct{} // keyed by user id

	now func() time.Time
}

func NewBus() *Bus {
	return &Bus{
		lanes: map[[2]int64]*lane{},
		subs:  map[int64]map[chan Frame]struct{}{},
		now:   time.Now,
	}
}

// Subscribe opens a delivery channel for one user's videos. The returned
// cancel func drops the subscriber and discards anything still queued for it.
func (b *Bus) Subscribe(userID int64) (<-chan Frame, func()) {
	ch := make(chan Frame, 16)
	b.mu.Lock()
	if b.subs[userID] == nil {
		b.subs[userID] = map[chan Frame]struct{}{}
	}
	b.subs[userID][ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if set, ok := b.subs[userID]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(b.subs, userID)
			}
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// NotifyProgress implements state.Notifier. Updates go out immediately on a
// status change, on completion, or when progress crosses an integer percent
// boundary; anything else is coalesced to one update per lane per 5 s with
// only the latest pending frame kept.
func (b *Bus) NotifyProgress(userID, videoID int64, snapshot store.ProcessingStatus, statusChanged bool) {
	frame := Frame{Type: "progress_update", VideoID: videoID, UserID: userID, Status: snapshot}

	l := b.lane(userID, videoID)
	l.mu.Lock()
	defer l.mu.Unlock()

	intPercent := int(math.Floor(snapshot.OverallProgress))
	terminal := snapshot.OverallStatus.IsTerminal()
	immediate := statusChanged || terminal || intPercent != l.lastIntPercent

	now := b.now()
	if immediate || now.Sub(l.lastSent) >= coalesceInterval {
		l.lastSent = now
		l.lastIntPercent = intPercent
		l.pending = nil
		b.deliver(userID, frame)
		return
	}

	// replace in place: only the latest pending update survives
	if l.pending != nil {
		metrics.Metrics.ProgressFramesDropped.Inc()
	}
	l.pending = &frame
	if !l.flushScheduled {
		l.flushScheduled = true
		delay := coalesceInterval - now.Sub(l.lastSent)
		time.AfterFunc(delay, func() { b.flush(userID, videoID) })
	}
}

func (b *Bus) flush(userID, videoID int64) {
	l := b.lane(userID, videoID)
	l.mu.Lock()
	frame := l.pending
	l.pending = nil
	l.flushScheduled = false
	if frame != nil {
		l.lastSent = b.now()
		l.lastIntPercent = int(math.Floor(frame.Status.OverallProgress))
	}
	l.mu.Unlock()

	if frame != nil {
		b.deliver(userID, *frame)
	}
}

func (b *Bus) lane(userID, videoID int64) *lane {
	key := [2]int64{userID, videoID}
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.lanes[key]
	if !ok {
		l = &lane{lastIntPercent: -1}
		b.lanes[key] = l
	}
	return l
}

func (b *Bus) deliver(userID int64, frame Frame) {
	b.mu.Lock()
	subs := make([]chan Frame, 0, len(b.subs[userID]))
	for ch := range b.subs[userID] {
		subs = append(subs, ch)
	}
	b.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- frame:
			metrics.Metrics.ProgressFramesSent.Inc()
		default:
			metrics.Metrics.ProgressFramesDropped.Inc()
		}
	}
}
