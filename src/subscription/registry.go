package subscription

import (
	"sync"

	"tick-relay/src/logger"
)

// -----------------------------------------------------------------------------
// Registry tracks which sessions are interested in which instrument channels.
//
// The registry map itself is only locked for lookup, create and delete; all
// membership mutation happens under per-channel and per-session mutexes so
// that unrelated instruments never serialize each other.
//
// A channel's subscriber count is the number of distinct sessions holding at
// least one handle on it. A channel with no subscribers does not exist.
// -----------------------------------------------------------------------------

type channel struct {
	mu       sync.Mutex
	sessions map[string]int // session id -> handle count
	dead     bool           // set under registry write lock on removal
}

type session struct {
	mu      sync.Mutex
	handles map[string]string // handle -> channel key
	dead    bool
}

type Registry struct {
	mu       sync.RWMutex
	channels map[string]*channel
	sessions map[string]*session
	Logger   *logger.Logger
}

// -----------------------------------------------------------------------------

func NewRegistry(log *logger.Logger) *Registry {
	return &Registry{
		channels: make(map[string]*channel),
		sessions: make(map[string]*session),
		Logger:   log,
	}
}

// -----------------------------------------------------------------------------
// Subscribe registers interest. Idempotent per handle: re-subscribing with
// the same handle replaces its channel mapping. Returns the new channel's
// subscriber count after the change (for 0->1 edge detection) and the old
// channel's key if the re-mapping emptied it ("" otherwise).
// -----------------------------------------------------------------------------

func (r *Registry) Subscribe(sessionID, handle, channelKey string) (count int, vacated string) {
	var old string
	var existed bool
	for {
		s := r.getOrCreateSession(sessionID)

		s.mu.Lock()
		if s.dead {
			// Disconnect tore this session down after we looked it up;
			// retry against a fresh one so the handle is not orphaned.
			s.mu.Unlock()
			continue
		}
		old, existed = s.handles[handle]
		s.handles[handle] = channelKey
		s.mu.Unlock()
		break
	}

	if existed && old == channelKey {
		// Same handle, same channel: count unchanged
		return r.subscriberCount(channelKey), ""
	}

	if existed {
		if remaining, removed := r.decRef(sessionID, old, 1); removed && remaining == 0 {
			vacated = old
		}
	}

	count = r.incRef(sessionID, channelKey)
	return count, vacated
}

// -----------------------------------------------------------------------------
// Unsubscribe removes one interest registration. ok is false for unknown
// handles. remaining is the post-removal subscriber count; remaining == 0
// means this call removed the channel (the caller owns the feed-close edge).
// -----------------------------------------------------------------------------

func (r *Registry) Unsubscribe(sessionID, handle string) (channelKey string, remaining int, ok bool) {
	r.mu.RLock()
	s := r.sessions[sessionID]
	r.mu.RUnlock()
	if s == nil {
		return "", 0, false
	}

	s.mu.Lock()
	channelKey, ok = s.handles[handle]
	if ok {
		delete(s.handles, handle)
	}
	s.mu.Unlock()

	if !ok {
		return "", 0, false
	}

	remaining, removed := r.decRef(sessionID, channelKey, 1)
	if remaining == 0 && !removed {
		// Another path already tore the channel down; don't re-report the edge.
		return channelKey, 1, true
	}
	return channelKey, remaining, true
}

// -----------------------------------------------------------------------------
// Disconnect bulk-removes every subscription the session owns and returns
// exactly the set of channels whose subscriber count reached zero as a
// result, each at most once.
// -----------------------------------------------------------------------------

func (r *Registry) Disconnect(sessionID string) []string {
	r.mu.Lock()
	s := r.sessions[sessionID]
	if s != nil {
		delete(r.sessions, sessionID)
	}
	r.mu.Unlock()

	if s == nil {
		return nil
	}

	s.mu.Lock()
	s.dead = true
	referenced := make(map[string]struct{})
	for _, key := range s.handles {
		referenced[key] = struct{}{}
	}
	s.handles = make(map[string]string)
	s.mu.Unlock()

	var emptied []string
	for key := range referenced {
		if remaining, removed := r.releaseSession(sessionID, key); removed && remaining == 0 {
			emptied = append(emptied, key)
		}
	}
	return emptied
}

// -----------------------------------------------------------------------------
// SubscriberSessions returns the sessions currently subscribed to a channel.
// -----------------------------------------------------------------------------

func (r *Registry) SubscriberSessions(channelKey string) []string {
	r.mu.RLock()
	ch := r.channels[channelKey]
	r.mu.RUnlock()
	if ch == nil {
		return nil
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()
	out := make([]string, 0, len(ch.sessions))
	for sid := range ch.sessions {
		out = append(out, sid)
	}
	return out
}

// -----------------------------------------------------------------------------

// ActiveChannels returns every channel key with at least one subscriber.
func (r *Registry) ActiveChannels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.channels))
	for key := range r.channels {
		out = append(out, key)
	}
	return out
}

// -----------------------------------------------------------------------------

// SessionCount returns the number of connected sessions with subscriptions.
func (r *Registry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// -----------------------------------------------------------------------------
// Internals
// -----------------------------------------------------------------------------

func (r *Registry) getOrCreateSession(sessionID string) *session {
	r.mu.RLock()
	s := r.sessions[sessionID]
	r.mu.RUnlock()
	if s != nil {
		return s
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s = r.sessions[sessionID]; s == nil {
		s = &session{handles: make(map[string]string)}
		r.sessions[sessionID] = s
	}
	return s
}

// -----------------------------------------------------------------------------

func (r *Registry) subscriberCount(channelKey string) int {
	r.mu.RLock()
	ch := r.channels[channelKey]
	r.mu.RUnlock()
	if ch == nil {
		return 0
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return len(ch.sessions)
}

// -----------------------------------------------------------------------------

// incRef adds one handle reference and returns the subscriber count after.
// Loops on the dead flag: a channel being torn down concurrently is replaced
// by a fresh one.
func (r *Registry) incRef(sessionID, channelKey string) int {
	for {
		r.mu.RLock()
		ch := r.channels[channelKey]
		r.mu.RUnlock()

		if ch == nil {
			r.mu.Lock()
			if ch = r.channels[channelKey]; ch == nil {
				ch = &channel{sessions: make(map[string]int)}
				r.channels[channelKey] = ch
			}
			r.mu.Unlock()
		}

		ch.mu.Lock()
		if ch.dead {
			ch.mu.Unlock()
			continue
		}
		ch.sessions[sessionID]++
		count := len(ch.sessions)
		ch.mu.Unlock()
		return count
	}
}

// -----------------------------------------------------------------------------

// decRef drops n handle references for one session. removed reports whether
// this call actually dropped a reference; when remaining is 0 it means this
// call also performed the registry removal and owns the feed-close edge.
func (r *Registry) decRef(sessionID, channelKey string, n int) (remaining int, removed bool) {
	r.mu.RLock()
	ch := r.channels[channelKey]
	r.mu.RUnlock()
	if ch == nil {
		return 0, false
	}

	ch.mu.Lock()
	refs, present := ch.sessions[sessionID]
	if !present {
		remaining = len(ch.sessions)
		ch.mu.Unlock()
		return remaining, false
	}
	if refs > n {
		ch.sessions[sessionID] = refs - n
	} else {
		delete(ch.sessions, sessionID)
	}
	remaining = len(ch.sessions)
	ch.mu.Unlock()

	if remaining > 0 {
		return remaining, true
	}
	return r.removeIfEmpty(channelKey, ch)
}

// -----------------------------------------------------------------------------

// releaseSession drops every reference a session holds on a channel.
func (r *Registry) releaseSession(sessionID, channelKey string) (remaining int, removed bool) {
	r.mu.RLock()
	ch := r.channels[channelKey]
	r.mu.RUnlock()
	if ch == nil {
		return 0, false
	}

	ch.mu.Lock()
	if _, present := ch.sessions[sessionID]; !present {
		remaining = len(ch.sessions)
		ch.mu.Unlock()
		return remaining, false
	}
	delete(ch.sessions, sessionID)
	remaining = len(ch.sessions)
	ch.mu.Unlock()

	if remaining > 0 {
		return remaining, true
	}
	return r.removeIfEmpty(channelKey, ch)
}

// -----------------------------------------------------------------------------

// removeIfEmpty deletes an emptied channel from the registry. Re-checks
// emptiness under both locks: a racing subscribe may have refilled it.
func (r *Registry) removeIfEmpty(channelKey string, ch *channel) (remaining int, removed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.channels[channelKey] != ch {
		// Already removed (and possibly recreated) by another path.
		return 0, false
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()
	if len(ch.sessions) > 0 {
		return len(ch.sessions), false
	}

	ch.dead = true
	delete(r.channels, channelKey)
	return 0, true
}
