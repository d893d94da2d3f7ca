package persist

// recentCap bounds the recent message-ID window used for idempotent appends.
const recentCap = 5000

// RecentIDs is an insertion-ordered bounded set of message IDs. When the
// capacity is exceeded, the oldest ID is evicted first. It is accessed only
// by its owning device actor (and by hydration before the actor starts), so
// it carries no lock.
type RecentIDs struct {
	set   map[string]struct{}
	order []string
	cap   int
}

// NewRecentIDs creates a set with the default capacity.
func NewRecentIDs() *RecentIDs {
	return &RecentIDs{set: make(map[string]struct{}), cap: recentCap}
}

// Contains reports whether the ID is in the window.
func (r *RecentIDs) Contains(id string) bool {
	if id == "" {
		return false
	}
	_, ok := r.set[id]
	return ok
}

// Add inserts an ID, evicting the oldest beyond capacity.
func (r *RecentIDs) Add(id string) {
	if id == "" {
		return
	}
	if _, ok := r.set[id]; ok {
		return
	}
	r.set[id] = struct{}{}
	r.order = append(r.order, id)
	if len(r.order) > r.cap {
		delete(r.set, r.order[0])
		r.order = r.order[1:]
	}
}

// Len returns the number of IDs in the window.
func (r *RecentIDs) Len() int { return len(r.order) }
