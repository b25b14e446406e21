package tray

import (
	"sync"
	"time"
)

// RecentSize is how many identifiers the tray menu lists.
const RecentSize = 5

// RecentID is one identifier shown in the menu.
type RecentID struct {
	UID string
	At  time.Time
}

// recentIDs keeps the newest identifiers first. Nothing is persisted.
type recentIDs struct {
	mu    sync.Mutex
	items []RecentID
	max   int
}

func newRecentIDs(max int) *recentIDs {
	return &recentIDs{max: max}
}

func (r *recentIDs) Add(uid string, at time.Time) {
	if uid == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append([]RecentID{{UID: uid, At: at}}, r.items...)
	if len(r.items) > r.max {
		r.items = r.items[:r.max]
	}
}

func (r *recentIDs) List() []RecentID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RecentID(nil), r.items...)
}

// menuLabel formats an entry as it appears in the menu.
func (id RecentID) menuLabel() string {
	return id.At.Format("15:04:05") + "  " + id.UID
}

// toggleLabel is the title of the start/stop item for a monitoring state.
func toggleLabel(monitoring bool) string {
	if monitoring {
		return "Stop Monitoring"
	}
	return "Start Monitoring"
}
