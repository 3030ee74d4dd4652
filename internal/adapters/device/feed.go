package device

import (
	"sync"
	"time"

	"github.com/samirrijal/fieldtrack/internal/core/domain"
	"github.com/samirrijal/fieldtrack/internal/core/ports"
)

type waiter struct {
	success func(Fix)
	failure func(domain.ErrorCode, string)
	timer   *time.Timer
}

// Feed is a push-fed device for one employee. Field apps push fixes (or
// errors) and position requests are answered from the latest fix when it is
// fresh enough, otherwise by the next push.
type Feed struct {
	mu      sync.Mutex
	last    *Fix
	lastErr *domain.LocationError
	waiters map[*waiter]struct{}
	now     func() time.Time
}

func NewFeed() *Feed {
	return &Feed{waiters: make(map[*waiter]struct{}), now: time.Now}
}

// Push records a fix and answers every pending request with it.
func (f *Feed) Push(fix Fix) {
	if fix.Timestamp.IsZero() {
		fix.Timestamp = f.now()
	}
	f.mu.Lock()
	f.last = &fix
	f.lastErr = nil
	pending := f.drain()
	f.mu.Unlock()

	for _, w := range pending {
		w.success(fix)
	}
}

// Fail records a device failure, such as revoked permission, and fails every
// pending request with it.
func (f *Feed) Fail(code domain.ErrorCode, message string) {
	f.mu.Lock()
	f.lastErr = domain.NewLocationError(code, message)
	pending := f.drain()
	f.mu.Unlock()

	for _, w := range pending {
		w.failure(code, message)
	}
}

// PushDeviceFix applies a fix or failure received from the wire.
func (f *Feed) PushDeviceFix(fix domain.DeviceFix) {
	if fix.Failed() {
		f.Fail(fix.ErrorCode, fix.ErrorMessage)
		return
	}
	f.Push(Fix{Latitude: fix.Latitude, Longitude: fix.Longitude, Accuracy: fix.Accuracy, Timestamp: fix.CapturedAt})
}

// Pending reports the number of outstanding requests.
func (f *Feed) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.waiters)
}

// drain must be called with f.mu held.
func (f *Feed) drain() []*waiter {
	out := make([]*waiter, 0, len(f.waiters))
	for w := range f.waiters {
		if w.timer != nil {
			w.timer.Stop()
		}
		out = append(out, w)
	}
	clear(f.waiters)
	return out
}

func (f *Feed) GetCurrentPosition(success func(Fix), failure func(domain.ErrorCode, string), opts domain.PositionOptions) {
	f.mu.Lock()
	if f.last != nil && opts.MaximumAge > 0 && f.now().Sub(f.last.Timestamp) <= opts.MaximumAge {
		fix := *f.last
		f.mu.Unlock()
		success(fix)
		return
	}
	if f.lastErr != nil && f.lastErr.Code == domain.CodePermissionDenied {
		le := *f.lastErr
		f.mu.Unlock()
		failure(le.Code, le.Message)
		return
	}

	w := &waiter{success: success, failure: failure}
	f.waiters[w] = struct{}{}
	if opts.Timeout > 0 {
		w.timer = time.AfterFunc(opts.Timeout, func() {
			f.mu.Lock()
			_, ok := f.waiters[w]
			delete(f.waiters, w)
			f.mu.Unlock()
			if ok {
				failure(domain.CodeTimeout, "no fix pushed in time")
			}
		})
	}
	f.mu.Unlock()
}

// Hub holds one Feed per employee.
type Hub struct {
	mu    sync.RWMutex
	feeds map[string]*Feed
}

func NewHub() *Hub {
	return &Hub{feeds: make(map[string]*Feed)}
}

// Feed returns the employee's feed, creating it on first use.
func (h *Hub) Feed(employeeID string) *Feed {
	h.mu.RLock()
	f, ok := h.feeds[employeeID]
	h.mu.RUnlock()
	if ok {
		return f
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if f, ok = h.feeds[employeeID]; !ok {
		f = NewFeed()
		h.feeds[employeeID] = f
	}
	return f
}

// Apply routes a wire fix to its employee's feed.
func (h *Hub) Apply(fix domain.DeviceFix) {
	h.Feed(fix.EmployeeID).PushDeviceFix(fix)
}

// Provider returns a PositionProvider reading from the employee's feed.
func (h *Hub) Provider(employeeID string) ports.PositionProvider {
	return NewProvider(h.Feed(employeeID))
}
