package jobs

import (
	"sync"
	"time"
)

// ProgressUpdate represents a single progress update
type ProgressUpdate struct {
	JobID     string
	State     State
	Message   string
	Current   int
	Total     int
	Timestamp time.Time
}

// ProgressTracker fans progress of one job out to subscribers
type ProgressTracker struct {
	mu        sync.RWMutex
	current   ProgressUpdate
	listeners []chan ProgressUpdate
	closed    bool
}

// NewProgressTracker creates a new progress tracker
func NewProgressTracker(jobID string) *ProgressTracker {
	return &ProgressTracker{
		current: ProgressUpdate{
			JobID:     jobID,
			State:     StateQueued,
			Timestamp: time.Now(),
		},
		listeners: make([]chan ProgressUpdate, 0),
	}
}

// Update updates the current progress
func (pt *ProgressTracker) Update(update ProgressUpdate) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	if pt.closed {
		return
	}

	update.JobID = pt.current.JobID
	update.Timestamp = time.Now()
	pt.current = update

	for _, listener := range pt.listeners {
		select {
		case listener <- update:
		default:
			// Skip if channel is full
		}
	}
}

// UpdateState updates just the state and message
func (pt *ProgressTracker) UpdateState(state State, message string) {
	pt.mu.RLock()
	update := pt.current
	pt.mu.RUnlock()

	update.State = state
	update.Message = message
	pt.Update(update)
}

// UpdateProgress updates the item counts
func (pt *ProgressTracker) UpdateProgress(current, total int, message string) {
	pt.mu.RLock()
	update := pt.current
	pt.mu.RUnlock()

	update.Current = current
	update.Total = total
	update.Message = message
	pt.Update(update)
}

// GetCurrent returns the current progress
func (pt *ProgressTracker) GetCurrent() ProgressUpdate {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	return pt.current
}

// Snapshot returns the counters in the form stored on a Job.
func (pt *ProgressTracker) Snapshot() *Progress {
	cur := pt.GetCurrent()
	if cur.Total == 0 && cur.Message == "" {
		return nil
	}
	return &Progress{Current: cur.Current, Total: cur.Total, Message: cur.Message}
}

// Subscribe creates a new listener channel for progress updates. The channel
// is closed when the job finishes.
func (pt *ProgressTracker) Subscribe() chan ProgressUpdate {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	ch := make(chan ProgressUpdate, 10)

	// Send current state immediately
	ch <- pt.current

	if pt.closed {
		close(ch)
		return ch
	}
	pt.listeners = append(pt.listeners, ch)
	return ch
}

// Unsubscribe removes a listener channel
func (pt *ProgressTracker) Unsubscribe(ch chan ProgressUpdate) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	for i, listener := range pt.listeners {
		if listener == ch {
			pt.listeners = append(pt.listeners[:i], pt.listeners[i+1:]...)
			close(ch)
			break
		}
	}
}

// Close publishes the final state and closes every listener
func (pt *ProgressTracker) Close(state State, message string) {
	pt.UpdateState(state, message)

	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.closed = true
	for _, listener := range pt.listeners {
		close(listener)
	}
	pt.listeners = nil
}
