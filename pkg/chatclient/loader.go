package chatclient

import (
	"context"
	"errors"
	"sync"
)

// ErrLoadInFlight is returned when a load is already running.
var ErrLoadInFlight = errors.New("chatclient: history load already in flight")

// HistoryFetcher fetches page n (1 is the newest) of a chat's history.
type HistoryFetcher interface {
	History(ctx context.Context, chatID string, page, limit int) (HistoryPage, error)
}

// Loader pages older history into a Timeline. It is driven by the view:
// OldestVisible is called whenever the oldest rendered message scrolls into
// view, and only fetches when more history exists, no load is running and
// the last load did not fail.
type Loader struct {
	fetch    HistoryFetcher
	timeline *Timeline
	chatID   string
	limit    int

	mu      sync.Mutex
	page    int
	hasMore bool
	loading bool
	err     error
}

func NewLoader(fetch HistoryFetcher, timeline *Timeline, chatID string, limit int) *Loader {
	return &Loader{fetch: fetch, timeline: timeline, chatID: chatID, limit: limit}
}

// Init loads the newest page, replacing the timeline's history.
func (l *Loader) Init(ctx context.Context) error {
	if !l.begin(true) {
		return ErrLoadInFlight
	}
	resp, err := l.fetch.History(ctx, l.chatID, 1, l.limit)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loading = false
	if err != nil {
		l.err = err
		return err
	}
	l.timeline.Load(resp.Messages)
	l.page = 1
	l.hasMore = resp.Pagination.HasMore
	l.err = nil
	return nil
}

// OldestVisible loads the next older page if one should be loaded. It
// returns how many new messages reached the timeline.
func (l *Loader) OldestVisible(ctx context.Context) (int, error) {
	if !l.begin(false) {
		return 0, nil
	}
	next := l.currentPage() + 1
	resp, err := l.fetch.History(ctx, l.chatID, next, l.limit)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.loading = false
	if err != nil {
		l.err = err
		return 0, err
	}
	l.page = next
	l.hasMore = resp.Pagination.HasMore
	return l.timeline.Prepend(resp.Messages), nil
}

// Retry clears a previous failure and tries the next page again.
func (l *Loader) Retry(ctx context.Context) (int, error) {
	l.mu.Lock()
	l.err = nil
	initialized := l.page > 0
	l.mu.Unlock()
	if !initialized {
		return 0, l.Init(ctx)
	}
	return l.OldestVisible(ctx)
}

// CanLoadMore reports whether OldestVisible would fetch.
func (l *Loader) CanLoadMore() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.canLoadLocked()
}

func (l *Loader) HasMore() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.hasMore
}

// Err is the error of the last load, if it failed.
func (l *Loader) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

func (l *Loader) canLoadLocked() bool {
	return l.page > 0 && l.hasMore && !l.loading && l.err == nil
}

func (l *Loader) begin(initial bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if initial {
		if l.loading {
			return false
		}
	} else if !l.canLoadLocked() {
		return false
	}
	l.loading = true
	return true
}

func (l *Loader) currentPage() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.page
}
