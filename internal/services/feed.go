package services

import (
	"context"
	"sync"

	"tidytab/internal/core"
)

// TabFeed delivers the latest committed aggregate to per-tab subscribers
// whenever a change is announced. It implements ChangePublisher so it can
// sit next to the AMQP publisher behind the service: the announcement is
// only a hint, the store stays authoritative.
type TabFeed struct {
	store TabStore

	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]feedSubscriber
}

type feedSubscriber struct {
	onChange func(core.Tab)
	onError  func(error)
}

func NewTabFeed(store TabStore) *TabFeed {
	return &TabFeed{
		store: store,
		subs:  make(map[string]map[int]feedSubscriber),
	}
}

// Subscribe registers callbacks for one tab and returns an unsubscribe
// function. Callbacks run synchronously on the announcing goroutine.
func (f *TabFeed) Subscribe(tabID string, onChange func(core.Tab), onError func(error)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.nextID
	f.nextID++

	if f.subs[tabID] == nil {
		f.subs[tabID] = make(map[int]feedSubscriber)
	}
	f.subs[tabID][id] = feedSubscriber{onChange: onChange, onError: onError}

	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs[tabID], id)
		if len(f.subs[tabID]) == 0 {
			delete(f.subs, tabID)
		}
	}
}

// PublishTabChanged re-reads the aggregate and fans it out to the tab's
// subscribers. With no subscribers it is a no-op.
func (f *TabFeed) PublishTabChanged(ctx context.Context, tabID string, version int64, status string) error {
	subscribers := f.subscribersFor(tabID)
	if len(subscribers) == 0 {
		return nil
	}

	tab, err := f.store.Get(ctx, tabID)
	if err != nil {
		for _, sub := range subscribers {
			if sub.onError != nil {
				sub.onError(err)
			}
		}
		return nil
	}

	for _, sub := range subscribers {
		sub.onChange(tab)
	}
	return nil
}

func (f *TabFeed) subscribersFor(tabID string) []feedSubscriber {
	f.mu.Lock()
	defer f.mu.Unlock()

	subscribers := make([]feedSubscriber, 0, len(f.subs[tabID]))
	for _, sub := range f.subs[tabID] {
		subscribers = append(subscribers, sub)
	}
	return subscribers
}

// CombinePublishers fans one announcement out to several publishers,
// skipping nil entries. Individual failures do not stop the others; the
// first error is returned for logging.
func CombinePublishers(publishers ...ChangePublisher) ChangePublisher {
	active := make([]ChangePublisher, 0, len(publishers))
	for _, p := range publishers {
		if p != nil {
			active = append(active, p)
		}
	}
	return multiPublisher(active)
}

type multiPublisher []ChangePublisher

func (m multiPublisher) PublishTabChanged(ctx context.Context, tabID string, version int64, status string) error {
	var firstErr error
	for _, p := range m {
		if err := p.PublishTabChanged(ctx, tabID, version, status); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
