package inbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"unibox/internal/aggregator"
	"unibox/internal/logger"
	"unibox/internal/model"
	"unibox/internal/provider"
)

// DefaultSyncInterval is the minimum spacing between automatic cache
// refreshes triggered through MaybeSync.
const DefaultSyncInterval = 5 * time.Minute

// FetchFunc loads one page for the coordinator's active filter.
type FetchFunc func(ctx context.Context, q aggregator.Query) (*model.Page, error)

// MutateFunc issues the remote mutation backing an optimistic update.
type MutateFunc func(ctx context.Context, emailID string, op provider.Op) error

// NotifyFunc surfaces a user-visible failure notice.
type NotifyFunc func(message string)

// SyncFunc triggers a background cache refresh.
type SyncFunc func(ctx context.Context) error

// Coordinator holds one session's view of the unified inbox: the
// current page, derived counters, and selection. Mutations are applied
// locally first and rolled back by exact inverse if the remote call
// fails.
type Coordinator struct {
	fetch  FetchFunc
	mutate MutateFunc
	notify NotifyFunc
	sync   SyncFunc
	log    *logger.Logger

	mu           sync.Mutex
	emails       []*model.Email
	counts       map[string]int
	total        int
	source       model.PageSource
	filter       aggregator.Query
	selected     int
	generation   uint64
	lastSync     time.Time
	syncInterval time.Duration
}

func NewCoordinator(fetch FetchFunc, mutate MutateFunc, notify NotifyFunc, sync SyncFunc, log *logger.Logger) *Coordinator {
	return &Coordinator{
		fetch:        fetch,
		mutate:       mutate,
		notify:       notify,
		sync:         sync,
		log:          log,
		counts:       make(map[string]int),
		selected:     -1,
		syncInterval: DefaultSyncInterval,
	}
}

// SetSyncInterval overrides the auto-sync rate guard window.
func (c *Coordinator) SetSyncInterval(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.syncInterval = d
}

// SetCounts replaces the derived counter map, normally from the cache
// counts endpoint after a full refresh.
func (c *Coordinator) SetCounts(counts map[string]int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts = make(map[string]int, len(counts))
	for k, v := range counts {
		c.counts[k] = v
	}
}

// Counts returns a copy of the derived counter map.
func (c *Coordinator) Counts() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int, len(c.counts))
	for k, v := range c.counts {
		out[k] = v
	}
	return out
}

// Emails returns the currently visible page.
func (c *Coordinator) Emails() []*model.Email {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*model.Email, len(c.emails))
	copy(out, c.emails)
	return out
}

// Total returns the page total as last reported by the fetch source.
func (c *Coordinator) Total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// Select sets the selected item by list index. Out-of-range clears it.
func (c *Coordinator) Select(index int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index < 0 || index >= len(c.emails) {
		c.selected = -1
		return
	}
	c.selected = index
}

// Selected returns the selected email, or nil when nothing is selected.
func (c *Coordinator) Selected() *model.Email {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.selected < 0 || c.selected >= len(c.emails) {
		return nil
	}
	return c.emails[c.selected]
}

// SelectedIndex returns the selection index, -1 for none.
func (c *Coordinator) SelectedIndex() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected
}

// Refresh fetches the given filter and installs the result, unless a
// newer fetch was initiated meanwhile. Last request wins; stale results
// are discarded rather than cancelled.
func (c *Coordinator) Refresh(ctx context.Context, q aggregator.Query) error {
	c.mu.Lock()
	c.generation++
	gen := c.generation
	c.filter = q
	c.mu.Unlock()

	page, err := c.fetch(ctx, q)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		c.log.Debugf("discarding stale fetch result (generation %d, current %d)", gen, c.generation)
		return nil
	}
	// Copy: removeAt/insertAt edit in place, and the fetch layer keeps
	// its own reference to the page slice.
	c.emails = append([]*model.Email(nil), page.Emails...)
	c.total = page.Total
	c.source = page.Source
	if c.selected >= len(c.emails) {
		c.selected = -1
	}
	return nil
}

// MaybeSync triggers a cache refresh unless one ran inside the rate
// guard window. Returns true when a sync was actually started.
func (c *Coordinator) MaybeSync(ctx context.Context) (bool, error) {
	c.mu.Lock()
	if time.Since(c.lastSync) < c.syncInterval {
		c.mu.Unlock()
		return false, nil
	}
	c.lastSync = time.Now()
	c.mu.Unlock()

	if err := c.sync(ctx); err != nil {
		return true, err
	}
	return true, nil
}

// snapshot captures the revertible fields of an email before a
// mutation is applied.
type snapshot struct {
	isRead    bool
	isStarred bool
	isTrash   bool
	labels    []string
}

func capture(email *model.Email) snapshot {
	labels := make([]string, len(email.Labels))
	copy(labels, email.Labels)
	return snapshot{
		isRead:    email.IsRead,
		isStarred: email.IsStarred,
		isTrash:   email.IsTrash,
		labels:    labels,
	}
}

func restore(email *model.Email, s snapshot) {
	email.IsRead = s.isRead
	email.IsStarred = s.isStarred
	email.IsTrash = s.isTrash
	email.Labels = s.labels
}

// Mutate runs the optimistic mutation protocol for one email: apply
// locally, adjust counters by a fixed delta table, issue the remote
// call, and on failure revert both by the exact inverse.
func (c *Coordinator) Mutate(ctx context.Context, emailID string, op provider.Op) error {
	c.mu.Lock()
	index := c.indexOf(emailID)
	if index < 0 {
		c.mu.Unlock()
		return fmt.Errorf("email %s not in current view", emailID)
	}
	email := c.emails[index]
	before := capture(email)

	deltas := applyLocal(email, op)
	c.applyDeltas(deltas)

	removed := removesFromView(op)
	prevSelected := c.selected
	if removed {
		c.removeAt(index)
	}
	c.mu.Unlock()

	if err := c.mutate(ctx, emailID, op); err != nil {
		c.mu.Lock()
		restore(email, before)
		c.applyDeltas(invert(deltas))
		if removed {
			c.insertAt(index, email)
			c.selected = prevSelected
		}
		c.mu.Unlock()
		c.notify(fmt.Sprintf("Failed to %s message: %v", op, err))
		return err
	}

	if c.filterMembershipChanged(op) {
		c.mu.Lock()
		filter := c.filter
		c.mu.Unlock()
		if err := c.Refresh(ctx, filter); err != nil {
			c.log.Warnf("post-mutation refetch failed: %v", err)
		}
	}
	return nil
}

func (c *Coordinator) indexOf(emailID string) int {
	for i, email := range c.emails {
		if email.ID == emailID {
			return i
		}
	}
	return -1
}

// removeAt drops the item and advances selection deterministically:
// same position clamped to the new length, cleared when empty.
func (c *Coordinator) removeAt(index int) {
	c.emails = append(c.emails[:index], c.emails[index+1:]...)
	if c.total > 0 {
		c.total--
	}
	if len(c.emails) == 0 {
		c.selected = -1
		return
	}
	if c.selected == index {
		if c.selected >= len(c.emails) {
			c.selected = len(c.emails) - 1
		}
	} else if c.selected > index {
		c.selected--
	}
}

func (c *Coordinator) insertAt(index int, email *model.Email) {
	if index > len(c.emails) {
		index = len(c.emails)
	}
	c.emails = append(c.emails[:index], append([]*model.Email{email}, c.emails[index:]...)...)
	c.total++
}

func (c *Coordinator) applyDeltas(deltas map[string]int) {
	for key, delta := range deltas {
		c.counts[key] += delta
	}
}

func invert(deltas map[string]int) map[string]int {
	inv := make(map[string]int, len(deltas))
	for key, delta := range deltas {
		inv[key] = -delta
	}
	return inv
}

// countKeys maps an email's state onto the sidebar counter keys it
// contributes to, besides "all".
func countKeys(email *model.Email) []string {
	keys := []string{}
	if email.HasLabel("INBOX") || email.HasLabel("Inbox") {
		keys = append(keys, "inbox")
	}
	if !email.IsRead {
		keys = append(keys, "unread")
	}
	if email.IsStarred {
		keys = append(keys, "starred")
	}
	if email.HasLabel("IMPORTANT") {
		keys = append(keys, "important")
	}
	if email.HasLabel("CATEGORY_PERSONAL") {
		keys = append(keys, "personal")
	}
	if email.HasLabel("CATEGORY_UPDATES") {
		keys = append(keys, "updates")
	}
	if email.HasLabel("CATEGORY_PROMOTIONS") {
		keys = append(keys, "promotions")
	}
	return keys
}

// applyLocal mutates the email in place and returns the counter deltas
// the change implies. Reapplying an op the email already reflects
// yields empty deltas, which keeps markRead idempotent.
func applyLocal(email *model.Email, op provider.Op) map[string]int {
	deltas := make(map[string]int)
	switch op {
	case provider.OpMarkRead:
		if !email.IsRead {
			email.IsRead = true
			deltas["unread"] = -1
		}
	case provider.OpMarkUnread:
		if email.IsRead {
			email.IsRead = false
			deltas["unread"] = 1
		}
	case provider.OpStar:
		if !email.IsStarred {
			email.IsStarred = true
			deltas["starred"] = 1
		}
	case provider.OpUnstar:
		if email.IsStarred {
			email.IsStarred = false
			deltas["starred"] = -1
		}
	case provider.OpArchive:
		if email.HasLabel("INBOX") || email.HasLabel("Inbox") {
			deltas["inbox"] = -1
		}
		email.Labels = withoutLabel(withoutLabel(email.Labels, "INBOX"), "Inbox")
	case provider.OpTrash:
		for _, key := range countKeys(email) {
			deltas[key] = -1
		}
		deltas["all"] = -1
		email.IsTrash = true
	}
	return deltas
}

func withoutLabel(labels []string, label string) []string {
	out := labels[:0:0]
	for _, l := range labels {
		if l != label {
			out = append(out, l)
		}
	}
	return out
}

// removesFromView reports whether the op takes the item out of the
// visible list immediately, which is when selection advancement applies.
func removesFromView(op provider.Op) bool {
	return op == provider.OpArchive || op == provider.OpTrash
}

// filterMembershipChanged reports whether the confirmed mutation could
// change the item's membership in the active filter, in which case a
// local flip is not enough and the filter is refetched.
func (c *Coordinator) filterMembershipChanged(op provider.Op) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch op {
	case provider.OpStar, provider.OpUnstar:
		return c.filter.IsStarred != nil
	case provider.OpMarkRead, provider.OpMarkUnread:
		return c.filter.IsRead != nil
	}
	return false
}
