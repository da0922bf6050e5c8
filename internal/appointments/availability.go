package appointments

import (
	"context"
	"sort"

	"go.uber.org/zap"
)

// SlotReader reads booked slots from the store.
type SlotReader interface {
	BookedSlots(ctx context.Context, counselorID string) ([]Slot, error)
}

// Availability derives taken and free slots for a counselor. Every call queries the store.
type Availability struct {
	store  SlotReader
	labels []string
	order  map[string]int
	logger *zap.Logger
}

// NewAvailability creates the slot availability index over the configured slot labels.
func NewAvailability(store SlotReader, labels []string, logger *zap.Logger) *Availability {
	if logger == nil {
		logger = zap.NewNop()
	}
	order := make(map[string]int, len(labels))
	for i, l := range labels {
		order[l] = i
	}
	return &Availability{store: store, labels: labels, order: order, logger: logger}
}

// Labels returns the configured slot label set.
func (a *Availability) Labels() []string {
	return a.labels
}

// IsLabel reports whether t is one of the configured slot labels.
func (a *Availability) IsLabel(t string) bool {
	_, ok := a.order[t]
	return ok
}

// BookedSlots maps date to the taken slot labels of that date. Pending and Canceled
// appointments never appear. A store failure is logged and yields an empty map.
func (a *Availability) BookedSlots(ctx context.Context, counselorID string) map[string][]string {
	out := make(map[string][]string)
	slots, err := a.store.BookedSlots(ctx, counselorID)
	if err != nil {
		a.logger.Error("load booked slots failed", zap.Error(err), zap.String("counselor_id", counselorID))
		return out
	}
	seen := make(map[Slot]struct{}, len(slots))
	for _, s := range slots {
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out[s.Date] = append(out[s.Date], s.Time)
	}
	for date := range out {
		times := out[date]
		sort.SliceStable(times, func(i, j int) bool { return a.rank(times[i]) < a.rank(times[j]) })
	}
	return out
}

// FreeSlots returns the labels of date not held by any Scheduled or Completed appointment.
func (a *Availability) FreeSlots(ctx context.Context, counselorID, date string) []string {
	taken := make(map[string]struct{})
	for _, t := range a.BookedSlots(ctx, counselorID)[date] {
		taken[t] = struct{}{}
	}
	free := make([]string, 0, len(a.labels))
	for _, l := range a.labels {
		if _, ok := taken[l]; !ok {
			free = append(free, l)
		}
	}
	return free
}

// rank orders known labels by configuration and unknown ones after them.
func (a *Availability) rank(t string) int {
	if i, ok := a.order[t]; ok {
		return i
	}
	return len(a.order)
}
