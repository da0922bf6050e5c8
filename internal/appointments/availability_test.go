package appointments

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

var testLabels = []string{"10:00 AM", "11:00 AM", "02:00 PM", "04:00 PM"}

type slotReaderFunc func(ctx context.Context, counselorID string) ([]Slot, error)

func (f slotReaderFunc) BookedSlots(ctx context.Context, counselorID string) ([]Slot, error) {
	return f(ctx, counselorID)
}

func TestBookedSlotsGroupsByDate(t *testing.T) {
	reader := slotReaderFunc(func(_ context.Context, counselorID string) ([]Slot, error) {
		if counselorID != "c-1" {
			t.Fatalf("unexpected counselor %q", counselorID)
		}
		return []Slot{
			{Date: "2026-05-02", Time: "04:00 PM"},
			{Date: "2026-05-01", Time: "11:00 AM"},
			{Date: "2026-05-02", Time: "10:00 AM"},
			{Date: "2026-05-02", Time: "10:00 AM"},
		}, nil
	})
	a := NewAvailability(reader, testLabels, nil)
	got := a.BookedSlots(context.Background(), "c-1")
	want := map[string][]string{
		"2026-05-01": {"11:00 AM"},
		"2026-05-02": {"10:00 AM", "04:00 PM"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("BookedSlots = %#v, want %#v", got, want)
	}
}

func TestBookedSlotsSwallowsStoreErrors(t *testing.T) {
	reader := slotReaderFunc(func(context.Context, string) ([]Slot, error) {
		return nil, errors.New("connection refused")
	})
	got := NewAvailability(reader, testLabels, nil).BookedSlots(context.Background(), "c-1")
	if got == nil || len(got) != 0 {
		t.Fatalf("BookedSlots on failure = %#v, want empty map", got)
	}
}

func TestFreeSlots(t *testing.T) {
	reader := slotReaderFunc(func(context.Context, string) ([]Slot, error) {
		return []Slot{{Date: "2026-05-02", Time: "11:00 AM"}, {Date: "2026-05-03", Time: "10:00 AM"}}, nil
	})
	a := NewAvailability(reader, testLabels, nil)
	got := a.FreeSlots(context.Background(), "c-1", "2026-05-02")
	want := []string{"10:00 AM", "02:00 PM", "04:00 PM"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("FreeSlots = %v, want %v", got, want)
	}
	if !a.IsLabel("02:00 PM") || a.IsLabel("03:00 PM") {
		t.Fatal("IsLabel mismatch")
	}
}
