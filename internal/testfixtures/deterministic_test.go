package testfixtures

import (
	"reflect"
	"sync"
	"testing"
	"time"
)

func TestClockDefaultsToReferenceTime(t *testing.T) {
	clock := NewClock(time.Time{})
	if got := clock.Now(); !got.Equal(ReferenceTime()) {
		t.Fatalf("expected ReferenceTime, got %v", got)
	}
	if got := clock.Now(); !got.Equal(ReferenceTime()) {
		t.Fatalf("a plain clock must not move on its own, got %v", got)
	}
}

func TestSteppingClockOrdersReadings(t *testing.T) {
	start := time.Date(2024, time.June, 10, 9, 0, 0, 0, time.UTC)
	clock := NewSteppingClock(start, time.Millisecond)
	now := clock.NowFunc()

	first, second := now(), now()
	if !first.Equal(start) || !second.Equal(start.Add(time.Millisecond)) {
		t.Fatalf("unexpected readings %v, %v", first, second)
	}
	if got := clock.Peek(); !got.Equal(start.Add(2 * time.Millisecond)) {
		t.Fatalf("peek returned %v", got)
	}

	if got := clock.Advance(15 * time.Minute); !got.Equal(start.Add(15*time.Minute + 2*time.Millisecond)) {
		t.Fatalf("advance returned %v", got)
	}
}

func TestNilClockFallsBackToWallTime(t *testing.T) {
	var clock *Clock
	before := time.Now()
	if got := clock.NowFunc()(); got.Before(before) {
		t.Fatalf("expected wall time, got %v", got)
	}
}

func TestIDGeneratorRecordsIssuedIDs(t *testing.T) {
	gen := NewIDGenerator("meeting")
	next := gen.NextFunc()

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			next()
		}()
	}
	wg.Wait()

	want := []string{"meeting-1", "meeting-2", "meeting-3"}
	if got := gen.Issued(); !reflect.DeepEqual(got, want) {
		t.Fatalf("issued %v, want %v", got, want)
	}
}
