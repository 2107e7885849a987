package itinerary

import (
	"fmt"
	"sort"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	"github.com/kimhsiao/tourly/backend/internal/models"
)

func TestParseClock(t *testing.T) {
	tests := []struct {
		in   string
		want int
		ok   bool
	}{
		{"00:00", 0, true},
		{"09:30", 570, true},
		{"23:59", 1439, true},
		{"24:00", 0, false},
		{"9:30", 0, false},
		{"09:60", 0, false},
		{"0930", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseClock(tt.in)
		assert.Equal(t, tt.ok, ok, "input %q", tt.in)
		if tt.ok {
			assert.Equal(t, tt.want, got, "input %q", tt.in)
		}
	}
}

func TestWindowOverlap_HalfOpen(t *testing.T) {
	nine := window{start: 540, end: 600}

	assert.True(t, nine.overlaps(window{start: 570, end: 585}))
	assert.False(t, nine.overlaps(window{start: 600, end: 630}), "touching windows do not overlap")
	assert.False(t, nine.overlaps(window{start: 480, end: 540}))
	assert.True(t, nine.overlaps(window{start: 480, end: 541}))
}

func TestStripedLocks_SameKeySameStripe(t *testing.T) {
	locks := newStripedLocks(8)
	assert.Same(t, locks.stripe("itinerary-1"), locks.stripe("itinerary-1"))

	unlock := locks.lock("itinerary-1")
	unlock()
	unlock = locks.lock("itinerary-1")
	unlock()
}

// =====================================================
// Property Tests
// =====================================================

// startPool is small so ties occur; "" means untimed.
var startPool = []string{"", "08:00", "09:00", "09:30", "12:00", "18:45"}

var genStarts = gen.SliceOf(gen.IntRange(0, len(startPool)-1))

// genLinks builds links at dense positions with start times picked from
// startPool.
func genLinks(picks []int) []models.ItineraryLink {
	links := make([]models.ItineraryLink, len(picks))
	for i, p := range picks {
		links[i] = models.ItineraryLink{ID: fmt.Sprintf("l%02d", i), SortOrder: i}
		if s := startPool[p]; s != "" {
			links[i].StartTime = &s
		}
	}
	return links
}

func TestAutoSortOrder_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("timed links first, sorted by start time", prop.ForAll(
		func(starts []int) bool {
			ordered := autoSortOrder(genLinks(starts))
			seenUntimed := false
			var prev string
			for _, l := range ordered {
				if !l.HasStart() {
					seenUntimed = true
					continue
				}
				if seenUntimed || *l.StartTime < prev {
					return false
				}
				prev = *l.StartTime
			}
			return true
		},
		genStarts,
	))

	properties.Property("ties and untimed links keep their relative order", prop.ForAll(
		func(starts []int) bool {
			ordered := autoSortOrder(genLinks(starts))
			for i := 1; i < len(ordered); i++ {
				a, b := ordered[i-1], ordered[i]
				sameKey := a.HasStart() == b.HasStart() && (!a.HasStart() || *a.StartTime == *b.StartTime)
				if sameKey && a.ID > b.ID {
					return false
				}
			}
			return true
		},
		genStarts,
	))

	properties.Property("result is a permutation with dense positions", prop.ForAll(
		func(starts []int) bool {
			links := genLinks(starts)
			ordered := autoSortOrder(links)
			if len(ordered) != len(links) {
				return false
			}
			for _, p := range positionChanges(ordered) {
				ordered[indexOf(ordered, p.LinkID)].SortOrder = p.SortOrder
			}
			ids := make([]string, len(ordered))
			for i, l := range ordered {
				if l.SortOrder != i {
					return false
				}
				ids[i] = l.ID
			}
			sort.Strings(ids)
			for i, id := range ids {
				if id != links[i].ID {
					return false
				}
			}
			return true
		},
		genStarts,
	))

	properties.TestingRun(t)
}

func TestDensify_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("removing any link leaves [0,count) in original order", prop.ForAll(
		func(n, remove int) bool {
			links := genLinks(make([]int, n))
			remove %= n
			remaining := append(append([]models.ItineraryLink{}, links[:remove]...), links[remove+1:]...)

			changes := positionChanges(remaining)
			// Only links after the removed one move, each by exactly one.
			if len(changes) != n-remove-1 {
				return false
			}
			for _, p := range changes {
				if indexOf(links, p.LinkID) != p.SortOrder+1 {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 30),
		gen.IntRange(0, 1000),
	))

	properties.TestingRun(t)
}

func indexOf(links []models.ItineraryLink, id string) int {
	for i, l := range links {
		if l.ID == id {
			return i
		}
	}
	return -1
}
