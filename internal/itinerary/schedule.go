package itinerary

import (
	"sort"
	"time"

	"github.com/kimhsiao/tourly/backend/internal/errors"
	"github.com/kimhsiao/tourly/backend/internal/models"
)

// clockLayout is the stored time-of-day format. Zero padding keeps string
// order equal to chronological order.
const clockLayout = "15:04"

// parseClock parses an HH:MM time of day into minutes after midnight.
func parseClock(s string) (int, bool) {
	if len(s) != len(clockLayout) {
		return 0, false
	}
	t, err := time.Parse(clockLayout, s)
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}

// window is a half-open [start, end) interval in minutes.
type window struct {
	start, end int
}

func (w window) overlaps(o window) bool {
	return w.start < o.end && o.start < w.end
}

// checkWindow validates a link's times. Malformed times are always
// rejected; scheduled itineraries additionally need both ends with
// end after start. It returns the window when both ends are set.
func checkWindow(start, end *string, scheduled bool) (window, bool, error) {
	var w window
	hasStart, hasEnd := start != nil, end != nil

	if hasStart {
		m, ok := parseClock(*start)
		if !ok {
			return w, false, errors.Newf(errors.ErrInvalidTimeWindow, "start time %q is not HH:MM", *start)
		}
		w.start = m
	}
	if hasEnd {
		m, ok := parseClock(*end)
		if !ok {
			return w, false, errors.Newf(errors.ErrInvalidTimeWindow, "end time %q is not HH:MM", *end)
		}
		w.end = m
	}

	if !hasStart || !hasEnd {
		if scheduled && (hasStart || hasEnd) {
			return w, false, errors.New(errors.ErrInvalidTimeWindow, "scheduled links need both a start and an end time")
		}
		return w, false, nil
	}
	if scheduled && w.end <= w.start {
		return w, false, errors.Newf(errors.ErrInvalidTimeWindow, "end time %s must be after start time %s", *end, *start)
	}
	return w, true, nil
}

// checkSchedule validates link against its siblings in a scheduled
// itinerary. Siblings with the same id as link are ignored.
func checkSchedule(link *models.ItineraryLink, siblings []models.ItineraryLink) error {
	w, ok, err := checkWindow(link.StartTime, link.EndTime, true)
	if err != nil || !ok {
		return err
	}
	for i := range siblings {
		s := &siblings[i]
		if s.ID == link.ID {
			continue
		}
		sw, sok, _ := checkWindow(s.StartTime, s.EndTime, false)
		if sok && w.overlaps(sw) {
			return errors.Newf(errors.ErrScheduleOverlap,
				"%s-%s overlaps %s-%s", *link.StartTime, *link.EndTime, *s.StartTime, *s.EndTime)
		}
	}
	return nil
}

// autoSortOrder returns links in auto-sort order: timed links by start time
// (stable), then untimed links in their current order.
func autoSortOrder(links []models.ItineraryLink) []models.ItineraryLink {
	timed := make([]models.ItineraryLink, 0, len(links))
	var untimed []models.ItineraryLink
	for _, l := range links {
		if l.HasStart() {
			timed = append(timed, l)
		} else {
			untimed = append(untimed, l)
		}
	}
	sort.SliceStable(timed, func(i, j int) bool {
		return *timed[i].StartTime < *timed[j].StartTime
	})
	return append(timed, untimed...)
}

// positionChanges assigns sort_order = index over ordered and returns the
// positions that differ from the stored ones.
func positionChanges(ordered []models.ItineraryLink) []models.LinkPosition {
	var changed []models.LinkPosition
	for i := range ordered {
		if ordered[i].SortOrder != i {
			changed = append(changed, models.LinkPosition{LinkID: ordered[i].ID, SortOrder: i})
		}
	}
	return changed
}
