// Package sync replays queued local mutations against the remote service.
package sync

import (
	"context"

	"github.com/kimhsiao/tourly/backend/internal/models"
)

// Remote is the set of remote write operations the dispatcher needs.
// Implementations must be idempotent per stable id, since an entry is
// replayed until a success is recorded.
type Remote interface {
	CreateReview(ctx context.Context, r models.Review) error
	UpsertItinerary(ctx context.Context, it models.Itinerary) error
	SoftDeleteItinerary(ctx context.Context, id string) error
	UpsertLink(ctx context.Context, l models.ItineraryLink) error
	SoftDeleteLink(ctx context.Context, linkID string) error
	UpdateLinkOrder(ctx context.Context, itineraryID string, autoSort bool, positions []models.LinkPosition) error
}

// AttractionSource reads the remote attraction catalog.
type AttractionSource interface {
	FetchAttractions(ctx context.Context) ([]models.Attraction, error)
}
