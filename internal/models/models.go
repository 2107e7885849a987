// Package models provides data model definitions for Tourly Core.
package models

import (
	"time"

	"github.com/google/uuid"
)

// NewID generates a new random identifier for locally created rows.
func NewID() string {
	return uuid.New().String()
}

// NowMillis returns the current time as Unix milliseconds, the timestamp
// resolution used by every table.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// Attraction is a cached point of interest. It is refreshed from remote reads
// and only mutated locally for the cached rating.
type Attraction struct {
	ID          string  `db:"id" json:"id" validate:"required"`
	Name        string  `db:"name" json:"name" validate:"required"`
	Category    string  `db:"category" json:"category"`
	Location    string  `db:"location" json:"location"`
	Description string  `db:"description" json:"description"`
	Rating      float64 `db:"rating" json:"rating" validate:"gte=0,lte=5"`
	Price       float64 `db:"price" json:"price" validate:"gte=0"`
	UpdatedAt   int64   `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for Attraction.
func (Attraction) TableName() string {
	return "attractions"
}

// Review is a user review of an attraction.
type Review struct {
	ID           string `db:"id" json:"id"`
	AttractionID string `db:"attraction_id" json:"attraction_id"`
	Author       string `db:"author" json:"author"`
	Rating       int    `db:"rating" json:"rating"`
	Comment      string `db:"comment" json:"comment"`
	CreatedAt    int64  `db:"created_at" json:"created_at"`
}

// TableName returns the table name for Review.
func (Review) TableName() string {
	return "reviews"
}

// Itinerary is a user-curated, ordered list of attractions.
type Itinerary struct {
	ID          string `db:"id" json:"id"`
	Name        string `db:"name" json:"name"`
	Description string `db:"description" json:"description"`
	IsPublic    bool   `db:"is_public" json:"is_public"`
	CreatedBy   string `db:"created_by" json:"created_by"`
	AutoSort    bool   `db:"auto_sort" json:"auto_sort"`
	// ScheduleMode enables strict time-window validation on links.
	ScheduleMode bool  `db:"schedule_mode" json:"schedule_mode"`
	CreatedAt    int64 `db:"created_at" json:"created_at"`
	UpdatedAt    int64 `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for Itinerary.
func (Itinerary) TableName() string {
	return "itineraries"
}

// CreatedAtTime returns the CreatedAt as time.Time.
func (i *Itinerary) CreatedAtTime() time.Time {
	return time.UnixMilli(i.CreatedAt)
}

// ItineraryLink associates one attraction with one itinerary. SortOrder is
// the dense zero-based position of the link within its itinerary.
type ItineraryLink struct {
	ID           string  `db:"id" json:"id"`
	ItineraryID  string  `db:"itinerary_id" json:"itinerary_id"`
	AttractionID string  `db:"attraction_id" json:"attraction_id"`
	StartTime    *string `db:"start_time" json:"start_time,omitempty"` // HH:MM
	EndTime      *string `db:"end_time" json:"end_time,omitempty"`     // HH:MM
	Price        float64 `db:"price" json:"price"`
	Notes        string  `db:"notes" json:"notes"`
	SortOrder    int     `db:"sort_order" json:"sort_order"`
	CreatedAt    int64   `db:"created_at" json:"created_at"`
}

// TableName returns the table name for ItineraryLink.
func (ItineraryLink) TableName() string {
	return "itinerary_attractions"
}

// HasStart reports whether the link carries a start time.
func (l *ItineraryLink) HasStart() bool {
	return l.StartTime != nil && *l.StartTime != ""
}

// LinkDetail is a link joined with the attraction fields shown alongside it.
type LinkDetail struct {
	ItineraryLink
	AttractionName     string `db:"attraction_name" json:"attraction_name"`
	AttractionCategory string `db:"attraction_category" json:"attraction_category"`
}

// ItineraryDetails is an itinerary with its links in sort order.
type ItineraryDetails struct {
	Itinerary
	Links []LinkDetail `json:"links"`
}

// LinkPosition is the position of one link, used by reorder payloads.
type LinkPosition struct {
	LinkID    string `json:"link_id"`
	SortOrder int    `json:"sort_order"`
}
