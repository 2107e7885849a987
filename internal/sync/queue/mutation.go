package queue

import (
	"encoding/json"
	"fmt"

	"github.com/kimhsiao/tourly/backend/internal/models"
)

// Kind is the type discriminator stored with each queue entry.
type Kind string

const (
	KindReview           Kind = "review"
	KindItineraryCreate  Kind = "itinerary_create"
	KindItineraryUpdate  Kind = "itinerary_update"
	KindItineraryDelete  Kind = "itinerary_delete"
	KindAttractionLink   Kind = "attraction_link"
	KindAttractionUnlink Kind = "attraction_unlink"
	KindItineraryReorder Kind = "itinerary_reorder"
)

// Mutation is one outbound change. The concrete types below are the only
// implementations.
type Mutation interface {
	Kind() Kind
	isMutation()
}

// ReviewCreated carries a newly written review.
type ReviewCreated struct {
	models.Review
}

// ItineraryCreated carries a newly created itinerary.
type ItineraryCreated struct {
	models.Itinerary
}

// ItineraryUpdated carries the full itinerary row after an edit, including
// visibility and auto-sort changes.
type ItineraryUpdated struct {
	models.Itinerary
}

// ItineraryDeleted identifies a deleted itinerary.
type ItineraryDeleted struct {
	ID string `json:"id"`
}

// LinkUpserted carries a link after it was added or edited.
type LinkUpserted struct {
	models.ItineraryLink
}

// LinkRemoved identifies a deleted link.
type LinkRemoved struct {
	ID           string `json:"id"`
	ItineraryID  string `json:"itinerary_id"`
	AttractionID string `json:"attraction_id"`
}

// ItineraryReordered carries the positions that changed in one reorder or
// recompute, plus the resulting auto-sort flag.
type ItineraryReordered struct {
	ItineraryID string                `json:"itinerary_id"`
	AutoSort    bool                  `json:"auto_sort"`
	Positions   []models.LinkPosition `json:"positions"`
}

// Unknown preserves an entry written by a newer build.
type Unknown struct {
	Type string
	Raw  json.RawMessage
}

func (ReviewCreated) Kind() Kind      { return KindReview }
func (ItineraryCreated) Kind() Kind   { return KindItineraryCreate }
func (ItineraryUpdated) Kind() Kind   { return KindItineraryUpdate }
func (ItineraryDeleted) Kind() Kind   { return KindItineraryDelete }
func (LinkUpserted) Kind() Kind       { return KindAttractionLink }
func (LinkRemoved) Kind() Kind        { return KindAttractionUnlink }
func (ItineraryReordered) Kind() Kind { return KindItineraryReorder }
func (u Unknown) Kind() Kind          { return Kind(u.Type) }

func (ReviewCreated) isMutation()      {}
func (ItineraryCreated) isMutation()   {}
func (ItineraryUpdated) isMutation()   {}
func (ItineraryDeleted) isMutation()   {}
func (LinkUpserted) isMutation()       {}
func (LinkRemoved) isMutation()        {}
func (ItineraryReordered) isMutation() {}
func (Unknown) isMutation()            {}

// Encode returns the stored type and payload for m.
func Encode(m Mutation) (string, json.RawMessage, error) {
	if u, ok := m.(Unknown); ok {
		return u.Type, u.Raw, nil
	}
	payload, err := json.Marshal(m)
	if err != nil {
		return "", nil, fmt.Errorf("failed to encode %s payload: %w", m.Kind(), err)
	}
	return string(m.Kind()), payload, nil
}

// Decode rebuilds a Mutation from a stored type and payload. Unrecognized
// types decode to Unknown without error; a malformed payload of a known
// type is an error.
func Decode(typ string, payload []byte) (Mutation, error) {
	var (
		m   Mutation
		err error
	)
	switch Kind(typ) {
	case KindReview:
		var v ReviewCreated
		err = json.Unmarshal(payload, &v)
		m = v
	case KindItineraryCreate:
		var v ItineraryCreated
		err = json.Unmarshal(payload, &v)
		m = v
	case KindItineraryUpdate:
		var v ItineraryUpdated
		err = json.Unmarshal(payload, &v)
		m = v
	case KindItineraryDelete:
		var v ItineraryDeleted
		err = json.Unmarshal(payload, &v)
		m = v
	case KindAttractionLink:
		var v LinkUpserted
		err = json.Unmarshal(payload, &v)
		m = v
	case KindAttractionUnlink:
		var v LinkRemoved
		err = json.Unmarshal(payload, &v)
		m = v
	case KindItineraryReorder:
		var v ItineraryReordered
		err = json.Unmarshal(payload, &v)
		m = v
	default:
		return Unknown{Type: typ, Raw: append(json.RawMessage(nil), payload...)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", typ, err)
	}
	return m, nil
}

// DecodeEntry decodes the mutation stored in a queue row.
func DecodeEntry(e *models.SyncQueue) (Mutation, error) {
	return Decode(e.Type, e.Payload)
}
