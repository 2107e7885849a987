// Package itinerary maintains itineraries and the dense sort order of their
// links. Every mutating operation holds the itinerary's lock and runs in one
// transaction together with the sync queue entries it produces.
package itinerary

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"

	"github.com/kimhsiao/tourly/backend/internal/db"
	"github.com/kimhsiao/tourly/backend/internal/errors"
	"github.com/kimhsiao/tourly/backend/internal/logging"
	"github.com/kimhsiao/tourly/backend/internal/models"
	"github.com/kimhsiao/tourly/backend/internal/sync/queue"
)

// ItineraryInput holds the fields of a new itinerary.
type ItineraryInput struct {
	Name         string `json:"name" validate:"required,max=200"`
	Description  string `json:"description" validate:"max=2000"`
	CreatedBy    string `json:"created_by" validate:"max=200"`
	IsPublic     bool   `json:"is_public"`
	AutoSort     bool   `json:"auto_sort"`
	ScheduleMode bool   `json:"schedule_mode"`
}

// ItineraryPatch holds itinerary edits. Nil fields are left unchanged.
type ItineraryPatch struct {
	Name         *string `json:"name,omitempty" validate:"omitempty,max=200"`
	Description  *string `json:"description,omitempty" validate:"omitempty,max=2000"`
	ScheduleMode *bool   `json:"schedule_mode,omitempty"`
}

// LinkInput holds the fields of a new link. A nil Price takes the
// attraction's current price.
type LinkInput struct {
	StartTime *string  `json:"start_time,omitempty"`
	EndTime   *string  `json:"end_time,omitempty"`
	Price     *float64 `json:"price,omitempty" validate:"omitempty,gte=0"`
	Notes     string   `json:"notes" validate:"max=2000"`
}

// LinkPatch holds link edits. Nil fields are left unchanged; an empty time
// clears it.
type LinkPatch struct {
	StartTime *string  `json:"start_time,omitempty"`
	EndTime   *string  `json:"end_time,omitempty"`
	Price     *float64 `json:"price,omitempty" validate:"omitempty,gte=0"`
	Notes     *string  `json:"notes,omitempty" validate:"omitempty,max=2000"`
}

// Engine implements itinerary and link operations.
type Engine struct {
	db       *db.DB
	repo     *db.Repository
	queue    *queue.Queue
	locks    *stripedLocks
	validate *validator.Validate
}

// NewEngine creates an Engine over the store. Mutations are queued on q.
func NewEngine(store *db.DB, q *queue.Queue) *Engine {
	return &Engine{
		db:       store,
		repo:     db.NewRepository(store),
		queue:    q,
		locks:    newStripedLocks(defaultStripes),
		validate: validator.New(),
	}
}

// txn is the state of one locked, transactional operation.
type txn struct {
	ctx   context.Context
	tx    *sqlx.Tx
	repo  *db.Repository
	queue *queue.Queue
}

func (t *txn) enqueue(m queue.Mutation) error {
	_, err := t.queue.EnqueueTx(t.ctx, t.tx, m, queue.PriorityNormal)
	return err
}

// run holds the lock for itineraryID and runs fn in a transaction.
func (e *Engine) run(ctx context.Context, itineraryID string, fn func(t *txn) error) error {
	unlock := e.locks.lock(itineraryID)
	defer unlock()

	return e.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		return fn(&txn{ctx: ctx, tx: tx, repo: e.repo.Tx(tx), queue: e.queue})
	})
}

func (e *Engine) check(v interface{}) error {
	if err := e.validate.Struct(v); err != nil {
		return errors.Wrap(errors.ErrValidation, "invalid input", err)
	}
	return nil
}

func rejectPublic(it *models.Itinerary, op string) error {
	return errors.Newf(errors.ErrItineraryPublic, "cannot %s: itinerary %s is public", op, it.ID)
}

// =====================================================
// Itinerary Operations
// =====================================================

// Create creates an itinerary.
func (e *Engine) Create(ctx context.Context, in ItineraryInput) (*models.Itinerary, error) {
	if err := e.check(in); err != nil {
		return nil, err
	}
	if in.IsPublic && in.AutoSort {
		return nil, errors.New(errors.ErrItineraryPublic, "cannot enable auto-sort on a public itinerary")
	}

	it := &models.Itinerary{
		ID:           models.NewID(),
		Name:         in.Name,
		Description:  in.Description,
		CreatedBy:    in.CreatedBy,
		IsPublic:     in.IsPublic,
		AutoSort:     in.AutoSort,
		ScheduleMode: in.ScheduleMode,
	}
	err := e.run(ctx, it.ID, func(t *txn) error {
		if err := t.repo.CreateItinerary(t.ctx, it); err != nil {
			return err
		}
		return t.enqueue(queue.ItineraryCreated{Itinerary: *it})
	})
	if err != nil {
		return nil, err
	}

	logging.Info("Itinerary created", map[string]interface{}{"itinerary_id": it.ID})
	return it, nil
}

// Get returns an itinerary.
func (e *Engine) Get(ctx context.Context, id string) (*models.Itinerary, error) {
	return e.repo.GetItinerary(ctx, id)
}

// List returns itineraries, newest first. An empty createdBy lists all.
func (e *Engine) List(ctx context.Context, createdBy string) ([]models.Itinerary, error) {
	return e.repo.ListItineraries(ctx, createdBy)
}

// Details returns an itinerary with its links in sort order.
func (e *Engine) Details(ctx context.Context, id string) (*models.ItineraryDetails, error) {
	var details *models.ItineraryDetails
	err := e.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		repo := e.repo.Tx(tx)
		it, err := repo.GetItinerary(ctx, id)
		if err != nil {
			return err
		}
		links, err := repo.ListLinkDetails(ctx, id)
		if err != nil {
			return err
		}
		details = &models.ItineraryDetails{Itinerary: *it, Links: links}
		return nil
	})
	return details, err
}

// Update edits name, description and schedule mode. Turning schedule mode
// on requires the existing links to form a valid schedule.
func (e *Engine) Update(ctx context.Context, id string, patch ItineraryPatch) (*models.Itinerary, error) {
	if err := e.check(patch); err != nil {
		return nil, err
	}
	if patch.Name != nil && *patch.Name == "" {
		return nil, errors.New(errors.ErrValidation, "itinerary name must not be empty")
	}

	var it *models.Itinerary
	err := e.run(ctx, id, func(t *txn) error {
		var err error
		if it, err = t.repo.GetItinerary(t.ctx, id); err != nil {
			return err
		}
		if patch.Name != nil {
			it.Name = *patch.Name
		}
		if patch.Description != nil {
			it.Description = *patch.Description
		}
		if patch.ScheduleMode != nil {
			if *patch.ScheduleMode && !it.ScheduleMode {
				links, err := t.repo.ListLinks(t.ctx, id)
				if err != nil {
					return err
				}
				for i := range links {
					if err := checkSchedule(&links[i], links[:i]); err != nil {
						return err
					}
				}
			}
			it.ScheduleMode = *patch.ScheduleMode
		}
		if err := t.repo.UpdateItinerary(t.ctx, it); err != nil {
			return err
		}
		return t.enqueue(queue.ItineraryUpdated{Itinerary: *it})
	})
	if err != nil {
		return nil, err
	}
	return it, nil
}

// SetVisibility publishes or unpublishes an itinerary.
func (e *Engine) SetVisibility(ctx context.Context, id string, public bool) (*models.Itinerary, error) {
	var it *models.Itinerary
	err := e.run(ctx, id, func(t *txn) error {
		var err error
		if it, err = t.repo.GetItinerary(t.ctx, id); err != nil {
			return err
		}
		if it.IsPublic == public {
			return nil
		}
		it.IsPublic = public
		if err := t.repo.UpdateItinerary(t.ctx, it); err != nil {
			return err
		}
		return t.enqueue(queue.ItineraryUpdated{Itinerary: *it})
	})
	if err != nil {
		return nil, err
	}

	logging.Info("Itinerary visibility set", map[string]interface{}{
		"itinerary_id": id,
		"is_public":    public,
	})
	return it, nil
}

// Delete deletes an itinerary and its links.
func (e *Engine) Delete(ctx context.Context, id string) error {
	return e.run(ctx, id, func(t *txn) error {
		if err := t.repo.DeleteItinerary(t.ctx, id); err != nil {
			return err
		}
		return t.enqueue(queue.ItineraryDeleted{ID: id})
	})
}

// =====================================================
// Link Operations
// =====================================================

// AddLink appends an attraction to an itinerary. With auto-sort on, a
// private itinerary is re-sorted afterwards.
func (e *Engine) AddLink(ctx context.Context, itineraryID, attractionID string, in LinkInput) (*models.ItineraryLink, error) {
	if err := e.check(in); err != nil {
		return nil, err
	}
	in.StartTime, in.EndTime = emptyToNil(in.StartTime), emptyToNil(in.EndTime)

	var link *models.ItineraryLink
	err := e.run(ctx, itineraryID, func(t *txn) error {
		it, err := t.repo.GetItinerary(t.ctx, itineraryID)
		if err != nil {
			return err
		}
		att, err := t.repo.GetAttraction(t.ctx, attractionID)
		if err != nil {
			return err
		}

		link = &models.ItineraryLink{
			ID:           models.NewID(),
			ItineraryID:  itineraryID,
			AttractionID: attractionID,
			StartTime:    in.StartTime,
			EndTime:      in.EndTime,
			Price:        att.Price,
			Notes:        in.Notes,
		}
		if in.Price != nil {
			link.Price = *in.Price
		}
		if err := t.validateTimes(it, link); err != nil {
			return err
		}

		if link.SortOrder, err = t.repo.NextSortOrder(t.ctx, itineraryID); err != nil {
			return err
		}
		if err := t.repo.InsertLink(t.ctx, link); err != nil {
			return err
		}

		var changes []models.LinkPosition
		if it.AutoSort && !it.IsPublic {
			if changes, err = t.recompute(itineraryID); err != nil {
				return err
			}
			applyPosition(link, changes)
		}

		if err := t.enqueue(queue.LinkUpserted{ItineraryLink: *link}); err != nil {
			return err
		}
		return t.enqueueReorder(it, changes, false)
	})
	if err != nil {
		return nil, err
	}
	return link, nil
}

// UpdateLink edits a link's time window, price or notes. With auto-sort on,
// a private itinerary is re-sorted afterwards; on a public one a time
// window change is rejected.
func (e *Engine) UpdateLink(ctx context.Context, linkID string, patch LinkPatch) (*models.ItineraryLink, error) {
	if err := e.check(patch); err != nil {
		return nil, err
	}
	cur, err := e.repo.GetLink(ctx, linkID)
	if err != nil {
		return nil, err
	}

	var link *models.ItineraryLink
	err = e.run(ctx, cur.ItineraryID, func(t *txn) error {
		var err error
		// Re-read under the lock.
		if link, err = t.repo.GetLink(t.ctx, linkID); err != nil {
			return err
		}
		it, err := t.repo.GetItinerary(t.ctx, link.ItineraryID)
		if err != nil {
			return err
		}

		timesChanged := false
		if patch.StartTime != nil {
			next := emptyToNil(patch.StartTime)
			timesChanged = timesChanged || !sameTime(link.StartTime, next)
			link.StartTime = next
		}
		if patch.EndTime != nil {
			next := emptyToNil(patch.EndTime)
			timesChanged = timesChanged || !sameTime(link.EndTime, next)
			link.EndTime = next
		}
		if patch.Price != nil {
			link.Price = *patch.Price
		}
		if patch.Notes != nil {
			link.Notes = *patch.Notes
		}

		if timesChanged {
			if it.IsPublic && it.AutoSort {
				return rejectPublic(it, "change a time window that re-sorts")
			}
			if err := t.validateTimes(it, link); err != nil {
				return err
			}
		}
		if err := t.repo.UpdateLinkFields(t.ctx, link); err != nil {
			return err
		}

		var changes []models.LinkPosition
		if it.AutoSort && !it.IsPublic {
			if changes, err = t.recompute(it.ID); err != nil {
				return err
			}
			applyPosition(link, changes)
		}

		if err := t.enqueue(queue.LinkUpserted{ItineraryLink: *link}); err != nil {
			return err
		}
		return t.enqueueReorder(it, changes, false)
	})
	if err != nil {
		return nil, err
	}
	return link, nil
}

// RemoveLink removes an attraction from an itinerary and re-densifies the
// remaining links, keeping their relative order.
func (e *Engine) RemoveLink(ctx context.Context, itineraryID, attractionID string) error {
	return e.run(ctx, itineraryID, func(t *txn) error {
		it, err := t.repo.GetItinerary(t.ctx, itineraryID)
		if err != nil {
			return err
		}
		link, err := t.repo.GetLinkByAttraction(t.ctx, itineraryID, attractionID)
		if err != nil {
			return err
		}
		if err := t.repo.DeleteLink(t.ctx, link.ID); err != nil {
			return err
		}

		remaining, err := t.repo.ListLinks(t.ctx, itineraryID)
		if err != nil {
			return err
		}
		changes, err := t.writePositions(remaining)
		if err != nil {
			return err
		}

		if err := t.enqueue(queue.LinkRemoved{
			ID:           link.ID,
			ItineraryID:  itineraryID,
			AttractionID: attractionID,
		}); err != nil {
			return err
		}
		return t.enqueueReorder(it, changes, false)
	})
}

// =====================================================
// Ordering Operations
// =====================================================

// ManualReorder sets sort_order to each link's index in orderedLinkIDs,
// which must list every link of the itinerary exactly once. Auto-sort is
// turned off.
func (e *Engine) ManualReorder(ctx context.Context, itineraryID string, orderedLinkIDs []string) error {
	return e.run(ctx, itineraryID, func(t *txn) error {
		it, err := t.repo.GetItinerary(t.ctx, itineraryID)
		if err != nil {
			return err
		}
		if it.IsPublic {
			return rejectPublic(it, "reorder")
		}

		links, err := t.repo.ListLinks(t.ctx, itineraryID)
		if err != nil {
			return err
		}
		ordered, err := permute(links, orderedLinkIDs)
		if err != nil {
			return err
		}
		if _, err := t.writePositions(ordered); err != nil {
			return err
		}

		flagChanged := it.AutoSort
		if it.AutoSort {
			it.AutoSort = false
			if err := t.repo.UpdateItinerary(t.ctx, it); err != nil {
				return err
			}
		}

		positions := make([]models.LinkPosition, len(ordered))
		for i := range ordered {
			positions[i] = models.LinkPosition{LinkID: ordered[i].ID, SortOrder: i}
		}

		logging.Debug("Itinerary reordered", map[string]interface{}{
			"itinerary_id":      itineraryID,
			"links":             len(positions),
			"auto_sort_cleared": flagChanged,
		})
		return t.enqueueReorder(it, positions, flagChanged)
	})
}

// ToggleAutoSort turns auto-sort on or off. Enabling it re-sorts
// immediately and is rejected on a public itinerary.
func (e *Engine) ToggleAutoSort(ctx context.Context, itineraryID string, enable bool) error {
	return e.run(ctx, itineraryID, func(t *txn) error {
		it, err := t.repo.GetItinerary(t.ctx, itineraryID)
		if err != nil {
			return err
		}
		if enable && it.IsPublic {
			return rejectPublic(it, "enable auto-sort")
		}

		flagChanged := it.AutoSort != enable
		if flagChanged {
			it.AutoSort = enable
			if err := t.repo.UpdateItinerary(t.ctx, it); err != nil {
				return err
			}
		}

		var changes []models.LinkPosition
		if enable {
			if changes, err = t.recompute(itineraryID); err != nil {
				return err
			}
		}
		return t.enqueueReorder(it, changes, flagChanged)
	})
}

// Recompute re-sorts a private itinerary: timed links by start time, then
// untimed links in their current order.
func (e *Engine) Recompute(ctx context.Context, itineraryID string) error {
	return e.run(ctx, itineraryID, func(t *txn) error {
		it, err := t.repo.GetItinerary(t.ctx, itineraryID)
		if err != nil {
			return err
		}
		if it.IsPublic {
			return rejectPublic(it, "re-sort")
		}
		changes, err := t.recompute(itineraryID)
		if err != nil {
			return err
		}
		return t.enqueueReorder(it, changes, false)
	})
}

// =====================================================
// Helpers
// =====================================================

// recompute applies auto-sort order and returns the changed positions.
func (t *txn) recompute(itineraryID string) ([]models.LinkPosition, error) {
	links, err := t.repo.ListLinks(t.ctx, itineraryID)
	if err != nil {
		return nil, err
	}
	return t.writePositions(autoSortOrder(links))
}

// writePositions stores sort_order = index for every link whose position
// changed and returns those positions.
func (t *txn) writePositions(ordered []models.ItineraryLink) ([]models.LinkPosition, error) {
	changes := positionChanges(ordered)
	for _, p := range changes {
		if err := t.repo.SetSortOrder(t.ctx, p.LinkID, p.SortOrder); err != nil {
			return nil, err
		}
	}
	return changes, nil
}

// enqueueReorder queues a reorder when positions or the auto-sort flag
// changed.
func (t *txn) enqueueReorder(it *models.Itinerary, positions []models.LinkPosition, flagChanged bool) error {
	if len(positions) == 0 && !flagChanged {
		return nil
	}
	return t.enqueue(queue.ItineraryReordered{
		ItineraryID: it.ID,
		AutoSort:    it.AutoSort,
		Positions:   positions,
	})
}

// validateTimes checks link's window for the itinerary's mode, including
// overlap against siblings in schedule mode.
func (t *txn) validateTimes(it *models.Itinerary, link *models.ItineraryLink) error {
	if !it.ScheduleMode {
		_, _, err := checkWindow(link.StartTime, link.EndTime, false)
		return err
	}
	siblings, err := t.repo.ListLinks(t.ctx, it.ID)
	if err != nil {
		return err
	}
	return checkSchedule(link, siblings)
}

// permute orders links by ids, which must be a permutation of their ids.
func permute(links []models.ItineraryLink, ids []string) ([]models.ItineraryLink, error) {
	if len(ids) != len(links) {
		return nil, errors.Newf(errors.ErrValidation,
			"reorder lists %d links, itinerary has %d", len(ids), len(links))
	}
	byID := make(map[string]models.ItineraryLink, len(links))
	for _, l := range links {
		byID[l.ID] = l
	}
	ordered := make([]models.ItineraryLink, 0, len(ids))
	for _, id := range ids {
		l, ok := byID[id]
		if !ok {
			return nil, errors.Newf(errors.ErrValidation, "link %s is not in the itinerary or is listed twice", id)
		}
		delete(byID, id)
		ordered = append(ordered, l)
	}
	return ordered, nil
}

func applyPosition(link *models.ItineraryLink, changes []models.LinkPosition) {
	for _, p := range changes {
		if p.LinkID == link.ID {
			link.SortOrder = p.SortOrder
		}
	}
}

func emptyToNil(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}

func sameTime(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
