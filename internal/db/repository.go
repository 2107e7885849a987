package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	apperrors "github.com/kimhsiao/tourly/backend/internal/errors"
	"github.com/kimhsiao/tourly/backend/internal/models"
)

// Repository provides row operations for all models. A Repository bound to
// a transaction via Tx shares that transaction's connection.
type Repository struct {
	ext sqlx.ExtContext
}

// NewRepository creates a Repository over the database.
func NewRepository(db *DB) *Repository {
	return &Repository{ext: db.DB}
}

// Tx returns a Repository that runs every statement inside tx.
func (r *Repository) Tx(tx *sqlx.Tx) *Repository {
	return &Repository{ext: tx}
}

// mapError converts driver errors into AppErrors.
func mapError(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.Newf(apperrors.ErrNotFound, "%s not found", what)
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return apperrors.Wrap(apperrors.ErrDuplicate, what+" already exists", err)
	case strings.Contains(msg, "constraint failed"):
		return apperrors.Wrap(apperrors.ErrConstraint, what+" violates a constraint", err)
	}
	return apperrors.Wrap(apperrors.ErrDatabase, "database error on "+what, err)
}

// =====================================================
// Attraction Operations
// =====================================================

// UpsertAttraction inserts an attraction or overwrites the cached copy.
func (r *Repository) UpsertAttraction(ctx context.Context, a *models.Attraction) error {
	if a.UpdatedAt == 0 {
		a.UpdatedAt = models.NowMillis()
	}
	query := `
	INSERT INTO attractions (id, name, category, location, description, rating, price, updated_at)
	VALUES (:id, :name, :category, :location, :description, :rating, :price, :updated_at)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		category = excluded.category,
		location = excluded.location,
		description = excluded.description,
		rating = excluded.rating,
		price = excluded.price,
		updated_at = excluded.updated_at
	`
	_, err := sqlx.NamedExecContext(ctx, r.ext, query, a)
	return mapError(err, "attraction")
}

// GetAttraction retrieves an attraction by ID.
func (r *Repository) GetAttraction(ctx context.Context, id string) (*models.Attraction, error) {
	var a models.Attraction
	err := sqlx.GetContext(ctx, r.ext, &a,
		`SELECT id, name, category, location, description, rating, price, updated_at
		 FROM attractions WHERE id = ?`, id)
	if err != nil {
		return nil, mapError(err, "attraction "+id)
	}
	return &a, nil
}

// ListAttractions returns attractions by name, optionally filtered by category.
func (r *Repository) ListAttractions(ctx context.Context, category string, limit, offset int) ([]models.Attraction, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, name, category, location, description, rating, price, updated_at FROM attractions`
	args := []interface{}{}
	if category != "" {
		query += " WHERE category = ?"
		args = append(args, category)
	}
	query += " ORDER BY name, id LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	items := []models.Attraction{}
	if err := sqlx.SelectContext(ctx, r.ext, &items, query, args...); err != nil {
		return nil, mapError(err, "attractions")
	}
	return items, nil
}

// SetAttractionRating updates the cached rating of an attraction.
func (r *Repository) SetAttractionRating(ctx context.Context, id string, rating float64) error {
	res, err := r.ext.ExecContext(ctx,
		"UPDATE attractions SET rating = ?, updated_at = ? WHERE id = ?",
		rating, models.NowMillis(), id)
	if err != nil {
		return mapError(err, "attraction "+id)
	}
	return requireRow(res, "attraction "+id)
}

// =====================================================
// Review Operations
// =====================================================

// CreateReview inserts a review, filling ID and CreatedAt when empty.
func (r *Repository) CreateReview(ctx context.Context, rv *models.Review) error {
	if rv.ID == "" {
		rv.ID = models.NewID()
	}
	if rv.CreatedAt == 0 {
		rv.CreatedAt = models.NowMillis()
	}
	query := `
	INSERT INTO reviews (id, attraction_id, author, rating, comment, created_at)
	VALUES (:id, :attraction_id, :author, :rating, :comment, :created_at)
	`
	_, err := sqlx.NamedExecContext(ctx, r.ext, query, rv)
	return mapError(err, "review")
}

// ListReviews returns the reviews of an attraction, newest first.
func (r *Repository) ListReviews(ctx context.Context, attractionID string) ([]models.Review, error) {
	reviews := []models.Review{}
	err := sqlx.SelectContext(ctx, r.ext, &reviews,
		`SELECT id, attraction_id, author, rating, comment, created_at
		 FROM reviews WHERE attraction_id = ? ORDER BY created_at DESC, id`, attractionID)
	if err != nil {
		return nil, mapError(err, "reviews")
	}
	return reviews, nil
}

// AverageRating returns the mean rating and count of an attraction's reviews.
func (r *Repository) AverageRating(ctx context.Context, attractionID string) (float64, int, error) {
	var row struct {
		Avg   float64 `db:"avg"`
		Count int     `db:"cnt"`
	}
	err := sqlx.GetContext(ctx, r.ext, &row,
		"SELECT COALESCE(AVG(rating), 0) AS avg, COUNT(*) AS cnt FROM reviews WHERE attraction_id = ?",
		attractionID)
	if err != nil {
		return 0, 0, mapError(err, "reviews")
	}
	return row.Avg, row.Count, nil
}

// =====================================================
// Itinerary Operations
// =====================================================

const itineraryColumns = `id, name, description, is_public, created_by, auto_sort, schedule_mode, created_at, updated_at`

// CreateItinerary inserts an itinerary, filling ID and timestamps when empty.
func (r *Repository) CreateItinerary(ctx context.Context, it *models.Itinerary) error {
	now := models.NowMillis()
	if it.ID == "" {
		it.ID = models.NewID()
	}
	if it.CreatedAt == 0 {
		it.CreatedAt = now
	}
	it.UpdatedAt = now

	query := `
	INSERT INTO itineraries (` + itineraryColumns + `)
	VALUES (:id, :name, :description, :is_public, :created_by, :auto_sort, :schedule_mode, :created_at, :updated_at)
	`
	_, err := sqlx.NamedExecContext(ctx, r.ext, query, it)
	return mapError(err, "itinerary")
}

// GetItinerary retrieves an itinerary by ID.
func (r *Repository) GetItinerary(ctx context.Context, id string) (*models.Itinerary, error) {
	var it models.Itinerary
	err := sqlx.GetContext(ctx, r.ext, &it,
		"SELECT "+itineraryColumns+" FROM itineraries WHERE id = ?", id)
	if err != nil {
		return nil, mapError(err, "itinerary "+id)
	}
	return &it, nil
}

// ListItineraries returns itineraries, newest first. An empty createdBy
// lists all of them.
func (r *Repository) ListItineraries(ctx context.Context, createdBy string) ([]models.Itinerary, error) {
	query := "SELECT " + itineraryColumns + " FROM itineraries"
	args := []interface{}{}
	if createdBy != "" {
		query += " WHERE created_by = ?"
		args = append(args, createdBy)
	}
	query += " ORDER BY created_at DESC, id"

	items := []models.Itinerary{}
	if err := sqlx.SelectContext(ctx, r.ext, &items, query, args...); err != nil {
		return nil, mapError(err, "itineraries")
	}
	return items, nil
}

// UpdateItinerary writes every mutable itinerary column.
func (r *Repository) UpdateItinerary(ctx context.Context, it *models.Itinerary) error {
	it.UpdatedAt = models.NowMillis()
	query := `
	UPDATE itineraries
	SET name = :name, description = :description, is_public = :is_public,
		auto_sort = :auto_sort, schedule_mode = :schedule_mode, updated_at = :updated_at
	WHERE id = :id
	`
	res, err := sqlx.NamedExecContext(ctx, r.ext, query, it)
	if err != nil {
		return mapError(err, "itinerary "+it.ID)
	}
	return requireRow(res, "itinerary "+it.ID)
}

// DeleteItinerary deletes an itinerary; its links cascade.
func (r *Repository) DeleteItinerary(ctx context.Context, id string) error {
	res, err := r.ext.ExecContext(ctx, "DELETE FROM itineraries WHERE id = ?", id)
	if err != nil {
		return mapError(err, "itinerary "+id)
	}
	return requireRow(res, "itinerary "+id)
}

// =====================================================
// Link Operations
// =====================================================

const linkColumns = `id, itinerary_id, attraction_id, start_time, end_time, price, notes, sort_order, created_at`

// InsertLink inserts a link, filling ID and CreatedAt when empty.
func (r *Repository) InsertLink(ctx context.Context, l *models.ItineraryLink) error {
	if l.ID == "" {
		l.ID = models.NewID()
	}
	if l.CreatedAt == 0 {
		l.CreatedAt = models.NowMillis()
	}
	query := `
	INSERT INTO itinerary_attractions (` + linkColumns + `)
	VALUES (:id, :itinerary_id, :attraction_id, :start_time, :end_time, :price, :notes, :sort_order, :created_at)
	`
	_, err := sqlx.NamedExecContext(ctx, r.ext, query, l)
	return mapError(err, "link")
}

// GetLink retrieves a link by its link ID.
func (r *Repository) GetLink(ctx context.Context, id string) (*models.ItineraryLink, error) {
	var l models.ItineraryLink
	err := sqlx.GetContext(ctx, r.ext, &l,
		"SELECT "+linkColumns+" FROM itinerary_attractions WHERE id = ?", id)
	if err != nil {
		return nil, mapError(err, "link "+id)
	}
	return &l, nil
}

// GetLinkByAttraction retrieves the link joining itineraryID and attractionID.
func (r *Repository) GetLinkByAttraction(ctx context.Context, itineraryID, attractionID string) (*models.ItineraryLink, error) {
	var l models.ItineraryLink
	err := sqlx.GetContext(ctx, r.ext, &l,
		"SELECT "+linkColumns+" FROM itinerary_attractions WHERE itinerary_id = ? AND attraction_id = ?",
		itineraryID, attractionID)
	if err != nil {
		return nil, mapError(err, fmt.Sprintf("attraction %s in itinerary %s", attractionID, itineraryID))
	}
	return &l, nil
}

// ListLinks returns an itinerary's links in sort order.
func (r *Repository) ListLinks(ctx context.Context, itineraryID string) ([]models.ItineraryLink, error) {
	links := []models.ItineraryLink{}
	err := sqlx.SelectContext(ctx, r.ext, &links,
		"SELECT "+linkColumns+" FROM itinerary_attractions WHERE itinerary_id = ? ORDER BY sort_order, created_at, id",
		itineraryID)
	if err != nil {
		return nil, mapError(err, "links")
	}
	return links, nil
}

// ListLinkDetails returns an itinerary's links joined with attraction names.
func (r *Repository) ListLinkDetails(ctx context.Context, itineraryID string) ([]models.LinkDetail, error) {
	details := []models.LinkDetail{}
	err := sqlx.SelectContext(ctx, r.ext, &details, `
	SELECT l.id, l.itinerary_id, l.attraction_id, l.start_time, l.end_time, l.price, l.notes,
		   l.sort_order, l.created_at,
		   a.name AS attraction_name, a.category AS attraction_category
	FROM itinerary_attractions l
	JOIN attractions a ON a.id = l.attraction_id
	WHERE l.itinerary_id = ?
	ORDER BY l.sort_order, l.created_at, l.id
	`, itineraryID)
	if err != nil {
		return nil, mapError(err, "links")
	}
	return details, nil
}

// UpdateLinkFields writes a link's time window, price and notes.
func (r *Repository) UpdateLinkFields(ctx context.Context, l *models.ItineraryLink) error {
	query := `
	UPDATE itinerary_attractions
	SET start_time = :start_time, end_time = :end_time, price = :price, notes = :notes
	WHERE id = :id
	`
	res, err := sqlx.NamedExecContext(ctx, r.ext, query, l)
	if err != nil {
		return mapError(err, "link "+l.ID)
	}
	return requireRow(res, "link "+l.ID)
}

// SetSortOrder sets one link's position.
func (r *Repository) SetSortOrder(ctx context.Context, linkID string, order int) error {
	res, err := r.ext.ExecContext(ctx,
		"UPDATE itinerary_attractions SET sort_order = ? WHERE id = ?", order, linkID)
	if err != nil {
		return mapError(err, "link "+linkID)
	}
	return requireRow(res, "link "+linkID)
}

// NextSortOrder returns max(sort_order)+1 for the itinerary, or 0 when it
// has no links.
func (r *Repository) NextSortOrder(ctx context.Context, itineraryID string) (int, error) {
	var next int
	err := sqlx.GetContext(ctx, r.ext, &next,
		"SELECT COALESCE(MAX(sort_order) + 1, 0) FROM itinerary_attractions WHERE itinerary_id = ?",
		itineraryID)
	if err != nil {
		return 0, mapError(err, "links")
	}
	return next, nil
}

// DeleteLink deletes a link by its link ID.
func (r *Repository) DeleteLink(ctx context.Context, id string) error {
	res, err := r.ext.ExecContext(ctx, "DELETE FROM itinerary_attractions WHERE id = ?", id)
	if err != nil {
		return mapError(err, "link "+id)
	}
	return requireRow(res, "link "+id)
}

func requireRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return mapError(err, what)
	}
	if n == 0 {
		return apperrors.Newf(apperrors.ErrNotFound, "%s not found", what)
	}
	return nil
}
