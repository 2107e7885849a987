// Package services provides the review and attraction operations exposed to
// the client.
package services

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

// ReviewInput holds the fields of a new review.
type ReviewInput struct {
	AttractionID string `json:"attraction_id" validate:"required"`
	Author       string `json:"author" validate:"max=200"`
	Rating       int    `json:"rating" validate:"min=1,max=5"`
	Comment      string `json:"comment" validate:"max=5000"`
}

// ReviewService writes reviews and keeps the cached attraction rating in
// step with them.
type ReviewService struct {
	db       *db.DB
	repo     *db.Repository
	queue    *queue.Queue
	validate *validator.Validate
}

// NewReviewService creates a new ReviewService.
func NewReviewService(store *db.DB, q *queue.Queue) *ReviewService {
	return &ReviewService{
		db:       store,
		repo:     db.NewRepository(store),
		queue:    q,
		validate: validator.New(),
	}
}

// Add stores a review, recomputes the attraction's rating from local reviews
// and queues the review for upload, all in one transaction.
func (s *ReviewService) Add(ctx context.Context, in ReviewInput) (*models.Review, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, errors.Wrap(errors.ErrValidation, "invalid review", err)
	}

	review := &models.Review{
		ID:           models.NewID(),
		AttractionID: in.AttractionID,
		Author:       in.Author,
		Rating:       in.Rating,
		Comment:      in.Comment,
	}
	var avg float64
	err := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		repo := s.repo.Tx(tx)
		if _, err := repo.GetAttraction(ctx, in.AttractionID); err != nil {
			return err
		}
		if err := repo.CreateReview(ctx, review); err != nil {
			return err
		}

		var err error
		if avg, _, err = repo.AverageRating(ctx, in.AttractionID); err != nil {
			return err
		}
		if err := repo.SetAttractionRating(ctx, in.AttractionID, avg); err != nil {
			return err
		}

		_, err = s.queue.EnqueueTx(ctx, tx, queue.ReviewCreated{Review: *review}, queue.PriorityHigh)
		return err
	})
	if err != nil {
		return nil, err
	}

	logging.Info("Review added", map[string]interface{}{
		"review_id":     review.ID,
		"attraction_id": review.AttractionID,
		"rating":        avg,
	})
	return review, nil
}

// List returns an attraction's reviews, newest first.
func (s *ReviewService) List(ctx context.Context, attractionID string) ([]models.Review, error) {
	return s.repo.ListReviews(ctx, attractionID)
}
