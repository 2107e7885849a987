package services

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"

	"github.com/kimhsiao/tourly/backend/internal/db"
	"github.com/kimhsiao/tourly/backend/internal/errors"
	"github.com/kimhsiao/tourly/backend/internal/logging"
	"github.com/kimhsiao/tourly/backend/internal/models"
	tsync "github.com/kimhsiao/tourly/backend/internal/sync"
)

// AttractionService reads the local attraction cache and refreshes it from
// the remote catalog.
type AttractionService struct {
	db       *db.DB
	repo     *db.Repository
	source   tsync.AttractionSource
	validate *validator.Validate
}

// NewAttractionService creates a new AttractionService. A nil source makes
// Refresh fail with SYNC_NOT_CONFIGURED.
func NewAttractionService(store *db.DB, source tsync.AttractionSource) *AttractionService {
	return &AttractionService{
		db:       store,
		repo:     db.NewRepository(store),
		source:   source,
		validate: validator.New(),
	}
}

// List returns cached attractions by name. An empty category lists all.
func (s *AttractionService) List(ctx context.Context, category string, limit, offset int) ([]models.Attraction, error) {
	return s.repo.ListAttractions(ctx, category, limit, offset)
}

// Get returns one cached attraction.
func (s *AttractionService) Get(ctx context.Context, id string) (*models.Attraction, error) {
	return s.repo.GetAttraction(ctx, id)
}

// Refresh overwrites the cache with the remote catalog and returns the
// number of rows stored. Rows that fail validation are skipped.
func (s *AttractionService) Refresh(ctx context.Context) (int, error) {
	if s.source == nil {
		return 0, errors.New(errors.ErrSyncNotConfigured, "no attraction source configured")
	}

	remote, err := s.source.FetchAttractions(ctx)
	if err != nil {
		return 0, errors.Wrap(errors.ErrSyncFailed, "failed to fetch attractions", err)
	}

	stored := 0
	err = s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		repo := s.repo.Tx(tx)
		for i := range remote {
			a := &remote[i]
			if err := s.validate.Struct(a); err != nil {
				logging.Warn("Skipping invalid attraction", map[string]interface{}{
					"attraction_id": a.ID,
					"error":         err.Error(),
				})
				continue
			}
			if err := repo.UpsertAttraction(ctx, a); err != nil {
				return err
			}
			stored++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	logging.Info("Attractions refreshed", map[string]interface{}{
		"fetched": len(remote),
		"stored":  stored,
	})
	return stored, nil
}
