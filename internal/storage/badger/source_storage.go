package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/grantscout/internal/interfaces"
	"github.com/ternarybob/grantscout/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// SourceStorage implements the SourceStorage interface for Badger
type SourceStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewSourceStorage creates a new SourceStorage instance
func NewSourceStorage(db *BadgerDB, logger arbor.ILogger) interfaces.SourceStorage {
	return &SourceStorage{
		db:     db,
		logger: logger,
	}
}

func (s *SourceStorage) SaveSource(ctx context.Context, source *models.ScrapedSource) error {
	if source.ID == "" {
		return fmt.Errorf("source ID is required")
	}

	if err := s.db.Store().Upsert(source.ID, source); err != nil {
		return fmt.Errorf("failed to save source: %w", err)
	}
	return nil
}

func (s *SourceStorage) GetSource(ctx context.Context, id string) (*models.ScrapedSource, error) {
	var source models.ScrapedSource
	if err := s.db.Store().Get(id, &source); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, models.ErrSourceNotFound
		}
		return nil, fmt.Errorf("failed to get source: %w", err)
	}
	return &source, nil
}

func (s *SourceStorage) GetSourceByURL(ctx context.Context, normalizedURL string) (*models.ScrapedSource, error) {
	var sources []models.ScrapedSource
	if err := s.db.Store().Find(&sources, badgerhold.Where("URL").Eq(normalizedURL).Limit(1)); err != nil {
		return nil, fmt.Errorf("failed to query source by URL: %w", err)
	}
	if len(sources) == 0 {
		return nil, models.ErrSourceNotFound
	}
	return &sources[0], nil
}

func (s *SourceStorage) ListSources(ctx context.Context, opts *interfaces.SourceListOptions) ([]*models.ScrapedSource, error) {
	query := badgerhold.Where("ID").Ne("")

	if opts != nil {
		if opts.Status != "" {
			query = query.And("Status").Eq(models.SourceStatus(opts.Status))
		}
		if opts.Type != "" {
			query = query.And("Type").Eq(models.SourceType(opts.Type))
		}
		query = query.SortBy("CreatedAt")
		if opts.Limit > 0 {
			query = query.Limit(opts.Limit)
		}
		if opts.Offset > 0 {
			query = query.Skip(opts.Offset)
		}
	} else {
		query = query.SortBy("CreatedAt")
	}

	var sources []models.ScrapedSource
	if err := s.db.Store().Find(&sources, query); err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}

	result := make([]*models.ScrapedSource, len(sources))
	for i := range sources {
		result[i] = &sources[i]
	}
	return result, nil
}

func (s *SourceStorage) DeleteSource(ctx context.Context, id string) error {
	if err := s.db.Store().Delete(id, &models.ScrapedSource{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return models.ErrSourceNotFound
		}
		return fmt.Errorf("failed to delete source: %w", err)
	}
	return nil
}
