package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/grantscout/internal/interfaces"
	"github.com/ternarybob/grantscout/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// GrantStorage implements the GrantStorage interface for Badger
type GrantStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewGrantStorage creates a new GrantStorage instance
func NewGrantStorage(db *BadgerDB, logger arbor.ILogger) interfaces.GrantStorage {
	return &GrantStorage{
		db:     db,
		logger: logger,
	}
}

func (s *GrantStorage) SaveGrant(ctx context.Context, grant *models.Grant) error {
	if grant.ID == "" {
		return fmt.Errorf("grant ID is required")
	}

	if err := s.db.Store().Upsert(grant.ID, grant); err != nil {
		return fmt.Errorf("failed to save grant: %w", err)
	}
	return nil
}

func (s *GrantStorage) GetGrantByKey(ctx context.Context, naturalKey string) (*models.Grant, error) {
	var grants []models.Grant
	if err := s.db.Store().Find(&grants, badgerhold.Where("NaturalKey").Eq(naturalKey).Limit(1)); err != nil {
		return nil, fmt.Errorf("failed to query grant by key: %w", err)
	}
	if len(grants) == 0 {
		return nil, nil
	}
	return &grants[0], nil
}

func (s *GrantStorage) CountGrantsForSource(ctx context.Context, sourceID string) (int, error) {
	count, err := s.db.Store().Count(&models.Grant{}, badgerhold.Where("SourceID").Eq(sourceID))
	if err != nil {
		return 0, fmt.Errorf("failed to count grants: %w", err)
	}
	return int(count), nil
}
