package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github-maintainer/internal/domain"
	"github-maintainer/internal/port"
)

// profileRow stores one repository profile as a JSON payload keyed by its
// repository ref. A new analysis overwrites the previous row in place.
type profileRow struct {
	RepositoryRef string `gorm:"primaryKey;size:255"`
	Payload       []byte `gorm:"type:jsonb"`
	UpdatedAt     time.Time
}

func (profileRow) TableName() string { return "repository_profiles" }

// suggestionRow is one dedup marker. The unique index over repository ref and
// normalized title is what makes RecordSuggestion idempotent.
type suggestionRow struct {
	ID              uint   `gorm:"primaryKey"`
	RepositoryRef   string `gorm:"size:255;uniqueIndex:idx_suggestion_dedup"`
	NormalizedTitle string `gorm:"size:512;uniqueIndex:idx_suggestion_dedup"`
	Category        string `gorm:"size:32"`
	CreatedAt       time.Time
}

func (suggestionRow) TableName() string { return "suggestion_records" }

// preferenceRow stores one user's preferences as a JSON payload.
type preferenceRow struct {
	UserID    string `gorm:"primaryKey;size:255"`
	Payload   []byte `gorm:"type:jsonb"`
	UpdatedAt time.Time
}

func (preferenceRow) TableName() string { return "user_preferences" }

// Store implements port.Store on PostgreSQL through GORM.
type Store struct {
	db  *gorm.DB
	log *zap.Logger
}

// Option configures the store.
type Option func(*Store)

// WithLogger sets the structured logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Store) { s.log = log }
}

// New connects to the database and migrates the schema.
func New(dsn string, opts ...Option) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	return newWithDB(db, opts...)
}

// NewWithDB wraps an existing connection, used by tests.
func NewWithDB(db *gorm.DB, opts ...Option) (*Store, error) {
	return newWithDB(db, opts...)
}

func newWithDB(db *gorm.DB, opts ...Option) (*Store, error) {
	s := &Store{db: db, log: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	if err := db.AutoMigrate(&profileRow{}, &suggestionRow{}, &preferenceRow{}); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return s, nil
}

var _ port.Store = (*Store)(nil)

// SaveProfile upserts the profile under its repository key.
func (s *Store) SaveProfile(ctx context.Context, profile *domain.RepositoryProfile) error {
	if err := profile.Validate(); err != nil {
		return fmt.Errorf("store: save profile: %w", err)
	}
	payload, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("store: encode profile %s: %w", profile.Descriptor.FullName, err)
	}
	row := profileRow{
		RepositoryRef: profile.Descriptor.FullName,
		Payload:       payload,
		UpdatedAt:     time.Now(),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "repository_ref"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
	}).Create(&row).Error
}

// LoadProfile returns the stored profile. A missing row yields (nil, nil). A
// row that no longer decodes or validates is dropped with a warning and also
// yields (nil, nil): the next analysis simply rebuilds it.
func (s *Store) LoadProfile(ctx context.Context, repositoryRef string) (*domain.RepositoryProfile, error) {
	var row profileRow
	err := s.db.WithContext(ctx).First(&row, "repository_ref = ?", repositoryRef).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: load profile %s: %w", repositoryRef, err)
	}

	var profile domain.RepositoryProfile
	if err := json.Unmarshal(row.Payload, &profile); err != nil {
		s.dropProfile(ctx, repositoryRef, err)
		return nil, nil
	}
	if err := profile.Validate(); err != nil {
		s.dropProfile(ctx, repositoryRef, err)
		return nil, nil
	}
	return &profile, nil
}

func (s *Store) dropProfile(ctx context.Context, repositoryRef string, cause error) {
	s.log.Warn("dropping malformed stored profile",
		zap.String("repository", repositoryRef), zap.Error(cause))
	if err := s.db.WithContext(ctx).Delete(&profileRow{}, "repository_ref = ?", repositoryRef).Error; err != nil {
		s.log.Warn("failed to delete malformed profile",
			zap.String("repository", repositoryRef), zap.Error(err))
	}
}

// RecordSuggestion appends one dedup marker. Re-recording an existing
// (repository, normalized title) pair is a no-op thanks to the unique index.
func (s *Store) RecordSuggestion(ctx context.Context, rec domain.SuggestionRecord) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("store: record suggestion: %w", err)
	}
	row := suggestionRow{
		RepositoryRef:   rec.RepositoryRef,
		NormalizedTitle: rec.NormalizedTitle,
		Category:        string(rec.Category),
		CreatedAt:       rec.CreatedAt,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "repository_ref"}, {Name: "normalized_title"}},
		DoNothing: true,
	}).Create(&row).Error
}

// LoadSuggestionRecords returns every dedup marker for a repository. Rows that
// fail validation are skipped with a warning rather than failing the load.
func (s *Store) LoadSuggestionRecords(ctx context.Context, repositoryRef string) ([]domain.SuggestionRecord, error) {
	var rows []suggestionRow
	err := s.db.WithContext(ctx).
		Where("repository_ref = ?", repositoryRef).
		Order("created_at asc").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("store: load suggestion records %s: %w", repositoryRef, err)
	}

	records := make([]domain.SuggestionRecord, 0, len(rows))
	for _, row := range rows {
		rec := domain.SuggestionRecord{
			RepositoryRef:   row.RepositoryRef,
			NormalizedTitle: row.NormalizedTitle,
			Category:        domain.Category(row.Category),
			CreatedAt:       row.CreatedAt,
		}
		if err := rec.Validate(); err != nil {
			s.log.Warn("skipping malformed suggestion record",
				zap.String("repository", repositoryRef), zap.Error(err))
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// PurgeSuggestionRecords deletes every dedup marker for a repository, allowing
// its suggestions to be refiled.
func (s *Store) PurgeSuggestionRecords(ctx context.Context, repositoryRef string) error {
	return s.db.WithContext(ctx).Delete(&suggestionRow{}, "repository_ref = ?", repositoryRef).Error
}

// SavePreferences upserts a user's preferences.
func (s *Store) SavePreferences(ctx context.Context, prefs domain.UserPreferences) error {
	if err := prefs.Validate(); err != nil {
		return fmt.Errorf("store: save preferences: %w", err)
	}
	payload, err := json.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("store: encode preferences %s: %w", prefs.UserID, err)
	}
	row := preferenceRow{UserID: prefs.UserID, Payload: payload, UpdatedAt: time.Now()}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
	}).Create(&row).Error
}

// LoadPreferences returns the stored preferences, or (nil, nil) when absent.
func (s *Store) LoadPreferences(ctx context.Context, userID string) (*domain.UserPreferences, error) {
	var row preferenceRow
	err := s.db.WithContext(ctx).First(&row, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: load preferences %s: %w", userID, err)
	}

	var prefs domain.UserPreferences
	if err := json.Unmarshal(row.Payload, &prefs); err != nil {
		s.log.Warn("dropping malformed stored preferences",
			zap.String("user", userID), zap.Error(err))
		return nil, nil
	}
	if err := prefs.Validate(); err != nil {
		s.log.Warn("dropping invalid stored preferences",
			zap.String("user", userID), zap.Error(err))
		return nil, nil
	}
	return &prefs, nil
}
