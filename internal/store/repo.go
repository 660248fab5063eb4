package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// LogRetention is the number of change-log entries kept per installation.
const LogRetention = 15

type Repo struct {
	db *gorm.DB
}

func OpenPostgres(user, password, dbName, host, port, sslMode string) (*gorm.DB, error) {
	if sslMode == "" {
		sslMode = "disable"
	}
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC", host, user, password, dbName, port, sslMode)
	return gorm.Open(postgres.Open(dsn), &gorm.Config{})
}

func New(db *gorm.DB) (*Repo, error) {
	if err := db.AutoMigrate(&StateSnapshot{}, &ConsumptionRecord{}, &ChangeLogEntry{}, &AggregateRecord{}, &ViewerBinding{}); err != nil {
		return nil, err
	}
	return &Repo{db: db}, nil
}

// Transaction runs fn against a repo bound to a single transaction. Any error
// returned by fn rolls back every write made through that repo.
func (r *Repo) Transaction(ctx context.Context, fn func(tx *Repo) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Repo{db: tx})
	})
}

// --- Snapshots ---

func (r *Repo) InsertSnapshot(ctx context.Context, s *StateSnapshot) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(s).Error
}

// LatestSnapshot returns the newest snapshot for the installation, or nil
// when none has ever been written.
func (r *Repo) LatestSnapshot(ctx context.Context, installationID string) (*StateSnapshot, error) {
	var row StateSnapshot
	err := r.db.WithContext(ctx).
		Where("installation_id = ?", installationID).
		Order("ts desc").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// SnapshotsSince returns snapshots with ts strictly greater than after,
// ascending.
func (r *Repo) SnapshotsSince(ctx context.Context, installationID string, after time.Time) ([]StateSnapshot, error) {
	var rows []StateSnapshot
	err := r.db.WithContext(ctx).
		Where("installation_id = ? AND ts > ?", installationID, after).
		Order("ts asc").
		Find(&rows).Error
	return rows, err
}

// SnapshotsFrom returns snapshots with ts greater than or equal to from,
// ascending. Used for the battery/solar series which is anchored inclusively.
func (r *Repo) SnapshotsFrom(ctx context.Context, installationID string, from time.Time) ([]StateSnapshot, error) {
	var rows []StateSnapshot
	err := r.db.WithContext(ctx).
		Where("installation_id = ? AND ts >= ?", installationID, from).
		Order("ts asc").
		Find(&rows).Error
	return rows, err
}

// --- Consumption records ---

func (r *Repo) InsertConsumption(ctx context.Context, c *ConsumptionRecord) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(c).Error
}

// ConsumptionsSince returns consumption records with ts strictly greater than
// after, ascending.
func (r *Repo) ConsumptionsSince(ctx context.Context, installationID string, after time.Time) ([]ConsumptionRecord, error) {
	var rows []ConsumptionRecord
	err := r.db.WithContext(ctx).
		Where("installation_id = ? AND ts > ?", installationID, after).
		Order("ts asc").
		Find(&rows).Error
	return rows, err
}

// --- Change log ---

func (r *Repo) InsertChangeLog(ctx context.Context, e *ChangeLogEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(e).Error
}

// PruneChangeLogs deletes all but the keep most recent entries for the
// installation. Must run after the new entry is visible so the just-inserted
// row is never a deletion candidate.
func (r *Repo) PruneChangeLogs(ctx context.Context, installationID string, keep int) error {
	var stale []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&ChangeLogEntry{}).
		Where("installation_id = ?", installationID).
		Order("ts desc, id desc").
		Offset(keep).
		Limit(-1).
		Pluck("id", &stale).Error
	if err != nil {
		return err
	}
	if len(stale) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Delete(&ChangeLogEntry{}, "id IN ?", stale).Error
}

// LatestChangeLogs returns up to limit entries, newest first.
func (r *Repo) LatestChangeLogs(ctx context.Context, installationID string, limit int) ([]ChangeLogEntry, error) {
	var rows []ChangeLogEntry
	err := r.db.WithContext(ctx).
		Where("installation_id = ?", installationID).
		Order("ts desc, id desc").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// --- Aggregates ---

func (r *Repo) InsertAggregate(ctx context.Context, a *AggregateRecord) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(a).Error
}

func (r *Repo) LatestAggregate(ctx context.Context, installationID string) (*AggregateRecord, error) {
	var row AggregateRecord
	err := r.db.WithContext(ctx).
		Where("installation_id = ?", installationID).
		Order("ts desc").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *Repo) AggregatesSince(ctx context.Context, installationID string, after time.Time) ([]AggregateRecord, error) {
	var rows []AggregateRecord
	err := r.db.WithContext(ctx).
		Where("installation_id = ? AND ts > ?", installationID, after).
		Order("ts asc").
		Find(&rows).Error
	return rows, err
}

// --- Viewer bindings ---

// ResolveViewer returns the viewer bound to the installation, or "" when the
// installation has no viewer.
func (r *Repo) ResolveViewer(ctx context.Context, installationID string) (string, error) {
	var row ViewerBinding
	err := r.db.WithContext(ctx).
		Where("installation_id = ?", installationID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return row.ViewerID, nil
}

// InstallationForViewer returns the installation bound to the viewer, or ""
// when the viewer has no binding.
func (r *Repo) InstallationForViewer(ctx context.Context, viewerID string) (string, error) {
	var row ViewerBinding
	err := r.db.WithContext(ctx).
		Where("viewer_id = ?", viewerID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return row.InstallationID, nil
}

func (r *Repo) UpsertViewerBinding(ctx context.Context, b *ViewerBinding) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Save(b).Error
}
