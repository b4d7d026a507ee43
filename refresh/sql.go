package refresh

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// tokenRow is the refresh_tokens table. Timestamps are always set by the caller.
type tokenRow struct {
	ID          string     `gorm:"primaryKey;size:64"`
	PrincipalID string     `gorm:"size:128;not null;index:idx_refresh_principal_created,priority:1"`
	Origin      string     `gorm:"size:64"`
	CreatedAt   time.Time  `gorm:"not null;autoCreateTime:false;index:idx_refresh_principal_created,priority:2"`
	ExpiresAt   time.Time  `gorm:"not null;index"`
	Revoked     bool       `gorm:"not null;default:false"`
	RevokedAt   *time.Time `gorm:"index"`
}

func (tokenRow) TableName() string {
	return "refresh_tokens"
}

func (r tokenRow) record() Record {
	rec := Record{
		ID:          r.ID,
		PrincipalID: r.PrincipalID,
		Origin:      r.Origin,
		CreatedAt:   r.CreatedAt.UTC(),
		ExpiresAt:   r.ExpiresAt.UTC(),
		Revoked:     r.Revoked,
	}
	if r.RevokedAt != nil {
		t := r.RevokedAt.UTC()
		rec.RevokedAt = &t
	}
	return rec
}

// SQLStore persists records through gorm. It runs on any gorm dialect; the daemon uses
// postgres and the tests sqlite.
type SQLStore struct {
	db *gorm.DB
}

// NewSQLStore returns a Store over db. Call Migrate once before use.
func NewSQLStore(db *gorm.DB) (*SQLStore, error) {
	if db == nil {
		return nil, errors.New("sql store requires database handle")
	}
	return &SQLStore{db: db}, nil
}

// Migrate creates or updates the refresh_tokens table.
func (s *SQLStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&tokenRow{})
}

func wrapSQL(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// principalLockSQL returns the statement that serializes cap checks for one principal
// within a transaction, or "" when the dialect has none. Row locks alone cannot do it:
// a principal with no valid rows yet has nothing to lock.
func principalLockSQL(dialect string) string {
	if dialect == "postgres" {
		return "SELECT pg_advisory_xact_lock(hashtext(?))"
	}
	return ""
}

// Insert implements Store. The cap check and the insert share one transaction. On
// postgres a transaction-scoped advisory lock keyed by principal serializes concurrent
// inserts; sqlite already serializes writers.
func (s *SQLStore) Insert(ctx context.Context, rec Record, maxActive int, now time.Time) (int, error) {
	evicted := 0
	row := tokenRow{
		ID:          rec.ID,
		PrincipalID: rec.PrincipalID,
		Origin:      rec.Origin,
		CreatedAt:   rec.CreatedAt.UTC(),
		ExpiresAt:   rec.ExpiresAt.UTC(),
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var taken int64
		if err := tx.Model(&tokenRow{}).Where("id = ?", rec.ID).Count(&taken).Error; err != nil {
			return wrapSQL(err)
		}
		if taken > 0 {
			return ErrTokenCollision
		}

		if maxActive > 0 {
			dialect := s.db.Dialector.Name()
			if stmt := principalLockSQL(dialect); stmt != "" {
				if err := tx.Exec(stmt, "refresh:"+rec.PrincipalID).Error; err != nil {
					return wrapSQL(err)
				}
			}
			q := tx.Where("principal_id = ? AND revoked = ? AND expires_at > ?", rec.PrincipalID, false, now.UTC()).
				Order("created_at ASC").
				Order("id ASC")
			if dialect != "sqlite" {
				q = q.Clauses(clause.Locking{Strength: "UPDATE"})
			}
			var valid []tokenRow
			if err := q.Find(&valid).Error; err != nil {
				return wrapSQL(err)
			}

			revokedAt := now.UTC()
			for i := 0; i < len(valid)-maxActive+1; i++ {
				res := tx.Model(&tokenRow{}).
					Where("id = ? AND revoked = ?", valid[i].ID, false).
					Updates(map[string]any{"revoked": true, "revoked_at": revokedAt})
				if res.Error != nil {
					return wrapSQL(res.Error)
				}
				evicted += int(res.RowsAffected)
			}
		}

		if err := tx.Create(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrTokenCollision
			}
			return wrapSQL(err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return evicted, nil
}

// Get implements Store.
func (s *SQLStore) Get(ctx context.Context, id string) (Record, error) {
	var row tokenRow
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, wrapSQL(err)
	}
	return row.record(), nil
}

// Delete implements Store.
func (s *SQLStore) Delete(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).Where("id = ?", id).Delete(&tokenRow{}).Error; err != nil {
		return wrapSQL(err)
	}
	return nil
}

// RevokeIfActive implements Store as a conditional UPDATE; only the caller that changes the
// row sees RevokeApplied.
func (s *SQLStore) RevokeIfActive(ctx context.Context, id string, now time.Time) (RevokeStatus, error) {
	now = now.UTC()
	res := s.db.WithContext(ctx).Model(&tokenRow{}).
		Where("id = ? AND revoked = ? AND expires_at > ?", id, false, now).
		Updates(map[string]any{"revoked": true, "revoked_at": now})
	if res.Error != nil {
		return RevokeNotFound, wrapSQL(res.Error)
	}
	if res.RowsAffected == 1 {
		return RevokeApplied, nil
	}

	rec, err := s.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return RevokeNotFound, nil
	}
	if err != nil {
		return RevokeNotFound, err
	}
	if rec.Revoked {
		return RevokeAlreadyRevoked, nil
	}
	return RevokeExpired, nil
}

// RevokeAll implements Store.
func (s *SQLStore) RevokeAll(ctx context.Context, principalID string, now time.Time) (int, error) {
	res := s.db.WithContext(ctx).Model(&tokenRow{}).
		Where("principal_id = ? AND revoked = ?", principalID, false).
		Updates(map[string]any{"revoked": true, "revoked_at": now.UTC()})
	if res.Error != nil {
		return 0, wrapSQL(res.Error)
	}
	return int(res.RowsAffected), nil
}

// DeleteAll implements Store.
func (s *SQLStore) DeleteAll(ctx context.Context, principalID string) (int, error) {
	res := s.db.WithContext(ctx).Where("principal_id = ?", principalID).Delete(&tokenRow{})
	if res.Error != nil {
		return 0, wrapSQL(res.Error)
	}
	return int(res.RowsAffected), nil
}

// CountActive implements Store.
func (s *SQLStore) CountActive(ctx context.Context, principalID string, now time.Time) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&tokenRow{}).
		Where("principal_id = ? AND revoked = ? AND expires_at > ?", principalID, false, now.UTC()).
		Count(&n).Error
	if err != nil {
		return 0, wrapSQL(err)
	}
	return int(n), nil
}

// DeleteExpired implements Store.
func (s *SQLStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res := s.db.WithContext(ctx).Where("expires_at <= ?", now.UTC()).Delete(&tokenRow{})
	if res.Error != nil {
		return 0, wrapSQL(res.Error)
	}
	return int(res.RowsAffected), nil
}

// DeleteRevokedBefore implements Store.
func (s *SQLStore) DeleteRevokedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res := s.db.WithContext(ctx).
		Where("revoked = ? AND revoked_at < ?", true, cutoff.UTC()).
		Delete(&tokenRow{})
	if res.Error != nil {
		return 0, wrapSQL(res.Error)
	}
	return int(res.RowsAffected), nil
}
