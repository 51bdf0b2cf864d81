package db

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	types "github.com/yungbote/modmon/internal/domain"
	"gorm.io/gorm"
)

// CheckConnection reports whether the store answers a trivial query. Call
// sites that only want an advisory answer can ignore err.
func CheckConnection(ctx context.Context, db *gorm.DB) (bool, error) {
	if db == nil {
		return false, errors.New("no database handle")
	}
	sqlDB, err := db.DB()
	if err != nil {
		return false, err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return false, err
	}
	var one int
	if err := db.WithContext(ctx).Raw("SELECT 1").Scan(&one).Error; err != nil {
		return false, err
	}
	return true, nil
}

// TableStatus is one row of the store check report.
type TableStatus struct {
	Name   string
	Exists bool
	Rows   int64
}

// Tables reports presence and row counts for every modmon table.
func Tables(ctx context.Context, db *gorm.DB) ([]TableStatus, error) {
	migrator := db.WithContext(ctx).Migrator()
	var out []TableStatus
	for _, ent := range types.Entities() {
		tn, ok := ent.(interface{ TableName() string })
		if !ok {
			continue
		}
		st := TableStatus{Name: tn.TableName()}
		if migrator.HasTable(ent) {
			st.Exists = true
			if err := db.WithContext(ctx).Model(ent).Count(&st.Rows).Error; err != nil {
				return nil, fmt.Errorf("count %s: %w", st.Name, err)
			}
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// IsDuplicateKey reports whether err is a uniqueness violation from either
// supported driver.
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.UniqueViolation
	}
	return false
}

// IsUndefinedTable reports whether err comes from querying a table that
// does not exist, which means the schema was never migrated.
func IsUndefinedTable(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.UndefinedTable
	}
	return strings.Contains(err.Error(), "no such table")
}
