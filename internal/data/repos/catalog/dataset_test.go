package catalog

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/yungbote/modmon/internal/data/repos/testutil"
	types "github.com/yungbote/modmon/internal/domain"
	"github.com/yungbote/modmon/internal/pkg/dbctx"
	apperr "github.com/yungbote/modmon/internal/pkg/errors"
)

func ptrTime(t time.Time) *time.Time { return &t }
func ptrString(s string) *string    { return &s }

func TestDatasetResolveOrCreate(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}

	repo := NewDatasetRepo(db, testutil.Logger(t))

	// Empty table: first id is 1.
	key := DatasetKey{
		Database: ptrString("omop"),
		Start:    ptrTime(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)),
		End:      ptrTime(time.Date(2020, 3, 31, 0, 0, 0, 0, time.UTC)),
	}
	id, err := repo.ResolveOrCreate(dbc, key)
	if err != nil {
		t.Fatalf("ResolveOrCreate: %v", err)
	}
	if id != 1 {
		t.Fatalf("expected id 1 on empty table, got %d", id)
	}
	ds, err := repo.GetByID(dbc, id)
	if err != nil || ds == nil {
		t.Fatalf("GetByID: ds=%v err=%v", ds, err)
	}
	if !strings.HasPrefix(ds.Description, "Automatically created by modmon ") {
		t.Fatalf("unexpected description %q", ds.Description)
	}

	// Same day, different time of day: same dataset.
	again, err := repo.ResolveOrCreate(dbc, DatasetKey{
		Database: ptrString("omop"),
		Start:    ptrTime(time.Date(2020, 1, 1, 17, 30, 0, 0, time.UTC)),
		End:      ptrTime(time.Date(2020, 3, 31, 9, 0, 0, 0, time.UTC)),
	})
	if err != nil {
		t.Fatalf("ResolveOrCreate again: %v", err)
	}
	if again != id {
		t.Fatalf("expected day-granular match %d, got %d", id, again)
	}

	// Different source name: new id = max+1.
	other, err := repo.ResolveOrCreate(dbc, DatasetKey{Database: ptrString("other"), Start: key.Start, End: key.End})
	if err != nil {
		t.Fatalf("ResolveOrCreate other: %v", err)
	}
	if other != 2 {
		t.Fatalf("expected id 2, got %d", other)
	}

	// Partial key matches the lowest id.
	partial, err := repo.ResolveOrCreate(dbc, DatasetKey{Start: key.Start})
	if err != nil {
		t.Fatalf("ResolveOrCreate partial: %v", err)
	}
	if partial != 1 {
		t.Fatalf("expected first match 1, got %d", partial)
	}
}

func TestDatasetResolveOrCreateRequiresAField(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}

	repo := NewDatasetRepo(db, testutil.Logger(t))
	_, err := repo.ResolveOrCreate(dbc, DatasetKey{})
	if !errors.Is(err, ErrNoIdentifyingFields) {
		t.Fatalf("expected ErrNoIdentifyingFields, got %v", err)
	}
	if !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument class, got %v", err)
	}
	var n int64
	if err := tx.Model(&types.Dataset{}).Count(&n).Error; err != nil || n != 0 {
		t.Fatalf("expected no rows written, n=%d err=%v", n, err)
	}
}

func TestDatasetResolveOrCreateWithDescription(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}

	repo := NewDatasetRepo(db, testutil.Logger(t))
	key := DatasetKey{Database: ptrString("omop")}
	id, created, err := repo.ResolveOrCreateWithDescription(dbc, key, "training data")
	if err != nil || !created {
		t.Fatalf("first call: created=%v err=%v", created, err)
	}
	again, created, err := repo.ResolveOrCreateWithDescription(dbc, key, "ignored")
	if err != nil || created || again != id {
		t.Fatalf("second call: id=%d created=%v err=%v", again, created, err)
	}
	ds, _ := repo.GetByID(dbc, id)
	if ds.Description != "training data" {
		t.Fatalf("description: %q", ds.Description)
	}
}

func TestDatasetResolveOrCreateUsesUTCDay(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}

	repo := NewDatasetRepo(db, testutil.Logger(t))
	eastern := time.FixedZone("EST", -5*60*60)
	local := time.Date(2020, 1, 1, 23, 30, 0, 0, eastern)

	id, err := repo.ResolveOrCreate(dbc, DatasetKey{Start: ptrTime(local)})
	if err != nil {
		t.Fatalf("ResolveOrCreate local: %v", err)
	}
	ds, err := repo.GetByID(dbc, id)
	if err != nil || ds == nil || ds.StartDate == nil {
		t.Fatalf("GetByID: ds=%v err=%v", ds, err)
	}
	if want := time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC); !ds.StartDate.UTC().Equal(want) {
		t.Fatalf("stored start %v, want %v", ds.StartDate, want)
	}

	// The same instant written in UTC resolves to the same dataset.
	same, err := repo.ResolveOrCreate(dbc, DatasetKey{Start: ptrTime(local.UTC())})
	if err != nil {
		t.Fatalf("ResolveOrCreate utc: %v", err)
	}
	if same != id {
		t.Fatalf("expected %d for the same instant, got %d", id, same)
	}
}
