package testutil

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/callbridge-backend/internal/types"
)

func SeedCompany(tb testing.TB, ctx context.Context, tx *gorm.DB, name string, numbers ...string) *types.Company {
	tb.Helper()
	raw, err := json.Marshal(numbers)
	if err != nil {
		tb.Fatalf("marshal phone numbers: %v", err)
	}
	c := &types.Company{
		ID:           uuid.New(),
		Name:         name,
		PhoneNumbers: datatypes.JSON(raw),
	}
	if err := tx.WithContext(ctx).Create(c).Error; err != nil {
		tb.Fatalf("seed company: %v", err)
	}
	return c
}

func SeedAgent(tb testing.TB, ctx context.Context, tx *gorm.DB, name, extension string) *types.Agent {
	tb.Helper()
	a := &types.Agent{
		ID:        uuid.New(),
		Name:      name,
		Extension: extension,
	}
	if err := tx.WithContext(ctx).Create(a).Error; err != nil {
		tb.Fatalf("seed agent: %v", err)
	}
	return a
}

// SeedCall creates a call with sane defaults. Mutate the returned value
// through opts before it is persisted.
func SeedCall(tb testing.TB, ctx context.Context, tx *gorm.DB, sid string, opts ...func(*types.Call)) *types.Call {
	tb.Helper()
	dur := 120
	end := time.Now().UTC().Add(-time.Hour).Add(time.Duration(dur) * time.Second)
	c := &types.Call{
		ID:               uuid.New(),
		CallSID:          sid,
		Status:           types.CallStatusCompleted,
		Direction:        types.CallDirectionInbound,
		ExternalNumber:   "+15550001111",
		CallerIDInternal: "+15550001111",
		StartTime:        time.Now().UTC().Add(-time.Hour),
		EndTime:          &end,
		DurationSeconds:  &dur,
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := tx.WithContext(ctx).Create(c).Error; err != nil {
		tb.Fatalf("seed call: %v", err)
	}
	return c
}
