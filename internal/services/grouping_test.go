package services

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/callbridge-backend/internal/types"
)

// fakeCallRepo is an in-memory CallRepo sufficient for exercising the
// grouping engine without a database.
type fakeCallRepo struct {
	calls map[uuid.UUID]*types.Call
}

func newFakeCallRepo(calls ...*types.Call) *fakeCallRepo {
	r := &fakeCallRepo{calls: map[uuid.UUID]*types.Call{}}
	for _, c := range calls {
		r.calls[c.ID] = c
	}
	return r
}

func (r *fakeCallRepo) Create(ctx context.Context, tx *gorm.DB, call *types.Call) (*types.Call, error) {
	if call.ID == uuid.Nil {
		call.ID = uuid.New()
	}
	r.calls[call.ID] = call
	return call, nil
}

func (r *fakeCallRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Call, error) {
	return r.calls[id], nil
}

func (r *fakeCallRepo) GetByCallSID(ctx context.Context, tx *gorm.DB, callSID string) (*types.Call, error) {
	for _, c := range r.calls {
		if c.CallSID == callSID {
			return c, nil
		}
	}
	return nil, nil
}

func (r *fakeCallRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	return nil
}

func (r *fakeCallRepo) SetStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, status string) error {
	if c, ok := r.calls[id]; ok {
		c.Status = status
	}
	return nil
}

func (r *fakeCallRepo) FindGroupCandidates(ctx context.Context, tx *gorm.DB, callerIDInternal string, windowStart, windowEnd time.Time, excludeID uuid.UUID, excludeStatuses []string) ([]*types.Call, error) {
	excluded := map[string]bool{}
	for _, s := range excludeStatuses {
		excluded[s] = true
	}
	out := []*types.Call{}
	for _, c := range r.calls {
		if c.ID == excludeID || c.CallerIDInternal != callerIDInternal || excluded[c.Status] {
			continue
		}
		if c.StartTime.After(windowEnd) {
			continue
		}
		if c.EndTime != nil && c.EndTime.Before(windowStart) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (r *fakeCallRepo) UpdateGrouping(ctx context.Context, tx *gorm.DB, id uuid.UUID, groupID *uuid.UUID, legOrder *int) error {
	c, ok := r.calls[id]
	if !ok {
		return nil
	}
	if groupID == nil {
		c.CallGroupID = nil
		c.CallLegOrder = nil
		return nil
	}
	g := *groupID
	c.CallGroupID = &g
	if legOrder != nil {
		o := *legOrder
		c.CallLegOrder = &o
	}
	return nil
}

func (r *fakeCallRepo) ListByGroup(ctx context.Context, tx *gorm.DB, groupID uuid.UUID) ([]*types.Call, error) {
	out := []*types.Call{}
	for _, c := range r.calls {
		if c.CallGroupID != nil && *c.CallGroupID == groupID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func makeCall(sid, caller string, start time.Time, durationSec int) *types.Call {
	end := start.Add(time.Duration(durationSec) * time.Second)
	return &types.Call{
		ID:               uuid.New(),
		CallSID:          sid,
		Status:           types.CallStatusCompleted,
		CallerIDInternal: caller,
		StartTime:        start,
		EndTime:          &end,
		DurationSeconds:  &durationSec,
	}
}

func newGrouping(t *testing.T, repo *fakeCallRepo) CallGroupingService {
	t.Helper()
	return NewCallGroupingService(nil, testLogger(t), repo)
}

func TestGroupCall_LinksLegsWithinGapTolerance(t *testing.T) {
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	first := makeCall("RE1", "+15550002222", base, 60)
	// Second leg starts exactly 300s after the first ends.
	second := makeCall("RE2", "+15550002222", base.Add(60*time.Second).Add(300*time.Second), 90)
	repo := newFakeCallRepo(first, second)

	if err := newGrouping(t, repo).GroupCall(context.Background(), second.ID); err != nil {
		t.Fatalf("GroupCall: %v", err)
	}

	if first.CallGroupID == nil || second.CallGroupID == nil {
		t.Fatalf("expected both legs grouped: first=%v second=%v", first.CallGroupID, second.CallGroupID)
	}
	if *first.CallGroupID != *second.CallGroupID {
		t.Fatalf("expected same group, got %s and %s", first.CallGroupID, second.CallGroupID)
	}
	if first.CallLegOrder == nil || *first.CallLegOrder != 1 {
		t.Fatalf("expected first leg order 1, got %v", first.CallLegOrder)
	}
	if second.CallLegOrder == nil || *second.CallLegOrder != 2 {
		t.Fatalf("expected second leg order 2, got %v", second.CallLegOrder)
	}
}

func TestGroupCall_GapJustOverToleranceStaysApart(t *testing.T) {
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	first := makeCall("RE1", "+15550002222", base, 60)
	second := makeCall("RE2", "+15550002222", base.Add(60*time.Second).Add(301*time.Second), 90)
	repo := newFakeCallRepo(first, second)

	if err := newGrouping(t, repo).GroupCall(context.Background(), second.ID); err != nil {
		t.Fatalf("GroupCall: %v", err)
	}

	if first.CallGroupID != nil || second.CallGroupID != nil {
		t.Fatalf("expected no grouping across a 301s gap")
	}
}

func TestGroupCall_DifferentCallersNeverGroup(t *testing.T) {
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	first := makeCall("RE1", "+15550002222", base, 60)
	second := makeCall("RE2", "+15550003333", base.Add(90*time.Second), 60)
	repo := newFakeCallRepo(first, second)

	if err := newGrouping(t, repo).GroupCall(context.Background(), second.ID); err != nil {
		t.Fatalf("GroupCall: %v", err)
	}
	if first.CallGroupID != nil || second.CallGroupID != nil {
		t.Fatalf("expected no grouping across different callers")
	}
}

func TestGroupCall_ReusesLowestExistingGroupID(t *testing.T) {
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	low := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	high := uuid.MustParse("ffffffff-ffff-ffff-ffff-ffffffffffff")

	first := makeCall("RE1", "+15550002222", base, 60)
	first.CallGroupID = &low
	second := makeCall("RE2", "+15550002222", base.Add(2*time.Minute), 60)
	second.CallGroupID = &high
	third := makeCall("RE3", "+15550002222", base.Add(4*time.Minute), 60)
	repo := newFakeCallRepo(first, second, third)

	if err := newGrouping(t, repo).GroupCall(context.Background(), third.ID); err != nil {
		t.Fatalf("GroupCall: %v", err)
	}

	for _, c := range []*types.Call{first, second, third} {
		if c.CallGroupID == nil || *c.CallGroupID != low {
			t.Fatalf("call %s: expected group %s, got %v", c.CallSID, low, c.CallGroupID)
		}
	}
}

func TestGroupCall_LegOrderFollowsStartTime(t *testing.T) {
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	a := makeCall("RE1", "+15550002222", base, 30)
	b := makeCall("RE2", "+15550002222", base.Add(1*time.Minute), 30)
	c := makeCall("RE3", "+15550002222", base.Add(2*time.Minute), 30)
	repo := newFakeCallRepo(a, b, c)

	// Process out of order; ordering must come from start times.
	if err := newGrouping(t, repo).GroupCall(context.Background(), b.ID); err != nil {
		t.Fatalf("GroupCall: %v", err)
	}

	want := map[string]int{"RE1": 1, "RE2": 2, "RE3": 3}
	for _, call := range []*types.Call{a, b, c} {
		if call.CallLegOrder == nil || *call.CallLegOrder != want[call.CallSID] {
			t.Fatalf("call %s: expected leg order %d, got %v", call.CallSID, want[call.CallSID], call.CallLegOrder)
		}
	}
}

func TestGroupCall_SkipsCallsWithoutCallerID(t *testing.T) {
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	call := makeCall("RE1", "", base, 60)
	repo := newFakeCallRepo(call)

	if err := newGrouping(t, repo).GroupCall(context.Background(), call.ID); err != nil {
		t.Fatalf("GroupCall: %v", err)
	}
	if call.CallGroupID != nil {
		t.Fatalf("expected call without caller id to stay ungrouped")
	}
}

func TestGroupCall_SkipsExtensionCallerIDs(t *testing.T) {
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	first := makeCall("RE1", "1234", base, 60)
	second := makeCall("RE2", "1234", base.Add(4*time.Minute), 60)
	repo := newFakeCallRepo(first, second)

	if err := newGrouping(t, repo).GroupCall(context.Background(), second.ID); err != nil {
		t.Fatalf("GroupCall: %v", err)
	}
	if first.CallGroupID != nil || second.CallGroupID != nil {
		t.Fatalf("expected extension caller ids to stay ungrouped")
	}
}

func TestGroupCall_IgnoresInternalSkippedLegs(t *testing.T) {
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	internal := makeCall("RE1", "+15550002222", base, 60)
	internal.Status = types.CallStatusInternalSkipped
	second := makeCall("RE2", "+15550002222", base.Add(2*time.Minute), 60)
	repo := newFakeCallRepo(internal, second)

	if err := newGrouping(t, repo).GroupCall(context.Background(), second.ID); err != nil {
		t.Fatalf("GroupCall: %v", err)
	}
	if internal.CallGroupID != nil || second.CallGroupID != nil {
		t.Fatalf("expected internal legs to be excluded from grouping")
	}
}

func TestLinkCalls_ForcesGroupAndOrder(t *testing.T) {
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	// Too far apart for automatic grouping.
	a := makeCall("RE1", "+15550002222", base, 60)
	b := makeCall("RE2", "+15550002222", base.Add(2*time.Hour), 60)
	repo := newFakeCallRepo(a, b)
	svc := newGrouping(t, repo)

	groupID, err := svc.LinkCalls(context.Background(), []uuid.UUID{b.ID, a.ID})
	if err != nil {
		t.Fatalf("LinkCalls: %v", err)
	}
	if groupID == uuid.Nil {
		t.Fatalf("expected a group id")
	}
	if a.CallLegOrder == nil || *a.CallLegOrder != 1 || b.CallLegOrder == nil || *b.CallLegOrder != 2 {
		t.Fatalf("expected leg orders 1 and 2, got %v and %v", a.CallLegOrder, b.CallLegOrder)
	}
}

func TestLinkCalls_RequiresTwoCalls(t *testing.T) {
	repo := newFakeCallRepo(makeCall("RE1", "+15550002222", time.Now().UTC(), 60))
	svc := newGrouping(t, repo)
	if _, err := svc.LinkCalls(context.Background(), []uuid.UUID{uuid.New()}); err == nil {
		t.Fatalf("expected error linking a single call")
	}
}

func TestUnlinkCall_DissolvesPairGroup(t *testing.T) {
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	group := uuid.New()
	one, two := 1, 2
	a := makeCall("RE1", "+15550002222", base, 60)
	a.CallGroupID = &group
	a.CallLegOrder = &one
	b := makeCall("RE2", "+15550002222", base.Add(time.Minute), 60)
	b.CallGroupID = &group
	b.CallLegOrder = &two
	repo := newFakeCallRepo(a, b)

	if err := newGrouping(t, repo).UnlinkCall(context.Background(), a.ID); err != nil {
		t.Fatalf("UnlinkCall: %v", err)
	}
	if a.CallGroupID != nil {
		t.Fatalf("expected unlinked call to lose its group")
	}
	if b.CallGroupID != nil {
		t.Fatalf("expected a group of one to dissolve")
	}
}

func TestUnlinkCall_RenumbersRemainingLegs(t *testing.T) {
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	group := uuid.New()
	one, two, three := 1, 2, 3
	a := makeCall("RE1", "+15550002222", base, 60)
	a.CallGroupID = &group
	a.CallLegOrder = &one
	b := makeCall("RE2", "+15550002222", base.Add(time.Minute), 60)
	b.CallGroupID = &group
	b.CallLegOrder = &two
	c := makeCall("RE3", "+15550002222", base.Add(2*time.Minute), 60)
	c.CallGroupID = &group
	c.CallLegOrder = &three
	repo := newFakeCallRepo(a, b, c)

	if err := newGrouping(t, repo).UnlinkCall(context.Background(), a.ID); err != nil {
		t.Fatalf("UnlinkCall: %v", err)
	}
	if b.CallLegOrder == nil || *b.CallLegOrder != 1 {
		t.Fatalf("expected remaining first leg renumbered to 1, got %v", b.CallLegOrder)
	}
	if c.CallLegOrder == nil || *c.CallLegOrder != 2 {
		t.Fatalf("expected remaining second leg renumbered to 2, got %v", c.CallLegOrder)
	}
}

func TestGroupCall_OverlappingLegsAlwaysGroup(t *testing.T) {
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	long := makeCall("RE1", "+15550002222", base, 600)
	short := makeCall("RE2", "+15550002222", base.Add(2*time.Minute), 60)
	repo := newFakeCallRepo(long, short)

	if err := newGrouping(t, repo).GroupCall(context.Background(), short.ID); err != nil {
		t.Fatalf("GroupCall: %v", err)
	}
	if long.CallGroupID == nil || short.CallGroupID == nil || *long.CallGroupID != *short.CallGroupID {
		t.Fatalf("expected overlapping legs in one group")
	}
}
