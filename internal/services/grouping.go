package services

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/callbridge-backend/internal/logger"
	"github.com/yungbote/callbridge-backend/internal/repos"
	"github.com/yungbote/callbridge-backend/internal/types"
	"github.com/yungbote/callbridge-backend/internal/utils"
)

// CallGroupingService correlates call legs that belong to the same
// real-world conversation: a caller transferred between agents shows up
// as several recordings sharing a caller id within a few minutes of
// each other. Legs whose time windows sit within the gap tolerance of
// one another are linked under one group id, ordered by start time.
type CallGroupingService interface {
	// GroupCall (re)evaluates grouping for one call after processing.
	// Grouping failures never fail the call's pipeline; callers log and
	// move on.
	GroupCall(ctx context.Context, callID uuid.UUID) error
	// LinkCalls manually forces the given calls into one group.
	LinkCalls(ctx context.Context, callIDs []uuid.UUID) (uuid.UUID, error)
	// UnlinkCall manually removes a call from its group.
	UnlinkCall(ctx context.Context, callID uuid.UUID) error
}

type callGroupingService struct {
	log          *logger.Logger
	db           *gorm.DB
	callRepo     repos.CallRepo
	gapTolerance time.Duration
}

func NewCallGroupingService(db *gorm.DB, baseLog *logger.Logger, callRepo repos.CallRepo) CallGroupingService {
	log := baseLog.With("service", "CallGroupingService")

	gapSeconds := utils.GetEnvAsInt("GROUP_GAP_TOLERANCE_SECONDS", 300, log)
	if gapSeconds <= 0 {
		gapSeconds = 300
	}

	return &callGroupingService{
		log:          log,
		db:           db,
		callRepo:     callRepo,
		gapTolerance: time.Duration(gapSeconds) * time.Second,
	}
}

// inTx runs fn inside a transaction when a db handle is present; a nil
// handle falls through to the repos' own connections.
func (s *callGroupingService) inTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s.db == nil {
		return fn(nil)
	}
	return s.db.WithContext(ctx).Transaction(fn)
}

func (s *callGroupingService) GroupCall(ctx context.Context, callID uuid.UUID) error {
	return s.inTx(ctx, func(tx *gorm.DB) error {
		call, err := s.callRepo.GetByID(ctx, tx, callID)
		if err != nil {
			return err
		}
		if call == nil {
			return fmt.Errorf("call %s not found", callID)
		}
		if call.CallerIDInternal == "" {
			s.log.Debug("Call has no caller id, skipping grouping", "call_id", callID)
			return nil
		}
		if IsInternalExtension(call.CallerIDInternal) {
			// An extension as the caller id means an internal leg; those
			// never correlate into customer conversations.
			s.log.Debug("Caller id is an internal extension, skipping grouping", "call_id", callID)
			return nil
		}
		if call.Status == types.CallStatusInternalSkipped {
			return nil
		}

		now := time.Now().UTC()
		windowStart := call.StartTime.Add(-s.gapTolerance)
		windowEnd := call.WindowEnd(now).Add(s.gapTolerance)

		candidates, err := s.callRepo.FindGroupCandidates(ctx, tx, call.CallerIDInternal, windowStart, windowEnd, call.ID, []string{types.CallStatusInternalSkipped})
		if err != nil {
			return err
		}

		neighbors := make([]*types.Call, 0, len(candidates))
		for _, cand := range candidates {
			if s.withinGap(call, cand, now) {
				neighbors = append(neighbors, cand)
			}
		}

		if len(neighbors) == 0 {
			// A lone leg stays ungrouped; an already-grouped leg keeps
			// its group rather than being torn out retroactively.
			return nil
		}

		members := append(neighbors, call)
		groupID := pickGroupID(members)

		for _, m := range members {
			if err := s.callRepo.UpdateGrouping(ctx, tx, m.ID, &groupID, nil); err != nil {
				return err
			}
		}

		return s.renumberGroup(ctx, tx, groupID)
	})
}

func (s *callGroupingService) LinkCalls(ctx context.Context, callIDs []uuid.UUID) (uuid.UUID, error) {
	if len(callIDs) < 2 {
		return uuid.Nil, fmt.Errorf("linking requires at least two calls")
	}

	var groupID uuid.UUID
	err := s.inTx(ctx, func(tx *gorm.DB) error {
		members := make([]*types.Call, 0, len(callIDs))
		seen := map[uuid.UUID]bool{}
		for _, id := range callIDs {
			if seen[id] {
				continue
			}
			seen[id] = true
			call, err := s.callRepo.GetByID(ctx, tx, id)
			if err != nil {
				return err
			}
			if call == nil {
				return fmt.Errorf("call %s not found", id)
			}
			members = append(members, call)
		}
		if len(members) < 2 {
			return fmt.Errorf("linking requires at least two distinct calls")
		}

		groupID = pickGroupID(members)
		for _, m := range members {
			if err := s.callRepo.UpdateGrouping(ctx, tx, m.ID, &groupID, nil); err != nil {
				return err
			}
		}
		return s.renumberGroup(ctx, tx, groupID)
	})
	if err != nil {
		return uuid.Nil, err
	}

	s.log.Info("Calls linked", "group_id", groupID, "count", len(callIDs))
	return groupID, nil
}

func (s *callGroupingService) UnlinkCall(ctx context.Context, callID uuid.UUID) error {
	return s.inTx(ctx, func(tx *gorm.DB) error {
		call, err := s.callRepo.GetByID(ctx, tx, callID)
		if err != nil {
			return err
		}
		if call == nil {
			return fmt.Errorf("call %s not found", callID)
		}
		if call.CallGroupID == nil {
			return nil
		}
		groupID := *call.CallGroupID

		if err := s.callRepo.UpdateGrouping(ctx, tx, call.ID, nil, nil); err != nil {
			return err
		}

		remaining, err := s.callRepo.ListByGroup(ctx, tx, groupID)
		if err != nil {
			return err
		}

		// A group of one is no group.
		if len(remaining) == 1 {
			return s.callRepo.UpdateGrouping(ctx, tx, remaining[0].ID, nil, nil)
		}
		return s.renumberGroup(ctx, tx, groupID)
	})
}

// withinGap checks temporal adjacency on the calls' actual windows: two
// legs belong together when the silence between them is at most the gap
// tolerance. Overlapping legs always match.
func (s *callGroupingService) withinGap(a, b *types.Call, now time.Time) bool {
	aStart, aEnd := a.StartTime, a.WindowEnd(now)
	bStart, bEnd := b.StartTime, b.WindowEnd(now)

	if aEnd.Before(aStart) {
		aEnd = aStart
	}
	if bEnd.Before(bStart) {
		bEnd = bStart
	}

	if aStart.After(bEnd) {
		return aStart.Sub(bEnd) <= s.gapTolerance
	}
	if bStart.After(aEnd) {
		return bStart.Sub(aEnd) <= s.gapTolerance
	}
	return true
}

// pickGroupID reuses the lowest existing group id among the members so
// repeated evaluations converge instead of minting fresh ids, and mints
// a new one only for an entirely ungrouped set.
func pickGroupID(members []*types.Call) uuid.UUID {
	var chosen *uuid.UUID
	for _, m := range members {
		if m.CallGroupID == nil {
			continue
		}
		if chosen == nil || bytes.Compare(m.CallGroupID[:], chosen[:]) < 0 {
			id := *m.CallGroupID
			chosen = &id
		}
	}
	if chosen != nil {
		return *chosen
	}
	return uuid.New()
}

// renumberGroup reassigns leg order 1..N across the whole group by
// start time, with id bytes breaking ties deterministically.
func (s *callGroupingService) renumberGroup(ctx context.Context, tx *gorm.DB, groupID uuid.UUID) error {
	members, err := s.callRepo.ListByGroup(ctx, tx, groupID)
	if err != nil {
		return err
	}

	sort.SliceStable(members, func(i, j int) bool {
		if members[i].StartTime.Equal(members[j].StartTime) {
			return bytes.Compare(members[i].ID[:], members[j].ID[:]) < 0
		}
		return members[i].StartTime.Before(members[j].StartTime)
	})

	for i, m := range members {
		order := i + 1
		if err := s.callRepo.UpdateGrouping(ctx, tx, m.ID, &groupID, &order); err != nil {
			return err
		}
	}
	return nil
}
