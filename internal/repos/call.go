package repos

import (
  "context"
  "errors"
  "fmt"
  "time"

  "github.com/google/uuid"
  "gorm.io/gorm"

  "github.com/yungbote/callbridge-backend/internal/logger"
  "github.com/yungbote/callbridge-backend/internal/types"
)

type CallRepo interface {
  Create(ctx context.Context, tx *gorm.DB, call *types.Call) (*types.Call, error)
  GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Call, error)
  GetByCallSID(ctx context.Context, tx *gorm.DB, callSID string) (*types.Call, error)
  UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
  // SetStatus advances the call's status. The write is guarded so a
  // concurrent or replayed job can never move a call backwards.
  SetStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, status string) error
  // FindGroupCandidates returns calls sharing callerIDInternal whose own
  // window intersects [windowStart, windowEnd], excluding the call itself
  // and the given statuses.
  FindGroupCandidates(ctx context.Context, tx *gorm.DB, callerIDInternal string, windowStart, windowEnd time.Time, excludeID uuid.UUID, excludeStatuses []string) ([]*types.Call, error)
  // UpdateGrouping writes group id and leg order only when the stored
  // values differ, so racing group writers do not churn rows.
  UpdateGrouping(ctx context.Context, tx *gorm.DB, id uuid.UUID, groupID *uuid.UUID, legOrder *int) error
  ListByGroup(ctx context.Context, tx *gorm.DB, groupID uuid.UUID) ([]*types.Call, error)
}

type callRepo struct {
  db  *gorm.DB
  log *logger.Logger
}

func NewCallRepo(db *gorm.DB, baseLog *logger.Logger) CallRepo {
  return &callRepo{
    db:  db,
    log: baseLog.With("repo", "CallRepo"),
  }
}

func (r *callRepo) Create(ctx context.Context, tx *gorm.DB, call *types.Call) (*types.Call, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if call == nil {
    return nil, fmt.Errorf("nil call")
  }
  if err := transaction.WithContext(ctx).Create(call).Error; err != nil {
    return nil, err
  }
  return call, nil
}

func (r *callRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Call, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if id == uuid.Nil {
    return nil, nil
  }
  var call types.Call
  err := transaction.WithContext(ctx).
    Preload("Analysis").
    Where("id = ?", id).
    Limit(1).
    Find(&call).Error
  if err != nil {
    return nil, err
  }
  if call.ID == uuid.Nil {
    return nil, nil
  }
  return &call, nil
}

func (r *callRepo) GetByCallSID(ctx context.Context, tx *gorm.DB, callSID string) (*types.Call, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if callSID == "" {
    return nil, nil
  }
  var call types.Call
  err := transaction.WithContext(ctx).
    Where("call_sid = ?", callSID).
    Limit(1).
    Find(&call).Error
  if err != nil {
    return nil, err
  }
  if call.ID == uuid.Nil {
    return nil, nil
  }
  return &call, nil
}

func (r *callRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if id == uuid.Nil {
    return nil
  }
  if updates == nil {
    updates = map[string]interface{}{}
  }
  if _, ok := updates["updated_at"]; !ok {
    updates["updated_at"] = time.Now()
  }
  return transaction.WithContext(ctx).
    Model(&types.Call{}).
    Where("id = ?", id).
    Updates(updates).Error
}

func (r *callRepo) SetStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, status string) error {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if id == uuid.Nil {
    return nil
  }
  rank := types.CallStatusRank(status)
  if rank < 0 {
    return fmt.Errorf("unknown call status %q", status)
  }
  current, err := r.GetByID(ctx, transaction, id)
  if err != nil {
    return err
  }
  if current == nil {
    return errors.New("call not found")
  }
  if types.CallStatusRank(current.Status) > rank {
    r.log.Debug("Refusing backwards status transition",
      "call_id", id,
      "from", current.Status,
      "to", status,
    )
    return nil
  }
  return transaction.WithContext(ctx).
    Model(&types.Call{}).
    Where("id = ?", id).
    Updates(map[string]interface{}{
      "status":     status,
      "updated_at": time.Now(),
    }).Error
}

func (r *callRepo) FindGroupCandidates(ctx context.Context, tx *gorm.DB, callerIDInternal string, windowStart, windowEnd time.Time, excludeID uuid.UUID, excludeStatuses []string) ([]*types.Call, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  var out []*types.Call
  if callerIDInternal == "" {
    return out, nil
  }
  q := transaction.WithContext(ctx).
    Where("caller_id_internal = ?", callerIDInternal).
    Where("start_time <= ?", windowEnd).
    Where("(end_time IS NULL OR end_time >= ?)", windowStart)
  if excludeID != uuid.Nil {
    q = q.Where("id <> ?", excludeID)
  }
  if len(excludeStatuses) > 0 {
    q = q.Where("status NOT IN ?", excludeStatuses)
  }
  if err := q.Order("start_time ASC").Find(&out).Error; err != nil {
    return nil, err
  }
  return out, nil
}

func (r *callRepo) UpdateGrouping(ctx context.Context, tx *gorm.DB, id uuid.UUID, groupID *uuid.UUID, legOrder *int) error {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if id == uuid.Nil {
    return nil
  }
  q := transaction.WithContext(ctx).
    Model(&types.Call{}).
    Where("id = ?", id)
  if groupID == nil {
    q = q.Where("call_group_id IS NOT NULL OR call_leg_order IS NOT NULL")
  } else if legOrder != nil {
    q = q.Where("call_group_id IS DISTINCT FROM ? OR call_leg_order IS DISTINCT FROM ?", *groupID, *legOrder)
  } else {
    q = q.Where("call_group_id IS DISTINCT FROM ?", *groupID)
  }
  return q.Updates(map[string]interface{}{
    "call_group_id":  groupID,
    "call_leg_order": legOrder,
    "updated_at":     time.Now(),
  }).Error
}

func (r *callRepo) ListByGroup(ctx context.Context, tx *gorm.DB, groupID uuid.UUID) ([]*types.Call, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  var out []*types.Call
  if groupID == uuid.Nil {
    return out, nil
  }
  if err := transaction.WithContext(ctx).
    Where("call_group_id = ?", groupID).
    Order("start_time ASC").
    Find(&out).Error; err != nil {
    return nil, err
  }
  return out, nil
}
