package call_sync_dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/yungbote/callbridge-backend/internal/clients/twilio"
	jobrt "github.com/yungbote/callbridge-backend/internal/jobs/runtime"
	"github.com/yungbote/callbridge-backend/internal/types"
	"github.com/yungbote/callbridge-backend/internal/utils"
)

func (p *Pipeline) Run(jc *jobrt.Context) error {
	if jc == nil || jc.Job == nil {
		return nil
	}

	windowStart, windowEnd := p.syncWindow(time.Now().UTC())

	jc.Progress("list_recordings")
	infos, err := p.recordings.ListRecordings(jc.Ctx, windowStart, windowEnd)
	if err != nil {
		// No immediate retry on a listing failure; the overlap buffer
		// means the next scheduled fire re-covers this window.
		p.log.Error("Listing recordings failed, deferring to next sync",
			"window_start", windowStart,
			"window_end", windowEnd,
			"error", err,
		)
		jc.Succeed("list_failed", map[string]any{
			"window_start": windowStart,
			"window_end":   windowEnd,
			"error":        err.Error(),
		})
		return nil
	}
	p.log.Info("Listed recordings for sync window",
		"window_start", windowStart,
		"window_end", windowEnd,
		"count", len(infos),
	)

	jc.Progress("dispatch")
	dispatched := 0
	skipped := 0
	resumed := 0
	for _, info := range infos {
		outcome, err := p.dispatchOne(jc.Ctx, info)
		if err != nil {
			// One bad recording must not sink the whole window; the next
			// sync picks it up again through the overlap buffer.
			p.log.Error("Failed to dispatch recording", "call_sid", info.SID, "error", err)
			continue
		}
		switch outcome {
		case outcomeDispatched:
			dispatched++
		case outcomeResumed:
			resumed++
		default:
			skipped++
		}
	}

	jc.Succeed("done", map[string]any{
		"window_start": windowStart.Format(time.RFC3339),
		"window_end":   windowEnd.Format(time.RFC3339),
		"listed":       len(infos),
		"dispatched":   dispatched,
		"resumed":      resumed,
		"skipped":      skipped,
	})
	return nil
}

// syncWindow is the listing window for one dispatch run. The overlap
// buffer deliberately re-lists the tail of the previous window;
// dedup on call sid makes the overlap harmless and it covers
// recordings that landed just after the previous run listed.
func (p *Pipeline) syncWindow(now time.Time) (time.Time, time.Time) {
	intervalMinutes := utils.GetEnvAsInt("SYNC_INTERVAL_MINUTES", 15, p.log)
	if intervalMinutes < 1 {
		intervalMinutes = 15
	}
	overlapSeconds := utils.GetEnvAsInt("SYNC_OVERLAP_BUFFER_SECONDS", 60, p.log)
	if overlapSeconds < 0 {
		overlapSeconds = 0
	}
	windowStart := now.
		Add(-time.Duration(intervalMinutes) * time.Minute).
		Add(-time.Duration(overlapSeconds) * time.Second)
	return windowStart, now
}

type dispatchOutcome int

const (
	outcomeSkipped dispatchOutcome = iota
	outcomeDispatched
	outcomeResumed
)

func (p *Pipeline) dispatchOne(ctx context.Context, info twilio.RecordingInfo) (dispatchOutcome, error) {
	sid := info.SID
	if sid == "" {
		return outcomeSkipped, fmt.Errorf("recording listing missing sid")
	}

	existing, err := p.callRepo.GetByCallSID(ctx, nil, sid)
	if err != nil {
		return outcomeSkipped, err
	}

	if existing != nil {
		if types.CallStatusTerminal(existing.Status) {
			return outcomeSkipped, nil
		}
		// Known but unfinished: re-enqueue so a call stranded by a
		// crashed worker or exhausted retries gets another chance.
		job, err := p.jobService.EnqueueUnique(ctx, nil, types.JobTypeCallProcess, processDedupKey(sid), processPayload(existing.ID.String(), sid))
		if err != nil {
			return outcomeSkipped, err
		}
		if job == nil {
			return outcomeSkipped, nil
		}
		return outcomeResumed, nil
	}

	call := &types.Call{
		CallSID:          sid,
		Status:           types.CallStatusDispatched,
		Direction:        info.Direction,
		CallerIDInternal: info.CallerIDInternal,
	}
	if start, ok := info.ParsedStart(); ok {
		call.StartTime = start
	} else {
		call.StartTime = time.Now().UTC()
	}
	if dur, ok := info.ParsedDuration(); ok {
		call.DurationSeconds = &dur
		end := call.StartTime.Add(time.Duration(dur) * time.Second)
		call.EndTime = &end
	}
	call.ExternalNumber = externalNumber(info)

	created, err := p.callRepo.Create(ctx, nil, call)
	if err != nil {
		return outcomeSkipped, err
	}

	if err := p.procLog.Append(ctx, nil, &types.ProcessingLog{
		CallID:  created.ID,
		Level:   types.LogLevelInfo,
		Stage:   "dispatch",
		Message: "call discovered and queued for processing",
	}); err != nil {
		p.log.Warn("Failed to append dispatch log", "call_sid", sid, "error", err)
	}

	if _, err := p.jobService.EnqueueUnique(ctx, nil, types.JobTypeCallProcess, processDedupKey(sid), processPayload(created.ID.String(), sid)); err != nil {
		return outcomeSkipped, err
	}
	return outcomeDispatched, nil
}

// externalNumber picks the non-internal party's number off the listing:
// the caller for inbound legs, the callee for outbound ones.
func externalNumber(info twilio.RecordingInfo) string {
	if info.Direction == types.CallDirectionOutbound {
		return info.ToNumber
	}
	return info.FromNumber
}

func processDedupKey(sid string) string {
	return "call_process:" + sid
}

func processPayload(callID, sid string) map[string]any {
	return map[string]any{
		"call_id":  callID,
		"call_sid": sid,
	}
}
