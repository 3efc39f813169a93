package call_process

import (
	"fmt"

	"github.com/google/uuid"

	jobrt "github.com/yungbote/callbridge-backend/internal/jobs/runtime"
	"github.com/yungbote/callbridge-backend/internal/types"
)

func (p *Pipeline) Run(jc *jobrt.Context) error {
	if jc == nil || jc.Job == nil {
		return nil
	}

	callID, ok := jc.PayloadUUID("call_id")
	if !ok || callID == uuid.Nil {
		jc.Fail("validate", fmt.Errorf("missing call_id"))
		return nil
	}

	call, err := p.callRepo.GetByID(jc.Ctx, nil, callID)
	if err != nil {
		jc.Fail("load", err)
		return nil
	}
	if call == nil {
		jc.Fail("load", fmt.Errorf("call %s not found", callID))
		return nil
	}

	// A replayed job for a finished call is a no-op success, not an
	// error; overlap in the sync window makes replays routine.
	if types.CallStatusTerminal(call.Status) {
		jc.Succeed("already_terminal", map[string]any{
			"call_id": call.ID.String(),
			"status":  call.Status,
		})
		return nil
	}

	// Fetch + store audio.
	if types.CallStatusRank(call.Status) <= types.CallStatusRank(types.CallStatusFetching) {
		jc.Progress("fetch")
		internal, err := p.fetchAndStore(jc.Ctx, call)
		if err != nil {
			p.stepFailed(jc.Ctx, call, "fetch", err)
			jc.Fail("fetch", err)
			return nil
		}
		if internal {
			jc.Succeed("internal_call_skipped", map[string]any{
				"call_id": call.ID.String(),
				"status":  call.Status,
			})
			return nil
		}
	}

	// Transcribe.
	var transcript string
	if types.CallStatusRank(call.Status) <= types.CallStatusRank(types.CallStatusTranscribing) {
		jc.Progress("transcribe")
		text, empty, err := p.transcribe(jc.Ctx, call)
		if err != nil {
			p.stepFailed(jc.Ctx, call, "transcribe", err)
			jc.Fail("transcribe", err)
			return nil
		}
		if empty {
			// Terminal partial success: audio is stored, grouping still
			// runs, but there is nothing to chunk or analyze.
			p.groupBestEffort(jc.Ctx, call)
			jc.Succeed("transcription_failed", map[string]any{
				"call_id": call.ID.String(),
				"status":  call.Status,
			})
			return nil
		}
		transcript = text
	} else {
		text, err := p.loadTranscript(jc.Ctx, call)
		if err != nil {
			p.stepFailed(jc.Ctx, call, "load_transcript", err)
			jc.Fail("load_transcript", err)
			return nil
		}
		transcript = text
	}

	// Chunk + embed.
	if types.CallStatusRank(call.Status) <= types.CallStatusRank(types.CallStatusEmbedding) {
		jc.Progress("embed")
		if err := p.embedChunks(jc.Ctx, call, transcript); err != nil {
			p.stepFailed(jc.Ctx, call, "embed", err)
			jc.Fail("embed", err)
			return nil
		}
	}

	// Analyze + finalize.
	if types.CallStatusRank(call.Status) <= types.CallStatusRank(types.CallStatusAnalyzing) {
		jc.Progress("analyze")
		if err := p.analyzeAndFinalize(jc.Ctx, call, transcript); err != nil {
			p.stepFailed(jc.Ctx, call, "analyze", err)
			jc.Fail("analyze", err)
			return nil
		}
	}

	// Grouping runs after the call is committed COMPLETED. A grouping
	// failure is logged but never fails the call: the data is all
	// there, and the next leg's grouping pass will pick this one up.
	p.groupBestEffort(jc.Ctx, call)

	jc.Succeed("done", map[string]any{
		"call_id": call.ID.String(),
		"status":  call.Status,
	})
	return nil
}
