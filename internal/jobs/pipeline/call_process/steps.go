package call_process

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/callbridge-backend/internal/services"
	"github.com/yungbote/callbridge-backend/internal/types"
	"github.com/yungbote/callbridge-backend/internal/utils"
)

// fetchAndStore downloads the recording, fills in listing metadata the
// dispatch stage did not have, and persists the audio. It reports
// calls with no usable external number (internal legs, or listings with
// neither party populated) so the caller can end processing early.
func (p *Pipeline) fetchAndStore(ctx context.Context, call *types.Call) (bool, error) {
	if err := p.setStatus(ctx, call, types.CallStatusFetching); err != nil {
		return false, err
	}

	rec, err := p.recordings.FetchRecording(ctx, call.CallSID)
	if err != nil {
		return false, fmt.Errorf("fetch recording: %w", err)
	}

	updates := map[string]interface{}{}
	if call.Direction == "" && rec.Info.Direction != "" {
		call.Direction = rec.Info.Direction
		updates["direction"] = rec.Info.Direction
	}
	if call.CallerIDInternal == "" && rec.Info.CallerIDInternal != "" {
		call.CallerIDInternal = rec.Info.CallerIDInternal
		updates["caller_id_internal"] = rec.Info.CallerIDInternal
	}
	if call.ExternalNumber == "" {
		external := rec.Info.FromNumber
		if call.Direction == types.CallDirectionOutbound {
			external = rec.Info.ToNumber
		}
		if external != "" {
			call.ExternalNumber = external
			updates["external_number"] = external
		}
	}
	if call.DurationSeconds == nil {
		if dur, ok := rec.Info.ParsedDuration(); ok {
			call.DurationSeconds = &dur
			end := call.StartTime.Add(time.Duration(dur) * time.Second)
			call.EndTime = &end
			updates["duration_seconds"] = dur
			updates["end_time"] = end
		}
	}

	if call.ExternalNumber == "" || services.IsInternalExtension(call.ExternalNumber) {
		if len(updates) > 0 {
			if err := p.callRepo.UpdateFields(ctx, nil, call.ID, updates); err != nil {
				return false, err
			}
		}
		if err := p.setStatus(ctx, call, types.CallStatusInternalSkipped); err != nil {
			return false, err
		}
		p.appendLog(ctx, call, types.LogLevelInfo, "fetch", "internal call, processing skipped")
		return true, nil
	}

	if err := p.attribute(ctx, call, rec.Info.AgentExtension, rec.Info.FirstAnswerExtension, updates); err != nil {
		return false, err
	}

	key := recordingKey(call.CallSID, rec.MimeType)
	if err := p.bucket.Put(ctx, key, rec.MimeType, rec.Bytes); err != nil {
		return false, fmt.Errorf("store audio: %w", err)
	}
	call.RecordingKey = &key
	updates["recording_key"] = key

	if err := p.callRepo.UpdateFields(ctx, nil, call.ID, updates); err != nil {
		return false, err
	}
	if err := p.setStatus(ctx, call, types.CallStatusAudioStored); err != nil {
		return false, err
	}
	p.appendLog(ctx, call, types.LogLevelInfo, "fetch", fmt.Sprintf("audio stored at %s (%d bytes)", key, len(rec.Bytes)))
	return false, nil
}

// attribute resolves the owning company from the external number and
// the handling agent from the answering extension. Neither resolving to
// nothing is an error; calls from unknown numbers are still processed.
func (p *Pipeline) attribute(ctx context.Context, call *types.Call, agentExt, firstAnswerExt string, updates map[string]interface{}) error {
	if call.CompanyID == nil {
		companyID, err := p.resolver.Resolve(ctx, nil, call.ExternalNumber)
		if err != nil && !errors.Is(err, services.ErrNoPhoneNumber) {
			return err
		}
		if companyID != nil {
			call.CompanyID = companyID
			updates["company_id"] = *companyID
		}
	}

	if call.AgentID == nil {
		// The final answering leg's extension wins; the first-answer
		// extension only matters when nothing else answered.
		ext := strings.TrimSpace(agentExt)
		if ext == "" {
			ext = strings.TrimSpace(firstAnswerExt)
		}
		if ext != "" {
			agent, err := p.agentRepo.FindByExtension(ctx, nil, ext)
			if err != nil {
				return err
			}
			if agent != nil {
				id := agent.ID
				call.AgentID = &id
				updates["agent_id"] = id
			}
		}
	}
	return nil
}

// transcribe turns the stored audio into text. An empty transcript is a
// terminal partial success (TRANSCRIPTION_FAILED), reported via the
// second return value.
func (p *Pipeline) transcribe(ctx context.Context, call *types.Call) (string, bool, error) {
	if err := p.setStatus(ctx, call, types.CallStatusTranscribing); err != nil {
		return "", false, err
	}
	if call.RecordingKey == nil || *call.RecordingKey == "" {
		return "", false, fmt.Errorf("call %s has no stored recording", call.ID)
	}

	audio, err := p.bucket.Get(ctx, *call.RecordingKey)
	if err != nil {
		return "", false, fmt.Errorf("load audio: %w", err)
	}

	text, err := p.speech.TranscribeAudioBytes(ctx, audio, mimeFromKey(*call.RecordingKey))
	if err != nil {
		return "", false, fmt.Errorf("transcribe: %w", err)
	}

	if strings.TrimSpace(text) == "" {
		if err := p.setStatus(ctx, call, types.CallStatusTranscriptionFailed); err != nil {
			return "", false, err
		}
		p.appendLog(ctx, call, types.LogLevelError, "transcribe", "empty transcript, call kept with audio only")
		return "", true, nil
	}

	key := transcriptKey(call.CallSID)
	if err := p.bucket.Put(ctx, key, "text/plain; charset=utf-8", []byte(text)); err != nil {
		return "", false, fmt.Errorf("store transcript: %w", err)
	}
	call.TranscriptKey = &key
	if err := p.callRepo.UpdateFields(ctx, nil, call.ID, map[string]interface{}{"transcript_key": key}); err != nil {
		return "", false, err
	}
	if err := p.setStatus(ctx, call, types.CallStatusChunked); err != nil {
		return "", false, err
	}
	p.appendLog(ctx, call, types.LogLevelInfo, "transcribe", fmt.Sprintf("transcript stored at %s (%d chars)", key, len(text)))
	return text, false, nil
}

// loadTranscript re-reads the stored transcript when a retried job
// resumes past the transcription step.
func (p *Pipeline) loadTranscript(ctx context.Context, call *types.Call) (string, error) {
	if call.TranscriptKey == nil || *call.TranscriptKey == "" {
		return "", fmt.Errorf("call %s has no stored transcript", call.ID)
	}
	raw, err := p.bucket.Get(ctx, *call.TranscriptKey)
	if err != nil {
		return "", fmt.Errorf("load transcript: %w", err)
	}
	return string(raw), nil
}

// embedChunks re-chunks the transcript (chunking is deterministic, so
// retries produce identical chunks) and upserts one embedding per
// chunk.
func (p *Pipeline) embedChunks(ctx context.Context, call *types.Call, transcript string) error {
	if err := p.setStatus(ctx, call, types.CallStatusEmbedding); err != nil {
		return err
	}

	chunks := p.chunker.Chunk(transcript)
	if len(chunks) == 0 {
		return fmt.Errorf("transcript produced no chunks")
	}

	tokenLimit := utils.GetEnvAsInt("EMBED_TOKEN_LIMIT", 8191, p.log)
	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		if chunk.TokenCount > tokenLimit {
			return fmt.Errorf("chunk %d estimated at %d tokens exceeds embedding limit %d", chunk.Sequence, chunk.TokenCount, tokenLimit)
		}
		texts[i] = chunk.Text
	}

	vectors, err := p.ai.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return fmt.Errorf("embedding count mismatch: %d chunks, %d vectors", len(chunks), len(vectors))
	}

	for i, chunk := range chunks {
		raw, err := json.Marshal(vectors[i])
		if err != nil {
			return fmt.Errorf("marshal vector for chunk %d: %w", chunk.Sequence, err)
		}
		if err := p.embRepo.UpsertByCallAndSequence(ctx, nil, &types.CallTranscriptEmbedding{
			CallID:        call.ID,
			ChunkSequence: chunk.Sequence,
			Vector:        raw,
			Model:         p.ai.EmbedModelName(),
			TokenCount:    chunk.TokenCount,
		}); err != nil {
			return err
		}
	}

	if err := p.setStatus(ctx, call, types.CallStatusAnalyzing); err != nil {
		return err
	}
	p.appendLog(ctx, call, types.LogLevelInfo, "embed", fmt.Sprintf("embedded %d chunks", len(chunks)))
	return nil
}

// analyzeAndFinalize runs the structured analysis and commits the
// result, the COMPLETED status, and the success audit row in one
// transaction, so a crash between them cannot leave a completed call
// without its analysis.
func (p *Pipeline) analyzeAndFinalize(ctx context.Context, call *types.Call, transcript string) error {
	meta := services.AnalysisContext{Direction: call.Direction}
	if call.DurationSeconds != nil {
		meta.DurationSeconds = *call.DurationSeconds
	}
	if call.Company != nil {
		meta.CompanyName = call.Company.Name
	}

	result, err := p.analysis.AnalyzeTranscript(ctx, transcript, meta)
	if err != nil {
		return err
	}

	err = p.inTx(ctx, func(tx *gorm.DB) error {
		if err := p.analysisRepo.UpsertByCallID(ctx, tx, &types.CallAnalysis{
			CallID:     call.ID,
			CompanyID:  call.CompanyID,
			Sentiment:  result.Sentiment,
			Mood:       result.Mood,
			Confidence: result.Confidence,
			Payload:    result.Payload,
			Model:      result.Model,
		}); err != nil {
			return err
		}
		if err := p.callRepo.SetStatus(ctx, tx, call.ID, types.CallStatusCompleted); err != nil {
			return err
		}
		return p.procLog.Append(ctx, tx, &types.ProcessingLog{
			CallID:    call.ID,
			CompanyID: call.CompanyID,
			Level:     types.LogLevelSuccess,
			Stage:     "analyze",
			Message:   "processing completed",
		})
	})
	if err != nil {
		return err
	}

	call.Status = types.CallStatusCompleted
	return nil
}

// inTx runs fn inside a transaction when a db handle is present; a nil
// handle falls through to the repos' own connections.
func (p *Pipeline) inTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if p.db == nil {
		return fn(nil)
	}
	return p.db.WithContext(ctx).Transaction(fn)
}

func (p *Pipeline) groupBestEffort(ctx context.Context, call *types.Call) {
	if err := p.grouping.GroupCall(ctx, call.ID); err != nil {
		p.log.Error("Call grouping failed", "call_id", call.ID, "error", err)
		p.appendLog(ctx, call, types.LogLevelError, "group", err.Error())
	}
}

func (p *Pipeline) setStatus(ctx context.Context, call *types.Call, status string) error {
	if err := p.callRepo.SetStatus(ctx, nil, call.ID, status); err != nil {
		return err
	}
	call.Status = status
	return nil
}

func (p *Pipeline) appendLog(ctx context.Context, call *types.Call, level, stage, message string) {
	if err := p.procLog.Append(ctx, nil, &types.ProcessingLog{
		CallID:    call.ID,
		CompanyID: call.CompanyID,
		Level:     level,
		Stage:     stage,
		Message:   message,
	}); err != nil {
		p.log.Warn("Failed to append processing log", "call_id", call.ID, "stage", stage, "error", err)
	}
}

// stepFailed records a failed step in the call's audit trail; the job
// retry machinery handles the rest.
func (p *Pipeline) stepFailed(ctx context.Context, call *types.Call, stage string, err error) {
	p.appendLog(ctx, call, types.LogLevelError, stage, err.Error())
}

func recordingKey(sid, mimeType string) string {
	return "recordings/" + sid + "." + extFromMime(mimeType)
}

func transcriptKey(sid string) string {
	return "transcripts/" + sid + ".txt"
}

func extFromMime(mimeType string) string {
	m := strings.ToLower(strings.TrimSpace(mimeType))
	switch {
	case strings.Contains(m, "mpeg") || strings.Contains(m, "mp3"):
		return "mp3"
	case strings.Contains(m, "ogg") || strings.Contains(m, "opus"):
		return "ogg"
	case strings.Contains(m, "flac"):
		return "flac"
	default:
		return "wav"
	}
}

func mimeFromKey(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".mp3":
		return "audio/mpeg"
	case ".ogg":
		return "audio/ogg"
	case ".flac":
		return "audio/flac"
	default:
		return "audio/wav"
	}
}
