package call_process

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/callbridge-backend/internal/clients/gcp"
	"github.com/yungbote/callbridge-backend/internal/clients/twilio"
	jobrt "github.com/yungbote/callbridge-backend/internal/jobs/runtime"
	"github.com/yungbote/callbridge-backend/internal/logger"
	"github.com/yungbote/callbridge-backend/internal/services"
	"github.com/yungbote/callbridge-backend/internal/types"
)

func testLogger(tb testing.TB) *logger.Logger {
	tb.Helper()
	log, err := logger.New("test")
	if err != nil {
		tb.Fatalf("logger: %v", err)
	}
	return log
}

// ---- fakes ----

type fakeCallRepo struct {
	calls   map[uuid.UUID]*types.Call
	updates map[uuid.UUID]map[string]interface{}
}

func newFakeCallRepo(calls ...*types.Call) *fakeCallRepo {
	r := &fakeCallRepo{calls: map[uuid.UUID]*types.Call{}, updates: map[uuid.UUID]map[string]interface{}{}}
	for _, c := range calls {
		r.calls[c.ID] = c
	}
	return r
}

func (r *fakeCallRepo) Create(ctx context.Context, tx *gorm.DB, call *types.Call) (*types.Call, error) {
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
	merged, ok := r.updates[id]
	if !ok {
		merged = map[string]interface{}{}
		r.updates[id] = merged
	}
	for k, v := range updates {
		merged[k] = v
	}
	return nil
}

func (r *fakeCallRepo) SetStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, status string) error {
	c, ok := r.calls[id]
	if !ok {
		return fmt.Errorf("call %s not found", id)
	}
	if types.CallStatusRank(c.Status) > types.CallStatusRank(status) {
		return fmt.Errorf("refusing status transition %s -> %s", c.Status, status)
	}
	c.Status = status
	return nil
}

func (r *fakeCallRepo) FindGroupCandidates(ctx context.Context, tx *gorm.DB, callerIDInternal string, windowStart, windowEnd time.Time, excludeID uuid.UUID, excludeStatuses []string) ([]*types.Call, error) {
	return nil, nil
}

func (r *fakeCallRepo) UpdateGrouping(ctx context.Context, tx *gorm.DB, id uuid.UUID, groupID *uuid.UUID, legOrder *int) error {
	return nil
}

func (r *fakeCallRepo) ListByGroup(ctx context.Context, tx *gorm.DB, groupID uuid.UUID) ([]*types.Call, error) {
	return nil, nil
}

type fakeAgentRepo struct {
	byExtension map[string]*types.Agent
}

func (r *fakeAgentRepo) FindByExtension(ctx context.Context, tx *gorm.DB, extension string) (*types.Agent, error) {
	return r.byExtension[extension], nil
}

type fakeAnalysisRepo struct {
	upserted []*types.CallAnalysis
}

func (r *fakeAnalysisRepo) UpsertByCallID(ctx context.Context, tx *gorm.DB, analysis *types.CallAnalysis) error {
	r.upserted = append(r.upserted, analysis)
	return nil
}

func (r *fakeAnalysisRepo) GetByCallID(ctx context.Context, tx *gorm.DB, callID uuid.UUID) (*types.CallAnalysis, error) {
	for _, a := range r.upserted {
		if a.CallID == callID {
			return a, nil
		}
	}
	return nil, nil
}

type fakeEmbRepo struct {
	upserted []*types.CallTranscriptEmbedding
}

func (r *fakeEmbRepo) UpsertByCallAndSequence(ctx context.Context, tx *gorm.DB, emb *types.CallTranscriptEmbedding) error {
	r.upserted = append(r.upserted, emb)
	return nil
}

func (r *fakeEmbRepo) ListByCallID(ctx context.Context, tx *gorm.DB, callID uuid.UUID) ([]*types.CallTranscriptEmbedding, error) {
	return r.upserted, nil
}

func (r *fakeEmbRepo) CountByCallID(ctx context.Context, tx *gorm.DB, callID uuid.UUID) (int64, error) {
	return int64(len(r.upserted)), nil
}

type fakeProcLog struct {
	entries []*types.ProcessingLog
}

func (r *fakeProcLog) Append(ctx context.Context, tx *gorm.DB, entry *types.ProcessingLog) error {
	r.entries = append(r.entries, entry)
	return nil
}

func (r *fakeProcLog) ListByCallID(ctx context.Context, tx *gorm.DB, callID uuid.UUID, limit int) ([]*types.ProcessingLog, error) {
	return r.entries, nil
}

type fakeJobRunRepo struct {
	updates []map[string]interface{}
}

func (r *fakeJobRunRepo) Create(ctx context.Context, tx *gorm.DB, jobs []*types.JobRun) ([]*types.JobRun, error) {
	return jobs, nil
}

func (r *fakeJobRunRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.JobRun, error) {
	return nil, nil
}

func (r *fakeJobRunRepo) ClaimNextRunnable(ctx context.Context, tx *gorm.DB, maxAttempts int, retryDelay, staleRunning time.Duration) (*types.JobRun, error) {
	return nil, nil
}

func (r *fakeJobRunRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	r.updates = append(r.updates, updates)
	return nil
}

func (r *fakeJobRunRepo) Heartbeat(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	return nil
}

func (r *fakeJobRunRepo) CountByStatus(ctx context.Context, tx *gorm.DB) (map[string]int64, error) {
	return nil, nil
}

func (r *fakeJobRunRepo) ExistsActiveByDedupKey(ctx context.Context, tx *gorm.DB, jobType, dedupKey string) (bool, error) {
	return false, nil
}

func (r *fakeJobRunRepo) DeleteQueuedByDedupKey(ctx context.Context, tx *gorm.DB, jobType, dedupKey string) error {
	return nil
}

type fakeTwilio struct {
	recording *twilio.Recording
	err       error
	fetched   []string
}

func (t *fakeTwilio) ListRecordings(ctx context.Context, windowStart, windowEnd time.Time) ([]twilio.RecordingInfo, error) {
	return nil, nil
}

func (t *fakeTwilio) FetchRecording(ctx context.Context, sid string) (*twilio.Recording, error) {
	t.fetched = append(t.fetched, sid)
	if t.err != nil {
		return nil, t.err
	}
	return t.recording, nil
}

type fakeBucket struct {
	objects map[string][]byte
}

func newFakeBucket() *fakeBucket { return &fakeBucket{objects: map[string][]byte{}} }

func (b *fakeBucket) Put(ctx context.Context, key, contentType string, body []byte) error {
	b.objects[key] = body
	return nil
}

func (b *fakeBucket) Get(ctx context.Context, key string) ([]byte, error) {
	body, ok := b.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return body, nil
}

func (b *fakeBucket) GetRange(ctx context.Context, key string, offset, length int64) ([]byte, error) {
	return b.Get(ctx, key)
}

func (b *fakeBucket) Stat(ctx context.Context, key string) (*gcp.ObjectInfo, error) {
	return nil, nil
}

func (b *fakeBucket) Delete(ctx context.Context, key string) error {
	delete(b.objects, key)
	return nil
}

type fakeSpeech struct {
	transcript string
	err        error
	called     int
}

func (s *fakeSpeech) TranscribeAudioBytes(ctx context.Context, audio []byte, mimeType string) (string, error) {
	s.called++
	return s.transcript, s.err
}

func (s *fakeSpeech) Close() error { return nil }

type fakeOpenAI struct {
	analysis map[string]any
}

func (f *fakeOpenAI) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i := range inputs {
		out[i] = []float32{0.1, 0.2, 0.3}
	}
	return out, nil
}

func (f *fakeOpenAI) GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (map[string]any, error) {
	return f.analysis, nil
}

func (f *fakeOpenAI) ModelName() string      { return "test-model" }
func (f *fakeOpenAI) EmbedModelName() string { return "test-embed-model" }

type fakeResolver struct {
	companyID *uuid.UUID
}

func (r *fakeResolver) Resolve(ctx context.Context, tx *gorm.DB, externalNumber string) (*uuid.UUID, error) {
	if externalNumber == "" {
		return nil, services.ErrNoPhoneNumber
	}
	return r.companyID, nil
}

type fakeGrouping struct {
	grouped []uuid.UUID
}

func (g *fakeGrouping) GroupCall(ctx context.Context, callID uuid.UUID) error {
	g.grouped = append(g.grouped, callID)
	return nil
}

func (g *fakeGrouping) LinkCalls(ctx context.Context, callIDs []uuid.UUID) (uuid.UUID, error) {
	return uuid.Nil, nil
}

func (g *fakeGrouping) UnlinkCall(ctx context.Context, callID uuid.UUID) error { return nil }

// ---- harness ----

type harness struct {
	pipeline *Pipeline
	calls    *fakeCallRepo
	twilio   *fakeTwilio
	bucket   *fakeBucket
	speech   *fakeSpeech
	analysis *fakeAnalysisRepo
	emb      *fakeEmbRepo
	procLog  *fakeProcLog
	grouping *fakeGrouping
}

func newHarness(t *testing.T, calls *fakeCallRepo, tw *fakeTwilio, speech *fakeSpeech) *harness {
	t.Helper()
	log := testLogger(t)
	h := &harness{
		calls:    calls,
		twilio:   tw,
		bucket:   newFakeBucket(),
		speech:   speech,
		analysis: &fakeAnalysisRepo{},
		emb:      &fakeEmbRepo{},
		procLog:  &fakeProcLog{},
		grouping: &fakeGrouping{},
	}
	ai := &fakeOpenAI{analysis: map[string]any{
		"sentiment":  "positive",
		"mood":       "calm",
		"confidence": 0.8,
		"summary":    "The caller asked about their invoice.",
		"topics":     []any{"billing"},
	}}
	h.pipeline = New(
		nil,
		log,
		tw,
		h.bucket,
		speech,
		ai,
		services.NewChunkerService(log),
		services.NewAnalysisService(log, ai),
		&fakeResolver{},
		h.grouping,
		calls,
		&fakeAgentRepo{byExtension: map[string]*types.Agent{}},
		h.analysis,
		h.emb,
		h.procLog,
	)
	return h
}

func newJobContext(t *testing.T, callID uuid.UUID) (*jobrt.Context, *types.JobRun) {
	t.Helper()
	job := &types.JobRun{
		ID:       uuid.New(),
		JobType:  types.JobTypeCallProcess,
		Status:   types.JobStatusRunning,
		Attempts: 1,
		Payload:  datatypes.JSON([]byte(fmt.Sprintf(`{"call_id":%q}`, callID))),
	}
	return jobrt.NewContext(context.Background(), nil, job, &fakeJobRunRepo{}, nil), job
}

func dispatchedCall(sid string) *types.Call {
	return &types.Call{
		ID:        uuid.New(),
		CallSID:   sid,
		Status:    types.CallStatusDispatched,
		StartTime: time.Now().UTC().Add(-10 * time.Minute),
	}
}

func recordingFor(sid string) *twilio.Recording {
	return &twilio.Recording{
		Info: twilio.RecordingInfo{
			SID:              sid,
			Direction:        types.CallDirectionInbound,
			FromNumber:       "+15550001111",
			ToNumber:         "+15550009999",
			CallerIDInternal: "+15550001111",
			Duration:         "120",
		},
		Bytes:    []byte("RIFFfakeaudio"),
		MimeType: "audio/wav",
	}
}

// ---- tests ----

func TestRun_HappyPathCompletesCall(t *testing.T) {
	call := dispatchedCall("RE100")
	calls := newFakeCallRepo(call)
	tw := &fakeTwilio{recording: recordingFor("RE100")}
	speech := &fakeSpeech{transcript: "Agent: hello. Caller: I have a question about my invoice."}
	h := newHarness(t, calls, tw, speech)
	jc, job := newJobContext(t, call.ID)

	if err := h.pipeline.Run(jc); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if job.Status != types.JobStatusSucceeded {
		t.Fatalf("expected job succeeded, got %s (stage %s, error %s)", job.Status, job.Stage, job.Error)
	}
	if job.Stage != "done" {
		t.Fatalf("expected final stage done, got %s", job.Stage)
	}
	if call.Status != types.CallStatusCompleted {
		t.Fatalf("expected call COMPLETED, got %s", call.Status)
	}
	if _, ok := h.bucket.objects["recordings/RE100.wav"]; !ok {
		t.Fatalf("expected audio stored, have %v", h.bucket.objects)
	}
	if _, ok := h.bucket.objects["transcripts/RE100.txt"]; !ok {
		t.Fatalf("expected transcript stored")
	}
	if len(h.emb.upserted) == 0 {
		t.Fatalf("expected at least one embedding upserted")
	}
	if h.emb.upserted[0].ChunkSequence != 0 {
		t.Fatalf("expected chunk sequences starting at 0, got %d", h.emb.upserted[0].ChunkSequence)
	}
	if len(h.analysis.upserted) != 1 {
		t.Fatalf("expected one analysis row, got %d", len(h.analysis.upserted))
	}
	if h.analysis.upserted[0].Sentiment != "positive" {
		t.Fatalf("expected sentiment recorded, got %q", h.analysis.upserted[0].Sentiment)
	}
	if len(h.grouping.grouped) != 1 || h.grouping.grouped[0] != call.ID {
		t.Fatalf("expected grouping invoked for the call once, got %v", h.grouping.grouped)
	}
}

func TestRun_TerminalCallIsNoOpSuccess(t *testing.T) {
	call := dispatchedCall("RE101")
	call.Status = types.CallStatusCompleted
	calls := newFakeCallRepo(call)
	tw := &fakeTwilio{}
	h := newHarness(t, calls, tw, &fakeSpeech{})
	jc, job := newJobContext(t, call.ID)

	if err := h.pipeline.Run(jc); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if job.Status != types.JobStatusSucceeded || job.Stage != "already_terminal" {
		t.Fatalf("expected no-op success, got status=%s stage=%s", job.Status, job.Stage)
	}
	if len(tw.fetched) != 0 {
		t.Fatalf("expected no recording fetch for a terminal call")
	}
	if len(h.grouping.grouped) != 0 {
		t.Fatalf("expected no grouping for a terminal replay")
	}
}

func TestRun_InternalCallSkipped(t *testing.T) {
	call := dispatchedCall("RE102")
	calls := newFakeCallRepo(call)
	rec := recordingFor("RE102")
	rec.Info.FromNumber = "1234"
	rec.Info.CallerIDInternal = "1234"
	tw := &fakeTwilio{recording: rec}
	speech := &fakeSpeech{transcript: "should never run"}
	h := newHarness(t, calls, tw, speech)
	jc, job := newJobContext(t, call.ID)

	if err := h.pipeline.Run(jc); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if job.Status != types.JobStatusSucceeded || job.Stage != "internal_call_skipped" {
		t.Fatalf("expected skip success, got status=%s stage=%s", job.Status, job.Stage)
	}
	if call.Status != types.CallStatusInternalSkipped {
		t.Fatalf("expected INTERNAL_CALL_SKIPPED, got %s", call.Status)
	}
	if len(h.bucket.objects) != 0 {
		t.Fatalf("expected no audio stored for an internal call")
	}
	if speech.called != 0 {
		t.Fatalf("expected no transcription for an internal call")
	}
}

func TestRun_UndeterminableExternalNumberSkipped(t *testing.T) {
	call := dispatchedCall("RE106")
	calls := newFakeCallRepo(call)
	rec := recordingFor("RE106")
	rec.Info.FromNumber = ""
	rec.Info.ToNumber = ""
	rec.Info.CallerIDInternal = ""
	tw := &fakeTwilio{recording: rec}
	speech := &fakeSpeech{transcript: "should never run"}
	h := newHarness(t, calls, tw, speech)
	jc, job := newJobContext(t, call.ID)

	if err := h.pipeline.Run(jc); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if job.Status != types.JobStatusSucceeded || job.Stage != "internal_call_skipped" {
		t.Fatalf("expected skip success, got status=%s stage=%s", job.Status, job.Stage)
	}
	if call.Status != types.CallStatusInternalSkipped {
		t.Fatalf("expected INTERNAL_CALL_SKIPPED, got %s", call.Status)
	}
	if len(h.bucket.objects) != 0 {
		t.Fatalf("expected no audio stored without an external number")
	}
	if speech.called != 0 {
		t.Fatalf("expected no transcription without an external number")
	}
}

func TestRun_EmptyTranscriptIsTerminalPartialSuccess(t *testing.T) {
	call := dispatchedCall("RE103")
	calls := newFakeCallRepo(call)
	tw := &fakeTwilio{recording: recordingFor("RE103")}
	speech := &fakeSpeech{transcript: "   "}
	h := newHarness(t, calls, tw, speech)
	jc, job := newJobContext(t, call.ID)

	if err := h.pipeline.Run(jc); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if job.Status != types.JobStatusSucceeded || job.Stage != "transcription_failed" {
		t.Fatalf("expected partial success, got status=%s stage=%s", job.Status, job.Stage)
	}
	if call.Status != types.CallStatusTranscriptionFailed {
		t.Fatalf("expected TRANSCRIPTION_FAILED, got %s", call.Status)
	}
	if _, ok := h.bucket.objects["recordings/RE103.wav"]; !ok {
		t.Fatalf("expected audio kept even without a transcript")
	}
	if len(h.grouping.grouped) != 1 {
		t.Fatalf("expected grouping still invoked, got %v", h.grouping.grouped)
	}
	if len(h.emb.upserted) != 0 || len(h.analysis.upserted) != 0 {
		t.Fatalf("expected no embeddings or analysis without a transcript")
	}
}

func TestRun_ResumesPastTranscriptionFromStoredTranscript(t *testing.T) {
	call := dispatchedCall("RE104")
	call.Status = types.CallStatusChunked
	key := "transcripts/RE104.txt"
	call.TranscriptKey = &key
	calls := newFakeCallRepo(call)
	tw := &fakeTwilio{}
	speech := &fakeSpeech{transcript: "should never run"}
	h := newHarness(t, calls, tw, speech)
	h.bucket.objects[key] = []byte("Agent: calling back about the earlier issue.")
	jc, job := newJobContext(t, call.ID)

	if err := h.pipeline.Run(jc); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if job.Status != types.JobStatusSucceeded || job.Stage != "done" {
		t.Fatalf("expected resumed run to finish, got status=%s stage=%s error=%s", job.Status, job.Stage, job.Error)
	}
	if len(tw.fetched) != 0 {
		t.Fatalf("expected no refetch when resuming past transcription")
	}
	if speech.called != 0 {
		t.Fatalf("expected no re-transcription when resuming")
	}
	if call.Status != types.CallStatusCompleted {
		t.Fatalf("expected call COMPLETED, got %s", call.Status)
	}
	if len(h.emb.upserted) == 0 {
		t.Fatalf("expected embeddings written on resume")
	}
}

func TestRun_MissingCallIDFailsValidation(t *testing.T) {
	h := newHarness(t, newFakeCallRepo(), &fakeTwilio{}, &fakeSpeech{})
	job := &types.JobRun{
		ID:      uuid.New(),
		JobType: types.JobTypeCallProcess,
		Status:  types.JobStatusRunning,
		Payload: datatypes.JSON([]byte(`{}`)),
	}
	jc := jobrt.NewContext(context.Background(), nil, job, &fakeJobRunRepo{}, nil)

	if err := h.pipeline.Run(jc); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if job.Status != types.JobStatusFailed || job.Stage != "validate" {
		t.Fatalf("expected validation failure, got status=%s stage=%s", job.Status, job.Stage)
	}
}

func TestRun_FetchErrorFailsJobAndLogsStep(t *testing.T) {
	call := dispatchedCall("RE105")
	calls := newFakeCallRepo(call)
	tw := &fakeTwilio{err: fmt.Errorf("upstream 500")}
	h := newHarness(t, calls, tw, &fakeSpeech{})
	jc, job := newJobContext(t, call.ID)

	if err := h.pipeline.Run(jc); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if job.Status != types.JobStatusFailed || job.Stage != "fetch" {
		t.Fatalf("expected fetch failure, got status=%s stage=%s", job.Status, job.Stage)
	}
	found := false
	for _, e := range h.procLog.entries {
		if e.Level == types.LogLevelError && e.Stage == "fetch" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an error audit row for the failed step, got %+v", h.procLog.entries)
	}
}
