package call_process

import (
	"gorm.io/gorm"

	"github.com/yungbote/callbridge-backend/internal/clients/gcp"
	"github.com/yungbote/callbridge-backend/internal/clients/openai"
	"github.com/yungbote/callbridge-backend/internal/clients/twilio"
	"github.com/yungbote/callbridge-backend/internal/logger"
	"github.com/yungbote/callbridge-backend/internal/repos"
	"github.com/yungbote/callbridge-backend/internal/services"
	"github.com/yungbote/callbridge-backend/internal/types"
)

// Pipeline drives one call end to end: fetch audio, store it,
// transcribe, chunk, embed, analyze, then hand the finished call to the
// grouping engine. Progress is checkpointed on the call row itself, so
// a retried job resumes from the last completed step instead of
// starting over.
type Pipeline struct {
	db           *gorm.DB
	log          *logger.Logger
	recordings   twilio.Client
	bucket       gcp.BucketService
	speech       gcp.Speech
	ai           openai.Client
	chunker      services.ChunkerService
	analysis     services.AnalysisService
	resolver     services.CompanyResolverService
	grouping     services.CallGroupingService
	callRepo     repos.CallRepo
	agentRepo    repos.AgentRepo
	analysisRepo repos.CallAnalysisRepo
	embRepo      repos.CallTranscriptEmbeddingRepo
	procLog      repos.ProcessingLogRepo
}

func New(
	db *gorm.DB,
	baseLog *logger.Logger,
	recordings twilio.Client,
	bucket gcp.BucketService,
	speech gcp.Speech,
	ai openai.Client,
	chunker services.ChunkerService,
	analysis services.AnalysisService,
	resolver services.CompanyResolverService,
	grouping services.CallGroupingService,
	callRepo repos.CallRepo,
	agentRepo repos.AgentRepo,
	analysisRepo repos.CallAnalysisRepo,
	embRepo repos.CallTranscriptEmbeddingRepo,
	procLog repos.ProcessingLogRepo,
) *Pipeline {
	return &Pipeline{
		db:           db,
		log:          baseLog.With("job", types.JobTypeCallProcess),
		recordings:   recordings,
		bucket:       bucket,
		speech:       speech,
		ai:           ai,
		chunker:      chunker,
		analysis:     analysis,
		resolver:     resolver,
		grouping:     grouping,
		callRepo:     callRepo,
		agentRepo:    agentRepo,
		analysisRepo: analysisRepo,
		embRepo:      embRepo,
		procLog:      procLog,
	}
}

func (p *Pipeline) Type() string { return types.JobTypeCallProcess }
