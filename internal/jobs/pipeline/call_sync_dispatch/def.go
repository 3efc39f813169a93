package call_sync_dispatch

import (
	"gorm.io/gorm"

	"github.com/yungbote/callbridge-backend/internal/clients/twilio"
	"github.com/yungbote/callbridge-backend/internal/logger"
	"github.com/yungbote/callbridge-backend/internal/repos"
	"github.com/yungbote/callbridge-backend/internal/services"
	"github.com/yungbote/callbridge-backend/internal/types"
)

// Pipeline is the sync dispatch stage: it lists recordings created in
// the sync window and fans out one call_process job per recording. It
// never downloads audio itself; that stays in the per-call job.
type Pipeline struct {
	db         *gorm.DB
	log        *logger.Logger
	recordings twilio.Client
	callRepo   repos.CallRepo
	procLog    repos.ProcessingLogRepo
	jobService services.JobService
}

func New(
	db *gorm.DB,
	baseLog *logger.Logger,
	recordings twilio.Client,
	callRepo repos.CallRepo,
	procLog repos.ProcessingLogRepo,
	jobService services.JobService,
) *Pipeline {
	return &Pipeline{
		db:         db,
		log:        baseLog.With("job", types.JobTypeCallSyncDispatch),
		recordings: recordings,
		callRepo:   callRepo,
		procLog:    procLog,
		jobService: jobService,
	}
}

func (p *Pipeline) Type() string { return types.JobTypeCallSyncDispatch }
