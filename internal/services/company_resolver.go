package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/callbridge-backend/internal/clients/redis"
	"github.com/yungbote/callbridge-backend/internal/logger"
	"github.com/yungbote/callbridge-backend/internal/repos"
)

// ErrNoPhoneNumber is returned when a call leg carries no external
// number to resolve against; internal-only legs hit this.
var ErrNoPhoneNumber = errors.New("call has no external phone number")

const (
	companyCacheTTL     = 15 * time.Minute
	companyCacheMissVal = "-"
)

// CompanyResolverService maps an external phone number to the company
// that owns it. Lookups are cached because the same numbers recur
// heavily within a sync window.
type CompanyResolverService interface {
	Resolve(ctx context.Context, tx *gorm.DB, externalNumber string) (*uuid.UUID, error)
}

type companyResolverService struct {
	log         *logger.Logger
	companyRepo repos.CompanyRepo
	cache       redis.Cache
}

func NewCompanyResolverService(baseLog *logger.Logger, companyRepo repos.CompanyRepo, cache redis.Cache) CompanyResolverService {
	return &companyResolverService{
		log:         baseLog.With("service", "CompanyResolverService"),
		companyRepo: companyRepo,
		cache:       cache,
	}
}

// Resolve returns the company id owning externalNumber, or nil when no
// company claims it. A missing number is an error so callers can tell
// "nothing to resolve" apart from "resolved to nobody".
func (s *companyResolverService) Resolve(ctx context.Context, tx *gorm.DB, externalNumber string) (*uuid.UUID, error) {
	number := strings.TrimSpace(externalNumber)
	if number == "" {
		return nil, ErrNoPhoneNumber
	}

	cacheKey := "company:phone:" + number
	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, cacheKey); err == nil {
			if cached == companyCacheMissVal {
				return nil, nil
			}
			if id, parseErr := uuid.Parse(cached); parseErr == nil {
				return &id, nil
			}
		}
	}

	company, err := s.companyRepo.FindByPhoneNumber(ctx, tx, number)
	if err != nil {
		return nil, fmt.Errorf("resolve company for %q: %w", number, err)
	}

	if company == nil {
		if s.cache != nil {
			if cacheErr := s.cache.Set(ctx, cacheKey, companyCacheMissVal, companyCacheTTL); cacheErr != nil {
				s.log.Debug("Company cache write failed", "key", cacheKey, "error", cacheErr.Error())
			}
		}
		return nil, nil
	}

	if s.cache != nil {
		if cacheErr := s.cache.Set(ctx, cacheKey, company.ID.String(), companyCacheTTL); cacheErr != nil {
			s.log.Debug("Company cache write failed", "key", cacheKey, "error", cacheErr.Error())
		}
	}

	id := company.ID
	return &id, nil
}
