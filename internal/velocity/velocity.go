// Package velocity counts how often an applicant has been assessed recently
// and exposes the count to models as a derived attribute.
package velocity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Attribute is the applicant attribute carrying the recent assessment count.
const Attribute = "recent_assessments"

// DefaultWindow is the look-back window when none is configured.
const DefaultWindow = 30 * 24 * time.Hour

// Service counts assessments per applicant within a window.
type Service struct {
	repo   domain.Repository
	cache  domain.Cache
	window time.Duration
	now    func() time.Time
}

// NewService creates a velocity service. Either collaborator may be nil.
func NewService(repo domain.Repository, cache domain.Cache, window time.Duration) *Service {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Service{
		repo:   repo,
		cache:  cache,
		window: window,
		now:    time.Now,
	}
}

// Window returns the look-back window.
func (s *Service) Window() time.Duration {
	return s.window
}

// GetAssessmentCount returns the number of stored assessments for the
// applicant made within the window.
func (s *Service) GetAssessmentCount(ctx context.Context, tenantID, applicantID string) (int64, error) {
	if tenantID == "" || applicantID == "" {
		return 0, fmt.Errorf("tenantID and applicantID are required")
	}
	if s.repo == nil {
		return 0, errors.New("no data source available")
	}

	since := s.now().Add(-s.window)
	count, err := s.repo.CountAssessmentsSince(ctx, tenantID, applicantID, since)
	if err != nil {
		return 0, fmt.Errorf("failed to count assessments: %w", err)
	}
	return count, nil
}

// Enrich returns a copy of the applicant carrying the recent assessment
// count as an additional attribute. An applicant without an id is returned
// unchanged.
func (s *Service) Enrich(ctx context.Context, tenantID string, applicant *domain.ApplicantData) (*domain.ApplicantData, error) {
	if applicant.ApplicantID == "" {
		return applicant, nil
	}
	count, err := s.GetAssessmentCount(ctx, tenantID, applicant.ApplicantID)
	if err != nil {
		return nil, err
	}
	return applicant.WithAttribute(Attribute, domain.Number(float64(count))), nil
}

// Record bumps the cached burst counter for the applicant and returns the
// count in the current window. It returns 0 when no cache is configured.
func (s *Service) Record(ctx context.Context, tenantID, applicantID string) (int64, error) {
	if s.cache == nil || applicantID == "" {
		return 0, nil
	}
	return s.cache.IncrementCounter(ctx, tenantID, "assessments:"+applicantID, s.window)
}
