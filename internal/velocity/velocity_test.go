package velocity

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
)

func TestVelocityService(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "velocity-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	defer os.Remove(tmpPath)

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	lruCache := cache.NewLRUCache(100)
	defer lruCache.Close()

	svc := NewService(repo, lruCache, 30*24*time.Hour)

	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("EmptyDatabase", func(t *testing.T) {
		count, err := svc.GetAssessmentCount(ctx, tenantID, "app-001")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if count != 0 {
			t.Errorf("expected count 0 for empty database, got %d", count)
		}
	})

	t.Run("WithAssessments", func(t *testing.T) {
		now := time.Now().UTC()
		ages := []time.Duration{time.Hour, 5 * 24 * time.Hour, 20 * 24 * time.Hour, 45 * 24 * time.Hour}

		for i, age := range ages {
			a := &domain.RiskAssessment{
				ID:             fmt.Sprintf("assess-%d", i),
				ApplicantID:    "app-001",
				ModelID:        "model-001",
				RiskTier:       domain.TierLow,
				AssessmentDate: now.Add(-age),
				ExpiresDate:    now.Add(90*24*time.Hour - age),
			}
			if err := repo.SaveAssessment(ctx, tenantID, a, nil); err != nil {
				t.Fatalf("failed to save assessment: %v", err)
			}
		}

		count, err := svc.GetAssessmentCount(ctx, tenantID, "app-001")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if count != 3 {
			t.Errorf("expected 3 assessments within the window, got %d", count)
		}

		other, _ := svc.GetAssessmentCount(ctx, tenantID, "app-002")
		if other != 0 {
			t.Errorf("expected 0 for another applicant, got %d", other)
		}
	})

	t.Run("Enrich", func(t *testing.T) {
		app := &domain.ApplicantData{ApplicantID: "app-001"}

		enriched, err := svc.Enrich(ctx, tenantID, app)
		if err != nil {
			t.Fatalf("Enrich failed: %v", err)
		}
		if n, _ := enriched.Attributes().Number(Attribute); n != 3 {
			t.Errorf("expected %s = 3, got %g", Attribute, n)
		}
		if _, ok := app.AdditionalAttributes[Attribute]; ok {
			t.Error("expected the original applicant to be unchanged")
		}
	})

	t.Run("EnrichWithoutID", func(t *testing.T) {
		app := &domain.ApplicantData{}
		enriched, err := svc.Enrich(ctx, tenantID, app)
		if err != nil {
			t.Fatalf("Enrich failed: %v", err)
		}
		if enriched != app {
			t.Error("expected applicant without id to be returned as is")
		}
	})

	t.Run("Record", func(t *testing.T) {
		for want := int64(1); want <= 2; want++ {
			got, err := svc.Record(ctx, tenantID, "app-009")
			if err != nil {
				t.Fatalf("Record failed: %v", err)
			}
			if got != want {
				t.Errorf("expected %d, got %d", want, got)
			}
		}
	})

	t.Run("RequiresIDs", func(t *testing.T) {
		if _, err := svc.GetAssessmentCount(ctx, "", "app-001"); err == nil {
			t.Error("expected error for empty tenantID")
		}
		if _, err := svc.GetAssessmentCount(ctx, tenantID, ""); err == nil {
			t.Error("expected error for empty applicantID")
		}
	})
}

func TestVelocityWithoutCollaborators(t *testing.T) {
	svc := NewService(nil, nil, 0)
	ctx := context.Background()

	if svc.Window() != DefaultWindow {
		t.Errorf("expected default window, got %s", svc.Window())
	}
	if _, err := svc.GetAssessmentCount(ctx, "tenant-001", "app-001"); err == nil {
		t.Error("expected error without a repository")
	}
	if n, err := svc.Record(ctx, "tenant-001", "app-001"); n != 0 || err != nil {
		t.Errorf("expected 0, nil without a cache, got %d, %v", n, err)
	}
}
