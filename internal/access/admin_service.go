package access

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/config"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/models"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/monitor"
)

// AdminService defines the operator-facing operations.
type AdminService interface {
	// Usage returns the usage snapshot of one code, or of every code when codeID is empty.
	Usage(ctx context.Context, codeID string) ([]*models.UsageSnapshot, error)

	// Cleanup runs one lifecycle sweep immediately.
	Cleanup(ctx context.Context) (*models.CleanupResult, error)

	// Metrics returns the performance report, optionally for one operation.
	Metrics(operation string) *models.MetricsReport

	// InvalidateCache drops cached state for one code, or for all codes.
	InvalidateCache(req *models.InvalidateCacheRequest) *models.InvalidateCacheResponse

	// CacheStats describes the capacity cache.
	CacheStats() models.CacheStats

	// CreateCode stores a new access code.
	CreateCode(ctx context.Context, req *models.CreateCodeRequest) (*models.AccessCode, error)
}

// adminService implements the AdminService interface.
type adminService struct {
	Dependencies
	config    *config.AccessConfig
	lifecycle *LifecycleService
}

// NewAdminService creates a new admin service instance with the provided dependencies.
func NewAdminService(
	cfg *config.AccessConfig,
	lifecycle *LifecycleService,
	deps Dependencies,
) AdminService {
	deps.defaults()
	return &adminService{
		Dependencies: deps,
		config:       cfg,
		lifecycle:    lifecycle,
	}
}

// Usage returns usage snapshots. Fresh cached snapshots are served as is;
// the rest are projected from the store and cached.
func (s *adminService) Usage(ctx context.Context, codeID string) ([]*models.UsageSnapshot, error) {
	var snapshots []*models.UsageSnapshot

	err := s.track(monitor.OpUsageQuery, codeID, func() error {
		if codeID != "" {
			snapshot, err := s.snapshot(ctx, codeID)
			if err != nil {
				return err
			}
			snapshots = []*models.UsageSnapshot{snapshot}
			return nil
		}

		codes, err := s.Store.ListCodes(ctx, false)
		if err != nil {
			return fmt.Errorf("failed to list codes: %w", err)
		}
		snapshots = make([]*models.UsageSnapshot, 0, len(codes))
		for _, code := range codes {
			snapshot, err := s.project(ctx, code)
			if err != nil {
				return err
			}
			snapshots = append(snapshots, snapshot)
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, models.ErrCodeNotFound) {
			s.Logger.WithError(err).WithField("code_id", codeID).Error("Failed to query usage")
		}
		return nil, err
	}

	s.Logger.WithFields(logrus.Fields{
		"code_id": codeID,
		"count":   len(snapshots),
	}).Debug("Usage queried")

	return snapshots, nil
}

func (s *adminService) snapshot(ctx context.Context, codeID string) (*models.UsageSnapshot, error) {
	if s.Cache != nil {
		if snapshot, ok := s.Cache.GetSnapshot(codeID); ok {
			return snapshot, nil
		}
	}

	code, err := s.Store.GetCodeByID(ctx, codeID)
	if err != nil {
		return nil, err
	}
	return s.project(ctx, code)
}

func (s *adminService) project(ctx context.Context, code *models.AccessCode) (*models.UsageSnapshot, error) {
	active, err := s.Store.CountActiveSessions(ctx, code.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to count active sessions: %w", err)
	}

	snapshot := models.NewUsageSnapshot(code, active, s.now())
	if s.Cache != nil {
		s.Cache.SetCode(code)
		s.Cache.SetSnapshot(snapshot)
	}
	return snapshot, nil
}

// Cleanup runs one lifecycle sweep.
func (s *adminService) Cleanup(ctx context.Context) (*models.CleanupResult, error) {
	s.Logger.Info("Running on-demand session cleanup")
	return s.lifecycle.Sweep(ctx)
}

// Metrics returns the monitor's report.
func (s *adminService) Metrics(operation string) *models.MetricsReport {
	return s.Monitor.Report(operation)
}

// InvalidateCache drops cached state.
func (s *adminService) InvalidateCache(req *models.InvalidateCacheRequest) *models.InvalidateCacheResponse {
	if s.Cache == nil {
		return &models.InvalidateCacheResponse{CodeID: req.CodeID, All: req.CodeID == ""}
	}

	if req.CodeID == "" {
		s.Cache.InvalidateAll()
		s.Logger.Warn("Capacity cache cleared")
		return &models.InvalidateCacheResponse{All: true, Invalidated: true}
	}

	s.Cache.Invalidate(req.CodeID)
	s.Logger.WithField("code_id", req.CodeID).Info("Capacity cache entry invalidated")
	return &models.InvalidateCacheResponse{CodeID: req.CodeID, Invalidated: true}
}

// CacheStats describes the capacity cache.
func (s *adminService) CacheStats() models.CacheStats {
	if s.Cache == nil {
		return models.CacheStats{}
	}
	return s.Cache.Stats()
}

// CreateCode stores a new code. Bulk is the default type and
// DefaultCodeExpiry the default lifetime. An expiry in the past is rejected.
func (s *adminService) CreateCode(ctx context.Context, req *models.CreateCodeRequest) (*models.AccessCode, error) {
	now := s.now()

	codeType := req.CodeType
	if codeType == "" {
		codeType = models.CodeTypeBulk
	}

	expiresAt := now.Add(s.config.DefaultCodeExpiry)
	if req.ExpiresAt != nil {
		expiresAt = req.ExpiresAt.UTC()
	}
	if !expiresAt.After(now) {
		return nil, models.ValidationErrors{{Field: "expires_at", Message: "must be in the future"}}
	}

	code := models.NewAccessCode(req.Code, req.Name, codeType, req.MaxUsageCount, expiresAt)
	if err := s.Store.CreateCode(ctx, code); err != nil {
		if errors.Is(err, models.ErrDuplicateCode) {
			return nil, err
		}
		s.Logger.WithError(err).WithField("code", code.Code).Error("Failed to create access code")
		return nil, fmt.Errorf("failed to create access code: %w", err)
	}

	s.publish(ctx, models.NewAccessEvent(models.EventCodeCreated, code.ID, "", now).
		With("code_type", code.CodeType).
		With("max_usage_count", code.MaxUsageCount))

	s.Logger.WithFields(logrus.Fields{
		"code_id":         code.ID,
		"code_type":       code.CodeType,
		"max_usage_count": code.MaxUsageCount,
		"expires_at":      code.ExpiresAt,
	}).Info("Access code created")

	return code, nil
}
