package access

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/config"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/models"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/monitor"
)

// DefaultSweepBatchSize bounds the idle sessions handled by one sweep when
// the configuration leaves it unset.
const DefaultSweepBatchSize = 500

// LifecycleService ends idle sessions and retires expired codes.
//
// Ending a session is a conditional transition in the store; only the sweep
// that performs it releases the session's usage unit, so overlapping sweeps,
// in this process or another, never release a unit twice. A crash between
// ending a session and releasing its unit leaks that unit.
type LifecycleService struct {
	Dependencies
	config *config.AccessConfig

	mu       sync.Mutex
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewLifecycleService creates a LifecycleService.
func NewLifecycleService(cfg *config.AccessConfig, deps Dependencies) *LifecycleService {
	deps.defaults()
	return &LifecycleService{
		Dependencies: deps,
		config:       cfg,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// IdleThreshold returns how long a session may be inactive before it is swept.
func (s *LifecycleService) IdleThreshold() time.Duration {
	return s.config.IdleTimeout
}

// Sweep runs one cleanup pass:
//   - expired codes that are still active are deactivated and their sessions
//     are ended without releasing usage
//   - sessions of bulk codes idle past the threshold are ended and their unit
//     released once; sessions of individual codes are left active
//
// Errors on individual items are counted in the result and the pass continues.
func (s *LifecycleService) Sweep(ctx context.Context) (*models.CleanupResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result *models.CleanupResult
	err := s.track(monitor.OpCleanup, "", func() error {
		var sweepErr error
		result, sweepErr = s.sweep(ctx)
		return sweepErr
	})
	if err != nil {
		logRedemptionError(s.Logger, err, logrus.Fields{"operation": "cleanup"})
		return nil, err
	}

	s.Logger.WithFields(logrus.Fields{
		"sessions_cleaned":     result.SessionsCleaned,
		"codes_decremented":    result.CodesDecremented,
		"codes_deactivated":    result.CodesDeactivated,
		"sessions_force_ended": result.SessionsForceEnded,
		"errors":               result.Errors,
		"duration_ms":          result.Duration.Milliseconds(),
	}).Info("Session cleanup completed")

	return result, nil
}

func (s *LifecycleService) sweep(ctx context.Context) (*models.CleanupResult, error) {
	ctx, span := tracer.Start(ctx, "access.Sweep")
	defer span.End()

	start := s.now()
	result := &models.CleanupResult{StartedAt: start}
	touched := make(map[string]struct{})

	if err := s.retireExpiredCodes(ctx, start, result, touched); err != nil {
		return nil, err
	}
	if err := s.endIdleSessions(ctx, start, result, touched); err != nil {
		return nil, err
	}

	for codeID := range touched {
		s.invalidate(codeID)
	}

	result.Duration = s.now().Sub(start)
	return result, nil
}

func (s *LifecycleService) retireExpiredCodes(
	ctx context.Context,
	now time.Time,
	result *models.CleanupResult,
	touched map[string]struct{},
) error {
	expired, err := s.Store.ListExpiredActiveCodes(ctx, now)
	if err != nil {
		return models.NewDatabaseError("list_expired_codes", err)
	}

	for _, code := range expired {
		deactivated, err := s.Store.DeactivateCode(ctx, code.ID)
		if err != nil {
			result.Errors++
			s.Logger.WithError(err).WithField("code_id", code.ID).Error("Failed to deactivate expired code")
			continue
		}
		if !deactivated {
			continue
		}
		result.CodesDeactivated++
		touched[code.ID] = struct{}{}

		ended, err := s.Store.EndSessionsForCode(ctx, code.ID, now)
		if err != nil {
			result.Errors++
			s.Logger.WithError(err).WithField("code_id", code.ID).Error("Failed to end sessions of expired code")
		}
		result.SessionsForceEnded += ended

		s.publish(ctx, models.NewAccessEvent(models.EventCodeDeactivated, code.ID, "", now).
			With("reason", "expired").
			With("sessions_ended", ended))

		s.Logger.WithFields(logrus.Fields{
			"code_id":        code.ID,
			"expires_at":     code.ExpiresAt,
			"sessions_ended": ended,
		}).Info("Expired access code deactivated")
	}
	return nil
}

func (s *LifecycleService) endIdleSessions(
	ctx context.Context,
	now time.Time,
	result *models.CleanupResult,
	touched map[string]struct{},
) error {
	batch := s.config.SweepBatchSize
	if batch <= 0 {
		batch = DefaultSweepBatchSize
	}

	idle, err := s.Store.ListIdleSessions(ctx, now.Add(-s.config.IdleTimeout), batch)
	if err != nil {
		return models.NewDatabaseError("list_idle_sessions", err)
	}

	codeTypes := make(map[string]models.CodeType)
	for _, session := range idle {
		if !s.capacityLimited(ctx, session.CodeID, codeTypes) {
			continue
		}

		var ended bool
		err := s.track(monitor.OpEndSession, session.CodeID, func() error {
			var endErr error
			ended, endErr = s.Store.EndSession(ctx, session.ID, now)
			return endErr
		})
		if err != nil {
			result.Errors++
			s.Logger.WithError(err).WithField("session_id", session.ID).Error("Failed to end idle session")
			continue
		}
		if !ended {
			continue
		}
		result.SessionsCleaned++
		touched[session.CodeID] = struct{}{}

		released, err := s.releaseUnit(ctx, session.CodeID, "release_usage")
		switch {
		case err != nil:
			result.Errors++
			s.Logger.WithError(err).WithFields(logrus.Fields{
				"code_id":    session.CodeID,
				"session_id": session.ID,
				"severity":   "critical",
			}).Error("Failed to release usage unit of idle session")
		case released:
			result.CodesDecremented++
		}

		s.publish(ctx, models.NewAccessEvent(models.EventSessionIdled, session.CodeID, session.ID, now).
			With("last_activity", session.LastActivity))
	}
	return nil
}

// capacityLimited reports whether sessions of codeID hold usage units. A
// code that cannot be read is treated as capacity limited, since releasing
// a unit is floored at zero.
func (s *LifecycleService) capacityLimited(
	ctx context.Context,
	codeID string,
	known map[string]models.CodeType,
) bool {
	if codeType, ok := known[codeID]; ok {
		return codeType.IsCapacityLimited()
	}

	code, err := s.Store.GetCodeByID(ctx, codeID)
	if err != nil {
		if !errors.Is(err, models.ErrCodeNotFound) {
			s.Logger.WithError(err).WithField("code_id", codeID).Warn("Failed to read code type during cleanup")
		}
		return true
	}
	known[codeID] = code.CodeType
	return code.CodeType.IsCapacityLimited()
}

// Start runs Sweep every CleanupInterval until Stop is called.
func (s *LifecycleService) Start(ctx context.Context) {
	interval := s.config.CleanupInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		s.Logger.WithField("interval", interval).Info("Session cleanup loop started")

		for {
			select {
			case <-ticker.C:
				if _, err := s.Sweep(ctx); err != nil {
					s.Logger.WithError(err).Warn("Scheduled session cleanup failed")
				}
			case <-s.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends the cleanup loop and waits for a running sweep to finish.
// It must only be called after Start.
func (s *LifecycleService) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
		<-s.done
	})
}
