package access

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/config"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/models"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/monitor"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/recovery"
)

// Service defines the holder-facing access operations.
type Service interface {
	// Redeem admits a new holder of code and returns the session handle.
	Redeem(ctx context.Context, code string) (*models.RedeemResult, error)

	// Heartbeat records activity on the session identified by sessionToken.
	Heartbeat(ctx context.Context, sessionToken string) error

	// EndSession ends the session identified by sessionToken and releases its usage unit.
	EndSession(ctx context.Context, sessionToken string) (*models.SessionEndResult, error)
}

// RedemptionService redeems access codes against the usage ledger.
//
// A redemption walks validating, capacity_checked, usage_incremented and
// session_created. When the session cannot be stored after the increment, the
// unit is released again (session_failed, rollback_attempted, rolled_back).
// The ledger's conditional increment is the only capacity enforcement point;
// cached state only short-circuits requests that are certain to fail.
type RedemptionService struct {
	Dependencies
	config *config.AccessConfig
}

// NewRedemptionService creates a RedemptionService.
func NewRedemptionService(cfg *config.AccessConfig, deps Dependencies) *RedemptionService {
	deps.defaults()
	return &RedemptionService{
		Dependencies: deps,
		config:       cfg,
	}
}

// redemption carries the state of one attempt.
type redemption struct {
	value string
	code  *models.AccessCode
	state models.RedemptionState
	span  trace.Span
}

func (s *RedemptionService) transition(r *redemption, state models.RedemptionState) {
	r.state = state
	r.span.AddEvent(string(state))

	fields := logrus.Fields{"state": state, "code": r.value}
	if r.code != nil {
		fields["code_id"] = r.code.ID
	}
	s.Logger.WithFields(fields).Debug("Redemption state transition")
}

// Redeem admits a new holder of the code.
//
// Failures are returned as *models.RedemptionError:
//   - Invalid when the code does not exist or is inactive
//   - Expired when the code's expiry has passed; the ledger is not touched
//   - CapacityExceeded when every unit is in use
//   - UsageIncrementFailed, ConcurrentAccessConflict or CapacityCheckFailed
//     when the ledger cannot be updated after retries
//   - SessionCreationFailed when the session cannot be stored and its unit was released
//   - RollbackFailed when the unit could not be released afterwards
func (s *RedemptionService) Redeem(ctx context.Context, code string) (*models.RedeemResult, error) {
	if s.config.OperationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.OperationTimeout)
		defer cancel()
	}

	ctx, span := tracer.Start(ctx, "access.Redeem")
	defer span.End()

	r := &redemption{value: models.NormalizeCode(code), span: span}

	finish := func(bool) {}
	if s.Monitor != nil {
		finish = s.Monitor.Begin(monitor.OpRedeem, "")
	}

	result, err := s.redeem(ctx, r)

	finish(err == nil || isUserError(err))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logRedemptionError(s.Logger, err, logrus.Fields{
			"operation": "redeem",
			"state":     r.state,
		})
		return nil, err
	}

	span.SetAttributes(attribute.String("access.session_id", result.SessionID))
	s.Logger.WithFields(logrus.Fields{
		"code_id":    result.CodeID,
		"code_type":  result.CodeType,
		"session_id": result.SessionID,
	}).Info("Access code redeemed")

	return result, nil
}

func (s *RedemptionService) redeem(ctx context.Context, r *redemption) (*models.RedeemResult, error) {
	s.transition(r, models.StateValidating)

	code, err := s.lookupCode(ctx, r.value)
	if err != nil {
		return nil, err
	}
	r.code = code
	r.span.SetAttributes(
		attribute.String("access.code_id", code.ID),
		attribute.String("access.code_type", string(code.CodeType)),
	)

	if !code.IsActive {
		return nil, models.NewInvalidCodeError(r.value).WithCodeID(code.ID)
	}
	if code.IsExpired(s.now()) {
		return nil, models.NewExpiredError(r.value, code.ExpiresAt).WithCodeID(code.ID)
	}

	session := models.NewSession(code.ID, s.now())
	sessionToken, expiresAt, err := s.Tokens.IssueSessionToken(session, code)
	if err != nil {
		return nil, models.NewSessionCreationFailedError(code.ID, fmt.Errorf("failed to issue session token: %w", err))
	}

	limited := code.CodeType.IsCapacityLimited()
	if limited {
		if err := s.precheckCapacity(ctx, r); err != nil {
			return nil, err
		}
		s.transition(r, models.StateCapacityChecked)

		if err := s.incrementUsage(ctx, r); err != nil {
			return nil, err
		}
		s.transition(r, models.StateUsageIncremented)
	}

	if err := s.createSession(ctx, session); err != nil {
		s.transition(r, models.StateSessionFailed)
		if limited {
			return nil, s.rollback(ctx, r, session, err)
		}
		return nil, err
	}
	s.transition(r, models.StateSessionCreated)

	s.invalidate(code.ID)
	s.publish(ctx, models.NewAccessEvent(models.EventSessionStarted, code.ID, session.ID, s.now()).
		With("code_type", code.CodeType))

	return &models.RedeemResult{
		SessionID:    session.ID,
		SessionToken: sessionToken,
		ExpiresAt:    expiresAt,
		CodeID:       code.ID,
		CodeType:     code.CodeType,
		CodeName:     code.Name,
	}, nil
}

// lookupCode resolves a code value through the cache, falling back to the store.
func (s *RedemptionService) lookupCode(ctx context.Context, value string) (*models.AccessCode, error) {
	if s.Cache != nil {
		if code, ok := s.Cache.GetCodeByValue(value); ok {
			return code, nil
		}
	}

	code, err := recovery.Run(ctx, s.Policy, "lookup_code", func(ctx context.Context, _ int) (*models.AccessCode, error) {
		code, err := s.Store.GetCodeByValue(ctx, value)
		switch {
		case errors.Is(err, models.ErrCodeNotFound):
			return nil, models.NewInvalidCodeError(value)
		case err != nil:
			return nil, models.NewDatabaseError("get_code", err)
		}
		return code, nil
	})
	if err != nil {
		return nil, err
	}

	if s.Cache != nil {
		s.Cache.SetCode(code)
	}
	return code, nil
}

// precheckCapacity consults the ledger before incrementing only when a fresh
// cached snapshot already shows the code full.
func (s *RedemptionService) precheckCapacity(ctx context.Context, r *redemption) error {
	if s.Cache == nil {
		return nil
	}
	snapshot, ok := s.Cache.GetSnapshot(r.code.ID)
	if !ok || !snapshot.IsFull() {
		return nil
	}

	available, err := recovery.Run(ctx, s.Policy, "check_capacity", func(ctx context.Context, _ int) (bool, error) {
		var available bool
		err := s.track(monitor.OpCheckCapacity, r.code.ID, func() error {
			var checkErr error
			available, checkErr = s.Store.CheckCapacity(ctx, r.code.ID)
			return checkErr
		})
		if err != nil {
			return false, models.NewCapacityCheckFailedError(r.code.ID, err)
		}
		return available, nil
	})
	if err != nil {
		return err
	}
	if !available {
		return s.classifyRejection(ctx, r)
	}
	return nil
}

// incrementUsage consumes one unit. Before every retry the current usage is
// read again; a code that has filled up meanwhile ends the attempt with
// CapacityExceeded instead of another increment.
func (s *RedemptionService) incrementUsage(ctx context.Context, r *redemption) error {
	codeID := r.code.ID

	incremented, err := recovery.Run(ctx, s.Policy, "increment_usage", func(ctx context.Context, attempt int) (bool, error) {
		if attempt > 1 {
			// The previous attempt may have applied, so never increment again
			// without a fresh read.
			usage, usageErr := s.Store.GetUsage(ctx, codeID)
			if usageErr != nil {
				return false, recovery.Stop(models.NewDatabaseError("get_usage", usageErr).WithCodeID(codeID))
			}
			if usage.Current >= usage.Max {
				return false, models.NewCapacityExceededError(r.value, usage.Current, usage.Max).WithCodeID(codeID)
			}
		}

		var ok bool
		err := s.track(monitor.OpIncrementUsage, codeID, func() error {
			var incErr error
			ok, incErr = s.Store.IncrementUsage(ctx, codeID)
			return incErr
		})
		if err != nil {
			if errors.Is(err, models.ErrConcurrentUpdate) {
				return false, models.NewConcurrentAccessConflictError("increment_usage", err).WithCodeID(codeID)
			}
			return false, models.NewUsageIncrementFailedError(codeID, err)
		}
		return ok, nil
	})
	if err != nil {
		return err
	}
	if !incremented {
		return s.classifyRejection(ctx, r)
	}
	return nil
}

// classifyRejection explains a refused increment from a fresh read of the code.
func (s *RedemptionService) classifyRejection(ctx context.Context, r *redemption) error {
	codeID := r.code.ID
	s.invalidate(codeID)

	fresh, err := s.Store.GetCodeByID(ctx, codeID)
	switch {
	case errors.Is(err, models.ErrCodeNotFound):
		return models.NewInvalidCodeError(r.value).WithCodeID(codeID)
	case err != nil:
		return models.NewDatabaseError("get_code", err).WithCodeID(codeID)
	case !fresh.IsActive:
		return models.NewInvalidCodeError(r.value).WithCodeID(codeID)
	case fresh.IsExpired(s.now()):
		return models.NewExpiredError(r.value, fresh.ExpiresAt).WithCodeID(codeID)
	}

	if s.Cache != nil {
		if active, countErr := s.Store.CountActiveSessions(ctx, codeID); countErr == nil {
			s.Cache.SetSnapshot(models.NewUsageSnapshot(fresh, active, s.now()))
		}
	}

	current := fresh.UsageCount
	if current < fresh.MaxUsageCount {
		// A unit was released after the refusal; report the limit that was hit.
		current = fresh.MaxUsageCount
	}
	return models.NewCapacityExceededError(r.value, current, fresh.MaxUsageCount).WithCodeID(codeID)
}

func (s *RedemptionService) createSession(ctx context.Context, session *models.Session) error {
	_, err := recovery.Run(ctx, s.Policy, "create_session", func(ctx context.Context, _ int) (struct{}, error) {
		err := s.track(monitor.OpCreateSession, session.CodeID, func() error {
			return s.Store.CreateSession(ctx, session)
		})
		if err != nil {
			return struct{}{}, models.NewSessionCreationFailedError(session.CodeID, err).WithSessionID(session.ID)
		}
		return struct{}{}, nil
	})
	return err
}

// rollback releases the unit consumed for a session that could not be stored.
// A failed release leaves the ledger over-counting by one and is reported as
// RollbackFailed; it is never retried beyond the database strategy.
func (s *RedemptionService) rollback(
	ctx context.Context,
	r *redemption,
	session *models.Session,
	cause error,
) error {
	codeID := r.code.ID
	s.transition(r, models.StateRollbackAttempted)

	_, err := s.releaseUnit(ctx, codeID, "rollback_usage")
	if err != nil {
		rollbackErr := models.NewRollbackFailedError(codeID, errors.Join(cause, err)).WithSessionID(session.ID)

		s.Logger.WithError(err).WithFields(logrus.Fields{
			"code_id":    codeID,
			"session_id": session.ID,
			"severity":   "critical",
		}).Error("Usage rollback failed; ledger may over-count by one unit")

		s.notify(ctx, &models.OperatorAlert{
			Severity: models.SeverityCritical,
			Title:    "Access usage rollback failed",
			Message: fmt.Sprintf(
				"A usage unit of code %s could not be released after a failed session creation.", r.value),
			CodeID:  codeID,
			Details: rollbackErr.Details.Fields(),
		})
		s.publish(ctx, models.NewAccessEvent(models.EventRollbackFailed, codeID, session.ID, s.now()).
			With("error", err.Error()))
		s.invalidate(codeID)
		return rollbackErr
	}

	s.transition(r, models.StateRolledBack)
	s.invalidate(codeID)
	return cause
}

// Heartbeat records activity on a session.
func (s *RedemptionService) Heartbeat(ctx context.Context, sessionToken string) error {
	claims, err := s.Tokens.ValidateSessionToken(sessionToken)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSessionToken, err)
	}

	var touched bool
	err = s.track(monitor.OpHeartbeat, claims.CodeID, func() error {
		var touchErr error
		touched, touchErr = s.Store.TouchSession(ctx, claims.SessionID, s.now())
		return touchErr
	})
	if err != nil {
		return models.NewDatabaseError("touch_session", err).WithSessionID(claims.SessionID)
	}
	if !touched {
		return models.ErrSessionNotFound
	}
	return nil
}

// EndSession ends a session and releases its usage unit. Only the call that
// actually ends the session releases the unit, so repeated calls are safe.
func (s *RedemptionService) EndSession(ctx context.Context, sessionToken string) (*models.SessionEndResult, error) {
	claims, err := s.Tokens.ValidateSessionToken(sessionToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSessionToken, err)
	}

	result := &models.SessionEndResult{SessionID: claims.SessionID}

	err = s.track(monitor.OpEndSession, claims.CodeID, func() error {
		var endErr error
		result.Ended, endErr = s.Store.EndSession(ctx, claims.SessionID, s.now())
		return endErr
	})
	if err != nil {
		return nil, models.NewDatabaseError("end_session", err).WithSessionID(claims.SessionID)
	}
	if !result.Ended {
		return result, nil
	}

	if claims.CodeType.IsCapacityLimited() {
		released, err := s.releaseUnit(ctx, claims.CodeID, "release_usage")
		if err != nil {
			s.Logger.WithError(err).WithFields(logrus.Fields{
				"code_id":    claims.CodeID,
				"session_id": claims.SessionID,
				"severity":   "critical",
			}).Error("Failed to release usage unit of ended session")
		}
		result.UsageDecremented = released
	}

	s.invalidate(claims.CodeID)
	s.publish(ctx, models.NewAccessEvent(models.EventSessionEnded, claims.CodeID, claims.SessionID, s.now()).
		With("reason", "logout"))

	s.Logger.WithFields(logrus.Fields{
		"session_id":        claims.SessionID,
		"code_id":           claims.CodeID,
		"usage_decremented": result.UsageDecremented,
	}).Info("Session ended")

	return result, nil
}

func isUserError(err error) bool {
	re, ok := models.AsRedemptionError(err)
	return ok && re.Category() == models.CategoryUser
}
