package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/bastion/internal/cache"
	"github.com/BradenHooton/bastion/internal/models"
	"github.com/BradenHooton/bastion/pkg/auth"
	"github.com/BradenHooton/bastion/pkg/logger"
)

// SessionConfig holds the session integrity policy. TrackIP and
// TrackUserAgent trade false positives on mobile networks for replay
// protection; both are on by default.
type SessionConfig struct {
	Timeout          time.Duration
	IdleTimeout      time.Duration
	MaxConcurrent    int
	RotationInterval time.Duration
	RotationGrace    time.Duration
	AuditRetention   time.Duration
	TrackIP          bool
	TrackUserAgent   bool
	RequireSecure    bool
}

func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Timeout:          2 * time.Hour,
		IdleTimeout:      30 * time.Minute,
		MaxConcurrent:    3,
		RotationInterval: 5 * time.Minute,
		RotationGrace:    30 * time.Second,
		AuditRetention:   24 * time.Hour,
		TrackIP:          true,
		TrackUserAgent:   true,
	}
}

const sessionMutexTTL = 2 * time.Second

func sessionKey(userID, token string) string { return "session:" + userID + ":" + token }
func activeSetKey(userID string) string      { return "sessions:active:" + userID }

// SessionService issues and validates session tokens bound to an origin
// fingerprint. Validation fails closed: when the store cannot be read the
// session is reported invalid.
//
// Rotation keeps the pre-rotation token usable for RotationGrace so requests
// already in flight with it are not rejected; during the grace window it
// resolves to its successor.
type SessionService struct {
	store  cache.Store
	events EventRecorder
	config SessionConfig
	logger *slog.Logger
	now    Clock
}

func NewSessionService(store cache.Store, events EventRecorder, config SessionConfig, logger *slog.Logger) *SessionService {
	return &SessionService{
		store:  store,
		events: events,
		config: config,
		logger: logger,
		now:    time.Now,
	}
}

// WithClock replaces the time source
func (s *SessionService) WithClock(now Clock) *SessionService {
	s.now = now
	return s
}

// InitializeSession creates a session for userID bound to the request origin,
// then evicts the oldest sessions beyond MaxConcurrent.
func (s *SessionService) InitializeSession(ctx context.Context, userID string, req models.RequestInfo) (*models.SessionRecord, error) {
	if userID == "" {
		return nil, models.ErrInvalidUserID
	}

	token, err := auth.GenerateSessionToken()
	if err != nil {
		return nil, err
	}

	now := s.now()
	record := &models.SessionRecord{
		UserID:          userID,
		Token:           token,
		OriginIP:        req.IPAddress,
		OriginUserAgent: req.UserAgent,
		CreatedAt:       now,
		LastActivityAt:  now,
		TokenRotatedAt:  now,
		IsActive:        true,
	}

	release, err := s.store.Lock(ctx, activeSetKey(userID), sessionMutexTTL)
	if err != nil {
		return nil, fmt.Errorf("lock session set: %w", err)
	}
	defer release()

	if err := cache.PutJSON(ctx, s.store, sessionKey(userID, token), record, s.config.Timeout); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}

	tokens, err := s.loadActiveSet(ctx, userID)
	if err != nil {
		return nil, err
	}
	tokens = append(s.pruneStale(ctx, userID, tokens), token)

	for len(tokens) > s.config.MaxConcurrent {
		oldest := tokens[0]
		tokens = tokens[1:]
		if err := s.markInactive(ctx, userID, oldest, models.ReasonConcurrentLimit, nil); err != nil {
			s.logger.Error("failed to invalidate evicted session",
				slog.String("user_id", userID),
				slog.String("token", logger.TokenPrefix(oldest)),
				slog.Any("error", err))
		}
		s.logger.Info("session evicted by concurrency limit",
			slog.String("user_id", userID),
			slog.String("token", logger.TokenPrefix(oldest)))
	}

	if err := s.saveActiveSet(ctx, userID, tokens); err != nil {
		return nil, err
	}

	s.logger.Info("session initialized",
		slog.String("user_id", userID),
		slog.String("token", logger.TokenPrefix(token)),
		slog.String("ip_address", req.IPAddress))

	return record, nil
}

// ValidateSession checks token against its binding and lifetime. Any failure
// invalidates the session and is returned as Valid=false with a reason.
// On success the returned Token is the one the client must use from now on.
func (s *SessionService) ValidateSession(ctx context.Context, userID, token string, req models.RequestInfo) (*models.SessionValidation, error) {
	if userID == "" {
		return nil, models.ErrInvalidUserID
	}
	if token == "" {
		return nil, models.ErrInvalidSessionToken
	}
	return s.validate(ctx, userID, token, req, true)
}

func (s *SessionService) validate(ctx context.Context, userID, token string, req models.RequestInfo, followGrace bool) (*models.SessionValidation, error) {
	record, err := s.loadSession(ctx, userID, token)
	if err != nil {
		s.logger.Error("session store unavailable, rejecting session",
			slog.String("user_id", userID),
			slog.Any("error", err))
		return invalid(models.ReasonStoreUnavailable, token), nil
	}
	if record == nil {
		return invalid(models.ReasonNotFound, token), nil
	}

	now := s.now()

	if !record.IsActive {
		if followGrace && record.InvalidationReason == models.ReasonRotated &&
			record.RotatedTo != "" && record.GraceUntil != nil && now.Before(*record.GraceUntil) {
			result, err := s.validate(ctx, userID, record.RotatedTo, req, false)
			if err == nil && result.Valid {
				result.Rotated = true
			}
			return result, err
		}
		return invalid(models.ReasonInactive, token), nil
	}

	if reason, failed := s.check(record, req, now); failed {
		s.invalidateOnFailure(ctx, record, reason, req)
		return invalid(reason, token), nil
	}

	result, err := s.touch(ctx, userID, token, now)
	if err != nil {
		s.logger.Error("failed to refresh session, rejecting session",
			slog.String("user_id", userID),
			slog.Any("error", err))
		return invalid(models.ReasonStoreUnavailable, token), nil
	}
	return result, nil
}

func invalid(reason models.InvalidationReason, token string) *models.SessionValidation {
	return &models.SessionValidation{Valid: false, Reason: reason, Token: token}
}

// check applies lifetime and binding rules in order
func (s *SessionService) check(record *models.SessionRecord, req models.RequestInfo, now time.Time) (models.InvalidationReason, bool) {
	switch {
	case now.Sub(record.CreatedAt) > s.config.Timeout:
		return models.ReasonTimeout, true
	case now.Sub(record.LastActivityAt) > s.config.IdleTimeout:
		return models.ReasonIdleTimeout, true
	case s.config.TrackIP && req.IPAddress != record.OriginIP:
		return models.ReasonIPMismatch, true
	case s.config.TrackUserAgent && req.UserAgent != record.OriginUserAgent:
		return models.ReasonUAMismatch, true
	case s.config.RequireSecure && !req.Secure:
		return models.ReasonInsecureTransport, true
	}
	return "", false
}

func (s *SessionService) invalidateOnFailure(ctx context.Context, record *models.SessionRecord, reason models.InvalidationReason, req models.RequestInfo) {
	release, err := s.store.Lock(ctx, activeSetKey(record.UserID), sessionMutexTTL)
	if err != nil {
		s.logger.Error("failed to lock session set", slog.String("user_id", record.UserID), slog.Any("error", err))
	} else {
		defer release()
		if err := s.removeFromActiveSet(ctx, record.UserID, record.Token); err != nil {
			s.logger.Error("failed to update session set", slog.String("user_id", record.UserID), slog.Any("error", err))
		}
	}
	if err := s.markInactive(ctx, record.UserID, record.Token, reason, record); err != nil {
		s.logger.Error("failed to invalidate session", slog.String("user_id", record.UserID), slog.Any("error", err))
	}

	s.logger.Warn("session invalidated",
		slog.String("user_id", record.UserID),
		slog.String("token", logger.TokenPrefix(record.Token)),
		slog.String("reason", string(reason)))

	var severity models.Severity
	switch reason {
	case models.ReasonIPMismatch, models.ReasonUAMismatch:
		severity = models.SeverityHigh
	case models.ReasonInsecureTransport:
		severity = models.SeverityMedium
	default:
		return
	}

	req.UserID = record.UserID
	emit(ctx, s.events, s.logger, models.EventInput{
		Type:        models.EventSessionAnomaly,
		Severity:    severity,
		Description: "Session rejected: " + string(reason),
		Metadata: models.EventMetadata{
			"reason":            string(reason),
			"token_prefix":      logger.TokenPrefix(record.Token),
			"origin_ip":         record.OriginIP,
			"origin_user_agent": record.OriginUserAgent,
		},
		Request: req,
	})
}

// touch records activity on a session that passed its checks, rotating the
// token when due. It re-reads the record under the user's set lock so an
// invalidation that landed after the first read is never written back as
// active. A token a concurrent request already rotated resolves to its successor.
func (s *SessionService) touch(ctx context.Context, userID, token string, now time.Time) (*models.SessionValidation, error) {
	release, err := s.store.Lock(ctx, activeSetKey(userID), sessionMutexTTL)
	if err != nil {
		return nil, fmt.Errorf("lock session set: %w", err)
	}
	defer release()

	current, err := s.loadSession(ctx, userID, token)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return invalid(models.ReasonNotFound, token), nil
	}
	if !current.IsActive {
		if current.InvalidationReason == models.ReasonRotated && current.RotatedTo != "" &&
			current.GraceUntil != nil && now.Before(*current.GraceUntil) {
			successor, err := s.loadSession(ctx, userID, current.RotatedTo)
			if err != nil {
				return nil, err
			}
			if successor != nil && successor.IsActive {
				return &models.SessionValidation{Valid: true, Token: successor.Token, Rotated: true, Session: successor}, nil
			}
		}
		return invalid(models.ReasonInactive, token), nil
	}

	current.LastActivityAt = now

	if s.config.RotationInterval > 0 && now.Sub(current.TokenRotatedAt) >= s.config.RotationInterval {
		next, err := s.rotateLocked(ctx, current, now)
		if err != nil {
			return nil, err
		}
		return &models.SessionValidation{Valid: true, Token: next.Token, Rotated: true, Session: next}, nil
	}

	if err := cache.PutJSON(ctx, s.store, sessionKey(userID, token), current, s.config.Timeout); err != nil {
		return nil, fmt.Errorf("refresh session: %w", err)
	}
	return &models.SessionValidation{Valid: true, Token: token, Session: current}, nil
}

// rotateLocked swaps an active session onto a fresh token. Caller holds the
// user's set lock.
func (s *SessionService) rotateLocked(ctx context.Context, record *models.SessionRecord, now time.Time) (*models.SessionRecord, error) {
	token, err := auth.GenerateSessionToken()
	if err != nil {
		return nil, err
	}

	next := *record
	next.Token = token
	next.TokenRotatedAt = now
	next.LastActivityAt = now

	if err := cache.PutJSON(ctx, s.store, sessionKey(record.UserID, token), &next, s.config.Timeout); err != nil {
		return nil, fmt.Errorf("store rotated session: %w", err)
	}

	graceUntil := now.Add(s.config.RotationGrace)
	old := *record
	old.IsActive = false
	old.InvalidatedAt = &now
	old.InvalidationReason = models.ReasonRotated
	old.RotatedTo = token
	old.GraceUntil = &graceUntil
	if err := cache.PutJSON(ctx, s.store, sessionKey(record.UserID, record.Token), &old, s.config.AuditRetention); err != nil {
		return nil, fmt.Errorf("retire rotated session: %w", err)
	}

	tokens, err := s.loadActiveSet(ctx, record.UserID)
	if err != nil {
		return nil, err
	}
	replaced := false
	for i, t := range tokens {
		if t == record.Token {
			tokens[i] = token
			replaced = true
		}
	}
	if !replaced {
		tokens = append(tokens, token)
	}
	if err := s.saveActiveSet(ctx, record.UserID, tokens); err != nil {
		return nil, err
	}

	s.logger.Debug("session token rotated",
		slog.String("user_id", record.UserID),
		slog.String("token", logger.TokenPrefix(token)))

	return &next, nil
}

// InvalidateSession terminates one session. Unknown or already inactive
// sessions are left as they are.
func (s *SessionService) InvalidateSession(ctx context.Context, userID, token string, reason models.InvalidationReason) error {
	if userID == "" {
		return models.ErrInvalidUserID
	}
	if token == "" {
		return models.ErrInvalidSessionToken
	}

	release, err := s.store.Lock(ctx, activeSetKey(userID), sessionMutexTTL)
	if err != nil {
		return fmt.Errorf("lock session set: %w", err)
	}
	defer release()

	if err := s.removeFromActiveSet(ctx, userID, token); err != nil {
		return err
	}
	if err := s.markInactive(ctx, userID, token, reason, nil); err != nil {
		return err
	}

	s.logger.Info("session invalidated",
		slog.String("user_id", userID),
		slog.String("token", logger.TokenPrefix(token)),
		slog.String("reason", string(reason)))
	return nil
}

// InvalidateAllUserSessions terminates every active session of userID and
// returns how many were terminated.
func (s *SessionService) InvalidateAllUserSessions(ctx context.Context, userID string, reason models.InvalidationReason) (int, error) {
	if userID == "" {
		return 0, models.ErrInvalidUserID
	}

	release, err := s.store.Lock(ctx, activeSetKey(userID), sessionMutexTTL)
	if err != nil {
		return 0, fmt.Errorf("lock session set: %w", err)
	}
	defer release()

	tokens, err := s.loadActiveSet(ctx, userID)
	if err != nil {
		return 0, err
	}

	var errs []error
	for _, token := range tokens {
		if err := s.markInactive(ctx, userID, token, reason, nil); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.store.Forget(ctx, activeSetKey(userID)); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return 0, fmt.Errorf("invalidate sessions: %w", errors.Join(errs...))
	}

	s.logger.Info("all sessions invalidated",
		slog.String("user_id", userID),
		slog.Int("count", len(tokens)),
		slog.String("reason", string(reason)))
	return len(tokens), nil
}

// ListActiveSessions returns admin summaries of userID's active sessions, oldest first
func (s *SessionService) ListActiveSessions(ctx context.Context, userID string) ([]models.SessionSummary, error) {
	if userID == "" {
		return nil, models.ErrInvalidUserID
	}

	tokens, err := s.loadActiveSet(ctx, userID)
	if err != nil {
		return nil, err
	}

	summaries := make([]models.SessionSummary, 0, len(tokens))
	for _, token := range tokens {
		record, err := s.loadSession(ctx, userID, token)
		if err != nil {
			return nil, err
		}
		if record == nil || !record.IsActive {
			continue
		}
		summaries = append(summaries, models.SessionSummary{
			TokenPrefix:    logger.TokenPrefix(token),
			OriginIP:       record.OriginIP,
			UserAgent:      record.OriginUserAgent,
			CreatedAt:      record.CreatedAt,
			LastActivityAt: record.LastActivityAt,
		})
	}
	return summaries, nil
}

// GetSession returns the stored record for token, or models.ErrNotFound
func (s *SessionService) GetSession(ctx context.Context, userID, token string) (*models.SessionRecord, error) {
	record, err := s.loadSession(ctx, userID, token)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, models.ErrNotFound
	}
	return record, nil
}

func (s *SessionService) loadSession(ctx context.Context, userID, token string) (*models.SessionRecord, error) {
	var record models.SessionRecord
	found, err := cache.GetJSON(ctx, s.store, sessionKey(userID, token), &record)
	if err != nil || !found {
		return nil, err
	}
	return &record, nil
}

// markInactive retains the record for the audit window. known may carry the
// already-loaded record. Missing records are ignored.
func (s *SessionService) markInactive(ctx context.Context, userID, token string, reason models.InvalidationReason, known *models.SessionRecord) error {
	record := known
	if record == nil {
		var err error
		if record, err = s.loadSession(ctx, userID, token); err != nil {
			return err
		}
	}
	if record == nil || !record.IsActive {
		return nil
	}

	now := s.now()
	record.IsActive = false
	record.InvalidatedAt = &now
	record.InvalidationReason = reason
	return cache.PutJSON(ctx, s.store, sessionKey(userID, token), record, s.config.AuditRetention)
}

// loadActiveSet reads the ordered token list; the caller holds the set lock
// for any write that follows.
func (s *SessionService) loadActiveSet(ctx context.Context, userID string) ([]string, error) {
	var tokens []string
	if _, err := cache.GetJSON(ctx, s.store, activeSetKey(userID), &tokens); err != nil {
		return nil, fmt.Errorf("read session set: %w", err)
	}
	return tokens, nil
}

func (s *SessionService) saveActiveSet(ctx context.Context, userID string, tokens []string) error {
	if len(tokens) == 0 {
		return s.store.Forget(ctx, activeSetKey(userID))
	}
	if err := cache.PutJSON(ctx, s.store, activeSetKey(userID), tokens, s.config.Timeout); err != nil {
		return fmt.Errorf("write session set: %w", err)
	}
	return nil
}

func (s *SessionService) removeFromActiveSet(ctx context.Context, userID, token string) error {
	tokens, err := s.loadActiveSet(ctx, userID)
	if err != nil {
		return err
	}
	kept := tokens[:0]
	for _, t := range tokens {
		if t != token {
			kept = append(kept, t)
		}
	}
	return s.saveActiveSet(ctx, userID, kept)
}

// pruneStale drops tokens whose records expired or went inactive without
// passing through this service (for example a store eviction).
func (s *SessionService) pruneStale(ctx context.Context, userID string, tokens []string) []string {
	kept := make([]string, 0, len(tokens)+1)
	for _, token := range tokens {
		record, err := s.loadSession(ctx, userID, token)
		if err != nil {
			kept = append(kept, token)
			continue
		}
		if record != nil && record.IsActive {
			kept = append(kept, token)
		}
	}
	return kept
}
