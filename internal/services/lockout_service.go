package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/bastion/internal/cache"
	"github.com/BradenHooton/bastion/internal/models"
	"github.com/BradenHooton/bastion/pkg/logger"
)

// LockoutConfig holds the lockout policy
type LockoutConfig struct {
	MaxAttempts        int
	AttemptWindow      time.Duration
	IPLockoutEnabled   bool
	IPMaxAttempts      int
	IPAttemptWindow    time.Duration
	BaseDuration       time.Duration
	MaxMultiplierExp   int
	PermanentThreshold int
	LockoutCountTTL    time.Duration
	IPLockoutDuration  time.Duration
}

// DefaultLockoutConfig returns the stock policy: 5 attempts per identity in
// 30 minutes, 20 per IP in an hour, 15 minute base lockout doubling up to
// 32x, permanent on the 10th lockout.
func DefaultLockoutConfig() LockoutConfig {
	return LockoutConfig{
		MaxAttempts:        5,
		AttemptWindow:      30 * time.Minute,
		IPLockoutEnabled:   true,
		IPMaxAttempts:      20,
		IPAttemptWindow:    time.Hour,
		BaseDuration:       15 * time.Minute,
		MaxMultiplierExp:   5,
		PermanentThreshold: 10,
		LockoutCountTTL:    30 * 24 * time.Hour,
		IPLockoutDuration:  time.Hour,
	}
}

const lockoutMutexTTL = 2 * time.Second

func userAttemptsKey(identity string) string { return "login_attempts:user:" + identity }
func ipAttemptsKey(ip string) string         { return "login_attempts:ip:" + ip }
func userLockoutKey(identity string) string  { return "lockout:user:" + identity }
func ipLockoutKey(ip string) string          { return "lockout:ip:" + ip }
func lockoutCountKey(identity string) string { return "lockout_count:user:" + identity }

// LockoutService tracks failed logins per identity and per IP and escalates
// to temporary or permanent lockouts.
//
// Counter store failures fail open: a lockout check that cannot reach the
// store reports "not locked" and logs the error.
type LockoutService struct {
	store     cache.Store
	directory AccountDirectory
	events    EventRecorder
	config    LockoutConfig
	logger    *slog.Logger
	now       Clock
}

// NewLockoutService creates a LockoutService. directory and events may be nil.
func NewLockoutService(store cache.Store, directory AccountDirectory, events EventRecorder, config LockoutConfig, logger *slog.Logger) *LockoutService {
	return &LockoutService{
		store:     store,
		directory: directory,
		events:    events,
		config:    config,
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock replaces the time source
func (s *LockoutService) WithClock(now Clock) *LockoutService {
	s.now = now
	return s
}

// LockoutDuration is base * 2^min(n-1, MaxMultiplierExp) for the nth lockout
func (s *LockoutService) LockoutDuration(lockoutCount int64) time.Duration {
	exp := lockoutCount - 1
	if exp < 0 {
		exp = 0
	}
	if exp > int64(s.config.MaxMultiplierExp) {
		exp = int64(s.config.MaxMultiplierExp)
	}
	return s.config.BaseDuration * time.Duration(int64(1)<<exp)
}

// RecordFailedAttempt counts a failed login for identity and for the request's
// origin IP, and locks either scope out once its threshold is reached.
// Lockouts are reported in the result, not as errors.
func (s *LockoutService) RecordFailedAttempt(ctx context.Context, identity string, req models.RequestInfo) (*models.AttemptResult, error) {
	identity, err := normalizeIdentity(identity)
	if err != nil {
		return nil, err
	}
	ip := ""
	if req.IPAddress != "" {
		if ip, err = normalizeIP(req.IPAddress); err != nil {
			return nil, err
		}
	}

	result := &models.AttemptResult{}

	result.UserAttempts, err = s.store.Increment(ctx, userAttemptsKey(identity), s.config.AttemptWindow)
	if err != nil {
		s.logger.Error("failed to increment user attempt counter",
			slog.String("identity", logger.SanitizedIdentity(identity)),
			slog.Any("error", err))
	}

	if ip != "" {
		result.IPAttempts, err = s.store.Increment(ctx, ipAttemptsKey(ip), s.config.IPAttemptWindow)
		if err != nil {
			s.logger.Error("failed to increment ip attempt counter",
				slog.String("ip_address", ip),
				slog.Any("error", err))
		}
	}

	severity := models.SeverityMedium
	if result.UserAttempts >= int64(s.config.MaxAttempts) {
		severity = models.SeverityHigh
	}
	emit(ctx, s.events, s.logger, models.EventInput{
		Type:        models.EventFailedLogin,
		Severity:    severity,
		Description: "Failed login attempt",
		Metadata: models.EventMetadata{
			"identity":      identity,
			"user_attempts": result.UserAttempts,
			"ip_attempts":   result.IPAttempts,
		},
		Request: req,
	})

	if result.UserAttempts >= int64(s.config.MaxAttempts) {
		record, err := s.lockUser(ctx, identity, result.UserAttempts, req)
		if err != nil {
			s.logger.Error("failed to lock out user",
				slog.String("identity", logger.SanitizedIdentity(identity)),
				slog.Any("error", err))
		}
		if record != nil {
			result.UserLocked = true
			result.Lockout = record
		}
	}

	if s.config.IPLockoutEnabled && ip != "" && result.IPAttempts >= int64(s.config.IPMaxAttempts) {
		locked, err := s.lockIP(ctx, ip, result.IPAttempts, req)
		if err != nil {
			s.logger.Error("failed to lock out ip",
				slog.String("ip_address", ip),
				slog.Any("error", err))
		}
		result.IPLocked = locked
	}

	return result, nil
}

// lockUser escalates the identity's lockout. An identity that is already
// locked keeps its current record and escalation count.
func (s *LockoutService) lockUser(ctx context.Context, identity string, attempts int64, req models.RequestInfo) (*models.LockoutRecord, error) {
	release, err := s.store.Lock(ctx, userLockoutKey(identity), lockoutMutexTTL)
	if err != nil {
		return nil, err
	}
	defer release()

	existing, err := s.loadRecord(ctx, userLockoutKey(identity))
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	lockoutCount, err := s.store.Increment(ctx, lockoutCountKey(identity), s.config.LockoutCountTTL)
	if err != nil {
		return nil, fmt.Errorf("increment lockout count: %w", err)
	}

	now := s.now()
	record := &models.LockoutRecord{
		Scope:        models.ScopeUser,
		Key:          identity,
		LockedAt:     now,
		AttemptCount: attempts,
		LockoutCount: lockoutCount,
		IsPermanent:  lockoutCount >= int64(s.config.PermanentThreshold),
	}

	var ttl time.Duration
	if !record.IsPermanent {
		ttl = s.LockoutDuration(lockoutCount)
		until := now.Add(ttl)
		record.LockedUntil = &until
	}

	if err := cache.PutJSON(ctx, s.store, userLockoutKey(identity), record, ttl); err != nil {
		return nil, fmt.Errorf("store lockout record: %w", err)
	}

	if record.IsPermanent {
		s.deactivateAccount(ctx, identity)
	}

	severity := models.SeverityHigh
	description := "Account locked after repeated failed logins"
	metadata := models.EventMetadata{
		"identity":      identity,
		"attempt_count": attempts,
		"lockout_count": lockoutCount,
		"is_permanent":  record.IsPermanent,
	}
	if record.IsPermanent {
		severity = models.SeverityCritical
		description = "Account permanently locked after repeated lockouts"
	} else {
		metadata["locked_until"] = record.LockedUntil.UTC().Format(time.RFC3339)
		metadata["duration_seconds"] = int64(ttl.Seconds())
	}

	s.logger.Warn("account locked out",
		slog.String("identity", logger.SanitizedIdentity(identity)),
		slog.Int64("lockout_count", lockoutCount),
		slog.Bool("permanent", record.IsPermanent))

	emit(ctx, s.events, s.logger, models.EventInput{
		Type:        models.EventAccountLockout,
		Severity:    severity,
		Description: description,
		Metadata:    metadata,
		Request:     req,
	})

	return record, nil
}

func (s *LockoutService) deactivateAccount(ctx context.Context, identity string) {
	if s.directory == nil {
		return
	}
	changed, err := s.directory.Deactivate(ctx, identity, models.DeactivatedByLockout)
	switch {
	case errors.Is(err, models.ErrNotFound):
		// No account behind this identity; the lockout record still applies.
	case err != nil:
		s.logger.Error("failed to deactivate permanently locked account",
			slog.String("identity", logger.SanitizedIdentity(identity)),
			slog.Any("error", err))
	case changed:
		s.logger.Warn("account deactivated by permanent lockout",
			slog.String("identity", logger.SanitizedIdentity(identity)))
	}
}

// lockIP stores a fixed-duration IP lockout. Set-if-absent keeps concurrent
// callers from emitting duplicate events.
func (s *LockoutService) lockIP(ctx context.Context, ip string, attempts int64, req models.RequestInfo) (bool, error) {
	now := s.now()
	until := now.Add(s.config.IPLockoutDuration)
	record := models.LockoutRecord{
		Scope:        models.ScopeIP,
		Key:          ip,
		LockedAt:     now,
		LockedUntil:  &until,
		AttemptCount: attempts,
	}

	raw, err := jsonString(record)
	if err != nil {
		return false, err
	}
	added, err := s.store.Add(ctx, ipLockoutKey(ip), raw, s.config.IPLockoutDuration)
	if err != nil {
		return false, err
	}
	if !added {
		return true, nil
	}

	s.logger.Warn("ip locked out",
		slog.String("ip_address", ip),
		slog.Int64("attempts", attempts))

	emit(ctx, s.events, s.logger, models.EventInput{
		Type:        models.EventIPLockout,
		Severity:    models.SeverityHigh,
		Description: "IP address locked after repeated failed logins",
		Metadata: models.EventMetadata{
			"ip_address":       ip,
			"attempt_count":    attempts,
			"locked_until":     until.UTC().Format(time.RFC3339),
			"duration_seconds": int64(s.config.IPLockoutDuration.Seconds()),
		},
		Request: req,
	})
	return true, nil
}

// RecordSuccessfulLogin clears the identity's failed-attempt counter. The
// escalation counter is left alone.
func (s *LockoutService) RecordSuccessfulLogin(ctx context.Context, identity string, req models.RequestInfo) error {
	identity, err := normalizeIdentity(identity)
	if err != nil {
		return err
	}

	previous, err := cache.GetInt(ctx, s.store, userAttemptsKey(identity))
	if err != nil {
		s.logger.Error("failed to read user attempt counter",
			slog.String("identity", logger.SanitizedIdentity(identity)),
			slog.Any("error", err))
		return nil
	}
	if previous == 0 {
		return nil
	}

	if err := s.store.Forget(ctx, userAttemptsKey(identity)); err != nil {
		s.logger.Error("failed to clear user attempt counter",
			slog.String("identity", logger.SanitizedIdentity(identity)),
			slog.Any("error", err))
	}

	emit(ctx, s.events, s.logger, models.EventInput{
		Type:        models.EventSuccessfulLoginAfterFailures,
		Severity:    models.SeverityMedium,
		Description: "Successful login after failed attempts",
		Metadata: models.EventMetadata{
			"identity":          identity,
			"previous_failures": previous,
		},
		Request: req,
	})
	return nil
}

// IsUserLockedOut reports whether identity has an active lockout record
func (s *LockoutService) IsUserLockedOut(ctx context.Context, identity string) (bool, error) {
	identity, err := normalizeIdentity(identity)
	if err != nil {
		return false, err
	}
	return s.hasActiveRecord(ctx, userLockoutKey(identity)), nil
}

// IsIPLockedOut reports whether ip has an active lockout record
func (s *LockoutService) IsIPLockedOut(ctx context.Context, ip string) (bool, error) {
	ip, err := normalizeIP(ip)
	if err != nil {
		return false, err
	}
	return s.hasActiveRecord(ctx, ipLockoutKey(ip)), nil
}

func (s *LockoutService) hasActiveRecord(ctx context.Context, key string) bool {
	record, err := s.loadRecord(ctx, key)
	if err != nil {
		s.logger.Error("lockout check failed, allowing attempt",
			slog.String("key", key),
			slog.Any("error", err))
		return false
	}
	return record != nil
}

// loadRecord returns the live record for key, or nil
func (s *LockoutService) loadRecord(ctx context.Context, key string) (*models.LockoutRecord, error) {
	var record models.LockoutRecord
	found, err := cache.GetJSON(ctx, s.store, key, &record)
	if err != nil || !found {
		return nil, err
	}
	if !record.IsPermanent && record.LockedUntil != nil && !s.now().Before(*record.LockedUntil) {
		return nil, nil
	}
	return &record, nil
}

// GetFailedAttemptCount returns the identity's failed attempts in the current window
func (s *LockoutService) GetFailedAttemptCount(ctx context.Context, identity string) (int64, error) {
	identity, err := normalizeIdentity(identity)
	if err != nil {
		return 0, err
	}
	return cache.GetInt(ctx, s.store, userAttemptsKey(identity))
}

// GetUserLockoutInfo reports lockout state, failed attempts and escalation count
func (s *LockoutService) GetUserLockoutInfo(ctx context.Context, identity string) (*models.LockoutStatus, error) {
	identity, err := normalizeIdentity(identity)
	if err != nil {
		return nil, err
	}

	record, err := s.loadRecord(ctx, userLockoutKey(identity))
	if err != nil {
		return nil, err
	}
	attempts, err := cache.GetInt(ctx, s.store, userAttemptsKey(identity))
	if err != nil {
		return nil, err
	}
	lockoutCount, err := cache.GetInt(ctx, s.store, lockoutCountKey(identity))
	if err != nil {
		return nil, err
	}

	return &models.LockoutStatus{
		Key:            identity,
		Locked:         record != nil,
		FailedAttempts: attempts,
		LockoutCount:   lockoutCount,
		Record:         record,
	}, nil
}

// GetIPLockoutInfo reports lockout state and failed attempts for ip
func (s *LockoutService) GetIPLockoutInfo(ctx context.Context, ip string) (*models.LockoutStatus, error) {
	ip, err := normalizeIP(ip)
	if err != nil {
		return nil, err
	}

	record, err := s.loadRecord(ctx, ipLockoutKey(ip))
	if err != nil {
		return nil, err
	}
	attempts, err := cache.GetInt(ctx, s.store, ipAttemptsKey(ip))
	if err != nil {
		return nil, err
	}

	return &models.LockoutStatus{
		Key:            ip,
		Locked:         record != nil,
		FailedAttempts: attempts,
		Record:         record,
	}, nil
}

// UnlockUser clears the identity's lockout record, attempt counter and
// escalation count, and reactivates the account if a permanent lockout had
// deactivated it. Accounts disabled for any other reason stay disabled. Unlocking an identity that is not locked succeeds.
func (s *LockoutService) UnlockUser(ctx context.Context, identity string, req models.RequestInfo) error {
	identity, err := normalizeIdentity(identity)
	if err != nil {
		return err
	}

	var record models.LockoutRecord
	found, err := cache.GetJSON(ctx, s.store, userLockoutKey(identity), &record)
	if err != nil {
		return fmt.Errorf("read lockout record: %w", err)
	}

	if err := s.store.Forget(ctx, userLockoutKey(identity), userAttemptsKey(identity), lockoutCountKey(identity)); err != nil {
		return fmt.Errorf("clear lockout state: %w", err)
	}

	reactivated := false
	if found && record.IsPermanent && s.directory != nil {
		changed, err := s.directory.Activate(ctx, identity, models.DeactivatedByLockout)
		if err != nil && !errors.Is(err, models.ErrNotFound) {
			return fmt.Errorf("reactivate account: %w", err)
		}
		reactivated = changed
	}

	s.logger.Info("user unlocked",
		slog.String("identity", logger.SanitizedIdentity(identity)),
		slog.Bool("was_locked", found),
		slog.Bool("reactivated", reactivated))

	emit(ctx, s.events, s.logger, models.EventInput{
		Type:        models.EventAccountUnlocked,
		Severity:    models.SeverityLow,
		Description: "Account lockout cleared by administrator",
		Metadata: models.EventMetadata{
			"identity":    identity,
			"was_locked":  found,
			"permanent":   found && record.IsPermanent,
			"reactivated": reactivated,
		},
		Request: req,
	})
	return nil
}

// UnlockIP clears the IP's lockout record and attempt counter. Idempotent.
func (s *LockoutService) UnlockIP(ctx context.Context, ip string, req models.RequestInfo) error {
	ip, err := normalizeIP(ip)
	if err != nil {
		return err
	}

	wasLocked, err := s.store.Has(ctx, ipLockoutKey(ip))
	if err != nil {
		return fmt.Errorf("read ip lockout: %w", err)
	}
	if err := s.store.Forget(ctx, ipLockoutKey(ip), ipAttemptsKey(ip)); err != nil {
		return fmt.Errorf("clear ip lockout state: %w", err)
	}

	s.logger.Info("ip unlocked", slog.String("ip_address", ip), slog.Bool("was_locked", wasLocked))

	emit(ctx, s.events, s.logger, models.EventInput{
		Type:        models.EventIPUnlocked,
		Severity:    models.SeverityLow,
		Description: "IP lockout cleared by administrator",
		Metadata: models.EventMetadata{
			"ip_address": ip,
			"was_locked": wasLocked,
		},
		Request: req,
	})
	return nil
}
