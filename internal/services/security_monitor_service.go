package services

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/BradenHooton/bastion/internal/cache"
	"github.com/BradenHooton/bastion/internal/geo"
	"github.com/BradenHooton/bastion/internal/models"
	"github.com/BradenHooton/bastion/pkg/logger"
)

// EventRepository persists and aggregates security events
type EventRepository interface {
	Create(ctx context.Context, event *models.SecurityEvent) (*models.SecurityEvent, error)
	CountByIPSince(ctx context.Context, ip string, since time.Time) (int64, error)
	CountDistinctIPsByTypeSince(ctx context.Context, eventType models.EventType, since time.Time) (int64, error)
	CountBySeveritySince(ctx context.Context, severity models.Severity, since time.Time) (int64, error)
	List(ctx context.Context, filter models.EventFilter) ([]*models.SecurityEvent, error)
	CountsByTypeSince(ctx context.Context, since time.Time) ([]models.CountByKey, error)
	CountsBySeveritySince(ctx context.Context, since time.Time) ([]models.CountByKey, error)
	TopIPsSince(ctx context.Context, since time.Time, limit int) ([]models.CountByKey, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// GeoLocator resolves an IP address for event enrichment
type GeoLocator interface {
	Lookup(ip string) (*geo.Location, error)
}

// MonitorConfig holds alerting thresholds. A type without a threshold
// never fires a threshold alert.
type MonitorConfig struct {
	Thresholds           map[models.EventType]int
	BurstThreshold       int
	BurstWindow          time.Duration
	CoordinatedThreshold int
	CoordinatedWindow    time.Duration
	RetentionDays        int
}

func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Thresholds: map[models.EventType]int{
			models.EventFailedLogin:          50,
			models.EventAccountLockout:       10,
			models.EventIPLockout:            5,
			models.EventSuspiciousQuery:      5,
			models.EventUnparameterizedQuery: 20,
			models.EventSuspiciousParameter:  10,
			models.EventSessionAnomaly:       20,
			models.EventRateLimitExceeded:    100,
		},
		BurstThreshold:       10,
		BurstWindow:          10 * time.Minute,
		CoordinatedThreshold: 5,
		CoordinatedWindow:    5 * time.Minute,
		RetentionDays:        90,
	}
}

const (
	hourBucketLayout     = "2006010215"
	dashboardWindow      = 7 * 24 * time.Hour
	dashboardRecentLimit = 20
	dashboardTopIPs      = 10
	healthWarningHigh    = 5
)

func hourlyCountKey(t models.EventType, bucket string) string {
	return "security_events:" + string(t) + ":" + bucket
}
func alertMarkerKey(t models.EventType, bucket string) string {
	return "security_alert:" + string(t) + ":" + bucket
}
func burstMarkerKey(ip string) string { return "potential_attack:" + ip }
func coordinatedMarkerKey(t models.EventType) string {
	return "coordinated_attack:" + string(t)
}

// SecurityMonitorService is the sink for every security event. After
// persisting an event it evaluates, in order, the hourly threshold, the
// critical-severity notification, single-origin bursts and coordinated
// attacks.
//
// Events it derives itself (security_alert, potential_attack,
// coordinated_attack) skip the threshold, burst and coordinated checks, so
// alerting cannot feed back into itself.
type SecurityMonitorService struct {
	repo     EventRepository
	store    cache.Store
	notifier Notifier
	geo      GeoLocator
	config   MonitorConfig
	logger   *slog.Logger
	now      Clock
}

// NewSecurityMonitorService creates the monitor. notifier and locator may be nil.
func NewSecurityMonitorService(repo EventRepository, store cache.Store, notifier Notifier, locator GeoLocator, config MonitorConfig, logger *slog.Logger) *SecurityMonitorService {
	return &SecurityMonitorService{
		repo:     repo,
		store:    store,
		notifier: notifier,
		geo:      locator,
		config:   config,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock replaces the time source
func (s *SecurityMonitorService) WithClock(now Clock) *SecurityMonitorService {
	s.now = now
	return s
}

// LogSecurityEvent records an event and runs alert evaluation. A persistence
// failure is logged and returned, but alert evaluation still runs.
func (s *SecurityMonitorService) LogSecurityEvent(ctx context.Context, in models.EventInput) (*models.SecurityEvent, error) {
	if in.Type == "" || !in.Severity.Valid() {
		return nil, models.ErrInvalidEvent
	}

	now := s.now()
	event := &models.SecurityEvent{
		Type:        in.Type,
		Severity:    in.Severity,
		Description: in.Description,
		IPAddress:   in.Request.IPAddress,
		UserAgent:   in.Request.UserAgent,
		Metadata:    s.enrich(in, now),
		CreatedAt:   now,
	}
	if in.Request.UserID != "" {
		userID := in.Request.UserID
		event.UserID = &userID
	}

	var persistErr error
	if saved, err := s.repo.Create(ctx, event); err != nil {
		s.logger.Error("failed to persist security event",
			slog.String("event_type", string(in.Type)),
			slog.Any("error", err))
		persistErr = fmt.Errorf("persist security event: %w", err)
	} else {
		event = saved
	}

	s.logger.Log(ctx, logger.SeverityLevel(string(event.Severity)), "security event",
		slog.String("event_type", string(event.Type)),
		slog.String("severity", string(event.Severity)),
		slog.String("description", event.Description),
		slog.String("ip_address", event.IPAddress),
		slog.String("user_id", in.Request.UserID))

	if !event.Type.IsDerived() {
		s.checkThreshold(ctx, event, now)
	}
	if event.Severity == models.SeverityCritical {
		s.notifyCritical(ctx, event)
	}
	if !event.Type.IsDerived() {
		s.checkBurst(ctx, event, now)
		s.checkCoordinated(ctx, event, now)
	}

	return event, persistErr
}

func (s *SecurityMonitorService) enrich(in models.EventInput, now time.Time) models.EventMetadata {
	metadata := in.Metadata.Clone()
	metadata["timestamp"] = now.UTC().Format(time.RFC3339)
	if in.Request.URL != "" {
		metadata["url"] = in.Request.URL
	}
	if in.Request.Method != "" {
		metadata["method"] = in.Request.Method
	}

	if s.geo != nil && in.Request.IPAddress != "" {
		if loc, err := s.geo.Lookup(in.Request.IPAddress); err == nil {
			if loc.CountryCode != "" {
				metadata["country"] = loc.CountryCode
			}
			if loc.City != "" {
				metadata["city"] = loc.City
			}
			if loc.ASN != 0 {
				metadata["asn"] = loc.ASN
				metadata["as_org"] = loc.ASOrg
			}
		}
	}
	return metadata
}

// checkThreshold fires at most one alert per type and clock hour
func (s *SecurityMonitorService) checkThreshold(ctx context.Context, event *models.SecurityEvent, now time.Time) {
	threshold, ok := s.config.Thresholds[event.Type]
	if !ok || threshold <= 0 {
		return
	}

	bucket := now.UTC().Format(hourBucketLayout)
	count, err := s.store.Increment(ctx, hourlyCountKey(event.Type, bucket), time.Hour)
	if err != nil {
		s.logger.Error("failed to update hourly event count",
			slog.String("event_type", string(event.Type)),
			slog.Any("error", err))
		return
	}
	if count < int64(threshold) {
		return
	}

	first, err := s.store.Add(ctx, alertMarkerKey(event.Type, bucket), strconv.FormatInt(count, 10), time.Hour)
	if err != nil {
		s.logger.Error("failed to set alert suppression marker",
			slog.String("event_type", string(event.Type)),
			slog.Any("error", err))
		return
	}
	if !first {
		return
	}

	logger.Critical(ctx, s.logger, "security threshold exceeded",
		slog.String("event_type", string(event.Type)),
		slog.Int64("count", count),
		slog.Int("threshold", threshold),
		slog.String("hour", bucket))

	data := map[string]any{
		"alert_type": string(event.Type),
		"count":      count,
		"threshold":  threshold,
		"hour":       bucket,
	}
	s.notify(ctx, Alert{
		Subject:  fmt.Sprintf("Security threshold exceeded: %s", event.Type),
		Body:     fmt.Sprintf("%d %s events in the current hour (threshold %d).", count, event.Type, threshold),
		Severity: models.SeverityHigh,
		Data:     data,
	})

	s.derive(ctx, models.EventInput{
		Type:        models.EventSecurityAlert,
		Severity:    models.SeverityHigh,
		Description: fmt.Sprintf("Threshold exceeded for %s", event.Type),
		Metadata:    models.EventMetadata(data),
	})
}

func (s *SecurityMonitorService) notifyCritical(ctx context.Context, event *models.SecurityEvent) {
	data := map[string]any{
		"event_type": string(event.Type),
		"ip_address": event.IPAddress,
	}
	for k, v := range event.Metadata {
		if _, exists := data[k]; !exists {
			data[k] = v
		}
	}
	s.notify(ctx, Alert{
		Subject:  fmt.Sprintf("Critical security event: %s", event.Type),
		Body:     event.Description,
		Severity: models.SeverityCritical,
		Data:     data,
	})
}

// checkBurst reports an origin IP producing too many events of any type
func (s *SecurityMonitorService) checkBurst(ctx context.Context, event *models.SecurityEvent, now time.Time) {
	if event.IPAddress == "" || s.config.BurstThreshold <= 0 {
		return
	}

	count, err := s.repo.CountByIPSince(ctx, event.IPAddress, now.Add(-s.config.BurstWindow))
	if err != nil {
		s.logger.Error("failed to count events by ip", slog.Any("error", err))
		return
	}
	if count < int64(s.config.BurstThreshold) {
		return
	}

	first, err := s.store.Add(ctx, burstMarkerKey(event.IPAddress), strconv.FormatInt(count, 10), s.config.BurstWindow)
	if err != nil || !first {
		if err != nil {
			s.logger.Error("failed to set burst marker", slog.Any("error", err))
		}
		return
	}

	s.derive(ctx, models.EventInput{
		Type:        models.EventPotentialAttack,
		Severity:    models.SeverityHigh,
		Description: fmt.Sprintf("%d security events from %s in %s", count, event.IPAddress, s.config.BurstWindow),
		Metadata: models.EventMetadata{
			"event_count":    count,
			"window_minutes": int(s.config.BurstWindow.Minutes()),
			"trigger_type":   string(event.Type),
		},
		Request: models.RequestInfo{IPAddress: event.IPAddress, UserAgent: event.UserAgent},
	})
}

// checkCoordinated reports one event type arriving from many distinct IPs
func (s *SecurityMonitorService) checkCoordinated(ctx context.Context, event *models.SecurityEvent, now time.Time) {
	if s.config.CoordinatedThreshold <= 0 {
		return
	}

	distinct, err := s.repo.CountDistinctIPsByTypeSince(ctx, event.Type, now.Add(-s.config.CoordinatedWindow))
	if err != nil {
		s.logger.Error("failed to count distinct ips", slog.Any("error", err))
		return
	}
	if distinct < int64(s.config.CoordinatedThreshold) {
		return
	}

	first, err := s.store.Add(ctx, coordinatedMarkerKey(event.Type), strconv.FormatInt(distinct, 10), s.config.CoordinatedWindow)
	if err != nil || !first {
		if err != nil {
			s.logger.Error("failed to set coordinated attack marker", slog.Any("error", err))
		}
		return
	}

	s.derive(ctx, models.EventInput{
		Type:        models.EventCoordinatedAttack,
		Severity:    models.SeverityCritical,
		Description: fmt.Sprintf("%s from %d distinct IPs in %s", event.Type, distinct, s.config.CoordinatedWindow),
		Metadata: models.EventMetadata{
			"attack_type":    string(event.Type),
			"distinct_ips":   distinct,
			"window_minutes": int(s.config.CoordinatedWindow.Minutes()),
		},
	})
}

func (s *SecurityMonitorService) derive(ctx context.Context, in models.EventInput) {
	if _, err := s.LogSecurityEvent(ctx, in); err != nil {
		s.logger.Warn("failed to record derived security event",
			slog.String("event_type", string(in.Type)),
			slog.Any("error", err))
	}
}

func (s *SecurityMonitorService) notify(ctx context.Context, alert Alert) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, alert)
}

// ListEvents returns events matching filter, newest first
func (s *SecurityMonitorService) ListEvents(ctx context.Context, filter models.EventFilter) ([]*models.SecurityEvent, error) {
	return s.repo.List(ctx, filter)
}

// GetDashboardData summarizes the last seven days of activity
func (s *SecurityMonitorService) GetDashboardData(ctx context.Context) (*models.DashboardData, error) {
	now := s.now()
	since := now.Add(-dashboardWindow)
	hourAgo := now.Add(-time.Hour)

	recent, err := s.repo.List(ctx, models.EventFilter{Limit: dashboardRecentLimit})
	if err != nil {
		return nil, fmt.Errorf("list recent events: %w", err)
	}
	byType, err := s.repo.CountsByTypeSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("count events by type: %w", err)
	}
	bySeverity, err := s.repo.CountsBySeveritySince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("count events by severity: %w", err)
	}
	topIPs, err := s.repo.TopIPsSince(ctx, since, dashboardTopIPs)
	if err != nil {
		return nil, fmt.Errorf("top ips: %w", err)
	}
	critical, err := s.repo.CountBySeveritySince(ctx, models.SeverityCritical, hourAgo)
	if err != nil {
		return nil, fmt.Errorf("count critical events: %w", err)
	}
	high, err := s.repo.CountBySeveritySince(ctx, models.SeverityHigh, hourAgo)
	if err != nil {
		return nil, fmt.Errorf("count high events: %w", err)
	}

	return &models.DashboardData{
		RecentEvents:     recent,
		CountsByType:     byType,
		CountsBySeverity: bySeverity,
		TopIPs:           topIPs,
		CriticalLastHour: critical,
		HighLastHour:     high,
		Health:           healthFor(critical, high),
		GeneratedAt:      now,
	}, nil
}

func healthFor(critical, high int64) models.HealthStatus {
	switch {
	case critical > 0:
		return models.HealthCritical
	case high > healthWarningHigh:
		return models.HealthWarning
	default:
		return models.HealthHealthy
	}
}

// PruneEvents deletes events older than retention. A non-positive retention
// uses the configured retention days.
func (s *SecurityMonitorService) PruneEvents(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		retention = time.Duration(s.config.RetentionDays) * 24 * time.Hour
	}
	if retention <= 0 {
		return 0, nil
	}

	deleted, err := s.repo.DeleteOlderThan(ctx, s.now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("prune security events: %w", err)
	}
	if deleted > 0 {
		s.logger.Info("pruned security events",
			slog.Int64("deleted", deleted),
			slog.Duration("retention", retention))
	}
	return deleted, nil
}
