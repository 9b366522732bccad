package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/techtrust/backend/internal/model"
	"github.com/techtrust/backend/internal/repository"
)

// ComplianceRepository описывает контракт доступа к данным для проверки
// документов и страховых полисов провайдеров.
type ComplianceRepository interface {
	GetExpiringComplianceItems(ctx context.Context) ([]repository.ExpiringCredential, error)
	GetExpiringInsurancePolicies(ctx context.Context) ([]repository.ExpiringCredential, error)
	ExpireComplianceItem(ctx context.Context, id string) (int64, error)
	ExpireInsurancePolicy(ctx context.Context, id string) (int64, error)
	HasExpiredCredentials(ctx context.Context, providerProfileID string) (bool, error)
	RestrictProvider(ctx context.Context, providerProfileID string) error
}

// ComplianceService проверяет сроки действия документов и полисов провайдеров,
// автоматически переводит просроченные в терминальный статус и понижает
// публичный статус провайдера при истечении страховки.
type ComplianceService struct {
	repo   ComplianceRepository
	logger *zap.Logger
	now    func() time.Time
}

// NewComplianceService создаёт сервис проверки истечений документов и полисов.
func NewComplianceService(repo ComplianceRepository, logger *zap.Logger) *ComplianceService {
	return &ComplianceService{
		repo:   repo,
		logger: logger,
		now:    time.Now,
	}
}

// AlertLevelFor возвращает уровень алерта для количества дней до истечения срока.
// Второе значение false означает, что до порога D-30 ещё далеко и алерт не нужен.
func AlertLevelFor(daysUntilExpiry int) (model.AlertLevel, bool) {
	switch {
	case daysUntilExpiry <= 0:
		return model.AlertLevelExpired, true
	case daysUntilExpiry <= 7:
		return model.AlertLevelD7, true
	case daysUntilExpiry <= 15:
		return model.AlertLevelD15, true
	case daysUntilExpiry <= 30:
		return model.AlertLevelD30, true
	default:
		return "", false
	}
}

// CheckExpirations выполняет одну проверку документов и полисов: собирает алерты
// уровней D-30/D-15/D-7/EXPIRED и переводит просроченные записи в терминальный
// статус. Список алертов возвращается вызывающему коду; сам сервис уведомления
// не рассылает, только логирует.
func (s *ComplianceService) CheckExpirations(ctx context.Context) ([]model.ExpirationAlert, error) {
	now := s.now()
	var alerts []model.ExpirationAlert

	items, err := s.repo.GetExpiringComplianceItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("get compliance items: %w", err)
	}

	for _, item := range items {
		days := daysUntilExpiry(item.ExpirationDate, now)
		level, ok := AlertLevelFor(days)
		if !ok {
			continue
		}

		alerts = append(alerts, newAlert(item, model.EntityCompliance, days, level))

		if days <= 0 {
			if _, err := s.repo.ExpireComplianceItem(ctx, item.ID); err != nil {
				return nil, fmt.Errorf("expire compliance item %s: %w", item.ID, err)
			}
		}
	}

	policies, err := s.repo.GetExpiringInsurancePolicies(ctx)
	if err != nil {
		return nil, fmt.Errorf("get insurance policies: %w", err)
	}

	for _, policy := range policies {
		days := daysUntilExpiry(policy.ExpirationDate, now)
		level, ok := AlertLevelFor(days)
		if !ok {
			continue
		}

		alerts = append(alerts, newAlert(policy, model.EntityInsurance, days, level))

		if days <= 0 {
			if _, err := s.repo.ExpireInsurancePolicy(ctx, policy.ID); err != nil {
				return nil, fmt.Errorf("expire insurance policy %s: %w", policy.ID, err)
			}

			// Понижение статуса провайдера выполняется только при истечении страховки,
			// не документов. Состояние выводится заново из БД, а не из локального флага.
			s.recalculateProviderStatus(ctx, policy.ProviderProfileID)
		}
	}

	for _, a := range alerts {
		s.logger.Info("expiration alert",
			zap.String("provider", a.ProviderName),
			zap.String("entity_type", string(a.EntityType)),
			zap.String("item_type", a.ItemType),
			zap.String("alert_level", string(a.AlertLevel)),
			zap.Int("days_until_expiry", a.DaysUntilExpiry),
		)
	}

	return alerts, nil
}

// recalculateProviderStatus понижает публичный статус провайдера до RESTRICTED,
// если у него есть хотя бы один истёкший документ или полис.
// Ошибки логируются и не прерывают сверку.
func (s *ComplianceService) recalculateProviderStatus(ctx context.Context, providerProfileID string) {
	hasExpired, err := s.repo.HasExpiredCredentials(ctx, providerProfileID)
	if err != nil {
		s.logger.Error("recalculate provider status failed",
			zap.String("provider_profile_id", providerProfileID),
			zap.Error(err),
		)
		return
	}

	if !hasExpired {
		return
	}

	if err := s.repo.RestrictProvider(ctx, providerProfileID); err != nil {
		s.logger.Error("restrict provider failed",
			zap.String("provider_profile_id", providerProfileID),
			zap.Error(err),
		)
	}
}

func daysUntilExpiry(expirationDate time.Time, now time.Time) int {
	return int(math.Ceil(expirationDate.Sub(now).Hours() / 24))
}

func newAlert(c repository.ExpiringCredential, entityType model.ExpirationEntityType, days int, level model.AlertLevel) model.ExpirationAlert {
	return model.ExpirationAlert{
		ProviderProfileID: c.ProviderProfileID,
		ProviderName:      c.BusinessName,
		ProviderID:        c.ProviderUserID,
		EntityType:        entityType,
		EntityID:          c.ID,
		ItemType:          c.Type,
		ExpirationDate:    c.ExpirationDate,
		DaysUntilExpiry:   days,
		AlertLevel:        level,
	}
}
