// Package service реализует бизнес-логику фоновых сверок маркетплейса TechTrust.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/techtrust/backend/internal/model"
	"github.com/techtrust/backend/internal/repository"
)

// ExpirationRepository описывает контракт доступа к данным для сверки истечений.
type ExpirationRepository interface {
	GetOverdueQuotes(ctx context.Context, now time.Time) ([]repository.OverdueQuote, error)
	ExpireQuotes(ctx context.Context, ids []string, now time.Time) (int64, error)
	DeactivateOverdueShares(ctx context.Context, now time.Time) (int64, error)
	GetOverdueServiceRequests(ctx context.Context, now time.Time) ([]repository.OverdueRequest, error)
	ExpireServiceRequests(ctx context.Context, ids []string) (int64, error)
	CreateNotification(ctx context.Context, n model.Notification) error
}

// ExpirationResult содержит счётчики одной сверки истечений.
// Значения используются только для логирования и метрик.
type ExpirationResult struct {
	ExpiredQuotes     int `json:"expiredQuotes"`
	ExpiredShares     int `json:"expiredShares"`
	ExpiredRequests   int `json:"expiredRequests"`
	NotificationsSent int `json:"notificationsSent"`
}

// ExpirationService переводит просроченные предложения, публичные сметы и заявки
// в терминальные статусы и рассылает уведомления затронутым сторонам.
type ExpirationService struct {
	repo   ExpirationRepository
	logger *zap.Logger
	now    func() time.Time
}

// NewExpirationService создаёт сервис сверки истечений.
func NewExpirationService(repo ExpirationRepository, logger *zap.Logger) *ExpirationService {
	return &ExpirationService{
		repo:   repo,
		logger: logger,
		now:    time.Now,
	}
}

// CheckQuoteExpirations выполняет одну сверку: просроченные PENDING-предложения,
// активные сметы и открытые заявки с истёкшим дедлайном. Каждый шаг идемпотентен,
// при ошибке сверка прерывается целиком и будет повторена следующим тиком.
func (s *ExpirationService) CheckQuoteExpirations(ctx context.Context) (ExpirationResult, error) {
	now := s.now()
	var result ExpirationResult

	overdueQuotes, err := s.repo.GetOverdueQuotes(ctx, now)
	if err != nil {
		return ExpirationResult{}, fmt.Errorf("get overdue quotes: %w", err)
	}

	if len(overdueQuotes) > 0 {
		ids := make([]string, 0, len(overdueQuotes))
		for _, q := range overdueQuotes {
			ids = append(ids, q.ID)
		}

		// Предложение, принятое между выборкой и обновлением, предикат не затронет.
		if _, err := s.repo.ExpireQuotes(ctx, ids, now); err != nil {
			return ExpirationResult{}, err
		}
		result.ExpiredQuotes = len(overdueQuotes)

		sent, err := s.notifyExpiredQuotes(ctx, overdueQuotes)
		result.NotificationsSent += sent
		if err != nil {
			return ExpirationResult{}, err
		}
	}

	expiredShares, err := s.repo.DeactivateOverdueShares(ctx, now)
	if err != nil {
		return ExpirationResult{}, err
	}
	result.ExpiredShares = int(expiredShares)

	overdueRequests, err := s.repo.GetOverdueServiceRequests(ctx, now)
	if err != nil {
		return ExpirationResult{}, fmt.Errorf("get overdue requests: %w", err)
	}

	if len(overdueRequests) > 0 {
		ids := make([]string, 0, len(overdueRequests))
		for _, req := range overdueRequests {
			ids = append(ids, req.ID)
		}

		if _, err := s.repo.ExpireServiceRequests(ctx, ids); err != nil {
			return ExpirationResult{}, err
		}
		result.ExpiredRequests = len(overdueRequests)

		for _, req := range overdueRequests {
			err := s.repo.CreateNotification(ctx, model.Notification{
				UserID:  req.UserID,
				Type:    model.NotificationSystemAlert,
				Title:   "Service Request Expired",
				Message: fmt.Sprintf("Your service request %q has expired. You can renew it for $0.99 or create a new request anytime.", req.Title),
				Data: marshalData(map[string]any{
					"serviceRequestId": req.ID,
					"canRenew":         true,
				}),
			})
			if err != nil {
				return ExpirationResult{}, err
			}
			result.NotificationsSent++
		}
	}

	return result, nil
}

// notifyExpiredQuotes отправляет клиентам по одному уведомлению на заявку
// (с количеством истёкших предложений) и провайдерам — по одному на предложение.
func (s *ExpirationService) notifyExpiredQuotes(ctx context.Context, quotes []repository.OverdueQuote) (int, error) {
	sent := 0

	type customerInfo struct {
		userID       string
		requestTitle string
		count        int
	}

	byRequest := make(map[string]*customerInfo)
	order := make([]string, 0, len(quotes))
	for _, q := range quotes {
		if info, ok := byRequest[q.ServiceRequestID]; ok {
			info.count++
			continue
		}
		byRequest[q.ServiceRequestID] = &customerInfo{
			userID:       q.CustomerID,
			requestTitle: q.RequestTitle,
			count:        1,
		}
		order = append(order, q.ServiceRequestID)
	}

	for _, srID := range order {
		info := byRequest[srID]
		err := s.repo.CreateNotification(ctx, model.Notification{
			UserID:  info.userID,
			Type:    model.NotificationSystemAlert,
			Title:   "Quote Expired",
			Message: fmt.Sprintf("%d quote(s) for %q have expired. You may request new quotes.", info.count, info.requestTitle),
			Data:    marshalData(map[string]any{"serviceRequestId": srID}),
		})
		if err != nil {
			return sent, err
		}
		sent++
	}

	for _, q := range quotes {
		err := s.repo.CreateNotification(ctx, model.Notification{
			UserID:  q.ProviderID,
			Type:    model.NotificationSystemAlert,
			Title:   "Quote Expired",
			Message: fmt.Sprintf("Your quote %s has expired.", q.QuoteNumber),
			Data: marshalData(map[string]any{
				"quoteId":          q.ID,
				"serviceRequestId": q.ServiceRequestID,
			}),
		})
		if err != nil {
			return sent, err
		}
		sent++
	}

	return sent, nil
}

func marshalData(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}
