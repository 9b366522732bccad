package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/techtrust/backend/internal/model"
	"github.com/techtrust/backend/internal/repository"
)

// Настройки напоминаний о пробеге.
const (
	// mileageStaleDays — дней без обновления пробега до напоминания.
	mileageStaleDays = 3
	// mileageMinInterval — минимальный интервал между напоминаниями одному владельцу.
	mileageMinInterval = 48 * time.Hour
	// mileageBatchSize — размер батча при обработке устаревших пробегов.
	mileageBatchSize = 100
	// mileageHistoryDefaultLimit — лимит истории пробега по умолчанию.
	mileageHistoryDefaultLimit = 20
)

// ErrInvalidMileage возвращается при попытке записать отрицательный пробег.
var ErrInvalidMileage = errors.New("mileage must be non-negative")

// MileageRepository описывает контракт доступа к данным для напоминаний о пробеге.
type MileageRepository interface {
	GetStaleVehicles(ctx context.Context, staleBefore time.Time, limit int) ([]repository.StaleVehicle, error)
	MarkMileageReminderSent(ctx context.Context, vehicleID string, now time.Time) error
	GetStaleVehiclesForUser(ctx context.Context, userID string, staleBefore time.Time) ([]model.Vehicle, error)
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	UpdateVehicleMileage(ctx context.Context, userID, vehicleID string, mileage int, source model.MileageSource) (*model.MileageLog, error)
	GetMileageHistory(ctx context.Context, userID, vehicleID string, limit int) ([]model.MileageLog, error)
	SetMileageReminderOptOut(ctx context.Context, userID string, optOut bool) error
	CreateVehicle(ctx context.Context, v model.Vehicle) (string, error)
	CreateNotification(ctx context.Context, n model.Notification) error
}

// MileageCheckResult содержит счётчики одной проверки устаревших пробегов.
type MileageCheckResult struct {
	Checked  int `json:"checked"`
	Notified int `json:"notified"`
}

// MileageBannerVehicle описывает автомобиль для баннера обновления пробега.
type MileageBannerVehicle struct {
	VehicleID       string `json:"vehicleId"`
	Make            string `json:"make"`
	Model           string `json:"model"`
	Year            int    `json:"year"`
	CurrentMileage  *int   `json:"currentMileage"`
	DaysSinceUpdate *int   `json:"daysSinceUpdate"`
}

// MileageBannerResult — данные баннера обновления пробега при открытии приложения.
type MileageBannerResult struct {
	ShouldShow bool                   `json:"shouldShow"`
	Vehicles   []MileageBannerVehicle `json:"vehicles"`
}

// MileageService напоминает клиентам обновлять пробег автомобилей и ведёт журнал пробега.
type MileageService struct {
	repo   MileageRepository
	logger *zap.Logger
	now    func() time.Time
}

// NewMileageService создаёт сервис напоминаний о пробеге.
func NewMileageService(repo MileageRepository, logger *zap.Logger) *MileageService {
	return &MileageService{
		repo:   repo,
		logger: logger,
		now:    time.Now,
	}
}

// CheckStaleMileage находит автомобили, пробег которых не обновлялся дольше
// трёх дней, и отправляет владельцам напоминания. Учитывает отказ владельца от
// напоминаний и минимальный интервал между отправками.
func (s *MileageService) CheckStaleMileage(ctx context.Context) (MileageCheckResult, error) {
	now := s.now()
	var result MileageCheckResult

	staleBefore := now.AddDate(0, 0, -mileageStaleDays)
	minIntervalCutoff := now.Add(-mileageMinInterval)

	vehicles, err := s.repo.GetStaleVehicles(ctx, staleBefore, mileageBatchSize)
	if err != nil {
		return MileageCheckResult{}, fmt.Errorf("get stale vehicles: %w", err)
	}

	result.Checked = len(vehicles)

	for _, v := range vehicles {
		if v.OwnerOptOut {
			continue
		}

		if v.MileageReminderLastSentAt != nil && v.MileageReminderLastSentAt.After(minIntervalCutoff) {
			continue
		}

		err := s.repo.CreateNotification(ctx, model.Notification{
			UserID:  v.UserID,
			Type:    model.NotificationSystemAlert,
			Title:   "Update Your Mileage",
			Message: fmt.Sprintf("Keep your %d %s %s maintenance schedule accurate. Tap to update your current mileage.", v.Year, v.Make, v.Model),
			Data: marshalData(map[string]any{
				"action":    "UPDATE_MILEAGE",
				"vehicleId": v.ID,
			}),
		})
		if err != nil {
			return result, fmt.Errorf("create mileage notification: %w", err)
		}

		if err := s.repo.MarkMileageReminderSent(ctx, v.ID, now); err != nil {
			return result, fmt.Errorf("mark reminder sent: %w", err)
		}

		result.Notified++
	}

	return result, nil
}

// GetMileageBanner возвращает данные баннера обновления пробега для пользователя.
// Баннер не показывается, если пользователь отказался от напоминаний.
func (s *MileageService) GetMileageBanner(ctx context.Context, userID string) (MileageBannerResult, error) {
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return MileageBannerResult{}, err
	}

	if user.MileageReminderOptOut {
		return MileageBannerResult{Vehicles: []MileageBannerVehicle{}}, nil
	}

	now := s.now()
	staleBefore := now.AddDate(0, 0, -mileageStaleDays)

	vehicles, err := s.repo.GetStaleVehiclesForUser(ctx, userID, staleBefore)
	if err != nil {
		return MileageBannerResult{}, err
	}

	if len(vehicles) == 0 {
		return MileageBannerResult{Vehicles: []MileageBannerVehicle{}}, nil
	}

	res := MileageBannerResult{
		ShouldShow: true,
		Vehicles:   make([]MileageBannerVehicle, 0, len(vehicles)),
	}
	for _, v := range vehicles {
		var daysSince *int
		if v.LastMileageUpdate != nil {
			d := int(math.Floor(now.Sub(*v.LastMileageUpdate).Hours() / 24))
			daysSince = &d
		}

		res.Vehicles = append(res.Vehicles, MileageBannerVehicle{
			VehicleID:       v.ID,
			Make:            v.Make,
			Model:           v.Model,
			Year:            v.Year,
			CurrentMileage:  v.CurrentMileage,
			DaysSinceUpdate: daysSince,
		})
	}

	return res, nil
}

// UpdateMileageManual записывает пробег, введённый клиентом вручную.
// Новый пробег не может быть меньше текущего.
func (s *MileageService) UpdateMileageManual(ctx context.Context, userID, vehicleID string, mileage int) (*model.MileageLog, error) {
	if mileage < 0 {
		return nil, ErrInvalidMileage
	}

	log, err := s.repo.UpdateVehicleMileage(ctx, userID, vehicleID, mileage, model.MileageSourceManual)
	if err != nil {
		return nil, err
	}

	s.logger.Info("manual mileage update",
		zap.String("vehicle_id", vehicleID),
		zap.Int("mileage", mileage),
	)

	return log, nil
}

// GetMileageHistory возвращает журнал пробега автомобиля.
func (s *MileageService) GetMileageHistory(ctx context.Context, userID, vehicleID string, limit int) ([]model.MileageLog, error) {
	if limit <= 0 {
		limit = mileageHistoryDefaultLimit
	}
	return s.repo.GetMileageHistory(ctx, userID, vehicleID, limit)
}

// SetReminderOptOut включает или выключает напоминания о пробеге для пользователя.
func (s *MileageService) SetReminderOptOut(ctx context.Context, userID string, optOut bool) error {
	return s.repo.SetMileageReminderOptOut(ctx, userID, optOut)
}

// RegisterVehicle регистрирует новый автомобиль клиента.
func (s *MileageService) RegisterVehicle(ctx context.Context, v model.Vehicle) (string, error) {
	return s.repo.CreateVehicle(ctx, v)
}
