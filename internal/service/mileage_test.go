package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/techtrust/backend/internal/model"
	"github.com/techtrust/backend/internal/repository"
)

type stubMileageRepo struct {
	staleVehicles    []repository.StaleVehicle
	staleVehiclesErr error

	remindedIDs []string

	user    *model.User
	userErr error

	userVehicles []model.Vehicle

	updatedLog *model.MileageLog
	updateErr  error

	notifications []model.Notification

	optOutSet *bool
}

func (s *stubMileageRepo) GetStaleVehicles(ctx context.Context, staleBefore time.Time, limit int) ([]repository.StaleVehicle, error) {
	return s.staleVehicles, s.staleVehiclesErr
}

func (s *stubMileageRepo) MarkMileageReminderSent(ctx context.Context, vehicleID string, now time.Time) error {
	s.remindedIDs = append(s.remindedIDs, vehicleID)
	return nil
}

func (s *stubMileageRepo) GetStaleVehiclesForUser(ctx context.Context, userID string, staleBefore time.Time) ([]model.Vehicle, error) {
	return s.userVehicles, nil
}

func (s *stubMileageRepo) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	return s.user, s.userErr
}

func (s *stubMileageRepo) UpdateVehicleMileage(ctx context.Context, userID, vehicleID string, mileage int, source model.MileageSource) (*model.MileageLog, error) {
	return s.updatedLog, s.updateErr
}

func (s *stubMileageRepo) GetMileageHistory(ctx context.Context, userID, vehicleID string, limit int) ([]model.MileageLog, error) {
	return nil, nil
}

func (s *stubMileageRepo) SetMileageReminderOptOut(ctx context.Context, userID string, optOut bool) error {
	s.optOutSet = &optOut
	return nil
}

func (s *stubMileageRepo) CreateVehicle(ctx context.Context, v model.Vehicle) (string, error) {
	return "vehicle-id", nil
}

func (s *stubMileageRepo) CreateNotification(ctx context.Context, n model.Notification) error {
	s.notifications = append(s.notifications, n)
	return nil
}

func TestCheckStaleMileage_SendsReminders(t *testing.T) {
	repo := &stubMileageRepo{
		staleVehicles: []repository.StaleVehicle{
			{ID: "v1", UserID: "u1", Make: "Toyota", Model: "Camry", Year: 2020},
		},
	}
	svc := NewMileageService(repo, zap.NewNop())

	result, err := svc.CheckStaleMileage(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Checked != 1 || result.Notified != 1 {
		t.Fatalf("result = %+v, want checked=1 notified=1", result)
	}
	if len(repo.remindedIDs) != 1 || repo.remindedIDs[0] != "v1" {
		t.Fatalf("reminded = %v, want [v1]", repo.remindedIDs)
	}

	n := repo.notifications[0]
	if want := "Keep your 2020 Toyota Camry maintenance schedule accurate. Tap to update your current mileage."; n.Message != want {
		t.Fatalf("message = %q, want %q", n.Message, want)
	}
	if !strings.Contains(n.Data, `"action":"UPDATE_MILEAGE"`) {
		t.Fatalf("data = %s, want UPDATE_MILEAGE action", n.Data)
	}
}

func TestCheckStaleMileage_SkipsOptedOutOwners(t *testing.T) {
	repo := &stubMileageRepo{
		staleVehicles: []repository.StaleVehicle{
			{ID: "v1", UserID: "u1", Make: "Toyota", Model: "Camry", Year: 2020, OwnerOptOut: true},
		},
	}
	svc := NewMileageService(repo, zap.NewNop())

	result, err := svc.CheckStaleMileage(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Checked != 1 || result.Notified != 0 {
		t.Fatalf("result = %+v, want checked=1 notified=0", result)
	}
}

func TestCheckStaleMileage_HonorsMinInterval(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	recent := now.Add(-24 * time.Hour)
	old := now.Add(-72 * time.Hour)

	repo := &stubMileageRepo{
		staleVehicles: []repository.StaleVehicle{
			{ID: "recent", UserID: "u1", Make: "Toyota", Model: "Camry", Year: 2020, MileageReminderLastSentAt: &recent},
			{ID: "old", UserID: "u2", Make: "Honda", Model: "Civic", Year: 2019, MileageReminderLastSentAt: &old},
		},
	}
	svc := NewMileageService(repo, zap.NewNop())
	svc.now = fixedClock(now)

	result, err := svc.CheckStaleMileage(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Notified != 1 {
		t.Fatalf("notified = %d, want 1", result.Notified)
	}
	if len(repo.remindedIDs) != 1 || repo.remindedIDs[0] != "old" {
		t.Fatalf("reminded = %v, want [old]", repo.remindedIDs)
	}
}

func TestGetMileageBanner_OptedOutUser(t *testing.T) {
	repo := &stubMileageRepo{
		user: &model.User{ID: "u1", MileageReminderOptOut: true},
	}
	svc := NewMileageService(repo, zap.NewNop())

	banner, err := svc.GetMileageBanner(context.Background(), "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if banner.ShouldShow {
		t.Fatalf("banner must be hidden for opted-out user")
	}
}

func TestGetMileageBanner_StaleVehicles(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	lastUpdate := now.Add(-5 * 24 * time.Hour)

	repo := &stubMileageRepo{
		user: &model.User{ID: "u1"},
		userVehicles: []model.Vehicle{
			{ID: "v1", Make: "Toyota", Model: "Camry", Year: 2020, LastMileageUpdate: &lastUpdate},
		},
	}
	svc := NewMileageService(repo, zap.NewNop())
	svc.now = fixedClock(now)

	banner, err := svc.GetMileageBanner(context.Background(), "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !banner.ShouldShow {
		t.Fatalf("banner must be shown")
	}
	if len(banner.Vehicles) != 1 {
		t.Fatalf("vehicles = %d, want 1", len(banner.Vehicles))
	}
	if banner.Vehicles[0].DaysSinceUpdate == nil || *banner.Vehicles[0].DaysSinceUpdate != 5 {
		t.Fatalf("days since update = %v, want 5", banner.Vehicles[0].DaysSinceUpdate)
	}
}

func TestUpdateMileageManual_RejectsNegative(t *testing.T) {
	svc := NewMileageService(&stubMileageRepo{}, zap.NewNop())

	_, err := svc.UpdateMileageManual(context.Background(), "u1", "v1", -1)
	if !errors.Is(err, ErrInvalidMileage) {
		t.Fatalf("expected ErrInvalidMileage, got %v", err)
	}
}

func TestUpdateMileageManual_PropagatesDecreaseError(t *testing.T) {
	repo := &stubMileageRepo{updateErr: repository.ErrMileageDecrease}
	svc := NewMileageService(repo, zap.NewNop())

	_, err := svc.UpdateMileageManual(context.Background(), "u1", "v1", 100)
	if !errors.Is(err, repository.ErrMileageDecrease) {
		t.Fatalf("expected ErrMileageDecrease, got %v", err)
	}
}

func TestSetReminderOptOut(t *testing.T) {
	repo := &stubMileageRepo{}
	svc := NewMileageService(repo, zap.NewNop())

	if err := svc.SetReminderOptOut(context.Background(), "u1", true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.optOutSet == nil || !*repo.optOutSet {
		t.Fatalf("opt-out flag was not persisted")
	}
}
