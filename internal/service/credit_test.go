package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/techtrust/backend/internal/model"
)

type stubCreditRepo struct {
	logs []model.APICreditLog

	admins    []string
	adminsErr error

	notifications   []model.Notification
	notificationErr error

	historyProvider string
	historySince    time.Time
	historyLimit    int
}

func (s *stubCreditRepo) InsertCreditLog(ctx context.Context, log model.APICreditLog) error {
	s.logs = append(s.logs, log)
	return nil
}

func (s *stubCreditRepo) GetCreditHistory(ctx context.Context, provider string, since time.Time, limit int) ([]model.APICreditLog, error) {
	s.historyProvider = provider
	s.historySince = since
	s.historyLimit = limit
	return nil, nil
}

func (s *stubCreditRepo) GetAdminUserIDs(ctx context.Context) ([]string, error) {
	return s.admins, s.adminsErr
}

func (s *stubCreditRepo) CreateNotification(ctx context.Context, n model.Notification) error {
	if s.notificationErr != nil {
		return s.notificationErr
	}
	s.notifications = append(s.notifications, n)
	return nil
}

func testPlans() []model.PlanConfig {
	return []model.PlanConfig{
		{Provider: "VehicleDatabases", PlanName: "Starter", CreditsTotal: 500, MonthlyCost: 100, ResetDay: 1},
	}
}

func TestUpdateCreditState_StatusThresholds(t *testing.T) {
	tests := []struct {
		creditsLeft int
		want        model.CreditStatus
	}{
		{creditsLeft: 160, want: model.CreditStatusNormal},   // 32%
		{creditsLeft: 150, want: model.CreditStatusAlert},    // ровно 30%
		{creditsLeft: 140, want: model.CreditStatusAlert},    // 28%
		{creditsLeft: 75, want: model.CreditStatusThrottle},  // ровно 15%
		{creditsLeft: 70, want: model.CreditStatusThrottle},  // 14%
		{creditsLeft: 25, want: model.CreditStatusHalt},      // ровно 5%
		{creditsLeft: 20, want: model.CreditStatusHalt},      // 4%
		{creditsLeft: 0, want: model.CreditStatusHalt},
	}

	for _, tt := range tests {
		repo := &stubCreditRepo{}
		guard := NewCreditGuard(repo, zap.NewNop(), testPlans())

		state, err := guard.UpdateCreditState(context.Background(), "VehicleDatabases", tt.creditsLeft)
		if err != nil {
			t.Fatalf("UpdateCreditState(%d): %v", tt.creditsLeft, err)
		}
		if state.Status != tt.want {
			t.Errorf("creditsLeft=%d: status = %s, want %s", tt.creditsLeft, state.Status, tt.want)
		}
	}
}

func TestUpdateCreditState_UnknownProvider(t *testing.T) {
	guard := NewCreditGuard(&stubCreditRepo{}, zap.NewNop(), testPlans())

	_, err := guard.UpdateCreditState(context.Background(), "NoSuchAPI", 100)
	if err == nil {
		t.Fatalf("expected error for unknown provider")
	}
	if !strings.Contains(err.Error(), "unknown API provider") {
		t.Fatalf("error = %v, want unknown API provider", err)
	}
}

func TestUpdateCreditState_BurnRateProjection(t *testing.T) {
	repo := &stubCreditRepo{}
	guard := NewCreditGuard(repo, zap.NewNop(), testPlans())
	guard.now = fixedClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))

	state, err := guard.UpdateCreditState(context.Background(), "VehicleDatabases", 160)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 340 кредитов за 10 дней с начала цикла.
	if state.DailyAverage != 34.0 {
		t.Fatalf("daily average = %v, want 34.0", state.DailyAverage)
	}
	if state.DaysRemaining != 4 {
		t.Fatalf("days remaining = %d, want 4", state.DaysRemaining)
	}

	if len(repo.logs) != 1 {
		t.Fatalf("credit logs = %d, want 1", len(repo.logs))
	}
	if repo.logs[0].PercentLeft != 32.0 {
		t.Fatalf("logged percent = %v, want 32.0", repo.logs[0].PercentLeft)
	}
}

func TestUpdateCreditState_NoUsageSentinel(t *testing.T) {
	guard := NewCreditGuard(&stubCreditRepo{}, zap.NewNop(), testPlans())
	guard.now = fixedClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))

	state, err := guard.UpdateCreditState(context.Background(), "VehicleDatabases", 500)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.DaysRemaining != 999 {
		t.Fatalf("days remaining = %d, want 999 sentinel", state.DaysRemaining)
	}
}

func TestCanMakeAPICall_UninitializedProviderAllowed(t *testing.T) {
	guard := NewCreditGuard(&stubCreditRepo{}, zap.NewNop(), testPlans())

	decision := guard.CanMakeAPICall("VehicleDatabases")
	if !decision.Allowed {
		t.Fatalf("uninitialized provider must be allowed")
	}
	if decision.Status != "UNKNOWN" {
		t.Fatalf("status = %s, want UNKNOWN", decision.Status)
	}
}

func TestCanMakeAPICall_HaltDenied(t *testing.T) {
	guard := NewCreditGuard(&stubCreditRepo{}, zap.NewNop(), testPlans())

	if _, err := guard.UpdateCreditState(context.Background(), "VehicleDatabases", 20); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	decision := guard.CanMakeAPICall("VehicleDatabases")
	if decision.Allowed {
		t.Fatalf("HALT must deny calls")
	}
	if want := "API credits critically low (4.0%). Using free fallback."; decision.Reason != want {
		t.Fatalf("reason = %q, want %q", decision.Reason, want)
	}
}

func TestCanMakeAPICall_ThrottleWindow(t *testing.T) {
	guard := NewCreditGuard(&stubCreditRepo{}, zap.NewNop(), testPlans())

	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	guard.now = fixedClock(base)

	if _, err := guard.UpdateCreditState(context.Background(), "VehicleDatabases", 70); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	first := guard.CanMakeAPICall("VehicleDatabases")
	if !first.Allowed {
		t.Fatalf("first throttled call must be allowed")
	}
	if first.Status != string(model.CreditStatusThrottle) {
		t.Fatalf("status = %s, want THROTTLE", first.Status)
	}

	guard.now = fixedClock(base.Add(10 * time.Second))
	second := guard.CanMakeAPICall("VehicleDatabases")
	if second.Allowed {
		t.Fatalf("call inside throttle window must be denied")
	}
	if want := "API throttled. Wait 50s."; second.Reason != want {
		t.Fatalf("reason = %q, want %q", second.Reason, want)
	}

	guard.now = fixedClock(base.Add(61 * time.Second))
	third := guard.CanMakeAPICall("VehicleDatabases")
	if !third.Allowed {
		t.Fatalf("call after throttle window must be allowed")
	}
}

func TestRecordCreditUsage_EscalationNotifiesAdmins(t *testing.T) {
	repo := &stubCreditRepo{admins: []string{"admin1", "admin2"}}
	guard := NewCreditGuard(repo, zap.NewNop(), testPlans())

	if _, err := guard.UpdateCreditState(context.Background(), "VehicleDatabases", 151); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 151 → 149: пересечение порога ALERT.
	guard.RecordCreditUsage(context.Background(), "VehicleDatabases", 2)

	state, ok := guard.GetCreditState("VehicleDatabases")
	if !ok {
		t.Fatalf("state must exist")
	}
	if state.Status != model.CreditStatusAlert {
		t.Fatalf("status = %s, want ALERT", state.Status)
	}

	if len(repo.notifications) != 2 {
		t.Fatalf("notifications = %d, want one per admin", len(repo.notifications))
	}
	if !strings.Contains(repo.notifications[0].Title, "API Credits Low") {
		t.Fatalf("title = %q, want API Credits Low", repo.notifications[0].Title)
	}
	if !strings.Contains(repo.notifications[0].Data, `"action":"API_CREDIT_ALERT"`) {
		t.Fatalf("data = %s, want API_CREDIT_ALERT action", repo.notifications[0].Data)
	}
}

func TestRecordCreditUsage_NoStateIsNoop(t *testing.T) {
	repo := &stubCreditRepo{admins: []string{"admin1"}}
	guard := NewCreditGuard(repo, zap.NewNop(), testPlans())

	guard.RecordCreditUsage(context.Background(), "VehicleDatabases", 10)

	if _, ok := guard.GetCreditState("VehicleDatabases"); ok {
		t.Fatalf("usage without state must not create state")
	}
	if len(repo.notifications) != 0 {
		t.Fatalf("no notifications expected, got %d", len(repo.notifications))
	}
}

func TestRecordCreditUsage_FloorsAtZero(t *testing.T) {
	guard := NewCreditGuard(&stubCreditRepo{}, zap.NewNop(), testPlans())

	if _, err := guard.UpdateCreditState(context.Background(), "VehicleDatabases", 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	guard.RecordCreditUsage(context.Background(), "VehicleDatabases", 100)

	state, _ := guard.GetCreditState("VehicleDatabases")
	if state.CreditsLeft != 0 {
		t.Fatalf("credits left = %d, want 0", state.CreditsLeft)
	}
}

func TestGetCreditState_CaseInsensitive(t *testing.T) {
	guard := NewCreditGuard(&stubCreditRepo{}, zap.NewNop(), testPlans())

	if _, err := guard.UpdateCreditState(context.Background(), "VehicleDatabases", 400); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := guard.GetCreditState("vehicledatabases"); !ok {
		t.Fatalf("lookup must be case-insensitive")
	}
}

func TestGetCreditHistory_DefaultLimit(t *testing.T) {
	repo := &stubCreditRepo{}
	guard := NewCreditGuard(repo, zap.NewNop(), testPlans())

	if _, err := guard.GetCreditHistory(context.Background(), HistoryFilter{Provider: "VehicleDatabases"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.historyLimit != 30 {
		t.Fatalf("limit = %d, want default 30", repo.historyLimit)
	}
	if !repo.historySince.IsZero() {
		t.Fatalf("since must be zero without days filter, got %v", repo.historySince)
	}
}
