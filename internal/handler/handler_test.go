package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/techtrust/backend/internal/metrics"
	"github.com/techtrust/backend/internal/middleware"
	"github.com/techtrust/backend/internal/model"
	"github.com/techtrust/backend/internal/repository"
	"github.com/techtrust/backend/internal/service"
)

type stubExpiration struct {
	result service.ExpirationResult
	err    error
}

func (s *stubExpiration) CheckQuoteExpirations(ctx context.Context) (service.ExpirationResult, error) {
	return s.result, s.err
}

type stubCompliance struct {
	alerts []model.ExpirationAlert
	err    error
}

func (s *stubCompliance) CheckExpirations(ctx context.Context) ([]model.ExpirationAlert, error) {
	return s.alerts, s.err
}

type stubCredit struct {
	decision    service.GateDecision
	state       *model.CreditState
	states      []model.CreditState
	updateErr   error
	usageCalls  int
	lastUsage   int
}

func (s *stubCredit) CanMakeAPICall(provider string) service.GateDecision {
	return s.decision
}

func (s *stubCredit) RecordCreditUsage(ctx context.Context, provider string, creditsUsed int) {
	s.usageCalls++
	s.lastUsage = creditsUsed
}

func (s *stubCredit) UpdateCreditState(ctx context.Context, provider string, creditsLeft int) (*model.CreditState, error) {
	if s.updateErr != nil {
		return nil, s.updateErr
	}
	return s.state, nil
}

func (s *stubCredit) GetAllCreditStates() []model.CreditState {
	return s.states
}

func (s *stubCredit) GetCreditState(provider string) (*model.CreditState, bool) {
	if s.state == nil {
		return nil, false
	}
	return s.state, true
}

func (s *stubCredit) GetCreditHistory(ctx context.Context, filter service.HistoryFilter) ([]model.APICreditLog, error) {
	return nil, nil
}

type stubMileage struct {
	checkResult service.MileageCheckResult
	banner      service.MileageBannerResult
	log         *model.MileageLog
	updateErr   error
	vehicleID   string
	createErr   error
}

func (s *stubMileage) CheckStaleMileage(ctx context.Context) (service.MileageCheckResult, error) {
	return s.checkResult, nil
}

func (s *stubMileage) GetMileageBanner(ctx context.Context, userID string) (service.MileageBannerResult, error) {
	return s.banner, nil
}

func (s *stubMileage) UpdateMileageManual(ctx context.Context, userID, vehicleID string, mileage int) (*model.MileageLog, error) {
	if s.updateErr != nil {
		return nil, s.updateErr
	}
	return s.log, nil
}

func (s *stubMileage) GetMileageHistory(ctx context.Context, userID, vehicleID string, limit int) ([]model.MileageLog, error) {
	return nil, nil
}

func (s *stubMileage) SetReminderOptOut(ctx context.Context, userID string, optOut bool) error {
	return nil
}

func (s *stubMileage) RegisterVehicle(ctx context.Context, v model.Vehicle) (string, error) {
	if s.createErr != nil {
		return "", s.createErr
	}
	return s.vehicleID, nil
}

type stubUsers struct {
	users map[string]*model.User
}

func (s *stubUsers) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	return u, nil
}

type testEnv struct {
	expiration *stubExpiration
	compliance *stubCompliance
	credit     *stubCredit
	mileage    *stubMileage
	users      *stubUsers
	auth       *middleware.AuthMiddleware
	router     http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		expiration: &stubExpiration{},
		compliance: &stubCompliance{},
		credit:     &stubCredit{},
		mileage:    &stubMileage{},
		users: &stubUsers{users: map[string]*model.User{
			"admin1":    {ID: "admin1", Role: model.RoleAdmin},
			"customer1": {ID: "customer1", Role: model.RoleCustomer},
		}},
		auth: middleware.NewAuthMiddleware("test-secret"),
	}

	h := NewHandler(env.expiration, env.compliance, env.credit, env.mileage, env.users, metrics.NewCollector(), zap.NewNop(), env.auth)

	limiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(limiter.Stop)

	env.router = NewRouter(h, limiter)
	return env
}

func (env *testEnv) request(t *testing.T, method, path, userID string, body []byte) *httptest.ResponseRecorder {
	t.Helper()

	r := httptest.NewRequest(method, path, bytes.NewReader(body))
	if userID != "" {
		w := httptest.NewRecorder()
		env.auth.SetAuthCookie(w, userID)
		r.AddCookie(w.Result().Cookies()[0])
	}

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, r)
	return rec
}

func TestAdminRoutes_RequireAuth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodGet, "/api/admin/credits", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestAdminRoutes_RejectNonAdmin(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodGet, "/api/admin/credits", "customer1", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
}

func TestGetCreditStates_Admin(t *testing.T) {
	env := newTestEnv(t)
	env.credit.states = []model.CreditState{
		{Provider: "VehicleDatabases", CreditsLeft: 320, CreditsTotal: 500, Status: model.CreditStatusNormal},
	}

	rec := env.request(t, http.MethodGet, "/api/admin/credits", "admin1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var states []model.CreditState
	if err := json.NewDecoder(rec.Body).Decode(&states); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(states) != 1 || states[0].Provider != "VehicleDatabases" {
		t.Fatalf("unexpected states: %+v", states)
	}
}

func TestGetCreditState_NotFound(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodGet, "/api/admin/credits/NoSuchAPI", "admin1", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestCheckCreditGate_ReturnsDecision(t *testing.T) {
	env := newTestEnv(t)
	env.credit.decision = service.GateDecision{
		Allowed: false,
		Reason:  "API throttled. Wait 42s.",
		Status:  string(model.CreditStatusThrottle),
	}

	rec := env.request(t, http.MethodGet, "/api/admin/credits/VehicleDatabases/check", "admin1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var decision service.GateDecision
	if err := json.NewDecoder(rec.Body).Decode(&decision); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decision.Allowed || decision.Status != "THROTTLE" {
		t.Fatalf("unexpected decision: %+v", decision)
	}
}

func TestRefreshCreditState_NegativeCredits(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodPost, "/api/admin/credits/VehicleDatabases/refresh", "admin1", []byte(`{"creditsLeft":-5}`))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestRecordCreditUsage_DefaultsToOne(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodPost, "/api/admin/credits/VehicleDatabases/usage", "admin1", []byte(`{}`))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}
	if env.credit.usageCalls != 1 || env.credit.lastUsage != 1 {
		t.Fatalf("usage calls = %d last = %d, want 1 and 1", env.credit.usageCalls, env.credit.lastUsage)
	}
}

func TestRunExpirationSweep(t *testing.T) {
	env := newTestEnv(t)
	env.expiration.result = service.ExpirationResult{ExpiredQuotes: 2, NotificationsSent: 3}

	rec := env.request(t, http.MethodPost, "/api/admin/jobs/expirations/run", "admin1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var result service.ExpirationResult
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.ExpiredQuotes != 2 || result.NotificationsSent != 3 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestRegisterVehicle_InvalidVIN(t *testing.T) {
	env := newTestEnv(t)

	body := []byte(`{"vin":"BADVIN","make":"Toyota","model":"Camry","year":2020}`)
	rec := env.request(t, http.MethodPost, "/api/user/vehicles", "customer1", body)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnprocessableEntity)
	}
}

func TestRegisterVehicle_OK(t *testing.T) {
	env := newTestEnv(t)
	env.mileage.vehicleID = "v1"

	body := []byte(`{"vin":"1M8GDM9AXKP042788","make":"Toyota","model":"Camry","year":2020}`)
	rec := env.request(t, http.MethodPost, "/api/user/vehicles", "customer1", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusCreated, rec.Body.String())
	}

	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["id"] != "v1" {
		t.Fatalf("id = %s, want v1", resp["id"])
	}
}

func TestRegisterVehicle_DuplicateVIN(t *testing.T) {
	env := newTestEnv(t)
	env.mileage.createErr = repository.ErrVINExists

	body := []byte(`{"vin":"1M8GDM9AXKP042788","make":"Toyota","model":"Camry","year":2020}`)
	rec := env.request(t, http.MethodPost, "/api/user/vehicles", "customer1", body)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusConflict)
	}
}

func TestUpdateMileage_DecreaseRejected(t *testing.T) {
	env := newTestEnv(t)
	env.mileage.updateErr = repository.ErrMileageDecrease

	rec := env.request(t, http.MethodPost, "/api/user/vehicles/v1/mileage", "customer1", []byte(`{"mileage":100}`))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnprocessableEntity)
	}
}

func TestGetMileageBanner(t *testing.T) {
	env := newTestEnv(t)
	env.mileage.banner = service.MileageBannerResult{
		ShouldShow: true,
		Vehicles: []service.MileageBannerVehicle{
			{VehicleID: "v1", Make: "Toyota", Model: "Camry", Year: 2020},
		},
	}

	rec := env.request(t, http.MethodGet, "/api/user/mileage/banner", "customer1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var banner service.MileageBannerResult
	if err := json.NewDecoder(rec.Body).Decode(&banner); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !banner.ShouldShow || len(banner.Vehicles) != 1 {
		t.Fatalf("unexpected banner: %+v", banner)
	}
}

func TestMetricsEndpoint_Public(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}
