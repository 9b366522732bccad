// Package handler содержит HTTP-обработчики API сервиса TechTrust.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/techtrust/backend/internal/metrics"
	"github.com/techtrust/backend/internal/middleware"
	"github.com/techtrust/backend/internal/model"
	"github.com/techtrust/backend/internal/repository"
	"github.com/techtrust/backend/internal/service"
	"github.com/techtrust/backend/internal/validation"
)

// ExpirationRunner определяет контракт сверки истечений, запускаемой вручную.
type ExpirationRunner interface {
	CheckQuoteExpirations(ctx context.Context) (service.ExpirationResult, error)
}

// ComplianceRunner определяет контракт проверки документов и полисов, запускаемой вручную.
type ComplianceRunner interface {
	CheckExpirations(ctx context.Context) ([]model.ExpirationAlert, error)
}

// CreditService определяет контракт credit guard, используемый HTTP-обработчиками.
type CreditService interface {
	CanMakeAPICall(provider string) service.GateDecision
	RecordCreditUsage(ctx context.Context, provider string, creditsUsed int)
	UpdateCreditState(ctx context.Context, provider string, creditsLeft int) (*model.CreditState, error)
	GetAllCreditStates() []model.CreditState
	GetCreditState(provider string) (*model.CreditState, bool)
	GetCreditHistory(ctx context.Context, filter service.HistoryFilter) ([]model.APICreditLog, error)
}

// MileageService определяет контракт сервиса пробега, используемый HTTP-обработчиками.
type MileageService interface {
	CheckStaleMileage(ctx context.Context) (service.MileageCheckResult, error)
	GetMileageBanner(ctx context.Context, userID string) (service.MileageBannerResult, error)
	UpdateMileageManual(ctx context.Context, userID, vehicleID string, mileage int) (*model.MileageLog, error)
	GetMileageHistory(ctx context.Context, userID, vehicleID string, limit int) ([]model.MileageLog, error)
	SetReminderOptOut(ctx context.Context, userID string, optOut bool) error
	RegisterVehicle(ctx context.Context, v model.Vehicle) (string, error)
}

// UserDirectory определяет доступ к данным пользователей для проверки роли.
type UserDirectory interface {
	GetUserByID(ctx context.Context, id string) (*model.User, error)
}

// Handler реализует HTTP-обработчики API сервиса TechTrust.
type Handler struct {
	expiration     ExpirationRunner
	compliance     ComplianceRunner
	credit         CreditService
	mileage        MileageService
	users          UserDirectory
	collector      *metrics.Collector
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(
	expiration ExpirationRunner,
	compliance ComplianceRunner,
	credit CreditService,
	mileage MileageService,
	users UserDirectory,
	collector *metrics.Collector,
	logger *zap.Logger,
	auth *middleware.AuthMiddleware,
) *Handler {
	return &Handler{
		expiration:     expiration,
		compliance:     compliance,
		credit:         credit,
		mileage:        mileage,
		users:          users,
		collector:      collector,
		logger:         logger,
		authMiddleware: auth,
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response", zap.Error(err))
	}
}

// requireAdmin пропускает только аутентифицированных пользователей с ролью администратора.
func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := middleware.GetUserIDFromContext(r.Context())
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		user, err := h.users.GetUserByID(r.Context(), userID)
		if err != nil {
			if errors.Is(err, repository.ErrUserNotFound) {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			h.logger.Error("get user error", zap.Error(err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}

		if user.Role != model.RoleAdmin {
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// GetCreditStates возвращает состояние кредитов всех отслеживаемых провайдеров.
func (h *Handler) GetCreditStates(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.credit.GetAllCreditStates())
}

// GetCreditState возвращает состояние кредитов одного провайдера.
func (h *Handler) GetCreditState(w http.ResponseWriter, r *http.Request) {
	provider := pathParam(r, "provider")

	state, ok := h.credit.GetCreditState(provider)
	if !ok {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}

	h.writeJSON(w, http.StatusOK, state)
}

// CheckCreditGate возвращает решение credit guard для провайдера.
func (h *Handler) CheckCreditGate(w http.ResponseWriter, r *http.Request) {
	provider := pathParam(r, "provider")

	decision := h.credit.CanMakeAPICall(provider)
	h.collector.RecordCreditGate(decision.Status, decision.Allowed)

	h.writeJSON(w, http.StatusOK, decision)
}

type creditRefreshRequest struct {
	CreditsLeft int `json:"creditsLeft"`
}

// RefreshCreditState вручную обновляет состояние кредитов провайдера.
func (h *Handler) RefreshCreditState(w http.ResponseWriter, r *http.Request) {
	provider := pathParam(r, "provider")

	var req creditRefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.CreditsLeft < 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	state, err := h.credit.UpdateCreditState(r.Context(), provider, req.CreditsLeft)
	if err != nil {
		h.logger.Error("update credit state error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	h.writeJSON(w, http.StatusOK, state)
}

type creditUsageRequest struct {
	CreditsUsed int `json:"creditsUsed"`
}

// RecordCreditUsage фиксирует потребление кредитов провайдера.
func (h *Handler) RecordCreditUsage(w http.ResponseWriter, r *http.Request) {
	provider := pathParam(r, "provider")

	var req creditUsageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.CreditsUsed <= 0 {
		req.CreditsUsed = 1
	}

	h.credit.RecordCreditUsage(r.Context(), provider, req.CreditsUsed)
	w.WriteHeader(http.StatusNoContent)
}

// GetCreditHistory возвращает журнал потребления кредитов.
func (h *Handler) GetCreditHistory(w http.ResponseWriter, r *http.Request) {
	filter := service.HistoryFilter{
		Provider: r.URL.Query().Get("provider"),
	}
	if v := r.URL.Query().Get("days"); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		filter.Days = days
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		filter.Limit = limit
	}

	history, err := h.credit.GetCreditHistory(r.Context(), filter)
	if err != nil {
		h.logger.Error("get credit history error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, history)
}

// RunExpirationSweep запускает сверку истечений вне расписания.
func (h *Handler) RunExpirationSweep(w http.ResponseWriter, r *http.Request) {
	result, err := h.expiration.CheckQuoteExpirations(r.Context())
	if err != nil {
		h.logger.Error("expiration sweep error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.collector.RecordExpirationSweep(result.ExpiredQuotes, result.ExpiredShares, result.ExpiredRequests, result.NotificationsSent)
	h.writeJSON(w, http.StatusOK, result)
}

// RunComplianceCheck запускает проверку документов и полисов вне расписания.
func (h *Handler) RunComplianceCheck(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.compliance.CheckExpirations(r.Context())
	if err != nil {
		h.logger.Error("compliance check error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.collector.RecordExpirationAlerts(len(alerts))
	if alerts == nil {
		alerts = []model.ExpirationAlert{}
	}
	h.writeJSON(w, http.StatusOK, alerts)
}

// RunMileageCheck запускает проверку устаревших пробегов вне расписания.
func (h *Handler) RunMileageCheck(w http.ResponseWriter, r *http.Request) {
	result, err := h.mileage.CheckStaleMileage(r.Context())
	if err != nil {
		h.logger.Error("mileage check error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.collector.RecordMileageReminders(result.Notified)
	h.writeJSON(w, http.StatusOK, result)
}

// GetMileageBanner возвращает данные баннера обновления пробега.
func (h *Handler) GetMileageBanner(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	banner, err := h.mileage.GetMileageBanner(r.Context(), userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.logger.Error("mileage banner error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, banner)
}

type vehicleRequest struct {
	VIN            string `json:"vin"`
	Make           string `json:"make"`
	Model          string `json:"model"`
	Year           int    `json:"year"`
	CurrentMileage *int   `json:"currentMileage"`
}

// RegisterVehicle регистрирует новый автомобиль клиента.
func (h *Handler) RegisterVehicle(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req vehicleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Make == "" || req.Model == "" || req.Year == 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if !validation.IsValidVIN(req.VIN) {
		http.Error(w, "invalid VIN", http.StatusUnprocessableEntity)
		return
	}

	id, err := h.mileage.RegisterVehicle(r.Context(), model.Vehicle{
		UserID:         userID,
		VIN:            req.VIN,
		Make:           req.Make,
		Model:          req.Model,
		Year:           req.Year,
		CurrentMileage: req.CurrentMileage,
	})
	if err != nil {
		if errors.Is(err, repository.ErrVINExists) {
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
			return
		}
		h.logger.Error("register vehicle error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

type mileageUpdateRequest struct {
	Mileage int `json:"mileage"`
}

// UpdateMileage записывает пробег, введённый клиентом вручную.
func (h *Handler) UpdateMileage(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	vehicleID := pathParam(r, "vehicleID")

	var req mileageUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	log, err := h.mileage.UpdateMileageManual(r.Context(), userID, vehicleID, req.Mileage)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidMileage), errors.Is(err, repository.ErrMileageDecrease):
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		case errors.Is(err, repository.ErrVehicleNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		default:
			h.logger.Error("update mileage error", zap.Error(err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(w, http.StatusOK, log)
}

// GetMileageHistory возвращает журнал пробега автомобиля.
func (h *Handler) GetMileageHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	vehicleID := pathParam(r, "vehicleID")

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	history, err := h.mileage.GetMileageHistory(r.Context(), userID, vehicleID, limit)
	if err != nil {
		h.logger.Error("mileage history error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if history == nil {
		history = []model.MileageLog{}
	}
	h.writeJSON(w, http.StatusOK, history)
}

type optOutRequest struct {
	OptOut bool `json:"optOut"`
}

// SetMileageOptOut включает или выключает напоминания о пробеге.
func (h *Handler) SetMileageOptOut(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req optOutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.mileage.SetReminderOptOut(r.Context(), userID, req.OptOut); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.logger.Error("set opt-out error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
