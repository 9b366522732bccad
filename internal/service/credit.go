package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/techtrust/backend/internal/model"
)

// Пороги circuit breaker: доля оставшихся кредитов.
const (
	creditThresholdAlert    = 0.30
	creditThresholdThrottle = 0.15
	creditThresholdHalt     = 0.05
)

// throttleWindow — минимальный интервал между вызовами в состоянии THROTTLE.
const throttleWindow = 60 * time.Second

// CreditRepository описывает контракт доступа к данным для мониторинга кредитов.
type CreditRepository interface {
	InsertCreditLog(ctx context.Context, log model.APICreditLog) error
	GetCreditHistory(ctx context.Context, provider string, since time.Time, limit int) ([]model.APICreditLog, error)
	GetAdminUserIDs(ctx context.Context) ([]string, error)
	CreateNotification(ctx context.Context, n model.Notification) error
}

// GateDecision — результат проверки допустимости вызова платного API.
type GateDecision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	Status  string `json:"status"`
}

// HistoryFilter задаёт фильтры выборки журнала потребления кредитов.
type HistoryFilter struct {
	Provider string
	Days     int
	Limit    int
}

// CreditGuard — circuit breaker для платных внешних API.
// Следит за остатком кредитов каждого провайдера и по мере его снижения
// ограничивает, а затем блокирует исходящие вызовы: NORMAL → ALERT → THROTTLE → HALT.
// Гистерезиса нет: пополнение кредитов немедленно возвращает менее строгий статус.
//
// Состояние хранится в памяти процесса под мьютексом и принадлежит только этому
// сервису; в БД пишется лишь журнал APICreditLog.
type CreditGuard struct {
	repo   CreditRepository
	logger *zap.Logger
	plans  map[string]model.PlanConfig
	now    func() time.Time

	mu     sync.Mutex
	states map[string]*model.CreditState
}

// DefaultPlans возвращает тарифные планы платных API, используемые сервисом.
func DefaultPlans() []model.PlanConfig {
	return []model.PlanConfig{
		{
			Provider:     "VehicleDatabases",
			PlanName:     "Starter",
			CreditsTotal: 500,
			MonthlyCost:  100,
			ResetDay:     1,
		},
	}
}

// NewCreditGuard создаёт мониторинг кредитов с указанными тарифными планами.
func NewCreditGuard(repo CreditRepository, logger *zap.Logger, plans []model.PlanConfig) *CreditGuard {
	planMap := make(map[string]model.PlanConfig, len(plans))
	for _, p := range plans {
		planMap[strings.ToLower(p.Provider)] = p
	}

	return &CreditGuard{
		repo:   repo,
		logger: logger,
		plans:  planMap,
		now:    time.Now,
		states: make(map[string]*model.CreditState),
	}
}

// CanMakeAPICall проверяет, допустим ли вызов платного API указанного провайдера.
// Через эту проверку проходят все исходящие вызовы платных API.
//
// Для провайдера без установленного состояния вызов разрешается: отсутствие
// состояния означает «ещё не инициализирован», а не «неправильно настроен».
// В состоянии THROTTLE действует лимит один вызов в минуту, и окно расходуется
// самой проверкой: вызывающий код, проверивший и отказавшийся от вызова, окно
// всё равно потратил.
func (g *CreditGuard) CanMakeAPICall(provider string) GateDecision {
	g.mu.Lock()
	defer g.mu.Unlock()

	state, ok := g.states[strings.ToLower(provider)]
	if !ok {
		return GateDecision{Allowed: true, Status: "UNKNOWN"}
	}

	switch state.Status {
	case model.CreditStatusHalt:
		return GateDecision{
			Allowed: false,
			Reason:  fmt.Sprintf("API credits critically low (%.1f%%). Using free fallback.", state.PercentLeft*100),
			Status:  string(model.CreditStatusHalt),
		}

	case model.CreditStatusThrottle:
		now := g.now()
		elapsed := now.Sub(state.LastThrottleTime)
		if elapsed < throttleWindow {
			waitSec := int(math.Ceil((throttleWindow - elapsed).Seconds()))
			return GateDecision{
				Allowed: false,
				Reason:  fmt.Sprintf("API throttled. Wait %ds.", waitSec),
				Status:  string(model.CreditStatusThrottle),
			}
		}
		state.LastThrottleTime = now
		return GateDecision{Allowed: true, Status: string(model.CreditStatusThrottle)}

	case model.CreditStatusAlert:
		return GateDecision{Allowed: true, Status: string(model.CreditStatusAlert)}

	default:
		return GateDecision{Allowed: true, Status: string(model.CreditStatusNormal)}
	}
}

// RecordCreditUsage списывает потреблённые кредиты и пересчитывает статус.
// Быстрый путь без I/O, вызывается после каждого успешного платного запроса.
// Для провайдера без установленного состояния — no-op.
func (g *CreditGuard) RecordCreditUsage(ctx context.Context, provider string, creditsUsed int) {
	g.mu.Lock()

	state, ok := g.states[strings.ToLower(provider)]
	if !ok {
		g.mu.Unlock()
		return
	}

	state.CreditsLeft = max(0, state.CreditsLeft-creditsUsed)
	state.PercentLeft = float64(state.CreditsLeft) / float64(state.CreditsTotal)

	previous := state.Status
	state.Status = creditStatusFor(state.PercentLeft)

	escalated := state.Status != previous && state.Status != model.CreditStatusNormal
	snapshot := *state
	g.mu.Unlock()

	if escalated {
		g.notifyAdmins(ctx, provider, snapshot)
	}
}

// UpdateCreditState полностью обновляет состояние кредитов провайдера и добавляет
// строку в журнал. Предназначен для периодического опроса billing API провайдера.
// Для провайдера без настроенного тарифного плана возвращает ошибку: это ошибка
// конфигурации, а не рабочая ситуация.
func (g *CreditGuard) UpdateCreditState(ctx context.Context, provider string, creditsLeft int) (*model.CreditState, error) {
	plan, ok := g.plans[strings.ToLower(provider)]
	if !ok {
		return nil, fmt.Errorf("unknown API provider: %s", provider)
	}

	now := g.now()
	percentLeft := float64(creditsLeft) / float64(plan.CreditsTotal)

	daysElapsed := max(1, now.Day()-plan.ResetDay+1)
	creditsUsed := plan.CreditsTotal - creditsLeft
	dailyAverage := round1(float64(creditsUsed) / float64(daysElapsed))

	daysRemaining := 999
	if dailyAverage > 0 {
		daysRemaining = int(math.Floor(float64(creditsLeft) / dailyAverage))
	}

	state := &model.CreditState{
		Provider:      provider,
		CreditsLeft:   creditsLeft,
		CreditsTotal:  plan.CreditsTotal,
		PercentLeft:   percentLeft,
		Status:        creditStatusFor(percentLeft),
		LastCheck:     now,
		DailyAverage:  dailyAverage,
		DaysRemaining: daysRemaining,
	}

	g.mu.Lock()
	g.states[strings.ToLower(provider)] = state
	snapshot := *state
	g.mu.Unlock()

	err := g.repo.InsertCreditLog(ctx, model.APICreditLog{
		Provider:      provider,
		PlanName:      plan.PlanName,
		CreditsTotal:  plan.CreditsTotal,
		CreditsLeft:   creditsLeft,
		PercentLeft:   round1(percentLeft * 100),
		DailyAverage:  dailyAverage,
		DaysRemaining: daysRemaining,
	})
	if err != nil {
		return nil, fmt.Errorf("persist credit log: %w", err)
	}

	g.logger.Info("credit state updated",
		zap.String("provider", provider),
		zap.Int("credits_left", creditsLeft),
		zap.Int("credits_total", plan.CreditsTotal),
		zap.Float64("percent_left", round1(percentLeft*100)),
		zap.String("status", string(snapshot.Status)),
	)

	return &snapshot, nil
}

// GetAllCreditStates возвращает состояние всех отслеживаемых провайдеров.
func (g *CreditGuard) GetAllCreditStates() []model.CreditState {
	g.mu.Lock()
	defer g.mu.Unlock()

	res := make([]model.CreditState, 0, len(g.states))
	for _, s := range g.states {
		res = append(res, *s)
	}

	sort.Slice(res, func(i, j int) bool { return res[i].Provider < res[j].Provider })
	return res
}

// GetCreditState возвращает состояние указанного провайдера.
// Поиск нечувствителен к регистру.
func (g *CreditGuard) GetCreditState(provider string) (*model.CreditState, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	state, ok := g.states[strings.ToLower(provider)]
	if !ok {
		return nil, false
	}

	snapshot := *state
	return &snapshot, true
}

// GetCreditHistory возвращает журнал потребления кредитов, новые записи первыми.
// Лимит по умолчанию — 30 строк.
func (g *CreditGuard) GetCreditHistory(ctx context.Context, filter HistoryFilter) ([]model.APICreditLog, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 30
	}

	var since time.Time
	if filter.Days > 0 {
		since = g.now().AddDate(0, 0, -filter.Days)
	}

	return g.repo.GetCreditHistory(ctx, filter.Provider, since, limit)
}

// notifyAdmins уведомляет администраторов о смене статуса кредитов.
// Отправка выполняется по принципу best effort: сбой уведомления не должен
// помешать корректному учёту самого состояния.
func (g *CreditGuard) notifyAdmins(ctx context.Context, provider string, state model.CreditState) {
	admins, err := g.repo.GetAdminUserIDs(ctx)
	if err != nil {
		g.logger.Error("get admin users failed", zap.Error(err))
		return
	}

	var severity string
	switch state.Status {
	case model.CreditStatusHalt:
		severity = "🔴 CRITICAL"
	case model.CreditStatusThrottle:
		severity = "🟠 WARNING"
	default:
		severity = "🟡 ALERT"
	}

	notification := model.Notification{
		Type:  model.NotificationSystemAlert,
		Title: fmt.Sprintf("%s — API Credits Low", severity),
		Message: fmt.Sprintf("%s: %d/%d credits remaining (%.1f%%). Status: %s. Est. %d days remaining at current rate.",
			provider, state.CreditsLeft, state.CreditsTotal, state.PercentLeft*100, state.Status, state.DaysRemaining),
		Data: marshalData(map[string]any{
			"action":      "API_CREDIT_ALERT",
			"provider":    provider,
			"status":      state.Status,
			"creditsLeft": state.CreditsLeft,
			"percentLeft": state.PercentLeft,
		}),
	}

	for _, adminID := range admins {
		n := notification
		n.UserID = adminID

		backoff := retry.WithMaxRetries(3, retry.NewConstant(time.Second))
		err := retry.Do(ctx, backoff, func(ctx context.Context) error {
			if err := g.repo.CreateNotification(ctx, n); err != nil {
				return retry.RetryableError(err)
			}
			return nil
		})
		if err != nil {
			g.logger.Error("notify admin failed",
				zap.String("admin_id", adminID),
				zap.Error(err),
			)
		}
	}

	g.logger.Info("admins notified about credit status change",
		zap.String("provider", provider),
		zap.String("status", string(state.Status)),
	)
}

func creditStatusFor(percentLeft float64) model.CreditStatus {
	switch {
	case percentLeft <= creditThresholdHalt:
		return model.CreditStatusHalt
	case percentLeft <= creditThresholdThrottle:
		return model.CreditStatusThrottle
	case percentLeft <= creditThresholdAlert:
		return model.CreditStatusAlert
	default:
		return model.CreditStatusNormal
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
