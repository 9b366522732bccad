// Package model содержит доменные сущности маркетплейса TechTrust.
package model

import "time"

// Role описывает роль пользователя в системе.
type Role string

const (
	RoleCustomer Role = "CUSTOMER"
	RoleProvider Role = "PROVIDER"
	RoleAdmin    Role = "ADMIN"
)

// User представляет пользователя маркетплейса (клиента, провайдера или администратора).
type User struct {
	ID                    string
	FullName              string
	Role                  Role
	MileageReminderOptOut bool
	CreatedAt             time.Time
}

// QuoteStatus описывает статус ценового предложения провайдера.
type QuoteStatus string

const (
	QuoteStatusPending  QuoteStatus = "PENDING"
	QuoteStatusAccepted QuoteStatus = "ACCEPTED"
	QuoteStatusRejected QuoteStatus = "REJECTED"
	QuoteStatusExpired  QuoteStatus = "EXPIRED"
)

// Quote представляет ценовое предложение провайдера по заявке на обслуживание.
// Терминальные статусы (ACCEPTED, REJECTED, EXPIRED) повторно не назначаются.
type Quote struct {
	ID               string
	QuoteNumber      string
	ServiceRequestID string
	ProviderID       string
	Status           QuoteStatus
	ValidUntil       time.Time
	ExpiredAt        *time.Time
	CreatedAt        time.Time
}

// EstimateShare представляет публичную ссылку на смету, доступную ограниченное время.
type EstimateShare struct {
	ID        string
	IsActive  bool
	ExpiresAt time.Time
	ClosedAt  *time.Time
}

// ServiceRequestStatus описывает статус заявки на обслуживание.
type ServiceRequestStatus string

const (
	RequestStatusSearchingProviders ServiceRequestStatus = "SEARCHING_PROVIDERS"
	RequestStatusQuotesReceived     ServiceRequestStatus = "QUOTES_RECEIVED"
	RequestStatusQuoteAccepted      ServiceRequestStatus = "QUOTE_ACCEPTED"
	RequestStatusInProgress         ServiceRequestStatus = "IN_PROGRESS"
	RequestStatusCompleted          ServiceRequestStatus = "COMPLETED"
	RequestStatusCancelled          ServiceRequestStatus = "CANCELLED"
	RequestStatusExpired            ServiceRequestStatus = "EXPIRED"
)

// ServiceRequest представляет заявку клиента на обслуживание автомобиля.
// Нулевой ExpiresAt означает отсутствие дедлайна: заявка не истекает автоматически.
type ServiceRequest struct {
	ID            string
	RequestNumber string
	UserID        string
	Title         string
	Status        ServiceRequestStatus
	ExpiresAt     *time.Time
	QuotesCount   int
	CreatedAt     time.Time
}

// ComplianceStatus описывает статус документа о соответствии требованиям.
type ComplianceStatus string

const (
	ComplianceVerified           ComplianceStatus = "VERIFIED"
	ComplianceProvidedUnverified ComplianceStatus = "PROVIDED_UNVERIFIED"
	ComplianceExpired            ComplianceStatus = "EXPIRED"
)

// ComplianceItem представляет документ провайдера (лицензию, сертификат и т.п.)
// с необязательной датой окончания действия.
type ComplianceItem struct {
	ID                string
	ProviderProfileID string
	Type              string
	Status            ComplianceStatus
	ExpirationDate    *time.Time
}

// InsuranceStatus описывает статус страхового полиса провайдера.
type InsuranceStatus string

const (
	InsuranceVerified           InsuranceStatus = "INS_VERIFIED"
	InsuranceProvidedUnverified InsuranceStatus = "INS_PROVIDED_UNVERIFIED"
	InsuranceExpired            InsuranceStatus = "INS_EXPIRED"
)

// InsurancePolicy представляет страховой полис провайдера.
type InsurancePolicy struct {
	ID                string
	ProviderProfileID string
	Type              string
	Status            InsuranceStatus
	HasCoverage       bool
	ExpirationDate    *time.Time
}

// ProviderPublicStatus описывает публичный статус провайдера в каталоге.
type ProviderPublicStatus string

const (
	ProviderPublicActive     ProviderPublicStatus = "ACTIVE"
	ProviderPublicRestricted ProviderPublicStatus = "RESTRICTED"
)

// ProviderProfile представляет профиль провайдера услуг.
type ProviderProfile struct {
	ID                   string
	UserID               string
	BusinessName         string
	ProviderPublicStatus ProviderPublicStatus
}

// Vehicle представляет автомобиль клиента.
type Vehicle struct {
	ID                        string
	UserID                    string
	VIN                       string
	Make                      string
	Model                     string
	Year                      int
	IsActive                  bool
	CurrentMileage            *int
	LastMileageUpdate         *time.Time
	MileageReminderLastSentAt *time.Time
	MileageReminderStreak     int
}

// MileageSource описывает источник записи о пробеге.
type MileageSource string

const (
	MileageSourceManual            MileageSource = "MANUAL"
	MileageSourceServiceCompletion MileageSource = "SERVICE_COMPLETION"
	MileageSourceWorkOrder         MileageSource = "WORK_ORDER"
)

// MileageLog представляет запись журнала пробега автомобиля.
type MileageLog struct {
	ID              string        `json:"id"`
	VehicleID       string        `json:"vehicleId"`
	UserID          string        `json:"userId"`
	Mileage         int           `json:"mileage"`
	PreviousMileage *int          `json:"previousMileage"`
	Source          MileageSource `json:"source"`
	CreatedAt       time.Time     `json:"createdAt"`
}

// NotificationType описывает тип уведомления.
type NotificationType string

// NotificationSystemAlert — системное уведомление (истечения, алерты по кредитам и т.п.).
const NotificationSystemAlert NotificationType = "SYSTEM_ALERT"

// Notification представляет запись ленты уведомлений пользователя.
// Поле Data содержит непрозрачный JSON с тегом action и идентификаторами сущностей.
type Notification struct {
	ID        string
	UserID    string
	Type      NotificationType
	Title     string
	Message   string
	Data      string
	CreatedAt time.Time
}

// AlertLevel описывает уровень алерта по приближающемуся истечению срока.
type AlertLevel string

const (
	AlertLevelD30     AlertLevel = "D30"
	AlertLevelD15     AlertLevel = "D15"
	AlertLevelD7      AlertLevel = "D7"
	AlertLevelExpired AlertLevel = "EXPIRED"
)

// ExpirationEntityType описывает тип сущности, по которой сформирован алерт.
type ExpirationEntityType string

const (
	EntityCompliance ExpirationEntityType = "COMPLIANCE"
	EntityInsurance  ExpirationEntityType = "INSURANCE"
)

// ExpirationAlert описывает один алерт по истечению документа или полиса провайдера.
type ExpirationAlert struct {
	ProviderProfileID string               `json:"providerProfileId"`
	ProviderName      string               `json:"providerName"`
	ProviderID        string               `json:"providerId"`
	EntityType        ExpirationEntityType `json:"entityType"`
	EntityID          string               `json:"entityId"`
	ItemType          string               `json:"itemType"`
	ExpirationDate    time.Time            `json:"expirationDate"`
	DaysUntilExpiry   int                  `json:"daysUntilExpiry"`
	AlertLevel        AlertLevel           `json:"alertLevel"`
}

// CreditStatus описывает состояние circuit breaker для платного API.
type CreditStatus string

const (
	CreditStatusNormal   CreditStatus = "NORMAL"
	CreditStatusAlert    CreditStatus = "ALERT"
	CreditStatusThrottle CreditStatus = "THROTTLE"
	CreditStatusHalt     CreditStatus = "HALT"
)

// CreditState описывает текущее состояние кредитов провайдера платного API.
// Хранится только в памяти процесса; между перезапусками сохраняется лишь журнал APICreditLog.
type CreditState struct {
	Provider         string       `json:"provider"`
	CreditsLeft      int          `json:"creditsLeft"`
	CreditsTotal     int          `json:"creditsTotal"`
	PercentLeft      float64      `json:"percentLeft"`
	Status           CreditStatus `json:"status"`
	LastCheck        time.Time    `json:"lastCheck"`
	DailyAverage     float64      `json:"dailyAverage"`
	DaysRemaining    int          `json:"daysRemaining"`
	LastThrottleTime time.Time    `json:"-"`
}

// PlanConfig описывает тарифный план платного API.
type PlanConfig struct {
	Provider     string
	PlanName     string
	CreditsTotal int
	MonthlyCost  int
	ResetDay     int
}

// APICreditLog представляет строку журнала потребления кредитов платного API.
// Проценты хранятся в диапазоне 0–100 с одним знаком после запятой.
type APICreditLog struct {
	ID            string    `json:"id"`
	Provider      string    `json:"provider"`
	PlanName      string    `json:"planName"`
	CreditsTotal  int       `json:"creditsTotal"`
	CreditsLeft   int       `json:"creditsLeft"`
	PercentLeft   float64   `json:"percentLeft"`
	DailyAverage  float64   `json:"dailyAverage"`
	DaysRemaining int       `json:"daysRemaining"`
	CreatedAt     time.Time `json:"createdAt"`
}
