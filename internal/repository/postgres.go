// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/techtrust/backend/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrVehicleNotFound возвращается, если автомобиль не найден или не принадлежит пользователю.
	ErrVehicleNotFound = errors.New("vehicle not found")
	// ErrVINExists возвращается при попытке зарегистрировать автомобиль с уже существующим VIN.
	ErrVINExists = errors.New("vehicle with this VIN already exists")
	// ErrMileageDecrease возвращается, если новый пробег меньше текущего.
	ErrMileageDecrease = errors.New("new mileage cannot be less than current")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				if i < len(delays) {
					time.Sleep(delays[i])
					continue
				}
			}
		}

		if isConnectionError(err) {
			if i < len(delays) {
				time.Sleep(delays[i])
				continue
			}
		}

		break
	}
	return err
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// GetUserByID возвращает пользователя по идентификатору.
func (r *PostgresRepository) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, full_name, role, mileage_reminder_opt_out, created_at FROM users WHERE id = $1`,
		id,
	)

	var u model.User
	err := row.Scan(&u.ID, &u.FullName, &u.Role, &u.MileageReminderOptOut, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	return &u, nil
}

// GetAdminUserIDs возвращает идентификаторы всех пользователей с ролью администратора.
func (r *PostgresRepository) GetAdminUserIDs(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id FROM users WHERE role = $1`,
		string(model.RoleAdmin),
	)
	if err != nil {
		return nil, fmt.Errorf("select admins: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan admin id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return ids, nil
}

// CreateNotification сохраняет уведомление в ленте пользователя.
func (r *PostgresRepository) CreateNotification(ctx context.Context, n model.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}

	return r.withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO notifications (id, user_id, type, title, message, data)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			n.ID, n.UserID, string(n.Type), n.Title, n.Message, n.Data,
		)
		if err != nil {
			return fmt.Errorf("insert notification: %w", err)
		}
		return nil
	})
}

// OverdueQuote описывает просроченное предложение вместе с данными заявки,
// необходимыми для уведомлений.
type OverdueQuote struct {
	ID               string
	QuoteNumber      string
	ServiceRequestID string
	ProviderID       string
	CustomerID       string
	RequestTitle     string
}

// GetOverdueQuotes возвращает предложения в статусе PENDING, срок действия которых истёк.
func (r *PostgresRepository) GetOverdueQuotes(ctx context.Context, now time.Time) ([]OverdueQuote, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT q.id, q.quote_number, q.service_request_id, q.provider_id, sr.user_id, sr.title
		 FROM quotes q
		 JOIN service_requests sr ON sr.id = q.service_request_id
		 WHERE q.status = $1 AND q.valid_until < $2`,
		string(model.QuoteStatusPending), now,
	)
	if err != nil {
		return nil, fmt.Errorf("select overdue quotes: %w", err)
	}
	defer rows.Close()

	var res []OverdueQuote
	for rows.Next() {
		var q OverdueQuote
		if err := rows.Scan(&q.ID, &q.QuoteNumber, &q.ServiceRequestID, &q.ProviderID, &q.CustomerID, &q.RequestTitle); err != nil {
			return nil, fmt.Errorf("scan overdue quote: %w", err)
		}
		res = append(res, q)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// ExpireQuotes переводит перечисленные предложения в статус EXPIRED.
// Статус PENDING повторно проверяется в предикате: предложение, принятое или
// отклонённое между выборкой и обновлением, затронуто не будет.
func (r *PostgresRepository) ExpireQuotes(ctx context.Context, ids []string, now time.Time) (int64, error) {
	var affected int64
	err := r.withRetry(ctx, func() error {
		tag, err := r.pool.Exec(ctx,
			`UPDATE quotes SET status = $1, expired_at = $2
			 WHERE id = ANY($3) AND status = $4`,
			string(model.QuoteStatusExpired), now, ids, string(model.QuoteStatusPending),
		)
		if err != nil {
			return fmt.Errorf("expire quotes: %w", err)
		}
		affected = tag.RowsAffected()
		return nil
	})
	return affected, err
}

// DeactivateOverdueShares закрывает активные публичные сметы с истёкшим сроком действия.
func (r *PostgresRepository) DeactivateOverdueShares(ctx context.Context, now time.Time) (int64, error) {
	var affected int64
	err := r.withRetry(ctx, func() error {
		tag, err := r.pool.Exec(ctx,
			`UPDATE estimate_shares SET is_active = FALSE, closed_at = $1
			 WHERE is_active = TRUE AND expires_at < $1`,
			now,
		)
		if err != nil {
			return fmt.Errorf("deactivate shares: %w", err)
		}
		affected = tag.RowsAffected()
		return nil
	})
	return affected, err
}

// OverdueRequest описывает просроченную заявку на обслуживание.
type OverdueRequest struct {
	ID            string
	RequestNumber string
	UserID        string
	Title         string
}

// GetOverdueServiceRequests возвращает открытые заявки с истёкшим дедлайном.
// Заявки без дедлайна (expires_at IS NULL) не попадают в выборку никогда.
func (r *PostgresRepository) GetOverdueServiceRequests(ctx context.Context, now time.Time) ([]OverdueRequest, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, request_number, user_id, title
		 FROM service_requests
		 WHERE status IN ($1, $2) AND expires_at IS NOT NULL AND expires_at < $3`,
		string(model.RequestStatusSearchingProviders),
		string(model.RequestStatusQuotesReceived),
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("select overdue requests: %w", err)
	}
	defer rows.Close()

	var res []OverdueRequest
	for rows.Next() {
		var req OverdueRequest
		if err := rows.Scan(&req.ID, &req.RequestNumber, &req.UserID, &req.Title); err != nil {
			return nil, fmt.Errorf("scan overdue request: %w", err)
		}
		res = append(res, req)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// ExpireServiceRequests переводит перечисленные заявки в статус EXPIRED.
// Открытый статус повторно проверяется в предикате (защита от гонки с принятием предложения).
func (r *PostgresRepository) ExpireServiceRequests(ctx context.Context, ids []string) (int64, error) {
	var affected int64
	err := r.withRetry(ctx, func() error {
		tag, err := r.pool.Exec(ctx,
			`UPDATE service_requests SET status = $1
			 WHERE id = ANY($2) AND status IN ($3, $4)`,
			string(model.RequestStatusExpired), ids,
			string(model.RequestStatusSearchingProviders),
			string(model.RequestStatusQuotesReceived),
		)
		if err != nil {
			return fmt.Errorf("expire requests: %w", err)
		}
		affected = tag.RowsAffected()
		return nil
	})
	return affected, err
}

// ExpiringCredential описывает документ или полис провайдера с датой истечения,
// дополненный данными профиля для алертов.
type ExpiringCredential struct {
	ID                string
	ProviderProfileID string
	Type              string
	ExpirationDate    time.Time
	BusinessName      string
	ProviderUserID    string
}

// GetExpiringComplianceItems возвращает активные документы с установленной датой истечения.
// Документы без даты (expiration_date IS NULL) исключаются из проверки навсегда.
func (r *PostgresRepository) GetExpiringComplianceItems(ctx context.Context) ([]ExpiringCredential, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT ci.id, ci.provider_profile_id, ci.type, ci.expiration_date, pp.business_name, pp.user_id
		 FROM compliance_items ci
		 JOIN provider_profiles pp ON pp.id = ci.provider_profile_id
		 WHERE ci.expiration_date IS NOT NULL AND ci.status IN ($1, $2)`,
		string(model.ComplianceVerified), string(model.ComplianceProvidedUnverified),
	)
	if err != nil {
		return nil, fmt.Errorf("select compliance items: %w", err)
	}
	defer rows.Close()

	return scanExpiringCredentials(rows)
}

// GetExpiringInsurancePolicies возвращает действующие полисы с установленной датой истечения.
func (r *PostgresRepository) GetExpiringInsurancePolicies(ctx context.Context) ([]ExpiringCredential, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT ip.id, ip.provider_profile_id, ip.type, ip.expiration_date, pp.business_name, pp.user_id
		 FROM insurance_policies ip
		 JOIN provider_profiles pp ON pp.id = ip.provider_profile_id
		 WHERE ip.expiration_date IS NOT NULL AND ip.has_coverage = TRUE AND ip.status IN ($1, $2)`,
		string(model.InsuranceVerified), string(model.InsuranceProvidedUnverified),
	)
	if err != nil {
		return nil, fmt.Errorf("select insurance policies: %w", err)
	}
	defer rows.Close()

	return scanExpiringCredentials(rows)
}

func scanExpiringCredentials(rows pgx.Rows) ([]ExpiringCredential, error) {
	var res []ExpiringCredential
	for rows.Next() {
		var c ExpiringCredential
		if err := rows.Scan(&c.ID, &c.ProviderProfileID, &c.Type, &c.ExpirationDate, &c.BusinessName, &c.ProviderUserID); err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		res = append(res, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// ExpireComplianceItem переводит документ в статус EXPIRED.
// Активный статус повторно проверяется в предикате, повторный перевод невозможен.
func (r *PostgresRepository) ExpireComplianceItem(ctx context.Context, id string) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE compliance_items SET status = $1 WHERE id = $2 AND status IN ($3, $4)`,
		string(model.ComplianceExpired), id,
		string(model.ComplianceVerified), string(model.ComplianceProvidedUnverified),
	)
	if err != nil {
		return 0, fmt.Errorf("expire compliance item: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ExpireInsurancePolicy переводит полис в статус INS_EXPIRED.
func (r *PostgresRepository) ExpireInsurancePolicy(ctx context.Context, id string) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE insurance_policies SET status = $1 WHERE id = $2 AND status IN ($3, $4)`,
		string(model.InsuranceExpired), id,
		string(model.InsuranceVerified), string(model.InsuranceProvidedUnverified),
	)
	if err != nil {
		return 0, fmt.Errorf("expire insurance policy: %w", err)
	}
	return tag.RowsAffected(), nil
}

// HasExpiredCredentials сообщает, есть ли у профиля провайдера хотя бы один
// истёкший документ или полис. Состояние выводится из текущих данных БД,
// а не из локальных флагов вызывающего кода.
func (r *PostgresRepository) HasExpiredCredentials(ctx context.Context, providerProfileID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM compliance_items WHERE provider_profile_id = $1 AND status = $2
		 ) OR EXISTS (
			SELECT 1 FROM insurance_policies WHERE provider_profile_id = $1 AND status = $3
		 )`,
		providerProfileID, string(model.ComplianceExpired), string(model.InsuranceExpired),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check expired credentials: %w", err)
	}
	return exists, nil
}

// RestrictProvider понижает публичный статус профиля провайдера до RESTRICTED.
func (r *PostgresRepository) RestrictProvider(ctx context.Context, providerProfileID string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE provider_profiles SET provider_public_status = $1 WHERE id = $2`,
		string(model.ProviderPublicRestricted), providerProfileID,
	)
	if err != nil {
		return fmt.Errorf("restrict provider: %w", err)
	}
	return nil
}

// InsertCreditLog добавляет строку в журнал потребления кредитов платного API.
func (r *PostgresRepository) InsertCreditLog(ctx context.Context, log model.APICreditLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}

	return r.withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO api_credit_logs
			 (id, provider, plan_name, credits_total, credits_left, percent_left, daily_average, days_remaining)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			log.ID, log.Provider, log.PlanName, log.CreditsTotal, log.CreditsLeft,
			log.PercentLeft, log.DailyAverage, log.DaysRemaining,
		)
		if err != nil {
			return fmt.Errorf("insert credit log: %w", err)
		}
		return nil
	})
}

// GetCreditHistory возвращает журнал потребления кредитов, новые записи первыми.
// Пустой provider означает все провайдеры, нулевой since — без ограничения по дате.
func (r *PostgresRepository) GetCreditHistory(ctx context.Context, provider string, since time.Time, limit int) ([]model.APICreditLog, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, provider, plan_name, credits_total, credits_left, percent_left, daily_average, days_remaining, created_at
		 FROM api_credit_logs
		 WHERE ($1 = '' OR provider = $1) AND ($2::timestamptz IS NULL OR created_at >= $2)
		 ORDER BY created_at DESC
		 LIMIT $3`,
		provider, nullableTime(since), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select credit history: %w", err)
	}
	defer rows.Close()

	var res []model.APICreditLog
	for rows.Next() {
		var l model.APICreditLog
		if err := rows.Scan(&l.ID, &l.Provider, &l.PlanName, &l.CreditsTotal, &l.CreditsLeft,
			&l.PercentLeft, &l.DailyAverage, &l.DaysRemaining, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan credit log: %w", err)
		}
		res = append(res, l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// CreateVehicle регистрирует новый автомобиль клиента.
func (r *PostgresRepository) CreateVehicle(ctx context.Context, v model.Vehicle) (string, error) {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO vehicles (id, user_id, vin, make, model, year, is_active, current_mileage)
		 VALUES ($1, $2, $3, $4, $5, $6, TRUE, $7)`,
		v.ID, v.UserID, v.VIN, v.Make, v.Model, v.Year, v.CurrentMileage,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return "", fmt.Errorf("%w: %s", ErrVINExists, v.VIN)
		}
		return "", fmt.Errorf("create vehicle: %w", err)
	}

	return v.ID, nil
}

// StaleVehicle описывает автомобиль с устаревшим пробегом вместе с настройками владельца.
type StaleVehicle struct {
	ID                        string
	UserID                    string
	Make                      string
	Model                     string
	Year                      int
	MileageReminderLastSentAt *time.Time
	OwnerOptOut               bool
}

// GetStaleVehicles возвращает активные автомобили, пробег которых не обновлялся
// с момента staleBefore. Обрабатывается батчами не больше limit.
func (r *PostgresRepository) GetStaleVehicles(ctx context.Context, staleBefore time.Time, limit int) ([]StaleVehicle, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT v.id, v.user_id, v.make, v.model, v.year, v.mileage_reminder_last_sent_at, u.mileage_reminder_opt_out
		 FROM vehicles v
		 JOIN users u ON u.id = v.user_id
		 WHERE v.is_active = TRUE
		   AND v.current_mileage IS NOT NULL
		   AND (v.last_mileage_update < $1 OR v.last_mileage_update IS NULL)
		 LIMIT $2`,
		staleBefore, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select stale vehicles: %w", err)
	}
	defer rows.Close()

	var res []StaleVehicle
	for rows.Next() {
		var v StaleVehicle
		if err := rows.Scan(&v.ID, &v.UserID, &v.Make, &v.Model, &v.Year, &v.MileageReminderLastSentAt, &v.OwnerOptOut); err != nil {
			return nil, fmt.Errorf("scan stale vehicle: %w", err)
		}
		res = append(res, v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// MarkMileageReminderSent фиксирует отправку напоминания о пробеге.
func (r *PostgresRepository) MarkMileageReminderSent(ctx context.Context, vehicleID string, now time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE vehicles
		 SET mileage_reminder_last_sent_at = $1, mileage_reminder_streak = mileage_reminder_streak + 1
		 WHERE id = $2`,
		now, vehicleID,
	)
	if err != nil {
		return fmt.Errorf("mark reminder sent: %w", err)
	}
	return nil
}

// GetStaleVehiclesForUser возвращает автомобили пользователя с устаревшим пробегом
// для баннера в мобильном приложении.
func (r *PostgresRepository) GetStaleVehiclesForUser(ctx context.Context, userID string, staleBefore time.Time) ([]model.Vehicle, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, vin, make, model, year, is_active, current_mileage, last_mileage_update
		 FROM vehicles
		 WHERE user_id = $1 AND is_active = TRUE
		   AND (last_mileage_update < $2 OR (last_mileage_update IS NULL AND current_mileage IS NOT NULL))`,
		userID, staleBefore,
	)
	if err != nil {
		return nil, fmt.Errorf("select user stale vehicles: %w", err)
	}
	defer rows.Close()

	var res []model.Vehicle
	for rows.Next() {
		var v model.Vehicle
		if err := rows.Scan(&v.ID, &v.UserID, &v.VIN, &v.Make, &v.Model, &v.Year, &v.IsActive, &v.CurrentMileage, &v.LastMileageUpdate); err != nil {
			return nil, fmt.Errorf("scan vehicle: %w", err)
		}
		res = append(res, v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// UpdateVehicleMileage обновляет пробег автомобиля и добавляет запись в журнал.
// Использует блокировку строки автомобиля: пробег не может уменьшаться.
func (r *PostgresRepository) UpdateVehicleMileage(ctx context.Context, userID, vehicleID string, mileage int, source model.MileageSource) (*model.MileageLog, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var current *int
	err = tx.QueryRow(ctx,
		`SELECT current_mileage FROM vehicles
		 WHERE id = $1 AND user_id = $2 AND is_active = TRUE
		 FOR UPDATE`,
		vehicleID, userID,
	).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrVehicleNotFound
		}
		return nil, fmt.Errorf("lock vehicle: %w", err)
	}

	if current != nil && mileage < *current {
		return nil, fmt.Errorf("%w: %d < %d", ErrMileageDecrease, mileage, *current)
	}

	_, err = tx.Exec(ctx,
		`UPDATE vehicles
		 SET current_mileage = $1, last_mileage_update = now(), mileage_reminder_streak = 0
		 WHERE id = $2`,
		mileage, vehicleID,
	)
	if err != nil {
		return nil, fmt.Errorf("update mileage: %w", err)
	}

	log := model.MileageLog{
		ID:              uuid.NewString(),
		VehicleID:       vehicleID,
		UserID:          userID,
		Mileage:         mileage,
		PreviousMileage: current,
		Source:          source,
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO mileage_logs (id, vehicle_id, user_id, mileage, previous_mileage, source)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING created_at`,
		log.ID, log.VehicleID, log.UserID, log.Mileage, log.PreviousMileage, string(log.Source),
	).Scan(&log.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert mileage log: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return &log, nil
}

// GetMileageHistory возвращает журнал пробега автомобиля, новые записи первыми.
func (r *PostgresRepository) GetMileageHistory(ctx context.Context, userID, vehicleID string, limit int) ([]model.MileageLog, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, vehicle_id, user_id, mileage, previous_mileage, source, created_at
		 FROM mileage_logs
		 WHERE vehicle_id = $1 AND user_id = $2
		 ORDER BY created_at DESC
		 LIMIT $3`,
		vehicleID, userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select mileage logs: %w", err)
	}
	defer rows.Close()

	var res []model.MileageLog
	for rows.Next() {
		var l model.MileageLog
		var source string
		if err := rows.Scan(&l.ID, &l.VehicleID, &l.UserID, &l.Mileage, &l.PreviousMileage, &source, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan mileage log: %w", err)
		}
		l.Source = model.MileageSource(source)
		res = append(res, l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// SetMileageReminderOptOut включает или выключает напоминания о пробеге для пользователя.
func (r *PostgresRepository) SetMileageReminderOptOut(ctx context.Context, userID string, optOut bool) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE users SET mileage_reminder_opt_out = $1 WHERE id = $2`,
		optOut, userID,
	)
	if err != nil {
		return fmt.Errorf("set opt-out: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}
