// Package scheduler реализует запуск периодических фоновых задач сервиса.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CheckFunc — функция периодической проверки, выполняемая задачей.
type CheckFunc func(ctx context.Context) error

// Job представляет одну периодическую задачу: немедленный запуск при старте,
// затем повтор с фиксированным интервалом до явной остановки.
//
// Защиты от перекрытия запусков нет: если проверка выполняется дольше интервала,
// очередной тик запустит её параллельно. Все проверки идемпотентны и используют
// условные обновления, поэтому перекрытие безопасно.
type Job struct {
	name     string
	interval time.Duration
	check    CheckFunc
	logger   *zap.Logger

	// newTicker подменяется в тестах для детерминированного управления тиками.
	newTicker func(d time.Duration) (<-chan time.Time, func())

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewJob создаёт периодическую задачу с указанным именем и интервалом.
func NewJob(name string, interval time.Duration, check CheckFunc, logger *zap.Logger) *Job {
	return &Job{
		name:     name,
		interval: interval,
		check:    check,
		logger:   logger,
		newTicker: func(d time.Duration) (<-chan time.Time, func()) {
			t := time.NewTicker(d)
			return t.C, t.Stop
		},
	}
}

// Start запускает задачу: немедленно выполняет проверку, затем повторяет её
// по тикам интервала. Повторный вызов для уже запущенной задачи — no-op.
// Ошибка отдельного запуска логируется и не отменяет последующие тики.
func (j *Job) Start(ctx context.Context) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.cancel != nil {
		return
	}

	jobCtx, cancel := context.WithCancel(ctx)
	j.cancel = cancel

	j.logger.Info("job scheduled",
		zap.String("job", j.name),
		zap.Duration("interval", j.interval),
	)

	go j.loop(jobCtx)
}

// Stop останавливает задачу. Безопасен при повторном вызове и для незапущенной задачи.
func (j *Job) Stop() {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.cancel == nil {
		return
	}

	j.cancel()
	j.cancel = nil
}

func (j *Job) loop(ctx context.Context) {
	tick, stop := j.newTicker(j.interval)
	defer stop()

	j.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("job stopped", zap.String("job", j.name))
			return
		case <-tick:
			go j.runOnce(ctx)
		}
	}
}

func (j *Job) runOnce(ctx context.Context) {
	if err := j.check(ctx); err != nil {
		j.logger.Error("job run failed",
			zap.String("job", j.name),
			zap.Error(err),
		)
	}
}
