// Package sweeper реализует ежедневную уборку неоплаченных корзин:
// резервы возвращаются в остатки, пользователи получают уведомление.
package sweeper

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/avolkhov/studiomarket/internal/notify"
)

// CartService — операция уборки, предоставляемая бизнес-слоем.
type CartService interface {
	SweepExpiredCarts(ctx context.Context) ([]int64, error)
}

// Sweeper раз в сутки очищает все корзины в настроенное время.
type Sweeper struct {
	svc      CartService
	notifier notify.Notifier
	logger   *zap.Logger

	hour   int
	minute int
	now    func() time.Time
}

// New создаёт Sweeper, срабатывающий ежедневно в hour:minute локального времени.
func New(svc CartService, notifier notify.Notifier, logger *zap.Logger, hour, minute int) *Sweeper {
	return &Sweeper{
		svc:      svc,
		notifier: notifier,
		logger:   logger,
		hour:     hour,
		minute:   minute,
		now:      time.Now,
	}
}

// nextDeadline возвращает ближайший момент срабатывания после from.
func (s *Sweeper) nextDeadline(from time.Time) time.Time {
	deadline := time.Date(from.Year(), from.Month(), from.Day(), s.hour, s.minute, 0, 0, from.Location())
	if !deadline.After(from) {
		deadline = deadline.Add(24 * time.Hour)
	}
	return deadline
}

// Run запускает цикл ежедневной уборки и блокируется до отмены контекста.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Info("cart sweeper started",
		zap.Int("hour", s.hour),
		zap.Int("minute", s.minute),
	)

	timer := time.NewTimer(time.Until(s.nextDeadline(s.now())))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("cart sweeper stopped")
			return ctx.Err()
		case <-timer.C:
			if err := s.Sweep(ctx); err != nil {
				s.logger.Error("cart sweep failed", zap.Error(err))
			}
			timer.Reset(time.Until(s.nextDeadline(s.now())))
		}
	}
}

// Sweep очищает все корзины немедленно и уведомляет затронутых пользователей.
func (s *Sweeper) Sweep(ctx context.Context) error {
	affected, err := s.svc.SweepExpiredCarts(ctx)
	if err != nil {
		return fmt.Errorf("sweep carts: %w", err)
	}

	s.logger.Info("carts swept", zap.Int("users", len(affected)))

	for _, userID := range affected {
		err := s.notifier.NotifyUser(ctx, userID,
			"🧹 Ваша корзина очищена: заказ не был оплачен. Товары снова доступны для покупки.")
		if err != nil {
			// Недоставленное уведомление не отменяет уборку.
			s.logger.Warn("sweep notification", zap.Int64("userID", userID), zap.Error(err))
		}
	}

	return nil
}
