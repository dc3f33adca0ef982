// Package verification реализует проверку чеков об оплате: автоматическую
// по тексту чека и ручную через решение администратора.
package verification

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/avolkhov/studiomarket/internal/model"
	"github.com/avolkhov/studiomarket/internal/notify"
	"github.com/avolkhov/studiomarket/internal/receipt"
)

// Outcome — результат приёма чека.
type Outcome string

const (
	// OutcomeConfirmed — чек прошёл автоматическую проверку, заказ оформлен.
	OutcomeConfirmed Outcome = "confirmed"
	// OutcomePending — чек ушёл на ручную проверку администратору.
	OutcomePending Outcome = "pending"
	// OutcomeFailed — чек обработать не удалось.
	OutcomeFailed Outcome = "failed"
)

// ErrUnknownDecision возвращается при неизвестном решении администратора.
var ErrUnknownDecision = errors.New("verification: unknown decision")

// TextExtractor распознаёт текст файла чека.
type TextExtractor interface {
	ExtractText(ctx context.Context, fileRef string) (string, error)
}

// OrderService — операции над заказами, нужные процессу проверки.
type OrderService interface {
	Checkout(ctx context.Context, userID int64) (float64, error)
	DeleteOrders(ctx context.Context, userID int64, cost float64) error
	ExpectedAmount(ctx context.Context, userID int64) (float64, bool)
	MarkProcessing(ctx context.Context, userID int64, fileRef string) error
}

// Store хранит записи о чеках на ручной проверке и состояние пользователей.
type Store interface {
	SaveVerification(ctx context.Context, rec model.VerificationRecord) error
	GetVerification(ctx context.Context, id string) (*model.VerificationRecord, error)
	DeleteVerification(ctx context.Context, id string) error
	DeleteState(ctx context.Context, userID int64) error
}

// Workflow связывает распознавание, автоматическую проверку и решения
// администратора в один процесс обработки чека.
type Workflow struct {
	extractor TextExtractor
	validator *receipt.Validator
	svc       OrderService
	store     Store
	notifier  notify.Notifier
	logger    *zap.Logger
}

// NewWorkflow создаёт процесс проверки чеков.
func NewWorkflow(
	extractor TextExtractor,
	validator *receipt.Validator,
	svc OrderService,
	store Store,
	notifier notify.Notifier,
	logger *zap.Logger,
) *Workflow {
	return &Workflow{
		extractor: extractor,
		validator: validator,
		svc:       svc,
		store:     store,
		notifier:  notifier,
		logger:    logger,
	}
}

// SubmitProof принимает файл чека пользователя. Если expectedAmount не
// передана, берётся сумма, записанная при просмотре корзины. Валидный чек
// сразу оформляет заказ; невалидный уходит администратору с кнопками решений.
// Любой сбой обработки сообщается и пользователю, и администраторам.
func (w *Workflow) SubmitProof(ctx context.Context, userID, chatID int64, fileRef string, expectedAmount float64) (Outcome, error) {
	amount := expectedAmount
	if amount <= 0 {
		stored, ok := w.svc.ExpectedAmount(ctx, userID)
		if !ok {
			w.notifyUser(ctx, chatID, "Сумма заказа не найдена. Откройте корзину и отправьте чек ещё раз.")
			return OutcomeFailed, nil
		}
		amount = stored
	}

	if err := w.svc.MarkProcessing(ctx, userID, fileRef); err != nil {
		w.logger.Warn("mark processing", zap.Int64("userID", userID), zap.Error(err))
	}

	text, err := w.extractor.ExtractText(ctx, fileRef)
	if err != nil {
		w.reportFailure(ctx, userID, chatID, err)
		return OutcomeFailed, fmt.Errorf("extract receipt text: %w", err)
	}

	check := w.validator.Validate(text, amount)

	if check.Valid() {
		cost, err := w.svc.Checkout(ctx, userID)
		if err != nil {
			w.reportFailure(ctx, userID, chatID, err)
			return OutcomeFailed, fmt.Errorf("checkout: %w", err)
		}

		if err := w.store.DeleteState(ctx, userID); err != nil {
			w.logger.Warn("delete state", zap.Int64("userID", userID), zap.Error(err))
		}

		w.notifyUser(ctx, chatID,
			fmt.Sprintf("✅ Оплата подтверждена! Заказ на сумму %.2f₽ оформлен. Спасибо за покупку!", cost))

		// Администратор видит чек даже после автоподтверждения и может
		// удалить заказ, если проверка ошиблась.
		rec := model.VerificationRecord{
			ID:             uuid.NewString(),
			UserID:         userID,
			ChatID:         chatID,
			FileRef:        fileRef,
			ExpectedAmount: cost,
			AutoValid:      true,
			Details:        check.Details(amount),
		}
		if err := w.promptAdmins(ctx, rec, []notify.Decision{notify.DecisionAccept, notify.DecisionDelete}); err != nil {
			w.logger.Error("admin prompt", zap.String("verificationID", rec.ID), zap.Error(err))
		}

		return OutcomeConfirmed, nil
	}

	rec := model.VerificationRecord{
		ID:             uuid.NewString(),
		UserID:         userID,
		ChatID:         chatID,
		FileRef:        fileRef,
		ExpectedAmount: amount,
		AutoValid:      false,
		Details:        check.Details(amount),
	}
	if err := w.promptAdmins(ctx, rec, []notify.Decision{notify.DecisionAccept, notify.DecisionReject}); err != nil {
		w.reportFailure(ctx, userID, chatID, err)
		return OutcomeFailed, fmt.Errorf("admin prompt: %w", err)
	}

	w.notifyUser(ctx, chatID, "Чек отправлен администратору на проверку. Ожидайте подтверждения.")

	return OutcomePending, nil
}

// Resolve применяет решение администратора по записи проверки. Запись
// удаляется после любого решения; ошибки возвращаются только вызывающему
// администратору, пользователь о них не узнаёт.
func (w *Workflow) Resolve(ctx context.Context, verificationID string, decision notify.Decision) error {
	rec, err := w.store.GetVerification(ctx, verificationID)
	if err != nil {
		return fmt.Errorf("get verification %s: %w", verificationID, err)
	}

	switch decision {
	case notify.DecisionAccept:
		// Для автоподтверждённого чека заказ уже оформлен: принятие
		// просто закрывает проверку.
		if !rec.AutoValid {
			cost, err := w.svc.Checkout(ctx, rec.UserID)
			if err != nil {
				return fmt.Errorf("checkout for user %d: %w", rec.UserID, err)
			}
			if err := w.store.DeleteState(ctx, rec.UserID); err != nil {
				w.logger.Warn("delete state", zap.Int64("userID", rec.UserID), zap.Error(err))
			}
			w.notifyUser(ctx, rec.ChatID,
				fmt.Sprintf("✅ Оплата подтверждена! Заказ на сумму %.2f₽ оформлен. Спасибо за покупку!", cost))
		}

	case notify.DecisionReject:
		w.notifyUser(ctx, rec.ChatID, "❌ Чек не прошёл проверку. Пожалуйста, отправьте корректный чек об оплате.")

	case notify.DecisionDelete:
		if err := w.svc.DeleteOrders(ctx, rec.UserID, rec.ExpectedAmount); err != nil {
			return fmt.Errorf("delete orders for user %d: %w", rec.UserID, err)
		}
		w.notifyUser(ctx, rec.ChatID, "❌ Ваш заказ удалён. Пожалуйста, не мухлюйте с чеками!")

	default:
		return fmt.Errorf("%w: %q", ErrUnknownDecision, decision)
	}

	if err := w.store.DeleteVerification(ctx, rec.ID); err != nil {
		w.logger.Warn("delete verification", zap.String("verificationID", rec.ID), zap.Error(err))
	}

	return nil
}

// promptAdmins сохраняет запись проверки и отправляет администраторам
// карточку чека с кнопками решений.
func (w *Workflow) promptAdmins(ctx context.Context, rec model.VerificationRecord, decisions []notify.Decision) error {
	if err := w.store.SaveVerification(ctx, rec); err != nil {
		return fmt.Errorf("save verification: %w", err)
	}

	return w.notifier.NotifyAdmins(ctx, notify.AdminMessage{
		UserID:         rec.UserID,
		ChatID:         rec.ChatID,
		ExpectedAmount: rec.ExpectedAmount,
		Details:        rec.Details,
		FileRef:        rec.FileRef,
		VerificationID: rec.ID,
		Decisions:      decisions,
	})
}

// reportFailure сообщает о сбое обработки чека и пользователю, и
// администраторам: пользователь получает просьбу повторить, администраторы —
// текст ошибки.
func (w *Workflow) reportFailure(ctx context.Context, userID, chatID int64, cause error) {
	w.logger.Error("receipt processing failed", zap.Int64("userID", userID), zap.Error(cause))

	w.notifyUser(ctx, chatID, "Не удалось обработать чек. Попробуйте отправить его ещё раз позже.")

	msg := notify.AdminMessage{
		Text: fmt.Sprintf("⚠️ Ошибка обработки чека пользователя ID %d: %v", userID, cause),
	}
	if err := w.notifier.NotifyAdmins(ctx, msg); err != nil {
		w.logger.Error("notify admins", zap.Error(err))
	}
}

func (w *Workflow) notifyUser(ctx context.Context, chatID int64, text string) {
	if err := w.notifier.NotifyUser(ctx, chatID, text); err != nil {
		w.logger.Warn("notify user", zap.Int64("chatID", chatID), zap.Error(err))
	}
}
