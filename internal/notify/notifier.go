// Package notify отвечает за уведомление пользователей и администраторов.
// Транспорт сообщений скрыт за интерфейсом Notifier: ядро не знает,
// каким каналом доставляются уведомления.
package notify

import (
	"context"

	"go.uber.org/zap"
)

// Decision — действие, предлагаемое администратору по чеку.
type Decision string

const (
	DecisionAccept Decision = "accept"
	DecisionReject Decision = "reject"
	DecisionDelete Decision = "delete"
)

// AdminMessage — уведомление администраторам. Если заполнено поле Text,
// отправляется простое текстовое сообщение; иначе — карточка проверки чека
// с файлом и кнопками решений.
type AdminMessage struct {
	Text string

	UserID         int64
	ChatID         int64
	ExpectedAmount float64
	Details        []string
	FileRef        string
	VerificationID string
	Decisions      []Decision
}

// Notifier доставляет уведомления пользователю и администраторам.
type Notifier interface {
	NotifyUser(ctx context.Context, chatID int64, text string) error
	NotifyAdmins(ctx context.Context, msg AdminMessage) error
}

// LogNotifier пишет уведомления в журнал. Используется, когда транспорт
// не сконфигурирован (локальный запуск, тесты).
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier создаёт журнальный Notifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// NotifyUser пишет уведомление пользователя в журнал.
func (n *LogNotifier) NotifyUser(ctx context.Context, chatID int64, text string) error {
	n.logger.Info("user notification",
		zap.Int64("chatID", chatID),
		zap.String("text", text),
	)
	return nil
}

// NotifyAdmins пишет уведомление администраторов в журнал.
func (n *LogNotifier) NotifyAdmins(ctx context.Context, msg AdminMessage) error {
	if msg.Text != "" {
		n.logger.Info("admin notification", zap.String("text", msg.Text))
		return nil
	}

	n.logger.Info("admin verification prompt",
		zap.Int64("userID", msg.UserID),
		zap.Float64("expectedAmount", msg.ExpectedAmount),
		zap.Strings("details", msg.Details),
		zap.String("verificationID", msg.VerificationID),
	)
	return nil
}
