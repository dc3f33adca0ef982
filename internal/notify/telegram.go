package notify

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramNotifier доставляет уведомления через Telegram Bot API.
type TelegramNotifier struct {
	bot      *tgbotapi.BotAPI
	adminIDs []int64
}

// NewTelegramNotifier создаёт Notifier поверх Telegram-бота с указанным токеном.
func NewTelegramNotifier(token string, adminIDs []int64) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	return &TelegramNotifier{bot: bot, adminIDs: adminIDs}, nil
}

// NotifyUser отправляет сообщение в чат пользователя.
func (n *TelegramNotifier) NotifyUser(ctx context.Context, chatID int64, text string) error {
	if _, err := n.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		return fmt.Errorf("send user message: %w", err)
	}
	return nil
}

// NotifyAdmins отправляет уведомление каждому администратору.
// Для карточки проверки чека прикладывается файл и кнопки решений;
// callback-данные кнопок имеют вид "verify:{решение}:{id проверки}".
func (n *TelegramNotifier) NotifyAdmins(ctx context.Context, msg AdminMessage) error {
	if msg.Text != "" {
		for _, adminID := range n.adminIDs {
			if _, err := n.bot.Send(tgbotapi.NewMessage(adminID, msg.Text)); err != nil {
				return fmt.Errorf("send admin message: %w", err)
			}
		}
		return nil
	}

	caption := fmt.Sprintf(
		"👤 Пользователь: ID %d\n💳 Сумма заказа: %.2f₽\nРезультат автоматической проверки:\n%s\n\n❗️ПРОВЕРЬТЕ ЧЕК И ВЫБЕРИТЕ ДЕЙСТВИЕ❗️",
		msg.UserID, msg.ExpectedAmount, strings.Join(msg.Details, "\n"),
	)

	keyboard := n.decisionKeyboard(msg)

	for _, adminID := range n.adminIDs {
		var err error
		switch {
		case msg.FileRef == "":
			m := tgbotapi.NewMessage(adminID, caption)
			if keyboard != nil {
				m.ReplyMarkup = keyboard
			}
			_, err = n.bot.Send(m)
		case strings.HasSuffix(strings.ToLower(msg.FileRef), ".pdf"):
			doc := tgbotapi.NewDocument(adminID, tgbotapi.FileID(msg.FileRef))
			doc.Caption = caption
			if keyboard != nil {
				doc.ReplyMarkup = keyboard
			}
			_, err = n.bot.Send(doc)
		default:
			photo := tgbotapi.NewPhoto(adminID, tgbotapi.FileID(msg.FileRef))
			photo.Caption = caption
			if keyboard != nil {
				photo.ReplyMarkup = keyboard
			}
			_, err = n.bot.Send(photo)
		}
		if err != nil {
			return fmt.Errorf("send admin notification: %w", err)
		}
	}

	return nil
}

func (n *TelegramNotifier) decisionKeyboard(msg AdminMessage) *tgbotapi.InlineKeyboardMarkup {
	if len(msg.Decisions) == 0 || msg.VerificationID == "" {
		return nil
	}

	labels := map[Decision]string{
		DecisionAccept: "✅ Принять",
		DecisionReject: "❌ Отклонить",
		DecisionDelete: "❌ Удалить",
	}

	var row []tgbotapi.InlineKeyboardButton
	for _, d := range msg.Decisions {
		label, ok := labels[d]
		if !ok {
			continue
		}
		data := fmt.Sprintf("verify:%s:%s", d, msg.VerificationID)
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(label, data))
	}

	if len(row) == 0 {
		return nil
	}

	kb := tgbotapi.NewInlineKeyboardMarkup(row)
	return &kb
}
