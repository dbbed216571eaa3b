// Package bot answers food photos sent over Telegram with the predicted dish
// and its nutrition facts.
package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
	"github.com/smartbite/smartbite/internal/nutrition"
	"github.com/smartbite/smartbite/internal/pipeline"
)

// BotAPI defines the interface for Telegram bot API operations.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

// Classifier runs the classify-and-enrich pipeline.
type Classifier interface {
	ClassifyAndEnrich(ctx context.Context, raw []byte) (*pipeline.Result, error)
}

// Bot is the main Telegram bot handler.
type Bot struct {
	tg         BotAPI
	classifier Classifier
	downloader *ImageDownloader
}

// NewBot creates a new Bot instance.
func NewBot(tg BotAPI, classifier Classifier, downloader *ImageDownloader) *Bot {
	if downloader == nil {
		downloader = NewImageDownloader()
	}
	return &Bot{
		tg:         tg,
		classifier: classifier,
		downloader: downloader,
	}
}

// Updates is the part of tgbotapi.BotAPI used to receive updates.
type Updates interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Run processes updates until ctx is canceled, handling each update on its
// own goroutine.
func (b *Bot) Run(ctx context.Context, source Updates) error {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := source.GetUpdatesChan(updateConfig)

	var wg sync.WaitGroup

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("stopping bot update loop")
			source.StopReceivingUpdates()
			log.Info().Msg("waiting for active handlers to finish")
			wg.Wait()
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				log.Warn().Msg("updates channel closed")
				wg.Wait()
				return nil
			}
			wg.Add(1)
			go func(u tgbotapi.Update) {
				defer wg.Done()
				b.HandleUpdate(ctx, u)
			}(update)
		}
	}
}

// HandleUpdate is the main message router.
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	message := update.Message
	if message == nil {
		return
	}

	log.Info().
		Int64("chatId", message.Chat.ID).
		Str("text", message.Text).
		Int("photos", len(message.Photo)).
		Msg("got message")

	switch {
	case len(message.Photo) > 0:
		b.handlePhoto(ctx, message)
	case message.Document != nil:
		b.handleDocument(ctx, message)
	case message.IsCommand() || strings.HasPrefix(message.Text, "/"):
		b.handleCommand(message)
	default:
		b.reply(message, MsgStartPrompt)
	}
}

func (b *Bot) handleCommand(message *tgbotapi.Message) {
	cmd, _ := parseCommand(message.Text)
	switch cmd {
	case "/start":
		b.reply(message, formatReplyText(MsgWelcome))
	case "/help":
		b.reply(message, formatReplyText(MsgHelp))
	default:
		b.reply(message, MsgUnknownCommand)
	}
}

func (b *Bot) handlePhoto(ctx context.Context, message *tgbotapi.Message) {
	// Sizes are ordered smallest first
	photo := message.Photo[len(message.Photo)-1]
	if int64(photo.FileSize) > b.downloader.maxSize {
		b.reply(message, MsgImageTooLarge)
		return
	}
	b.analyze(ctx, message, photo.FileID)
}

func (b *Bot) handleDocument(ctx context.Context, message *tgbotapi.Message) {
	doc := message.Document
	if doc.MimeType != "" && !strings.HasPrefix(doc.MimeType, "image/") {
		b.reply(message, MsgNotAnImage)
		return
	}
	if int64(doc.FileSize) > b.downloader.maxSize {
		b.reply(message, MsgImageTooLarge)
		return
	}
	b.analyze(ctx, message, doc.FileID)
}

func (b *Bot) analyze(ctx context.Context, message *tgbotapi.Message, fileID string) {
	if _, err := b.tg.Request(tgbotapi.NewChatAction(message.Chat.ID, tgbotapi.ChatTyping)); err != nil {
		log.Warn().Err(err).Msg("failed to send chat action")
	}

	data, err := b.downloader.DownloadFromTelegramFileID(ctx, b.tg.GetFileDirectURL, fileID)
	if err != nil {
		log.Error().Err(err).Str("fileID", fileID).Msg("failed to download photo")
		b.reply(message, MsgDownloadFailed)
		return
	}

	ctx = pipeline.WithOrigin(ctx, pipeline.Origin{
		Source:    "telegram",
		RequestID: fmt.Sprintf("tg-%d-%d", message.Chat.ID, message.MessageID),
	})
	res, err := b.classifier.ClassifyAndEnrich(ctx, data)
	if err != nil {
		b.reply(message, MsgAnalysisFailed)
		return
	}

	b.reply(message, formatResult(res))
}

func formatResult(res *pipeline.Result) string {
	info := res.Nutrition
	if info == nil || !info.Complete() {
		text := formatReplyText("%s (%.1f%% confidence)", res.Label, res.Probability*100)
		return text + "\n\n" + MsgNutritionUnavailable + moreInfo(info)
	}

	text := formatReplyText(MsgAnalysisResult,
		res.Label, res.Probability*100,
		info.ServingSize,
		info.Calories,
		info.Protein,
		info.Carbohydrates,
		info.Fat,
	)
	return text + moreInfo(info)
}

func moreInfo(info *nutrition.Info) string {
	if info == nil || info.FoodURL == nil {
		return ""
	}
	return "\n\n" + fmt.Sprintf(MsgMoreInfo, *info.FoodURL)
}

func (b *Bot) reply(message *tgbotapi.Message, text string) {
	msg := tgbotapi.NewMessage(message.Chat.ID, text)
	msg.ReplyToMessageID = message.MessageID
	msg.DisableWebPagePreview = true
	if _, err := b.tg.Send(msg); err != nil {
		log.Error().Err(err).Int64("chatId", message.Chat.ID).Msg("failed to send reply")
	}
}
