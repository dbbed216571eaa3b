package bot

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/smartbite/smartbite/internal/nutrition"
	"github.com/smartbite/smartbite/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type botApiMock struct {
	mock.Mock
}

func (m *botApiMock) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	args := m.Called(c)
	return args.Get(0).(tgbotapi.Message), args.Error(1)
}

func (m *botApiMock) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	args := m.Called(c)
	return args.Get(0).(*tgbotapi.APIResponse), args.Error(1)
}

func (m *botApiMock) GetFileDirectURL(fileID string) (string, error) {
	args := m.Called(fileID)
	return args.Get(0).(string), args.Error(1)
}

type classifierMock struct {
	mock.Mock
}

func (m *classifierMock) ClassifyAndEnrich(ctx context.Context, raw []byte) (*pipeline.Result, error) {
	args := m.Called(ctx, raw)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pipeline.Result), args.Error(1)
}

const chatID = int64(42)

func makeUpdate(msg *tgbotapi.Message) tgbotapi.Update {
	msg.MessageID = 7
	msg.Chat = &tgbotapi.Chat{ID: chatID}
	return tgbotapi.Update{Message: msg}
}

func makeReply(text string) tgbotapi.MessageConfig {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyToMessageID = 7
	msg.DisableWebPagePreview = true
	return msg
}

func setup(t *testing.T) (*botApiMock, *classifierMock, *Bot) {
	t.Helper()
	tg := new(botApiMock)
	cls := new(classifierMock)
	return tg, cls, NewBot(tg, cls, nil)
}

func photoServer(t *testing.T, body []byte) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(body)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestHandleUpdate_Start(t *testing.T) {
	tg, _, bot := setup(t)

	tg.On("Send", makeReply(formatReplyText(MsgWelcome))).Return(tgbotapi.Message{}, nil).Once()

	bot.HandleUpdate(context.Background(), makeUpdate(&tgbotapi.Message{Text: "/start"}))
	tg.AssertExpectations(t)
}

func TestHandleUpdate_HelpWithBotName(t *testing.T) {
	tg, _, bot := setup(t)

	tg.On("Send", makeReply(formatReplyText(MsgHelp))).Return(tgbotapi.Message{}, nil).Once()

	bot.HandleUpdate(context.Background(), makeUpdate(&tgbotapi.Message{Text: "/help@smartbite_bot"}))
	tg.AssertExpectations(t)
}

func TestHandleUpdate_UnknownCommand(t *testing.T) {
	tg, _, bot := setup(t)

	tg.On("Send", makeReply(MsgUnknownCommand)).Return(tgbotapi.Message{}, nil).Once()

	bot.HandleUpdate(context.Background(), makeUpdate(&tgbotapi.Message{Text: "/foo"}))
	tg.AssertExpectations(t)
}

func TestHandleUpdate_PlainTextPromptsForPhoto(t *testing.T) {
	tg, _, bot := setup(t)

	tg.On("Send", makeReply(MsgStartPrompt)).Return(tgbotapi.Message{}, nil).Once()

	bot.HandleUpdate(context.Background(), makeUpdate(&tgbotapi.Message{Text: "hello"}))
	tg.AssertExpectations(t)
}

func TestHandleUpdate_IgnoresNonMessageUpdates(t *testing.T) {
	tg, cls, bot := setup(t)

	bot.HandleUpdate(context.Background(), tgbotapi.Update{})
	tg.AssertNotCalled(t, "Send", mock.Anything)
	cls.AssertNotCalled(t, "ClassifyAndEnrich", mock.Anything, mock.Anything)
}

func TestHandleUpdate_PhotoIsClassified(t *testing.T) {
	tg, cls, bot := setup(t)
	image := []byte{0xFF, 0xD8, 0xFF, 0xE0}
	ts := photoServer(t, image)
	foodURL := "https://www.fatsecret.com/calories-nutrition/generic/hamburger"

	tg.On("Request", tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)).Return(&tgbotapi.APIResponse{Ok: true}, nil).Once()
	// The largest size comes last
	tg.On("GetFileDirectURL", "large").Return(ts.URL+"/large.jpg", nil).Once()
	cls.On("ClassifyAndEnrich", mock.MatchedBy(func(ctx context.Context) bool {
		o := pipeline.OriginFrom(ctx)
		return o.Source == "telegram" && o.RequestID == "tg-42-7"
	}), image).Return(&pipeline.Result{
		Label:       "Hamburger",
		Probability: 0.877,
		Nutrition: &nutrition.Info{
			ServingSize:   nutrition.ServingSize,
			Calories:      "254kcal",
			Protein:       "13.0g",
			Carbohydrates: "30.0g",
			Fat:           "10.0g",
			FoodURL:       &foodURL,
		},
	}, nil).Once()

	expected := "Hamburger (87.7% confidence)\n\n" +
		"Nutrition per 100g equivalent:\n" +
		"Calories: 254kcal\n" +
		"Protein: 13.0g\n" +
		"Carbohydrates: 30.0g\n" +
		"Fat: 10.0g\n\n" +
		"More: " + foodURL
	tg.On("Send", makeReply(expected)).Return(tgbotapi.Message{}, nil).Once()

	bot.HandleUpdate(context.Background(), makeUpdate(&tgbotapi.Message{
		Photo: []tgbotapi.PhotoSize{
			{FileID: "small", Width: 90, Height: 90, FileSize: 1000},
			{FileID: "large", Width: 800, Height: 800, FileSize: 50000},
		},
	}))

	tg.AssertExpectations(t)
	cls.AssertExpectations(t)
}

func TestHandleUpdate_PhotoWithSentinelNutrition(t *testing.T) {
	tg, cls, bot := setup(t)
	ts := photoServer(t, []byte("img"))

	tg.On("Request", mock.Anything).Return(&tgbotapi.APIResponse{Ok: true}, nil)
	tg.On("GetFileDirectURL", "f").Return(ts.URL+"/f.jpg", nil)
	cls.On("ClassifyAndEnrich", mock.Anything, mock.Anything).Return(&pipeline.Result{
		Label:       "Pho",
		Probability: 0.5,
		Nutrition: &nutrition.Info{
			ServingSize:   nutrition.ServingSize,
			Calories:      nutrition.Sentinel,
			Protein:       nutrition.Sentinel,
			Carbohydrates: nutrition.Sentinel,
			Fat:           nutrition.Sentinel,
		},
	}, nil)
	tg.On("Send", makeReply("Pho (50.0% confidence)\n\n"+MsgNutritionUnavailable)).Return(tgbotapi.Message{}, nil).Once()

	bot.HandleUpdate(context.Background(), makeUpdate(&tgbotapi.Message{
		Photo: []tgbotapi.PhotoSize{{FileID: "f"}},
	}))
	tg.AssertExpectations(t)
}

func TestHandleUpdate_PipelineFailure(t *testing.T) {
	tg, cls, bot := setup(t)
	ts := photoServer(t, []byte("img"))

	tg.On("Request", mock.Anything).Return(&tgbotapi.APIResponse{Ok: true}, nil)
	tg.On("GetFileDirectURL", "f").Return(ts.URL+"/f.jpg", nil)
	cls.On("ClassifyAndEnrich", mock.Anything, mock.Anything).
		Return(nil, &pipeline.ClassificationPipelineError{Stage: pipeline.StageNutrition, Err: errors.New("boom")})
	tg.On("Send", makeReply(MsgAnalysisFailed)).Return(tgbotapi.Message{}, nil).Once()

	bot.HandleUpdate(context.Background(), makeUpdate(&tgbotapi.Message{
		Photo: []tgbotapi.PhotoSize{{FileID: "f"}},
	}))
	tg.AssertExpectations(t)
}

func TestHandleUpdate_DownloadFailure(t *testing.T) {
	tg, cls, bot := setup(t)

	tg.On("Request", mock.Anything).Return(&tgbotapi.APIResponse{Ok: true}, nil)
	tg.On("GetFileDirectURL", "f").Return("", errors.New("file not found"))
	tg.On("Send", makeReply(MsgDownloadFailed)).Return(tgbotapi.Message{}, nil).Once()

	bot.HandleUpdate(context.Background(), makeUpdate(&tgbotapi.Message{
		Photo: []tgbotapi.PhotoSize{{FileID: "f"}},
	}))
	tg.AssertExpectations(t)
	cls.AssertNotCalled(t, "ClassifyAndEnrich", mock.Anything, mock.Anything)
}

func TestHandleUpdate_PhotoTooLarge(t *testing.T) {
	tg, cls, bot := setup(t)

	tg.On("Send", makeReply(MsgImageTooLarge)).Return(tgbotapi.Message{}, nil).Once()

	bot.HandleUpdate(context.Background(), makeUpdate(&tgbotapi.Message{
		Photo: []tgbotapi.PhotoSize{{FileID: "f", FileSize: DefaultMaxImageSize + 1}},
	}))
	tg.AssertExpectations(t)
	tg.AssertNotCalled(t, "GetFileDirectURL", mock.Anything)
	cls.AssertNotCalled(t, "ClassifyAndEnrich", mock.Anything, mock.Anything)
}

func TestHandleUpdate_DocumentMustBeImage(t *testing.T) {
	tg, _, bot := setup(t)

	tg.On("Send", makeReply(MsgNotAnImage)).Return(tgbotapi.Message{}, nil).Once()

	bot.HandleUpdate(context.Background(), makeUpdate(&tgbotapi.Message{
		Document: &tgbotapi.Document{FileID: "doc", MimeType: "application/pdf"},
	}))
	tg.AssertExpectations(t)
}

func TestHandleUpdate_ImageDocumentIsClassified(t *testing.T) {
	tg, cls, bot := setup(t)
	ts := photoServer(t, []byte("img"))

	tg.On("Request", mock.Anything).Return(&tgbotapi.APIResponse{Ok: true}, nil)
	tg.On("GetFileDirectURL", "doc").Return(ts.URL+"/doc.png", nil).Once()
	cls.On("ClassifyAndEnrich", mock.Anything, []byte("img")).Return(&pipeline.Result{
		Label:       "Waffles",
		Probability: 1,
		Nutrition: &nutrition.Info{
			ServingSize:   nutrition.ServingSize,
			Calories:      "291kcal",
			Protein:       "7.9g",
			Carbohydrates: "32.9g",
			Fat:           "14.1g",
		},
	}, nil).Once()
	tg.On("Send", mock.MatchedBy(func(c tgbotapi.MessageConfig) bool {
		return c.ChatID == chatID && firstLine(c.Text) == "Waffles (100.0% confidence)"
	})).Return(tgbotapi.Message{}, nil).Once()

	bot.HandleUpdate(context.Background(), makeUpdate(&tgbotapi.Message{
		Document: &tgbotapi.Document{FileID: "doc", MimeType: "image/png"},
	}))
	tg.AssertExpectations(t)
	cls.AssertExpectations(t)
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}

type updatesMock struct {
	ch      chan tgbotapi.Update
	stopped chan struct{}
}

func (u *updatesMock) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return u.ch
}

func (u *updatesMock) StopReceivingUpdates() {
	close(u.stopped)
}

func TestRun_HandlesUpdatesUntilCanceled(t *testing.T) {
	tg, _, bot := setup(t)
	source := &updatesMock{ch: make(chan tgbotapi.Update, 1), stopped: make(chan struct{})}

	sent := make(chan struct{}, 1)
	tg.On("Send", makeReply(MsgStartPrompt)).Run(func(mock.Arguments) {
		sent <- struct{}{}
	}).Return(tgbotapi.Message{}, nil).Once()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- bot.Run(ctx, source) }()

	source.ch <- makeUpdate(&tgbotapi.Message{Text: "hi"})
	select {
	case <-sent:
	case <-time.After(2 * time.Second):
		t.Fatal("update was not handled")
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	_, open := <-source.stopped
	assert.False(t, open)
	tg.AssertExpectations(t)
}

func TestRegisterCommands(t *testing.T) {
	tg := new(botApiMock)
	tg.On("Request", mock.MatchedBy(func(c tgbotapi.SetMyCommandsConfig) bool {
		return len(c.Commands) == 2 && c.Commands[0].Command == "start" && c.Commands[1].Command == "help"
	})).Return(&tgbotapi.APIResponse{Ok: true}, nil).Once()

	RegisterCommands(tg)
	tg.AssertExpectations(t)
}
