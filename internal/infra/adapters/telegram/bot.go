package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"sharktank-agent/internal/config"
	"sharktank-agent/internal/domain"
	"sharktank-agent/internal/domain/model"
	"sharktank-agent/internal/domain/ports/adapter"
	"sharktank-agent/internal/infra/i18n"
	red "sharktank-agent/internal/infra/redis"
	"sharktank-agent/internal/usecase"
)

var _ adapter.TelegramBotAdapter = (*Bot)(nil)

// locale keys
const (
	msgWelcome     = "welcome"
	msgReset       = "reset"
	msgBusy        = "busy"
	msgFailed      = "failed"
	msgRateLimited = "rate_limited"
	msgPaused      = "paused"
)

// Gateway is the part of the job gateway the bot talks to.
type Gateway interface {
	SubmitAndWait(ctx context.Context, req usecase.ChatRequest, opts usecase.WaitOptions) (*model.ChatResult, error)
	ClearSession(ctx context.Context, sessionID string) error
}

type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// sender is the subset of tgbotapi.BotAPI used to reply.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Bot answers Telegram text messages through the synchronous gateway path.
type Bot struct {
	api     *tgbotapi.BotAPI
	out     sender
	gw      Gateway
	limiter Limiter
	tr      *i18n.Translator
	cfg     config.BotConfig
	log     *zerolog.Logger
}

// NewBot connects to the Bot API. limiter may be nil.
func NewBot(cfg config.BotConfig, gw Gateway, limiter Limiter, logger *zerolog.Logger) (*Bot, error) {
	if cfg.Token == "" {
		return nil, errors.New("telegram: bot token is empty")
	}
	tr, err := i18n.New(cfg.Language)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram: connect: %w", err)
	}
	b := newBot(api, gw, limiter, tr, cfg, logger)
	b.api = api
	b.log.Info().Str("username", api.Self.UserName).Msg("telegram bot authorized")
	return b, nil
}

func newBot(out sender, gw Gateway, limiter Limiter, tr *i18n.Translator, cfg config.BotConfig, logger *zerolog.Logger) *Bot {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 20
	}
	compLog := logger.With().Str("component", "TelegramBot").Logger()
	return &Bot{out: out, gw: gw, limiter: limiter, tr: tr, cfg: cfg, log: &compLog}
}

// Run polls for updates and fans them out to workers until ctx ends.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)
	defer b.api.StopReceivingUpdates()

	work := make(chan tgbotapi.Update, 100)
	var wg sync.WaitGroup
	for i := 0; i < b.cfg.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for up := range work {
				if err := b.handleUpdate(ctx, up); err != nil {
					b.log.Error().Err(err).Int("worker", id).Int("update_id", up.UpdateID).Msg("handle update")
				}
			}
		}(i)
	}

	defer func() {
		close(work)
		wg.Wait()
	}()
	for {
		select {
		case <-ctx.Done():
			b.log.Info().Msg("telegram polling stopped")
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			select {
			case work <- up:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (b *Bot) SendMessage(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := b.out.Send(tgbotapi.NewMessage(chatID, text))
	return err
}

// SessionID names the conversation of a chat.
func SessionID(chatID int64) string {
	return "tg_" + strconv.FormatInt(chatID, 10)
}

func (b *Bot) handleUpdate(ctx context.Context, up tgbotapi.Update) error {
	msg := up.Message
	if msg == nil || msg.Chat == nil {
		return nil
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return nil
	}
	chatID := msg.Chat.ID
	log := b.log.With().Int64("chat_id", chatID).Logger()

	if b.limiter != nil {
		ok, err := b.limiter.Allow(ctx, red.RouteKey("telegram", strconv.FormatInt(chatID, 10)), b.cfg.RateLimit, time.Minute)
		if err != nil {
			log.Warn().Err(err).Msg("rate limiter unavailable")
		} else if !ok {
			return b.SendMessage(ctx, chatID, b.tr.T(msgRateLimited))
		}
	}

	if msg.IsCommand() {
		switch msg.Command() {
		case "start", "help":
			return b.SendMessage(ctx, chatID, b.tr.T(msgWelcome))
		case "reset":
			if err := b.gw.ClearSession(ctx, SessionID(chatID)); err != nil {
				log.Error().Err(err).Msg("clear session")
				return b.SendMessage(ctx, chatID, b.tr.T(msgFailed))
			}
			return b.SendMessage(ctx, chatID, b.tr.T(msgReset))
		}
	}

	_, _ = b.out.Send(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping))

	req := usecase.ChatRequest{Message: text, SessionID: SessionID(chatID)}
	if msg.From != nil {
		req.UserID = "tg:" + strconv.FormatInt(msg.From.ID, 10)
	}
	res, err := b.gw.SubmitAndWait(ctx, req, usecase.WaitOptions{})

	var timeout *usecase.WaitTimeoutError
	switch {
	case err == nil:
		return b.SendMessage(ctx, chatID, res.Response)
	case errors.As(err, &timeout):
		return b.SendMessage(ctx, chatID, b.tr.T(msgBusy, timeout.JobID))
	case errors.Is(err, domain.ErrQueuePaused):
		return b.SendMessage(ctx, chatID, b.tr.T(msgPaused))
	case ctx.Err() != nil:
		return ctx.Err()
	}
	log.Error().Err(err).Msg("chat request failed")
	return b.SendMessage(ctx, chatID, b.tr.T(msgFailed))
}
