package channel

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/quiplabs/quip/internal/bus"
	"github.com/quiplabs/quip/internal/config"
)

const telegramChannelName = "telegram"

// telegramHardLimit stays under the API's 4096-char message cap.
const telegramHardLimit = 4000

// TelegramBot interface for mocking telegram bot API
type TelegramBot interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetSelf() tgbotapi.User
}

// tgBotWrapper wraps tgbotapi.BotAPI to implement TelegramBot interface
type tgBotWrapper struct {
	bot *tgbotapi.BotAPI
}

func (w *tgBotWrapper) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return w.bot.GetUpdatesChan(config)
}

func (w *tgBotWrapper) StopReceivingUpdates() {
	w.bot.StopReceivingUpdates()
}

func (w *tgBotWrapper) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	return w.bot.Send(c)
}

func (w *tgBotWrapper) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return w.bot.Request(c)
}

func (w *tgBotWrapper) GetSelf() tgbotapi.User {
	return w.bot.Self
}

// BotFactory creates TelegramBot instances (allows mocking)
type BotFactory func(token, apiEndpoint string, client *http.Client) (TelegramBot, error)

// defaultBotFactory creates real telegram bot
var defaultBotFactory BotFactory = func(token, apiEndpoint string, client *http.Client) (TelegramBot, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, apiEndpoint, client)
	if err != nil {
		return nil, err
	}
	return &tgBotWrapper{bot: bot}, nil
}

// telegramCommands is the menu pushed to the client UI. Command names must
// be lowercase ASCII, so the hyphenated easter egg stays unlisted.
var telegramCommands = []tgbotapi.BotCommand{
	{Command: "chat", Description: "talk to quip"},
	{Command: "game", Description: "start a number guessing game"},
	{Command: "guess", Description: "guess a number in your game"},
	{Command: "end", Description: "end your current game"},
	{Command: "info", Description: "what quip remembers about you"},
	{Command: "mydata", Description: "show, fix or wipe your saved data"},
	{Command: "forget", Description: "make quip forget something"},
	{Command: "code", Description: "where quip's code lives"},
}

type TelegramChannel struct {
	BaseChannel
	token      string
	bot        TelegramBot
	proxy      string
	httpClient *http.Client
	cancel     context.CancelFunc
	botFactory BotFactory
}

func NewTelegramChannel(cfg config.TelegramConfig, b *bus.MessageBus) (*TelegramChannel, error) {
	return NewTelegramChannelWithFactory(cfg, b, defaultBotFactory)
}

// NewTelegramChannelWithFactory creates a TelegramChannel with custom bot factory (for testing)
func NewTelegramChannelWithFactory(cfg config.TelegramConfig, b *bus.MessageBus, factory BotFactory) (*TelegramChannel, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}

	ch := &TelegramChannel{
		BaseChannel: NewBaseChannel(telegramChannelName, b, cfg.AllowFrom),
		token:       cfg.Token,
		proxy:       cfg.Proxy,
		httpClient:  http.DefaultClient,
		botFactory:  factory,
	}
	return ch, nil
}

func (t *TelegramChannel) initBot() error {
	var client *http.Client
	if t.proxy != "" {
		proxyURL, err := url.Parse(t.proxy)
		if err != nil {
			return fmt.Errorf("parse proxy url: %w", err)
		}
		client = &http.Client{
			Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
		}
	} else {
		client = http.DefaultClient
	}
	t.httpClient = client

	bot, err := t.botFactory(t.token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return fmt.Errorf("create telegram bot: %w", err)
	}
	t.bot = bot
	log.Printf("[telegram] authorized as @%s", bot.GetSelf().UserName)
	return nil
}

func (t *TelegramChannel) Start(ctx context.Context) error {
	if err := t.initBot(); err != nil {
		return err
	}

	t.registerCommands()

	ctx, t.cancel = context.WithCancel(ctx)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := t.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case update := <-updates:
				if update.Message == nil {
					continue
				}
				t.handleMessage(update.Message)
			case <-ctx.Done():
				return
			}
		}
	}()

	log.Printf("[telegram] polling started")
	return nil
}

// registerCommands publishes the slash-command menu. Failures only cost
// menu discoverability, so they are logged and ignored.
func (t *TelegramChannel) registerCommands() {
	if _, err := t.bot.Request(tgbotapi.NewSetMyCommands(telegramCommands...)); err != nil {
		log.Printf("[telegram] register commands: %v", err)
	}
}

func (t *TelegramChannel) handleMessage(msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}

	senderID := strconv.FormatInt(msg.From.ID, 10)
	if !t.IsAllowed(senderID) {
		log.Printf("[telegram] rejected message from %s (%s)", senderID, msg.From.UserName)
		return
	}

	content := msg.Text
	if content == "" && msg.Caption != "" {
		content = msg.Caption
	}
	if content == "" {
		return
	}

	self := t.bot.GetSelf()

	senderName := msg.From.FirstName
	if senderName == "" {
		senderName = msg.From.UserName
	}
	if senderName == "" {
		senderName = senderID
	}

	t.bus.Inbound <- bus.InboundMessage{
		Channel:    telegramChannelName,
		SenderID:   senderID,
		SenderName: senderName,
		ChatID:     strconv.FormatInt(msg.Chat.ID, 10),
		Content:    content,
		ReplyToBot: isReplyToBot(msg, self.ID),
		IsDirect:   msg.Chat.IsPrivate(),
		FromSelf:   msg.From.ID == self.ID,
		Timestamp:  time.Unix(int64(msg.Date), 0),
		Metadata: map[string]any{
			"username":   msg.From.UserName,
			"message_id": msg.MessageID,
		},
	}
}

// isReplyToBot reports whether a message is a threaded reply to one of the
// bot's own messages.
func isReplyToBot(msg *tgbotapi.Message, selfID int64) bool {
	return msg.ReplyToMessage != nil &&
		msg.ReplyToMessage.From != nil &&
		msg.ReplyToMessage.From.ID == selfID
}

func (t *TelegramChannel) Stop() error {
	if t.cancel != nil {
		t.cancel()
	}
	if t.bot != nil {
		t.bot.StopReceivingUpdates()
	}
	log.Printf("[telegram] stopped")
	return nil
}

// SetBot sets the bot (for testing)
func (t *TelegramChannel) SetBot(bot TelegramBot) {
	t.bot = bot
}

func (t *TelegramChannel) Send(msg bus.OutboundMessage) error {
	if t.bot == nil {
		return fmt.Errorf("telegram bot not initialized")
	}

	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id %q: %w", msg.ChatID, err)
	}

	content := strings.TrimSpace(msg.Content)
	if content == "" {
		return nil
	}

	t.sendTyping(chatID)

	for _, chunk := range splitReply(content, maxReplyChars, replyChunkChars) {
		for len(chunk) > telegramHardLimit {
			cut := strings.LastIndex(chunk[:telegramHardLimit], " ")
			if cut <= 0 {
				cut = telegramHardLimit
			}
			if err := t.sendChunk(chatID, chunk[:cut]); err != nil {
				return err
			}
			chunk = strings.TrimSpace(chunk[cut:])
		}
		if chunk == "" {
			continue
		}
		if err := t.sendChunk(chatID, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (t *TelegramChannel) sendChunk(chatID int64, text string) error {
	if _, err := t.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}

// sendTyping flashes the typing indicator so long generations feel alive.
// Failures are cosmetic and only logged.
func (t *TelegramChannel) sendTyping(chatID int64) {
	if _, err := t.bot.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)); err != nil {
		log.Printf("[telegram] chat action: %v", err)
	}
}
