package channel

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	qrterminal "github.com/mdp/qrterminal/v3"
	"github.com/quiplabs/quip/internal/bus"
	"github.com/quiplabs/quip/internal/config"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	_ "modernc.org/sqlite"
)

const whatsappChannelName = "whatsapp"

const whatsappSendTimeout = 30 * time.Second

type WhatsAppChannel struct {
	BaseChannel
	cfg            config.WhatsAppConfig
	client         *whatsmeow.Client
	storeContainer *sqlstore.Container
	cancel         context.CancelFunc
	handlerID      uint32
}

func NewWhatsApp(cfg config.WhatsAppConfig, msgBus *bus.MessageBus) (*WhatsAppChannel, error) {
	storePath := strings.TrimSpace(cfg.SessionDB)
	if storePath == "" {
		storePath = filepath.Join(config.ConfigDir(), "whatsapp-session.db")
	}

	if err := os.MkdirAll(filepath.Dir(storePath), 0755); err != nil {
		return nil, fmt.Errorf("create whatsapp store dir: %w", err)
	}

	storeDSN := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)", filepath.ToSlash(storePath))
	container, err := sqlstore.New(context.Background(), "sqlite", storeDSN, waLog.Noop)
	if err != nil {
		return nil, fmt.Errorf("init whatsapp session store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(context.Background())
	if err != nil {
		_ = container.Close()
		return nil, fmt.Errorf("get whatsapp device: %w", err)
	}

	client := whatsmeow.NewClient(deviceStore, waLog.Noop)

	ch := &WhatsAppChannel{
		BaseChannel:    NewBaseChannel(whatsappChannelName, msgBus, cfg.AllowFrom),
		cfg:            cfg,
		client:         client,
		storeContainer: container,
	}
	ch.handlerID = ch.client.AddEventHandler(ch.handleEvent)

	return ch, nil
}

func (w *WhatsAppChannel) Name() string {
	return whatsappChannelName
}

func (w *WhatsAppChannel) Start(ctx context.Context) error {
	if w.client == nil {
		return fmt.Errorf("whatsapp client not initialized")
	}

	ctx, w.cancel = context.WithCancel(ctx)

	if w.client.Store.ID == nil {
		qrChan, err := w.client.GetQRChannel(ctx)
		if err != nil {
			w.cancel()
			return fmt.Errorf("get whatsapp qr channel: %w", err)
		}
		go w.consumeQR(ctx, qrChan)
	}

	if err := w.client.Connect(); err != nil {
		w.cancel()
		return fmt.Errorf("connect whatsapp: %w", err)
	}

	go func() {
		<-ctx.Done()
		w.client.Disconnect()
	}()

	log.Printf("[whatsapp] connected")
	return nil
}

func (w *WhatsAppChannel) Stop() error {
	if w.cancel != nil {
		w.cancel()
	}

	if w.client != nil {
		if w.handlerID != 0 {
			w.client.RemoveEventHandler(w.handlerID)
			w.handlerID = 0
		}
		w.client.Disconnect()
	}

	if w.storeContainer != nil {
		if err := w.storeContainer.Close(); err != nil {
			return fmt.Errorf("close whatsapp store: %w", err)
		}
		w.storeContainer = nil
	}

	log.Printf("[whatsapp] stopped")
	return nil
}

func (w *WhatsAppChannel) Send(msg bus.OutboundMessage) error {
	if w.client == nil {
		return fmt.Errorf("whatsapp client not initialized")
	}

	chatID := strings.TrimSpace(msg.ChatID)
	if chatID == "" {
		return fmt.Errorf("whatsapp chat id is required")
	}

	chatJID, err := parseWhatsAppJID(chatID)
	if err != nil {
		return fmt.Errorf("parse whatsapp chat id %q: %w", chatID, err)
	}

	content := strings.TrimSpace(msg.Content)
	if content == "" {
		return nil
	}

	for _, chunk := range splitReply(content, maxReplyChars, replyChunkChars) {
		ctx, cancel := context.WithTimeout(context.Background(), whatsappSendTimeout)
		_, err := w.client.SendMessage(ctx, chatJID, &waE2E.Message{
			Conversation: proto.String(chunk),
		})
		cancel()
		if err != nil {
			return fmt.Errorf("send whatsapp message: %w", err)
		}
	}

	return nil
}

func (w *WhatsAppChannel) consumeQR(ctx context.Context, qrChan <-chan whatsmeow.QRChannelItem) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-qrChan:
			if !ok {
				return
			}

			switch evt.Event {
			case whatsmeow.QRChannelEventCode:
				log.Printf("[whatsapp] scan the QR code below to login")
				qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, os.Stdout)
			default:
				if evt.Error != nil {
					log.Printf("[whatsapp] login event=%s error=%v", evt.Event, evt.Error)
				} else {
					log.Printf("[whatsapp] login event=%s", evt.Event)
				}
			}
		}
	}
}

func (w *WhatsAppChannel) handleEvent(evt interface{}) {
	switch e := evt.(type) {
	case *events.Message:
		w.handleMessage(e)
	}
}

func (w *WhatsAppChannel) handleMessage(evt *events.Message) {
	if evt == nil || evt.Message == nil || evt.Info.IsFromMe {
		return
	}

	rawSender := evt.Info.Sender.String()
	sender := evt.Info.Sender.ToNonAD().String()
	if !w.IsAllowed(sender) && !w.IsAllowed(rawSender) {
		log.Printf("[whatsapp] rejected message from %s", sender)
		return
	}

	content := extractText(evt.Message)
	if content == "" {
		return
	}

	senderName := strings.TrimSpace(evt.Info.PushName)
	if senderName == "" {
		senderName = evt.Info.Sender.User
	}

	w.bus.Inbound <- bus.InboundMessage{
		Channel:    whatsappChannelName,
		SenderID:   sender,
		SenderName: senderName,
		ChatID:     evt.Info.Chat.String(),
		Content:    content,
		ReplyToBot: w.isReplyToSelf(evt.Message),
		IsDirect:   !evt.Info.IsGroup,
		Timestamp:  evt.Info.Timestamp,
		Metadata: map[string]any{
			"message_id": evt.Info.ID,
			"chat_jid":   evt.Info.Chat.String(),
			"sender_jid": evt.Info.Sender.String(),
			"push_name":  evt.Info.PushName,
		},
	}
}

// extractText pulls the text body from the message variants the bot
// understands. Image captions count as text; the media itself is ignored.
func extractText(msg *waE2E.Message) string {
	if content := strings.TrimSpace(msg.GetConversation()); content != "" {
		return content
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		if content := strings.TrimSpace(ext.GetText()); content != "" {
			return content
		}
	}
	if image := msg.GetImageMessage(); image != nil {
		return strings.TrimSpace(image.GetCaption())
	}
	return ""
}

// isReplyToSelf reports whether the message quotes one of the bot's own
// messages. Quoted replies arrive as extended text with the original
// author in the context info.
func (w *WhatsAppChannel) isReplyToSelf(msg *waE2E.Message) bool {
	ext := msg.GetExtendedTextMessage()
	if ext == nil {
		return false
	}
	participant := ext.GetContextInfo().GetParticipant()
	if participant == "" {
		return false
	}
	if w.client == nil || w.client.Store == nil || w.client.Store.ID == nil {
		return false
	}
	self := w.client.Store.ID
	quoted, err := types.ParseJID(participant)
	if err != nil {
		return false
	}
	return quoted.ToNonAD().User == self.ToNonAD().User
}

func parseWhatsAppJID(raw string) (types.JID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return types.EmptyJID, fmt.Errorf("empty jid")
	}

	if strings.Contains(raw, "@") {
		return types.ParseJID(raw)
	}

	user := strings.TrimPrefix(raw, "+")
	if isDigitsOnly(user) {
		return types.NewJID(user, types.DefaultUserServer), nil
	}

	return types.ParseJID(raw)
}

func isDigitsOnly(val string) bool {
	if val == "" {
		return false
	}
	for _, r := range val {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
