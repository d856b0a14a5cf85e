package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"relaybot/pkg/bus"
	"relaybot/pkg/channel"
	"relaybot/pkg/config"
	"relaybot/pkg/conversation"
	"relaybot/pkg/event"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

const channelName = "telegram"
const messagePreviewLimit = 240

// api is the subset of the Telegram Bot API the adapter uses.
type api interface {
	GetMe(ctx context.Context) (*telego.User, error)
	UpdatesViaLongPolling(ctx context.Context, params *telego.GetUpdatesParams, options ...telego.LongPollingOption) (<-chan telego.Update, error)
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
	SendPhoto(ctx context.Context, params *telego.SendPhotoParams) (*telego.Message, error)
	GetChat(ctx context.Context, params *telego.GetChatParams) (*telego.ChatFullInfo, error)
	GetFile(ctx context.Context, params *telego.GetFileParams) (*telego.File, error)
	FileDownloadURL(filepath string) string
}

// Adapter bridges Telegram updates into raw bot notifications.
type Adapter struct {
	cfg       config.TelegramConfig
	allowFrom map[string]struct{}
	log       *slog.Logger
	newAPI    func(token string) (api, error)

	mu   sync.RWMutex
	bot  api
	self event.User
	sink channel.Sink
}

// NewAdapter validates Telegram configuration and constructs an adapter instance.
func NewAdapter(cfg config.TelegramConfig, log *slog.Logger) (*Adapter, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("channels.telegram.token is required")
	}

	if log == nil {
		log = slog.Default()
	}

	return &Adapter{
		cfg:       cfg,
		allowFrom: allowFromSet(cfg.AllowFrom),
		log:       log.With("component", "channel.telegram"),
		newAPI: func(token string) (api, error) {
			return telego.NewBot(token)
		},
	}, nil
}

// Name returns the channel identifier used in bus metadata and logs.
func (a *Adapter) Name() string {
	return channelName
}

func (a *Adapter) Self() string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.self.ID
}

// Run starts Telegram long polling and forwards updates into sink until ctx
// is cancelled.
func (a *Adapter) Run(ctx context.Context, sink channel.Sink) error {
	if sink == nil {
		return errors.New("sink is required")
	}

	bot, err := a.newAPI(strings.TrimSpace(a.cfg.Token))
	if err != nil {
		return fmt.Errorf("initialize telegram bot: %w", err)
	}

	me, err := bot.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("get bot identity: %w", err)
	}

	a.mu.Lock()
	a.bot = bot
	a.self = userFrom(me)
	a.sink = sink
	a.mu.Unlock()

	updates, err := bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		return fmt.Errorf("start long polling: %w", err)
	}

	a.log.Info("Telegram channel started", "self", a.Self())

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				if err := ctx.Err(); err != nil {
					return nil
				}
				return errors.New("telegram updates channel closed")
			}

			message := update.Message
			if message == nil {
				continue
			}
			if message.From == nil {
				a.log.Debug("Ignoring message without sender")
				continue
			}

			senderID := strconv.FormatInt(message.From.ID, 10)
			if !a.senderAllowed(senderID) {
				a.log.Debug("Ignoring message from unauthorized sender", "sender_id", senderID)
				continue
			}

			raw, ok := rawFromMessage(message)
			if !ok {
				continue
			}
			raw.Attachments = a.photoURLs(ctx, bot, message)
			raw.Detail = map[string]string{"update_id": strconv.Itoa(update.UpdateID)}

			a.log.Info("Received notification", "conversation_id", raw.ConversationID, "sender_id", senderID, "kind", raw.Kind.String(), "content", previewText(raw.Text))
			if !sink(ctx, raw) {
				a.log.Warn("Dropped notification", "conversation_id", raw.ConversationID)
			}
		}
	}
}

// Send delivers msg and feeds the delivered message back into the sink with
// the outbound annotations attached.
func (a *Adapter) Send(ctx context.Context, msg bus.OutboundMessage) error {
	a.mu.RLock()
	bot, self, sink := a.bot, a.self, a.sink
	a.mu.RUnlock()
	if bot == nil {
		return errors.New("telegram channel is not running")
	}

	chatID, err := strconv.ParseInt(strings.TrimSpace(msg.ChatID), 10, 64)
	if err != nil {
		return fmt.Errorf("parse telegram chat id %q: %w", msg.ChatID, err)
	}

	a.log.Info("Sending message", "chat_id", chatID, "content", previewText(msg.Content), "image", msg.Image != "")

	var sent *telego.Message
	if msg.Image != "" {
		sent, err = a.sendPhoto(ctx, bot, chatID, msg)
	} else {
		sent, err = bot.SendMessage(ctx, tu.Message(tu.ID(chatID), msg.Content))
	}
	if err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}

	if sink == nil {
		return nil
	}

	echo := channel.Echo(msg, self, a.photoURLs(ctx, bot, sent)...)
	if sent != nil {
		echo.ID = fmt.Sprintf("%d:%d", chatID, sent.MessageID)
		echo.At = time.Unix(sent.Date, 0).UTC()
	}
	if !sink(ctx, echo) {
		a.log.Warn("Dropped self echo", "conversation_id", echo.ConversationID)
	}

	return nil
}

func (a *Adapter) sendPhoto(ctx context.Context, bot api, chatID int64, msg bus.OutboundMessage) (*telego.Message, error) {
	var photo telego.InputFile
	if strings.HasPrefix(msg.Image, "http://") || strings.HasPrefix(msg.Image, "https://") {
		photo = tu.FileFromURL(msg.Image)
	} else {
		file, err := os.Open(msg.Image)
		if err != nil {
			return nil, fmt.Errorf("open image: %w", err)
		}
		defer file.Close()
		photo = tu.File(file)
	}

	params := tu.Photo(tu.ID(chatID), photo)
	if msg.Content != "" {
		params = params.WithCaption(msg.Content)
	}

	return bot.SendPhoto(ctx, params)
}

// Conversation fetches chat metadata for a channel-qualified id.
func (a *Adapter) Conversation(ctx context.Context, id string) (conversation.Info, error) {
	a.mu.RLock()
	bot := a.bot
	a.mu.RUnlock()
	if bot == nil {
		return conversation.Info{}, errors.New("telegram channel is not running")
	}

	_, rawChatID, ok := event.SplitConversation(id)
	if !ok {
		return conversation.Info{}, fmt.Errorf("malformed conversation id %q", id)
	}
	chatID, err := strconv.ParseInt(rawChatID, 10, 64)
	if err != nil {
		return conversation.Info{}, fmt.Errorf("parse telegram chat id %q: %w", rawChatID, err)
	}

	chat, err := bot.GetChat(ctx, &telego.GetChatParams{ChatID: tu.ID(chatID)})
	if err != nil {
		return conversation.Info{}, fmt.Errorf("get telegram chat: %w", err)
	}

	return infoFromChat(id, chat), nil
}

// photoURLs resolves the largest photo size of message to a download URL.
func (a *Adapter) photoURLs(ctx context.Context, bot api, message *telego.Message) []string {
	if message == nil || len(message.Photo) == 0 {
		return nil
	}

	largest := message.Photo[len(message.Photo)-1]
	file, err := bot.GetFile(ctx, &telego.GetFileParams{FileID: largest.FileID})
	if err != nil {
		a.log.Debug("Failed to resolve photo", "file_id", largest.FileID, "error", err)
		return nil
	}

	return []string{bot.FileDownloadURL(file.FilePath)}
}

// rawFromMessage maps one Telegram message onto a notification kind.
func rawFromMessage(message *telego.Message) (event.Raw, bool) {
	raw := event.Raw{
		ID:             fmt.Sprintf("%d:%d", message.Chat.ID, message.MessageID),
		Channel:        channelName,
		ConversationID: conversationKey(strconv.FormatInt(message.Chat.ID, 10)),
		At:             time.Unix(message.Date, 0).UTC(),
	}
	if message.From != nil {
		raw.Sender = userFrom(message.From)
	}

	switch {
	case len(message.NewChatMembers) > 0:
		raw.Kind = event.KindMembership
		raw.Detail = map[string]string{"type": "join", "participants": joinUserIDs(message.NewChatMembers)}
	case message.LeftChatMember != nil:
		raw.Kind = event.KindMembership
		raw.Detail = map[string]string{"type": "leave", "participants": strconv.FormatInt(message.LeftChatMember.ID, 10)}
	case message.NewChatTitle != "":
		raw.Kind = event.KindRename
		raw.Text = message.NewChatTitle
	default:
		text := strings.TrimSpace(message.Text)
		if text == "" {
			text = strings.TrimSpace(message.Caption)
		}
		if text == "" && len(message.Photo) == 0 {
			return event.Raw{}, false
		}
		raw.Kind = event.KindChatMessage
		raw.Text = text
	}

	return raw, true
}

func infoFromChat(id string, chat *telego.ChatFullInfo) conversation.Info {
	info := conversation.Info{
		ID:        id,
		Title:     chat.Title,
		Type:      conversation.TypeGroup,
		History:   true,
		UpdatedAt: time.Now().UTC(),
	}
	if chat.Type == telego.ChatTypePrivate {
		info.Type = conversation.TypeOneToOne
		info.Title = strings.TrimSpace(chat.FirstName + " " + chat.LastName)
		info.Participants = []string{strconv.FormatInt(chat.ID, 10)}
	}

	return info
}

func userFrom(user *telego.User) event.User {
	return event.User{
		ID:       strconv.FormatInt(user.ID, 10),
		FullName: strings.TrimSpace(user.FirstName + " " + user.LastName),
		Username: user.Username,
	}
}

func joinUserIDs(users []telego.User) string {
	ids := make([]string, 0, len(users))
	for _, user := range users {
		ids = append(ids, strconv.FormatInt(user.ID, 10))
	}

	return strings.Join(ids, ",")
}

// senderAllowed checks whether a sender is permitted by allow_from config.
//
// When no allow list is configured, all senders are accepted.
func (a *Adapter) senderAllowed(senderID string) bool {
	if len(a.allowFrom) == 0 {
		return true
	}

	_, ok := a.allowFrom[strings.TrimSpace(senderID)]
	return ok
}

// conversationKey maps one Telegram chat to a bot conversation id.
func conversationKey(chatID string) string {
	return event.ConversationKey(channelName, strings.TrimSpace(chatID))
}

// allowFromSet normalizes allow_from values into a lookup set.
func allowFromSet(allowFrom []string) map[string]struct{} {
	if len(allowFrom) == 0 {
		return nil
	}

	allowed := make(map[string]struct{}, len(allowFrom))
	for _, value := range allowFrom {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		allowed[trimmed] = struct{}{}
	}

	if len(allowed) == 0 {
		return nil
	}

	return allowed
}

// previewText returns a bounded log-safe preview of message text.
func previewText(text string) string {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) <= messagePreviewLimit {
		return trimmed
	}

	return trimmed[:messagePreviewLimit] + "..."
}
