package bot

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/clientops/replywatch/internal/classifier"
	"github.com/clientops/replywatch/internal/escalation"
	"github.com/clientops/replywatch/internal/models"
	"github.com/clientops/replywatch/internal/storage"
)

const contextLimit = 5

// Bot is the inbound Telegram adapter: it logs every group message into the
// ledger, captures conversation ownership when a responsible human posts,
// and hands client messages that need a reply to the escalation engine.
type Bot struct {
	api            *tgbotapi.BotAPI
	ledger         storage.Ledger
	owners         storage.Owners
	commitments    storage.Commitments
	classifier     classifier.Classifier
	extractor      classifier.CommitmentExtractor
	engine         *escalation.Engine
	responsibleIDs map[int64]bool
	ownerID        int64
	logger         *zap.Logger
}

func New(
	api *tgbotapi.BotAPI,
	ledger storage.Ledger,
	owners storage.Owners,
	commitments storage.Commitments,
	clf classifier.Classifier,
	extractor classifier.CommitmentExtractor,
	engine *escalation.Engine,
	responsibleIDs []int64,
	ownerID int64,
	logger *zap.Logger,
) *Bot {
	responsible := make(map[int64]bool, len(responsibleIDs)+1)
	responsible[ownerID] = true
	for _, id := range responsibleIDs {
		responsible[id] = true
	}

	return &Bot{
		api:            api,
		ledger:         ledger,
		owners:         owners,
		commitments:    commitments,
		classifier:     clf,
		extractor:      extractor,
		engine:         engine,
		responsibleIDs: responsible,
		ownerID:        ownerID,
		logger:         logger,
	}
}

func (b *Bot) Start() error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for update := range updates {
		if update.Message == nil {
			continue
		}

		go b.handleMessage(update.Message)
	}

	return nil
}

func (b *Bot) handleMessage(message *tgbotapi.Message) {
	ctx := context.Background()

	// Group chats only; the command surface and private chats are not part
	// of the watcher.
	if message.Chat.IsPrivate() || message.IsCommand() {
		return
	}

	text := strings.TrimSpace(message.Text)
	if text == "" {
		return
	}

	isResponsible := b.responsibleIDs[message.From.ID]

	msg := &models.LoggedMessage{
		ConversationID:   strconv.FormatInt(message.Chat.ID, 10),
		ConversationName: chatTitle(message),
		SequenceID:       int64(message.MessageID),
		AuthorID:         message.From.ID,
		AuthorName:       fullName(message.From),
		AuthorKind:       models.AuthorOther,
		Text:             text,
		SentAt:           message.Time().UTC(),
	}
	if isResponsible {
		msg.AuthorKind = models.AuthorResponsible
	}

	outcome, err := b.ledger.LogMessage(ctx, msg)
	if err != nil {
		b.logger.Error("Failed to log message",
			zap.Error(err),
			zap.String("conversation_id", msg.ConversationID),
			zap.Int64("sequence_id", msg.SequenceID))
		return
	}
	if outcome == storage.AlreadyExists {
		return
	}

	if isResponsible {
		b.captureOwner(ctx, msg, message.From.ID)
		b.captureCommitment(ctx, msg)
		return
	}

	b.classifyAndSchedule(ctx, msg)
}

// captureOwner claims an unowned chat for the responsible human who posted.
// An already-owned chat is never reassigned this way, and the super-owner is
// only assigned explicitly.
func (b *Bot) captureOwner(ctx context.Context, msg *models.LoggedMessage, authorID int64) {
	if authorID == b.ownerID {
		return
	}

	_, err := b.owners.Get(ctx, msg.ConversationID)
	if err == nil {
		return
	}
	if !errors.Is(err, storage.ErrNotFound) {
		b.logger.Error("Failed to look up chat owner",
			zap.Error(err),
			zap.String("conversation_id", msg.ConversationID))
		return
	}

	owner := &models.ChatOwner{
		ConversationID:   msg.ConversationID,
		ConversationName: msg.ConversationName,
		ResponsibleID:    authorID,
		ResponsibleName:  msg.AuthorName,
		AssignedAt:       time.Now().UTC(),
	}
	if err := b.owners.Upsert(ctx, owner); err != nil {
		b.logger.Error("Failed to capture chat owner",
			zap.Error(err),
			zap.String("conversation_id", msg.ConversationID))
	}
}

// captureCommitment checks a responsible message for a promise and stores a
// reminder for the periodic sweep. Extraction failures are logged only.
func (b *Bot) captureCommitment(ctx context.Context, msg *models.LoggedMessage) {
	convContext := escalation.ConversationContext(ctx, b.ledger, msg.ConversationID, msg.SequenceID, contextLimit)

	draft, err := b.extractor.ExtractCommitment(ctx, msg.Text, convContext)
	if err != nil {
		b.logger.Error("Failed to extract commitment",
			zap.Error(err),
			zap.String("message_id", msg.ID))
		return
	}
	if draft == nil {
		return
	}

	c := &models.Commitment{
		ConversationID:   msg.ConversationID,
		ConversationName: msg.ConversationName,
		ResponsibleID:    msg.AuthorID,
		Text:             draft.Text,
		Context:          msg.Text,
		SourceSequenceID: msg.SequenceID,
		RemindAt:         time.Now().UTC().Add(time.Duration(draft.RemindInHours) * time.Hour),
	}
	if err := b.commitments.CreateCommitment(ctx, c); err != nil {
		b.logger.Error("Failed to store commitment",
			zap.Error(err),
			zap.String("message_id", msg.ID))
		return
	}
	b.logger.Info("Commitment reminder created",
		zap.String("commitment_id", c.ID),
		zap.Time("remind_at", c.RemindAt))
}

// classifyAndSchedule runs the needs-reply classification on a client
// message and either closes it as ignored or starts the reminder ladder.
// A classifier failure leaves the message logged and unclassified: no
// terminal status, no check ever scheduled.
func (b *Bot) classifyAndSchedule(ctx context.Context, msg *models.LoggedMessage) {
	convContext := escalation.ConversationContext(ctx, b.ledger, msg.ConversationID, msg.SequenceID, contextLimit)

	needsReply, err := b.classifier.NeedsReply(ctx, msg.Text, convContext)
	if err != nil {
		b.logger.Error("Failed to classify message, leaving it logged",
			zap.Error(err),
			zap.String("message_id", msg.ID))
		return
	}

	if !needsReply {
		if err := b.ledger.MarkIgnored(ctx, msg.ID); err != nil {
			b.logger.Error("Failed to mark message ignored",
				zap.Error(err),
				zap.String("message_id", msg.ID))
		}
		return
	}

	msg.NeedsReply = &needsReply

	if err := b.engine.ScheduleFirstCheck(ctx, msg); err != nil {
		b.logger.Error("Failed to schedule first check",
			zap.Error(err),
			zap.String("message_id", msg.ID))
	}
}

func chatTitle(message *tgbotapi.Message) string {
	if message.Chat.Title != "" {
		return message.Chat.Title
	}
	return "Unknown"
}

func fullName(user *tgbotapi.User) string {
	name := user.FirstName
	if user.LastName != "" {
		name += " " + user.LastName
	}
	if name == "" {
		name = user.UserName
	}
	return name
}
