// Package bot hosts capture sessions in Telegram chats. Each chat holds at
// most one session.
package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/drfirst/medscan/internal/capture"
	"github.com/drfirst/medscan/internal/domain/medication"
	"github.com/drfirst/medscan/internal/domain/scan"
	"github.com/drfirst/medscan/internal/label"
)

// API is the part of the Telegram client the bot uses
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

// Fetcher downloads a file
type Fetcher func(ctx context.Context, url string) ([]byte, error)

// Bot routes Telegram updates to capture sessions
type Bot struct {
	api    API
	svc    *capture.Service
	fetch  Fetcher
	logger *zap.Logger
	now    func() time.Time
}

// New creates a bot. A nil fetch downloads over HTTP.
func New(api API, svc *capture.Service, fetch Fetcher, logger *zap.Logger) *Bot {
	if logger == nil {
		logger = zap.NewNop()
	}
	if fetch == nil {
		fetch = httpFetch
	}
	return &Bot{api: api, svc: svc, fetch: fetch, logger: logger, now: time.Now}
}

// Run handles updates until ctx is done or the channel closes. Chats are
// served concurrently.
func (b *Bot) Run(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	for {
		select {
		case <-ctx.Done():
			return
		case upd, ok := <-updates:
			if !ok {
				return
			}
			go b.Handle(ctx, upd)
		}
	}
}

// Handle processes one update
func (b *Bot) Handle(ctx context.Context, upd tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("panic handling update", zap.Any("error", r), zap.Int("update_id", upd.UpdateID))
		}
	}()

	switch {
	case upd.CallbackQuery != nil:
		b.handleCallback(ctx, upd.CallbackQuery)
	case upd.Message == nil:
	case upd.Message.IsCommand():
		b.handleCommand(ctx, upd.Message)
	case len(upd.Message.Photo) > 0:
		b.handlePhoto(ctx, upd.Message)
	case upd.Message.Document != nil && strings.HasPrefix(upd.Message.Document.MimeType, "image/"):
		b.handlePhoto(ctx, upd.Message)
	case upd.Message.Text != "":
		b.send(upd.Message.Chat.ID, helpText)
	}
}

func sessionKey(chatID int64) string {
	return "tg:" + strconv.FormatInt(chatID, 10)
}

// session returns the chat's live session, opening one when there is none
// or the previous one has finished
func (b *Bot) session(chatID int64) *scan.Session {
	return b.svc.Acquire(sessionKey(chatID), capture.OpenOptions{})
}

// existing returns the chat's session without opening one
func (b *Bot) existing(chatID int64) (*scan.Session, error) {
	sess, err := b.svc.Session(sessionKey(chatID))
	if err != nil {
		return nil, err
	}
	if sess.Mode().Terminal() {
		return nil, scan.ErrSessionClosed
	}
	return sess, nil
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cid := msg.Chat.ID
	args := strings.TrimSpace(msg.CommandArguments())
	b.logger.Debug("command", zap.Int64("chat_id", cid), zap.String("command", msg.Command()))

	switch msg.Command() {
	case "start", "help":
		b.send(cid, helpText)

	case "scan":
		sess := b.svc.OpenAs(sessionKey(cid), capture.OpenOptions{})
		if err := sess.ChooseMode(scan.ModeOCR); err != nil {
			b.fail(cid, err)
			return
		}
		b.send(cid, "Send a photo of the label. Add a caption of front, back or bottle to say which side it shows.")

	case "barcode":
		if args == "" {
			b.send(cid, "Usage: /barcode <code>")
			return
		}
		sess := b.session(cid)
		view, err := b.svc.Controller().Barcode(ctx, sess, args)
		b.reply(cid, view, err)

	case "search":
		if args == "" {
			b.send(cid, "Usage: /search <drug name>")
			return
		}
		sess := b.session(cid)
		view, err := b.svc.Controller().Search(ctx, sess, args)
		if err == nil && len(view.Candidates) > 0 {
			b.sendWithKeyboard(cid, fmt.Sprintf("Found %d matches. Pick one:", len(view.Candidates)), keyboard(view))
			return
		}
		b.reply(cid, view, err)

	case "patient":
		sess, err := b.existing(cid)
		if err == nil {
			err = sess.SetPatient(args)
		}
		if err != nil {
			b.fail(cid, err)
			return
		}
		if args == "" {
			b.send(cid, "Patient cleared.")
			return
		}
		b.send(cid, "Patient set to "+args+".")

	case "edit":
		name, value, _ := strings.Cut(args, " ")
		field, ok := medication.ParseField(name)
		if !ok {
			b.send(cid, "Usage: /edit <field> <value>. Fields: "+fieldList())
			return
		}
		sess, err := b.existing(cid)
		if err == nil {
			err = sess.Edit(map[medication.Field]string{field: value})
		}
		if err != nil {
			if errors.Is(err, scan.ErrInvalidTransition) || errors.Is(err, scan.ErrSessionClosed) || errors.Is(err, scan.ErrSessionNotFound) {
				b.fail(cid, err)
			} else {
				b.send(cid, "Could not set "+string(field)+": "+err.Error())
			}
			return
		}
		view := sess.View()
		b.sendWithKeyboard(cid, describe(view), keyboard(view))

	case "status":
		sess, err := b.existing(cid)
		if err != nil {
			b.fail(cid, err)
			return
		}
		view := sess.View()
		b.sendWithKeyboard(cid, describe(view), keyboard(view))

	case "retry":
		sess, err := b.existing(cid)
		if err == nil {
			err = sess.Retry()
		}
		if err != nil {
			b.fail(cid, err)
			return
		}
		b.send(cid, "Ready. Send a photo, /barcode <code> or /search <name>.")

	case "done":
		b.commit(ctx, cid)

	case "cancel":
		b.cancel(cid)

	default:
		b.send(cid, "Unknown command.\n\n"+helpText)
	}
}

func (b *Bot) handlePhoto(ctx context.Context, msg *tgbotapi.Message) {
	cid := msg.Chat.ID
	fileID, mimeType := "", "image/jpeg"
	if len(msg.Photo) > 0 {
		fileID = msg.Photo[len(msg.Photo)-1].FileID
	} else {
		fileID, mimeType = msg.Document.FileID, msg.Document.MimeType
	}

	url, err := b.api.GetFileDirectURL(fileID)
	if err != nil {
		b.logger.Warn("failed to resolve photo", zap.Int64("chat_id", cid), zap.Error(err))
		b.send(cid, "Could not download the photo. Please send it again.")
		return
	}
	image, err := b.fetch(ctx, url)
	if err != nil {
		b.logger.Warn("failed to download photo", zap.Int64("chat_id", cid), zap.Error(err))
		b.send(cid, "Could not download the photo. Please send it again.")
		return
	}

	sess := b.session(cid)
	b.send(cid, "Reading the label…")
	view, err := b.svc.Controller().Photo(ctx, sess, image, mimeType, label.ParseSide(msg.Caption))
	b.reply(cid, view, err)
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		b.logger.Debug("callback ack failed", zap.Error(err))
	}
	if cb.Message == nil || cb.Message.Chat == nil {
		return
	}
	cid := cb.Message.Chat.ID

	switch data := cb.Data; {
	case data == cbDone:
		b.commit(ctx, cid)

	case data == cbCancel:
		b.cancel(cid)

	case strings.HasPrefix(data, cbPick):
		i, err := strconv.Atoi(strings.TrimPrefix(data, cbPick))
		if err != nil {
			return
		}
		sess, err := b.existing(cid)
		if err != nil {
			b.fail(cid, err)
			return
		}
		view, err := b.svc.Controller().Pick(ctx, sess, i)
		b.reply(cid, view, err)

	case strings.HasPrefix(data, cbCondition):
		i, err := strconv.Atoi(strings.TrimPrefix(data, cbCondition))
		if err != nil {
			return
		}
		sess, err := b.existing(cid)
		if err != nil {
			b.fail(cid, err)
			return
		}
		view := sess.View()
		if i < 0 || i >= len(view.Suggestions) {
			b.send(cid, "That choice is no longer available.")
			return
		}
		if err := sess.SelectCondition(view.Suggestions[i].Condition); err != nil {
			b.fail(cid, err)
			return
		}
		view = sess.View()
		b.sendWithKeyboard(cid, describe(view), keyboard(view))
	}
}

func (b *Bot) commit(ctx context.Context, cid int64) {
	sess, err := b.existing(cid)
	if err != nil {
		b.fail(cid, err)
		return
	}
	rec, err := b.svc.Commit(ctx, sess)
	switch {
	case err != nil && rec.ID == "":
		b.fail(cid, err)
	case err != nil:
		b.logger.Error("record committed but not saved", zap.Int64("chat_id", cid), zap.String("record_id", rec.ID), zap.Error(err))
		b.send(cid, "Captured, but saving failed. Please try /done again later.\n\n"+describeCommitted(rec, b.now().UTC()))
	default:
		b.send(cid, describeCommitted(rec, b.now().UTC()))
	}
}

func (b *Bot) cancel(cid int64) {
	sess, err := b.existing(cid)
	if err == nil {
		err = b.svc.Cancel(sess)
	}
	if err != nil {
		b.fail(cid, err)
		return
	}
	b.send(cid, "Discarded.")
}

// reply reports the outcome of a capture call
func (b *Bot) reply(cid int64, view scan.View, err error) {
	if err != nil {
		text := userMessage(err)
		var ce *medication.CaptureError
		if errors.As(err, &ce) {
			text += "\nSend /retry to try again."
		}
		b.send(cid, text)
		return
	}
	b.sendWithKeyboard(cid, describe(view), keyboard(view))
}

func (b *Bot) fail(cid int64, err error) {
	b.send(cid, userMessage(err))
}

func (b *Bot) send(cid int64, text string) {
	b.sendWithKeyboard(cid, text, nil)
}

func (b *Bot) sendWithKeyboard(cid int64, text string, kb *tgbotapi.InlineKeyboardMarkup) {
	msg := tgbotapi.NewMessage(cid, text)
	if kb != nil {
		msg.ReplyMarkup = *kb
	}
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Warn("send failed", zap.Int64("chat_id", cid), zap.Error(err))
	}
}

func fieldList() string {
	names := make([]string, len(medication.Fields))
	for i, f := range medication.Fields {
		names[i] = string(f)
	}
	return strings.Join(names, ", ")
}

var httpClient = &http.Client{Timeout: 60 * time.Second}

func httpFetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download: status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 20<<20))
}
