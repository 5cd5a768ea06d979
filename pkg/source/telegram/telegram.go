package telegram

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"syscall"
	"time"

	"tagbridge/pkg/config"
	"tagbridge/pkg/source"
	"tagbridge/pkg/update"

	"github.com/mymmrac/telego"
	"github.com/mymmrac/telego/telegoapi"
	"github.com/valyala/fasthttp"
)

const sourceName = "telegram"

// requestGrace bounds how long a long-poll request may outlive its server-side timeout
// before the connection is treated as hung.
const requestGrace = 15 * time.Second

var allowedUpdates = []string{"message"}

// updatesGetter is the part of *telego.Bot used for polling.
type updatesGetter interface {
	GetUpdates(ctx context.Context, params *telego.GetUpdatesParams) ([]telego.Update, error)
}

// Source fetches bot updates with explicit offsets so the poller owns the cursor.
type Source struct {
	bot updatesGetter
	log *slog.Logger
}

// NewSource validates Telegram configuration and constructs a bot client.
func NewSource(cfg config.TelegramConfig, log *slog.Logger) (*Source, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("telegram.token is required")
	}

	if log == nil {
		log = slog.Default()
	}

	bot, err := telego.NewBot(token)
	if err != nil {
		return nil, fmt.Errorf("initialize telegram bot: %w", err)
	}

	return newSource(bot, log), nil
}

func newSource(bot updatesGetter, log *slog.Logger) *Source {
	return &Source{
		bot: bot,
		log: log.With("component", "source.telegram"),
	}
}

// Name returns the source identifier used in logs and metrics.
func (s *Source) Name() string {
	return sourceName
}

// Fetch issues one getUpdates long poll starting at cursor.
func (s *Source) Fetch(ctx context.Context, cursor int, timeout time.Duration) ([]update.Update, error) {
	seconds := int(timeout / time.Second)
	if seconds < 0 {
		seconds = 0
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout+requestGrace)
	defer cancel()

	raw, err := s.bot.GetUpdates(reqCtx, &telego.GetUpdatesParams{
		Offset:         cursor,
		Timeout:        seconds,
		AllowedUpdates: allowedUpdates,
	})
	if err != nil {
		return nil, classify(err)
	}

	batch := make([]update.Update, 0, len(raw))
	for _, u := range raw {
		batch = append(batch, convertUpdate(u))
	}
	s.log.Debug("Fetched updates", "offset", cursor, "count", len(batch))

	return batch, nil
}

// classify splits getUpdates failures into soft transport errors and hard protocol
// errors. Errors that cannot be recognized as connectivity problems are hard.
func classify(err error) error {
	var apiErr *telegoapi.Error
	if errors.As(err, &apiErr) {
		return source.NewProtocolError(err)
	}
	if isTransportError(err) {
		return source.NewTransportError(err)
	}

	return source.NewProtocolError(err)
}

func isTransportError(err error) bool {
	for _, target := range []error{
		context.DeadlineExceeded,
		io.EOF,
		io.ErrUnexpectedEOF,
		syscall.ECONNREFUSED,
		syscall.ECONNRESET,
		syscall.EPIPE,
		fasthttp.ErrConnectionClosed,
		fasthttp.ErrDialTimeout,
		fasthttp.ErrNoFreeConns,
		fasthttp.ErrTimeout,
	} {
		if errors.Is(err, target) {
			return true
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var certErr *tls.CertificateVerificationError
	var recordErr tls.RecordHeaderError
	var authorityErr x509.UnknownAuthorityError
	var hostnameErr x509.HostnameError
	return errors.As(err, &certErr) ||
		errors.As(err, &recordErr) ||
		errors.As(err, &authorityErr) ||
		errors.As(err, &hostnameErr)
}

// convertUpdate maps a Telegram update onto the bridge model. Media messages carry
// their hashtags in the caption, which is used when the message has no text.
func convertUpdate(u telego.Update) update.Update {
	converted := update.Update{ID: u.UpdateID, Kind: update.KindOther}
	if u.Message == nil {
		return converted
	}

	text, entities := u.Message.Text, u.Message.Entities
	if text == "" {
		text, entities = u.Message.Caption, u.Message.CaptionEntities
	}

	msg := &update.Message{
		ChatID:   u.Message.Chat.ID,
		Text:     text,
		Entities: make([]update.Entity, 0, len(entities)),
	}
	for _, e := range entities {
		msg.Entities = append(msg.Entities, update.Entity{
			Kind:   update.EntityKind(e.Type),
			Offset: e.Offset,
			Length: e.Length,
		})
	}

	converted.Kind = update.KindMessage
	converted.Message = msg
	return converted
}
