package telegram

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"go.uber.org/zap"

	"ethmed_go/internal/common"
	"ethmed_go/models"
)

const maxPageSize = 100

// API — вызовы Telegram, которые нужны скрейперу.
type API interface {
	ResolveChannel(ctx context.Context, username string) (*tg.Channel, error)
	History(ctx context.Context, ch *tg.Channel, offsetID, limit int) ([]*tg.Message, error)
	DownloadPhoto(ctx context.Context, photo *tg.Photo, path string) error
}

// Session открывает соединение и выполняет f, пока оно живо.
type Session func(ctx context.Context, f func(ctx context.Context, api API) error) error

// ClientSession оборачивает клиент gotd: проверяет авторизацию и отдаёт API поверх tg.Client.
func ClientSession(client *telegram.Client) Session {
	return func(ctx context.Context, f func(ctx context.Context, api API) error) error {
		return client.Run(ctx, func(ctx context.Context) error {
			if err := ensureAuthorized(ctx, client); err != nil {
				return err
			}
			return f(ctx, &clientAPI{api: client.API(), dl: downloader.NewDownloader()})
		})
	}
}

// Scraper читает историю каналов и скачивает фотографии в каталог изображений.
type Scraper struct {
	Session   Session
	Channels  []string
	Limit     int // сообщений на канал
	PageSize  int
	ImagePath func(channel string, messageID int64) string
	Delay     [2]time.Duration
	Log       *zap.Logger
	Now       func() time.Time
}

// Scrape обходит все каналы. Ошибка одного канала не прерывает остальные;
// если не удалось прочитать ни один канал, возвращается ошибка.
func (s *Scraper) Scrape(ctx context.Context, beat func()) ([]models.RawMessage, error) {
	logger := s.logger()
	var out []models.RawMessage
	err := s.Session(ctx, func(ctx context.Context, api API) error {
		var errs []error
		for _, name := range s.Channels {
			msgs, err := s.scrapeChannel(ctx, api, name, beat)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				logger.Error("[SCRAPER] ошибка чтения канала", zap.String("channel", name), zap.Error(err))
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				continue
			}
			logger.Info("[SCRAPER] канал прочитан", zap.String("channel", name), zap.Int("messages", len(msgs)))
			out = append(out, msgs...)
		}
		if len(s.Channels) > 0 && len(errs) == len(s.Channels) {
			return errors.Join(errs...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Scraper) scrapeChannel(ctx context.Context, api API, name string, beat func()) ([]models.RawMessage, error) {
	username := ChannelUsername(name)
	ch, err := api.ResolveChannel(ctx, username)
	if err != nil {
		return nil, err
	}
	limit := s.Limit
	if limit <= 0 {
		limit = 1000
	}
	pageSize := s.PageSize
	if pageSize <= 0 || pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	var out []models.RawMessage
	offsetID := 0
	for len(out) < limit {
		page, err := s.page(ctx, api, ch, offsetID, min(pageSize, limit-len(out)))
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		for _, m := range page {
			raw := MessageToRaw(m, username, s.now())
			if photo := messagePhoto(m); photo != nil && s.ImagePath != nil {
				path := s.ImagePath(username, int64(m.ID))
				if err := api.DownloadPhoto(ctx, photo, path); err != nil {
					if ctx.Err() != nil {
						return nil, ctx.Err()
					}
					s.logger().Warn("[SCRAPER] не удалось скачать фото",
						zap.String("channel", username), zap.Int("message_id", m.ID), zap.Error(err))
				} else {
					raw.ImagePath = &path
				}
			}
			out = append(out, raw)
			offsetID = m.ID
		}
		if beat != nil {
			beat()
		}
		if err := common.WaitWithCancellation(ctx, s.Delay); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// page запрашивает страницу истории; FLOOD_WAIT пережидается и запрос повторяется.
func (s *Scraper) page(ctx context.Context, api API, ch *tg.Channel, offsetID, limit int) ([]*tg.Message, error) {
	for {
		msgs, err := api.History(ctx, ch, offsetID, limit)
		if err == nil {
			return msgs, nil
		}
		wait, ok := tgerr.AsFloodWait(err)
		if !ok {
			return nil, err
		}
		s.logger().Warn("[SCRAPER] FLOOD_WAIT, ждём", zap.Duration("wait", wait))
		if err := common.WaitWithCancellation(ctx, [2]time.Duration{wait, wait}); err != nil {
			return nil, err
		}
	}
}

func (s *Scraper) logger() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}

func (s *Scraper) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

// ChannelUsername извлекает username из ссылки вида https://t.me/<name> или @<name>.
func ChannelUsername(ref string) string {
	ref = strings.TrimSpace(ref)
	for _, prefix := range []string{"https://t.me/", "http://t.me/", "t.me/", "@"} {
		ref = strings.TrimPrefix(ref, prefix)
	}
	return strings.TrimSuffix(ref, "/")
}

// MessageToRaw переводит сообщение канала в сырую запись.
func MessageToRaw(m *tg.Message, channel string, scrapedAt time.Time) models.RawMessage {
	id := int64(m.ID)
	text := m.Message
	raw := models.RawMessage{
		MessageID:   &id,
		ChannelName: &channel,
		MessageDate: models.NewFlexTime(time.Unix(int64(m.Date), 0)),
		MessageText: &text,
		HasMedia:    m.Media != nil,
		ScrapedAt:   models.NewFlexTime(scrapedAt),
	}
	views, forwards := int64(0), int64(0)
	if v, ok := m.GetViews(); ok {
		views = int64(v)
	}
	if f, ok := m.GetForwards(); ok {
		forwards = int64(f)
	}
	raw.Views = &views
	raw.Forwards = &forwards
	return raw
}

func messagePhoto(m *tg.Message) *tg.Photo {
	media, ok := m.Media.(*tg.MessageMediaPhoto)
	if !ok {
		return nil
	}
	photo, ok := media.Photo.(*tg.Photo)
	if !ok {
		return nil
	}
	return photo
}

// clientAPI реализует API поверх tg.Client.
type clientAPI struct {
	api *tg.Client
	dl  *downloader.Downloader
}

func (c *clientAPI) ResolveChannel(ctx context.Context, username string) (*tg.Channel, error) {
	resolved, err := c.api.ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{Username: username})
	if err != nil {
		return nil, err
	}
	return FindChannel(resolved.GetChats())
}

func (c *clientAPI) History(ctx context.Context, ch *tg.Channel, offsetID, limit int) ([]*tg.Message, error) {
	history, err := c.api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
		Peer: &tg.InputPeerChannel{
			ChannelID:  ch.ID,
			AccessHash: ch.AccessHash,
		},
		OffsetID: offsetID,
		Limit:    limit,
	})
	if err != nil {
		return nil, err
	}
	return historyMessages(history)
}

func historyMessages(history tg.MessagesMessagesClass) ([]*tg.Message, error) {
	var raw []tg.MessageClass
	switch h := history.(type) {
	case *tg.MessagesChannelMessages:
		raw = h.Messages
	case *tg.MessagesMessagesSlice:
		raw = h.Messages
	case *tg.MessagesMessages:
		raw = h.Messages
	default:
		return nil, fmt.Errorf("unexpected messages type %T", history)
	}
	msgs := make([]*tg.Message, 0, len(raw))
	for _, m := range raw {
		// служебные сообщения (MessageService) и пустые пропускаем
		if v, ok := m.(*tg.Message); ok {
			msgs = append(msgs, v)
		}
	}
	return msgs, nil
}

func (c *clientAPI) DownloadPhoto(ctx context.Context, photo *tg.Photo, path string) error {
	// Выбираем последнюю доступную размерность фотографии
	var size string
	for _, s := range photo.Sizes {
		if v, ok := s.(interface{ GetType() string }); ok {
			size = v.GetType()
		}
	}
	if size == "" {
		return fmt.Errorf("photo %d has no sizes", photo.ID)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	loc := &tg.InputPhotoFileLocation{
		ID:            photo.ID,
		AccessHash:    photo.AccessHash,
		FileReference: photo.FileReference,
		ThumbSize:     size,
	}
	_, err := c.dl.Download(c.api, loc).ToPath(ctx, path)
	return err
}

// FindChannel находит вещательный канал в списке чатов; мегагруппы пропускаются.
func FindChannel(chats []tg.ChatClass) (*tg.Channel, error) {
	for _, peer := range chats {
		if ch, ok := peer.(*tg.Channel); ok {
			if ch.Megagroup {
				continue
			}
			if ch.Broadcast {
				return ch, nil
			}
		}
	}
	return nil, fmt.Errorf("broadcast channel not found")
}
