// Package telegram собирает сообщения и фотографии публичных каналов через MTProto (gotd/td).
package telegram

import (
	"database/sql"
	"fmt"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/dcs"
	"go.uber.org/zap"
	"golang.org/x/net/proxy"

	"ethmed_go/models"
)

// Credentials — данные приложения и аккаунта, от имени которого читаются каналы.
type Credentials struct {
	APIID    int
	APIHash  string
	Phone    string
	Password string // пароль 2FA, если включён
}

// NewClient создаёт клиент Telegram с хранилищем сессии в БД и, при необходимости, SOCKS5-прокси.
// Без БД сессия живёт только в памяти.
func NewClient(creds Credentials, p *models.Proxy, db *sql.DB, logger *zap.Logger) (*telegram.Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var storage session.Storage = &session.StorageMemory{}
	if db != nil {
		storage = &DBSessionStorage{DB: db, Phone: creds.Phone, Log: logger}
	}

	opts := telegram.Options{SessionStorage: storage}
	if p != nil && p.IP != "" {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		var auth *proxy.Auth
		if p.Login != "" || p.Password != "" {
			auth = &proxy.Auth{User: p.Login, Password: p.Password}
		}
		d, err := proxy.SOCKS5("tcp", p.Addr(), auth, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("proxy dialer: %w", err)
		}
		dc, ok := d.(proxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("proxy dialer missing context")
		}
		opts.Resolver = dcs.Plain(dcs.PlainOptions{Dial: dc.DialContext})
		logger.Info("[PROXY] подключение через прокси", zap.String("phone", creds.Phone), zap.String("addr", p.Addr()))
	}
	return telegram.NewClient(creds.APIID, creds.APIHash, opts), nil
}
