package telegram

import (
	"context"
	"errors"
	"fmt"

	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"go.uber.org/zap"
)

// ErrNotAuthorized — сессия отсутствует или отозвана; нужна команда login.
var ErrNotAuthorized = errors.New("telegram session is not authorized")

// CodePrompt возвращает код подтверждения, присланный Telegram.
type CodePrompt func(ctx context.Context) (string, error)

// Login проводит вход по коду, если сессия ещё не авторизована, и сохраняет её в хранилище клиента.
func Login(ctx context.Context, client *telegram.Client, creds Credentials, prompt CodePrompt, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	return client.Run(ctx, func(ctx context.Context) error {
		flow := auth.NewFlow(
			auth.Constant(creds.Phone, creds.Password, auth.CodeAuthenticatorFunc(func(ctx context.Context, sent *tg.AuthSentCode) (string, error) {
				logger.Info("[AUTH] код отправлен", zap.String("phone", creds.Phone))
				return prompt(ctx)
			})),
			auth.SendCodeOptions{},
		)
		if err := client.Auth().IfNecessary(ctx, flow); err != nil {
			logger.Error("[AUTH] ошибка авторизации", zap.Error(err))
			return fmt.Errorf("authorization error: %w", err)
		}
		logger.Info("[AUTH] авторизация прошла успешно", zap.String("phone", creds.Phone))
		return nil
	})
}

// ensureAuthorized не запускает интерактивный вход: в конвейере его некому завершить.
func ensureAuthorized(ctx context.Context, client *telegram.Client) error {
	status, err := client.Auth().Status(ctx)
	if err != nil {
		return fmt.Errorf("auth status: %w", err)
	}
	if !status.Authorized {
		return ErrNotAuthorized
	}
	return nil
}
