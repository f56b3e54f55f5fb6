package common

import (
	"context"
	"math/rand"
	"time"
)

// WaitWithCancellation ждёт случайное время из диапазона и прерывается при отмене контекста.
// Если верхняя граница меньше нижней, ждём ровно нижнюю.
func WaitWithCancellation(ctx context.Context, delayRange [2]time.Duration) error {
	delay := delayRange[0]
	if spread := delayRange[1] - delayRange[0]; spread > 0 {
		delay += time.Duration(rand.Int63n(int64(spread) + 1))
	}
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		// Возвращаем ошибку контекста, чтобы вызвать обработку прерывания выше по стеку.
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
