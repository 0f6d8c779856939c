// Package jwt реализует генерацию и парсинг сервисных JWT токенов.
//
// Токенами подписываются вызовы внутренних конечных точек конвейера
// (verify, sweep, orders); это не пользовательская аутентификация.
package jwt

import (
	"time"
)

// Maker описывает интерфейс для генерации и парсинга сервисных токенов.
type Maker interface {
	GenerateToken(service string) (string, error)
	ParseToken(tokenStr string) (*ServiceClaims, error)
}

// MakerImpl реализует интерфейс Maker с использованием секретного ключа
// и времени жизни токена (TTL).
type MakerImpl struct {
	secretKey string        // Секретный ключ для подписи токенов.
	tokenTTL  time.Duration // Время жизни токена.
}

// NewMaker создаёт новый экземпляр MakerImpl на основе секретного ключа и TTL.
func NewMaker(secretKey string, ttl time.Duration) *MakerImpl {
	return &MakerImpl{
		secretKey: secretKey,
		tokenTTL:  ttl,
	}
}
