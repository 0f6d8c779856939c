// Package signature проверяет подпись тела webhook-запроса от платежного
// провайдера. Подпись считается как HMAC-SHA256 от сырого тела запроса
// на общем секрете, в заголовке допускается base64 или hex кодировка.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
)

// Verify сравнивает подпись из заголовка с ожидаемой. Сравнение выполняется
// за константное время. Пустой секрет, пустой заголовок или некорректная
// кодировка подписи всегда дают false.
func Verify(body []byte, signatureHeader, secret string) bool {
	if secret == "" || signatureHeader == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := mac.Sum(nil)

	if decoded, err := base64.StdEncoding.DecodeString(signatureHeader); err == nil {
		if hmac.Equal(expected, decoded) {
			return true
		}
	}
	if decoded, err := hex.DecodeString(signatureHeader); err == nil {
		if hmac.Equal(expected, decoded) {
			return true
		}
	}
	return false
}

// Sign возвращает base64-подпись для тела запроса. Используется
// тестами и заглушками провайдера.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
