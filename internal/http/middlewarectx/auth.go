// Package middlewarectx содержит middleware внутренних конечных точек:
// проверку сервисного токена и ограничение частоты запросов.
package middlewarectx

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/render"

	"github.com/magabrotheeeer/payment-pipeline/internal/http/response"
	"github.com/magabrotheeeer/payment-pipeline/internal/lib/jwt"
	"github.com/magabrotheeeer/payment-pipeline/internal/lib/sl"
)

type contextKey string

// ServiceKey ключ контекста с именем вызывающего сервиса.
const ServiceKey contextKey = "service"

// ServiceTokenMiddleware проверяет сервисный JWT в заголовке Authorization.
// Webhook провайдера этим middleware не защищается — он аутентифицируется
// подписью тела.
func ServiceTokenMiddleware(maker jwt.Maker, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			tokenStr, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok || tokenStr == "" {
				log.Warn("missing service token")
				w.WriteHeader(http.StatusUnauthorized)
				render.JSON(w, r, response.Error("unauthorized"))
				return
			}

			claims, err := maker.ParseToken(tokenStr)
			if err != nil {
				log.Warn("invalid service token", sl.Err(err))
				w.WriteHeader(http.StatusUnauthorized)
				render.JSON(w, r, response.Error("unauthorized"))
				return
			}

			ctx := context.WithValue(r.Context(), ServiceKey, claims.Service)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
