// Package middleware содержит HTTP middleware сервиса studiomarket.
package middleware

import (
	"crypto/hmac"
	"net/http"
	"strings"
)

// AdminAuth проверяет сервисный токен администратора в заголовке Authorization.
type AdminAuth struct {
	token []byte
}

// NewAdminAuth создаёт middleware с указанным токеном. Пустой токен
// запрещает доступ ко всем административным маршрутам.
func NewAdminAuth(token string) *AdminAuth {
	return &AdminAuth{token: []byte(token)}
}

// Middleware пропускает запрос только с заголовком "Authorization: Bearer <token>".
// Сравнение токенов выполняется за постоянное время.
func (a *AdminAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(a.token) == 0 {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		header := r.Header.Get("Authorization")
		presented, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		if !hmac.Equal([]byte(presented), a.token) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}
