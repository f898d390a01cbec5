// Package middleware содержит HTTP middleware сервиса витрины.
package middleware

import (
	"crypto/hmac"
	"net/http"
)

const staffTokenHeader = "X-Staff-Token"

// StaffAuth закрывает служебные операции статическим токеном персонала.
// Сравнение через hmac.Equal, чтобы не зависеть от времени сравнения строк.
type StaffAuth struct {
	token []byte
}

// NewStaffAuth создаёт middleware проверки токена персонала.
func NewStaffAuth(token string) *StaffAuth {
	return &StaffAuth{token: []byte(token)}
}

// Middleware отклоняет запрос без действующего токена персонала.
// Пустой сконфигурированный токен закрывает служебные операции полностью.
func (a *StaffAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get(staffTokenHeader)

		if len(a.token) == 0 || got == "" || !hmac.Equal([]byte(got), a.token) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}
