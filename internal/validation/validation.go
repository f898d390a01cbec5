// Package validation содержит функции валидации входных данных.
package validation

import (
	"net/url"
	"unicode"
)

// IsValidDocumentURL проверяет, что ссылка на документ — абсолютный http(s)-URL.
// Сами файлы загружает внешний сервис, сюда попадает только выданный им адрес.
func IsValidDocumentURL(raw string) bool {
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return u.Host != ""
}

// IsValidPhone проверяет номер телефона: необязательный плюс и 7–15 цифр,
// пробелы и дефисы игнорируются.
func IsValidPhone(phone string) bool {
	digits := 0
	for i, ch := range phone {
		switch {
		case ch == '+':
			if i != 0 {
				return false
			}
		case ch == ' ' || ch == '-':
		case unicode.IsDigit(ch):
			digits++
		default:
			return false
		}
	}
	return digits >= 7 && digits <= 15
}

// IsValidEmail выполняет минимальную структурную проверку адреса почты.
func IsValidEmail(email string) bool {
	at := -1
	for i, ch := range email {
		if ch == '@' {
			if at != -1 {
				return false
			}
			at = i
		}
	}
	if at <= 0 || at == len(email)-1 {
		return false
	}
	dot := false
	for _, ch := range email[at+1:] {
		if ch == '.' {
			dot = true
		}
	}
	return dot
}
