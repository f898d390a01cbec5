// Package ordernum генерирует внешние человекочитаемые номера заказов.
package ordernum

import (
	"strings"

	"github.com/jaevor/go-nanoid"
)

const (
	prefix = "SF-"
	length = 12
	// Алфавит без похожих символов (I, O, 0/O путаницы нет: цифры оставлены,
	// убраны I и O), чтобы номер удобно диктовать по телефону.
	alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZ"
)

// Generator выдаёт уникальные номера заказов для внешнего использования.
// Внутренний идентификатор заказа остаётся числовым и наружу не показывается.
type Generator struct {
	gen func() string
}

// New создаёт генератор номеров заказов.
func New() (*Generator, error) {
	gen, err := nanoid.CustomASCII(alphabet, length)
	if err != nil {
		return nil, err
	}
	return &Generator{gen: gen}, nil
}

// Next возвращает следующий номер заказа.
func (g *Generator) Next() string {
	return prefix + g.gen()
}

// Valid проверяет, что строка по форме является номером заказа.
func Valid(number string) bool {
	if !strings.HasPrefix(number, prefix) {
		return false
	}
	body := number[len(prefix):]
	if len(body) != length {
		return false
	}
	for _, ch := range body {
		if !strings.ContainsRune(alphabet, ch) {
			return false
		}
	}
	return true
}
