// Package cart содержит разбор позиций корзины устаревшего формата.
package cart

import (
	"errors"
	"fmt"
)

// ErrUnknownLineID возвращается, когда ни один префикс составного
// идентификатора не соответствует существующему товару.
var ErrUnknownLineID = errors.New("cart line id does not match any product")

// SplitLineID разбирает составной идентификатор позиции вида
// <productID>-<variantID>, который присылают устаревшие клиенты.
// Границы дефисов перебираются слева направо; выигрывает первый префикс,
// являющийся существующим товаром, остаток после дефиса считается вариантом.
// Так товары с дефисами в идентификаторе разбираются без угадывания.
// Идентификатор без совпавшего префикса проверяется целиком как товар без
// варианта; иначе возвращается ErrUnknownLineID.
func SplitLineID(id string, productExists func(string) bool) (productID, variantID string, err error) {
	for i := 0; i < len(id); i++ {
		if id[i] != '-' {
			continue
		}
		prefix, rest := id[:i], id[i+1:]
		if prefix == "" || rest == "" {
			continue
		}
		if productExists(prefix) {
			return prefix, rest, nil
		}
	}

	if id != "" && productExists(id) {
		return id, "", nil
	}

	return "", "", fmt.Errorf("%w: %q", ErrUnknownLineID, id)
}
