// Package pricing вычисляет стоимость корзины: подытог, доставку и итог.
package pricing

// Line — одна позиция корзины для расчёта стоимости.
// При наличии акционной цены используется она.
type Line struct {
	UnitPriceCents int64
	SalePriceCents *int64
	Quantity       int
}

// Config — параметры доставки. Обновляются фоновым процессом и считаются
// согласованными лишь в конечном счёте, а не транзакционно с созданием заказа.
type Config struct {
	DeliveryCostCents          int64
	FreeDeliveryThresholdCents int64
}

// Quote — результат расчёта стоимости корзины.
type Quote struct {
	SubtotalCents int64
	ShippingCents int64
	TotalCents    int64
}

// EffectivePriceCents возвращает действующую цену позиции.
func (l Line) EffectivePriceCents() int64 {
	if l.SalePriceCents != nil {
		return *l.SalePriceCents
	}
	return l.UnitPriceCents
}

// Calculate считает стоимость корзины. Чистая функция без побочных эффектов:
// доставка бесплатна, когда подытог достигает порога.
func Calculate(lines []Line, cfg Config) Quote {
	var subtotal int64
	for _, l := range lines {
		subtotal += l.EffectivePriceCents() * int64(l.Quantity)
	}

	shipping := cfg.DeliveryCostCents
	if subtotal >= cfg.FreeDeliveryThresholdCents {
		shipping = 0
	}

	return Quote{
		SubtotalCents: subtotal,
		ShippingCents: shipping,
		TotalCents:    subtotal + shipping,
	}
}
