// Package model содержит доменные сущности витрины магазина.
package model

import "time"

// OrderStatus описывает статус обработки заказа.
type OrderStatus string

const (
	OrderStatusPending       OrderStatus = "PENDING"
	OrderStatusConfirmed     OrderStatus = "CONFIRMED"
	OrderStatusProcessing    OrderStatus = "PROCESSING"
	OrderStatusShipped       OrderStatus = "SHIPPED"
	OrderStatusDelivered     OrderStatus = "DELIVERED"
	OrderStatusCancelled     OrderStatus = "CANCELLED"
	OrderStatusPaymentFailed OrderStatus = "PAYMENT_FAILED"
	OrderStatusRefunded      OrderStatus = "REFUNDED"
)

// PaymentStatus описывает статус оплаты заказа.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusPaid      PaymentStatus = "PAID"
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
	PaymentStatusCancelled PaymentStatus = "CANCELLED"
)

// PaymentMethod определяет способ оплаты заказа.
type PaymentMethod string

const (
	// PaymentMethodCash — оплата наличными при получении.
	PaymentMethodCash PaymentMethod = "CASH"
	// PaymentMethodCard — оплата картой через платёжный шлюз.
	PaymentMethodCard PaymentMethod = "CARD"
	// PaymentMethodHisseli — рассрочка с ручным одобрением заявки, шлюз не участвует.
	PaymentMethodHisseli PaymentMethod = "HISSELI"
	// PaymentMethodTaksit — банковская рассрочка, проводится через шлюз.
	PaymentMethodTaksit PaymentMethod = "TAKSIT"
)

// Valid сообщает, является ли значение известным способом оплаты.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCash, PaymentMethodCard, PaymentMethodHisseli, PaymentMethodTaksit:
		return true
	}
	return false
}

// GuestContact — контактные данные покупателя без учётной записи.
type GuestContact struct {
	Name  string
	Email string
	Phone string
}

// OrderItem — позиция заказа с ценой, зафиксированной в момент оформления.
type OrderItem struct {
	ID             int64
	ProductID      string
	VariantID      *string
	Quantity       int
	UnitPriceCents int64
}

// Order описывает заказ покупателя. Суммы фиксируются при создании заказа
// и далее никогда не пересчитываются по текущему состоянию корзины.
type Order struct {
	ID                int64
	Number            string
	CustomerID        *int64
	Guest             *GuestContact
	Items             []OrderItem
	ShippingAddressID int64
	BillingAddressID  int64
	PaymentMethod     PaymentMethod
	Status            OrderStatus
	PaymentStatus     PaymentStatus
	SubtotalCents     int64
	ShippingCents     int64
	TotalCents        int64
	TaksitTerm        *int
	CustomerNote      string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// PaymentSession — платёжная сессия шлюза, привязанная к заказу.
// У заказа в любой момент не больше одной активной (не terminal и не superseded) сессии.
type PaymentSession struct {
	ID            int64
	OrderID       int64
	TransactionID string
	AmountCents   int64
	Currency      string
	Description   string
	PaymentURL    string
	Mock          bool
	Terminal      bool
	Superseded    bool
	CreatedAt     time.Time
}

// FamilyMember — контакт члена семьи заявителя на рассрочку.
type FamilyMember struct {
	Name         string
	Relationship string
	Phone        string
}

// InstallmentApplication — заявка на рассрочку, один к одному с заказом HISSELI.
// Требуются ровно три контакта членов семьи, поэтому массив фиксированного размера.
type InstallmentApplication struct {
	OrderID             int64
	FirstName           string
	LastName            string
	FatherName          string
	DocumentFrontURL    string
	DocumentBackURL     string
	RegistrationAddress string
	ResidenceAddress    string
	Phone               string
	Family              [3]FamilyMember
	EmployerName        string
	JobTitle            string
	IncomeCents         int64
	CreatedAt           time.Time
}

// Address — адрес доставки или выставления счёта.
type Address struct {
	ID     int64
	Name   string
	Phone  string
	City   string
	Street string
}
