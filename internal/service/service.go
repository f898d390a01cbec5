// Package service реализует бизнес-логику оформления и оплаты заказов.
package service

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mmeshcher/storefront-system/internal/cart"
	"github.com/mmeshcher/storefront-system/internal/events"
	"github.com/mmeshcher/storefront-system/internal/gateway"
	"github.com/mmeshcher/storefront-system/internal/metrics"
	"github.com/mmeshcher/storefront-system/internal/model"
	"github.com/mmeshcher/storefront-system/internal/ordernum"
	"github.com/mmeshcher/storefront-system/internal/pricing"
	"github.com/mmeshcher/storefront-system/internal/repository"
	"github.com/mmeshcher/storefront-system/internal/status"
	"github.com/mmeshcher/storefront-system/internal/validation"
)

// Валюта магазина. Шлюз принимает суммы в её минорных единицах.
const currency = "AZN"

// settingsRefreshInterval — период обновления параметров доставки из БД.
const settingsRefreshInterval = 30 * time.Second

// allowedTaksitTerms — допустимые сроки банковской рассрочки в месяцах.
var allowedTaksitTerms = map[int]bool{3: true, 6: true, 9: true, 12: true}

// ErrUnknownGatewayStatus возвращается, когда шлюз прислал статус вне известного словаря.
var ErrUnknownGatewayStatus = errors.New("unknown gateway status")

// ErrNotInstallmentOrder возвращается при попытке приложить заявку к заказу без рассрочки HISSELI.
var ErrNotInstallmentOrder = errors.New("order payment method is not HISSELI")

// FieldError описывает ошибку валидации конкретного поля запроса.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError — набор ошибок валидации, возвращаемый клиенту с кодом 400.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	ProductExists(ctx context.Context, id string) (bool, error)
	GetDeliverySettings(ctx context.Context) (pricing.Config, error)
	CreateOrder(ctx context.Context, params repository.CreateOrderParams) (*model.Order, bool, error)
	GetOrderByNumber(ctx context.Context, number string) (*model.Order, error)
	UpdateOrderStatus(ctx context.Context, number string, newStatus *model.OrderStatus, newPayment *model.PaymentStatus) (*model.Order, error)
	SavePaymentSession(ctx context.Context, session model.PaymentSession) (*model.PaymentSession, error)
	GetLatestSession(ctx context.Context, orderID int64) (*model.PaymentSession, error)
	FallbackToCash(ctx context.Context, number string) (*model.Order, error)
	ReconcileOrder(ctx context.Context, number string, newPayment model.PaymentStatus) (*model.Order, bool, error)
	CreateInstallmentApplication(ctx context.Context, app model.InstallmentApplication) error
	GetInstallmentApplication(ctx context.Context, orderID int64) (*model.InstallmentApplication, error)
}

// Gateway описывает контракт платёжного шлюза, используемый сервисом.
type Gateway interface {
	CreateSession(ctx context.Context, req gateway.SessionRequest) (*gateway.Session, error)
	GetStatus(ctx context.Context, orderNumber string) (string, error)
}

// Service содержит бизнес-логику оформления и оплаты заказов.
type Service struct {
	repo      Repository
	gateway   Gateway
	publisher *events.Publisher
	metrics   *metrics.Metrics
	numbers   *ordernum.Generator

	mu       sync.RWMutex
	delivery pricing.Config
}

// NewService создаёт сервис. defaults задаёт параметры доставки до первого
// успешного чтения строки настроек из БД.
func NewService(repo Repository, gw Gateway, publisher *events.Publisher, m *metrics.Metrics, defaults pricing.Config) (*Service, error) {
	numbers, err := ordernum.New()
	if err != nil {
		return nil, fmt.Errorf("create order number generator: %w", err)
	}

	return &Service{
		repo:      repo,
		gateway:   gw,
		publisher: publisher,
		metrics:   m,
		numbers:   numbers,
		delivery:  defaults,
	}, nil
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// DeliveryConfig возвращает текущий снимок параметров доставки.
func (s *Service) DeliveryConfig() pricing.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.delivery
}

// StartSettingsUpdates запускает фоновое обновление параметров доставки.
// Снимок согласован лишь в конечном счёте: заказ, созданный между
// обновлениями, использует предыдущие значения, и это допустимо.
func (s *Service) StartSettingsUpdates(ctx context.Context) {
	s.refreshSettings(ctx)

	go func() {
		ticker := time.NewTicker(settingsRefreshInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.refreshSettings(ctx)
			}
		}
	}()
}

func (s *Service) refreshSettings(ctx context.Context) {
	cfg, err := s.repo.GetDeliverySettings(ctx)
	if err != nil {
		// Прежний снимок остаётся действующим до следующей попытки.
		return
	}

	s.mu.Lock()
	s.delivery = cfg
	s.mu.Unlock()
}

// CheckoutLineInput — позиция корзины из запроса на оформление.
// Либо структурная пара productId/variantId, либо составной идентификатор
// устаревшего формата в поле CompositeID.
type CheckoutLineInput struct {
	CompositeID string
	ProductID   string
	VariantID   *string
	Quantity    int
}

// CheckoutRequest — запрос на оформление заказа.
type CheckoutRequest struct {
	CustomerID    *int64
	Guest         *model.GuestContact
	Lines         []CheckoutLineInput
	AddressID     *int64
	Address       *model.Address
	PaymentMethod model.PaymentMethod
	TaksitTerm    *int
	Note          string
}

// CheckoutResult — результат оформления заказа.
type CheckoutResult struct {
	Order *model.Order
	// Coalesced выставляется, когда повторная отправка той же корзины
	// вернула уже созданный заказ.
	Coalesced bool
}

// CreateOrder проверяет запрос на оформление и атомарно создаёт заказ
// с позициями, возвращая сгенерированный номер.
func (s *Service) CreateOrder(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	lines, verr := s.validateCheckout(ctx, &req)
	if verr != nil {
		return nil, verr
	}

	params := repository.CreateOrderParams{
		Number:        s.numbers.Next(),
		CustomerID:    req.CustomerID,
		Guest:         req.Guest,
		Lines:         lines,
		AddressID:     req.AddressID,
		NewAddress:    req.Address,
		PaymentMethod: req.PaymentMethod,
		TaksitTerm:    req.TaksitTerm,
		CustomerNote:  req.Note,
		Fingerprint:   checkoutFingerprint(&req, lines),
	}

	cfg := s.DeliveryConfig()
	params.Quote = func(priceLines []pricing.Line) pricing.Quote {
		return pricing.Calculate(priceLines, cfg)
	}

	order, coalesced, err := s.repo.CreateOrder(ctx, params)
	if err != nil {
		return nil, err
	}

	if !coalesced {
		s.metrics.OrderCreated(string(order.PaymentMethod))
		s.publisher.Publish(ctx, orderEvent(events.TypeOrderCreated, order))
	}

	return &CheckoutResult{Order: order, Coalesced: coalesced}, nil
}

func (s *Service) validateCheckout(ctx context.Context, req *CheckoutRequest) ([]repository.CheckoutLine, error) {
	verr := &ValidationError{}

	if len(req.Lines) == 0 {
		verr.add("items", "cart is empty")
	}

	if !req.PaymentMethod.Valid() {
		verr.add("paymentMethod", "unknown payment method")
	}

	if req.PaymentMethod == model.PaymentMethodTaksit {
		if req.TaksitTerm == nil {
			verr.add("installmentTerm", "installment term is required for TAKSIT")
		} else if !allowedTaksitTerms[*req.TaksitTerm] {
			verr.add("installmentTerm", "installment term must be one of 3, 6, 9, 12")
		}
	} else {
		req.TaksitTerm = nil
	}

	if req.CustomerID == nil {
		switch {
		case req.Guest == nil:
			verr.add("customer", "customer reference or guest contact is required")
		default:
			if req.Guest.Name == "" {
				verr.add("customer.name", "name is required")
			}
			if !validation.IsValidEmail(req.Guest.Email) {
				verr.add("customer.email", "invalid email")
			}
			if !validation.IsValidPhone(req.Guest.Phone) {
				verr.add("customer.phone", "invalid phone number")
			}
		}
	}

	switch {
	case req.AddressID == nil && req.Address == nil:
		verr.add("address", "address reference or inline address is required")
	case req.Address != nil && req.Address.Name == "":
		verr.add("address.name", "name is required")
	}

	lines := make([]repository.CheckoutLine, 0, len(req.Lines))
	for i, in := range req.Lines {
		field := "items[" + strconv.Itoa(i) + "]"

		if in.Quantity <= 0 {
			verr.add(field+".quantity", "quantity must be positive")
		}

		line := repository.CheckoutLine{
			ProductID: in.ProductID,
			VariantID: in.VariantID,
			Quantity:  in.Quantity,
		}

		if in.CompositeID != "" {
			productID, variantID, err := s.splitCompositeID(ctx, in.CompositeID)
			if err != nil {
				if errors.Is(err, cart.ErrUnknownLineID) {
					verr.add(field+".id", "no product matches composite id")
					continue
				}
				return nil, err
			}
			line.ProductID = productID
			if variantID != "" {
				line.VariantID = &variantID
			}
		} else if in.ProductID == "" {
			verr.add(field+".productId", "product id is required")
		}

		lines = append(lines, line)
	}

	if err := verr.orNil(); err != nil {
		return nil, err
	}
	return lines, nil
}

// splitCompositeID разбирает составной идентификатор позиции,
// сверяя префиксы с существующими товарами.
func (s *Service) splitCompositeID(ctx context.Context, id string) (string, string, error) {
	var probeErr error
	exists := func(productID string) bool {
		ok, err := s.repo.ProductExists(ctx, productID)
		if err != nil {
			probeErr = err
			return false
		}
		return ok
	}

	productID, variantID, err := cart.SplitLineID(id, exists)
	if probeErr != nil {
		return "", "", probeErr
	}
	return productID, variantID, err
}

// checkoutFingerprint считает отпечаток отправки для защиты от дублей:
// тот же покупатель с той же корзиной и способом оплаты в пределах окна
// получает уже созданный заказ.
func checkoutFingerprint(req *CheckoutRequest, lines []repository.CheckoutLine) []byte {
	var b strings.Builder

	switch {
	case req.CustomerID != nil:
		b.WriteString("customer:" + strconv.FormatInt(*req.CustomerID, 10))
	case req.Guest != nil:
		b.WriteString("guest:" + req.Guest.Email + ":" + req.Guest.Phone)
	}
	b.WriteString("|" + string(req.PaymentMethod))

	keys := make([]string, 0, len(lines))
	for _, l := range lines {
		variant := ""
		if l.VariantID != nil {
			variant = *l.VariantID
		}
		keys = append(keys, l.ProductID+"/"+variant+"/"+strconv.Itoa(l.Quantity))
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString("|" + k)
	}

	sum := sha256.Sum256([]byte(b.String()))
	return sum[:]
}

// SessionParams — параметры создания платёжной сессии.
type SessionParams struct {
	OrderNumber   string
	Description   string
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
	Retry         bool
}

// SessionResult — результат создания платёжной сессии.
// При фолбэке на наличные Code содержит причину, а PaymentURL ведёт
// на страницу подтверждения заказа, а не на шлюз.
type SessionResult struct {
	PaymentURL     string
	Mock           bool
	Code           string
	FallbackMethod model.PaymentMethod
}

// CreatePaymentSession создаёт или пересоздаёт платёжную сессию заказа.
// Сумма всегда берётся из сохранённого заказа, а не из запроса: корзины
// на момент повтора может уже не существовать.
func (s *Service) CreatePaymentSession(ctx context.Context, p SessionParams) (*SessionResult, error) {
	order, err := s.repo.GetOrderByNumber(ctx, p.OrderNumber)
	if err != nil {
		return nil, err
	}

	if order.PaymentMethod != model.PaymentMethodCard && order.PaymentMethod != model.PaymentMethodTaksit {
		verr := &ValidationError{}
		verr.add("orderNumber", "order payment method does not use the gateway")
		return nil, verr
	}
	if status.TerminalPayment(order.PaymentStatus) {
		verr := &ValidationError{}
		verr.add("orderNumber", "order payment is already finalized")
		return nil, verr
	}

	amount := order.TotalCents
	description := p.Description
	if description == "" {
		description = "Order " + order.Number
	}

	if p.Retry {
		prev, err := s.repo.GetLatestSession(ctx, order.ID)
		switch {
		case err == nil:
			amount = prev.AmountCents
			description = prev.Description
		case errors.Is(err, repository.ErrSessionNotFound):
			// Повтор без прежней сессии равносилен первой попытке.
		default:
			return nil, err
		}
	}

	req := gateway.SessionRequest{
		OrderNumber:   order.Number,
		AmountCents:   amount,
		Currency:      currency,
		Description:   description,
		CustomerName:  p.CustomerName,
		CustomerEmail: p.CustomerEmail,
		CustomerPhone: p.CustomerPhone,
	}
	if req.CustomerName == "" && order.Guest != nil {
		req.CustomerName = order.Guest.Name
		req.CustomerEmail = order.Guest.Email
		req.CustomerPhone = order.Guest.Phone
	}
	if order.PaymentMethod == model.PaymentMethodTaksit && order.TaksitTerm != nil {
		req.InstallmentTerm = *order.TaksitTerm
	}

	sess, err := s.gateway.CreateSession(ctx, req)
	if err != nil {
		switch {
		case errors.Is(err, gateway.ErrConfigMissing):
			return s.fallbackToCash(ctx, order, "CONFIG_MISSING")
		case errors.Is(err, gateway.ErrAuthFailed):
			return s.fallbackToCash(ctx, order, "AUTH_FAILED")
		}
		return nil, err
	}

	_, err = s.repo.SavePaymentSession(ctx, model.PaymentSession{
		OrderID:       order.ID,
		TransactionID: sess.TransactionID,
		AmountCents:   amount,
		Currency:      currency,
		Description:   description,
		PaymentURL:    sess.PaymentURL,
		Mock:          sess.Mock,
	})
	if err != nil {
		// Оплата успела завершиться, пока создавалась сессия на стороне
		// шлюза. Для клиента это тот же финализированный заказ.
		if errors.Is(err, repository.ErrPaymentFinalized) {
			verr := &ValidationError{}
			verr.add("orderNumber", "order payment is already finalized")
			return nil, verr
		}
		return nil, err
	}

	mode := "live"
	if sess.Mock {
		mode = "mock"
	}
	s.metrics.SessionCreated(mode)

	return &SessionResult{PaymentURL: sess.PaymentURL, Mock: sess.Mock}, nil
}

// fallbackToCash переводит заказ на оплату наличными, когда шлюз недоступен
// по вине конфигурации. Покупатель всё равно попадает на страницу
// подтверждения: созданный заказ важнее изначального способа оплаты.
func (s *Service) fallbackToCash(ctx context.Context, order *model.Order, code string) (*SessionResult, error) {
	updated, err := s.repo.FallbackToCash(ctx, order.Number)
	if err != nil {
		return nil, err
	}

	s.metrics.PaymentFallback(strings.ToLower(code))
	s.publisher.Publish(ctx, orderEvent(events.TypeOrderStatusChanged, updated))

	return &SessionResult{
		PaymentURL:     "/orders/" + updated.Number + "/confirmation",
		Code:           code,
		FallbackMethod: model.PaymentMethodCash,
	}, nil
}

// mapGatewayStatus переводит статус из внешнего словаря шлюза во внутренний
// статус оплаты. Таблица фиксированная; неизвестные значения отклоняются.
func mapGatewayStatus(external string) (model.PaymentStatus, bool) {
	switch strings.ToLower(external) {
	case "created", "registered", "pending", "processing":
		return model.PaymentStatusPending, true
	case "approved", "completed", "paid", "success":
		return model.PaymentStatusPaid, true
	case "declined", "failed", "error":
		return model.PaymentStatusFailed, true
	case "cancelled", "canceled", "voided", "expired":
		return model.PaymentStatusCancelled, true
	}
	return "", false
}

// Reconcile применяет статус из коллбэка шлюза к заказу.
// Повторные и запоздавшие уведомления безопасны: применяется только
// строго более финальный статус.
func (s *Service) Reconcile(ctx context.Context, number, externalStatus string) (*model.Order, error) {
	pay, ok := mapGatewayStatus(externalStatus)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownGatewayStatus, externalStatus)
	}

	order, changed, err := s.repo.ReconcileOrder(ctx, number, pay)
	if err != nil {
		return nil, err
	}

	if changed {
		s.metrics.Reconciliation("applied")
		s.publisher.Publish(ctx, orderEvent(events.TypeOrderStatusChanged, order))
	} else {
		s.metrics.Reconciliation("noop")
	}

	return order, nil
}

// CheckPaymentStatus выполняет запрос статуса к шлюзу по номеру заказа
// и сверяет результат с заказом. Используется и коллбэк-эквивалентами,
// и ручной перепроверкой персонала. Недоступность шлюза не меняет заказ.
// Повторы при сетевых сбоях живут внутри клиента шлюза; здесь запрос
// выполняется один раз.
func (s *Service) CheckPaymentStatus(ctx context.Context, number string) (*model.Order, error) {
	if _, err := s.repo.GetOrderByNumber(ctx, number); err != nil {
		return nil, err
	}

	external, err := s.gateway.GetStatus(ctx, number)
	if err != nil {
		return nil, err
	}

	return s.Reconcile(ctx, number, external)
}

// AttachApplication проверяет структурную полноту заявки на рассрочку
// и привязывает её к заказу HISSELI. Статусы заказа не меняются:
// решение по заявке принимает персонал вне этого сервиса.
func (s *Service) AttachApplication(ctx context.Context, number string, app model.InstallmentApplication) error {
	if verr := validateApplication(&app); verr != nil {
		return verr
	}

	order, err := s.repo.GetOrderByNumber(ctx, number)
	if err != nil {
		return err
	}
	if order.PaymentMethod != model.PaymentMethodHisseli {
		return fmt.Errorf("%w: %s", ErrNotInstallmentOrder, number)
	}

	app.OrderID = order.ID
	return s.repo.CreateInstallmentApplication(ctx, app)
}

func validateApplication(app *model.InstallmentApplication) error {
	verr := &ValidationError{}

	required := []struct {
		field string
		value string
	}{
		{"firstName", app.FirstName},
		{"lastName", app.LastName},
		{"fatherName", app.FatherName},
		{"registrationAddress", app.RegistrationAddress},
		{"residenceAddress", app.ResidenceAddress},
		{"employerName", app.EmployerName},
		{"jobTitle", app.JobTitle},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			verr.add(f.field, "field is required")
		}
	}

	if !validation.IsValidPhone(app.Phone) {
		verr.add("phone", "invalid phone number")
	}
	if !validation.IsValidDocumentURL(app.DocumentFrontURL) {
		verr.add("documentFrontUrl", "absolute http(s) url is required")
	}
	if !validation.IsValidDocumentURL(app.DocumentBackURL) {
		verr.add("documentBackUrl", "absolute http(s) url is required")
	}
	if app.IncomeCents <= 0 {
		verr.add("income", "declared income must be positive")
	}

	for i, member := range app.Family {
		field := "family[" + strconv.Itoa(i) + "]"
		if strings.TrimSpace(member.Name) == "" {
			verr.add(field+".name", "field is required")
		}
		if strings.TrimSpace(member.Relationship) == "" {
			verr.add(field+".relationship", "field is required")
		}
		if !validation.IsValidPhone(member.Phone) {
			verr.add(field+".phone", "invalid phone number")
		}
	}

	return verr.orNil()
}

// OrderDetails — данные заказа для страницы подтверждения и панели персонала.
type OrderDetails struct {
	Order *model.Order
	// ApplicationAttached выставлен для HISSELI-заказов с полной заявкой.
	ApplicationAttached bool
}

// GetOrder возвращает заказ по номеру вместе с признаком наличия заявки на рассрочку.
func (s *Service) GetOrder(ctx context.Context, number string) (*OrderDetails, error) {
	order, err := s.repo.GetOrderByNumber(ctx, number)
	if err != nil {
		return nil, err
	}

	details := &OrderDetails{Order: order}

	if order.PaymentMethod == model.PaymentMethodHisseli {
		if _, err := s.repo.GetInstallmentApplication(ctx, order.ID); err == nil {
			details.ApplicationAttached = true
		} else if !errors.Is(err, repository.ErrApplicationMissing) {
			return nil, err
		}
	}

	return details, nil
}

// UpdateOrderStaff применяет ручную правку статусов персоналом через
// граф переходов; недопустимые правки отклоняются, а не записываются.
func (s *Service) UpdateOrderStaff(ctx context.Context, number string, newStatus *model.OrderStatus, newPayment *model.PaymentStatus) (*model.Order, error) {
	verr := &ValidationError{}
	if newStatus == nil && newPayment == nil {
		verr.add("status", "status or paymentStatus is required")
	}
	if newStatus != nil && !status.Known(*newStatus) {
		verr.add("status", "unknown order status")
	}
	if newStatus != nil && *newStatus == model.OrderStatusPaymentFailed {
		// PAYMENT_FAILED выставляет только сверка с платёжным шлюзом.
		verr.add("status", "PAYMENT_FAILED cannot be set manually")
	}
	if newPayment != nil && !status.KnownPayment(*newPayment) {
		verr.add("paymentStatus", "unknown payment status")
	}
	if err := verr.orNil(); err != nil {
		return nil, err
	}

	order, err := s.repo.UpdateOrderStatus(ctx, number, newStatus, newPayment)
	if err != nil {
		if errors.Is(err, status.ErrIllegalTransition) || errors.Is(err, status.ErrPaymentRegression) {
			s.metrics.IllegalTransition()
		}
		return nil, err
	}

	s.publisher.Publish(ctx, orderEvent(events.TypeOrderStatusChanged, order))
	return order, nil
}

func orderEvent(eventType string, order *model.Order) events.OrderEvent {
	return events.OrderEvent{
		Type:          eventType,
		OrderNumber:   order.Number,
		Status:        string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		PaymentMethod: string(order.PaymentMethod),
		Total:         float64(order.TotalCents) / 100,
		OccurredAt:    time.Now().UTC(),
	}
}
