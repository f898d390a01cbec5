// Package handler содержит HTTP-обработчики API оформления и оплаты заказов.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/storefront-system/internal/gateway"
	"github.com/mmeshcher/storefront-system/internal/middleware"
	"github.com/mmeshcher/storefront-system/internal/model"
	"github.com/mmeshcher/storefront-system/internal/repository"
	"github.com/mmeshcher/storefront-system/internal/service"
	"github.com/mmeshcher/storefront-system/internal/status"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	CreateOrder(ctx context.Context, req service.CheckoutRequest) (*service.CheckoutResult, error)
	CreatePaymentSession(ctx context.Context, p service.SessionParams) (*service.SessionResult, error)
	CheckPaymentStatus(ctx context.Context, number string) (*model.Order, error)
	Reconcile(ctx context.Context, number, externalStatus string) (*model.Order, error)
	AttachApplication(ctx context.Context, number string, app model.InstallmentApplication) error
	GetOrder(ctx context.Context, number string) (*service.OrderDetails, error)
	UpdateOrderStaff(ctx context.Context, number string, newStatus *model.OrderStatus, newPayment *model.PaymentStatus) (*model.Order, error)
}

// Handler реализует HTTP-обработчики API сервиса витрины.
type Handler struct {
	service   Service
	logger    *zap.Logger
	staffAuth *middleware.StaffAuth
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, staffAuth *middleware.StaffAuth) *Handler {
	return &Handler{
		service:   s,
		logger:    logger,
		staffAuth: staffAuth,
	}
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type validationResponse struct {
	Errors []service.FieldError `json:"errors"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response", zap.Error(err))
	}
}

// writeFieldError отвечает 400 с одной ошибкой уровня поля.
func (h *Handler) writeFieldError(w http.ResponseWriter, field, message string) {
	h.writeJSON(w, http.StatusBadRequest, validationResponse{
		Errors: []service.FieldError{{Field: field, Message: message}},
	})
}

func cents(v float64) int64 {
	return int64(v*100 + 0.5)
}

type checkoutItemRequest struct {
	// ID — составной идентификатор устаревшего формата "<product>-<variant>".
	ID        string  `json:"id,omitempty"`
	ProductID string  `json:"productId,omitempty"`
	VariantID *string `json:"variantId,omitempty"`
	Quantity  int     `json:"quantity"`
}

type addressRequest struct {
	Name   string `json:"name"`
	Phone  string `json:"phone"`
	City   string `json:"city"`
	Street string `json:"street"`
}

type customerRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type checkoutRequest struct {
	Items           []checkoutItemRequest `json:"items"`
	AddressID       *int64                `json:"addressId,omitempty"`
	Address         *addressRequest       `json:"address,omitempty"`
	PaymentMethod   string                `json:"paymentMethod"`
	InstallmentTerm *int                  `json:"installmentTerm,omitempty"`
	CustomerID      *int64                `json:"customerId,omitempty"`
	Customer        *customerRequest      `json:"customer,omitempty"`
	Note            string                `json:"note,omitempty"`
}

type checkoutResponse struct {
	OrderNumber string  `json:"orderNumber"`
	Subtotal    float64 `json:"subtotal"`
	Shipping    float64 `json:"shipping"`
	Total       float64 `json:"total"`
}

// CreateOrder оформляет заказ из корзины.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	svcReq := service.CheckoutRequest{
		CustomerID:    req.CustomerID,
		AddressID:     req.AddressID,
		PaymentMethod: model.PaymentMethod(req.PaymentMethod),
		TaksitTerm:    req.InstallmentTerm,
		Note:          req.Note,
	}
	if req.Customer != nil {
		svcReq.Guest = &model.GuestContact{
			Name:  req.Customer.Name,
			Email: req.Customer.Email,
			Phone: req.Customer.Phone,
		}
	}
	if req.Address != nil {
		svcReq.Address = &model.Address{
			Name:   req.Address.Name,
			Phone:  req.Address.Phone,
			City:   req.Address.City,
			Street: req.Address.Street,
		}
	}
	for _, item := range req.Items {
		svcReq.Lines = append(svcReq.Lines, service.CheckoutLineInput{
			CompositeID: item.ID,
			ProductID:   item.ProductID,
			VariantID:   item.VariantID,
			Quantity:    item.Quantity,
		})
	}

	result, err := h.service.CreateOrder(r.Context(), svcReq)
	if err != nil {
		var verr *service.ValidationError
		switch {
		case errors.As(err, &verr):
			h.writeJSON(w, http.StatusBadRequest, validationResponse{Errors: verr.Fields})
		case errors.Is(err, repository.ErrProductNotFound),
			errors.Is(err, repository.ErrVariantNotFound),
			errors.Is(err, repository.ErrStockInsufficient):
			h.writeFieldError(w, "items", err.Error())
		case errors.Is(err, repository.ErrAddressNotFound):
			h.writeFieldError(w, "address", err.Error())
		default:
			h.logger.Error("create order error", zap.Error(err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	statusCode := http.StatusCreated
	if result.Coalesced {
		statusCode = http.StatusOK
	}

	order := result.Order
	h.writeJSON(w, statusCode, checkoutResponse{
		OrderNumber: order.Number,
		Subtotal:    float64(order.SubtotalCents) / 100,
		Shipping:    float64(order.ShippingCents) / 100,
		Total:       float64(order.TotalCents) / 100,
	})
}

type sessionRequest struct {
	OrderNumber string           `json:"orderNumber"`
	Description string           `json:"description,omitempty"`
	Customer    *customerRequest `json:"customer,omitempty"`
	Retry       bool             `json:"retry,omitempty"`

	// Amount и Currency принимаются для совместимости, но игнорируются:
	// сумма всегда берётся из сохранённого заказа.
	Amount   float64 `json:"amount,omitempty"`
	Currency string  `json:"currency,omitempty"`
}

type sessionResponse struct {
	PaymentURL     string `json:"paymentUrl"`
	IsMock         bool   `json:"isMock"`
	Code           string `json:"code,omitempty"`
	FallbackMethod string `json:"fallbackMethod,omitempty"`
}

// CreatePaymentSession создаёт платёжную сессию шлюза для заказа
// или пересоздаёт её при повторе.
func (h *Handler) CreatePaymentSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.OrderNumber == "" {
		h.writeFieldError(w, "orderNumber", "order number is required")
		return
	}

	params := service.SessionParams{
		OrderNumber: req.OrderNumber,
		Description: req.Description,
		Retry:       req.Retry,
	}
	if req.Customer != nil {
		params.CustomerName = req.Customer.Name
		params.CustomerEmail = req.Customer.Email
		params.CustomerPhone = req.Customer.Phone
	}

	result, err := h.service.CreatePaymentSession(r.Context(), params)
	if err != nil {
		var verr *service.ValidationError
		var rejected *gateway.RejectedError
		switch {
		case errors.As(err, &verr):
			h.writeJSON(w, http.StatusBadRequest, validationResponse{Errors: verr.Fields})
		case errors.Is(err, repository.ErrOrderNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		case errors.As(err, &rejected):
			// Отказ банка показывается покупателю дословно.
			h.writeJSON(w, http.StatusPaymentRequired, errorResponse{
				Code:    "GATEWAY_REJECTED",
				Message: rejected.Message,
			})
		case errors.Is(err, gateway.ErrTimeout):
			h.writeJSON(w, http.StatusGatewayTimeout, errorResponse{
				Code:    "TIMEOUT",
				Message: "payment gateway timed out, retry the session",
			})
		default:
			h.logger.Error("create payment session error", zap.Error(err), zap.String("order", req.OrderNumber))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(w, http.StatusOK, sessionResponse{
		PaymentURL:     result.PaymentURL,
		IsMock:         result.Mock,
		Code:           result.Code,
		FallbackMethod: string(result.FallbackMethod),
	})
}

type statusCheckRequest struct {
	OrderNumber string `json:"orderNumber"`
}

type orderStatusResponse struct {
	OrderNumber   string `json:"orderNumber"`
	OrderStatus   string `json:"orderStatus"`
	PaymentStatus string `json:"paymentStatus"`
}

// CheckPaymentStatus выполняет запрос статуса к шлюзу и сверяет его с заказом.
// Используется и автоматикой, и кнопкой перепроверки у персонала.
func (h *Handler) CheckPaymentStatus(w http.ResponseWriter, r *http.Request) {
	var req statusCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.OrderNumber == "" {
		h.writeFieldError(w, "orderNumber", "order number is required")
		return
	}

	order, err := h.service.CheckPaymentStatus(r.Context(), req.OrderNumber)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrOrderNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		case errors.Is(err, gateway.ErrSessionNotFound):
			h.writeJSON(w, http.StatusNotFound, errorResponse{
				Code:    "SESSION_NOT_FOUND",
				Message: "gateway has no session for this order",
			})
		case errors.Is(err, gateway.ErrTimeout):
			h.writeJSON(w, http.StatusGatewayTimeout, errorResponse{
				Code:    "TIMEOUT",
				Message: "payment gateway timed out, the order is unchanged",
			})
		case errors.Is(err, gateway.ErrConfigMissing),
			errors.Is(err, gateway.ErrAuthFailed),
			errors.Is(err, service.ErrUnknownGatewayStatus):
			h.logger.Error("status check error", zap.Error(err), zap.String("order", req.OrderNumber))
			h.writeJSON(w, http.StatusBadGateway, errorResponse{
				Code:    "GATEWAY_UNAVAILABLE",
				Message: "payment gateway is unavailable, the order is unchanged",
			})
		default:
			h.logger.Error("status check error", zap.Error(err), zap.String("order", req.OrderNumber))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(w, http.StatusOK, orderStatusResponse{
		OrderNumber:   order.Number,
		OrderStatus:   string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
	})
}

type callbackRequest struct {
	OrderNumber string `json:"orderNumber"`
	Status      string `json:"status"`
}

// PaymentCallback принимает асинхронное уведомление шлюза о результате платежа.
// Повторные и запоздавшие уведомления идемпотентны.
func (h *Handler) PaymentCallback(w http.ResponseWriter, r *http.Request) {
	var req callbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.OrderNumber == "" || req.Status == "" {
		h.writeFieldError(w, "orderNumber", "order number and status are required")
		return
	}

	order, err := h.service.Reconcile(r.Context(), req.OrderNumber, req.Status)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrOrderNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		case errors.Is(err, service.ErrUnknownGatewayStatus):
			h.writeFieldError(w, "status", err.Error())
		default:
			h.logger.Error("payment callback error", zap.Error(err), zap.String("order", req.OrderNumber))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(w, http.StatusOK, orderStatusResponse{
		OrderNumber:   order.Number,
		OrderStatus:   string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
	})
}

type orderItemResponse struct {
	ProductID string  `json:"productId"`
	VariantID *string `json:"variantId,omitempty"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unitPrice"`
}

type orderResponse struct {
	Number              string              `json:"number"`
	Status              string              `json:"status"`
	PaymentStatus       string              `json:"paymentStatus"`
	PaymentMethod       string              `json:"paymentMethod"`
	Items               []orderItemResponse `json:"items"`
	Subtotal            float64             `json:"subtotal"`
	Shipping            float64             `json:"shipping"`
	Total               float64             `json:"total"`
	InstallmentTerm     *int                `json:"installmentTerm,omitempty"`
	ApplicationAttached *bool               `json:"applicationAttached,omitempty"`
	CreatedAt           string              `json:"createdAt"`
	UpdatedAt           string              `json:"updatedAt"`
}

// GetOrder возвращает данные заказа для страницы подтверждения и панели персонала.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")

	details, err := h.service.GetOrder(r.Context(), number)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("get order error", zap.Error(err), zap.String("order", number))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	order := details.Order
	resp := orderResponse{
		Number:          order.Number,
		Status:          string(order.Status),
		PaymentStatus:   string(order.PaymentStatus),
		PaymentMethod:   string(order.PaymentMethod),
		Subtotal:        float64(order.SubtotalCents) / 100,
		Shipping:        float64(order.ShippingCents) / 100,
		Total:           float64(order.TotalCents) / 100,
		InstallmentTerm: order.TaksitTerm,
		CreatedAt:       order.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       order.UpdatedAt.Format(time.RFC3339),
	}
	for _, item := range order.Items {
		resp.Items = append(resp.Items, orderItemResponse{
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			Quantity:  item.Quantity,
			UnitPrice: float64(item.UnitPriceCents) / 100,
		})
	}
	if order.PaymentMethod == model.PaymentMethodHisseli {
		attached := details.ApplicationAttached
		resp.ApplicationAttached = &attached
	}

	h.writeJSON(w, http.StatusOK, resp)
}

type familyMemberRequest struct {
	Name         string `json:"name"`
	Relationship string `json:"relationship"`
	Phone        string `json:"phone"`
}

type applicationRequest struct {
	FirstName           string                `json:"firstName"`
	LastName            string                `json:"lastName"`
	FatherName          string                `json:"fatherName"`
	DocumentFrontURL    string                `json:"documentFrontUrl"`
	DocumentBackURL     string                `json:"documentBackUrl"`
	RegistrationAddress string                `json:"registrationAddress"`
	ResidenceAddress    string                `json:"residenceAddress"`
	Phone               string                `json:"phone"`
	Family              []familyMemberRequest `json:"family"`
	EmployerName        string                `json:"employerName"`
	JobTitle            string                `json:"jobTitle"`
	Income              float64               `json:"income"`
}

// AttachApplication привязывает заявку на рассрочку к заказу HISSELI.
func (h *Handler) AttachApplication(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")

	var req applicationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	// Ровно три контакта членов семьи: структурное требование, а не список.
	if len(req.Family) != 3 {
		h.writeFieldError(w, "family", "exactly three family members are required")
		return
	}

	app := model.InstallmentApplication{
		FirstName:           req.FirstName,
		LastName:            req.LastName,
		FatherName:          req.FatherName,
		DocumentFrontURL:    req.DocumentFrontURL,
		DocumentBackURL:     req.DocumentBackURL,
		RegistrationAddress: req.RegistrationAddress,
		ResidenceAddress:    req.ResidenceAddress,
		Phone:               req.Phone,
		EmployerName:        req.EmployerName,
		JobTitle:            req.JobTitle,
		IncomeCents:         cents(req.Income),
	}
	for i, member := range req.Family {
		app.Family[i] = model.FamilyMember{
			Name:         member.Name,
			Relationship: member.Relationship,
			Phone:        member.Phone,
		}
	}

	err := h.service.AttachApplication(r.Context(), number, app)
	if err != nil {
		var verr *service.ValidationError
		switch {
		case errors.As(err, &verr):
			h.writeJSON(w, http.StatusBadRequest, validationResponse{Errors: verr.Fields})
		case errors.Is(err, repository.ErrOrderNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		case errors.Is(err, service.ErrNotInstallmentOrder):
			h.writeJSON(w, http.StatusConflict, errorResponse{
				Code:    "NOT_INSTALLMENT_ORDER",
				Message: err.Error(),
			})
		case errors.Is(err, repository.ErrApplicationExists):
			h.writeJSON(w, http.StatusConflict, errorResponse{
				Code:    "APPLICATION_EXISTS",
				Message: err.Error(),
			})
		default:
			h.logger.Error("attach application error", zap.Error(err), zap.String("order", number))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	w.WriteHeader(http.StatusCreated)
}

type staffUpdateRequest struct {
	Status        *string `json:"status,omitempty"`
	PaymentStatus *string `json:"paymentStatus,omitempty"`
}

// UpdateOrder применяет ручную правку статусов персоналом.
// Правка проходит через граф допустимых переходов, а не пишется напрямую.
func (h *Handler) UpdateOrder(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")

	var req staffUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var newStatus *model.OrderStatus
	if req.Status != nil {
		v := model.OrderStatus(*req.Status)
		newStatus = &v
	}
	var newPayment *model.PaymentStatus
	if req.PaymentStatus != nil {
		v := model.PaymentStatus(*req.PaymentStatus)
		newPayment = &v
	}

	order, err := h.service.UpdateOrderStaff(r.Context(), number, newStatus, newPayment)
	if err != nil {
		var verr *service.ValidationError
		switch {
		case errors.As(err, &verr):
			h.writeJSON(w, http.StatusBadRequest, validationResponse{Errors: verr.Fields})
		case errors.Is(err, repository.ErrOrderNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		case errors.Is(err, status.ErrIllegalTransition):
			h.writeJSON(w, http.StatusConflict, errorResponse{
				Code:    "TRANSITION_ILLEGAL",
				Message: err.Error(),
			})
		case errors.Is(err, status.ErrPaymentRegression):
			h.writeJSON(w, http.StatusConflict, errorResponse{
				Code:    "PAYMENT_REGRESSION",
				Message: err.Error(),
			})
		case errors.Is(err, repository.ErrApplicationMissing):
			h.writeJSON(w, http.StatusConflict, errorResponse{
				Code:    "APPLICATION_MISSING",
				Message: err.Error(),
			})
		default:
			h.logger.Error("staff update error", zap.Error(err), zap.String("order", number))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(w, http.StatusOK, orderStatusResponse{
		OrderNumber:   order.Number,
		OrderStatus:   string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
	})
}
