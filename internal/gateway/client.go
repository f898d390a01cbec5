// Package gateway предоставляет клиент платёжного шлюза.
//
// Клиент работает в двух режимах. В mock-режиме не выполняется ни одного
// сетевого вызова: создание сессии детерминированно "успешно", а проверка
// статуса возвращает завершённый платёж. В боевом режиме клиент
// аутентифицируется по реквизитам мерчанта и ходит в HTTP API шлюза.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Ошибки шлюза, по которым вызывающая сторона выбирает стратегию восстановления.
var (
	// ErrConfigMissing — реквизиты шлюза не заданы; заказ переводится на оплату наличными.
	ErrConfigMissing = errors.New("gateway credentials are not configured")
	// ErrAuthFailed — шлюз не принял реквизиты мерчанта; восстановление то же, что и при ErrConfigMissing.
	ErrAuthFailed = errors.New("gateway authentication failed")
	// ErrTimeout — шлюз не ответил за отведённое время; операцию можно повторить.
	ErrTimeout = errors.New("gateway request timed out")
	// ErrSessionNotFound — шлюз не знает сессию для указанного номера заказа.
	ErrSessionNotFound = errors.New("gateway session not found")
)

// RejectedError — отказ шлюза в проведении платежа.
// Текст передаётся покупателю дословно: это ответ его банка.
type RejectedError struct {
	Message string
}

func (e *RejectedError) Error() string {
	return "gateway rejected payment: " + e.Message
}

// Session — созданная на стороне шлюза платёжная сессия.
type Session struct {
	TransactionID string
	PaymentURL    string
	Mock          bool
}

// SessionRequest — параметры создания платёжной сессии.
// Сумма указывается в минорных единицах валюты.
type SessionRequest struct {
	OrderNumber     string
	AmountCents     int64
	Currency        string
	Description     string
	CustomerName    string
	CustomerEmail   string
	CustomerPhone   string
	InstallmentTerm int
}

// Client инкапсулирует HTTP-взаимодействие с платёжным шлюзом.
type Client struct {
	mock       bool
	baseURL    string
	merchantID string
	secretKey  string

	// createClient без ретраев: повтор POST при обрыве соединения мог бы
	// породить вторую сессию на стороне шлюза.
	createClient *http.Client
	// queryClient с ретраями для аутентификации и запросов статуса.
	queryClient *http.Client
}

const requestTimeout = 10 * time.Second

// NewMock создаёт клиент, имитирующий успешные ответы шлюза без сети.
func NewMock() *Client {
	return &Client{mock: true}
}

// New создаёт клиент боевого шлюза по указанному адресу и реквизитам мерчанта.
func New(baseURL, merchantID, secretKey string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.HTTPClient.Timeout = requestTimeout
	rc.Logger = nil

	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		merchantID:   merchantID,
		secretKey:    secretKey,
		createClient: &http.Client{Timeout: requestTimeout},
		queryClient:  rc.StandardClient(),
	}
}

// Mock сообщает, работает ли клиент без обращения к реальному шлюзу.
func (c *Client) Mock() bool {
	return c == nil || c.mock
}

type authRequest struct {
	MerchantID string `json:"merchantId"`
	SecretKey  string `json:"secretKey"`
}

type authResponse struct {
	Token string `json:"token"`
}

func (c *Client) authenticate(ctx context.Context) (string, error) {
	if c.baseURL == "" || c.merchantID == "" || c.secretKey == "" {
		return "", ErrConfigMissing
	}

	body, err := json.Marshal(authRequest{MerchantID: c.merchantID, SecretKey: c.secretKey})
	if err != nil {
		return "", fmt.Errorf("marshal auth request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/auth", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.queryClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return "", ErrTimeout
		}
		return "", fmt.Errorf("auth request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return "", ErrAuthFailed
	default:
		return "", fmt.Errorf("auth: unexpected status %d", resp.StatusCode)
	}

	var result authResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode auth response: %w", err)
	}
	if result.Token == "" {
		return "", ErrAuthFailed
	}

	return result.Token, nil
}

type createSessionRequest struct {
	OrderNumber     string          `json:"orderNumber"`
	Amount          int64           `json:"amount"`
	Currency        string          `json:"currency"`
	Description     string          `json:"description"`
	Customer        customerPayload `json:"customer"`
	InstallmentTerm int             `json:"installmentTerm,omitempty"`
}

type customerPayload struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type createSessionResponse struct {
	TransactionID string `json:"transactionId"`
	PaymentURL    string `json:"paymentUrl"`
}

type gatewayError struct {
	Message string `json:"message"`
}

// CreateSession создаёт платёжную сессию для заказа и возвращает адрес
// перенаправления покупателя. В mock-режиме сессия фабрикуется локально
// и детерминированно: идентификатор транзакции выводится из номера заказа.
func (c *Client) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	if c.Mock() {
		return &Session{
			TransactionID: "MOCK-" + req.OrderNumber,
			PaymentURL:    "/payments/mock/" + req.OrderNumber,
			Mock:          true,
		}, nil
	}

	token, err := c.authenticate(ctx)
	if err != nil {
		return nil, err
	}

	payload := createSessionRequest{
		OrderNumber: req.OrderNumber,
		Amount:      req.AmountCents,
		Currency:    req.Currency,
		Description: req.Description,
		Customer: customerPayload{
			Name:  req.CustomerName,
			Email: req.CustomerEmail,
			Phone: req.CustomerPhone,
		},
		InstallmentTerm: req.InstallmentTerm,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal session request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/sessions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create session request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.createClient.Do(httpReq)
	if err != nil {
		if isTimeout(err) {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("session request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, ErrAuthFailed
	case http.StatusBadRequest, http.StatusPaymentRequired, http.StatusUnprocessableEntity:
		var ge gatewayError
		if err := json.NewDecoder(resp.Body).Decode(&ge); err != nil || ge.Message == "" {
			ge.Message = http.StatusText(resp.StatusCode)
		}
		return nil, &RejectedError{Message: ge.Message}
	default:
		return nil, fmt.Errorf("create session: unexpected status %d", resp.StatusCode)
	}

	var result createSessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode session response: %w", err)
	}
	if result.TransactionID == "" || result.PaymentURL == "" {
		return nil, fmt.Errorf("create session: incomplete response")
	}

	return &Session{
		TransactionID: result.TransactionID,
		PaymentURL:    result.PaymentURL,
	}, nil
}

type statusResponse struct {
	Status string `json:"status"`
}

// GetStatus запрашивает у шлюза статус платежа по номеру заказа.
// Возвращает статус во внешнем словаре шлюза; отображение на внутренние
// статусы выполняет сверка.
func (c *Client) GetStatus(ctx context.Context, orderNumber string) (string, error) {
	if c.Mock() {
		return "completed", nil
	}

	token, err := c.authenticate(ctx)
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/api/v1/sessions/%s/status", c.baseURL, orderNumber)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("create status request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.queryClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return "", ErrTimeout
		}
		return "", fmt.Errorf("status request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return "", ErrSessionNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return "", ErrAuthFailed
	default:
		return "", fmt.Errorf("get status: unexpected status %d", resp.StatusCode)
	}

	var result statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode status response: %w", err)
	}
	if result.Status == "" {
		return "", fmt.Errorf("get status: empty status in response")
	}

	return result.Status, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
