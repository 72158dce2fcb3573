// Package payu предоставляет клиент платёжного шлюза PayU и проверку его уведомлений.
package payu

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrNotConfigured возвращается, если учётные данные шлюза не заданы.
var (
	ErrNotConfigured = errors.New("payu client not configured")
	// ErrGateway возвращается при любом отказе шлюза: сетевом, протокольном
	// или ответе с ошибкой. Текст ошибки предназначен для логов, не для клиента.
	ErrGateway = errors.New("payment gateway error")
)

const (
	tokenPath  = "/pl/standard/user/oauth/authorize"
	ordersPath = "/api/v2_1/orders"
)

// Client инкапсулирует HTTP-взаимодействие с PayU.
type Client struct {
	baseURL      string
	clientID     string
	clientSecret string
	posID        string
	httpClient   *http.Client
}

// NewClient создаёт клиент PayU с указанным адресом и учётными данными.
// Редиректы не следуются: 302 от шлюза — это полезный ответ, а не переход.
func NewClient(baseURL, clientID, clientSecret, posID string) *Client {
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		clientID:     clientID,
		clientSecret: clientSecret,
		posID:        posID,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// ProductLine описывает одну позицию в запросе на создание платежа.
type ProductLine struct {
	Name             string
	UnitPriceInCents int64
	Quantity         int
}

// OrderRequest описывает запрос на создание платёжной сессии.
type OrderRequest struct {
	ExtOrderID         string
	Description        string
	TotalAmountInCents int64
	BuyerEmail         string
	BuyerFirstName     string
	NotifyURL          string
	CustomerIP         string
	Products           []ProductLine
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

type payuBuyer struct {
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	Language  string `json:"language"`
}

type payuProduct struct {
	Name      string `json:"name"`
	UnitPrice string `json:"unitPrice"`
	Quantity  string `json:"quantity"`
}

type payuOrderRequest struct {
	NotifyURL     string        `json:"notifyUrl"`
	CustomerIP    string        `json:"customerIp"`
	MerchantPosID string        `json:"merchantPosId"`
	Description   string        `json:"description"`
	CurrencyCode  string        `json:"currencyCode"`
	TotalAmount   string        `json:"totalAmount"`
	ExtOrderID    string        `json:"extOrderId"`
	Buyer         payuBuyer     `json:"buyer"`
	Products      []payuProduct `json:"products"`
}

type payuOrderResponse struct {
	RedirectURI string `json:"redirectUri"`
}

// CreateOrder создаёт платёжную сессию и возвращает URL страницы оплаты.
// Ретраев нет: любой сбой немедленно возвращается вызывающему,
// заказ при этом остаётся в PENDING_PAYMENT.
func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (string, error) {
	if c == nil || c.clientID == "" || c.clientSecret == "" || c.posID == "" {
		return "", ErrNotConfigured
	}

	token, err := c.fetchToken(ctx)
	if err != nil {
		return "", err
	}

	return c.createRemoteOrder(ctx, token, req)
}

func (c *Client) fetchToken(ctx context.Context) (string, error) {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+tokenPath,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("%w: create token request: %w", ErrGateway, err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: token request: %w", ErrGateway, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read token response: %w", ErrGateway, err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: token status %d: %s", ErrGateway, resp.StatusCode, body)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", fmt.Errorf("%w: parse token response: %w", ErrGateway, err)
	}
	if tr.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token", ErrGateway)
	}

	return tr.AccessToken, nil
}

func (c *Client) createRemoteOrder(ctx context.Context, token string, req OrderRequest) (string, error) {
	products := make([]payuProduct, 0, len(req.Products))
	for _, p := range req.Products {
		products = append(products, payuProduct{
			Name:      p.Name,
			UnitPrice: strconv.FormatInt(p.UnitPriceInCents, 10),
			Quantity:  strconv.Itoa(p.Quantity),
		})
	}

	payload := payuOrderRequest{
		NotifyURL:     req.NotifyURL,
		CustomerIP:    req.CustomerIP,
		MerchantPosID: c.posID,
		Description:   req.Description,
		CurrencyCode:  "PLN",
		TotalAmount:   strconv.FormatInt(req.TotalAmountInCents, 10),
		ExtOrderID:    req.ExtOrderID,
		Buyer: payuBuyer{
			Email:     req.BuyerEmail,
			FirstName: req.BuyerFirstName,
			Language:  "pl",
		},
		Products: products,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("%w: marshal order request: %w", ErrGateway, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+ordersPath, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: create order request: %w", ErrGateway, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: order request: %w", ErrGateway, err)
	}
	defer resp.Body.Close()

	// Ожидаемый ответ hosted-checkout: редирект на платёжную страницу.
	if resp.StatusCode == http.StatusFound || resp.StatusCode == http.StatusSeeOther {
		redirectURI := resp.Header.Get("Location")
		if redirectURI == "" {
			return "", fmt.Errorf("%w: redirect status %d without Location header", ErrGateway, resp.StatusCode)
		}
		return redirectURI, nil
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read order response: %w", ErrGateway, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: order status %d: %s", ErrGateway, resp.StatusCode, respBody)
	}

	var or payuOrderResponse
	if err := json.Unmarshal(respBody, &or); err != nil {
		return "", fmt.Errorf("%w: parse order response: %w", ErrGateway, err)
	}
	if or.RedirectURI == "" {
		return "", fmt.Errorf("%w: response without redirectUri", ErrGateway)
	}

	return or.RedirectURI, nil
}
