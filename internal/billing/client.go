package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client выполняет запросы к Stripe API. API принимает
// form-encoded тела и авторизацию секретным ключом.
type Client struct {
	secretKey  string
	apiURL     string
	httpClient *http.Client
}

// NewClient создаёт новый клиент Stripe.
func NewClient(secretKey string) *Client {
	return &Client{
		secretKey:  secretKey,
		apiURL:     "https://api.stripe.com/v1",
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, form url.Values) (*http.Request, error) {
	var body *strings.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	} else {
		body = strings.NewReader("")
	}
	req, err := http.NewRequestWithContext(ctx, method, c.apiURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	return req, nil
}

// do выполняет запрос и декодирует ответ в v. Ответы с кодом вне 2xx
// декодируются в *Error, чтобы вызывающая сторона могла отличить
// resource_missing от прочих отказов провайдера.
func (c *Client) do(req *http.Request, v any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		var apiErr apiErrorBody
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil {
			return fmt.Errorf("stripe: unexpected status %s", resp.Status)
		}
		apiErr.Error.StatusCode = resp.StatusCode
		return &apiErr.Error
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// GetSubscription запрашивает актуальное состояние подписки.
func (c *Client) GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/subscriptions/"+subscriptionID, nil)
	if err != nil {
		return nil, err
	}
	var sub Subscription
	if err := c.do(req, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// CreateCustomer создаёт клиента Stripe с привязанным платёжным методом.
func (c *Client) CreateCustomer(ctx context.Context, email, paymentMethodID string) (*Customer, error) {
	form := url.Values{}
	form.Set("email", email)
	form.Set("payment_method", paymentMethodID)
	form.Set("invoice_settings[default_payment_method]", paymentMethodID)

	req, err := c.newRequest(ctx, http.MethodPost, "/customers", form)
	if err != nil {
		return nil, err
	}
	var customer Customer
	if err := c.do(req, &customer); err != nil {
		return nil, err
	}
	return &customer, nil
}

// CreateSubscription создаёт подписку в статусе incomplete и разворачивает
// платёжное намерение первого счёта, чтобы вернуть клиенту client_secret
// для подтверждения оплаты.
func (c *Client) CreateSubscription(ctx context.Context, customerID, priceID string) (*Subscription, error) {
	form := url.Values{}
	form.Set("customer", customerID)
	form.Set("items[0][price]", priceID)
	form.Set("payment_behavior", "default_incomplete")
	form.Set("payment_settings[save_default_payment_method]", "on_subscription")
	form.Add("expand[]", "latest_invoice.payment_intent")

	req, err := c.newRequest(ctx, http.MethodPost, "/subscriptions", form)
	if err != nil {
		return nil, err
	}
	var sub Subscription
	if err := c.do(req, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}
