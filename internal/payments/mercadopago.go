package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const defaultMercadoPagoAPIBase = "https://api.mercadopago.com"

// MercadoPagoClient talks to the Mercado Pago payments REST API.
type MercadoPagoClient struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
}

func NewMercadoPagoClient(baseURL, accessToken string) *MercadoPagoClient {
	if baseURL == "" {
		baseURL = defaultMercadoPagoAPIBase
	}
	return &MercadoPagoClient{
		baseURL:     baseURL,
		accessToken: accessToken,
		httpClient:  &http.Client{Timeout: 15 * time.Second},
	}
}

// PIXCharge is the slice of the Mercado Pago payment response the
// checkout flow needs.
type PIXCharge struct {
	ExternalID   string
	Status       string
	QRCode       string
	QRCodeBase64 string
	TicketURL    string
}

type mpPaymentResponse struct {
	ID                 json.Number `json:"id"`
	Status             string      `json:"status"`
	PointOfInteraction struct {
		TransactionData struct {
			QRCode       string `json:"qr_code"`
			QRCodeBase64 string `json:"qr_code_base64"`
			TicketURL    string `json:"ticket_url"`
		} `json:"transaction_data"`
	} `json:"point_of_interaction"`
}

// CreatePIXCharge opens a PIX payment. The idempotency key makes
// retried requests land on the same charge.
func (c *MercadoPagoClient) CreatePIXCharge(ctx context.Context, amountBRL float64, description, payerEmail, idempotencyKey string) (PIXCharge, error) {
	body := map[string]any{
		"transaction_amount": amountBRL,
		"description":        description,
		"payment_method_id":  "pix",
		"payer":              map[string]string{"email": payerEmail},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return PIXCharge{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/payments", bytes.NewReader(payload))
	if err != nil {
		return PIXCharge{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("X-Idempotency-Key", idempotencyKey)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return PIXCharge{}, err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return PIXCharge{}, fmt.Errorf("mercadopago create payment: status %d: %s", res.StatusCode, string(data))
	}

	var out mpPaymentResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return PIXCharge{}, fmt.Errorf("mercadopago create payment: decode: %w", err)
	}
	return PIXCharge{
		ExternalID:   out.ID.String(),
		Status:       out.Status,
		QRCode:       out.PointOfInteraction.TransactionData.QRCode,
		QRCodeBase64: out.PointOfInteraction.TransactionData.QRCodeBase64,
		TicketURL:    out.PointOfInteraction.TransactionData.TicketURL,
	}, nil
}

// PaymentStatus fetches the current status of a payment by external id.
func (c *MercadoPagoClient) PaymentStatus(ctx context.Context, externalID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/payments/"+url.PathEscape(externalID), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return "", ErrPaymentNotFound
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return "", fmt.Errorf("mercadopago payment status: status %d: %s", res.StatusCode, string(data))
	}

	var out mpPaymentResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("mercadopago payment status: decode: %w", err)
	}
	return out.Status, nil
}

// externalIDFromNumber normalizes numeric webhook ids that arrive as
// either strings or JSON numbers.
func externalIDFromNumber(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case float64:
		return strconv.FormatInt(int64(id), 10)
	case json.Number:
		return id.String()
	default:
		return ""
	}
}
