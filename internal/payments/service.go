package payments

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/milleriumage/drarena/internal/credits"
	"github.com/milleriumage/drarena/internal/observability"
)

// ChargeCreator is the provider surface the service depends on.
// MercadoPagoClient is the production implementation.
type ChargeCreator interface {
	CreatePIXCharge(ctx context.Context, amountBRL float64, description, payerEmail, idempotencyKey string) (PIXCharge, error)
	PaymentStatus(ctx context.Context, externalID string) (string, error)
}

// Service drives the purchase flow: create a PIX charge, track it, and
// settle credits when the provider reports approval.
type Service struct {
	provider ChargeCreator
	store    Store
	credits  credits.Store
	metrics  *observability.Metrics
}

func NewService(provider ChargeCreator, store Store, creditsStore credits.Store, metrics *observability.Metrics) *Service {
	return &Service{provider: provider, store: store, credits: creditsStore, metrics: metrics}
}

func (s *Service) recordEvent(event string) {
	if s.metrics != nil {
		s.metrics.PaymentEvents.WithLabelValues(event).Inc()
	}
}

// CreateResult is returned to the client so it can render the PIX
// QR code and poll for settlement.
type CreateResult struct {
	PaymentID    string  `json:"payment_id"`
	ExternalID   string  `json:"external_id"`
	Credits      int     `json:"credits"`
	AmountBRL    float64 `json:"amount_brl"`
	Status       string  `json:"status"`
	QRCode       string  `json:"qr_code"`
	QRCodeBase64 string  `json:"qr_code_base64"`
	TicketURL    string  `json:"ticket_url"`
}

// Create opens a PIX charge for one of the offered credit packages.
// The amount is always taken from the package table, never from the
// client.
func (s *Service) Create(ctx context.Context, userID, payerEmail string, packageCredits int) (CreateResult, error) {
	pkg, ok := FindPackage(packageCredits)
	if !ok {
		return CreateResult{}, ErrUnknownPackage
	}

	paymentID := uuid.NewString()
	description := fmt.Sprintf("DR ARENA - %d creditos", pkg.Credits)
	charge, err := s.provider.CreatePIXCharge(ctx, pkg.AmountBRL, description, payerEmail, paymentID)
	if err != nil {
		s.recordEvent("create_failed")
		return CreateResult{}, fmt.Errorf("create pix charge: %w", err)
	}

	payment := Payment{
		ID:         paymentID,
		ExternalID: charge.ExternalID,
		UserID:     userID,
		Credits:    pkg.Credits,
		AmountBRL:  pkg.AmountBRL,
		Status:     StatusPending,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.store.Insert(ctx, payment); err != nil {
		return CreateResult{}, err
	}
	s.recordEvent("created")

	return CreateResult{
		PaymentID:    payment.ID,
		ExternalID:   payment.ExternalID,
		Credits:      payment.Credits,
		AmountBRL:    payment.AmountBRL,
		Status:       payment.Status,
		QRCode:       charge.QRCode,
		QRCodeBase64: charge.QRCodeBase64,
		TicketURL:    charge.TicketURL,
	}, nil
}

// StatusResult reports the provider-side status plus the balance after
// settlement, when settlement happened.
type StatusResult struct {
	ExternalID string `json:"external_id"`
	Status     string `json:"status"`
	Settled    bool   `json:"settled"`
	Balance    int    `json:"balance,omitempty"`
}

// CheckStatus polls the provider and settles the payment if it turned
// approved since the last look.
func (s *Service) CheckStatus(ctx context.Context, externalID string) (StatusResult, error) {
	status, err := s.provider.PaymentStatus(ctx, externalID)
	if err != nil {
		return StatusResult{}, err
	}
	result := StatusResult{ExternalID: externalID, Status: status}
	if status != StatusApproved {
		return result, nil
	}
	balance, settled, err := s.settle(ctx, externalID)
	if err != nil {
		return StatusResult{}, err
	}
	result.Settled = settled
	result.Balance = balance
	return result, nil
}

// HandleWebhook processes a Mercado Pago notification. Only
// payment.updated notifications on payment resources are acted on;
// everything else is acknowledged and dropped. Settlement is
// idempotent, so duplicate deliveries credit at most once.
func (s *Service) HandleWebhook(ctx context.Context, notificationType, action string, data map[string]any) error {
	if notificationType != "payment" || action != "payment.updated" {
		s.recordEvent("webhook_ignored")
		return nil
	}
	externalID := externalIDFromNumber(data["id"])
	if externalID == "" {
		s.recordEvent("webhook_malformed")
		return fmt.Errorf("payment webhook: missing payment id")
	}

	status, err := s.provider.PaymentStatus(ctx, externalID)
	if err != nil {
		return fmt.Errorf("payment webhook: %w", err)
	}
	if status != StatusApproved {
		s.recordEvent("webhook_pending")
		return nil
	}
	if _, _, err := s.settle(ctx, externalID); err != nil {
		return fmt.Errorf("payment webhook: %w", err)
	}
	return nil
}

func (s *Service) settle(ctx context.Context, externalID string) (balance int, settled bool, err error) {
	payment, approvedNow, err := s.store.MarkApproved(ctx, externalID)
	if err != nil {
		return 0, false, err
	}
	if !approvedNow {
		s.recordEvent("settle_duplicate")
		return 0, false, nil
	}
	balance, err = s.credits.Credit(ctx, payment.UserID, payment.Credits)
	if err != nil {
		// Put the payment back to pending so the next delivery retries
		// the credit instead of treating it as already settled.
		if reopenErr := s.store.Reopen(ctx, externalID); reopenErr != nil {
			log.Printf("payments: approved payment %s not credited and not reopened: %v (credit: %v)", externalID, reopenErr, err)
			return 0, false, err
		}
		s.recordEvent("settle_retry")
		log.Printf("payments: payment %s reopened after credit failure: %v", externalID, err)
		return 0, false, err
	}
	s.recordEvent("settled")
	log.Printf("payments: settled %s, +%d credits for user %s", externalID, payment.Credits, payment.UserID)
	return balance, true, nil
}
