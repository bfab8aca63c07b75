package payments

import (
	"context"
	"errors"
	"testing"

	"github.com/milleriumage/drarena/internal/credits"
)

type fakeProvider struct {
	charge      PIXCharge
	createErr   error
	status      map[string]string
	createCalls int
}

func (f *fakeProvider) CreatePIXCharge(_ context.Context, _ float64, _, _, _ string) (PIXCharge, error) {
	f.createCalls++
	if f.createErr != nil {
		return PIXCharge{}, f.createErr
	}
	return f.charge, nil
}

func (f *fakeProvider) PaymentStatus(_ context.Context, externalID string) (string, error) {
	status, ok := f.status[externalID]
	if !ok {
		return "", ErrPaymentNotFound
	}
	return status, nil
}

func newTestService(provider *fakeProvider) (*Service, credits.Store, Store) {
	creditsStore := credits.NewInMemoryStore(100)
	store := NewInMemoryStore()
	return NewService(provider, store, creditsStore, nil), creditsStore, store
}

func TestFindPackage(t *testing.T) {
	tests := []struct {
		credits   int
		wantBRL   float64
		wantFound bool
	}{
		{100, 5, true},
		{250, 10, true},
		{500, 18, true},
		{1000, 30, true},
		{333, 0, false},
		{0, 0, false},
	}
	for _, tt := range tests {
		pkg, ok := FindPackage(tt.credits)
		if ok != tt.wantFound {
			t.Fatalf("FindPackage(%d) found = %v, want %v", tt.credits, ok, tt.wantFound)
		}
		if ok && pkg.AmountBRL != tt.wantBRL {
			t.Fatalf("FindPackage(%d) price = %v, want %v", tt.credits, pkg.AmountBRL, tt.wantBRL)
		}
	}
}

func TestCreateRejectsUnknownPackage(t *testing.T) {
	provider := &fakeProvider{}
	svc, _, _ := newTestService(provider)

	_, err := svc.Create(context.Background(), "user-1", "user@example.com", 123)
	if !errors.Is(err, ErrUnknownPackage) {
		t.Fatalf("Create() error = %v, want ErrUnknownPackage", err)
	}
	if provider.createCalls != 0 {
		t.Fatalf("provider called %d times for invalid package, want 0", provider.createCalls)
	}
}

func TestCreateUsesPackagePrice(t *testing.T) {
	provider := &fakeProvider{charge: PIXCharge{
		ExternalID:   "mp-1",
		Status:       StatusPending,
		QRCode:       "pix-code",
		QRCodeBase64: "cGl4",
		TicketURL:    "https://example.com/ticket",
	}}
	svc, _, store := newTestService(provider)

	result, err := svc.Create(context.Background(), "user-1", "user@example.com", 250)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if result.AmountBRL != 10 {
		t.Fatalf("AmountBRL = %v, want 10", result.AmountBRL)
	}
	if result.QRCode != "pix-code" || result.TicketURL != "https://example.com/ticket" {
		t.Fatalf("charge fields not propagated: %+v", result)
	}

	stored, err := store.ByExternalID(context.Background(), "mp-1")
	if err != nil {
		t.Fatalf("ByExternalID() error = %v", err)
	}
	if stored.Credits != 250 || stored.Status != StatusPending {
		t.Fatalf("stored payment = %+v", stored)
	}
}

func TestWebhookSettlesApprovedPaymentOnce(t *testing.T) {
	provider := &fakeProvider{
		charge: PIXCharge{ExternalID: "mp-9", Status: StatusPending},
		status: map[string]string{"mp-9": StatusApproved},
	}
	svc, creditsStore, _ := newTestService(provider)
	ctx := context.Background()

	if _, err := svc.Create(ctx, "user-1", "user@example.com", 500); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	// Mercado Pago retries webhook deliveries; crediting must happen once.
	for i := 0; i < 3; i++ {
		if err := svc.HandleWebhook(ctx, "payment", "payment.updated", map[string]any{"id": "mp-9"}); err != nil {
			t.Fatalf("HandleWebhook() #%d error = %v", i, err)
		}
	}

	balance, err := creditsStore.Balance(ctx, "user-1")
	if err != nil {
		t.Fatalf("Balance() error = %v", err)
	}
	if balance != 600 {
		t.Fatalf("balance = %d, want 600 (100 starting + 500 once)", balance)
	}
}

func TestWebhookIgnoresNonPaymentNotifications(t *testing.T) {
	provider := &fakeProvider{}
	svc, _, _ := newTestService(provider)

	if err := svc.HandleWebhook(context.Background(), "plan", "payment.updated", map[string]any{"id": "x"}); err != nil {
		t.Fatalf("HandleWebhook() error = %v", err)
	}
}

func TestWebhookIgnoresOtherActions(t *testing.T) {
	provider := &fakeProvider{
		charge: PIXCharge{ExternalID: "mp-7", Status: StatusPending},
		status: map[string]string{"mp-7": StatusApproved},
	}
	svc, creditsStore, _ := newTestService(provider)
	ctx := context.Background()

	if _, err := svc.Create(ctx, "user-1", "user@example.com", 100); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	// payment.created fires before the payer has paid; only
	// payment.updated may settle.
	if err := svc.HandleWebhook(ctx, "payment", "payment.created", map[string]any{"id": "mp-7"}); err != nil {
		t.Fatalf("HandleWebhook() error = %v", err)
	}
	balance, _ := creditsStore.Balance(ctx, "user-1")
	if balance != 100 {
		t.Fatalf("balance = %d, want 100 (nothing credited)", balance)
	}
}

func TestWebhookNumericIDAccepted(t *testing.T) {
	provider := &fakeProvider{
		charge: PIXCharge{ExternalID: "12345", Status: StatusPending},
		status: map[string]string{"12345": StatusApproved},
	}
	svc, creditsStore, _ := newTestService(provider)
	ctx := context.Background()

	if _, err := svc.Create(ctx, "user-1", "user@example.com", 100); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	// json.Unmarshal delivers webhook ids as float64.
	if err := svc.HandleWebhook(ctx, "payment", "payment.updated", map[string]any{"id": float64(12345)}); err != nil {
		t.Fatalf("HandleWebhook() error = %v", err)
	}
	balance, _ := creditsStore.Balance(ctx, "user-1")
	if balance != 200 {
		t.Fatalf("balance = %d, want 200", balance)
	}
}

// flakyCredits fails the first Credit calls, then recovers.
type flakyCredits struct {
	credits.Store
	failures int
}

func (f *flakyCredits) Credit(ctx context.Context, userID string, amount int) (int, error) {
	if f.failures > 0 {
		f.failures--
		return 0, errors.New("credits backend unavailable")
	}
	return f.Store.Credit(ctx, userID, amount)
}

func TestWebhookRetriesAfterCreditFailure(t *testing.T) {
	provider := &fakeProvider{
		charge: PIXCharge{ExternalID: "mp-5", Status: StatusPending},
		status: map[string]string{"mp-5": StatusApproved},
	}
	inner := credits.NewInMemoryStore(100)
	creditsStore := &flakyCredits{Store: inner, failures: 1}
	store := NewInMemoryStore()
	svc := NewService(provider, store, creditsStore, nil)
	ctx := context.Background()

	if _, err := svc.Create(ctx, "user-1", "user@example.com", 500); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	// First delivery flips the payment approved but crediting fails; the
	// payment must reopen so the provider's retry can settle it.
	if err := svc.HandleWebhook(ctx, "payment", "payment.updated", map[string]any{"id": "mp-5"}); err == nil {
		t.Fatal("HandleWebhook() should surface the credit failure")
	}
	stored, err := store.ByExternalID(ctx, "mp-5")
	if err != nil {
		t.Fatalf("ByExternalID() error = %v", err)
	}
	if stored.Status != StatusPending {
		t.Fatalf("status after failed credit = %q, want %q", stored.Status, StatusPending)
	}

	if err := svc.HandleWebhook(ctx, "payment", "payment.updated", map[string]any{"id": "mp-5"}); err != nil {
		t.Fatalf("HandleWebhook() retry error = %v", err)
	}
	balance, _ := inner.Balance(ctx, "user-1")
	if balance != 600 {
		t.Fatalf("balance = %d, want 600 (credited exactly once)", balance)
	}
}

func TestCheckStatusPendingDoesNotSettle(t *testing.T) {
	provider := &fakeProvider{
		charge: PIXCharge{ExternalID: "mp-2", Status: StatusPending},
		status: map[string]string{"mp-2": StatusPending},
	}
	svc, creditsStore, _ := newTestService(provider)
	ctx := context.Background()

	if _, err := svc.Create(ctx, "user-1", "user@example.com", 100); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	result, err := svc.CheckStatus(ctx, "mp-2")
	if err != nil {
		t.Fatalf("CheckStatus() error = %v", err)
	}
	if result.Settled {
		t.Fatal("pending payment should not settle")
	}
	balance, _ := creditsStore.Balance(ctx, "user-1")
	if balance != 100 {
		t.Fatalf("balance = %d, want 100", balance)
	}
}

func TestCheckStatusSettlesApproved(t *testing.T) {
	provider := &fakeProvider{
		charge: PIXCharge{ExternalID: "mp-3", Status: StatusPending},
		status: map[string]string{"mp-3": StatusApproved},
	}
	svc, _, _ := newTestService(provider)
	ctx := context.Background()

	if _, err := svc.Create(ctx, "user-1", "user@example.com", 1000); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	result, err := svc.CheckStatus(ctx, "mp-3")
	if err != nil {
		t.Fatalf("CheckStatus() error = %v", err)
	}
	if !result.Settled {
		t.Fatal("approved payment should settle")
	}
	if result.Balance != 1100 {
		t.Fatalf("Balance = %d, want 1100", result.Balance)
	}

	// Polling again reports approved but settles nothing further.
	again, err := svc.CheckStatus(ctx, "mp-3")
	if err != nil {
		t.Fatalf("CheckStatus() again error = %v", err)
	}
	if again.Settled {
		t.Fatal("second poll should not settle again")
	}
}
