// Package payments sells credit packages through Mercado Pago PIX
// charges and settles approved payments into the credits store exactly
// once per external payment id.
package payments

import (
	"errors"
	"time"
)

var (
	// ErrUnknownPackage is returned when a purchase does not match any
	// offered credit package.
	ErrUnknownPackage = errors.New("payments: unknown credit package")
	// ErrPaymentNotFound is returned when no payment matches the given id.
	ErrPaymentNotFound = errors.New("payments: payment not found")
)

// Package is a purchasable credit bundle.
type Package struct {
	Credits   int
	AmountBRL float64
}

// Packages lists the offered bundles in ascending credit order.
var Packages = []Package{
	{Credits: 100, AmountBRL: 5},
	{Credits: 250, AmountBRL: 10},
	{Credits: 500, AmountBRL: 18},
	{Credits: 1000, AmountBRL: 30},
}

// FindPackage matches a credit amount against the offered bundles.
func FindPackage(credits int) (Package, bool) {
	for _, p := range Packages {
		if p.Credits == credits {
			return p, true
		}
	}
	return Package{}, false
}

// Payment statuses mirror Mercado Pago's lifecycle. Settlement only
// cares about the transition into approved.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
	StatusExpired  = "cancelled"
)

// Payment is a PIX charge tracked until settlement.
type Payment struct {
	ID         string    `json:"id"`
	ExternalID string    `json:"external_id"`
	UserID     string    `json:"user_id"`
	Credits    int       `json:"credits"`
	AmountBRL  float64   `json:"amount_brl"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}
