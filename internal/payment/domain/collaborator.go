package domain

import (
	"context"
	"errors"
)

// Collaborator executes real charges at the external billing provider.
// Callers pass a deterministic idempotency key; the provider guarantees a
// key executes at most one charge no matter how often it is retried.
type Collaborator interface {
	ChargeCustomer(ctx context.Context, customerID string, amountCents int64, idempotencyKey string) error
}

var (
	ErrChargeDeclined = errors.New("charge_declined")
	ErrChargeFailed   = errors.New("charge_failed")
)
