package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

type Kind string

const (
	KindPaymentFailed    Kind = "payment_failed"
	KindCreditsExhausted Kind = "credits_exhausted"
	KindTopupFailed      Kind = "topup_failed"
)

// Dispatcher is the notification contract consumed by the billing engine.
// Templates and delivery channels live outside this service.
type Dispatcher interface {
	Send(ctx context.Context, kind Kind, orgID snowflake.ID, payload map[string]any) error
}
