package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	// Ingest processes one raw webhook delivery. A nil return means the
	// provider gets 200 regardless of what happened downstream; only
	// ErrInvalidSignature (401) and ErrMalformedPayload (400) propagate.
	Ingest(ctx context.Context, payload []byte, sigHeader, env string) error

	ListFailed(ctx context.Context, limit int) ([]FailedEvent, error)
	Replay(ctx context.Context, id snowflake.ID) error
}
