package server

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/railzwaylabs/paygate/internal/config"
	whdomain "github.com/railzwaylabs/paygate/internal/webhook/domain"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubWebhookService struct {
	ingestErr error
	ingested  [][]byte
	replayed  []snowflake.ID
}

func (s *stubWebhookService) Ingest(_ context.Context, payload []byte, _, _ string) error {
	s.ingested = append(s.ingested, payload)
	return s.ingestErr
}

func (s *stubWebhookService) ListFailed(context.Context, int) ([]whdomain.FailedEvent, error) {
	return []whdomain.FailedEvent{}, nil
}

func (s *stubWebhookService) Replay(_ context.Context, id snowflake.ID) error {
	s.replayed = append(s.replayed, id)
	return nil
}

func newTestServer(stub *stubWebhookService) (*Server, *gin.Engine) {
	gin.SetMode(gin.TestMode)
	srv := &Server{
		log:        zap.NewNop(),
		cfg:        config.Config{APIKeys: []string{"sk_test_key"}},
		webhookSvc: stub,
	}

	router := gin.New()
	router.POST("/webhooks/billing", srv.HandleWebhook)
	v1 := router.Group("/v1", srv.APIKeyRequired())
	v1.GET("/failed-events", srv.ListFailedEvents)
	return srv, router
}

func TestHandleWebhookAcksSuccess(t *testing.T) {
	stub := &stubWebhookService{}
	_, router := newTestServer(stub)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/billing", bytes.NewBufferString(`{"id":"evt_1"}`))
	req.Header.Set("Signature", "t=1,v1=abc")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	require.JSONEq(t, `{"received": true}`, resp.Body.String())
	require.Len(t, stub.ingested, 1)
}

func TestHandleWebhookInvalidSignatureIs401(t *testing.T) {
	stub := &stubWebhookService{ingestErr: whdomain.ErrInvalidSignature}
	_, router := newTestServer(stub)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/billing", bytes.NewBufferString(`{}`))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	require.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestHandleWebhookMalformedPayloadIs400(t *testing.T) {
	stub := &stubWebhookService{ingestErr: whdomain.ErrMalformedPayload}
	_, router := newTestServer(stub)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/billing", bytes.NewBufferString(`not json`))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	require.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestHandleWebhookProcessingErrorStillAcks(t *testing.T) {
	stub := &stubWebhookService{ingestErr: errors.New("handler exploded")}
	_, router := newTestServer(stub)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/billing", bytes.NewBufferString(`{"id":"evt_1"}`))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	require.JSONEq(t, `{"received": true}`, resp.Body.String())
}

func TestAPIKeyRequired(t *testing.T) {
	stub := &stubWebhookService{}
	_, router := newTestServer(stub)

	req := httptest.NewRequest(http.MethodGet, "/v1/failed-events", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	require.Equal(t, http.StatusUnauthorized, resp.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/failed-events", nil)
	req.Header.Set("Authorization", "Bearer wrong_key")
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	require.Equal(t, http.StatusUnauthorized, resp.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/failed-events", nil)
	req.Header.Set("Authorization", "Bearer sk_test_key")
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)
}
