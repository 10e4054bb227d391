package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	whdomain "github.com/railzwaylabs/paygate/internal/webhook/domain"
	"go.uber.org/zap"
)

const signatureHeader = "Signature"

// HandleWebhook receives one provider delivery. The contract with the
// provider is narrow: 401 for a bad signature, 400 for a payload we cannot
// parse, 200 for everything else so the provider stops redelivering.
func (s *Server) HandleWebhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	env := c.Query("env")
	err = s.webhookSvc.Ingest(c.Request.Context(), payload, c.GetHeader(signatureHeader), env)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"received": true})
	case errors.Is(err, whdomain.ErrInvalidSignature):
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": gin.H{"message": "invalid_signature"}})
	case errors.Is(err, whdomain.ErrMalformedPayload):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": "malformed_payload"}})
	default:
		// Processing failed after the delivery was accepted. The event is
		// parked for replay, so the provider still gets a 200.
		s.log.Error("webhook processing", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"received": true})
	}
}
