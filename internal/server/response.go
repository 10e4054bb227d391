package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	creditdomain "github.com/railzwaylabs/paygate/internal/credit/domain"
	orgdomain "github.com/railzwaylabs/paygate/internal/organization/domain"
	subscriptiondomain "github.com/railzwaylabs/paygate/internal/subscription/domain"
	whdomain "github.com/railzwaylabs/paygate/internal/webhook/domain"
)

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrInvalidRequest = errors.New("invalid_request")
)

func respondData(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"data": data})
}

// AbortWithError maps domain errors onto status codes. Anything unmapped
// is a 500 with an opaque body.
func AbortWithError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	message := "internal_error"

	switch {
	case errors.Is(err, ErrUnauthorized):
		status, message = http.StatusUnauthorized, err.Error()
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, orgdomain.ErrInvalidTier),
		errors.Is(err, creditdomain.ErrInvalidAmount),
		errors.Is(err, subscriptiondomain.ErrInvalidEffectiveAt):
		status, message = http.StatusBadRequest, err.Error()
	case errors.Is(err, orgdomain.ErrOrganizationNotFound),
		errors.Is(err, whdomain.ErrFailedEventNotFound):
		status, message = http.StatusNotFound, err.Error()
	case errors.Is(err, subscriptiondomain.ErrCancellationScheduled),
		errors.Is(err, subscriptiondomain.ErrDowngradeScheduled),
		errors.Is(err, subscriptiondomain.ErrTierNotLower):
		status, message = http.StatusConflict, err.Error()
	}

	c.AbortWithStatusJSON(status, gin.H{"error": gin.H{"message": message}})
}
