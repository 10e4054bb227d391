package server

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	creditservice "github.com/railzwaylabs/paygate/internal/credit/service"
	orgdomain "github.com/railzwaylabs/paygate/internal/organization/domain"
	subscriptiondomain "github.com/railzwaylabs/paygate/internal/subscription/domain"
)

func (s *Server) orgID(c *gin.Context) (snowflake.ID, bool) {
	id, err := snowflake.ParseString(c.Param("org_id"))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return 0, false
	}
	return id, true
}

func (s *Server) GetOrganization(c *gin.Context) {
	id, ok := s.orgID(c)
	if !ok {
		return
	}

	org, err := s.orgRepo.FindByID(c.Request.Context(), s.db, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if org == nil {
		AbortWithError(c, orgdomain.ErrOrganizationNotFound)
		return
	}
	respondData(c, org)
}

type scheduleDowngradeRequest struct {
	TargetTier  string    `json:"target_tier" binding:"required"`
	EffectiveAt time.Time `json:"effective_at" binding:"required"`
}

func (s *Server) ScheduleDowngrade(c *gin.Context) {
	id, ok := s.orgID(c)
	if !ok {
		return
	}

	var req scheduleDowngradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	err := s.subSvc.ScheduleDowngrade(c.Request.Context(), subscriptiondomain.ScheduleDowngradeRequest{
		OrgID:       id,
		TargetTier:  orgdomain.Tier(req.TargetTier),
		EffectiveAt: req.EffectiveAt,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, gin.H{"scheduled": true})
}

func (s *Server) UndoDowngrade(c *gin.Context) {
	id, ok := s.orgID(c)
	if !ok {
		return
	}

	if err := s.subSvc.UndoDowngrade(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, gin.H{"cancelled": true})
}

type scheduleCancellationRequest struct {
	EndsAt time.Time `json:"ends_at" binding:"required"`
}

func (s *Server) ScheduleCancellation(c *gin.Context) {
	id, ok := s.orgID(c)
	if !ok {
		return
	}

	var req scheduleCancellationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	err := s.subSvc.ScheduleCancellation(c.Request.Context(), subscriptiondomain.ScheduleCancellationRequest{
		OrgID:  id,
		EndsAt: req.EndsAt,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, gin.H{"scheduled": true})
}

func (s *Server) UndoCancellation(c *gin.Context) {
	id, ok := s.orgID(c)
	if !ok {
		return
	}

	if err := s.subSvc.UndoCancellation(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, gin.H{"cancelled": true})
}

type debitUsageRequest struct {
	AmountCents int64  `json:"amount_cents" binding:"required"`
	Reason      string `json:"reason"`
}

func (s *Server) DebitUsage(c *gin.Context) {
	id, ok := s.orgID(c)
	if !ok {
		return
	}

	var req debitUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	result, err := s.creditSvc.DebitUsage(c.Request.Context(), creditservice.DebitUsageRequest{
		OrgID:       id,
		AmountCents: req.AmountCents,
		Reason:      req.Reason,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, result)
}
