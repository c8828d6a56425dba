package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/outbound-call-scheduler/internal/domain"
	"github.com/acme/outbound-call-scheduler/internal/repository"
	campaignsvc "github.com/acme/outbound-call-scheduler/internal/service/campaign"
	apperrors "github.com/acme/outbound-call-scheduler/pkg/errors"
)

type createCampaignRequest struct {
	Name           string `json:"name" validate:"required"`
	Type           string `json:"type" validate:"required"`
	ScriptTemplate string `json:"script_template" validate:"required"`
	MaxAttempts    int    `json:"max_attempts" validate:"omitempty,min=1,max=10"`
	RetryInterval  string `json:"retry_interval"`
	Priority       int    `json:"priority" validate:"omitempty,min=1,max=10"`
}

type updateCampaignRequest struct {
	Name           *string `json:"name"`
	ScriptTemplate *string `json:"script_template"`
	MaxAttempts    *int    `json:"max_attempts" validate:"omitempty,min=1,max=10"`
	RetryInterval  *string `json:"retry_interval"`
	Priority       *int    `json:"priority" validate:"omitempty,min=1,max=10"`
}

type campaignResponse struct {
	ID             uuid.UUID             `json:"id"`
	Name           string                `json:"name"`
	Type           domain.CampaignType   `json:"type"`
	Status         domain.CampaignStatus `json:"status"`
	ScriptTemplate string                `json:"script_template"`
	MaxAttempts    int                   `json:"max_attempts"`
	RetryInterval  string                `json:"retry_interval"`
	Priority       int                   `json:"priority"`
	CreatedAt      time.Time             `json:"created_at"`
	UpdatedAt      time.Time             `json:"updated_at"`
}

type listCampaignsResponse struct {
	Campaigns []campaignResponse `json:"campaigns"`
}

type campaignStatsResponse struct {
	CampaignID      uuid.UUID `json:"campaign_id"`
	TotalCalls      int64     `json:"total_calls"`
	Scheduled       int64     `json:"scheduled"`
	InProgress      int64     `json:"in_progress"`
	Completed       int64     `json:"completed"`
	Failed          int64     `json:"failed"`
	Cancelled       int64     `json:"cancelled"`
	SuccessRate     float64   `json:"success_rate"`
	AverageDuration string    `json:"average_duration"`
	TotalResults    int64     `json:"total_results"`
	ConversionRate  float64   `json:"conversion_rate"`
}

type dailyRollupResponse struct {
	Date      string `json:"date"`
	Total     int64  `json:"total"`
	Completed int64  `json:"completed"`
	Failed    int64  `json:"failed"`
}

type topCampaignResponse struct {
	CampaignID uuid.UUID `json:"campaign_id"`
	Total      int64     `json:"total"`
	Completed  int64     `json:"completed"`
	Failed     int64     `json:"failed"`
}

func (h *HandlerSet) createCampaign(ctx *fiber.Ctx) error {
	var req createCampaignRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return translateError(err)
	}

	input := campaignsvc.CreateInput{
		Name:           req.Name,
		Type:           domain.CampaignType(req.Type),
		ScriptTemplate: req.ScriptTemplate,
		MaxAttempts:    req.MaxAttempts,
		Priority:       req.Priority,
	}
	if req.RetryInterval != "" {
		d, err := time.ParseDuration(req.RetryInterval)
		if err != nil {
			return translateError(fmt.Errorf("%w: invalid retry_interval", apperrors.ErrValidation))
		}
		input.RetryInterval = d
	}

	campaign, err := h.campaigns.Create(ctx.Context(), input)
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusCreated).JSON(toCampaignResponse(campaign))
}

func (h *HandlerSet) listCampaigns(ctx *fiber.Ctx) error {
	limit, _ := strconv.Atoi(ctx.Query("limit", "50"))
	var afterID *uuid.UUID
	if afterStr := ctx.Query("after_id"); afterStr != "" {
		if id, err := uuid.Parse(afterStr); err == nil {
			afterID = &id
		}
	}

	campaigns, err := h.campaigns.List(ctx.Context(), afterID, limit)
	if err != nil {
		return translateError(err)
	}

	resp := listCampaignsResponse{Campaigns: make([]campaignResponse, 0, len(campaigns))}
	for _, c := range campaigns {
		resp.Campaigns = append(resp.Campaigns, toCampaignResponse(c))
	}

	return ctx.Status(http.StatusOK).JSON(resp)
}

func (h *HandlerSet) getCampaign(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}

	campaign, err := h.campaigns.Get(ctx.Context(), id)
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusOK).JSON(toCampaignResponse(campaign))
}

func (h *HandlerSet) updateCampaign(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}

	var req updateCampaignRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return translateError(err)
	}

	input := campaignsvc.UpdateInput{
		ID:             id,
		Name:           req.Name,
		ScriptTemplate: req.ScriptTemplate,
		MaxAttempts:    req.MaxAttempts,
		Priority:       req.Priority,
	}
	if req.RetryInterval != nil {
		d, err := time.ParseDuration(*req.RetryInterval)
		if err != nil {
			return translateError(fmt.Errorf("%w: invalid retry_interval", apperrors.ErrValidation))
		}
		input.RetryInterval = &d
	}

	campaign, err := h.campaigns.Update(ctx.Context(), input)
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusOK).JSON(toCampaignResponse(campaign))
}

func (h *HandlerSet) activateCampaign(ctx *fiber.Ctx) error {
	return h.setStatus(ctx, domain.CampaignStatusActive)
}

func (h *HandlerSet) pauseCampaign(ctx *fiber.Ctx) error {
	return h.setStatus(ctx, domain.CampaignStatusPaused)
}

func (h *HandlerSet) completeCampaign(ctx *fiber.Ctx) error {
	return h.setStatus(ctx, domain.CampaignStatusCompleted)
}

func (h *HandlerSet) setStatus(ctx *fiber.Ctx, status domain.CampaignStatus) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}
	if err := h.campaigns.SetStatus(ctx.Context(), id, status); err != nil {
		return translateError(err)
	}
	return ctx.SendStatus(http.StatusNoContent)
}

func (h *HandlerSet) campaignStats(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}

	stats, err := h.stats.CampaignStats(ctx.Context(), id)
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusOK).JSON(campaignStatsResponse{
		CampaignID:      stats.CampaignID,
		TotalCalls:      stats.TotalCalls,
		Scheduled:       stats.Scheduled,
		InProgress:      stats.InProgress,
		Completed:       stats.Completed,
		Failed:          stats.Failed,
		Cancelled:       stats.Cancelled,
		SuccessRate:     stats.SuccessRate,
		AverageDuration: stats.AverageDuration.String(),
		TotalResults:    stats.TotalResults,
		ConversionRate:  stats.ConversionRate,
	})
}

func (h *HandlerSet) dailyReport(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}

	until := time.Now().UTC()
	from := until.AddDate(0, 0, -30)
	if fromStr := ctx.Query("from"); fromStr != "" {
		if t, err := time.Parse(time.RFC3339, fromStr); err == nil {
			from = t
		}
	}
	if untilStr := ctx.Query("until"); untilStr != "" {
		if t, err := time.Parse(time.RFC3339, untilStr); err == nil {
			until = t
		}
	}

	rollups, err := h.stats.DailyReport(ctx.Context(), id, from, until)
	if err != nil {
		return translateError(err)
	}

	resp := make([]dailyRollupResponse, 0, len(rollups))
	for _, r := range rollups {
		resp = append(resp, dailyRollupResponse{
			Date:      r.Date.Format("2006-01-02"),
			Total:     r.Total,
			Completed: r.Completed,
			Failed:    r.Failed,
		})
	}

	return ctx.Status(http.StatusOK).JSON(fiber.Map{"days": resp})
}

func (h *HandlerSet) topCampaigns(ctx *fiber.Ctx) error {
	limit, _ := strconv.Atoi(ctx.Query("limit", "10"))

	rollups, err := h.stats.TopCampaigns(ctx.Context(), limit)
	if err != nil {
		return translateError(err)
	}

	resp := make([]topCampaignResponse, 0, len(rollups))
	for _, r := range rollups {
		resp = append(resp, toTopCampaignResponse(r))
	}

	return ctx.Status(http.StatusOK).JSON(fiber.Map{"campaigns": resp})
}

func toCampaignResponse(campaign *domain.Campaign) campaignResponse {
	return campaignResponse{
		ID:             campaign.ID,
		Name:           campaign.Name,
		Type:           campaign.Type,
		Status:         campaign.Status,
		ScriptTemplate: campaign.ScriptTemplate,
		MaxAttempts:    campaign.MaxAttempts,
		RetryInterval:  campaign.RetryInterval.String(),
		Priority:       campaign.Priority,
		CreatedAt:      campaign.CreatedAt,
		UpdatedAt:      campaign.UpdatedAt,
	}
}

func toTopCampaignResponse(r repository.CampaignRollup) topCampaignResponse {
	return topCampaignResponse{
		CampaignID: r.CampaignID,
		Total:      r.Total,
		Completed:  r.Completed,
		Failed:     r.Failed,
	}
}
