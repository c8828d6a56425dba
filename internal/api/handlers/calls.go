package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/outbound-call-scheduler/internal/domain"
	callsvc "github.com/acme/outbound-call-scheduler/internal/service/call"
)

type scheduleCallRequest struct {
	CampaignID  string            `json:"campaign_id" validate:"required,uuid"`
	PatientID   string            `json:"patient_id" validate:"required"`
	PhoneNumber string            `json:"phone_number" validate:"required"`
	ScheduledAt time.Time         `json:"scheduled_at" validate:"required"`
	Variables   map[string]string `json:"variables"`
	Notes       *string           `json:"notes"`
}

type callResponse struct {
	ID           uuid.UUID         `json:"id"`
	CampaignID   uuid.UUID         `json:"campaign_id"`
	PatientID    string            `json:"patient_id"`
	PhoneNumber  string            `json:"phone_number"`
	Status       domain.TaskStatus `json:"status"`
	ScheduledAt  time.Time         `json:"scheduled_at"`
	AttemptedAt  *time.Time        `json:"attempted_at,omitempty"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
	Attempts     int               `json:"attempts"`
	MaxAttempts  int               `json:"max_attempts"`
	CallDuration string            `json:"call_duration,omitempty"`
	ResponseData map[string]any    `json:"response_data,omitempty"`
	Notes        *string           `json:"notes,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

type listCallsResponse struct {
	Calls []callResponse `json:"calls"`
}

func (h *HandlerSet) scheduleCall(ctx *fiber.Ctx) error {
	var req scheduleCallRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return translateError(err)
	}

	campaignID, err := uuid.Parse(req.CampaignID)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}

	taskID, err := h.calls.Schedule(ctx.Context(), callsvc.ScheduleInput{
		CampaignID:  campaignID,
		PatientID:   req.PatientID,
		PhoneNumber: req.PhoneNumber,
		ScheduledAt: req.ScheduledAt,
		Variables:   req.Variables,
		Notes:       req.Notes,
	})
	if err != nil {
		return translateError(err)
	}

	task, err := h.calls.Get(ctx.Context(), taskID)
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusCreated).JSON(toCallResponse(task))
}

func (h *HandlerSet) getCall(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid call id")
	}

	task, err := h.calls.Get(ctx.Context(), id)
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusOK).JSON(toCallResponse(task))
}

func (h *HandlerSet) cancelCall(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid call id")
	}

	if err := h.calls.Cancel(ctx.Context(), id); err != nil {
		return translateError(err)
	}
	return ctx.SendStatus(http.StatusNoContent)
}

func (h *HandlerSet) listCampaignCalls(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}

	limit, _ := strconv.Atoi(ctx.Query("limit", "100"))
	offset, _ := strconv.Atoi(ctx.Query("offset", "0"))

	tasks, err := h.calls.ListByCampaign(ctx.Context(), id, limit, offset)
	if err != nil {
		return translateError(err)
	}

	resp := listCallsResponse{Calls: make([]callResponse, 0, len(tasks))}
	for _, t := range tasks {
		resp.Calls = append(resp.Calls, toCallResponse(t))
	}

	return ctx.Status(http.StatusOK).JSON(resp)
}

func toCallResponse(task *domain.CallTask) callResponse {
	resp := callResponse{
		ID:           task.ID,
		CampaignID:   task.CampaignID,
		PatientID:    task.PatientID,
		PhoneNumber:  task.PhoneNumber,
		Status:       task.Status,
		ScheduledAt:  task.ScheduledAt,
		AttemptedAt:  task.AttemptedAt,
		CompletedAt:  task.CompletedAt,
		Attempts:     task.Attempts,
		MaxAttempts:  task.MaxAttempts,
		ResponseData: task.ResponseData,
		Notes:        task.Notes,
		CreatedAt:    task.CreatedAt,
		UpdatedAt:    task.UpdatedAt,
	}
	if task.CallDuration > 0 {
		resp.CallDuration = task.CallDuration.String()
	}
	return resp
}
