package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"goride-sos/internal/models"
	"goride-sos/internal/repositories/interfaces"
	"goride-sos/internal/services"
	"goride-sos/internal/utils"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type SOSHandler struct {
	stateMachine services.StateMachine
	relay        services.LocationRelay
	coordinator  services.ResponseCoordinator
	enricher     *services.AddressEnricher
	repo         interfaces.EmergencyRepository
}

func NewSOSHandler(
	stateMachine services.StateMachine,
	relay services.LocationRelay,
	coordinator services.ResponseCoordinator,
	enricher *services.AddressEnricher,
	repo interfaces.EmergencyRepository,
) *SOSHandler {
	return &SOSHandler{
		stateMachine: stateMachine,
		relay:        relay,
		coordinator:  coordinator,
		enricher:     enricher,
		repo:         repo,
	}
}

type TriggerSOSRequest struct {
	Type        models.EmergencyType   `json:"type" binding:"required"`
	Location    *models.LocationSample `json:"location"`
	RideContext *models.RideContext    `json:"ride_context"`
}

type LocationReportRequest struct {
	Latitude  float64   `json:"latitude" binding:"required,min=-90,max=90"`
	Longitude float64   `json:"longitude" binding:"required,min=-180,max=180"`
	Accuracy  float64   `json:"accuracy"`
	Timestamp time.Time `json:"timestamp" binding:"required"`
}

// DetailRequest carries the free-text annotation for operator actions.
// Resolve clients send it as "resolution"; "detail" is accepted everywhere
// as the generic form.
type DetailRequest struct {
	Detail     string `json:"detail"`
	Resolution string `json:"resolution"`
}

func (r *DetailRequest) text() string {
	if r.Resolution != "" {
		return r.Resolution
	}
	return r.Detail
}

type ResponderRequest struct {
	ResponderID string `json:"responder_id" binding:"required"`
}

var validEmergencyTypes = map[models.EmergencyType]bool{
	models.EmergencyTypeAccident:       true,
	models.EmergencyTypeMedical:        true,
	models.EmergencyTypeHarassment:     true,
	models.EmergencyTypeBreakdown:      true,
	models.EmergencyTypeRouteDeviation: true,
	models.EmergencyTypeOther:          true,
}

// TriggerSOS creates a new emergency. Triggering twice for the same ride is
// safe: the second call returns the existing emergency with 200 instead of
// creating a duplicate.
func (h *SOSHandler) TriggerSOS(c *gin.Context) {
	var request TriggerSOSRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		utils.BadRequestResponse(c, "Invalid request: "+err.Error())
		return
	}

	if !validEmergencyTypes[request.Type] {
		utils.BadRequestResponse(c, "Unknown emergency type: "+string(request.Type))
		return
	}

	reporterID, ok := currentUserID(c)
	if !ok {
		return
	}

	emergency, existing, err := h.stateMachine.Trigger(c.Request.Context(), reporterID, request.Type, request.Location, request.RideContext)
	if err != nil {
		h.respondError(c, err)
		return
	}

	if existing {
		utils.SuccessResponse(c, "Emergency already active", gin.H{
			"emergency": emergency,
			"existing":  true,
		})
		return
	}

	if h.enricher != nil {
		h.enricher.EnrichAsync(emergency.ID, emergency.LastLocation)
	}

	utils.CreatedResponse(c, "Emergency triggered", gin.H{
		"emergency": emergency,
		"existing":  false,
	})
}

// ReportLocation ingests one location sample for a trackable emergency.
func (h *SOSHandler) ReportLocation(c *gin.Context) {
	id, ok := emergencyID(c)
	if !ok {
		return
	}

	var request LocationReportRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		utils.BadRequestResponse(c, "Invalid request: "+err.Error())
		return
	}

	sample := &models.LocationSample{
		Latitude:  request.Latitude,
		Longitude: request.Longitude,
		Accuracy:  request.Accuracy,
		Timestamp: request.Timestamp,
	}

	if err := h.relay.ReportLocation(c.Request.Context(), id, sample); err != nil {
		h.respondError(c, err)
		return
	}

	utils.NoContentResponse(c)
}

// GetEmergency returns the full emergency record including its timeline.
func (h *SOSHandler) GetEmergency(c *gin.Context) {
	id, ok := emergencyID(c)
	if !ok {
		return
	}

	emergency, err := h.stateMachine.Get(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}

	utils.SuccessResponse(c, "Emergency retrieved", emergency)
}

// CancelOwn lets the reporter withdraw their own alert.
func (h *SOSHandler) CancelOwn(c *gin.Context) {
	id, ok := emergencyID(c)
	if !ok {
		return
	}

	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var request DetailRequest
	_ = c.ShouldBindJSON(&request)

	emergency, err := h.stateMachine.Get(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if emergency.ReporterID != userID {
		utils.ForbiddenResponse(c)
		return
	}

	updated, err := h.coordinator.Cancel(c.Request.Context(), id, userID.Hex(), request.Detail)
	if err != nil {
		h.respondError(c, err)
		return
	}

	utils.SuccessResponse(c, "Emergency cancelled", updated)
}

// ListEmergencies returns emergencies filtered by status for the operator
// console. Without a status filter it returns everything non-terminal.
func (h *SOSHandler) ListEmergencies(c *gin.Context) {
	status := models.EmergencyStatus(c.Query("status"))

	if status == "" {
		emergencies, err := h.repo.ListActive(c.Request.Context())
		if err != nil {
			utils.InternalServerErrorResponse(c)
			return
		}
		utils.SuccessResponse(c, "Active emergencies retrieved", emergencies)
		return
	}

	params := utils.GetPaginationParams(c)
	emergencies, total, err := h.repo.ListByStatus(c.Request.Context(), status, params)
	if err != nil {
		utils.InternalServerErrorResponse(c)
		return
	}

	utils.SuccessResponseWithMeta(c, "Emergencies retrieved", emergencies, &utils.Meta{
		Pagination: utils.NewPaginationMeta(params, total),
		Count:      len(emergencies),
	})
}

func (h *SOSHandler) Acknowledge(c *gin.Context) {
	h.operatorOp(c, func(id, operatorID primitive.ObjectID, _ string) (*models.Emergency, error) {
		return h.coordinator.Acknowledge(c.Request.Context(), id, operatorID)
	}, "Emergency acknowledged")
}

func (h *SOSHandler) DispatchHelp(c *gin.Context) {
	h.operatorOp(c, func(id, operatorID primitive.ObjectID, detail string) (*models.Emergency, error) {
		return h.coordinator.DispatchHelp(c.Request.Context(), id, operatorID, detail)
	}, "Help dispatched")
}

func (h *SOSHandler) Escalate(c *gin.Context) {
	h.operatorOp(c, func(id, operatorID primitive.ObjectID, detail string) (*models.Emergency, error) {
		return h.coordinator.Escalate(c.Request.Context(), id, operatorID, detail)
	}, "Emergency escalated")
}

func (h *SOSHandler) Resolve(c *gin.Context) {
	h.operatorOp(c, func(id, operatorID primitive.ObjectID, detail string) (*models.Emergency, error) {
		return h.coordinator.Resolve(c.Request.Context(), id, operatorID, detail)
	}, "Emergency resolved")
}

func (h *SOSHandler) Cancel(c *gin.Context) {
	h.operatorOp(c, func(id, operatorID primitive.ObjectID, detail string) (*models.Emergency, error) {
		return h.coordinator.Cancel(c.Request.Context(), id, operatorID.Hex(), detail)
	}, "Emergency cancelled")
}

func (h *SOSHandler) AssignResponder(c *gin.Context) {
	h.responderOp(c, h.coordinator.AssignResponder, "Responder assigned")
}

func (h *SOSHandler) UnassignResponder(c *gin.Context) {
	h.responderOp(c, h.coordinator.UnassignResponder, "Responder unassigned")
}

func (h *SOSHandler) operatorOp(c *gin.Context, op func(id, operatorID primitive.ObjectID, detail string) (*models.Emergency, error), message string) {
	id, ok := emergencyID(c)
	if !ok {
		return
	}

	operatorID, ok := currentUserID(c)
	if !ok {
		return
	}

	var request DetailRequest
	_ = c.ShouldBindJSON(&request)

	emergency, err := op(id, operatorID, request.text())
	if err != nil {
		h.respondError(c, err)
		return
	}

	utils.SuccessResponse(c, message, emergency)
}

func (h *SOSHandler) responderOp(c *gin.Context, op func(ctx context.Context, id, operatorID, responderID primitive.ObjectID) (*models.Emergency, error), message string) {
	id, ok := emergencyID(c)
	if !ok {
		return
	}

	operatorID, ok := currentUserID(c)
	if !ok {
		return
	}

	var request ResponderRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		utils.BadRequestResponse(c, "Invalid request: "+err.Error())
		return
	}

	responderID, err := primitive.ObjectIDFromHex(request.ResponderID)
	if err != nil {
		utils.BadRequestResponse(c, "Invalid responder ID")
		return
	}

	emergency, err := op(c.Request.Context(), id, operatorID, responderID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	utils.SuccessResponse(c, message, emergency)
}

func (h *SOSHandler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrEmergencyNotFound):
		utils.NotFoundResponse(c, "Emergency")
	case errors.Is(err, models.ErrEmergencyNotTrackable):
		utils.ConflictResponse(c, "EMERGENCY_NOT_TRACKABLE", "Emergency no longer accepts location updates")
	case errors.Is(err, models.ErrEmergencyAlreadyTerminal):
		utils.ConflictResponse(c, "EMERGENCY_ALREADY_TERMINAL", "Emergency is already resolved or cancelled")
	case errors.Is(err, models.ErrInvalidTransition):
		utils.ConflictResponse(c, "INVALID_TRANSITION", "Requested status change is not allowed")
	case errors.Is(err, models.ErrResolutionRequired):
		utils.BadRequestResponse(c, "Resolution detail is required")
	case errors.Is(err, models.ErrDuplicateActiveEmergency):
		utils.ConflictResponse(c, "DUPLICATE_EMERGENCY", "An active emergency already exists for this ride")
	default:
		utils.ErrorResponse(c, http.StatusInternalServerError, "SOS_OPERATION_FAILED", err.Error())
	}
}

func emergencyID(c *gin.Context) (primitive.ObjectID, bool) {
	id, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		utils.BadRequestResponse(c, "Invalid emergency ID")
		return primitive.NilObjectID, false
	}
	return id, true
}

func currentUserID(c *gin.Context) (primitive.ObjectID, bool) {
	userID, exists := c.Get("user_id")
	if !exists {
		utils.UnauthorizedResponse(c)
		return primitive.NilObjectID, false
	}

	userObjectID, ok := userID.(primitive.ObjectID)
	if !ok {
		utils.BadRequestResponse(c, "Invalid user ID")
		return primitive.NilObjectID, false
	}

	return userObjectID, true
}
