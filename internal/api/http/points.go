package apihttp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"telemetry-engine/internal/api/respond"
	points "telemetry-engine/internal/points/domain"
)

// PointService is the point identity use case surface.
type PointService interface {
	GetPoint(ctx context.Context, systemID int64, pointIndex int) (points.Point, error)
	UpdatePoint(ctx context.Context, systemID int64, pointIndex int, patch points.Patch) (points.Point, error)
}

// PointHandler serves /api/v1/systems/{systemID}/points/{pointIndex}.
type PointHandler struct {
	service PointService
	logger  *zap.Logger
}

// NewPointHandler constructs a handler.
func NewPointHandler(service PointService, logger *zap.Logger) (*PointHandler, error) {
	if service == nil {
		return nil, errors.New("point handler: nil service")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PointHandler{service: service, logger: logger.Named("http.points")}, nil
}

type pointResponse struct {
	SystemID         int64   `json:"systemId"`
	PointIndex       int     `json:"pointIndex"`
	PhysicalPathTail string  `json:"physicalPathTail"`
	LogicalPathStem  *string `json:"logicalPathStem"`
	LogicalPath      *string `json:"logicalPath"`
	MetricType       string  `json:"metricType"`
	MetricUnit       string  `json:"metricUnit"`
	Transform        string  `json:"transform,omitempty"`
	Integration      string  `json:"integration,omitempty"`
	Resolution       string  `json:"resolution"`
	Active           bool    `json:"active"`
	Subsystem        string  `json:"subsystem,omitempty"`
	DefaultName      string  `json:"defaultName,omitempty"`
	DisplayName      *string `json:"displayName"`
	Name             string  `json:"name"`
	CreatedAt        string  `json:"createdAt"`
	UpdatedAt        string  `json:"updatedAt"`
}

func toPointResponse(p points.Point) pointResponse {
	resp := pointResponse{
		SystemID:         p.SystemID,
		PointIndex:       p.PointIndex,
		PhysicalPathTail: p.PhysicalPathTail,
		LogicalPathStem:  p.LogicalPathStem,
		MetricType:       string(p.MetricType),
		MetricUnit:       p.MetricUnit,
		Transform:        string(p.Transform),
		Integration:      string(p.Integration),
		Resolution:       string(p.EffectiveResolution()),
		Active:           p.Active,
		Subsystem:        p.Subsystem,
		DefaultName:      p.DefaultName,
		DisplayName:      p.DisplayName,
		Name:             p.Name(),
		CreatedAt:        p.CreatedAt.Format(time.RFC3339),
		UpdatedAt:        p.UpdatedAt.Format(time.RFC3339),
	}
	if path, ok := p.LogicalPath(); ok {
		resp.LogicalPath = &path
	}
	return resp
}

// Get handles GET.
func (h *PointHandler) Get(w http.ResponseWriter, r *http.Request) {
	systemID, err := systemIDVar(r)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	pointIndex, err := pointIndexVar(r)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	p, err := h.service.GetPoint(r.Context(), systemID, pointIndex)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, toPointResponse(p))
}

// Patch handles PATCH. An explicit null clears logicalPathStem or displayName.
func (h *PointHandler) Patch(w http.ResponseWriter, r *http.Request) {
	systemID, err := systemIDVar(r)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	pointIndex, err := pointIndexVar(r)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		respond.BadRequest(w, "read body error")
		return
	}
	defer r.Body.Close()

	patch, err := decodePatch(body)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	p, err := h.service.UpdatePoint(r.Context(), systemID, pointIndex, patch)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, toPointResponse(p))
}

func decodePatch(body []byte) (points.Patch, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return points.Patch{}, &points.ValidationError{Field: "body", Input: string(body), Reason: "must be a JSON object"}
	}
	var patch points.Patch
	for key, raw := range fields {
		isNull := string(raw) == "null"
		switch key {
		case "logicalPathStem":
			if isNull {
				patch.ClearStem = true
				continue
			}
			var stem string
			if err := json.Unmarshal(raw, &stem); err != nil {
				return patch, &points.ValidationError{Field: key, Input: string(raw), Reason: "must be a string or null"}
			}
			patch.LogicalPathStem = &stem
		case "displayName":
			if isNull {
				patch.ClearDisplayName = true
				continue
			}
			var name string
			if err := json.Unmarshal(raw, &name); err != nil {
				return patch, &points.ValidationError{Field: key, Input: string(raw), Reason: "must be a string or null"}
			}
			patch.DisplayName = &name
		case "active":
			var active bool
			if err := json.Unmarshal(raw, &active); err != nil {
				return patch, &points.ValidationError{Field: key, Input: string(raw), Reason: "must be a boolean"}
			}
			patch.Active = &active
		case "transform":
			transform := "null"
			if !isNull {
				if err := json.Unmarshal(raw, &transform); err != nil {
					return patch, &points.ValidationError{Field: key, Input: string(raw), Reason: "must be a string or null"}
				}
			}
			patch.Transform = &transform
		default:
			return patch, &points.ValidationError{Field: key, Input: string(raw), Reason: "is not editable"}
		}
	}
	return patch, nil
}
