package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/factord/internal/catalog"
	"github.com/fyrsmithlabs/factord/internal/engine"
	"github.com/fyrsmithlabs/factord/internal/evidence"
	"github.com/fyrsmithlabs/factord/internal/scope"
)

// ErrorResponse is the JSON error body.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SubmitEvidenceRequest is the POST evidence body.
type SubmitEvidenceRequest struct {
	// Scope maps dimension names to concrete values. Omitted dimensions
	// are unspecified.
	Scope map[string]string `json:"scope"`

	// Rating is the 1-5 assessment.
	Rating int `json:"rating"`

	// Tier is the source quality tier, 1-5.
	Tier int `json:"tier"`

	// SourceRef points at where the evidence came from.
	SourceRef string `json:"source_ref,omitempty"`

	// UserConfirmed marks explicit user ground truth.
	UserConfirmed bool `json:"user_confirmed,omitempty"`
}

// SubmitEvidenceResponse returns the instance the evidence landed on.
type SubmitEvidenceResponse struct {
	InstanceID string `json:"instance_id"`
}

// FactorScopesResponse enumerates observed scope values for a factor.
type FactorScopesResponse struct {
	FactorID   string              `json:"factor_id"`
	Dimensions map[string][]string `json:"dimensions"`
}

func (s *Server) handleListFactors(c echo.Context) error {
	cat := s.svc.Catalog()
	defs := make([]*catalog.FactorDefinition, 0, cat.Len())
	for _, id := range cat.FactorIDs() {
		def, err := cat.Get(id)
		if err != nil {
			continue
		}
		defs = append(defs, def)
	}
	return c.JSON(http.StatusOK, defs)
}

func (s *Server) handleGetFactor(c echo.Context) error {
	def, err := s.svc.Catalog().Get(c.Param("factor"))
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, def)
}

func (s *Server) handleGetScopes(c echo.Context) error {
	factorID := c.Param("factor")
	if _, err := s.svc.Catalog().Get(factorID); err != nil {
		return s.writeError(c, err)
	}

	reg := s.svc.Registry()
	dims := make(map[string][]string)
	for _, dim := range reg.Dimensions(factorID) {
		dims[dim] = reg.Values(factorID, dim)
	}
	return c.JSON(http.StatusOK, FactorScopesResponse{
		FactorID:   factorID,
		Dimensions: dims,
	})
}

func (s *Server) handleResolve(c echo.Context) error {
	key := scope.Key{}
	for dim, values := range c.QueryParams() {
		if len(values) > 0 && values[0] != "" {
			key[dim] = values[0]
		}
	}

	res, err := s.svc.Resolve(c.Request().Context(), c.Param("factor"), key)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleHierarchy(c echo.Context) error {
	h, err := s.svc.GetHierarchy(c.Request().Context(), c.Param("factor"))
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, h)
}

func (s *Server) handleSubmitEvidence(c echo.Context) error {
	var req SubmitEvidenceRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "bad_request",
			Message: "invalid request body",
		})
	}

	key := scope.Key{}
	for dim, value := range req.Scope {
		if value != "" {
			key[dim] = value
		}
	}

	piece := evidence.Piece{
		Rating:        req.Rating,
		Tier:          req.Tier,
		Timestamp:     time.Now().UTC(),
		SourceRef:     req.SourceRef,
		UserConfirmed: req.UserConfirmed,
	}

	id, err := s.svc.SubmitEvidence(c.Request().Context(), c.Param("factor"), key, piece)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusAccepted, SubmitEvidenceResponse{InstanceID: id})
}

// writeError maps engine errors onto HTTP statuses. Absence of an
// applicable instance is a distinct, typed 404 so clients never mistake
// it for a transport failure.
func (s *Server) writeError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, engine.ErrNoApplicableInstance):
		return c.JSON(http.StatusNotFound, ErrorResponse{
			Code:    "no_applicable_instance",
			Message: err.Error(),
		})
	case errors.Is(err, catalog.ErrUnknownFactor):
		return c.JSON(http.StatusNotFound, ErrorResponse{
			Code:    "unknown_factor",
			Message: err.Error(),
		})
	case errors.Is(err, catalog.ErrInvalidScope):
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "invalid_scope",
			Message: err.Error(),
		})
	case errors.Is(err, evidence.ErrInvalidRating), errors.Is(err, evidence.ErrInvalidTier):
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "invalid_evidence",
			Message: err.Error(),
		})
	default:
		s.logger.Error("request failed",
			zap.String("path", c.Path()),
			zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:    "internal",
			Message: "internal error",
		})
	}
}
