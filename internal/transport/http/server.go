// package http implements the HTTP transport layer for the policy
// engine. It decodes incoming requests, resolves the tenant from the
// X-Tenant-ID header, calls the appropriate service methods, and
// encodes the responses.
package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/crmforge/policy-engine/internal/apperrors"
	"github.com/crmforge/policy-engine/internal/domain"
	"github.com/crmforge/policy-engine/internal/service"
	"github.com/crmforge/policy-engine/internal/validation"
	"github.com/crmforge/policy-engine/pkg/logger/sl"
)

// Server holds the dependencies for the HTTP server.
type Server struct {
	log               *slog.Logger
	slaService        service.SLAService
	assignmentService service.AssignmentService
}

// NewServer creates a new instance of the HTTP server.
func NewServer(
	log *slog.Logger,
	ss service.SLAService,
	as service.AssignmentService,
) *Server {
	return &Server{
		log:               log,
		slaService:        ss,
		assignmentService: as,
	}
}

// Routes sets up the router with all middleware and API endpoints.
// Every API route sits behind the tenant middleware; /metrics does not.
func (s *Server) Routes() http.Handler {
	mux := chi.NewRouter()

	mux.Use(s.requestID)
	mux.Use(s.logRequest)
	mux.Use(s.metricsMiddleware)

	mux.Handle("/metrics", promhttp.Handler())

	mux.Group(func(r chi.Router) {
		r.Use(s.tenantID)

		r.Route("/sla", func(r chi.Router) {
			r.Get("/", s.ListSLAs)
			r.Post("/", s.CreateSLA)
			r.Post("/apply", s.ApplySLA)
			r.Get("/{id}", s.GetSLA)
			r.Put("/{id}", s.UpdateSLA)
			r.Delete("/{id}", s.DeleteSLA)
		})

		r.Route("/assignment-rules", func(r chi.Router) {
			r.Get("/", s.ListRules)
			r.Post("/", s.CreateRule)
			r.Get("/{id}", s.GetRule)
			r.Put("/{id}", s.UpdateRule)
			r.Delete("/{id}", s.DeleteRule)
		})

		r.Route("/assignments", func(r chi.Router) {
			r.Get("/", s.ListAssignments)
			r.Post("/", s.CreateAssignment)
			r.Post("/apply", s.ApplyRules)
			r.Get("/stats", s.GetStats)
			r.Post("/{id}/complete", s.CompleteAssignment)
			r.Post("/{id}/cancel", s.CancelAssignment)
		})
	})

	return mux
}

// ----------------------------------------------------------------------
// SLA handlers
// ----------------------------------------------------------------------

func (s *Server) ListSLAs(w http.ResponseWriter, r *http.Request) {
	const op = "internal.transport.http.ListSLAs"

	slas, err := s.slaService.ListSLAs(r.Context(), getTenantID(r.Context()))
	if err != nil {
		s.handleServiceError(w, r, op, err)
		return
	}

	s.respond(w, http.StatusOK, map[string][]slaResponse{"slas": toSLAResponses(slas)})
}

func (s *Server) GetSLA(w http.ResponseWriter, r *http.Request) {
	const op = "internal.transport.http.GetSLA"

	slaID, err := pathID(r)
	if err != nil {
		s.handleServiceError(w, r, op, err)
		return
	}

	sla, err := s.slaService.GetSLA(r.Context(), getTenantID(r.Context()), slaID)
	if err != nil {
		s.handleServiceError(w, r, op, err)
		return
	}

	s.respond(w, http.StatusOK, map[string]slaResponse{"sla": toSLAResponse(sla)})
}

func (s *Server) CreateSLA(w http.ResponseWriter, r *http.Request) {
	const op = "internal.transport.http.CreateSLA"

	var req createSLARequest
	if err := s.decodeAndValidate(r, &req); err != nil {
		s.handleServiceError(w, r, op, err)
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	sla, err := s.slaService.CreateSLA(r.Context(), getTenantID(r.Context()), service.CreateSLAInput{
		Name:         req.Name,
		AppliesTo:    req.AppliesTo,
		Condition:    req.Condition,
		Enabled:      enabled,
		Priorities:   tierInputs(req.Priorities),
		BusinessDays: dayInputs(req.BusinessDays),
	})
	if err != nil {
		s.handleServiceError(w, r, op, err)
		return
	}

	s.respond(w, http.StatusCreated, map[string]slaResponse{"sla": toSLAResponse(sla)})
}

func (s *Server) UpdateSLA(w http.ResponseWriter, r *http.Request) {
	const op = "internal.transport.http.UpdateSLA"

	slaID, err := pathID(r)
	if err != nil {
		s.handleServiceError(w, r, op, err)
		return
	}

	var req updateSLARequest
	if err := s.decodeAndValidate(r, &req); err != nil {
		s.handleServiceError(w, r, op, err)
		return
	}

	sla, err := s.slaService.UpdateSLA(r.Context(), getTenantID(r.Context()), slaID, service.UpdateSLAInput{
		Name:         req.Name,
		AppliesTo:    req.AppliesTo,
		Condition:    req.Condition,
		Enabled:      req.Enabled,
		Priorities:   tierInputs(req.Priorities),
		BusinessDays: dayInputs(req.BusinessDays),
	})
	if err != nil {
		s.handleServiceError(w, r, op, err)
		return
	}

	s.respond(w, http.StatusOK, map[string]slaResponse{"sla": toSLAResponse(sla)})
}

func (s *Server) DeleteSLA(w http.ResponseWriter, r *http.Request) {
	const op = "internal.transport.http.DeleteSLA"

	slaID, err := pathID(r)
	if err != nil {
		s.handleServiceError(w, r, op, err)
		return
	}

	if err := s.slaService.DeleteSLA(r.Context(), getTenantID(r.Context()), slaID); err != nil {
		s.handleServiceError(w, r, op, err)
		return
	}

	s.respond(w, http.StatusNoContent, nil)
}

// ApplySLA evaluates the tenant's SLAs against a caller-supplied entity
// snapshot and returns the resulting SLA fields. Unlike the in-process
// engine path this variant reports no-match and misconfiguration as
// errors, because the caller asked for an SLA explicitly.
func (s *Server) ApplySLA(w http.ResponseWriter, r *http.Request) {
	const op = "internal.transport.http.ApplySLA"

	var req applyEntityPayload
	if err := s.decodeAndValidate(r, &req); err != nil {
		s.handleServiceError(w, r, op, err)
		return
	}

	entity := &domain.GenericEntity{
		ID:     req.EntityID,
		Type:   req.EntityType,
		Fields: req.Fields,
	}

	if err := s.slaService.ApplySLAStrict(r.Context(), getTenantID(r.Context()), req.EntityType, entity); err != nil {
		s.handleServiceError(w, r, op, err)
		return
	}

	fields := entity.SLA()
	s.respond(w, http.StatusOK, slaFieldsResponse{
		SLAID:            fields.SLAID,
		SLAStartedAt:     fields.SLAStartedAt,
		ResponseDeadline: fields.ResponseDeadline,
		SLAStatus:        fields.SLAStatus,
	})
}

// ----------------------------------------------------------------------
// Assignment rule handlers
// ----------------------------------------------------------------------

func (s *Server) ListRules(w http.ResponseWriter, r *http.Request) {
	const op = "internal.transport.http.ListRules"

	rules, err := s.assignmentService.ListRules(r.Context(), getTenantID(r.Context()))
	if err != nil {
		s.handleServiceError(w, r, op, err)
		return
	}

	s.respond(w, http.StatusOK, map[string][]ruleResponse{"rules": toRuleResponses(rules)})
}

func (s *Server) GetRule(w http.ResponseWriter, r *http.Request) {
	const op = "internal.transport.http.GetRule"

	ruleID, err := pathID(r)
	if err != nil {
		s.handleServiceError(w, r, op, err)
		return
	}

	rule, err := s.assignmentService.GetRule(r.Context(), getTenantID(r.Context()), ruleID)
	if err != nil {
		s.handleServiceError(w, r, op, err)
		return
	}

	s.respond(w, http.StatusOK, map[string]ruleResponse{"rule": toRuleResponse(rule)})
}

func (s *Server) CreateRule(w http.ResponseWriter, r *http.Request) {
	const op = "internal.transport.http.CreateRule"

	var req createRuleRequest
	if err := s.decodeAndValidate(r, &req); err != nil {
		s.handleServiceError(w, r, op, err)
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	rule, err := s.assignmentService.CreateRule(r.Context(), getTenantID(r.Context()), service.CreateRuleInput{
		Name:      req.Name,
		Doctype:   req.Doctype,
		Condition: req.Condition,
		Strategy:  req.Strategy,
		Enabled:   enabled,
		Pool:      req.Pool,
	})
	if err != nil {
		s.handleServiceError(w, r, op, err)
		return
	}

	s.respond(w, http.StatusCreated, map[string]ruleResponse{"rule": toRuleResponse(rule)})
}

func (s *Server) UpdateRule(w http.ResponseWriter, r *http.Request) {
	const op = "internal.transport.http.UpdateRule"

	ruleID, err := pathID(r)
	if err != nil {
		s.handleServiceError(w, r, op, err)
		return
	}

	var req updateRuleRequest
	if err := s.decodeAndValidate(r, &req); err != nil {
		s.handleServiceError(w, r, op, err)
		return
	}

	rule, err := s.assignmentService.UpdateRule(r.Context(), getTenantID(r.Context()), ruleID, service.UpdateRuleInput{
		Name:      req.Name,
		Doctype:   req.Doctype,
		Condition: req.Condition,
		Strategy:  req.Strategy,
		Enabled:   req.Enabled,
		Pool:      req.Pool,
	})
	if err != nil {
		s.handleServiceError(w, r, op, err)
		return
	}

	s.respond(w, http.StatusOK, map[string]ruleResponse{"rule": toRuleResponse(rule)})
}

func (s *Server) DeleteRule(w http.ResponseWriter, r *http.Request) {
	const op = "internal.transport.http.DeleteRule"

	ruleID, err := pathID(r)
	if err != nil {
		s.handleServiceError(w, r, op, err)
		return
	}

	if err := s.assignmentService.DeleteRule(r.Context(), getTenantID(r.Context()), ruleID); err != nil {
		s.handleServiceError(w, r, op, err)
		return
	}

	s.respond(w, http.StatusNoContent, nil)
}

// ----------------------------------------------------------------------
// Assignment handlers
// ----------------------------------------------------------------------

// ApplyRules runs the tenant's assignment rules against a
// caller-supplied entity snapshot. All matching rules fire; the
// response lists the assignments that now exist for the entity.
func (s *Server) ApplyRules(w http.ResponseWriter, r *http.Request) {
	const op = "internal.transport.http.ApplyRules"

	var req applyEntityPayload
	if err := s.decodeAndValidate(r, &req); err != nil {
		s.handleServiceError(w, r, op, err)
		return
	}

	entity := &domain.GenericEntity{
		ID:     req.EntityID,
		Type:   req.EntityType,
		Fields: req.Fields,
	}

	assignments, err := s.assignmentService.ApplyRules(r.Context(), getTenantID(r.Context()), req.EntityType, entity)
	if err != nil {
		s.handleServiceError(w, r, op, err)
		return
	}

	s.respond(w, http.StatusOK, map[string][]assignmentResponse{"assignments": toAssignmentResponses(assignments)})
}

func (s *Server) CreateAssignment(w http.ResponseWriter, r *http.Request) {
	const op = "internal.transport.http.CreateAssignment"

	var req createAssignmentRequest
	if err := s.decodeAndValidate(r, &req); err != nil {
		s.handleServiceError(w, r, op, err)
		return
	}

	assignment, err := s.assignmentService.Assign(r.Context(), getTenantID(r.Context()), req.Doctype, req.EntityID, req.UserID, req.AssignedBy)
	if err != nil {
		s.handleServiceError(w, r, op, err)
		return
	}

	s.respond(w, http.StatusCreated, map[string]assignmentResponse{"assignment": toAssignmentResponse(assignment)})
}

func (s *Server) CompleteAssignment(w http.ResponseWriter, r *http.Request) {
	const op = "internal.transport.http.CompleteAssignment"

	assignmentID, err := pathID(r)
	if err != nil {
		s.handleServiceError(w, r, op, err)
		return
	}

	assignment, err := s.assignmentService.CompleteAssignment(r.Context(), getTenantID(r.Context()), assignmentID)
	if err != nil {
		s.handleServiceError(w, r, op, err)
		return
	}

	s.respond(w, http.StatusOK, map[string]assignmentResponse{"assignment": toAssignmentResponse(assignment)})
}

func (s *Server) CancelAssignment(w http.ResponseWriter, r *http.Request) {
	const op = "internal.transport.http.CancelAssignment"

	assignmentID, err := pathID(r)
	if err != nil {
		s.handleServiceError(w, r, op, err)
		return
	}

	assignment, err := s.assignmentService.CancelAssignment(r.Context(), getTenantID(r.Context()), assignmentID)
	if err != nil {
		s.handleServiceError(w, r, op, err)
		return
	}

	s.respond(w, http.StatusOK, map[string]assignmentResponse{"assignment": toAssignmentResponse(assignment)})
}

func (s *Server) ListAssignments(w http.ResponseWriter, r *http.Request) {
	const op = "internal.transport.http.ListAssignments"

	userID, err := uuid.Parse(r.URL.Query().Get("user_id"))
	if err != nil {
		s.handleServiceError(w, r, op, fmt.Errorf("%w: user_id must be a valid UUID", apperrors.ErrInvalidRequest))
		return
	}

	assignments, err := s.assignmentService.ListOpenAssignments(r.Context(), getTenantID(r.Context()), userID)
	if err != nil {
		s.handleServiceError(w, r, op, err)
		return
	}

	s.respond(w, http.StatusOK, map[string][]assignmentResponse{"assignments": toAssignmentResponses(assignments)})
}

func (s *Server) GetStats(w http.ResponseWriter, r *http.Request) {
	const op = "internal.transport.http.GetStats"

	workloads, err := s.assignmentService.GetWorkloadStats(r.Context(), getTenantID(r.Context()))
	if err != nil {
		s.handleServiceError(w, r, op, err)
		return
	}

	s.respond(w, http.StatusOK, map[string][]workloadResponse{"workloads": toWorkloadResponses(workloads)})
}

// ----------------------------------------------------------------------
// Helpers
// ----------------------------------------------------------------------

func pathID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: id must be a valid UUID", apperrors.ErrInvalidRequest)
	}

	return id, nil
}

// respond is a helper function to encode data to JSON and write it to the response.
// It centralizes setting the Content-Type header and writing the status code.
func (s *Server) respond(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)

	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			s.log.Error("failed to encode response", sl.Err(err))
		}
	}
}

// respondError is a convenience wrapper around respond for sending simple error messages.
func (s *Server) respondError(w http.ResponseWriter, code int, message string) {
	s.respond(w, code, map[string]string{"error": message})
}

// decodeAndValidate is a helper that deserializes a JSON request body into a struct
// and then runs validation checks on it.
func (s *Server) decodeAndValidate(r *http.Request, v interface{}) error {
	if err := s.decode(r.Body, v); err != nil {
		return err
	}

	if err := validation.ValidateStruct(v); err != nil {
		return err
	}

	return nil
}

// decode is a helper function to decode a JSON request body.
func (s *Server) decode(body io.ReadCloser, v interface{}) error {
	defer body.Close()

	if err := json.NewDecoder(body).Decode(v); err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrInvalidRequest, err)
	}

	return nil
}

// handleServiceError provides centralized error handling for all HTTP handlers.
// It logs the internal error and maps it to a user-friendly HTTP response.
func (s *Server) handleServiceError(w http.ResponseWriter, _ *http.Request, op string, err error) {
	log := s.log.With(slog.String("op", op))
	log.Error("service error occurred", sl.Err(err))

	var (
		slaExistsErr  *apperrors.SLAAlreadyExistsError
		ruleExistsErr *apperrors.RuleAlreadyExistsError
		validationErr *validation.ValidationError
	)

	switch {
	case errors.As(err, &validationErr):
		wrappedErr := fmt.Errorf("%w: %s", apperrors.ErrValidation, validationErr.Error())
		s.respondError(w, http.StatusBadRequest, wrappedErr.Error())
	case errors.Is(err, apperrors.ErrInvalidRequest):
		s.respondError(w, http.StatusBadRequest, "invalid request")
	case errors.Is(err, apperrors.ErrNotFound):
		s.respondError(w, http.StatusNotFound, "resource not found")
	case errors.As(err, &slaExistsErr):
		s.respondError(w, http.StatusConflict, "SLA with this name already exists")
	case errors.As(err, &ruleExistsErr):
		s.respondError(w, http.StatusConflict, "assignment rule with this name already exists")
	case errors.Is(err, apperrors.ErrAlreadyExists):
		s.respondError(w, http.StatusConflict, "resource already exists")
	case errors.Is(err, apperrors.ErrAssignmentClosed):
		s.respondError(w, http.StatusConflict, apperrors.ErrAssignmentClosed.Error())
	case errors.Is(err, apperrors.ErrNoSLAMatched):
		s.respondError(w, http.StatusUnprocessableEntity, apperrors.ErrNoSLAMatched.Error())
	case errors.Is(err, apperrors.ErrNoPriorityTiers):
		s.respondError(w, http.StatusUnprocessableEntity, apperrors.ErrNoPriorityTiers.Error())
	case errors.Is(err, apperrors.ErrNoBusinessDays):
		s.respondError(w, http.StatusUnprocessableEntity, apperrors.ErrNoBusinessDays.Error())
	default:
		s.respondError(w, http.StatusInternalServerError, "internal server error")
	}
}
