package http

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/crmforge/policy-engine/internal/apperrors"
	"github.com/crmforge/policy-engine/internal/domain"
)

const zeroTime = "0001-01-01T00:00:00Z"

func newTestServer(slaMock *SLAServiceMock, assignmentMock *AssignmentServiceMock) http.Handler {
	server := NewServer(slog.New(slog.NewJSONHandler(os.Stdout, nil)), slaMock, assignmentMock)
	return server.Routes()
}

func doRequest(t *testing.T, router http.Handler, method, target, tenantID, body string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}

	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	if tenantID != "" {
		req.Header.Set(tenantIDHeader, tenantID)
	}

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	return rr
}

func TestServer_CreateSLA(t *testing.T) {
	tenantID := uuid.New()
	slaID := uuid.New()

	validBody := `{
		"name": "web-leads",
		"applies_to": "Lead",
		"priorities": [{"priority": "High", "response_minutes": 60, "resolution_minutes": 480}],
		"business_days": [{"day": "Mon", "open_time": "09:00", "close_time": "17:00"}]
	}`

	testCases := []struct {
		name               string
		requestBody        string
		tenantHeader       string
		setupMocks         func(*SLAServiceMock)
		expectedStatusCode int
	}{
		{
			name:         "Success",
			requestBody:  validBody,
			tenantHeader: tenantID.String(),
			setupMocks: func(ssm *SLAServiceMock) {
				ssm.On("CreateSLA", mock.Anything, tenantID, mock.Anything).Return(&domain.SLA{
					ID:        slaID,
					TenantID:  tenantID,
					Name:      "web-leads",
					Enabled:   true,
					AppliesTo: domain.EntityTypeLead,
					Priorities: []domain.PriorityTier{
						{Priority: domain.PriorityHigh, ResponseMinutes: 60, ResolutionMinutes: 480},
					},
					BusinessDays: []domain.BusinessDay{
						{Day: "Mon", OpenMinute: 9 * 60, CloseMinute: 17 * 60},
					},
				}, nil).Once()
			},
			expectedStatusCode: http.StatusCreated,
		},
		{
			name:               "Missing tenant header",
			requestBody:        validBody,
			tenantHeader:       "",
			setupMocks:         func(ssm *SLAServiceMock) {},
			expectedStatusCode: http.StatusBadRequest,
		},
		{
			name:               "Invalid JSON body",
			requestBody:        `{invalid json}`,
			tenantHeader:       tenantID.String(),
			setupMocks:         func(ssm *SLAServiceMock) {},
			expectedStatusCode: http.StatusBadRequest,
		},
		{
			name: "Invalid open time format",
			requestBody: `{
				"name": "web-leads",
				"applies_to": "Lead",
				"priorities": [{"priority": "High", "response_minutes": 60, "resolution_minutes": 480}],
				"business_days": [{"day": "Mon", "open_time": "9am", "close_time": "17:00"}]
			}`,
			tenantHeader:       tenantID.String(),
			setupMocks:         func(ssm *SLAServiceMock) {},
			expectedStatusCode: http.StatusBadRequest,
		},
		{
			name: "Invalid applies_to",
			requestBody: `{
				"name": "web-leads",
				"applies_to": "Contact",
				"priorities": [{"priority": "High", "response_minutes": 60, "resolution_minutes": 480}],
				"business_days": [{"day": "Mon", "open_time": "09:00", "close_time": "17:00"}]
			}`,
			tenantHeader:       tenantID.String(),
			setupMocks:         func(ssm *SLAServiceMock) {},
			expectedStatusCode: http.StatusBadRequest,
		},
		{
			name:         "Service Error - Already Exists",
			requestBody:  validBody,
			tenantHeader: tenantID.String(),
			setupMocks: func(ssm *SLAServiceMock) {
				ssm.On("CreateSLA", mock.Anything, tenantID, mock.Anything).
					Return(nil, &apperrors.SLAAlreadyExistsError{Name: "web-leads"}).Once()
			},
			expectedStatusCode: http.StatusConflict,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			slaMock := new(SLAServiceMock)
			tc.setupMocks(slaMock)

			router := newTestServer(slaMock, new(AssignmentServiceMock))
			rr := doRequest(t, router, http.MethodPost, "/sla", tc.tenantHeader, tc.requestBody)

			assert.Equal(t, tc.expectedStatusCode, rr.Code)
			slaMock.AssertExpectations(t)
		})
	}
}

func TestServer_CreateSLA_ResponseBody(t *testing.T) {
	tenantID := uuid.New()
	slaID := uuid.New()

	slaMock := new(SLAServiceMock)
	slaMock.On("CreateSLA", mock.Anything, tenantID, mock.Anything).Return(&domain.SLA{
		ID:        slaID,
		TenantID:  tenantID,
		Name:      "web-leads",
		Enabled:   true,
		AppliesTo: domain.EntityTypeLead,
		Priorities: []domain.PriorityTier{
			{Priority: domain.PriorityHigh, ResponseMinutes: 60, ResolutionMinutes: 480},
		},
		BusinessDays: []domain.BusinessDay{
			{Day: "Mon", OpenMinute: 9*60 + 30, CloseMinute: 17 * 60},
		},
	}, nil).Once()

	router := newTestServer(slaMock, new(AssignmentServiceMock))
	rr := doRequest(t, router, http.MethodPost, "/sla", tenantID.String(), `{
		"name": "web-leads",
		"applies_to": "Lead",
		"priorities": [{"priority": "High", "response_minutes": 60, "resolution_minutes": 480}],
		"business_days": [{"day": "Mon", "open_time": "09:30", "close_time": "17:00"}]
	}`)

	assert.Equal(t, http.StatusCreated, rr.Code)

	expected := fmt.Sprintf(`{"sla": {
		"id": "%s",
		"name": "web-leads",
		"enabled": true,
		"applies_to": "Lead",
		"priorities": [{"priority": "High", "response_minutes": 60, "resolution_minutes": 480}],
		"business_days": [{"day": "Mon", "open_time": "09:30", "close_time": "17:00"}],
		"created_at": "%s",
		"updated_at": "%s"
	}}`, slaID, zeroTime, zeroTime)
	assert.JSONEq(t, expected, rr.Body.String())
}

func TestServer_GetSLA(t *testing.T) {
	tenantID := uuid.New()
	slaID := uuid.New()

	testCases := []struct {
		name               string
		target             string
		setupMocks         func(*SLAServiceMock)
		expectedStatusCode int
	}{
		{
			name:   "Success",
			target: "/sla/" + slaID.String(),
			setupMocks: func(ssm *SLAServiceMock) {
				ssm.On("GetSLA", mock.Anything, tenantID, slaID).
					Return(&domain.SLA{ID: slaID, TenantID: tenantID, Name: "web-leads"}, nil).Once()
			},
			expectedStatusCode: http.StatusOK,
		},
		{
			name:   "Not Found",
			target: "/sla/" + slaID.String(),
			setupMocks: func(ssm *SLAServiceMock) {
				ssm.On("GetSLA", mock.Anything, tenantID, slaID).
					Return(nil, apperrors.ErrNotFound).Once()
			},
			expectedStatusCode: http.StatusNotFound,
		},
		{
			name:               "Invalid ID",
			target:             "/sla/not-a-uuid",
			setupMocks:         func(ssm *SLAServiceMock) {},
			expectedStatusCode: http.StatusBadRequest,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			slaMock := new(SLAServiceMock)
			tc.setupMocks(slaMock)

			router := newTestServer(slaMock, new(AssignmentServiceMock))
			rr := doRequest(t, router, http.MethodGet, tc.target, tenantID.String(), "")

			assert.Equal(t, tc.expectedStatusCode, rr.Code)
			slaMock.AssertExpectations(t)
		})
	}
}

func TestServer_ApplySLA(t *testing.T) {
	tenantID := uuid.New()
	entityID := uuid.New()

	body := fmt.Sprintf(`{"entity_type": "Lead", "entity_id": "%s", "fields": {"source": "web", "priority": "High"}}`, entityID)

	t.Run("Success", func(t *testing.T) {
		slaID := uuid.New()

		slaMock := new(SLAServiceMock)
		slaMock.On("ApplySLAStrict", mock.Anything, tenantID, domain.EntityTypeLead, mock.Anything).
			Run(func(args mock.Arguments) {
				entity := args.Get(3).(domain.Entity)
				entity.SLA().SLAID = &slaID
				entity.SLA().SLAStatus = domain.SLAStatusOpen
			}).
			Return(nil).Once()

		router := newTestServer(slaMock, new(AssignmentServiceMock))
		rr := doRequest(t, router, http.MethodPost, "/sla/apply", tenantID.String(), body)

		assert.Equal(t, http.StatusOK, rr.Code)
		expected := fmt.Sprintf(`{
			"sla_id": "%s",
			"sla_started_at": null,
			"response_deadline": null,
			"sla_status": "Open"
		}`, slaID)
		assert.JSONEq(t, expected, rr.Body.String())
		slaMock.AssertExpectations(t)
	})

	t.Run("No SLA matched", func(t *testing.T) {
		slaMock := new(SLAServiceMock)
		slaMock.On("ApplySLAStrict", mock.Anything, tenantID, domain.EntityTypeLead, mock.Anything).
			Return(fmt.Errorf("apply: %w", apperrors.ErrNoSLAMatched)).Once()

		router := newTestServer(slaMock, new(AssignmentServiceMock))
		rr := doRequest(t, router, http.MethodPost, "/sla/apply", tenantID.String(), body)

		assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
		slaMock.AssertExpectations(t)
	})
}

func TestServer_CreateRule(t *testing.T) {
	tenantID := uuid.New()
	ruleID := uuid.New()
	userID := uuid.New()

	validBody := fmt.Sprintf(`{
		"name": "rr-leads",
		"doctype": "Lead",
		"strategy": "round_robin",
		"pool": ["%s"]
	}`, userID)

	testCases := []struct {
		name               string
		requestBody        string
		setupMocks         func(*AssignmentServiceMock)
		expectedStatusCode int
	}{
		{
			name:        "Success",
			requestBody: validBody,
			setupMocks: func(asm *AssignmentServiceMock) {
				asm.On("CreateRule", mock.Anything, tenantID, mock.Anything).Return(&domain.AssignmentRule{
					ID:       ruleID,
					TenantID: tenantID,
					Name:     "rr-leads",
					Doctype:  domain.EntityTypeLead,
					Strategy: domain.StrategyRoundRobin,
					Enabled:  true,
					Pool:     []uuid.UUID{userID},
				}, nil).Once()
			},
			expectedStatusCode: http.StatusCreated,
		},
		{
			name: "Unknown strategy",
			requestBody: fmt.Sprintf(`{
				"name": "rr-leads",
				"doctype": "Lead",
				"strategy": "random",
				"pool": ["%s"]
			}`, userID),
			setupMocks:         func(asm *AssignmentServiceMock) {},
			expectedStatusCode: http.StatusBadRequest,
		},
		{
			name: "Empty pool",
			requestBody: `{
				"name": "rr-leads",
				"doctype": "Lead",
				"strategy": "round_robin",
				"pool": []
			}`,
			setupMocks:         func(asm *AssignmentServiceMock) {},
			expectedStatusCode: http.StatusBadRequest,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assignmentMock := new(AssignmentServiceMock)
			tc.setupMocks(assignmentMock)

			router := newTestServer(new(SLAServiceMock), assignmentMock)
			rr := doRequest(t, router, http.MethodPost, "/assignment-rules", tenantID.String(), tc.requestBody)

			assert.Equal(t, tc.expectedStatusCode, rr.Code)
			assignmentMock.AssertExpectations(t)
		})
	}
}

func TestServer_ApplyRules(t *testing.T) {
	tenantID := uuid.New()
	entityID := uuid.New()
	assignmentID := uuid.New()
	userID := uuid.New()

	assignmentMock := new(AssignmentServiceMock)
	assignmentMock.On("ApplyRules", mock.Anything, tenantID, domain.EntityTypeDeal, mock.Anything).
		Return([]domain.Assignment{
			{
				ID:         assignmentID,
				TenantID:   tenantID,
				Doctype:    domain.EntityTypeDeal,
				EntityID:   entityID,
				AssignedTo: userID,
				Status:     domain.AssignmentStatusOpen,
			},
		}, nil).Once()

	router := newTestServer(new(SLAServiceMock), assignmentMock)
	body := fmt.Sprintf(`{"entity_type": "Deal", "entity_id": "%s", "fields": {"stage": "Negotiation"}}`, entityID)
	rr := doRequest(t, router, http.MethodPost, "/assignments/apply", tenantID.String(), body)

	assert.Equal(t, http.StatusOK, rr.Code)

	expected := fmt.Sprintf(`{"assignments": [{
		"id": "%s",
		"doctype": "Deal",
		"entity_id": "%s",
		"assigned_to": "%s",
		"status": "Open",
		"created_at": "%s",
		"updated_at": "%s"
	}]}`, assignmentID, entityID, userID, zeroTime, zeroTime)
	assert.JSONEq(t, expected, rr.Body.String())
	assignmentMock.AssertExpectations(t)
}

func TestServer_CompleteAssignment(t *testing.T) {
	tenantID := uuid.New()
	assignmentID := uuid.New()

	testCases := []struct {
		name               string
		setupMocks         func(*AssignmentServiceMock)
		expectedStatusCode int
	}{
		{
			name: "Success",
			setupMocks: func(asm *AssignmentServiceMock) {
				asm.On("CompleteAssignment", mock.Anything, tenantID, assignmentID).
					Return(&domain.Assignment{ID: assignmentID, Status: domain.AssignmentStatusCompleted}, nil).Once()
			},
			expectedStatusCode: http.StatusOK,
		},
		{
			name: "Already closed",
			setupMocks: func(asm *AssignmentServiceMock) {
				asm.On("CompleteAssignment", mock.Anything, tenantID, assignmentID).
					Return(nil, fmt.Errorf("close: %w", apperrors.ErrAssignmentClosed)).Once()
			},
			expectedStatusCode: http.StatusConflict,
		},
		{
			name: "Not found",
			setupMocks: func(asm *AssignmentServiceMock) {
				asm.On("CompleteAssignment", mock.Anything, tenantID, assignmentID).
					Return(nil, apperrors.ErrNotFound).Once()
			},
			expectedStatusCode: http.StatusNotFound,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assignmentMock := new(AssignmentServiceMock)
			tc.setupMocks(assignmentMock)

			router := newTestServer(new(SLAServiceMock), assignmentMock)
			rr := doRequest(t, router, http.MethodPost, "/assignments/"+assignmentID.String()+"/complete", tenantID.String(), "")

			assert.Equal(t, tc.expectedStatusCode, rr.Code)
			assignmentMock.AssertExpectations(t)
		})
	}
}

func TestServer_ListAssignments(t *testing.T) {
	tenantID := uuid.New()
	userID := uuid.New()

	t.Run("Success", func(t *testing.T) {
		assignmentMock := new(AssignmentServiceMock)
		assignmentMock.On("ListOpenAssignments", mock.Anything, tenantID, userID).
			Return([]domain.Assignment{}, nil).Once()

		router := newTestServer(new(SLAServiceMock), assignmentMock)
		rr := doRequest(t, router, http.MethodGet, "/assignments?user_id="+userID.String(), tenantID.String(), "")

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"assignments": []}`, rr.Body.String())
		assignmentMock.AssertExpectations(t)
	})

	t.Run("Missing user_id", func(t *testing.T) {
		router := newTestServer(new(SLAServiceMock), new(AssignmentServiceMock))
		rr := doRequest(t, router, http.MethodGet, "/assignments", tenantID.String(), "")

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestServer_GetStats(t *testing.T) {
	tenantID := uuid.New()
	userID := uuid.New()

	assignmentMock := new(AssignmentServiceMock)
	assignmentMock.On("GetWorkloadStats", mock.Anything, tenantID).
		Return([]domain.UserWorkload{
			{UserID: userID, OpenAssignments: 3, CompletedAssignments: 7},
		}, nil).Once()

	router := newTestServer(new(SLAServiceMock), assignmentMock)
	rr := doRequest(t, router, http.MethodGet, "/assignments/stats", tenantID.String(), "")

	assert.Equal(t, http.StatusOK, rr.Code)

	expected := fmt.Sprintf(`{"workloads": [{
		"user_id": "%s",
		"open_assignments": 3,
		"completed_assignments": 7
	}]}`, userID)
	assert.JSONEq(t, expected, rr.Body.String())
	assignmentMock.AssertExpectations(t)
}
