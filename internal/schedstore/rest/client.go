// Package rest is the HTTP/JSON adapter for the external schedule store. It
// implements the schedstore contracts against the collaborator's endpoints and
// normalizes its loosely-typed payloads at the boundary.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"carebridge/backend/internal/domain"
	"carebridge/backend/internal/schedstore"
)

type Client struct {
	baseURL string
	http    *http.Client
	log     *slog.Logger
}

// NewClient builds a store client for the collaborator at baseURL. The
// timeout bounds every request; there are no retries.
func NewClient(baseURL string, timeout time.Duration, log *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		log:     log.With(slog.String("component", "schedstore.rest")),
	}
}

var (
	_ schedstore.ConflictChecker  = (*Client)(nil)
	_ schedstore.AbsenceChecker   = (*Client)(nil)
	_ schedstore.AppointmentStore = (*Client)(nil)
)

type wireBooking struct {
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
	With      string `json:"with"`
	Service   string `json:"service"`
}

type wireConflict struct {
	Type                string       `json:"type"`
	Severity            string       `json:"severity"`
	Message             string       `json:"message"`
	Date                string       `json:"date,omitempty"`
	ExistingAppointment *wireBooking `json:"existingAppointment,omitempty"`
	Suggestions         []string     `json:"suggestions,omitempty"`
}

func (w wireConflict) toDomain() domain.Conflict {
	c := domain.Conflict{
		Type:        domain.NormalizeConflictType(w.Type),
		Severity:    domain.NormalizeSeverity(w.Severity),
		Message:     w.Message,
		Suggestions: w.Suggestions,
	}
	if w.Date != "" {
		if d, err := domain.ParseDate(w.Date); err == nil {
			c.Date = d
		}
	}
	if w.ExistingAppointment != nil {
		c.Existing = &domain.BookingSnapshot{
			StartTime: w.ExistingAppointment.StartTime,
			EndTime:   w.ExistingAppointment.EndTime,
			With:      w.ExistingAppointment.With,
			Service:   w.ExistingAppointment.Service,
		}
	}
	return c
}

func toDomainConflicts(wire []wireConflict) []domain.Conflict {
	if len(wire) == 0 {
		return nil
	}
	out := make([]domain.Conflict, len(wire))
	for i, w := range wire {
		out[i] = w.toDomain()
	}
	return out
}

type conflictCheckRequest struct {
	ProviderID        string `json:"providerId"`
	PatientID         string `json:"patientId,omitempty"`
	Date              string `json:"date"`
	StartTime         string `json:"startTime"`
	EndTime           string `json:"endTime"`
	ExcludeScheduleID string `json:"excludeScheduleId,omitempty"`
	ExcludeTimeslotID string `json:"excludeTimeslotId,omitempty"`
}

type conflictCheckResponse struct {
	HasConflicts bool           `json:"hasConflicts"`
	Conflicts    []wireConflict `json:"conflicts"`
}

func (c *Client) CheckConflicts(ctx context.Context, q schedstore.ConflictQuery) (domain.ConflictReport, error) {
	req := conflictCheckRequest{
		ProviderID: q.ProviderID,
		PatientID:  q.PatientID,
		Date:       domain.FormatDate(q.Date),
		StartTime:  q.StartTime,
		EndTime:    q.EndTime,
	}
	if q.ExcludeScheduleID != uuid.Nil {
		req.ExcludeScheduleID = q.ExcludeScheduleID.String()
	}
	if q.ExcludeTimeslotID != uuid.Nil {
		req.ExcludeTimeslotID = q.ExcludeTimeslotID.String()
	}

	var resp conflictCheckResponse
	if err := c.do(ctx, http.MethodPost, "/conflicts/check", nil, req, &resp); err != nil {
		return domain.ConflictReport{}, err
	}
	conflicts := toDomainConflicts(resp.Conflicts)
	return domain.ConflictReport{
		HasConflicts: resp.HasConflicts || len(conflicts) > 0,
		Conflicts:    conflicts,
	}, nil
}

type absenceResponse struct {
	Absences map[string]struct {
		AbsenceType string `json:"absenceType"`
		Reason      string `json:"reason"`
	} `json:"absences"`
}

func (c *Client) CheckAbsences(ctx context.Context, providerID string, dates []time.Time) (map[string]domain.AbsenceAdvisory, error) {
	if len(dates) == 0 {
		return nil, nil
	}

	joined := make([]string, len(dates))
	for i, d := range dates {
		joined[i] = domain.FormatDate(d)
	}
	query := url.Values{"dates": {strings.Join(joined, ",")}}

	var resp absenceResponse
	path := fmt.Sprintf("/providers/%s/absences", url.PathEscape(providerID))
	if err := c.do(ctx, http.MethodGet, path, query, nil, &resp); err != nil {
		return nil, err
	}

	out := make(map[string]domain.AbsenceAdvisory, len(resp.Absences))
	for day, a := range resp.Absences {
		advisory := domain.AbsenceAdvisory{AbsenceType: a.AbsenceType, Reason: a.Reason}
		if d, err := domain.ParseDate(day); err == nil {
			advisory.Date = d
		}
		out[day] = advisory
	}
	return out, nil
}

type candidatePayload struct {
	ProviderID  string `json:"providerId"`
	PatientID   string `json:"patientId,omitempty"`
	Date        string `json:"date"`
	StartTime   string `json:"startTime"`
	EndTime     string `json:"endTime"`
	ServiceID   string `json:"serviceId,omitempty"`
	Description string `json:"description,omitempty"`
}

func toCandidatePayload(cand domain.Candidate) candidatePayload {
	return candidatePayload{
		ProviderID:  cand.ProviderID,
		PatientID:   cand.PatientID,
		Date:        domain.FormatDate(cand.Date),
		StartTime:   cand.StartTime,
		EndTime:     cand.EndTime,
		ServiceID:   cand.ServiceID,
		Description: cand.Description,
	}
}

type wireAppointment struct {
	ID          string    `json:"id"`
	ScheduleID  string    `json:"scheduleId"`
	ProviderID  string    `json:"providerId"`
	PatientID   string    `json:"patientId"`
	Date        string    `json:"date"`
	StartTime   string    `json:"startTime"`
	EndTime     string    `json:"endTime"`
	ServiceID   string    `json:"serviceId"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (w wireAppointment) toDomain() domain.Appointment {
	appt := domain.Appointment{
		ProviderID:  w.ProviderID,
		PatientID:   w.PatientID,
		StartTime:   w.StartTime,
		EndTime:     w.EndTime,
		ServiceID:   w.ServiceID,
		Description: w.Description,
		CreatedAt:   w.CreatedAt,
		UpdatedAt:   w.UpdatedAt,
	}
	if id, err := uuid.Parse(w.ID); err == nil {
		appt.ID = id
	}
	if id, err := uuid.Parse(w.ScheduleID); err == nil {
		appt.ScheduleID = id
	}
	if d, err := domain.ParseDate(w.Date); err == nil {
		appt.Date = d
	}
	return appt
}

type createRequest struct {
	candidatePayload
	ForceSchedule bool `json:"forceSchedule"`
}

func (c *Client) CreateAppointment(ctx context.Context, in schedstore.CreateInput) (domain.Appointment, error) {
	req := createRequest{
		candidatePayload: toCandidatePayload(in.Candidate),
		ForceSchedule:    in.Force,
	}
	var resp wireAppointment
	if err := c.do(ctx, http.MethodPost, "/appointments", nil, req, &resp); err != nil {
		return domain.Appointment{}, err
	}
	return resp.toDomain(), nil
}

type recurringSettingsPayload struct {
	Frequency     string   `json:"frequency"`
	Weekdays      []int    `json:"weekdays,omitempty"`
	Interval      int      `json:"interval,omitempty"`
	StartDate     string   `json:"startDate"`
	EndDate       string   `json:"endDate,omitempty"`
	Count         *int     `json:"count,omitempty"`
	ExpandedDates []string `json:"expandedDates"`
	TotalCount    int      `json:"totalCount"`
}

type createRecurringRequest struct {
	candidatePayload
	ForceSchedule     bool                     `json:"forceSchedule"`
	RecurringSettings recurringSettingsPayload `json:"recurringSettings"`
	PatternSummary    string                   `json:"patternSummary,omitempty"`
}

type createRecurringResponse struct {
	Appointments []wireAppointment `json:"appointments"`
}

func (c *Client) CreateRecurring(ctx context.Context, in schedstore.CreateRecurringInput) ([]domain.Appointment, error) {
	settings := recurringSettingsPayload{
		Frequency:  string(in.Recurring.Pattern.Frequency),
		Interval:   in.Recurring.Pattern.Interval,
		StartDate:  domain.FormatDate(in.Recurring.Pattern.StartDate),
		Count:      in.Recurring.Pattern.Count,
		TotalCount: in.Recurring.TotalCount,
	}
	for _, wd := range in.Recurring.Pattern.Weekdays {
		settings.Weekdays = append(settings.Weekdays, int(wd))
	}
	if in.Recurring.Pattern.EndDate != nil {
		settings.EndDate = domain.FormatDate(*in.Recurring.Pattern.EndDate)
	}
	settings.ExpandedDates = make([]string, len(in.Recurring.ExpandedDates))
	for i, d := range in.Recurring.ExpandedDates {
		settings.ExpandedDates[i] = domain.FormatDate(d)
	}

	req := createRecurringRequest{
		candidatePayload:  toCandidatePayload(in.Candidate),
		ForceSchedule:     in.Force,
		RecurringSettings: settings,
		PatternSummary:    in.PatternSummary,
	}
	var resp createRecurringResponse
	if err := c.do(ctx, http.MethodPost, "/appointments/recurring", nil, req, &resp); err != nil {
		return nil, err
	}
	out := make([]domain.Appointment, len(resp.Appointments))
	for i, w := range resp.Appointments {
		out[i] = w.toDomain()
	}
	return out, nil
}

type moveRequest struct {
	Date      string `json:"date"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
}

func (c *Client) MoveAppointment(ctx context.Context, id uuid.UUID, in schedstore.MoveInput) (domain.Appointment, error) {
	req := moveRequest{
		Date:      domain.FormatDate(in.Date),
		StartTime: in.StartTime,
		EndTime:   in.EndTime,
	}
	var resp wireAppointment
	path := fmt.Sprintf("/appointments/%s/move", id)
	if err := c.do(ctx, http.MethodPost, path, nil, req, &resp); err != nil {
		return domain.Appointment{}, err
	}
	return resp.toDomain(), nil
}

func (c *Client) DeleteAppointment(ctx context.Context, id uuid.UUID, strategy schedstore.DeleteStrategy) error {
	query := url.Values{"strategy": {string(strategy)}}
	path := fmt.Sprintf("/appointments/%s", id)
	return c.do(ctx, http.MethodDelete, path, query, nil, nil)
}

type errorEnvelope struct {
	Error     string         `json:"error"`
	Message   string         `json:"message"`
	Conflicts []wireConflict `json:"conflicts"`
}

// do issues one request and decodes the response into out (when non-nil).
// 409 responses become *ConflictError, 404 ErrNotFound, any other non-2xx an
// *UpstreamError carrying the collaborator's own message.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read %s %s response: %w", method, path, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil || len(raw) == 0 {
			return nil
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode %s %s response: %w", method, path, err)
		}
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return schedstore.ErrNotFound
	case resp.StatusCode == http.StatusConflict:
		var env errorEnvelope
		if err := json.Unmarshal(raw, &env); err == nil && len(env.Conflicts) > 0 {
			return &schedstore.ConflictError{Conflicts: toDomainConflicts(env.Conflicts)}
		}
		return &schedstore.UpstreamError{Status: resp.StatusCode, Message: upstreamMessage(raw)}
	default:
		c.log.Warn("store request failed",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", resp.StatusCode))
		return &schedstore.UpstreamError{Status: resp.StatusCode, Message: upstreamMessage(raw)}
	}
}

// upstreamMessage pulls the collaborator's error text out of its envelope,
// falling back to the raw body. The message is passed through verbatim.
func upstreamMessage(raw []byte) string {
	var env errorEnvelope
	if err := json.Unmarshal(raw, &env); err == nil {
		if env.Error != "" {
			return env.Error
		}
		if env.Message != "" {
			return env.Message
		}
	}
	return strings.TrimSpace(string(raw))
}
