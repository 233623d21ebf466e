// Package rest exposes the scheduling flows to the calendar front end.
package rest

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"carebridge/backend/internal/domain"
	"carebridge/backend/internal/resolution"
	"carebridge/backend/internal/schedstore"
	"carebridge/backend/internal/service/scheduling"
)

type Handler struct {
	svc      *scheduling.Service
	previews *scheduling.Previewer
	log      *slog.Logger
}

func NewHandler(svc *scheduling.Service, previews *scheduling.Previewer, log *slog.Logger) *Handler {
	return &Handler{
		svc:      svc,
		previews: previews,
		log:      log.With(slog.String("component", "transport.rest")),
	}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/scheduling")
	g.POST("/appointments", h.CreateAppointment)
	g.POST("/appointments/recurring", h.CreateRecurring)
	g.POST("/appointments/:id/move", h.MoveAppointment)
	g.DELETE("/appointments/:id", h.DeleteAppointment)
	g.POST("/preview", h.PreviewOccurrences)
	g.GET("/providers/:id/absences", h.ProviderAbsences)
}

type candidateRequest struct {
	ProviderID  string `json:"providerId"`
	PatientID   string `json:"patientId"`
	Date        string `json:"date"`
	StartTime   string `json:"startTime"`
	EndTime     string `json:"endTime"`
	ServiceID   string `json:"serviceId"`
	Description string `json:"description"`
}

func (r candidateRequest) toDomain() (domain.Candidate, error) {
	cand := domain.Candidate{
		ProviderID:  r.ProviderID,
		PatientID:   r.PatientID,
		StartTime:   r.StartTime,
		EndTime:     r.EndTime,
		ServiceID:   r.ServiceID,
		Description: r.Description,
	}
	if r.Date != "" {
		d, err := domain.ParseDate(r.Date)
		if err != nil {
			return domain.Candidate{}, echo.NewHTTPError(http.StatusBadRequest, "date must be YYYY-MM-DD")
		}
		cand.Date = d
	}
	return cand, nil
}

type patternRequest struct {
	Frequency string `json:"frequency"`
	Weekdays  []int  `json:"weekdays"`
	Interval  int    `json:"interval"`
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
	Count     *int   `json:"count"`
}

func (r patternRequest) toDomain() (domain.RecurrencePattern, error) {
	p := domain.RecurrencePattern{
		Frequency: domain.Frequency(r.Frequency),
		Interval:  r.Interval,
		Count:     r.Count,
	}
	for _, wd := range r.Weekdays {
		p.Weekdays = append(p.Weekdays, time.Weekday(wd))
	}
	if r.StartDate != "" {
		d, err := domain.ParseDate(r.StartDate)
		if err != nil {
			return domain.RecurrencePattern{}, echo.NewHTTPError(http.StatusBadRequest, "startDate must be YYYY-MM-DD")
		}
		p.StartDate = d
	}
	if r.EndDate != "" {
		d, err := domain.ParseDate(r.EndDate)
		if err != nil {
			return domain.RecurrencePattern{}, echo.NewHTTPError(http.StatusBadRequest, "endDate must be YYYY-MM-DD")
		}
		p.EndDate = &d
	}
	return p, nil
}

type appointmentResponse struct {
	ID          string `json:"id"`
	ScheduleID  string `json:"scheduleId,omitempty"`
	ProviderID  string `json:"providerId"`
	PatientID   string `json:"patientId,omitempty"`
	Date        string `json:"date"`
	StartTime   string `json:"startTime"`
	EndTime     string `json:"endTime"`
	ServiceID   string `json:"serviceId,omitempty"`
	Description string `json:"description,omitempty"`
	Duration    string `json:"duration,omitempty"`
}

func toAppointmentResponse(a domain.Appointment) appointmentResponse {
	resp := appointmentResponse{
		ID:          a.ID.String(),
		ProviderID:  a.ProviderID,
		PatientID:   a.PatientID,
		Date:        domain.FormatDate(a.Date),
		StartTime:   a.StartTime,
		EndTime:     a.EndTime,
		ServiceID:   a.ServiceID,
		Description: a.Description,
		Duration:    domain.CalculateDuration(a.StartTime, a.EndTime),
	}
	if a.ScheduleID != uuid.Nil {
		resp.ScheduleID = a.ScheduleID.String()
	}
	return resp
}

type conflictResponse struct {
	Type        string            `json:"type"`
	Severity    string            `json:"severity"`
	Message     string            `json:"message"`
	Date        string            `json:"date,omitempty"`
	Existing    *existingResponse `json:"existingAppointment,omitempty"`
	Suggestions []string          `json:"suggestions,omitempty"`
}

type existingResponse struct {
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
	With      string `json:"with"`
	Service   string `json:"service"`
}

func toConflictResponses(conflicts []domain.Conflict) []conflictResponse {
	out := make([]conflictResponse, len(conflicts))
	for i, c := range conflicts {
		resp := conflictResponse{
			Type:        string(c.Type),
			Severity:    string(c.Severity),
			Message:     c.Message,
			Suggestions: c.Suggestions,
		}
		if !c.Date.IsZero() {
			resp.Date = domain.FormatDate(c.Date)
		}
		if c.Existing != nil {
			resp.Existing = &existingResponse{
				StartTime: c.Existing.StartTime,
				EndTime:   c.Existing.EndTime,
				With:      c.Existing.With,
				Service:   c.Existing.Service,
			}
		}
		out[i] = resp
	}
	return out
}

type createRequest struct {
	candidateRequest
	Force       bool `json:"force"`
	ConfirmPast bool `json:"confirmPast"`
}

func (h *Handler) CreateAppointment(c echo.Context) error {
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	cand, err := req.toDomain()
	if err != nil {
		return err
	}

	res, err := h.svc.ScheduleSingle(c.Request().Context(), scheduling.ScheduleInput{
		Candidate:     cand,
		PastConfirmed: req.ConfirmPast,
	}, statelessDecider(req.Force))
	if err != nil {
		return h.mapError(err)
	}
	return h.respondScheduled(c, res)
}

type createRecurringRequest struct {
	candidateRequest
	Pattern     patternRequest `json:"recurringPattern"`
	Force       bool           `json:"force"`
	ConfirmPast bool           `json:"confirmPast"`
}

func (h *Handler) CreateRecurring(c echo.Context) error {
	var req createRecurringRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	cand, err := req.toDomain()
	if err != nil {
		return err
	}
	pattern, err := req.Pattern.toDomain()
	if err != nil {
		return err
	}

	res, err := h.svc.ScheduleRecurring(c.Request().Context(), scheduling.ScheduleRecurringInput{
		Candidate:     cand,
		Pattern:       pattern,
		PastConfirmed: req.ConfirmPast,
	}, statelessDecider(req.Force))
	if err != nil {
		return h.mapError(err)
	}
	return h.respondScheduled(c, res)
}

type moveRequest struct {
	Date            string `json:"date"`
	StartTime       string `json:"startTime"`
	DurationMinutes int    `json:"durationMinutes"`
}

func (h *Handler) MoveAppointment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid appointment id")
	}
	var req moveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	date, err := domain.ParseDate(req.Date)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "date must be YYYY-MM-DD")
	}

	appt, err := h.svc.Move(c.Request().Context(), id, scheduling.MoveInput{
		Date:            date,
		StartTime:       req.StartTime,
		DurationMinutes: req.DurationMinutes,
	})
	if err != nil {
		return h.mapError(err)
	}
	return c.JSON(http.StatusOK, toAppointmentResponse(appt))
}

func (h *Handler) DeleteAppointment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid appointment id")
	}
	if err := h.svc.Delete(c.Request().Context(), id, c.QueryParam("strategy")); err != nil {
		return h.mapError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type previewRequest struct {
	ProviderID string         `json:"providerId"`
	Pattern    patternRequest `json:"recurringPattern"`
}

type previewResponse struct {
	Dates    []string          `json:"dates"`
	Summary  string            `json:"summary,omitempty"`
	Absences []absenceResponse `json:"absences,omitempty"`
}

type absenceResponse struct {
	StartDate   string `json:"startDate"`
	EndDate     string `json:"endDate"`
	Days        int    `json:"days"`
	AbsenceType string `json:"absenceType"`
	Reason      string `json:"reason,omitempty"`
}

func (h *Handler) PreviewOccurrences(c echo.Context) error {
	var req previewRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	pattern, err := req.Pattern.toDomain()
	if err != nil {
		return err
	}

	preview, ok, err := h.previews.Latest(c.Request().Context(), req.ProviderID, pattern)
	if err != nil {
		return h.mapError(err)
	}
	if !ok {
		// A newer preview request arrived during the quiet period; this
		// result no longer reflects the form state.
		return c.NoContent(http.StatusNoContent)
	}

	resp := previewResponse{Dates: make([]string, len(preview.Dates)), Summary: preview.Summary}
	for i, d := range preview.Dates {
		resp.Dates[i] = domain.FormatDate(d)
	}
	for _, r := range preview.Absences {
		resp.Absences = append(resp.Absences, absenceResponse{
			StartDate:   domain.FormatDate(r.Start),
			EndDate:     domain.FormatDate(r.End),
			Days:        r.Days(),
			AbsenceType: r.AbsenceType,
			Reason:      r.Reason,
		})
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) ProviderAbsences(c echo.Context) error {
	providerID := c.Param("id")
	dates, err := parseDateList(c.QueryParam("dates"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "dates must be comma-joined YYYY-MM-DD values")
	}

	preview, err := h.svc.AbsenceRanges(c.Request().Context(), providerID, dates)
	if err != nil {
		return h.mapError(err)
	}

	resp := make([]absenceResponse, 0, len(preview))
	for _, r := range preview {
		resp = append(resp, absenceResponse{
			StartDate:   domain.FormatDate(r.Start),
			EndDate:     domain.FormatDate(r.End),
			Days:        r.Days(),
			AbsenceType: r.AbsenceType,
			Reason:      r.Reason,
		})
	}
	return c.JSON(http.StatusOK, map[string]any{"absences": resp})
}

type scheduledResponse struct {
	Scheduled      bool                  `json:"scheduled"`
	Appointments   []appointmentResponse `json:"appointments,omitempty"`
	Dates          []string              `json:"dates,omitempty"`
	PatternSummary string                `json:"patternSummary,omitempty"`
}

func (h *Handler) respondScheduled(c echo.Context, res scheduling.ScheduleResult) error {
	if !res.Outcome.ShouldPersist() {
		// The stateless decider answers modify when conflicts stand and no
		// force flag was sent: report them and let the client resubmit.
		return c.JSON(http.StatusConflict, map[string]any{
			"scheduled": false,
			"conflicts": toConflictResponses(res.Outcome.Conflicts),
		})
	}

	resp := scheduledResponse{Scheduled: true, PatternSummary: res.PatternSummary}
	for _, a := range res.Appointments {
		resp.Appointments = append(resp.Appointments, toAppointmentResponse(a))
	}
	for _, d := range res.Dates {
		resp.Dates = append(resp.Dates, domain.FormatDate(d))
	}
	return c.JSON(http.StatusCreated, resp)
}

func (h *Handler) mapError(err error) error {
	var ve *scheduling.ValidationError
	switch {
	case errors.As(err, &ve):
		return echo.NewHTTPError(http.StatusBadRequest, ve.Error())
	case errors.Is(err, scheduling.ErrPastDateNotConfirmed):
		return echo.NewHTTPError(http.StatusConflict, map[string]any{
			"confirmRequired": true,
			"message":         "the selected date is in the past; confirm to book anyway",
		})
	case errors.Is(err, schedstore.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "appointment not found")
	case errors.Is(err, resolution.ErrBusy):
		return echo.NewHTTPError(http.StatusTooManyRequests, "another submission is being resolved")
	}

	// Conflict rejections outside a resolution session (a remote store
	// refusing a move or delete) still carry their payload to the client.
	if ce, ok := schedstore.AsConflictError(err); ok {
		return echo.NewHTTPError(http.StatusConflict, map[string]any{
			"message":   "the requested change clashes with existing bookings",
			"conflicts": toConflictResponses(ce.Conflicts),
		})
	}

	var ue *schedstore.UpstreamError
	if errors.As(err, &ue) {
		msg := ue.Message
		if msg == "" {
			msg = "schedule store unavailable"
		}
		return echo.NewHTTPError(http.StatusBadGateway, msg)
	}

	h.log.Error("request failed", slog.Any("err", err))
	return err
}

// statelessDecider resolves conflicts for a transport with no session to ask:
// a force flag means proceed, anything else means go back and modify.
func statelessDecider(force bool) resolution.Decider {
	return resolution.DeciderFunc(func(ctx context.Context, conflicts []domain.Conflict) (domain.Decision, error) {
		if force {
			return domain.DecisionProceed, nil
		}
		return domain.DecisionModify, nil
	})
}

func parseDateList(raw string) ([]time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	var out []time.Time
	for _, part := range strings.Split(raw, ",") {
		d, err := domain.ParseDate(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}
