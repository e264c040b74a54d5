package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"logbook.org/internal/apperr"
	"logbook.org/internal/logbook"
)

type logRequest struct {
	Title           string               `json:"title"`
	Category        string               `json:"category"`
	Description     string               `json:"description"`
	ActivityDate    *jsonDate            `json:"activityDate"`
	DurationMinutes int                  `json:"durationMinutes"`
	Attachments     []logbook.Attachment `json:"attachments"`
}

func (req logRequest) entry() logbook.Entry {
	return logbook.Entry{
		Title:           req.Title,
		Category:        req.Category,
		Description:     req.Description,
		ActivityDate:    req.ActivityDate.value(),
		DurationMinutes: req.DurationMinutes,
	}
}

// staffLogRequest has no attachments; unknown fields are rejected on decode.
type staffLogRequest struct {
	Title           string    `json:"title"`
	Category        string    `json:"category"`
	Description     string    `json:"description"`
	ActivityDate    *jsonDate `json:"activityDate"`
	DurationMinutes int       `json:"durationMinutes"`
}

// logPatchRequest leaves absent fields untouched. "attachments": [] clears
// the set; omitting it keeps the stored attachments.
type logPatchRequest struct {
	Title           *string               `json:"title"`
	Category        *string               `json:"category"`
	Description     *string               `json:"description"`
	ActivityDate    *jsonDate             `json:"activityDate"`
	DurationMinutes *int                  `json:"durationMinutes"`
	Attachments     *[]logbook.Attachment `json:"attachments"`
}

func (req logPatchRequest) patch() logbook.Patch {
	return logbook.Patch{
		Title:           req.Title,
		Category:        req.Category,
		Description:     req.Description,
		ActivityDate:    req.ActivityDate.ptr(),
		DurationMinutes: req.DurationMinutes,
		Attachments:     req.Attachments,
	}
}

type reviewRequest struct {
	Action string `json:"action"`
	Remark string `json:"remark"`
}

func queryStatus(r *http.Request) (logbook.Status, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("status"))
	if raw == "" {
		return "", nil
	}
	return logbook.ParseStatus(raw)
}

// --- student: own logs ---

func (a *API) listOwnLogs(w http.ResponseWriter, r *http.Request) {
	c, err := claimsFrom(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	status, err := queryStatus(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	limit, err := queryLimit(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	items, err := a.logbook.ListOwn(r.Context(), c, status, limit)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": nonNil(items)})
}

func (a *API) submitLog(w http.ResponseWriter, r *http.Request) {
	c, err := claimsFrom(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	var req logRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}
	l, err := a.logbook.Submit(r.Context(), c, logbook.Draft{Entry: req.entry(), Attachments: req.Attachments})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/student/logs/%d", l.ID))
	writeJSON(w, http.StatusCreated, l)
}

func (a *API) getOwnLog(w http.ResponseWriter, r *http.Request) {
	c, err := claimsFrom(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	l, err := a.logbook.GetOwn(r.Context(), c, id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (a *API) editOwnLog(w http.ResponseWriter, r *http.Request) {
	c, err := claimsFrom(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	var req logPatchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}
	l, err := a.logbook.Edit(r.Context(), c, id, req.patch())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (a *API) deleteOwnLog(w http.ResponseWriter, r *http.Request) {
	c, err := claimsFrom(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if err := a.logbook.Delete(r.Context(), c, id); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- staff: review queue ---

func (a *API) listStudentLogs(w http.ResponseWriter, r *http.Request) {
	c, err := claimsFrom(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	staffID, err := pathID(r, "staffId")
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	var f logbook.ReviewFilter
	if f.Status, err = queryStatus(r); err != nil {
		writeDomainError(w, r, err)
		return
	}
	if f.Limit, err = queryLimit(r); err != nil {
		writeDomainError(w, r, err)
		return
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("studentId")); raw != "" {
		id, perr := strconv.ParseInt(raw, 10, 64)
		if perr != nil || id <= 0 {
			writeDomainError(w, r, fmt.Errorf("%w: studentId must be a positive integer", apperr.ErrValidation))
			return
		}
		f.StudentID = id
	}
	items, err := a.logbook.ListForReview(r.Context(), c, staffID, f)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": nonNil(items)})
}

func (a *API) getStudentLog(w http.ResponseWriter, r *http.Request) {
	c, staffID, logID, err := staffChildPath(r, "logId")
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	l, err := a.logbook.GetForReview(r.Context(), c, staffID, logID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (a *API) reviewStudentLog(w http.ResponseWriter, r *http.Request) {
	c, staffID, logID, err := staffChildPath(r, "logId")
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	var req reviewRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}
	l, err := a.logbook.Review(r.Context(), c, staffID, logID, logbook.Decision{
		Action: logbook.Action(req.Action),
		Remark: req.Remark,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

// --- staff: own logs ---

func (a *API) listStaffLogs(w http.ResponseWriter, r *http.Request) {
	c, err := claimsFrom(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	staffID, err := pathID(r, "staffId")
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	limit, err := queryLimit(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	items, err := a.logbook.ListStaffLogs(r.Context(), c, staffID, limit)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": nonNil(items)})
}

func (a *API) createStaffLog(w http.ResponseWriter, r *http.Request) {
	c, err := claimsFrom(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	staffID, err := pathID(r, "staffId")
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	var req staffLogRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}
	l, err := a.logbook.CreateStaffLog(r.Context(), c, staffID, logRequest{
		Title:           req.Title,
		Category:        req.Category,
		Description:     req.Description,
		ActivityDate:    req.ActivityDate,
		DurationMinutes: req.DurationMinutes,
	}.entry())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/staff/%d/logs/%d", staffID, l.ID))
	writeJSON(w, http.StatusCreated, l)
}

func (a *API) getStaffLog(w http.ResponseWriter, r *http.Request) {
	c, staffID, logID, err := staffChildPath(r, "logId")
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	l, err := a.logbook.GetStaffLog(r.Context(), c, staffID, logID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (a *API) updateStaffLog(w http.ResponseWriter, r *http.Request) {
	c, staffID, logID, err := staffChildPath(r, "logId")
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	var req logPatchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}
	l, err := a.logbook.UpdateStaffLog(r.Context(), c, staffID, logID, req.patch())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (a *API) deleteStaffLog(w http.ResponseWriter, r *http.Request) {
	c, staffID, logID, err := staffChildPath(r, "logId")
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if err := a.logbook.DeleteStaffLog(r.Context(), c, staffID, logID); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
