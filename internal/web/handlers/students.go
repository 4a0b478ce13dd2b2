package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-logr/logr"

	"github.com/kozaktomas/facelookup/internal/constants"
	"github.com/kozaktomas/facelookup/internal/lookup"
)

// StudentsHandler handles student photo and descriptor maintenance
type StudentsHandler struct {
	service *lookup.Service
	stats   *StatsHandler
	logger  logr.Logger
}

// NewStudentsHandler creates a new students handler. stats may be nil.
func NewStudentsHandler(svc *lookup.Service, stats *StatsHandler, logger logr.Logger) *StudentsHandler {
	return &StudentsHandler{
		service: svc,
		stats:   stats,
		logger:  logger.WithName("students"),
	}
}

// EnrollResponse reports the outcome of a photo update
type EnrollResponse struct {
	StudentID int64  `json:"student_id"`
	Found     bool   `json:"found"`
	Unchanged bool   `json:"unchanged"`
	PhotoHash string `json:"photo_hash,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

func newEnrollResponse(res *lookup.EnrollResult) EnrollResponse {
	return EnrollResponse{
		StudentID: res.StudentID,
		Found:     res.Found,
		Unchanged: res.Unchanged,
		PhotoHash: res.PhotoHash,
		Reason:    res.Reason,
	}
}

func (h *StudentsHandler) changed() {
	if h.stats != nil {
		h.stats.InvalidateCache()
	}
}

// CreateStudentRequest is the body of the create endpoint
type CreateStudentRequest struct {
	Name  string `json:"name"`
	Photo string `json:"photo"`
}

// Create inserts a student and enrolls the optional photo.
func (h *StudentsHandler) Create(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxUploadSize)
	var req CreateStudentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}
	photo := strings.TrimSpace(req.Photo)
	if photo != "" {
		p, err := imageRequest{Image: photo}.photoFile()
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		photo = p
	}

	res, err := h.service.CreateStudent(r.Context(), req.Name, photo)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	h.changed()
	h.logger.Info("student created", "studentID", res.StudentID, "name", sanitizeForLog(req.Name))
	respondJSON(w, http.StatusCreated, newEnrollResponse(res))
}

// UpdatePhoto replaces a student's photo and recomputes the descriptor.
func (h *StudentsHandler) UpdatePhoto(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(chi.URLParam(r, "id"))
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid student id")
		return
	}
	req, err := readImageRequest(w, r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	photo, err := req.photoFile()
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.service.UpdatePhoto(r.Context(), id, photo)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	h.changed()
	respondJSON(w, http.StatusOK, newEnrollResponse(res))
}

// ClearFace removes a student's stored descriptor.
func (h *StudentsHandler) ClearFace(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(chi.URLParam(r, "id"))
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid student id")
		return
	}
	if err := h.service.ClearFace(r.Context(), id); err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	h.changed()
	w.WriteHeader(http.StatusNoContent)
}
