package handlers

import (
	"errors"
	"net/http"

	"github.com/go-logr/logr"

	"github.com/kozaktomas/facelookup/internal/database"
	"github.com/kozaktomas/facelookup/internal/face"
	"github.com/kozaktomas/facelookup/internal/lookup"
)

// FacesHandler handles descriptor extraction and student search.
type FacesHandler struct {
	service *lookup.Service
	logger  logr.Logger
}

// NewFacesHandler creates a new faces handler
func NewFacesHandler(svc *lookup.Service, logger logr.Logger) *FacesHandler {
	return &FacesHandler{
		service: svc,
		logger:  logger.WithName("faces"),
	}
}

// EncodeResponse represents the response of the encode endpoint
type EncodeResponse struct {
	Found      bool            `json:"found"`
	Descriptor face.Descriptor `json:"descriptor"`
	Dim        int             `json:"dim"`
	Reason     string          `json:"reason,omitempty"`
}

// Encode returns the descriptor of the face in the request image.
func (h *FacesHandler) Encode(w http.ResponseWriter, r *http.Request) {
	req, err := readImageRequest(w, r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	img, err := req.inlineImage()
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	desc, err := h.service.Encode(r.Context(), img)
	if errors.Is(err, face.ErrNoFace) {
		respondJSON(w, http.StatusOK, EncodeResponse{Reason: lookup.ReasonNoFace})
		return
	}
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, EncodeResponse{Found: true, Descriptor: desc, Dim: len(desc)})
}

// StudentResponse is the public view of a student
type StudentResponse struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	HasPhoto      bool   `json:"has_photo"`
	HasDescriptor bool   `json:"has_descriptor"`
}

func newStudentResponse(s *database.Student) *StudentResponse {
	if s == nil {
		return nil
	}
	return &StudentResponse{
		ID:            s.ID,
		Name:          s.Name,
		HasPhoto:      s.HasPhoto(),
		HasDescriptor: s.FaceEncoding != nil,
	}
}

// CandidateResponse is a runner-up in a search
type CandidateResponse struct {
	StudentID int64   `json:"student_id"`
	Distance  float64 `json:"distance"`
}

// SearchResponse represents the response of the search endpoint
type SearchResponse struct {
	SearchID   string              `json:"search_id"`
	Matched    bool                `json:"matched"`
	Student    *StudentResponse    `json:"student,omitempty"`
	Distance   *float64            `json:"distance,omitempty"`
	Threshold  float64             `json:"threshold"`
	Candidates []CandidateResponse `json:"candidates"`
	Reason     string              `json:"reason,omitempty"`
}

// Search identifies the student in the request image.
func (h *FacesHandler) Search(w http.ResponseWriter, r *http.Request) {
	req, err := readImageRequest(w, r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	img, err := req.inlineImage()
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.service.Search(r.Context(), img, req.Threshold)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}

	resp := SearchResponse{
		SearchID:   res.SearchID,
		Matched:    res.Matched,
		Threshold:  res.Threshold,
		Candidates: make([]CandidateResponse, 0, len(res.Candidates)),
		Reason:     res.Reason,
	}
	for _, c := range res.Candidates {
		resp.Candidates = append(resp.Candidates, CandidateResponse{StudentID: c.ID, Distance: c.Distance})
	}
	if res.Matched {
		dist := res.Match.Distance
		resp.Distance = &dist
		resp.Student = newStudentResponse(res.Student)
	}
	respondJSON(w, http.StatusOK, resp)
}
