package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-logr/logr"

	"github.com/kozaktomas/facelookup/internal/constants"
	"github.com/kozaktomas/facelookup/internal/database"
	"github.com/kozaktomas/facelookup/internal/face"
	"github.com/kozaktomas/facelookup/internal/lookup"
)

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

// photoField is the multipart field carrying an uploaded image.
const photoField = "photo"

var (
	errMissingImage   = errors.New("image is required")
	errNotDataURI     = errors.New("image must be a data URI")
	errUnsafeFileName = errors.New("photo must be a data URI or a bare file name")
)

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondServiceError maps lookup and storage errors to HTTP statuses.
// Unexpected errors are logged and reported without detail.
func respondServiceError(w http.ResponseWriter, logger logr.Logger, err error) {
	switch {
	case errors.Is(err, face.ErrEmptyImage), errors.Is(err, face.ErrDecode):
		respondError(w, http.StatusBadRequest, "image could not be decoded")
	case errors.Is(err, database.ErrStudentNotFound):
		respondError(w, http.StatusNotFound, "student not found")
	case errors.Is(err, lookup.ErrAmbiguousStudent):
		respondError(w, http.StatusConflict, "student name is ambiguous")
	case errors.Is(err, face.ErrModelsUnavailable):
		respondError(w, http.StatusServiceUnavailable, "face models unavailable")
	default:
		logger.Error(err, "request failed")
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

// HealthCheck handles the health check endpoint.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// imageRequest is the JSON body accepted by the image endpoints. Multipart
// requests carry the same values as form fields plus a "photo" file.
type imageRequest struct {
	Image     string  `json:"image"`
	Threshold float64 `json:"threshold,omitempty"`
}

// readImageRequest parses either a multipart upload or a JSON body. An
// uploaded file is turned into a data URI so every caller sees one form.
func readImageRequest(w http.ResponseWriter, r *http.Request) (imageRequest, error) {
	var req imageRequest
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxUploadSize)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(constants.MaxUploadSize); err != nil {
			return req, errors.New("failed to parse multipart form")
		}
		if v := r.FormValue("threshold"); v != "" {
			t, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return req, errors.New("threshold must be a number")
			}
			req.Threshold = t
		}
		req.Image = r.FormValue("image")

		file, _, err := r.FormFile(photoField)
		if err == nil {
			defer file.Close()
			data, err := io.ReadAll(file)
			if err != nil {
				return req, errors.New("failed to read uploaded photo")
			}
			req.Image = toDataURI(data)
		}
	} else if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, errors.New(errInvalidRequestBody)
	}

	req.Image = strings.TrimSpace(req.Image)
	if req.Image == "" {
		return req, errMissingImage
	}
	if req.Threshold < 0 {
		return req, errors.New("threshold must not be negative")
	}
	return req, nil
}

// inlineImage returns the request image, which must be inline.
func (req imageRequest) inlineImage() (face.Image, error) {
	if !strings.HasPrefix(req.Image, "data:") {
		return nil, errNotDataURI
	}
	return face.DataURI(req.Image), nil
}

// photoFile returns the request image as a value for the student photo
// column: a data URI or the bare name of a file in the upload directory.
func (req imageRequest) photoFile() (string, error) {
	if strings.HasPrefix(req.Image, "data:") {
		return req.Image, nil
	}
	if strings.ContainsAny(req.Image, `/\`) || strings.Contains(req.Image, "..") {
		return "", errUnsafeFileName
	}
	return req.Image, nil
}

func toDataURI(data []byte) string {
	ct, _, _ := strings.Cut(http.DetectContentType(data), ";")
	return "data:" + ct + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// pathID parses a positive integer path parameter.
func pathID(s string) (int64, bool) {
	id, err := strconv.ParseInt(s, 10, 64)
	return id, err == nil && id > 0
}
