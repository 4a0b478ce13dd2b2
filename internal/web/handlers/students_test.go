package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-logr/logr/testr"

	"github.com/kozaktomas/facelookup/internal/face/facetest"
	"github.com/kozaktomas/facelookup/internal/lookup"
)

func TestStudentsHandler_UpdatePhoto(t *testing.T) {
	svc, store, ext := testService(t)
	enrollStudent(t, store, ext, 1, "Anna Dvořáková", redPhoto)
	handler := NewStudentsHandler(svc, nil, testr.New(t))

	t.Run("new photo replaces descriptor", func(t *testing.T) {
		before := store.Encoding(1)
		req := requestWithChiParams(
			multipartRequest(t, http.MethodPut, "/api/v1/students/1/photo", facetest.Photo(facetest.Blue), nil),
			map[string]string{"id": "1"},
		)
		recorder := httptest.NewRecorder()
		handler.UpdatePhoto(recorder, req)

		assertStatusCode(t, recorder, http.StatusOK)
		var resp EnrollResponse
		parseJSONResponse(t, recorder, &resp)
		if !resp.Found || resp.Unchanged || resp.PhotoHash == "" {
			t.Errorf("expected a fresh descriptor, got %+v", resp)
		}
		if store.Encoding(1) == before {
			t.Error("expected stored descriptor to change")
		}
	})

	t.Run("same photo keeps descriptor", func(t *testing.T) {
		req := requestWithChiParams(
			jsonRequest(t, http.MethodPut, "/api/v1/students/1/photo", map[string]string{"image": bluePhoto}),
			map[string]string{"id": "1"},
		)
		recorder := httptest.NewRecorder()
		handler.UpdatePhoto(recorder, req)

		assertStatusCode(t, recorder, http.StatusOK)
		var resp EnrollResponse
		parseJSONResponse(t, recorder, &resp)
		if !resp.Found || !resp.Unchanged {
			t.Errorf("expected unchanged descriptor, got %+v", resp)
		}
	})

	t.Run("photo without face stores null", func(t *testing.T) {
		req := requestWithChiParams(
			jsonRequest(t, http.MethodPut, "/api/v1/students/1/photo", map[string]string{"image": blankPhoto}),
			map[string]string{"id": "1"},
		)
		recorder := httptest.NewRecorder()
		handler.UpdatePhoto(recorder, req)

		assertStatusCode(t, recorder, http.StatusOK)
		var resp EnrollResponse
		parseJSONResponse(t, recorder, &resp)
		if resp.Found || resp.Reason != lookup.ReasonNoFace {
			t.Errorf("expected no_face, got %+v", resp)
		}
		if store.Encoding(1) != "" {
			t.Errorf("expected NULL descriptor, got %q", store.Encoding(1))
		}
	})

	tests := []struct {
		name       string
		id         string
		image      string
		wantStatus int
		wantErr    string
	}{
		{"invalid id", "abc", redPhoto, http.StatusBadRequest, "invalid student id"},
		{"zero id", "0", redPhoto, http.StatusBadRequest, "invalid student id"},
		{"unknown student", "99", redPhoto, http.StatusNotFound, "student not found"},
		{"path traversal", "1", "../secret.jpg", http.StatusBadRequest, "photo must be a data URI or a bare file name"},
		{"missing upload", "1", "missing.jpg", http.StatusBadRequest, "image could not be decoded"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := requestWithChiParams(
				jsonRequest(t, http.MethodPut, "/api/v1/students/"+tc.id+"/photo", map[string]string{"image": tc.image}),
				map[string]string{"id": tc.id},
			)
			recorder := httptest.NewRecorder()
			handler.UpdatePhoto(recorder, req)

			assertStatusCode(t, recorder, tc.wantStatus)
			assertJSONError(t, recorder, tc.wantErr)
		})
	}
}

func TestStudentsHandler_Create(t *testing.T) {
	svc, store, _ := testService(t)
	handler := NewStudentsHandler(svc, nil, testr.New(t))

	t.Run("with photo", func(t *testing.T) {
		recorder := httptest.NewRecorder()
		handler.Create(recorder, jsonRequest(t, http.MethodPost, "/api/v1/students",
			CreateStudentRequest{Name: "Jana Malá", Photo: redPhoto}))

		assertStatusCode(t, recorder, http.StatusCreated)
		var resp EnrollResponse
		parseJSONResponse(t, recorder, &resp)
		if resp.StudentID == 0 || !resp.Found {
			t.Fatalf("expected enrolled student, got %+v", resp)
		}
		if store.Encoding(resp.StudentID) == "" {
			t.Error("expected stored descriptor")
		}
	})

	t.Run("without photo", func(t *testing.T) {
		recorder := httptest.NewRecorder()
		handler.Create(recorder, jsonRequest(t, http.MethodPost, "/api/v1/students", CreateStudentRequest{Name: "Karel Velký"}))

		assertStatusCode(t, recorder, http.StatusCreated)
		var resp EnrollResponse
		parseJSONResponse(t, recorder, &resp)
		if resp.Found || resp.Reason != "" {
			t.Errorf("expected student without descriptor and no reason, got %+v", resp)
		}
	})

	t.Run("unreadable photo still creates the student", func(t *testing.T) {
		recorder := httptest.NewRecorder()
		handler.Create(recorder, jsonRequest(t, http.MethodPost, "/api/v1/students",
			CreateStudentRequest{Name: "Eva Nová", Photo: "data:image/png;base64,AAAA"}))

		assertStatusCode(t, recorder, http.StatusCreated)
		var resp EnrollResponse
		parseJSONResponse(t, recorder, &resp)
		if resp.StudentID == 0 || resp.Found || resp.Reason != lookup.ReasonPhotoUnreadable {
			t.Fatalf("expected created student without descriptor, got %+v", resp)
		}
		if store.Encoding(resp.StudentID) != "" {
			t.Error("expected no stored descriptor")
		}
	})

	t.Run("missing name", func(t *testing.T) {
		recorder := httptest.NewRecorder()
		handler.Create(recorder, jsonRequest(t, http.MethodPost, "/api/v1/students", CreateStudentRequest{Name: "  "}))
		assertStatusCode(t, recorder, http.StatusBadRequest)
		assertJSONError(t, recorder, "name is required")
	})

	t.Run("invalid body", func(t *testing.T) {
		recorder := httptest.NewRecorder()
		handler.Create(recorder, httptest.NewRequest(http.MethodPost, "/api/v1/students", strings.NewReader("[")))
		assertStatusCode(t, recorder, http.StatusBadRequest)
		assertJSONError(t, recorder, errInvalidRequestBody)
	})

	t.Run("storage error", func(t *testing.T) {
		store.CreateStudentError = errors.New("disk full")
		defer func() { store.CreateStudentError = nil }()

		recorder := httptest.NewRecorder()
		handler.Create(recorder, jsonRequest(t, http.MethodPost, "/api/v1/students", CreateStudentRequest{Name: "Eva"}))
		assertStatusCode(t, recorder, http.StatusInternalServerError)
	})
}

func TestStudentsHandler_ClearFace(t *testing.T) {
	svc, store, ext := testService(t)
	enrollStudent(t, store, ext, 4, "Anna Dvořáková", redPhoto)
	handler := NewStudentsHandler(svc, nil, testr.New(t))

	req := requestWithChiParams(httptest.NewRequest(http.MethodDelete, "/api/v1/students/4/face", nil), map[string]string{"id": "4"})
	recorder := httptest.NewRecorder()
	handler.ClearFace(recorder, req)

	assertStatusCode(t, recorder, http.StatusNoContent)
	if store.Encoding(4) != "" {
		t.Errorf("expected descriptor cleared, got %q", store.Encoding(4))
	}

	req = requestWithChiParams(httptest.NewRequest(http.MethodDelete, "/api/v1/students/5/face", nil), map[string]string{"id": "5"})
	recorder = httptest.NewRecorder()
	handler.ClearFace(recorder, req)
	assertStatusCode(t, recorder, http.StatusNotFound)
}

func TestStudentsHandler_InvalidatesStats(t *testing.T) {
	svc, store, ext := testService(t)
	enrollStudent(t, store, ext, 1, "Anna Dvořáková", redPhoto)
	stats := NewStatsHandler(svc, testr.New(t))
	handler := NewStudentsHandler(svc, stats, testr.New(t))

	stats.Get(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))
	if _, ok := stats.cache.get(); !ok {
		t.Fatal("expected stats to be cached")
	}

	req := requestWithChiParams(httptest.NewRequest(http.MethodDelete, "/api/v1/students/1/face", nil), map[string]string{"id": "1"})
	handler.ClearFace(httptest.NewRecorder(), req)

	if _, ok := stats.cache.get(); ok {
		t.Error("expected stats cache to be invalidated")
	}

	recorder := httptest.NewRecorder()
	stats.Get(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))
	var resp StatsResponse
	parseJSONResponse(t, recorder, &resp)
	if resp.WithDescriptor != 0 || resp.MissingDescriptors != 1 {
		t.Errorf("expected cleared descriptor in stats, got %+v", resp)
	}
}
