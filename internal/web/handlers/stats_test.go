package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-logr/logr/testr"

	"github.com/kozaktomas/facelookup/internal/database"
	"github.com/kozaktomas/facelookup/internal/face"
)

func TestStatsHandler_Get(t *testing.T) {
	svc, store, ext := testService(t)
	enrollStudent(t, store, ext, 1, "Anna Dvořáková", redPhoto)
	store.AddStudent(database.Student{ID: 2, Name: "Petr Novák", PhotoFile: blankPhoto}, "")
	store.AddStudent(database.Student{ID: 3, Name: "Eva Malá"}, "")
	handler := NewStatsHandler(svc, testr.New(t))

	recorder := httptest.NewRecorder()
	handler.Get(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))

	assertStatusCode(t, recorder, http.StatusOK)
	var resp StatsResponse
	parseJSONResponse(t, recorder, &resp)
	want := StatsResponse{
		Students: 3, WithPhoto: 2, WithDescriptor: 1, MissingDescriptors: 1,
		MatchThreshold: face.DefaultMatchThreshold,
	}
	if resp != want {
		t.Errorf("expected %+v, got %+v", want, resp)
	}
}

func TestStatsHandler_UsesCache(t *testing.T) {
	svc, store, _ := testService(t)
	handler := NewStatsHandler(svc, testr.New(t))

	handler.Get(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))
	store.CountStatsError = errors.New("database gone")

	recorder := httptest.NewRecorder()
	handler.Get(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))
	assertStatusCode(t, recorder, http.StatusOK)

	handler.InvalidateCache()
	recorder = httptest.NewRecorder()
	handler.Get(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))
	assertStatusCode(t, recorder, http.StatusInternalServerError)
}
