package apihttp

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	points "telemetry-engine/internal/points/domain"
)

func systemIDVar(r *http.Request) (int64, error) {
	raw := mux.Vars(r)["systemID"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, &points.ValidationError{Field: "systemID", Input: raw, Reason: "must be a positive integer"}
	}
	return id, nil
}

func pointIndexVar(r *http.Request) (int, error) {
	raw := mux.Vars(r)["pointIndex"]
	idx, err := strconv.Atoi(raw)
	if err != nil || idx <= 0 {
		return 0, &points.ValidationError{Field: "pointIndex", Input: raw, Reason: "must be a positive integer"}
	}
	return idx, nil
}
