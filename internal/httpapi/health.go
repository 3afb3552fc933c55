package httpapi

import (
	"net/http"
)

// indexHealthHandler handles GET /v1/health/index, surfacing the HNSW
// index's internal consistency report for operational visibility. Read
// only: it never repairs anything it finds.
func indexHealthHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := svc.HealthReport()
		status := http.StatusOK
		if !report.Healthy {
			status = http.StatusServiceUnavailable
		}
		respondJSON(w, status, envelope{Success: report.Healthy, Data: report})
	}
}
