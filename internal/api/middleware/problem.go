package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// ProblemTypeBaseURL prefixes the RFC 7807 "type" of every problem response.
const ProblemTypeBaseURL = "https://gjallarhorn.io/problems/"

// writeRFC7807Error writes an RFC 7807 problem body without importing the api package.
func writeRFC7807Error(
	w http.ResponseWriter,
	r *http.Request,
	statusCode int,
	detail,
	correlationID string,
) error {
	problem := map[string]any{
		"type":           fmt.Sprintf("%s%d", ProblemTypeBaseURL, statusCode),
		"title":          http.StatusText(statusCode),
		"status":         statusCode,
		"detail":         detail,
		"instance":       r.URL.Path,
		"correlation_id": correlationID,
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(statusCode)

	return json.NewEncoder(w).Encode(problem)
}
