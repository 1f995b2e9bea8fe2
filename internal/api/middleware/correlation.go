package middleware

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"strconv"
	"time"
)

const (
	// CorrelationIDHeader carries the request correlation id in both directions.
	CorrelationIDHeader = "X-Correlation-ID"

	correlationIDSize = 8
	// correlationIDLength is the generated length in hex characters.
	correlationIDLength = 16
	// maxCorrelationIDLength bounds client-supplied ids that reach logs.
	maxCorrelationIDLength = 128
)

type correlationIDKey struct{}

// CorrelationID creates a middleware that puts a correlation id on the request
// context and the response headers. A client-supplied X-Correlation-ID is reused
// when it is printable and not longer than 128 bytes. Otherwise a new id is generated.
func CorrelationID() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			correlationID := r.Header.Get(CorrelationIDHeader)
			if !validCorrelationID(correlationID) {
				correlationID = generateCorrelationID()
			}

			w.Header().Set(CorrelationIDHeader, correlationID)

			ctx := WithCorrelationIDContext(r.Context(), correlationID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithCorrelationIDContext returns a copy of ctx carrying correlationID.
func WithCorrelationIDContext(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, correlationIDKey{}, correlationID)
}

// GetCorrelationID extracts the correlation ID from the request context.
func GetCorrelationID(ctx context.Context) string {
	if correlationID, ok := ctx.Value(correlationIDKey{}).(string); ok {
		return correlationID
	}

	return "unknown"
}

func validCorrelationID(id string) bool {
	if id == "" || len(id) > maxCorrelationIDLength {
		return false
	}

	for i := range len(id) {
		if id[i] < 0x21 || id[i] > 0x7e {
			return false
		}
	}

	return true
}

// generateCorrelationID returns 16 hex characters from crypto/rand, falling back
// to the clock when the system source fails.
func generateCorrelationID() string {
	bytes := make([]byte, correlationIDSize)
	if _, err := rand.Read(bytes); err != nil {
		fallback := strconv.FormatInt(time.Now().UnixNano(), 16)
		for len(fallback) < correlationIDLength {
			fallback = "0" + fallback
		}

		return fallback[len(fallback)-correlationIDLength:]
	}

	return hex.EncodeToString(bytes)
}
