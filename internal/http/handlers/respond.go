package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/advocacyflow/server/internal/middleware"
)

// respondJSON writes v as a JSON response
func respondJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

// respondWithError sends a JSON error response
func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, map[string]string{"detail": message})
}

// decodeJSON decodes the request body into dst, answering 422 on malformed input
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondWithError(w, http.StatusUnprocessableEntity, "invalid request body")
		return false
	}
	return true
}

// sessionUser returns the session user id. A claimed user id from the body or path
// must match it; an empty claim means "the session user".
func sessionUser(w http.ResponseWriter, r *http.Request, claimed string) (string, bool) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "missing session")
		return "", false
	}
	claimed = strings.TrimSpace(claimed)
	if claimed != "" && claimed != userID {
		respondWithError(w, http.StatusForbidden, "user_id does not match session")
		return "", false
	}
	return userID, true
}
