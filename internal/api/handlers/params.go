package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"memberpay/internal/types"
)

// pathID parses a positive integer URL parameter.
func pathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, types.NewAppErrorWithDetails(
			types.ErrCodeValidationInvalidID,
			"path parameter must be a positive integer",
			err,
			map[string]any{"field": name, "value": raw},
		)
	}
	return id, nil
}
