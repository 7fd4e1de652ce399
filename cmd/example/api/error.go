package api

import (
	"errors"
	"net/http"

	"github.com/gehhilfe/eventorm/cmd/example/model"
	"github.com/gehhilfe/eventorm/core"
)

type invalidFieldError struct {
	field string
}

func (e *invalidFieldError) Error() string {
	return "Invalid field: " + e.field
}

// writeError maps command and storage errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrStreamNotFound):
		http.Error(w, "Not found", http.StatusNotFound)
	case errors.Is(err, core.ErrVersionConflict):
		http.Error(w, "Conflict", http.StatusConflict)
	case errors.Is(err, model.ErrAmountNotPositive), errors.Is(err, model.ErrInsufficientFunds):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
