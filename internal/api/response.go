package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Paygig/paygig-data-wallet/internal/domain"
	"github.com/sirupsen/logrus"
)

// writeJSON is a helper for writing JSON responses.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

type insufficientFundsResponse struct {
	Error     string `json:"error"`
	Price     int64  `json:"price"`
	Available int64  `json:"available"`
	Shortfall int64  `json:"shortfall"`
}

// writeServiceError maps a service error onto its HTTP status.
func writeServiceError(w http.ResponseWriter, logger logrus.FieldLogger, endpoint string, err error) {
	var (
		validation   *domain.ValidationError
		insufficient *domain.InsufficientFundsError
		notFound     *domain.NotFoundError
		settlement   *domain.SettlementError
	)
	switch {
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, validation.Error())
	case errors.As(err, &insufficient):
		writeJSON(w, http.StatusPaymentRequired, insufficientFundsResponse{
			Error:     "Insufficient funds",
			Price:     insufficient.Price,
			Available: insufficient.Available,
			Shortfall: insufficient.Shortfall,
		})
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, notFound.Error())
	case errors.As(err, &settlement):
		logger.WithField("endpoint", endpoint).WithError(err).Warn("settlement conflict")
		writeError(w, http.StatusConflict, "The wallet changed while processing your request, please retry")
	default:
		logger.WithField("endpoint", endpoint).WithError(err).Error("request failed")
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}
