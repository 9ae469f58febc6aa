package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Pool-labs/Pool/internal/app"
	"github.com/Pool-labs/Pool/internal/identity"
	"github.com/Pool-labs/Pool/internal/onboarding"
	"github.com/Pool-labs/Pool/internal/session"
	"github.com/Pool-labs/Pool/internal/store"
	"github.com/Pool-labs/Pool/pkg/issuing"
	"github.com/Pool-labs/Pool/pkg/paymentsclient"
	"github.com/rs/zerolog/log"
)

// ErrorResponse is the JSON body of every non-2xx answer.
type ErrorResponse struct {
	Error   string      `json:"error"`
	Code    string      `json:"code,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

// writeJSON is a helper to write JSON responses.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, message string, details interface{}) {
	writeJSON(w, status, ErrorResponse{Error: message, Details: details})
}

// respondWithError maps service errors onto HTTP statuses.
func respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		authErr     *identity.AuthError
		cardErr     *issuing.ValidationError
		onboardErr  *onboarding.ValidationError
		sagaErr     *onboarding.SagaError
		providerErr *paymentsclient.APIError
	)

	switch {
	case errors.As(err, &authErr):
		status := http.StatusUnauthorized
		switch authErr.Code {
		case identity.CodeEmailAlreadyInUse:
			status = http.StatusConflict
		case identity.CodeInvalidEmail, identity.CodeWeakPassword:
			status = http.StatusBadRequest
		case identity.CodeInternal:
			status = http.StatusInternalServerError
		}
		writeJSON(w, status, ErrorResponse{Error: authErr.Message, Code: authErr.Code})
	case errors.As(err, &cardErr):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: cardErr.Message, Code: "invalid_" + cardErr.Field})
	case errors.As(err, &onboardErr):
		writeError(w, http.StatusBadRequest, onboardErr.Error(), map[string]interface{}{"fields": onboardErr.Fields})
	case errors.As(err, &sagaErr):
		writeJSON(w, http.StatusBadGateway, ErrorResponse{
			Error: sagaErr.Error(),
			Code:  string(sagaErr.Step),
			Details: map[string]interface{}{
				"step":    sagaErr.Step,
				"partial": sagaErr.Partial,
			},
		})
	case errors.Is(err, app.ErrInvalidInput), errors.Is(err, store.ErrInvalidAmount), errors.Is(err, store.ErrAmountPrecision):
		writeError(w, http.StatusBadRequest, err.Error(), nil)
	case errors.Is(err, onboarding.ErrOnboardingInProgress), errors.Is(err, onboarding.ErrAlreadyOnboarded):
		writeError(w, http.StatusConflict, err.Error(), nil)
	case errors.Is(err, store.ErrInsufficientFunds), errors.Is(err, app.ErrFundingNotLinked), errors.Is(err, app.ErrOwnerCannotLeave):
		writeError(w, http.StatusUnprocessableEntity, err.Error(), nil)
	case errors.Is(err, app.ErrNotPoolMember), errors.Is(err, app.ErrNotPoolOwner), errors.Is(err, app.ErrNotCardOwner):
		writeError(w, http.StatusForbidden, err.Error(), nil)
	case errors.Is(err, session.ErrNoSession):
		writeError(w, http.StatusUnauthorized, err.Error(), nil)
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, store.ErrAccountNotFound),
		errors.Is(err, store.ErrPoolNotFound),
		errors.Is(err, store.ErrCardNotFound),
		errors.Is(err, store.ErrPaymentNotFound):
		writeError(w, http.StatusNotFound, err.Error(), nil)
	case errors.As(err, &providerErr):
		writeJSON(w, http.StatusBadGateway, ErrorResponse{Error: providerErr.Error(), Code: providerErr.Code})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "request cancelled", nil)
	default:
		log.Error().Err(err).Str("path", r.URL.Path).Msg("unhandled request error")
		writeError(w, http.StatusInternalServerError, "internal server error", nil)
	}
}
