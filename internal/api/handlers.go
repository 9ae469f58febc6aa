/**
 * @description
 * HTTP handlers for poold. Handlers parse the request, call the identity,
 * onboarding or app layer, and write the response.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: URL parameters.
 * - github.com/shopspring/decimal: Amounts in request bodies.
 */
package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/Pool-labs/Pool/internal/app"
	"github.com/Pool-labs/Pool/internal/domain"
	"github.com/Pool-labs/Pool/internal/identity"
	"github.com/Pool-labs/Pool/internal/onboarding"
	"github.com/Pool-labs/Pool/internal/session"
	"github.com/Pool-labs/Pool/pkg/issuing"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Handlers holds the dependencies of every route.
type Handlers struct {
	provider identity.Provider
	sessions *session.Manager
	saga     *onboarding.Saga
	pools    *app.PoolService
	cards    *app.CardService
	payments *app.PaymentService
}

func NewHandlers(provider identity.Provider, sessions *session.Manager, saga *onboarding.Saga, pools *app.PoolService, cards *app.CardService, payments *app.PaymentService) *Handlers {
	return &Handlers{
		provider: provider,
		sessions: sessions,
		saga:     saga,
		pools:    pools,
		cards:    cards,
		payments: payments,
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", nil)
		return false
	}
	return true
}

// CredentialsRequest is the body of sign-up and sign-in.
type CredentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// FederatedRequest carries an external identity token.
type FederatedRequest struct {
	IDToken string `json:"id_token"`
}

func (h *Handlers) SignUp(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	result, err := h.provider.SignUp(r.Context(), req.Email, req.Password)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *Handlers) SignIn(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	result, err := h.provider.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handlers) SignInFederated(w http.ResponseWriter, r *http.Request) {
	var req FederatedRequest
	if !decodeBody(w, r, &req) {
		return
	}
	result, err := h.provider.SignInWithFederatedCredential(r.Context(), req.IDToken)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handlers) SignOut(w http.ResponseWriter, r *http.Request) {
	if err := h.provider.SignOut(r.Context(), GetUserIDFromContext(r.Context())); err != nil {
		respondWithError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SessionResponse is the caller's session plus the route decision.
type SessionResponse struct {
	State    session.State    `json:"state"`
	Decision session.Decision `json:"decision"`
}

// GetRoute answers where the caller belongs given the group they are in.
func (h *Handlers) GetRoute(w http.ResponseWriter, r *http.Request) {
	current, err := session.ParseGroup(r.URL.Query().Get("current"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), map[string]interface{}{"groups": session.Groups})
		return
	}

	uid := GetUserIDFromContext(r.Context())
	resp := SessionResponse{Decision: h.sessions.Route(uid, current)}
	if s := h.sessions.Get(uid); s != nil {
		resp.State = s.Snapshot()
	}
	writeJSON(w, http.StatusOK, resp)
}

// SaveProfile handles onboarding step one.
func (h *Handlers) SaveProfile(w http.ResponseWriter, r *http.Request) {
	var in onboarding.ProfileInput
	if !decodeBody(w, r, &in) {
		return
	}
	in.UID = GetUserIDFromContext(r.Context())
	if err := onboarding.SaveProfile(r.Context(), h.sessions, in); err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.sessions.Route(in.UID, session.GroupOnboardingStep1))
}

// LinkFunding handles onboarding step two. Names left out of the body are
// taken from the step-one answers held on the session.
func (h *Handlers) LinkFunding(w http.ResponseWriter, r *http.Request) {
	var in onboarding.Input
	if !decodeBody(w, r, &in) {
		return
	}
	ident := GetIdentityFromContext(r.Context())
	in.UID = ident.UID
	in.Email = ident.Email

	if s := h.sessions.Get(ident.UID); s != nil {
		if account := s.Snapshot().Account; account != nil {
			if strings.TrimSpace(in.FirstName) == "" {
				in.FirstName = account.FirstName
			}
			if strings.TrimSpace(in.LastName) == "" {
				in.LastName = account.LastName
			}
		}
	}

	liveness := session.NewLiveness(r.Context())
	defer liveness.End()

	result, err := h.saga.Run(r.Context(), in)
	if !liveness.Alive() {
		log.Warn().Str("uid", ident.UID).Bool("succeeded", err == nil).Msg("client left before onboarding finished; result not delivered")
		return
	}
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	h.sessions.ApplyAccount(ident.UID, result.Account)
	writeJSON(w, http.StatusCreated, result)
}

// CreatePoolRequest is the body of POST /pools.
type CreatePoolRequest struct {
	Name           string          `json:"name"`
	InitialBalance decimal.Decimal `json:"initial_balance"`
}

// AmountRequest carries a money amount.
type AmountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

func (h *Handlers) CreatePool(w http.ResponseWriter, r *http.Request) {
	var req CreatePoolRequest
	if !decodeBody(w, r, &req) {
		return
	}
	result, err := h.pools.CreatePool(r.Context(), app.CreatePoolInput{
		OwnerID:        GetUserIDFromContext(r.Context()),
		Name:           req.Name,
		InitialBalance: req.InitialBalance,
	})
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newCreatePoolView(result))
}

// ListPools lists the caller's pools; ?owned=true limits it to pools they own.
func (h *Handlers) ListPools(w http.ResponseWriter, r *http.Request) {
	uid := GetUserIDFromContext(r.Context())
	var (
		pools []domain.Pool
		err   error
	)
	if r.URL.Query().Get("owned") == "true" {
		pools, err = h.pools.ListOwnedPools(r.Context(), uid)
	} else {
		pools, err = h.pools.ListPools(r.Context(), uid)
	}
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, poolViews(pools))
}

func (h *Handlers) GetPool(w http.ResponseWriter, r *http.Request) {
	pool, err := h.pools.GetPool(r.Context(), GetUserIDFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPoolView(pool))
}

func (h *Handlers) JoinPool(w http.ResponseWriter, r *http.Request) {
	pool, err := h.pools.JoinPool(r.Context(), GetUserIDFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPoolView(pool))
}

func (h *Handlers) LeavePool(w http.ResponseWriter, r *http.Request) {
	if err := h.pools.LeavePool(r.Context(), GetUserIDFromContext(r.Context()), chi.URLParam(r, "id")); err != nil {
		respondWithError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) AddFunds(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	if !decodeBody(w, r, &req) {
		return
	}
	pool, err := h.pools.AddFunds(r.Context(), GetUserIDFromContext(r.Context()), chi.URLParam(r, "id"), req.Amount)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPoolView(pool))
}

func (h *Handlers) WithdrawFunds(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	if !decodeBody(w, r, &req) {
		return
	}
	pool, err := h.pools.WithdrawFunds(r.Context(), GetUserIDFromContext(r.Context()), chi.URLParam(r, "id"), req.Amount)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPoolView(pool))
}

// IssueCardRequest is the body of POST /pools/{id}/cards.
type IssueCardRequest struct {
	Type             domain.CardType           `json:"type"`
	Label            string                    `json:"label"`
	SpendingControls *issuing.SpendingControls `json:"spending_controls,omitempty"`
	Shipping         *issuing.Shipping         `json:"shipping,omitempty"`
}

func (h *Handlers) IssueCard(w http.ResponseWriter, r *http.Request) {
	var req IssueCardRequest
	if !decodeBody(w, r, &req) {
		return
	}
	card, err := h.cards.IssueCard(r.Context(), app.IssueCardInput{
		OwnerID:          GetUserIDFromContext(r.Context()),
		PoolID:           chi.URLParam(r, "id"),
		Type:             req.Type,
		Label:            req.Label,
		SpendingControls: req.SpendingControls,
		Shipping:         req.Shipping,
	})
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newCardView(card))
}

func (h *Handlers) ListCards(w http.ResponseWriter, r *http.Request) {
	cards, err := h.cards.ListCards(r.Context(), GetUserIDFromContext(r.Context()))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cardViews(cards))
}

func (h *Handlers) ActivateCard(w http.ResponseWriter, r *http.Request) {
	card, err := h.cards.ActivateCard(r.Context(), GetUserIDFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newCardView(card))
}

func (h *Handlers) DeactivateCard(w http.ResponseWriter, r *http.Request) {
	card, err := h.cards.DeactivateCard(r.Context(), GetUserIDFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newCardView(card))
}

func (h *Handlers) Contribute(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	if !decodeBody(w, r, &req) {
		return
	}
	payment, err := h.payments.Contribute(r.Context(), GetUserIDFromContext(r.Context()), chi.URLParam(r, "id"), req.Amount)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, newPaymentView(payment))
}

func (h *Handlers) ListPayments(w http.ResponseWriter, r *http.Request) {
	payments, err := h.payments.ListPayments(r.Context(), GetUserIDFromContext(r.Context()))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, paymentViews(payments))
}
