package services

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/kidcoin/backend/internal/middleware"
	"github.com/kidcoin/backend/internal/models"
	"github.com/kidcoin/backend/internal/notify"
)

// CoinService exposes the coin ledger over HTTP: manual grants and history
// edits by parents, balance/history reads, and the coin-request workflow.
// Every mutating handler notifies the affected account after the ledger
// transaction has committed.
type CoinService struct {
	ledger    *LedgerService
	requests  *RequestService
	notifier  notify.Publisher
	validator *ValidationHelper
}

func NewCoinService(ledger *LedgerService, requests *RequestService, notifier notify.Publisher) *CoinService {
	return &CoinService{
		ledger:    ledger,
		requests:  requests,
		notifier:  notifier,
		validator: NewValidationHelper(),
	}
}

// AddCoins grants (or deducts) coins
// @Summary Grant coins to a user
// @Description Insert a coin history entry and apply it to the balance atomically
// @Tags coins
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{userId=int,amount=string,reason=string} true "Coin grant"
// @Success 200 {object} models.Coin
// @Failure 400 {object} services.ErrorResponse
// @Router /coins [post]
func (s *CoinService) AddCoins(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID int          `json:"userId" validate:"required,gt=0"`
		Amount models.Money `json:"amount"`
		Reason string       `json:"reason" validate:"required"`
	}
	if !decodeJSON(w, r, &req, s.validator) {
		return
	}

	coin, err := s.ledger.Grant(req.UserID, req.Amount, req.Reason)
	if err != nil {
		log.Printf("[LEDGER] Grant failed for user %d: %v", req.UserID, err)
		SendLedgerError(w, err)
		return
	}

	log.Printf("[LEDGER] Granted %s to user %d (%s)", coin.Amount, req.UserID, coin.Reason)
	s.notifier.Publish(req.UserID, notify.NewEvent(notify.EventCoinUpdate, req.UserID, coin))
	writeJSON(w, coin)
}

// GetBalance returns a user's current balance
// @Summary Get coin balance
// @Tags coins
// @Produce json
// @Security BearerAuth
// @Param userId path int true "User ID"
// @Success 200 {object} object{balance=string}
// @Router /coins/balance/{userId} [get]
func (s *CoinService) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userId")
	if !ok {
		return
	}

	balance, err := s.ledger.Balance(userID)
	if err != nil {
		SendLedgerError(w, err)
		return
	}
	writeJSON(w, map[string]string{"balance": balance.String()})
}

// GetHistory returns a user's coin history
// @Summary Get coin history
// @Tags coins
// @Produce json
// @Security BearerAuth
// @Param userId path int true "User ID"
// @Success 200 {array} models.Coin
// @Router /coins/history/{userId} [get]
func (s *CoinService) GetHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userId")
	if !ok {
		return
	}

	history, err := s.ledger.History(userID)
	if err != nil {
		log.Printf("[LEDGER] History query failed for user %d: %v", userID, err)
		SendLedgerError(w, err)
		return
	}
	writeJSON(w, history)
}

// GetParentHistory returns the coin history of all the parent's children
// @Summary Get children coin history
// @Tags coins
// @Produce json
// @Security BearerAuth
// @Param parentId path int true "Parent ID"
// @Success 200 {array} services.ParentCoinEntry
// @Router /coins/parent-history/{parentId} [get]
func (s *CoinService) GetParentHistory(w http.ResponseWriter, r *http.Request) {
	parentID, ok := pathID(w, r, "parentId")
	if !ok {
		return
	}

	history, err := s.ledger.ParentHistory(parentID)
	if err != nil {
		log.Printf("[LEDGER] Parent history query failed for parent %d: %v", parentID, err)
		SendLedgerError(w, err)
		return
	}
	writeJSON(w, history)
}

// UpdateCoin edits a history entry's reason and amount
// @Summary Edit a coin history entry
// @Description Applies the amount delta to the balance in the same transaction
// @Tags coins
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param coinId path int true "Coin ID"
// @Param request body object{amount=string,reason=string} true "New values"
// @Success 200 {object} models.Coin
// @Failure 404 {object} services.ErrorResponse
// @Router /coins/{coinId} [patch]
func (s *CoinService) UpdateCoin(w http.ResponseWriter, r *http.Request) {
	coinID, ok := pathID(w, r, "coinId")
	if !ok {
		return
	}

	var req struct {
		Amount models.Money `json:"amount"`
		Reason string       `json:"reason" validate:"required"`
	}
	if !decodeJSON(w, r, &req, s.validator) {
		return
	}

	coin, err := s.ledger.EditTransaction(coinID, req.Reason, req.Amount)
	if err != nil {
		log.Printf("[LEDGER] Edit failed for coin %d: %v", coinID, err)
		SendLedgerError(w, err)
		return
	}

	s.notifier.Publish(coin.UserID, notify.NewEvent(notify.EventCoinUpdate, coin.UserID, coin))
	writeJSON(w, coin)
}

// DeleteCoin removes a history entry
// @Summary Delete a coin history entry
// @Description Subtracts the entry's amount from the balance in the same transaction
// @Tags coins
// @Produce json
// @Security BearerAuth
// @Param coinId path int true "Coin ID"
// @Success 200 {object} object{success=bool}
// @Failure 404 {object} services.ErrorResponse
// @Router /coins/{coinId} [delete]
func (s *CoinService) DeleteCoin(w http.ResponseWriter, r *http.Request) {
	coinID, ok := pathID(w, r, "coinId")
	if !ok {
		return
	}

	coin, err := s.ledger.DeleteTransaction(coinID)
	if err != nil {
		log.Printf("[LEDGER] Delete failed for coin %d: %v", coinID, err)
		SendLedgerError(w, err)
		return
	}

	s.notifier.Publish(coin.UserID, notify.NewEvent(notify.EventCoinUpdate, coin.UserID, nil))
	writeJSON(w, map[string]bool{"success": true})
}

// Reconcile recomputes the balance from both ledgers
// @Summary Reconcile a user's balance
// @Description Audit endpoint: compares the stored balance with sum(coins) - sum(purchases)
// @Tags coins
// @Produce json
// @Security BearerAuth
// @Param userId path int true "User ID"
// @Success 200 {object} services.Reconciliation
// @Router /coins/reconcile/{userId} [get]
func (s *CoinService) Reconcile(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userId")
	if !ok {
		return
	}

	rec, err := s.ledger.Reconcile(userID)
	if err != nil {
		SendLedgerError(w, err)
		return
	}
	if !rec.Consistent {
		log.Printf("[LEDGER] Balance mismatch for user %d: stored %s, computed %s",
			userID, rec.StoredBalance, rec.ComputedBalance)
	}
	writeJSON(w, rec)
}

// RequestCoins creates a pending coin request
// @Summary Request coins from a parent
// @Tags coin-requests
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{parentId=int,requestedAmount=string,reason=string} true "Coin request"
// @Success 200 {object} models.CoinRequest
// @Router /coins/request [post]
func (s *CoinService) RequestCoins(w http.ResponseWriter, r *http.Request) {
	childID, ok := middleware.UserID(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		ParentID        int          `json:"parentId" validate:"required,gt=0"`
		RequestedAmount models.Money `json:"requestedAmount"`
		Reason          string       `json:"reason" validate:"required"`
	}
	if !decodeJSON(w, r, &req, s.validator) {
		return
	}

	request, err := s.requests.CreateCoinRequest(childID, req.ParentID, req.RequestedAmount, req.Reason)
	if err != nil {
		log.Printf("[REQUEST] Coin request creation failed for child %d: %v", childID, err)
		SendLedgerError(w, err)
		return
	}

	s.notifier.Publish(req.ParentID, notify.NewEvent(notify.EventNewCoinRequest, childID, request))
	writeJSON(w, request)
}

// GetCoinRequests lists a parent's pending coin requests
// @Summary List pending coin requests
// @Tags coin-requests
// @Produce json
// @Security BearerAuth
// @Param parentId path int true "Parent ID"
// @Success 200 {array} models.CoinRequest
// @Router /coins/requests/{parentId} [get]
func (s *CoinService) GetCoinRequests(w http.ResponseWriter, r *http.Request) {
	parentID, ok := pathID(w, r, "parentId")
	if !ok {
		return
	}

	requests, err := s.requests.CoinRequests(parentID)
	if err != nil {
		log.Printf("[REQUEST] Coin request query failed for parent %d: %v", parentID, err)
		SendLedgerError(w, err)
		return
	}
	writeJSON(w, requests)
}

// ApproveCoinRequest approves a pending coin request
// @Summary Approve a coin request
// @Description Grants the approved amount (which may differ from the requested one) to the child
// @Tags coin-requests
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param requestId path int true "Request ID"
// @Param request body object{approvedAmount=string} true "Approved amount"
// @Success 200 {object} models.CoinRequest
// @Failure 409 {object} services.ErrorResponse
// @Router /coins/request/{requestId}/approve [post]
func (s *CoinService) ApproveCoinRequest(w http.ResponseWriter, r *http.Request) {
	requestID, ok := pathID(w, r, "requestId")
	if !ok {
		return
	}

	var req struct {
		ApprovedAmount models.Money `json:"approvedAmount"`
	}
	if !decodeJSON(w, r, &req, s.validator) {
		return
	}

	request, err := s.requests.ApproveCoinRequest(requestID, req.ApprovedAmount)
	if err != nil {
		log.Printf("[REQUEST] Approval failed for coin request %d: %v", requestID, err)
		SendLedgerError(w, err)
		return
	}

	log.Printf("[REQUEST] Coin request %d approved for %s", requestID, req.ApprovedAmount)
	s.notifier.Publish(request.ChildID, notify.NewEvent(notify.EventCoinRequestResponse, request.ChildID, request))
	writeJSON(w, request)
}

// RejectCoinRequest rejects a pending coin request
// @Summary Reject a coin request
// @Tags coin-requests
// @Produce json
// @Security BearerAuth
// @Param requestId path int true "Request ID"
// @Success 200 {object} models.CoinRequest
// @Failure 409 {object} services.ErrorResponse
// @Router /coins/request/{requestId}/reject [post]
func (s *CoinService) RejectCoinRequest(w http.ResponseWriter, r *http.Request) {
	requestID, ok := pathID(w, r, "requestId")
	if !ok {
		return
	}

	request, err := s.requests.RejectCoinRequest(requestID)
	if err != nil {
		log.Printf("[REQUEST] Rejection failed for coin request %d: %v", requestID, err)
		SendLedgerError(w, err)
		return
	}

	s.notifier.Publish(request.ChildID, notify.NewEvent(notify.EventCoinRequestResponse, request.ChildID, request))
	writeJSON(w, request)
}

// decodeJSON applies the shared request hygiene: body size cap, unknown
// field rejection, single-object check, struct validation. Returns false if
// a response has already been written.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, vh *ValidationHelper) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}
	if err := vh.ValidateStruct(dst); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return false
	}
	return true
}

// pathID parses a positive integer chi URL parameter.
func pathID(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, name))
	if err != nil || id <= 0 {
		SendErrorResponse(w, "Invalid "+name, http.StatusBadRequest, nil)
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeJSONStatus(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}
