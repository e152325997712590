package services

import (
	"log"
	"net/http"

	"github.com/kidcoin/backend/internal/middleware"
	"github.com/kidcoin/backend/internal/models"
	"github.com/kidcoin/backend/internal/notify"
)

// GameTimeService exposes the game-time workflow: children request days,
// parents approve or reject, and children then buy days with coins at the
// fixed 1 day = 1 coin rate. Approval never grants days by itself.
type GameTimeService struct {
	ledger    *LedgerService
	requests  *RequestService
	notifier  notify.Publisher
	validator *ValidationHelper
}

func NewGameTimeService(ledger *LedgerService, requests *RequestService, notifier notify.Publisher) *GameTimeService {
	return &GameTimeService{
		ledger:    ledger,
		requests:  requests,
		notifier:  notifier,
		validator: NewValidationHelper(),
	}
}

// RequestGameTime creates a pending game-time request
// @Summary Request game days from a parent
// @Tags game-time
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{parentId=int,days=int} true "Game time request"
// @Success 200 {object} models.GameTimeRequest
// @Router /game-time/request [post]
func (s *GameTimeService) RequestGameTime(w http.ResponseWriter, r *http.Request) {
	childID, ok := middleware.UserID(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		ParentID int `json:"parentId" validate:"required,gt=0"`
		Days     int `json:"days" validate:"required,gt=0"`
	}
	if !decodeJSON(w, r, &req, s.validator) {
		return
	}

	request, err := s.requests.CreateGameTimeRequest(childID, req.ParentID, req.Days)
	if err != nil {
		log.Printf("[REQUEST] Game time request creation failed for child %d: %v", childID, err)
		SendLedgerError(w, err)
		return
	}

	s.notifier.Publish(req.ParentID, notify.NewEvent(notify.EventNewGameTimeRequest, childID, request))
	writeJSON(w, request)
}

// GetRequests lists a parent's pending game-time requests
// @Summary List pending game-time requests
// @Tags game-time
// @Produce json
// @Security BearerAuth
// @Param parentId path int true "Parent ID"
// @Success 200 {array} models.GameTimeRequest
// @Router /game-time/requests/{parentId} [get]
func (s *GameTimeService) GetRequests(w http.ResponseWriter, r *http.Request) {
	parentID, ok := pathID(w, r, "parentId")
	if !ok {
		return
	}

	requests, err := s.requests.GameTimeRequests(parentID)
	if err != nil {
		log.Printf("[REQUEST] Game time request query failed for parent %d: %v", parentID, err)
		SendLedgerError(w, err)
		return
	}
	writeJSON(w, requests)
}

// Respond resolves a pending game-time request
// @Summary Approve or reject a game-time request
// @Description Only flips the status; the child purchases days separately
// @Tags game-time
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param requestId path int true "Request ID"
// @Param request body object{status=string} true "approved or rejected"
// @Success 200 {object} models.GameTimeRequest
// @Failure 409 {object} services.ErrorResponse
// @Router /game-time/respond/{requestId} [post]
func (s *GameTimeService) Respond(w http.ResponseWriter, r *http.Request) {
	requestID, ok := pathID(w, r, "requestId")
	if !ok {
		return
	}

	var req struct {
		Status models.RequestStatus `json:"status" validate:"required,oneof=approved rejected"`
	}
	if !decodeJSON(w, r, &req, s.validator) {
		return
	}

	request, err := s.requests.RespondGameTimeRequest(requestID, req.Status)
	if err != nil {
		log.Printf("[REQUEST] Game time response failed for request %d: %v", requestID, err)
		SendLedgerError(w, err)
		return
	}

	s.notifier.Publish(request.ChildID, notify.NewEvent(notify.EventGameTimeResponse, request.ChildID, request))
	writeJSON(w, request)
}

// Purchase buys game days with coins
// @Summary Purchase game days
// @Description Debits the balance at 1 day = 1 coin; fails without writes when the balance is short
// @Tags game-time
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{days=int} true "Day count"
// @Success 200 {object} models.GameTimePurchase
// @Failure 400 {object} services.ErrorResponse "insufficient balance: need X, have Y"
// @Router /game-time/purchase [post]
func (s *GameTimeService) Purchase(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Days int `json:"days" validate:"required,gt=0"`
	}
	if !decodeJSON(w, r, &req, s.validator) {
		return
	}

	purchase, err := s.ledger.PurchaseGameDays(userID, req.Days)
	if err != nil {
		log.Printf("[LEDGER] Purchase failed for user %d: %v", userID, err)
		SendLedgerError(w, err)
		return
	}

	log.Printf("[LEDGER] User %d purchased %d game days for %s", userID, purchase.Days, purchase.CoinsSpent)
	s.notifier.Publish(userID, notify.NewEvent(notify.EventGameTimePurchased, userID, purchase))
	writeJSON(w, purchase)
}

// GetPurchases lists a user's game-day purchases
// @Summary Get purchase history
// @Tags game-time
// @Produce json
// @Security BearerAuth
// @Param userId path int true "User ID"
// @Success 200 {array} models.GameTimePurchase
// @Router /game-time/purchases/{userId} [get]
func (s *GameTimeService) GetPurchases(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userId")
	if !ok {
		return
	}

	purchases, err := s.ledger.PurchaseHistory(userID)
	if err != nil {
		log.Printf("[LEDGER] Purchase history query failed for user %d: %v", userID, err)
		SendLedgerError(w, err)
		return
	}
	writeJSON(w, purchases)
}
