package services

import (
	"bytes"
	"database/sql"
	"encoding/base64"
	"fmt"
	"image/png"
	"log"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/kidcoin/backend/internal/middleware"
	"github.com/kidcoin/backend/internal/models"
	"github.com/kidcoin/backend/internal/notify"
	"github.com/skip2/go-qrcode"
)

const inviteTTL = 24 * time.Hour

// FamilyService handles the account directory: parent listing for child
// registration, children lookup, coin-unit labels, invite QR codes, and the
// account-deletion workflow.
type FamilyService struct {
	db        *sql.DB
	redis     *redis.Client
	requests  *RequestService
	notifier  notify.Publisher
	validator *ValidationHelper
}

func NewFamilyService(db *sql.DB, redisClient *redis.Client, requests *RequestService, notifier notify.Publisher) *FamilyService {
	return &FamilyService{
		db:        db,
		redis:     redisClient,
		requests:  requests,
		notifier:  notifier,
		validator: NewValidationHelper(),
	}
}

// GetParents lists parent accounts available for child registration
// @Summary List parents
// @Tags family
// @Produce json
// @Success 200 {array} object{id=int,username=string}
// @Router /parents [get]
func (s *FamilyService) GetParents(w http.ResponseWriter, r *http.Request) {
	rows, err := s.db.Query(`SELECT id, username FROM users WHERE role = 'parent' ORDER BY username`)
	if err != nil {
		log.Printf("[FAMILY] Parent query failed: %v", err)
		SendLedgerError(w, err)
		return
	}
	defer rows.Close()

	type parent struct {
		ID       int    `json:"id"`
		Username string `json:"username"`
	}
	parents := []parent{}
	for rows.Next() {
		var p parent
		if err := rows.Scan(&p.ID, &p.Username); err != nil {
			SendLedgerError(w, err)
			return
		}
		parents = append(parents, p)
	}
	writeJSON(w, parents)
}

// GetChildren lists a parent's children
// @Summary List a parent's children
// @Tags family
// @Produce json
// @Security BearerAuth
// @Param parentId path int true "Parent ID"
// @Success 200 {array} models.User
// @Router /children/{parentId} [get]
func (s *FamilyService) GetChildren(w http.ResponseWriter, r *http.Request) {
	parentID, ok := pathID(w, r, "parentId")
	if !ok {
		return
	}

	rows, err := s.db.Query(`
		SELECT id, username, role, parent_id, coin_balance, coin_unit, created_at
		FROM users WHERE parent_id = $1 AND role = 'child'
		ORDER BY username`, parentID)
	if err != nil {
		log.Printf("[FAMILY] Children query failed for parent %d: %v", parentID, err)
		SendLedgerError(w, err)
		return
	}
	defer rows.Close()

	children := []models.User{}
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Username, &u.Role, &u.ParentID, &u.CoinBalance, &u.CoinUnit, &u.CreatedAt); err != nil {
			SendLedgerError(w, err)
			return
		}
		children = append(children, u)
	}
	writeJSON(w, children)
}

// RequestDeletion files a pending account-deletion request
// @Summary Request account deletion
// @Tags family
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{parentId=int} true "Parent to approve the deletion"
// @Success 200 {object} models.DeleteRequest
// @Router /delete-requests [post]
func (s *FamilyService) RequestDeletion(w http.ResponseWriter, r *http.Request) {
	childID, ok := middleware.UserID(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		ParentID int `json:"parentId" validate:"required,gt=0"`
	}
	if !decodeJSON(w, r, &req, s.validator) {
		return
	}

	request, err := s.requests.CreateDeleteRequest(childID, req.ParentID)
	if err != nil {
		log.Printf("[FAMILY] Delete request creation failed for child %d: %v", childID, err)
		SendLedgerError(w, err)
		return
	}

	s.notifier.Publish(req.ParentID, notify.NewEvent(notify.EventNewDeleteRequest, childID, request))
	writeJSON(w, request)
}

// GetDeleteRequests lists a parent's pending deletion requests
// @Summary List pending deletion requests
// @Tags family
// @Produce json
// @Security BearerAuth
// @Param parentId path int true "Parent ID"
// @Success 200 {array} models.DeleteRequest
// @Router /delete-requests/{parentId} [get]
func (s *FamilyService) GetDeleteRequests(w http.ResponseWriter, r *http.Request) {
	parentID, ok := pathID(w, r, "parentId")
	if !ok {
		return
	}

	requests, err := s.requests.DeleteRequests(parentID)
	if err != nil {
		log.Printf("[FAMILY] Delete request query failed for parent %d: %v", parentID, err)
		SendLedgerError(w, err)
		return
	}
	writeJSON(w, requests)
}

// DeleteUser irreversibly deletes an account and everything it owns
// @Summary Delete a user account
// @Description Cascades to coin history, purchases and requests in one transaction
// @Tags family
// @Produce json
// @Security BearerAuth
// @Param userId path int true "User ID"
// @Success 200 {object} object{success=bool}
// @Failure 404 {object} services.ErrorResponse
// @Router /user/delete/{userId} [post]
func (s *FamilyService) DeleteUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userId")
	if !ok {
		return
	}

	if err := s.requests.DeleteAccount(userID); err != nil {
		log.Printf("[FAMILY] Account deletion failed for user %d: %v", userID, err)
		SendLedgerError(w, err)
		return
	}

	log.Printf("[FAMILY] Account %d deleted", userID)
	s.notifier.Publish(userID, notify.NewEvent(notify.EventAccountDeleted, userID, nil))
	writeJSON(w, map[string]bool{"success": true})
}

// UpdateCoinUnit changes the display label for a user's coins
// @Summary Update coin unit label
// @Tags family
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param userId path int true "User ID"
// @Param request body object{coinUnit=string} true "New label"
// @Success 200 {object} models.User
// @Router /user/{userId}/coin-unit [post]
func (s *FamilyService) UpdateCoinUnit(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userId")
	if !ok {
		return
	}

	var req struct {
		CoinUnit string `json:"coinUnit" validate:"required,max=20"`
	}
	if !decodeJSON(w, r, &req, s.validator) {
		return
	}

	var u models.User
	err := s.db.QueryRow(`
		UPDATE users SET coin_unit = $1 WHERE id = $2
		RETURNING id, username, role, parent_id, coin_balance, coin_unit, created_at`,
		req.CoinUnit, userID).
		Scan(&u.ID, &u.Username, &u.Role, &u.ParentID, &u.CoinBalance, &u.CoinUnit, &u.CreatedAt)
	if err == sql.ErrNoRows {
		SendLedgerError(w, ErrNotFound)
		return
	}
	if err != nil {
		log.Printf("[FAMILY] Coin unit update failed for user %d: %v", userID, err)
		SendLedgerError(w, err)
		return
	}
	writeJSON(w, &u)
}

// GenerateInviteQR mints a short-lived invite code for child registration
// @Summary Generate a family invite QR code
// @Description The code binds a registering child to this parent; valid for 24h
// @Tags family
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{inviteCode=string,qrImage=string}
// @Failure 503 {object} services.ErrorResponse
// @Router /family/invite-qr [get]
func (s *FamilyService) GenerateInviteQR(w http.ResponseWriter, r *http.Request) {
	parentID, ok := middleware.UserID(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}
	if s.redis == nil {
		SendErrorResponse(w, "Invites unavailable", http.StatusServiceUnavailable, nil)
		return
	}

	code := uuid.NewString()
	key := fmt.Sprintf("invite:%s", code)
	if err := s.redis.Set(r.Context(), key, parentID, inviteTTL).Err(); err != nil {
		log.Printf("[FAMILY] Failed to store invite for parent %d: %v", parentID, err)
		SendErrorResponse(w, "Failed to generate invite", http.StatusInternalServerError, nil)
		return
	}

	qr, err := qrcode.New(code, qrcode.Medium)
	if err != nil {
		SendErrorResponse(w, "Failed to generate invite", http.StatusInternalServerError, nil)
		return
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		SendErrorResponse(w, "Failed to generate invite", http.StatusInternalServerError, nil)
		return
	}

	writeJSON(w, map[string]string{
		"inviteCode": code,
		"qrImage":    base64.StdEncoding.EncodeToString(buf.Bytes()),
	})
}

// ResolveInvite exchanges an invite code for the issuing parent id. Used by
// registration; consumes the code on success.
func (s *FamilyService) ResolveInvite(r *http.Request, code string) (int, error) {
	if s.redis == nil {
		return 0, fmt.Errorf("invites unavailable")
	}
	key := fmt.Sprintf("invite:%s", code)
	parentID, err := s.redis.Get(r.Context(), key).Int()
	if err == redis.Nil {
		return 0, fmt.Errorf("invalid or expired invite code")
	}
	if err != nil {
		return 0, err
	}
	s.redis.Del(r.Context(), key)
	return parentID, nil
}
