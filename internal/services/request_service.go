package services

import (
	"database/sql"
	"fmt"

	"github.com/kidcoin/backend/internal/models"
)

// RequestService manages the pending asks exchanged between children and
// parents: coin requests, game-time requests and account-deletion requests.
// The shared state machine is pending -> approved | rejected, terminal; a
// second transition attempt fails with ErrAlreadyProcessed. Approving a coin
// request is the one transition that also moves money, so it runs through
// the same locked-transaction shape the ledger uses.
type RequestService struct {
	db *sql.DB
}

func NewRequestService(db *sql.DB) *RequestService {
	return &RequestService{db: db}
}

// nullMoney mirrors sql.Null[models.Money] (Go 1.22+) so the package builds
// with the Go 1.21 toolchain.
type nullMoney struct {
	V     models.Money
	Valid bool
}

func (n *nullMoney) Scan(value any) error {
	if value == nil {
		n.V, n.Valid = models.Money{}, false
		return nil
	}
	n.Valid = true
	return n.V.Scan(value)
}

// CreateCoinRequest inserts a pending coin request. No balance effect until
// a parent approves it.
func (s *RequestService) CreateCoinRequest(childID, parentID int, amount models.Money, reason string) (*models.CoinRequest, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	req := &models.CoinRequest{
		ChildID:         childID,
		ParentID:        parentID,
		RequestedAmount: amount,
		Reason:          reason,
		Status:          models.StatusPending,
	}
	err := s.db.QueryRow(`
		INSERT INTO coin_requests (child_id, parent_id, requested_amount, reason, status, created_at)
		VALUES ($1, $2, $3, $4, 'pending', NOW())
		RETURNING id, created_at`,
		childID, parentID, amount, reason).Scan(&req.ID, &req.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create coin request: %w", err)
	}
	return req, nil
}

// CoinRequests lists a parent's pending coin requests, newest first.
func (s *RequestService) CoinRequests(parentID int) ([]models.CoinRequest, error) {
	rows, err := s.db.Query(`
		SELECT id, child_id, parent_id, requested_amount, approved_amount, reason, status, created_at
		FROM coin_requests WHERE parent_id = $1 AND status = 'pending'
		ORDER BY created_at DESC`, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCoinRequests(rows)
}

// ApproveCoinRequest flips a pending request to approved and grants the
// child approvedAmount in one transaction: the request row is locked and
// checked, the history entry inserted, the balance bumped. The approved
// amount may differ from the requested one; only positivity is enforced.
func (s *RequestService) ApproveCoinRequest(requestID int, approvedAmount models.Money) (*models.CoinRequest, error) {
	if !approvedAmount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	req, err := s.lockCoinRequest(tx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status.Terminal() {
		return nil, ErrAlreadyProcessed
	}

	if _, err := tx.Exec(`
		UPDATE coin_requests SET status = 'approved', approved_amount = $1 WHERE id = $2`,
		approvedAmount, requestID); err != nil {
		return nil, fmt.Errorf("failed to approve coin request: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT INTO coins (user_id, amount, reason, created_at)
		VALUES ($1, $2, $3, NOW())`,
		req.ChildID, approvedAmount, req.Reason); err != nil {
		return nil, fmt.Errorf("failed to insert coin entry: %w", err)
	}

	var balance models.Money
	err = tx.QueryRow(`SELECT coin_balance FROM users WHERE id = $1 FOR UPDATE`, req.ChildID).Scan(&balance)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock balance for user %d: %w", req.ChildID, err)
	}

	if _, err := tx.Exec(`UPDATE users SET coin_balance = $1 WHERE id = $2`,
		balance.Add(approvedAmount), req.ChildID); err != nil {
		return nil, fmt.Errorf("failed to update balance for user %d: %w", req.ChildID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	req.Status = models.StatusApproved
	req.ApprovedAmount = &approvedAmount
	return req, nil
}

// RejectCoinRequest flips a pending request to rejected. No balance effect.
func (s *RequestService) RejectCoinRequest(requestID int) (*models.CoinRequest, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	req, err := s.lockCoinRequest(tx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status.Terminal() {
		return nil, ErrAlreadyProcessed
	}

	if _, err := tx.Exec(`UPDATE coin_requests SET status = 'rejected' WHERE id = $1`, requestID); err != nil {
		return nil, fmt.Errorf("failed to reject coin request: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	req.Status = models.StatusRejected
	return req, nil
}

// CreateGameTimeRequest inserts a pending game-time request.
func (s *RequestService) CreateGameTimeRequest(childID, parentID, days int) (*models.GameTimeRequest, error) {
	if days <= 0 {
		return nil, ErrInvalidAmount
	}

	req := &models.GameTimeRequest{
		ChildID:  childID,
		ParentID: parentID,
		Days:     days,
		Status:   models.StatusPending,
	}
	err := s.db.QueryRow(`
		INSERT INTO game_time_requests (child_id, parent_id, days, status, created_at)
		VALUES ($1, $2, $3, 'pending', NOW())
		RETURNING id, created_at`,
		childID, parentID, days).Scan(&req.ID, &req.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create game time request: %w", err)
	}
	return req, nil
}

// GameTimeRequests lists a parent's pending game-time requests, newest first.
func (s *RequestService) GameTimeRequests(parentID int) ([]models.GameTimeRequest, error) {
	rows, err := s.db.Query(`
		SELECT id, child_id, parent_id, days, status, created_at
		FROM game_time_requests WHERE parent_id = $1 AND status = 'pending'
		ORDER BY created_at DESC`, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reqs := []models.GameTimeRequest{}
	for rows.Next() {
		var r models.GameTimeRequest
		if err := rows.Scan(&r.ID, &r.ChildID, &r.ParentID, &r.Days, &r.Status, &r.CreatedAt); err != nil {
			return nil, err
		}
		reqs = append(reqs, r)
	}
	return reqs, rows.Err()
}

// RespondGameTimeRequest resolves a pending game-time request. Approval does
// not grant days; the child purchases them separately through the ledger.
func (s *RequestService) RespondGameTimeRequest(requestID int, status models.RequestStatus) (*models.GameTimeRequest, error) {
	if !status.Terminal() {
		return nil, fmt.Errorf("invalid status %q: must be approved or rejected", status)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var req models.GameTimeRequest
	err = tx.QueryRow(`
		SELECT id, child_id, parent_id, days, status, created_at
		FROM game_time_requests WHERE id = $1 FOR UPDATE`, requestID).
		Scan(&req.ID, &req.ChildID, &req.ParentID, &req.Days, &req.Status, &req.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if req.Status.Terminal() {
		return nil, ErrAlreadyProcessed
	}

	if _, err := tx.Exec(`UPDATE game_time_requests SET status = $1 WHERE id = $2`, status, requestID); err != nil {
		return nil, fmt.Errorf("failed to update game time request: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	req.Status = status
	return &req, nil
}

// CreateDeleteRequest inserts a pending account-deletion request. The row's
// existence is the pending state.
func (s *RequestService) CreateDeleteRequest(childID, parentID int) (*models.DeleteRequest, error) {
	req := &models.DeleteRequest{ChildID: childID, ParentID: parentID}
	err := s.db.QueryRow(`
		INSERT INTO delete_requests (child_id, parent_id, created_at)
		VALUES ($1, $2, NOW())
		RETURNING id, created_at`,
		childID, parentID).Scan(&req.ID, &req.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create delete request: %w", err)
	}
	return req, nil
}

// DeleteRequests lists a parent's pending deletion requests.
func (s *RequestService) DeleteRequests(parentID int) ([]models.DeleteRequest, error) {
	rows, err := s.db.Query(`
		SELECT id, child_id, parent_id, created_at
		FROM delete_requests WHERE parent_id = $1
		ORDER BY created_at DESC`, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reqs := []models.DeleteRequest{}
	for rows.Next() {
		var r models.DeleteRequest
		if err := rows.Scan(&r.ID, &r.ChildID, &r.ParentID, &r.CreatedAt); err != nil {
			return nil, err
		}
		reqs = append(reqs, r)
	}
	return reqs, rows.Err()
}

// DeleteAccount irreversibly removes a user and everything referencing it:
// coin history, purchases, game-time requests (on either side), coin
// requests, delete requests, then the user row, all in one transaction.
func (s *RequestService) DeleteAccount(userID int) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	cascade := []string{
		`DELETE FROM coins WHERE user_id = $1`,
		`DELETE FROM game_time_purchases WHERE child_id = $1`,
		`DELETE FROM game_time_requests WHERE child_id = $1 OR parent_id = $1`,
		`DELETE FROM coin_requests WHERE child_id = $1 OR parent_id = $1`,
		`DELETE FROM delete_requests WHERE child_id = $1 OR parent_id = $1`,
	}
	for _, stmt := range cascade {
		if _, err := tx.Exec(stmt, userID); err != nil {
			return fmt.Errorf("failed to cascade delete for user %d: %w", userID, err)
		}
	}

	result, err := tx.Exec(`DELETE FROM users WHERE id = $1`, userID)
	if err != nil {
		return fmt.Errorf("failed to delete user %d: %w", userID, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return tx.Commit()
}

func (s *RequestService) lockCoinRequest(tx *sql.Tx, requestID int) (*models.CoinRequest, error) {
	var req models.CoinRequest
	var approved nullMoney
	err := tx.QueryRow(`
		SELECT id, child_id, parent_id, requested_amount, approved_amount, reason, status, created_at
		FROM coin_requests WHERE id = $1 FOR UPDATE`, requestID).
		Scan(&req.ID, &req.ChildID, &req.ParentID, &req.RequestedAmount, &approved,
			&req.Reason, &req.Status, &req.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock coin request %d: %w", requestID, err)
	}
	if approved.Valid {
		req.ApprovedAmount = &approved.V
	}
	return &req, nil
}

func scanCoinRequests(rows *sql.Rows) ([]models.CoinRequest, error) {
	reqs := []models.CoinRequest{}
	for rows.Next() {
		var r models.CoinRequest
		var approved nullMoney
		if err := rows.Scan(&r.ID, &r.ChildID, &r.ParentID, &r.RequestedAmount, &approved,
			&r.Reason, &r.Status, &r.CreatedAt); err != nil {
			return nil, err
		}
		if approved.Valid {
			r.ApprovedAmount = &approved.V
		}
		reqs = append(reqs, r)
	}
	return reqs, rows.Err()
}
