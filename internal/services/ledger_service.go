package services

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/kidcoin/backend/internal/models"
)

// LedgerService owns every balance-mutating operation. Each one runs inside
// a single transaction that locks the owning users row (SELECT ... FOR
// UPDATE) before reading the balance, so two concurrent mutations against
// the same account serialize at the database instead of racing between the
// read and the write. The invariant preserved throughout:
//
//	coin_balance == sum(coins.amount) - sum(game_time_purchases.coins_spent)
//
// Purchases are a second ledger feeding the same balance; they never write a
// Coin row. Reconcile recomputes both sums for audit.
type LedgerService struct {
	db *sql.DB
}

func NewLedgerService(db *sql.DB) *LedgerService {
	return &LedgerService{db: db}
}

// Grant inserts a history entry and applies its amount to the balance,
// atomically. Positive amounts credit, negative amounts debit. A zero
// amount is rejected with ErrInvalidAmount.
func (s *LedgerService) Grant(userID int, amount models.Money, reason string) (*models.Coin, error) {
	if amount.IsZero() {
		return nil, ErrInvalidAmount
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	balance, err := s.lockBalance(tx, userID)
	if err != nil {
		return nil, err
	}

	coin := &models.Coin{UserID: userID, Amount: amount, Reason: reason}
	err = tx.QueryRow(`
		INSERT INTO coins (user_id, amount, reason, created_at)
		VALUES ($1, $2, $3, NOW())
		RETURNING id, created_at`,
		userID, amount, reason).Scan(&coin.ID, &coin.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert coin entry: %w", err)
	}

	if err := s.updateBalance(tx, userID, balance.Add(amount)); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return coin, nil
}

// EditTransaction rewrites a history entry's reason and amount. The balance
// moves by exactly newAmount - oldAmount so the sum invariant survives the
// edit regardless of any other entries.
func (s *LedgerService) EditTransaction(coinID int, newReason string, newAmount models.Money) (*models.Coin, error) {
	if newAmount.IsZero() {
		return nil, ErrInvalidAmount
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	coin, err := s.lockCoin(tx, coinID)
	if err != nil {
		return nil, err
	}

	balance, err := s.lockBalance(tx, coin.UserID)
	if err != nil {
		return nil, err
	}

	delta := newAmount.Sub(coin.Amount)
	if err := s.updateBalance(tx, coin.UserID, balance.Add(delta)); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(`UPDATE coins SET amount = $1, reason = $2 WHERE id = $3`,
		newAmount, newReason, coinID); err != nil {
		return nil, fmt.Errorf("failed to update coin entry: %w", err)
	}

	coin.Amount = newAmount
	coin.Reason = newReason

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return coin, nil
}

// DeleteTransaction removes a history entry and subtracts its amount from
// the balance. The deleted entry is returned so callers can notify the
// owning account.
func (s *LedgerService) DeleteTransaction(coinID int) (*models.Coin, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	coin, err := s.lockCoin(tx, coinID)
	if err != nil {
		return nil, err
	}

	balance, err := s.lockBalance(tx, coin.UserID)
	if err != nil {
		return nil, err
	}

	if err := s.updateBalance(tx, coin.UserID, balance.Sub(coin.Amount)); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(`DELETE FROM coins WHERE id = $1`, coinID); err != nil {
		return nil, fmt.Errorf("failed to delete coin entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return coin, nil
}

// PurchaseGameDays debits the balance at the fixed 1 day = 1 coin rate and
// records the purchase. When the balance is short it fails with
// InsufficientBalanceError and performs no writes.
func (s *LedgerService) PurchaseGameDays(userID, days int) (*models.GameTimePurchase, error) {
	if days <= 0 {
		return nil, ErrInvalidAmount
	}
	coinsRequired := models.MoneyFromInt(int64(days))

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	balance, err := s.lockBalance(tx, userID)
	if err != nil {
		return nil, err
	}

	if balance.LessThan(coinsRequired.Decimal) {
		return nil, &InsufficientBalanceError{Required: coinsRequired, Available: balance}
	}

	if err := s.updateBalance(tx, userID, balance.Sub(coinsRequired)); err != nil {
		return nil, err
	}

	purchase := &models.GameTimePurchase{ChildID: userID, Days: days, CoinsSpent: coinsRequired}
	err = tx.QueryRow(`
		INSERT INTO game_time_purchases (child_id, days, coins_spent, created_at)
		VALUES ($1, $2, $3, NOW())
		RETURNING id, created_at`,
		userID, days, coinsRequired).Scan(&purchase.ID, &purchase.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert purchase: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return purchase, nil
}

// Balance reads the denormalized balance. No lock; this is the fast path
// the denormalization exists for.
func (s *LedgerService) Balance(userID int) (models.Money, error) {
	var balance models.Money
	err := s.db.QueryRow(`SELECT coin_balance FROM users WHERE id = $1`, userID).Scan(&balance)
	if err == sql.ErrNoRows {
		return models.Money{}, ErrNotFound
	}
	if err != nil {
		return models.Money{}, err
	}
	return balance, nil
}

// History returns the account's coin entries, newest first.
func (s *LedgerService) History(userID int) ([]models.Coin, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, amount, reason, created_at
		FROM coins WHERE user_id = $1
		ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	coins := []models.Coin{}
	for rows.Next() {
		var c models.Coin
		if err := rows.Scan(&c.ID, &c.UserID, &c.Amount, &c.Reason, &c.CreatedAt); err != nil {
			return nil, err
		}
		coins = append(coins, c)
	}
	return coins, rows.Err()
}

// ParentCoinEntry is a history entry joined with the child's username, for
// the parent-side history view and export.
type ParentCoinEntry struct {
	ID        int          `json:"id"`
	Username  string       `json:"username"`
	UserID    int          `json:"userId"`
	Amount    models.Money `json:"amount"`
	Reason    string       `json:"reason"`
	CreatedAt time.Time    `json:"createdAt"`
}

// ParentHistory returns the coin entries of all the parent's children,
// newest first.
func (s *LedgerService) ParentHistory(parentID int) ([]ParentCoinEntry, error) {
	rows, err := s.db.Query(`
		SELECT c.id, u.username, c.user_id, c.amount, c.reason, c.created_at
		FROM coins c
		JOIN users u ON u.id = c.user_id
		WHERE u.parent_id = $1
		ORDER BY c.created_at DESC`, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []ParentCoinEntry{}
	for rows.Next() {
		var e ParentCoinEntry
		if err := rows.Scan(&e.ID, &e.Username, &e.UserID, &e.Amount, &e.Reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// PurchaseHistory returns the child's game-day purchases, newest first.
func (s *LedgerService) PurchaseHistory(userID int) ([]models.GameTimePurchase, error) {
	rows, err := s.db.Query(`
		SELECT id, child_id, days, coins_spent, created_at
		FROM game_time_purchases WHERE child_id = $1
		ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	purchases := []models.GameTimePurchase{}
	for rows.Next() {
		var p models.GameTimePurchase
		if err := rows.Scan(&p.ID, &p.ChildID, &p.Days, &p.CoinsSpent, &p.CreatedAt); err != nil {
			return nil, err
		}
		purchases = append(purchases, p)
	}
	return purchases, rows.Err()
}

// Reconciliation compares the stored balance with the recomputed one.
type Reconciliation struct {
	UserID          int          `json:"userId"`
	StoredBalance   models.Money `json:"storedBalance"`
	CoinSum         models.Money `json:"coinSum"`
	PurchaseSum     models.Money `json:"purchaseSum"`
	ComputedBalance models.Money `json:"computedBalance"`
	Consistent      bool         `json:"consistent"`
}

// Reconcile recomputes sum(coins) - sum(purchases) and checks it against the
// stored balance. Audit tooling only; the ledger never reads balances this
// way on the hot path.
func (s *LedgerService) Reconcile(userID int) (*Reconciliation, error) {
	stored, err := s.Balance(userID)
	if err != nil {
		return nil, err
	}

	var coinSum, purchaseSum models.Money
	err = s.db.QueryRow(`SELECT COALESCE(SUM(amount), 0) FROM coins WHERE user_id = $1`, userID).Scan(&coinSum)
	if err != nil {
		return nil, err
	}
	err = s.db.QueryRow(`SELECT COALESCE(SUM(coins_spent), 0) FROM game_time_purchases WHERE child_id = $1`, userID).Scan(&purchaseSum)
	if err != nil {
		return nil, err
	}

	computed := coinSum.Sub(purchaseSum)
	return &Reconciliation{
		UserID:          userID,
		StoredBalance:   stored,
		CoinSum:         coinSum,
		PurchaseSum:     purchaseSum,
		ComputedBalance: computed,
		Consistent:      stored.Equal(computed.Decimal),
	}, nil
}

// lockBalance reads the balance under a row lock so the read-modify-write
// serializes with concurrent mutations of the same account.
func (s *LedgerService) lockBalance(tx *sql.Tx, userID int) (models.Money, error) {
	var balance models.Money
	err := tx.QueryRow(`SELECT coin_balance FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&balance)
	if err == sql.ErrNoRows {
		return models.Money{}, ErrNotFound
	}
	if err != nil {
		return models.Money{}, fmt.Errorf("failed to lock balance for user %d: %w", userID, err)
	}
	return balance, nil
}

// lockCoin loads a history entry under a row lock.
func (s *LedgerService) lockCoin(tx *sql.Tx, coinID int) (*models.Coin, error) {
	var coin models.Coin
	err := tx.QueryRow(`
		SELECT id, user_id, amount, reason, created_at
		FROM coins WHERE id = $1 FOR UPDATE`, coinID).
		Scan(&coin.ID, &coin.UserID, &coin.Amount, &coin.Reason, &coin.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock coin %d: %w", coinID, err)
	}
	return &coin, nil
}

func (s *LedgerService) updateBalance(tx *sql.Tx, userID int, newBalance models.Money) error {
	result, err := tx.Exec(`UPDATE users SET coin_balance = $1 WHERE id = $2`, newBalance, userID)
	if err != nil {
		return fmt.Errorf("failed to update balance for user %d: %w", userID, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
