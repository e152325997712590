package services

import (
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/kidcoin/backend/internal/models"
	"github.com/stretchr/testify/assert"
)

func mustMoney(t *testing.T, s string) models.Money {
	t.Helper()
	m, err := models.NewMoney(s)
	assert.NoError(t, err)
	return m
}

func TestLedgerService_Grant(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db)

	t.Run("successful grant", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("SELECT coin_balance FROM users WHERE id = \\$1 FOR UPDATE").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"coin_balance"}).AddRow("25.00"))

		mock.ExpectQuery("INSERT INTO coins").
			WithArgs(1, "10.00", "chores").
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(7, time.Now()))

		mock.ExpectExec("UPDATE users SET coin_balance = \\$1 WHERE id = \\$2").
			WithArgs("35.00", 1).
			WillReturnResult(sqlmock.NewResult(0, 1))

		mock.ExpectCommit()

		coin, err := service.Grant(1, mustMoney(t, "10.00"), "chores")
		assert.NoError(t, err)
		assert.Equal(t, 7, coin.ID)
		assert.Equal(t, "10.00", coin.Amount.String())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("negative grant deducts", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("SELECT coin_balance FROM users WHERE id = \\$1 FOR UPDATE").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"coin_balance"}).AddRow("25.00"))

		mock.ExpectQuery("INSERT INTO coins").
			WithArgs(1, "-5.00", "broke a vase").
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(8, time.Now()))

		mock.ExpectExec("UPDATE users SET coin_balance = \\$1 WHERE id = \\$2").
			WithArgs("20.00", 1).
			WillReturnResult(sqlmock.NewResult(0, 1))

		mock.ExpectCommit()

		coin, err := service.Grant(1, mustMoney(t, "-5.00"), "broke a vase")
		assert.NoError(t, err)
		assert.Equal(t, "-5.00", coin.Amount.String())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("zero amount rejected", func(t *testing.T) {
		_, err := service.Grant(1, models.Money{}, "nothing")
		assert.ErrorIs(t, err, ErrInvalidAmount)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown user", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("SELECT coin_balance FROM users WHERE id = \\$1 FOR UPDATE").
			WithArgs(99).
			WillReturnRows(sqlmock.NewRows([]string{"coin_balance"}))

		mock.ExpectRollback()

		_, err := service.Grant(99, mustMoney(t, "10.00"), "chores")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLedgerService_EditTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db)

	t.Run("edit moves the balance by the delta", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("SELECT id, user_id, amount, reason, created_at FROM coins WHERE id = \\$1 FOR UPDATE").
			WithArgs(5).
			WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "amount", "reason", "created_at"}).
				AddRow(5, 1, "10.00", "chores", time.Now()))

		mock.ExpectQuery("SELECT coin_balance FROM users WHERE id = \\$1 FOR UPDATE").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"coin_balance"}).AddRow("25.00"))

		// 25 + (4 - 10) = 19
		mock.ExpectExec("UPDATE users SET coin_balance = \\$1 WHERE id = \\$2").
			WithArgs("19.00", 1).
			WillReturnResult(sqlmock.NewResult(0, 1))

		mock.ExpectExec("UPDATE coins SET amount = \\$1, reason = \\$2 WHERE id = \\$3").
			WithArgs("4.00", "half done", 5).
			WillReturnResult(sqlmock.NewResult(0, 1))

		mock.ExpectCommit()

		coin, err := service.EditTransaction(5, "half done", mustMoney(t, "4.00"))
		assert.NoError(t, err)
		assert.Equal(t, "4.00", coin.Amount.String())
		assert.Equal(t, "half done", coin.Reason)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing entry", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("SELECT id, user_id, amount, reason, created_at FROM coins WHERE id = \\$1 FOR UPDATE").
			WithArgs(42).
			WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "amount", "reason", "created_at"}))

		mock.ExpectRollback()

		_, err := service.EditTransaction(42, "gone", mustMoney(t, "1.00"))
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLedgerService_DeleteTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db)

	mock.ExpectBegin()

	mock.ExpectQuery("SELECT id, user_id, amount, reason, created_at FROM coins WHERE id = \\$1 FOR UPDATE").
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "amount", "reason", "created_at"}).
			AddRow(5, 1, "10.00", "chores", time.Now()))

	mock.ExpectQuery("SELECT coin_balance FROM users WHERE id = \\$1 FOR UPDATE").
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"coin_balance"}).AddRow("25.00"))

	mock.ExpectExec("UPDATE users SET coin_balance = \\$1 WHERE id = \\$2").
		WithArgs("15.00", 1).
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectExec("DELETE FROM coins WHERE id = \\$1").
		WithArgs(5).
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectCommit()

	coin, err := service.DeleteTransaction(5)
	assert.NoError(t, err)
	assert.Equal(t, 1, coin.UserID)
	assert.Equal(t, "10.00", coin.Amount.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerService_PurchaseGameDays(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db)

	t.Run("successful purchase", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("SELECT coin_balance FROM users WHERE id = \\$1 FOR UPDATE").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"coin_balance"}).AddRow("5.00"))

		mock.ExpectExec("UPDATE users SET coin_balance = \\$1 WHERE id = \\$2").
			WithArgs("2.00", 1).
			WillReturnResult(sqlmock.NewResult(0, 1))

		mock.ExpectQuery("INSERT INTO game_time_purchases").
			WithArgs(1, 3, "3.00").
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(11, time.Now()))

		mock.ExpectCommit()

		purchase, err := service.PurchaseGameDays(1, 3)
		assert.NoError(t, err)
		assert.Equal(t, 3, purchase.Days)
		assert.Equal(t, "3.00", purchase.CoinsSpent.String())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insufficient balance performs no writes", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("SELECT coin_balance FROM users WHERE id = \\$1 FOR UPDATE").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"coin_balance"}).AddRow("2.00"))

		mock.ExpectRollback()

		_, err := service.PurchaseGameDays(1, 3)
		var insufficient *InsufficientBalanceError
		assert.True(t, errors.As(err, &insufficient))
		assert.Equal(t, "insufficient balance: need 3.00, have 2.00", err.Error())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("non-positive days rejected", func(t *testing.T) {
		_, err := service.PurchaseGameDays(1, 0)
		assert.ErrorIs(t, err, ErrInvalidAmount)

		_, err = service.PurchaseGameDays(1, -2)
		assert.ErrorIs(t, err, ErrInvalidAmount)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

// Walks a balance through a grant, a purchase and a deduction, checking the
// running balance written at every step.
func TestLedgerService_ChainedOperations(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db)

	// Grant +10 on an empty balance.
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT coin_balance FROM users WHERE id = \\$1 FOR UPDATE").
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"coin_balance"}).AddRow("0.00"))
	mock.ExpectQuery("INSERT INTO coins").
		WithArgs(1, "10.00", "allowance").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(1, time.Now()))
	mock.ExpectExec("UPDATE users SET coin_balance = \\$1 WHERE id = \\$2").
		WithArgs("10.00", 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	// Purchase 3 days: 10 - 3 = 7.
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT coin_balance FROM users WHERE id = \\$1 FOR UPDATE").
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"coin_balance"}).AddRow("10.00"))
	mock.ExpectExec("UPDATE users SET coin_balance = \\$1 WHERE id = \\$2").
		WithArgs("7.00", 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO game_time_purchases").
		WithArgs(1, 3, "3.00").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(1, time.Now()))
	mock.ExpectCommit()

	// Deduct 2: 7 - 2 = 5.
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT coin_balance FROM users WHERE id = \\$1 FOR UPDATE").
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"coin_balance"}).AddRow("7.00"))
	mock.ExpectQuery("INSERT INTO coins").
		WithArgs(1, "-2.00", "penalty").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(2, time.Now()))
	mock.ExpectExec("UPDATE users SET coin_balance = \\$1 WHERE id = \\$2").
		WithArgs("5.00", 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	_, err = service.Grant(1, mustMoney(t, "10.00"), "allowance")
	assert.NoError(t, err)

	_, err = service.PurchaseGameDays(1, 3)
	assert.NoError(t, err)

	_, err = service.Grant(1, mustMoney(t, "-2.00"), "penalty")
	assert.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerService_Balance(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db)

	t.Run("existing user", func(t *testing.T) {
		mock.ExpectQuery("SELECT coin_balance FROM users WHERE id = \\$1").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"coin_balance"}).AddRow("12.50"))

		balance, err := service.Balance(1)
		assert.NoError(t, err)
		assert.Equal(t, "12.50", balance.String())
	})

	t.Run("unknown user", func(t *testing.T) {
		mock.ExpectQuery("SELECT coin_balance FROM users WHERE id = \\$1").
			WithArgs(99).
			WillReturnRows(sqlmock.NewRows([]string{"coin_balance"}))

		_, err := service.Balance(99)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestLedgerService_History(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db)

	newer := time.Now()
	older := newer.Add(-time.Hour)

	mock.ExpectQuery("SELECT id, user_id, amount, reason, created_at").
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "amount", "reason", "created_at"}).
			AddRow(2, 1, "-3.00", "game time", newer).
			AddRow(1, 1, "10.00", "chores", older))

	history, err := service.History(1)
	assert.NoError(t, err)
	assert.Len(t, history, 2)
	assert.Equal(t, "-3.00", history[0].Amount.String())
	assert.Equal(t, "10.00", history[1].Amount.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerService_Reconcile(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db)

	t.Run("consistent balance", func(t *testing.T) {
		mock.ExpectQuery("SELECT coin_balance FROM users WHERE id = \\$1").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"coin_balance"}).AddRow("9.00"))

		mock.ExpectQuery("SELECT COALESCE\\(SUM\\(amount\\), 0\\) FROM coins").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow("12.00"))

		mock.ExpectQuery("SELECT COALESCE\\(SUM\\(coins_spent\\), 0\\) FROM game_time_purchases").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow("3.00"))

		rec, err := service.Reconcile(1)
		assert.NoError(t, err)
		assert.True(t, rec.Consistent)
		assert.Equal(t, "9.00", rec.ComputedBalance.String())
	})

	t.Run("drifted balance", func(t *testing.T) {
		mock.ExpectQuery("SELECT coin_balance FROM users WHERE id = \\$1").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"coin_balance"}).AddRow("10.00"))

		mock.ExpectQuery("SELECT COALESCE\\(SUM\\(amount\\), 0\\) FROM coins").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow("12.00"))

		mock.ExpectQuery("SELECT COALESCE\\(SUM\\(coins_spent\\), 0\\) FROM game_time_purchases").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow("3.00"))

		rec, err := service.Reconcile(1)
		assert.NoError(t, err)
		assert.False(t, rec.Consistent)
		assert.Equal(t, "10.00", rec.StoredBalance.String())
		assert.Equal(t, "9.00", rec.ComputedBalance.String())
	})
}
