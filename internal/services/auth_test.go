package services

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v8"
	"github.com/kidcoin/backend/internal/middleware"
	"github.com/kidcoin/backend/internal/models"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func setupAuthConfig() {
	viper.Set("argon2.salt_length", 16)
	viper.Set("argon2.time", 1)
	viper.Set("argon2.memory", 64*1024)
	viper.Set("argon2.threads", 4)
	viper.Set("argon2.key_length", 32)
	viper.Set("jwt.secret_key", "test-secret")
	viper.Set("jwt.expiry_hours", 24)
}

func newAuthService(db *sqlmockDB) *AuthService {
	requests := NewRequestService(db.db)
	family := NewFamilyService(db.db, nil, requests, &fakeNotifier{})
	return NewAuthService(db.db, nil, family)
}

// sqlmockDB pairs the handle with its expectations for test helpers.
type sqlmockDB struct {
	db   *sql.DB
	mock sqlmock.Sqlmock
}

func newSqlmock(t *testing.T) *sqlmockDB {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &sqlmockDB{db: db, mock: mock}
}

func TestAuthService_Register(t *testing.T) {
	setupAuthConfig()
	m := newSqlmock(t)
	service := newAuthService(m)

	t.Run("successful parent registration", func(t *testing.T) {
		m.mock.ExpectQuery("INSERT INTO users").
			WithArgs("dad", sqlmock.AnyArg(), "parent", nil, "coins").
			WillReturnRows(sqlmock.NewRows([]string{"id", "coin_balance", "created_at"}).
				AddRow(1, "0.00", time.Now()))

		body := []byte(`{"username": "dad", "password": "password123", "role": "parent"}`)
		w := httptest.NewRecorder()
		service.Register(w, httptest.NewRequest("POST", "/auth/register", bytes.NewBuffer(body)))

		assert.Equal(t, http.StatusCreated, w.Code)

		var resp AuthResponse
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp.Token)
		assert.Equal(t, "dad", resp.User.Username)
		assert.Equal(t, models.RoleParent, resp.User.Role)
		assert.NoError(t, m.mock.ExpectationsWereMet())
	})

	t.Run("child bound to a parent", func(t *testing.T) {
		m.mock.ExpectQuery("INSERT INTO users").
			WithArgs("mina", sqlmock.AnyArg(), "child", 1, "coins").
			WillReturnRows(sqlmock.NewRows([]string{"id", "coin_balance", "created_at"}).
				AddRow(2, "0.00", time.Now()))

		body := []byte(`{"username": "mina", "password": "password123", "role": "child", "parentId": 1}`)
		w := httptest.NewRecorder()
		service.Register(w, httptest.NewRequest("POST", "/auth/register", bytes.NewBuffer(body)))

		assert.Equal(t, http.StatusCreated, w.Code)

		var resp AuthResponse
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.NotNil(t, resp.User.ParentID)
		assert.Equal(t, 1, *resp.User.ParentID)
		assert.NoError(t, m.mock.ExpectationsWereMet())
	})

	t.Run("parent cannot reference a parent", func(t *testing.T) {
		body := []byte(`{"username": "dad", "password": "password123", "role": "parent", "parentId": 1}`)
		w := httptest.NewRecorder()
		service.Register(w, httptest.NewRequest("POST", "/auth/register", bytes.NewBuffer(body)))

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("duplicate username", func(t *testing.T) {
		m.mock.ExpectQuery("INSERT INTO users").
			WithArgs("dad", sqlmock.AnyArg(), "parent", nil, "coins").
			WillReturnError(assert.AnError)

		body := []byte(`{"username": "dad", "password": "password123", "role": "parent"}`)
		w := httptest.NewRecorder()
		service.Register(w, httptest.NewRequest("POST", "/auth/register", bytes.NewBuffer(body)))

		assert.Equal(t, http.StatusConflict, w.Code)
		assert.NoError(t, m.mock.ExpectationsWereMet())
	})

	t.Run("invalid role", func(t *testing.T) {
		body := []byte(`{"username": "dad", "password": "password123", "role": "admin"}`)
		w := httptest.NewRecorder()
		service.Register(w, httptest.NewRequest("POST", "/auth/register", bytes.NewBuffer(body)))

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestAuthService_Login(t *testing.T) {
	setupAuthConfig()
	m := newSqlmock(t)
	service := newAuthService(m)

	columns := []string{"id", "username", "password", "role", "parent_id", "coin_balance", "coin_unit", "created_at"}

	t.Run("successful login", func(t *testing.T) {
		hashed, err := hashPassword("password123")
		assert.NoError(t, err)

		m.mock.ExpectQuery("SELECT id, username, password, role, parent_id, coin_balance, coin_unit, created_at").
			WithArgs("mina").
			WillReturnRows(sqlmock.NewRows(columns).
				AddRow(2, "mina", hashed, "child", 1, "5.00", "coins", time.Now()))

		body := []byte(`{"username": "Mina", "password": "password123"}`)
		w := httptest.NewRecorder()
		service.Login(w, httptest.NewRequest("POST", "/auth/login", bytes.NewBuffer(body)))

		assert.Equal(t, http.StatusOK, w.Code)

		var resp AuthResponse
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp.Token)
		assert.Equal(t, "5.00", resp.User.CoinBalance.String())
		assert.NoError(t, m.mock.ExpectationsWereMet())
	})

	t.Run("wrong password", func(t *testing.T) {
		hashed, _ := hashPassword("password123")

		m.mock.ExpectQuery("SELECT id, username, password, role, parent_id, coin_balance, coin_unit, created_at").
			WithArgs("mina").
			WillReturnRows(sqlmock.NewRows(columns).
				AddRow(2, "mina", hashed, "child", 1, "5.00", "coins", time.Now()))

		body := []byte(`{"username": "mina", "password": "wrongpass"}`)
		w := httptest.NewRecorder()
		service.Login(w, httptest.NewRequest("POST", "/auth/login", bytes.NewBuffer(body)))

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("unknown user", func(t *testing.T) {
		m.mock.ExpectQuery("SELECT id, username, password, role, parent_id, coin_balance, coin_unit, created_at").
			WithArgs("ghost").
			WillReturnRows(sqlmock.NewRows(columns))

		body := []byte(`{"username": "ghost", "password": "password123"}`)
		w := httptest.NewRecorder()
		service.Login(w, httptest.NewRequest("POST", "/auth/login", bytes.NewBuffer(body)))

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestAuthService_Logout(t *testing.T) {
	setupAuthConfig()
	m := newSqlmock(t)

	redisClient, redisMock := redismock.NewClientMock()
	requests := NewRequestService(m.db)
	family := NewFamilyService(m.db, redisClient, requests, &fakeNotifier{})
	service := NewAuthService(m.db, redisClient, family)

	redisMock.ExpectSet("blacklist:some-token", "1", 24*time.Hour).SetVal("OK")

	r := httptest.NewRequest("POST", "/auth/logout", nil)
	r.Header.Set("Authorization", "Bearer some-token")
	w := httptest.NewRecorder()
	service.Logout(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NoError(t, redisMock.ExpectationsWereMet())
}

func TestPasswordHashing(t *testing.T) {
	setupAuthConfig()

	t.Run("roundtrip", func(t *testing.T) {
		hashed, err := hashPassword("password123")
		assert.NoError(t, err)
		assert.True(t, verifyPassword("password123", hashed))
		assert.False(t, verifyPassword("wrongpass", hashed))
	})

	t.Run("unique salts", func(t *testing.T) {
		a, _ := hashPassword("password123")
		b, _ := hashPassword("password123")
		assert.NotEqual(t, a, b)
	})

	t.Run("malformed stored hash", func(t *testing.T) {
		assert.False(t, verifyPassword("password123", "not-a-hash"))
	})
}

func TestJWTRoundtrip(t *testing.T) {
	setupAuthConfig()

	token, err := generateJWT(42)
	assert.NoError(t, err)

	userID, err := middleware.ValidateToken(token)
	assert.NoError(t, err)
	assert.Equal(t, 42, userID)

	_, err = middleware.ValidateToken("garbage")
	assert.Error(t, err)
}
