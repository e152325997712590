package database

import (
	"database/sql"
	"fmt"
	"log"
)

// Schema statements are idempotent so Migrate can run on every boot. All
// money columns are numeric(10,2); timestamps are assigned by the database
// at insert. The role CHECK pins the parent/child shape: only a child may
// carry a parent reference, and never more than one.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id SERIAL PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		password TEXT NOT NULL,
		role TEXT NOT NULL CHECK (role IN ('parent', 'child')),
		parent_id INTEGER REFERENCES users(id) ON DELETE SET NULL,
		coin_balance NUMERIC(10,2) NOT NULL DEFAULT 0,
		coin_unit TEXT NOT NULL DEFAULT 'coins',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CHECK (role = 'child' OR parent_id IS NULL)
	)`,
	`CREATE TABLE IF NOT EXISTS coins (
		id SERIAL PRIMARY KEY,
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		amount NUMERIC(10,2) NOT NULL,
		reason TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS coin_requests (
		id SERIAL PRIMARY KEY,
		child_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		parent_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		requested_amount NUMERIC(10,2) NOT NULL,
		approved_amount NUMERIC(10,2),
		reason TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'approved', 'rejected')),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS game_time_requests (
		id SERIAL PRIMARY KEY,
		child_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		parent_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		days INTEGER NOT NULL CHECK (days > 0),
		status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'approved', 'rejected')),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS game_time_purchases (
		id SERIAL PRIMARY KEY,
		child_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		days INTEGER NOT NULL CHECK (days > 0),
		coins_spent NUMERIC(10,2) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS delete_requests (
		id SERIAL PRIMARY KEY,
		child_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		parent_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_coins_user_id ON coins(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_coin_requests_parent_id ON coin_requests(parent_id)`,
	`CREATE INDEX IF NOT EXISTS idx_game_time_requests_parent_id ON game_time_requests(parent_id)`,
	`CREATE INDEX IF NOT EXISTS idx_game_time_purchases_child_id ON game_time_purchases(child_id)`,
}

// Migrate applies the schema. Safe to call on every startup.
func Migrate(db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("schema migration failed: %w", err)
		}
	}
	log.Println("Database schema up to date")
	return nil
}
