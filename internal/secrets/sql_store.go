package secrets

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/arborhq/arbor/internal/db"
)

// SQLStore implements Store on the relational database, encrypting values
// with the master key before they hit disk.
type SQLStore struct {
	writer *sqlx.DB
	reader *sqlx.DB
	crypto *MasterKeyProvider
}

var _ Store = (*SQLStore)(nil)

// Provide creates the SQL-backed secret store and initializes its schema.
func Provide(pool *db.Pool, crypto *MasterKeyProvider) (*SQLStore, error) {
	store := &SQLStore{writer: pool.Writer(), reader: pool.Reader(), crypto: crypto}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("secrets schema init: %w", err)
	}
	return store, nil
}

func (s *SQLStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS secrets (
		key             TEXT PRIMARY KEY,
		encrypted_value BLOB NOT NULL,
		nonce           BLOB NOT NULL,
		created_at      TIMESTAMP NOT NULL,
		updated_at      TIMESTAMP NOT NULL
	);
	`
	_, err := s.writer.Exec(schema)
	return err
}

// Put stores or replaces the value for key.
func (s *SQLStore) Put(ctx context.Context, key, value string) error {
	ciphertext, nonce, err := Encrypt([]byte(value), s.crypto.Key())
	if err != nil {
		return fmt.Errorf("encrypt secret: %w", err)
	}

	now := time.Now().UTC()
	query := s.writer.Rebind(`
		INSERT INTO secrets (key, encrypted_value, nonce, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET
			encrypted_value = excluded.encrypted_value,
			nonce = excluded.nonce,
			updated_at = excluded.updated_at`)
	if _, err := s.writer.ExecContext(ctx, query, key, ciphertext, nonce, now, now); err != nil {
		return fmt.Errorf("store secret: %w", err)
	}
	return nil
}

// Get returns the decrypted value for key.
func (s *SQLStore) Get(ctx context.Context, key string) (string, error) {
	var ciphertext, nonce []byte
	query := s.reader.Rebind(`SELECT encrypted_value, nonce FROM secrets WHERE key = ?`)
	err := s.reader.QueryRowContext(ctx, query, key).Scan(&ciphertext, &nonce)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get secret: %w", err)
	}

	plaintext, err := Decrypt(ciphertext, nonce, s.crypto.Key())
	if err != nil {
		return "", fmt.Errorf("decrypt secret: %w", err)
	}
	return string(plaintext), nil
}

// Has reports whether a value exists for key.
func (s *SQLStore) Has(ctx context.Context, key string) (bool, error) {
	var n int
	query := s.reader.Rebind(`SELECT COUNT(1) FROM secrets WHERE key = ?`)
	if err := s.reader.GetContext(ctx, &n, query, key); err != nil {
		return false, fmt.Errorf("check secret: %w", err)
	}
	return n > 0, nil
}

// Delete removes the value for key.
func (s *SQLStore) Delete(ctx context.Context, key string) error {
	query := s.writer.Rebind(`DELETE FROM secrets WHERE key = ?`)
	result, err := s.writer.ExecContext(ctx, query, key)
	if err != nil {
		return fmt.Errorf("delete secret: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns all stored keys.
func (s *SQLStore) List(ctx context.Context) ([]string, error) {
	var keys []string
	if err := s.reader.SelectContext(ctx, &keys, `SELECT key FROM secrets ORDER BY key`); err != nil {
		return nil, fmt.Errorf("list secrets: %w", err)
	}
	return keys, nil
}
