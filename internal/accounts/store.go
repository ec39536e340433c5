package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/onnwee/reddit-scraper-fleet/internal/db"
	"github.com/onnwee/reddit-scraper-fleet/internal/scraper"
	"github.com/onnwee/reddit-scraper-fleet/internal/secrets"
)

// ErrNotFound is returned when no account exists under the requested name.
var ErrNotFound = errors.New("account not found")

// Store persists named Reddit credential sets so an operator can reuse one
// OAuth app across scrapers without retyping secrets. Secret columns are
// sealed before they touch the database; plaintext only leaves this package
// through Resolve.
type Store struct {
	q      *db.Queries
	sealer secrets.Sealer
}

func New(q *db.Queries, sealer secrets.Sealer) *Store {
	return &Store{q: q, sealer: sealer}
}

const accountColumns = `account_name, client_id, client_secret, password, username, user_agent, created_at, last_updated`

func scanAccount(row interface{ Scan(...interface{}) error }) (db.Account, error) {
	var a db.Account
	err := row.Scan(&a.AccountName, &a.ClientID, &a.ClientSecret, &a.Password,
		&a.Username, &a.UserAgent, &a.CreatedAt, &a.LastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return a, ErrNotFound
	}
	return a, err
}

// Save seals and upserts one credential set under a name.
func (s *Store) Save(ctx context.Context, name string, c scraper.Credentials) (db.Account, error) {
	if name == "" {
		return db.Account{}, fmt.Errorf("account name is required")
	}
	if err := c.Validate(); err != nil {
		return db.Account{}, err
	}
	clientID, err := secrets.SealString(s.sealer, c.ClientID)
	if err != nil {
		return db.Account{}, fmt.Errorf("seal client_id: %w", err)
	}
	clientSecret, err := secrets.SealString(s.sealer, c.ClientSecret)
	if err != nil {
		return db.Account{}, fmt.Errorf("seal client_secret: %w", err)
	}
	password, err := secrets.SealString(s.sealer, c.Password)
	if err != nil {
		return db.Account{}, fmt.Errorf("seal password: %w", err)
	}

	const stmt = `
		INSERT INTO accounts (account_name, client_id, client_secret, password, username, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (account_name) DO UPDATE SET
			client_id = EXCLUDED.client_id,
			client_secret = EXCLUDED.client_secret,
			password = EXCLUDED.password,
			username = EXCLUDED.username,
			user_agent = EXCLUDED.user_agent,
			last_updated = now()
		RETURNING ` + accountColumns
	row := s.q.DB().QueryRowContext(ctx, stmt, name, clientID, clientSecret, password, c.Username, c.UserAgent)
	return scanAccount(row)
}

// Get returns one stored row, secret columns still sealed.
func (s *Store) Get(ctx context.Context, name string) (db.Account, error) {
	row := s.q.DB().QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE account_name = $1`, name)
	return scanAccount(row)
}

// List returns every account, secret columns still sealed, newest first.
func (s *Store) List(ctx context.Context) ([]db.Account, error) {
	rows, err := s.q.DB().QueryContext(ctx,
		`SELECT `+accountColumns+` FROM accounts ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []db.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Delete removes one account. Scrapers hold their own sealed copy of the
// credentials, so deleting an account never breaks a running worker.
func (s *Store) Delete(ctx context.Context, name string) error {
	res, err := s.q.DB().ExecContext(ctx, `DELETE FROM accounts WHERE account_name = $1`, name)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Resolve unseals a stored account into worker credentials.
func (s *Store) Resolve(ctx context.Context, name string) (scraper.Credentials, error) {
	a, err := s.Get(ctx, name)
	if err != nil {
		return scraper.Credentials{}, err
	}
	clientID, err := secrets.OpenString(s.sealer, a.ClientID)
	if err != nil {
		return scraper.Credentials{}, fmt.Errorf("open client_id for %s: %w", name, err)
	}
	clientSecret, err := secrets.OpenString(s.sealer, a.ClientSecret)
	if err != nil {
		return scraper.Credentials{}, fmt.Errorf("open client_secret for %s: %w", name, err)
	}
	password, err := secrets.OpenString(s.sealer, a.Password)
	if err != nil {
		return scraper.Credentials{}, fmt.Errorf("open password for %s: %w", name, err)
	}
	return scraper.Credentials{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Username:     a.Username,
		Password:     password,
		UserAgent:    a.UserAgent,
	}, nil
}
