package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/onnwee/reddit-scraper-fleet/internal/accounts"
	"github.com/onnwee/reddit-scraper-fleet/internal/apierr"
	"github.com/onnwee/reddit-scraper-fleet/internal/db"
	"github.com/onnwee/reddit-scraper-fleet/internal/middleware"
	"github.com/onnwee/reddit-scraper-fleet/internal/scraper"
	"github.com/onnwee/reddit-scraper-fleet/internal/secrets"
)

// AccountStore is the persistence surface the account endpoints use.
// *accounts.Store satisfies it; tests substitute fakes.
type AccountStore interface {
	Save(ctx context.Context, name string, c scraper.Credentials) (db.Account, error)
	Get(ctx context.Context, name string) (db.Account, error)
	List(ctx context.Context) ([]db.Account, error)
	Delete(ctx context.Context, name string) error
	Resolve(ctx context.Context, name string) (scraper.Credentials, error)
}

// AccountView is the API shape of a stored credential set. Secrets never
// appear in full: client_id is masked and the rest collapse to a flag.
type AccountView struct {
	AccountName    string    `json:"account_name"`
	Username       string    `json:"username"`
	UserAgent      string    `json:"user_agent"`
	ClientIDMasked string    `json:"client_id_masked,omitempty"`
	CredentialsSet bool      `json:"credentials_set"`
	CreatedAt      time.Time `json:"created_at"`
	LastUpdated    time.Time `json:"last_updated"`
}

func accountView(a db.Account, clientIDMasked string) AccountView {
	return AccountView{
		AccountName:    a.AccountName,
		Username:       a.Username,
		UserAgent:      a.UserAgent,
		ClientIDMasked: clientIDMasked,
		CredentialsSet: len(a.ClientID) > 0 && len(a.ClientSecret) > 0,
		CreatedAt:      a.CreatedAt,
		LastUpdated:    a.LastUpdated,
	}
}

// ListAccounts returns every saved account without opening any seals.
func ListAccounts(store AccountStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recs, err := store.List(r.Context())
		if err != nil {
			apierr.WriteErrorWithContext(w, r, apierr.SystemDatabase(err.Error()))
			return
		}
		views := make([]AccountView, 0, len(recs))
		for _, a := range recs {
			views = append(views, accountView(a, ""))
		}
		writeJSON(w, http.StatusOK, map[string]any{"accounts": views, "count": len(views)})
	}
}

type saveAccountRequest struct {
	AccountName  string `json:"account_name"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	Username     string `json:"username"`
	Password     string `json:"password"`
	UserAgent    string `json:"user_agent"`
}

// SaveAccount creates or replaces a named credential set and echoes it
// back masked.
func SaveAccount(store AccountStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req saveAccountRequest
		if apiErr := middleware.DecodeJSON(r, &req); apiErr != nil {
			apierr.WriteErrorWithContext(w, r, apiErr)
			return
		}
		if req.AccountName == "" {
			apierr.WriteErrorWithContext(w, r, apierr.ValidationMissingField("account_name"))
			return
		}
		creds := scraper.Credentials{
			ClientID:     req.ClientID,
			ClientSecret: req.ClientSecret,
			Username:     req.Username,
			Password:     req.Password,
			UserAgent:    req.UserAgent,
		}
		if err := creds.Validate(); err != nil {
			apierr.WriteErrorWithContext(w, r, apierr.ValidationInvalidValue("credentials", err.Error()))
			return
		}

		rec, err := store.Save(r.Context(), req.AccountName, creds)
		if err != nil {
			apierr.WriteErrorWithContext(w, r, apierr.AccountSealFailed(err.Error()))
			return
		}
		writeJSON(w, http.StatusCreated, accountView(rec, secrets.Mask(req.ClientID)))
	}
}

// GetAccount returns one account with its client_id opened and masked so
// an operator can tell OAuth apps apart.
func GetAccount(store AccountStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["name"]
		rec, err := store.Get(r.Context(), name)
		if err != nil {
			if errors.Is(err, accounts.ErrNotFound) {
				apierr.WriteErrorWithContext(w, r, apierr.AccountNotFound(name))
				return
			}
			apierr.WriteErrorWithContext(w, r, apierr.SystemDatabase(err.Error()))
			return
		}

		masked := ""
		if creds, err := store.Resolve(r.Context(), name); err == nil {
			masked = secrets.Mask(creds.ClientID)
		}
		writeJSON(w, http.StatusOK, accountView(rec, masked))
	}
}

// DeleteAccount removes a saved account. Scrapers keep their own sealed
// copy, so running workers are unaffected.
func DeleteAccount(store AccountStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["name"]
		if err := store.Delete(r.Context(), name); err != nil {
			if errors.Is(err, accounts.ErrNotFound) {
				apierr.WriteErrorWithContext(w, r, apierr.AccountNotFound(name))
				return
			}
			apierr.WriteErrorWithContext(w, r, apierr.SystemDatabase(err.Error()))
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"account_name": name, "status": "deleted"})
	}
}
