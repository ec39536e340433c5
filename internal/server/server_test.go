package server

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/onnwee/reddit-scraper-fleet/internal/db"
)

// offlineDriver fails every connection attempt. Queries through it return
// errors instead of panicking, which is what the background jobs should
// survive when the store goes away.
type offlineDriver struct{}

func (offlineDriver) Open(string) (driver.Conn, error) {
	return nil, errors.New("store offline")
}

func init() {
	sql.Register("offline", offlineDriver{})
}

func offlineQueries(t *testing.T) *db.Queries {
	t.Helper()
	conn, err := sql.Open("offline", "")
	if err != nil {
		t.Fatalf("open offline driver: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return db.New(conn)
}

func setCredentialKey(t *testing.T) {
	t.Helper()
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	t.Setenv("CREDENTIAL_KEY", base64.StdEncoding.EncodeToString(key))
}

func TestNewRequiresSealerKey(t *testing.T) {
	t.Setenv("CREDENTIAL_KEY", "")

	if _, err := New(offlineQueries(t), "127.0.0.1:0"); err == nil {
		t.Fatal("expected an error without CREDENTIAL_KEY")
	}
}

func TestNewAssemblesControlPlane(t *testing.T) {
	setCredentialKey(t)

	q := offlineQueries(t)
	srv, err := New(q, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if srv.Queries != q {
		t.Error("server should keep the store handle it was given")
	}
	if srv.Fleet == nil || srv.hub == nil || srv.scheduler == nil || srv.collector == nil {
		t.Error("background jobs not wired")
	}
	if srv.httpSrv == nil || srv.httpSrv.Addr != "127.0.0.1:0" {
		t.Errorf("http server misconfigured: %+v", srv.httpSrv)
	}
}

func TestStartDrainsOnCancel(t *testing.T) {
	setCredentialKey(t)

	srv, err := New(offlineQueries(t), "127.0.0.1:0")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	// Give the listener a moment to bind, then pull the plug.
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start returned %v after cancel", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not drain after cancel")
	}
}

func TestInitStoreRejectsBadConnString(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := InitStore(ctx, "not a connection string"); err == nil {
		t.Fatal("expected an error for a malformed connection string")
	}
}
