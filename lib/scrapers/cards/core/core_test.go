package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestSite(t *testing.T, password string) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			fmt.Fprint(w, `<html><body><form method="post"><input name="username"><input name="password"></form></body></html>`)
			return
		}
		if r.FormValue("password") == password {
			http.SetCookie(w, &http.Cookie{Name: "session", Value: "ok"})
			fmt.Fprint(w, `<html><body><a href="/logout">Logout</a></body></html>`)
			return
		}
		fmt.Fprint(w, `<html><body>Invalid username or password</body></html>`)
	})
	mux.HandleFunc("/details/1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><title>Deck</title></head><body><div class="details">Correct: 2 of 9</div></body></html>`)
	})
	mux.HandleFunc("/details/denied", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><title>Error 403</title></head><body>Access denied</body></html>`)
	})
	mux.HandleFunc("/details/missing", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestLogin(t *testing.T) {
	server := newTestSite(t, "hunter2")

	ctx := context.Background()
	client, err := NewClient(ctx, ClientOptions{BaseUrl: server.URL})
	require.NoError(t, err)

	err = client.Login(ctx, "student@example.com", "hunter2")
	require.NoError(t, err)
	require.Less(t, client.SessionAge(), time.Minute)
}

func TestLoginBadCredentials(t *testing.T) {
	server := newTestSite(t, "hunter2")

	ctx := context.Background()
	client, err := NewClient(ctx, ClientOptions{BaseUrl: server.URL})
	require.NoError(t, err)

	err = client.Login(ctx, "student@example.com", "wrong")
	var credErr *CredentialError
	require.ErrorAs(t, err, &credErr)
}

func TestLoginUnreachable(t *testing.T) {
	server := newTestSite(t, "hunter2")
	server.Close()

	ctx := context.Background()
	client, err := NewClient(ctx, ClientOptions{BaseUrl: server.URL})
	require.NoError(t, err)

	err = client.Login(ctx, "student@example.com", "hunter2")
	var navErr *NavigationError
	require.ErrorAs(t, err, &navErr)
}

func TestValidateTarget(t *testing.T) {
	server := newTestSite(t, "hunter2")

	ctx := context.Background()
	client, err := NewClient(ctx, ClientOptions{BaseUrl: server.URL})
	require.NoError(t, err)

	for _, tt := range []struct {
		name   string
		target string
		ok     bool
	}{
		{"deck details", server.URL + "/details/1?bag_id=2", true},
		{"access denied", server.URL + "/details/denied", false},
		{"not found", server.URL + "/details/missing", false},
		{"wrong host", "https://elsewhere.example.com/details/1", false},
		{"bare landing page", server.URL + "/", false},
	} {
		t.Run(tt.name, func(t *testing.T) {
			err := client.ValidateTarget(ctx, tt.target)
			if tt.ok {
				require.NoError(t, err)
				return
			}
			var navErr *NavigationError
			require.ErrorAs(t, err, &navErr)
		})
	}
}

func TestWaitFor(t *testing.T) {
	var polls atomic.Int64
	err := WaitFor(context.Background(), time.Second, time.Millisecond*5, func(ctx context.Context) (bool, error) {
		return polls.Add(1) >= 4, nil
	})
	require.NoError(t, err)
	require.GreaterOrEqual(t, polls.Load(), int64(4))
}

func TestWaitForTimeout(t *testing.T) {
	err := WaitFor(context.Background(), time.Millisecond*30, time.Millisecond*5, func(ctx context.Context) (bool, error) {
		return false, nil
	})
	require.Error(t, err)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWaitForSlowPage(t *testing.T) {
	// Simulates a page whose content only appears after a delay.
	ready := time.Now().Add(time.Millisecond * 50)
	mux := http.NewServeMux()
	mux.HandleFunc("/card/1", func(w http.ResponseWriter, r *http.Request) {
		if time.Now().Before(ready) {
			fmt.Fprint(w, `<html><body></body></html>`)
			return
		}
		fmt.Fprint(w, `<html><body><h3>What is the diagnosis?</h3></body></html>`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	ctx := context.Background()
	client, err := NewClient(ctx, ClientOptions{BaseUrl: server.URL})
	require.NoError(t, err)

	err = WaitFor(ctx, time.Second, time.Millisecond*10, func(ctx context.Context) (bool, error) {
		res, err := client.Http.R().SetContext(ctx).Get("/card/1")
		if err != nil {
			return false, err
		}
		return len(res.Body()) > len("<html><body></body></html>"), nil
	})
	require.NoError(t, err)
}

func TestWaitForCondError(t *testing.T) {
	boom := errors.New("boom")
	err := WaitFor(context.Background(), time.Second, time.Millisecond, func(ctx context.Context) (bool, error) {
		return false, boom
	})
	require.ErrorIs(t, err, boom)
}
