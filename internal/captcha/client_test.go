// File: internal/captcha/client_test.go
package captcha

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dfalqueto/senafine/internal/config"
)

// setupClient rigs up a Client pointed at a mock service.
func setupClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := config.CaptchaConfig{
		Enabled:      true,
		APIKey:       "test-key",
		APIBase:      server.URL,
		PollInterval: 5 * time.Millisecond,
		Timeout:      500 * time.Millisecond,
	}
	client, err := NewClient(cfg, zap.NewNop())
	require.NoError(t, err)
	return client
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	_, err := NewClient(config.CaptchaConfig{APIBase: "https://2captcha.com"}, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key")
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	_, err := NewClient(config.CaptchaConfig{APIKey: "k"}, zap.NewNop())
	require.Error(t, err)
}

func TestSolveRecaptchaHappyPath(t *testing.T) {
	var polls atomic.Int64
	client := setupClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/in.php":
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "test-key", r.PostFormValue("key"))
			assert.Equal(t, "userrecaptcha", r.PostFormValue("method"))
			assert.Equal(t, "site-key-123", r.PostFormValue("googlekey"))
			assert.Equal(t, "https://sso.example/login", r.PostFormValue("pageurl"))
			assert.Equal(t, "1", r.PostFormValue("json"))
			fmt.Fprint(w, `{"status":1,"request":"task-42"}`)
		case "/res.php":
			assert.Equal(t, "task-42", r.URL.Query().Get("id"))
			assert.Equal(t, "get", r.URL.Query().Get("action"))
			if polls.Add(1) < 3 {
				fmt.Fprint(w, `{"status":0,"request":"CAPCHA_NOT_READY"}`)
				return
			}
			fmt.Fprint(w, `{"status":1,"request":"solved-token"}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})

	token, err := client.Solve(context.Background(), "recaptcha", "site-key-123", "https://sso.example/login")
	require.NoError(t, err)
	assert.Equal(t, "solved-token", token)
	assert.GreaterOrEqual(t, polls.Load(), int64(3), "must poll until the token is ready")
}

func TestSolveHcaptchaUsesSitekeyParam(t *testing.T) {
	client := setupClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/in.php" {
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "hcaptcha", r.PostFormValue("method"))
			assert.Equal(t, "hc-key", r.PostFormValue("sitekey"))
			assert.Empty(t, r.PostFormValue("googlekey"))
			fmt.Fprint(w, `{"status":1,"request":"task-7"}`)
			return
		}
		fmt.Fprint(w, `{"status":1,"request":"hc-token"}`)
	})

	token, err := client.Solve(context.Background(), "hcaptcha", "hc-key", "https://portal.example")
	require.NoError(t, err)
	assert.Equal(t, "hc-token", token)
}

func TestSolveRejectsUnknownFamily(t *testing.T) {
	var hits atomic.Int64
	client := setupClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	})

	_, err := client.Solve(context.Background(), "turnstile", "k", "https://x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported challenge family")
	assert.Zero(t, hits.Load(), "no request may be sent for an unknown family")
}

func TestSolveSubmissionRejectedIsPermanent(t *testing.T) {
	var submits atomic.Int64
	client := setupClient(t, func(w http.ResponseWriter, r *http.Request) {
		submits.Add(1)
		fmt.Fprint(w, `{"status":0,"request":"ERROR_WRONG_USER_KEY"}`)
	})

	_, err := client.Solve(context.Background(), "recaptcha", "k", "https://x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ERROR_WRONG_USER_KEY")
	assert.Equal(t, int64(1), submits.Load(), "protocol rejections must not be retried")
}

func TestSolveSubmissionRetriesServerErrors(t *testing.T) {
	var submits atomic.Int64
	client := setupClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/in.php" {
			if submits.Add(1) == 1 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			fmt.Fprint(w, `{"status":1,"request":"task-9"}`)
			return
		}
		fmt.Fprint(w, `{"status":1,"request":"tok"}`)
	})

	token, err := client.Solve(context.Background(), "recaptcha", "k", "https://x")
	require.NoError(t, err)
	assert.Equal(t, "tok", token)
	assert.Equal(t, int64(2), submits.Load())
}

func TestSolvePollErrorAborts(t *testing.T) {
	client := setupClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/in.php" {
			fmt.Fprint(w, `{"status":1,"request":"task-1"}`)
			return
		}
		fmt.Fprint(w, `{"status":0,"request":"ERROR_CAPTCHA_UNSOLVABLE"}`)
	})

	_, err := client.Solve(context.Background(), "recaptcha", "k", "https://x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ERROR_CAPTCHA_UNSOLVABLE")
}

func TestSolveTimesOutWhenNeverReady(t *testing.T) {
	client := setupClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/in.php" {
			fmt.Fprint(w, `{"status":1,"request":"task-1"}`)
			return
		}
		fmt.Fprint(w, `{"status":0,"request":"CAPCHA_NOT_READY"}`)
	})
	client.timeout = 30 * time.Millisecond

	_, err := client.Solve(context.Background(), "recaptcha", "k", "https://x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

func TestSolveHonorsContextCancellation(t *testing.T) {
	client := setupClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/in.php" {
			fmt.Fprint(w, `{"status":1,"request":"task-1"}`)
			return
		}
		fmt.Fprint(w, `{"status":0,"request":"CAPCHA_NOT_READY"}`)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
	defer cancel()

	_, err := client.Solve(ctx, "recaptcha", "k", "https://x")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
