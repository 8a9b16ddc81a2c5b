package twitter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"discopilot/internal/media"
	"discopilot/internal/publisher"
)

func testConfig(base string) Config {
	return Config{
		APIKey: "k", APISecret: "s", AccessToken: "t", AccessSecret: "ts",
		APIBase: base, UploadBase: base,
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	err := Config{APIKey: "k"}.Validate()
	if err == nil || !strings.Contains(err.Error(), "access_secret, access_token, api_secret") {
		t.Fatalf("Validate = %v", err)
	}
	if _, err := New(Config{}); err == nil {
		t.Fatal("New without credentials should fail")
	}
}

func TestClientPostWithMedia(t *testing.T) {
	t.Parallel()

	var gotTweet tweetRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "OAuth ") {
			http.Error(w, "unsigned", http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/1.1/media/upload.json":
			f, hdr, err := r.FormFile("media")
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			b, _ := io.ReadAll(f)
			if hdr.Filename != "cat.png" || string(b) != "img" {
				http.Error(w, "bad upload", http.StatusBadRequest)
				return
			}
			_, _ = w.Write([]byte(`{"media_id":1,"media_id_string":"111"}`))
		case "/2/tweets":
			_ = json.NewDecoder(r.Body).Decode(&gotTweet)
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"data":{"id":"999","text":"hi"}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	c, err := New(testConfig(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	path := filepath.Join(t.TempDir(), "cat.png")
	if err := os.WriteFile(path, []byte("img"), 0o600); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	h, err := c.UploadMedia(ctx, &media.File{Path: path, Name: "cat.png", Kind: media.KindPhoto})
	if err != nil || h.ID != "111" {
		t.Fatalf("UploadMedia = %+v, %v", h, err)
	}

	ref, err := c.CreatePost(ctx, "hi", []publisher.MediaHandle{h})
	if err != nil {
		t.Fatalf("CreatePost: %v", err)
	}
	if ref.URL != "https://twitter.com/user/status/999" {
		t.Fatalf("ref = %+v", ref)
	}
	if gotTweet.Text != "hi" || gotTweet.Media == nil || len(gotTweet.Media.MediaIDs) != 1 || gotTweet.Media.MediaIDs[0] != "111" {
		t.Fatalf("tweet payload = %+v", gotTweet)
	}
}

func TestClientRateLimited(t *testing.T) {
	t.Parallel()

	reset := time.Now().Add(15 * time.Minute).Unix()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("x-rate-limit-reset", strconv.FormatInt(reset, 10))
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)

	c, _ := New(testConfig(srv.URL))
	_, err := c.CreatePost(context.Background(), "hi", nil)
	var rl *publisher.RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("err = %v, want RateLimitError", err)
	}
	if rl.RetryAfter < 14*time.Minute || rl.RetryAfter > 15*time.Minute {
		t.Fatalf("RetryAfter = %v", rl.RetryAfter)
	}
}

func TestClientAPIError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"title":"Forbidden","detail":"You are not permitted to perform this action."}`))
	}))
	t.Cleanup(srv.Close)

	c, _ := New(testConfig(srv.URL))
	_, err := c.CreatePost(context.Background(), "hi", nil)
	if err == nil || !strings.Contains(err.Error(), "403") || !strings.Contains(err.Error(), "not permitted") {
		t.Fatalf("err = %v", err)
	}
}

func TestClientRateLimitStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"resources":{"statuses":{"/statuses/show/:id":{"limit":900,"remaining":899,"reset":1},"/statuses/lookup":{"limit":900,"remaining":900,"reset":1}},
			"application":{"/application/rate_limit_status":{"limit":180,"remaining":179,"reset":1}}}}`))
	}))
	t.Cleanup(srv.Close)

	c, _ := New(testConfig(srv.URL))
	got, err := c.RateLimitStatus(context.Background())
	if err != nil {
		t.Fatalf("RateLimitStatus: %v", err)
	}
	want := "/application/rate_limit_status 179/180, /statuses/lookup 900/900, /statuses/show/:id 899/900"
	if got != want {
		t.Fatalf("RateLimitStatus = %q, want %q", got, want)
	}
}

func TestResetAfter(t *testing.T) {
	t.Parallel()

	now := time.Unix(1000, 0)
	if got := resetAfter("1060", now); got != time.Minute {
		t.Fatalf("resetAfter = %v", got)
	}
	for _, v := range []string{"", "junk", "900"} {
		if got := resetAfter(v, now); got != 0 {
			t.Fatalf("resetAfter(%q) = %v, want 0", v, got)
		}
	}
}
