package blob

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nbd-wtf/go-nostr"
)

type testAuthSigner struct {
	privkey, pubkey string
}

func newTestAuthSigner() *testAuthSigner {
	sk := nostr.GeneratePrivateKey()
	pk, _ := nostr.GetPublicKey(sk)
	return &testAuthSigner{privkey: sk, pubkey: pk}
}

func (s *testAuthSigner) PublicKey(ctx context.Context) (string, error) { return s.pubkey, nil }
func (s *testAuthSigner) SignEvent(ctx context.Context, evt *nostr.Event) error {
	return evt.Sign(s.privkey)
}

func TestBlossomHostUploadSendsValidAuthHeader(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"url": "https://cdn.example/abc"})
	}))
	defer srv.Close()

	signer := newTestAuthSigner()
	host := NewBlossomHost([]string{srv.URL})

	result, err := host.Upload(context.Background(), signer, []byte("ciphertext-bytes"), "application/octet-stream")
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if result.URL != "https://cdn.example/abc" {
		t.Errorf("URL = %q, want server-provided URL", result.URL)
	}
	if result.Size != int64(len("ciphertext-bytes")) {
		t.Errorf("Size = %d, want %d", result.Size, len("ciphertext-bytes"))
	}

	if gotAuth == "" || gotAuth[:6] != "Nostr " {
		t.Fatalf("missing or malformed Authorization header: %q", gotAuth)
	}
	raw, err := base64.StdEncoding.DecodeString(gotAuth[6:])
	if err != nil {
		t.Fatalf("decode auth header: %v", err)
	}
	var evt nostr.Event
	if err := json.Unmarshal(raw, &evt); err != nil {
		t.Fatalf("unmarshal auth event: %v", err)
	}
	if evt.Kind != 24242 {
		t.Errorf("auth event Kind = %d, want 24242", evt.Kind)
	}
	ok, err := evt.CheckSignature()
	if err != nil || !ok {
		t.Errorf("auth event signature invalid: ok=%v err=%v", ok, err)
	}
}

func TestBlossomHostUploadFallsBackToSecondServer(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"url": "https://good.example/x"})
	}))
	defer good.Close()

	host := NewBlossomHost([]string{bad.URL, good.URL})
	result, err := host.Upload(context.Background(), newTestAuthSigner(), []byte("data"), "text/plain")
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if result.URL != "https://good.example/x" {
		t.Errorf("URL = %q, want the surviving server's URL", result.URL)
	}
}

func TestBlossomHostUploadFailsWhenAllServersFail(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()

	host := NewBlossomHost([]string{bad.URL})
	_, err := host.Upload(context.Background(), newTestAuthSigner(), []byte("data"), "text/plain")
	if err == nil {
		t.Fatal("expected error when every server fails")
	}
}
