package blob

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
)

// AuthSigner is the narrow signing capability a Blossom upload needs:
// just enough to produce a kind-24242 authorization event.
type AuthSigner interface {
	PublicKey(ctx context.Context) (string, error)
	SignEvent(ctx context.Context, evt *nostr.Event) error
}

// UploadResult describes a successfully hosted blob.
type UploadResult struct {
	URL      string
	SHA256   string
	Size     int64
	MimeType string
}

// BlossomHost uploads ciphertext to a set of Blossom servers and returns
// the first success, racing the rest concurrently. Grounded in the
// teacher's blossomUploadCmd, stripped of its bubbletea tea.Cmd wrapping
// and file-path handling since callers here already hold bytes.
type BlossomHost struct {
	Servers []string
	Client  *http.Client
}

func NewBlossomHost(servers []string) *BlossomHost {
	return &BlossomHost{
		Servers: servers,
		Client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Upload signs a kind-24242 auth event over data's hash and PUTs data to
// every configured server concurrently, returning the first server that
// accepts it.
func (h *BlossomHost) Upload(ctx context.Context, signer AuthSigner, data []byte, mimeType string) (UploadResult, error) {
	if len(h.Servers) == 0 {
		return UploadResult{}, fmt.Errorf("blossom: no upload servers configured")
	}

	hash := sha256.Sum256(data)
	hashHex := hex.EncodeToString(hash[:])

	authEvt, err := buildAuthEvent(ctx, signer, hashHex)
	if err != nil {
		return UploadResult{}, fmt.Errorf("blossom: sign auth event: %w", err)
	}
	evtJSON, err := json.Marshal(authEvt)
	if err != nil {
		return UploadResult{}, fmt.Errorf("blossom: marshal auth event: %w", err)
	}
	authHeader := "Nostr " + base64.StdEncoding.EncodeToString(evtJSON)

	type result struct {
		server string
		url    string
		err    error
	}

	results := make(chan result, len(h.Servers))
	var wg sync.WaitGroup
	for _, server := range h.Servers {
		wg.Add(1)
		go func(server string) {
			defer wg.Done()
			url, err := h.uploadOne(ctx, server, data, mimeType, authHeader, hashHex)
			results <- result{server: server, url: url, err: err}
		}(server)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	var firstURL string
	var errs []string
	for r := range results {
		if r.err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", r.server, r.err))
			continue
		}
		if firstURL == "" {
			firstURL = r.url
		}
	}
	if firstURL == "" {
		return UploadResult{}, fmt.Errorf("blossom: all servers failed: %s", strings.Join(errs, "; "))
	}

	return UploadResult{URL: firstURL, SHA256: hashHex, Size: int64(len(data)), MimeType: mimeType}, nil
}

func (h *BlossomHost) uploadOne(ctx context.Context, server string, data []byte, mimeType, authHeader, hashHex string) (string, error) {
	uploadURL := strings.TrimRight(server, "/") + "/upload"
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", authHeader)
	req.Header.Set("Content-Type", mimeType)

	resp, err := h.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	var respData struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(body, &respData); err != nil || respData.URL == "" {
		respData.URL = strings.TrimRight(server, "/") + "/" + hashHex
	}
	return respData.URL, nil
}

func buildAuthEvent(ctx context.Context, signer AuthSigner, hashHex string) (nostr.Event, error) {
	pubkey, err := signer.PublicKey(ctx)
	if err != nil {
		return nostr.Event{}, err
	}
	expiration := time.Now().Add(5 * time.Minute).Unix()
	evt := nostr.Event{
		PubKey:    pubkey,
		CreatedAt: nostr.Timestamp(time.Now().Unix()),
		Kind:      24242,
		Tags: nostr.Tags{
			{"t", "upload"},
			{"x", hashHex},
			{"expiration", fmt.Sprintf("%d", expiration)},
		},
	}
	if err := signer.SignEvent(ctx, &evt); err != nil {
		return evt, err
	}
	return evt, nil
}
