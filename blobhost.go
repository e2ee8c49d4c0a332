package dmengine

import (
	"context"

	"github.com/pinpox/dmengine/internal/blob"
)

// BlobHost is the consumed attachment-hosting capability from spec §6:
// upload ciphertext bytes, get back a URL (and its hash) to embed in an
// imeta tag.
type BlobHost interface {
	Upload(ctx context.Context, data []byte, mimeType string) (url string, sha256Hex string, err error)
}

// BlossomBlobHost is the default BlobHost, backed by the Blossom upload
// protocol the teacher's blossom.go implements.
type BlossomBlobHost struct {
	host   *blob.BlossomHost
	signer Signer
}

// NewBlossomBlobHost wires a BlossomHost against the engine's own Signer
// for the kind-24242 auth event — Signer's PublicKey/SignEvent methods
// already satisfy blob.AuthSigner, so no adapter type is needed.
func NewBlossomBlobHost(servers []string, signer Signer) *BlossomBlobHost {
	return &BlossomBlobHost{host: blob.NewBlossomHost(servers), signer: signer}
}

func (b *BlossomBlobHost) Upload(ctx context.Context, data []byte, mimeType string) (string, string, error) {
	result, err := b.host.Upload(ctx, b.signer, data, mimeType)
	if err != nil {
		return "", "", newErr(ErrPublishFailure, "blob_upload", err)
	}
	return result.URL, result.SHA256, nil
}
