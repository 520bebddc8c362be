package upload

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dayline-app/dayline-api/pkg/storage"
)

// S3Issuer mints presigned object-store URLs for the transfer pipeline.
type S3Issuer struct {
	presigner *storage.S3Presigner
}

// NewS3Issuer wraps an S3 presign client as a credential issuer.
func NewS3Issuer(presigner *storage.S3Presigner) *S3Issuer {
	return &S3Issuer{presigner: presigner}
}

// Issue derives a fresh storage key and presigns write and read handles for it.
func (i *S3Issuer) Issue(ctx context.Context, req CredentialRequest) (*Credential, error) {
	key := storage.ObjectKey(req.Filename)
	writeURL, err := i.presigner.PresignPut(ctx, key, req.ContentType)
	if err != nil {
		return nil, err
	}
	readURL, err := i.presigner.PresignGet(ctx, key)
	if err != nil {
		return nil, err
	}
	return &Credential{WriteURL: writeURL, ReadURL: readURL, StorageKey: key}, nil
}

// ResignRead mints a new read URL for an existing object.
func (i *S3Issuer) ResignRead(ctx context.Context, storageKey string) (string, time.Duration, error) {
	url, err := i.presigner.PresignGet(ctx, storageKey)
	if err != nil {
		return "", 0, err
	}
	return url, i.presigner.TTL(), nil
}

// LocalIssuer mints signed tokens for the dev-mode blob routes served by this
// process. Tokens carry an operation prefix so a read token can never be used
// to write.
type LocalIssuer struct {
	signer  *storage.SignedURLSigner
	baseURL string
}

// NewLocalIssuer wraps the HMAC signer as a credential issuer. baseURL is the
// externally reachable root of this API, without a trailing slash.
func NewLocalIssuer(signer *storage.SignedURLSigner, baseURL string) *LocalIssuer {
	return &LocalIssuer{signer: signer, baseURL: strings.TrimRight(baseURL, "/")}
}

// Issue derives a fresh storage key and signs write and read tokens for it.
func (i *LocalIssuer) Issue(_ context.Context, req CredentialRequest) (*Credential, error) {
	key := storage.ObjectKey(req.Filename)
	writeToken, _, err := i.signer.Generate("put:"+req.OwnerID, key)
	if err != nil {
		return nil, err
	}
	readToken, _, err := i.signer.Generate("get:"+req.OwnerID, key)
	if err != nil {
		return nil, err
	}
	return &Credential{
		WriteURL:   i.blobURL(key, writeToken),
		ReadURL:    i.blobURL(key, readToken),
		StorageKey: key,
	}, nil
}

// ResignRead mints a fresh read token for an existing object.
func (i *LocalIssuer) ResignRead(_ context.Context, storageKey string) (string, time.Duration, error) {
	token, expiresAt, err := i.signer.Generate("get:resign", storageKey)
	if err != nil {
		return "", 0, err
	}
	return i.blobURL(storageKey, token), time.Until(expiresAt), nil
}

func (i *LocalIssuer) blobURL(key, token string) string {
	return fmt.Sprintf("%s/api/v1/blobs/%s?token=%s", i.baseURL, key, token)
}
