package upstream

import (
	"context"
	"fmt"

	"markhub/internal/store"
)

// CredentialStore is the slice of the data store the resolver reads.
type CredentialStore interface {
	GetLinkedCredential(ctx context.Context, userID, provider string) (*store.LinkedCredential, error)
}

// Resolver turns an authenticated identity into a live upstream client, or
// reports that no usable credential is linked. It never mutates anything.
type Resolver struct {
	creds CredentialStore
}

func NewResolver(creds CredentialStore) *Resolver {
	return &Resolver{creds: creds}
}

// Resolve returns ErrNoCredential when the identity has no linked token of
// the expected provider, or when the token record is empty.
func (r *Resolver) Resolve(ctx context.Context, user store.User) (*Client, error) {
	cred, err := r.creds.GetLinkedCredential(ctx, user.ID, Provider)
	if err != nil {
		return nil, fmt.Errorf("resolve credential: %w", err)
	}
	if cred == nil || cred.Token == "" {
		return nil, ErrNoCredential
	}
	return NewClient(user.Username, cred.Token), nil
}
