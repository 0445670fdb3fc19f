package identity

import (
	"context"
	"errors"
)

// ErrRejected is returned when a token does not resolve to a display name
var ErrRejected = errors.New("identity rejected")

// Resolver turns the name a client claims on join-room, plus an optional
// token from the identity provider, into the display name the roster keys on.
type Resolver interface {
	Resolve(ctx context.Context, claimedName, token string) (string, error)
}

// NewResolver returns a StaticResolver when tokens are configured or required,
// and a TrustingResolver otherwise.
func NewResolver(tokens map[string]string, requireToken bool) Resolver {
	if len(tokens) == 0 && !requireToken {
		return TrustingResolver{}
	}
	return StaticResolver{Tokens: tokens, RequireToken: requireToken}
}

// TrustingResolver accepts the claimed name as is. The token is ignored.
type TrustingResolver struct{}

func (TrustingResolver) Resolve(_ context.Context, claimedName, _ string) (string, error) {
	return claimedName, nil
}

// StaticResolver maps known tokens to display names. Requests without a
// token fall back to the claimed name unless RequireToken is set.
type StaticResolver struct {
	Tokens       map[string]string
	RequireToken bool
}

func (s StaticResolver) Resolve(_ context.Context, claimedName, token string) (string, error) {
	if token == "" {
		if s.RequireToken {
			return "", ErrRejected
		}
		return claimedName, nil
	}

	name, ok := s.Tokens[token]
	if !ok {
		return "", ErrRejected
	}
	return name, nil
}
