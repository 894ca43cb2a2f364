package paramstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// tokenPayload is the JSON shape stored in SSM for API tokens.
type tokenPayload struct {
	Token string `json:"token"`
}

// SecretResolver fetches a token parameter once and reuses it for the
// lifetime of the process. A failed fetch is not cached.
type SecretResolver struct {
	getter Getter
	name   string

	mu       sync.Mutex
	resolved bool
	token    string
}

func NewSecretResolver(getter Getter, name string) (*SecretResolver, error) {
	if getter == nil {
		return nil, errors.New("paramstore: getter must not be nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("paramstore: token parameter name is empty")
	}
	return &SecretResolver{getter: getter, name: name}, nil
}

// Resolve returns the token. The parameter value may be a JSON object
// {"token": "..."} or the bare token.
func (r *SecretResolver) Resolve(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.resolved {
		return r.token, nil
	}

	raw, err := r.getter.GetParameter(ctx, r.name)
	if err != nil {
		return "", fmt.Errorf("paramstore: fetch token: %w", err)
	}
	token, err := parseToken(raw)
	if err != nil {
		return "", err
	}
	r.token = token
	r.resolved = true
	return token, nil
}

func parseToken(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "{") {
		var tp tokenPayload
		if err := json.Unmarshal([]byte(raw), &tp); err != nil {
			return "", fmt.Errorf("paramstore: unmarshal token value as JSON: %w", err)
		}
		raw = strings.TrimSpace(tp.Token)
	}
	if raw == "" {
		return "", errors.New("paramstore: API token is empty")
	}
	return raw, nil
}
