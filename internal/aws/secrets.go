package aws

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// Secrets resolves Secrets Manager string secrets and caches them for the
// lifetime of the process.
type Secrets struct {
	client SecretsManagerAPI
	cache  map[string]string
	mu     sync.RWMutex
}

// NewSecrets returns a Secrets reader backed by client.
func NewSecrets(client SecretsManagerAPI) *Secrets {
	return &Secrets{
		client: client,
		cache:  make(map[string]string),
	}
}

// GetSecret returns the string value of the secret with the given id.
func (s *Secrets) GetSecret(ctx context.Context, id string) (string, error) {
	s.mu.RLock()
	if v, ok := s.cache[id]; ok {
		s.mu.RUnlock()
		return v, nil
	}
	s.mu.RUnlock()

	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: &id})
	if err != nil {
		return "", fmt.Errorf("get secret %s: %w", id, err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("secret %s has no string value", id)
	}

	s.mu.Lock()
	s.cache[id] = *out.SecretString
	s.mu.Unlock()

	return *out.SecretString, nil
}
