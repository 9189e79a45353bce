package vault

import (
	"context"
	"fmt"

	"github.com/hashicorp/vault/api"
)

type SecretManager struct {
	client *api.Client
	mount  string
}

// NewSecretManager returns a client for the KV v2 engine mounted at mount.
func NewSecretManager(address, token, mount string) (*SecretManager, error) {
	config := api.DefaultConfig()
	config.Address = address

	client, err := api.NewClient(config)
	if err != nil {
		return nil, err
	}

	client.SetToken(token)

	if mount == "" {
		mount = "secret"
	}
	return &SecretManager{client: client, mount: mount}, nil
}

// GetSecret reads one string field of a KV v2 secret.
func (sm *SecretManager) GetSecret(ctx context.Context, path, field string) (string, error) {
	secret, err := sm.client.KVv2(sm.mount).Get(ctx, path)
	if err != nil {
		return "", fmt.Errorf("vault: read %s: %w", path, err)
	}
	v, ok := secret.Data[field].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("vault: %s has no %q field", path, field)
	}
	return v, nil
}

func (sm *SecretManager) GetDatabaseURL(ctx context.Context, path string) (string, error) {
	return sm.GetSecret(ctx, path, "connection_string")
}
