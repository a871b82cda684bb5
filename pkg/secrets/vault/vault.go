// Package vault provides a secret backend over HashiCorp Vault.
//
// To allow accessing different values under a secret path, the path uses
// a non-standard convention to encode which field of the credential is
// desired, mimicking the Vault CLI "-field" option:
//
//	secret/data/example/demo?field=password
//
// For KVv1 engines the "/data/" element is dropped, as it is only
// required for KVv2.
package vault

import (
	"context"
	"net/url"
	"strings"

	vaultapi "github.com/hashicorp/vault/api"

	"github.com/hashicorp-forge/grove/pkg/errors"
	"github.com/hashicorp-forge/grove/pkg/secrets"
	"github.com/hashicorp-forge/grove/pkg/settings"
)

// Name is the handler name this backend registers under.
const Name = "hashicorp_vault"

func init() {
	secrets.Register(Name, func() (secrets.Secret, error) {
		config := vaultapi.DefaultConfig()
		if addr := settings.Backend("secret", Name, "addr"); addr != "" {
			config.Address = addr
		}

		client, err := vaultapi.NewClient(config)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeBackend, "unable to construct Vault client")
		}
		if token := settings.Backend("secret", Name, "token"); token != "" {
			client.SetToken(token)
		}
		return New(client), nil
	})
}

// Backend reads secrets from Vault.
type Backend struct {
	client *vaultapi.Client
}

// New constructs a Vault secret backend over the given client.
func New(client *vaultapi.Client) *Backend {
	return &Backend{client: client}
}

// Fetch reads the secret at the given path, extracting the field named by
// the path's "field" query parameter.
func (b *Backend) Fetch(ctx context.Context, path string) (string, error) {
	field, location, err := splitFieldAndPath(path)
	if err != nil {
		return "", err
	}

	secret, err := b.client.Logical().ReadWithContext(ctx, location)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeSecret, "unable to read secret from Vault")
	}
	if secret == nil {
		return "", errors.Newf(errors.ErrorTypeNotFound, "no secret found at Vault path %q", location)
	}

	// KVv2 nests the credential under a "data" element.
	data := secret.Data
	if nested, ok := data["data"].(map[string]interface{}); ok {
		data = nested
	}

	value, ok := data[field].(string)
	if !ok {
		return "", errors.Newf(errors.ErrorTypeNotFound, "field %q not present in Vault secret at %q", field, location)
	}
	return value, nil
}

// splitFieldAndPath extracts the required "field" parameter from a secret
// path, returning the field and a Vault API compatible path.
func splitFieldAndPath(path string) (string, string, error) {
	parsed, err := url.Parse(path)
	if err != nil {
		return "", "", errors.Wrap(err, errors.ErrorTypeSecret, "unable to parse Vault secret path")
	}

	query := parsed.Query()
	field := query.Get("field")
	if field == "" {
		return "", "", errors.New(errors.ErrorTypeSecret, "no 'field' parameter was found in the secret path")
	}

	return field, strings.TrimPrefix(parsed.Path, "/"), nil
}
