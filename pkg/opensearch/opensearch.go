// Package opensearch wraps the official OpenSearch client with env-driven
// configuration, a startup healthcheck and index bootstrapping.
package opensearch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/opensearch-project/opensearch-go/v2"
)

// New creates a client and verifies the cluster answers.
func New(ctx context.Context, cfg Config) (*opensearch.Client, error) {
	client, err := opensearch.NewClient(opensearch.Config{
		Addresses:    cfg.Addresses,
		Username:     cfg.Username,
		Password:     cfg.Password,
		MaxRetries:   cfg.MaxRetries,
		DisableRetry: cfg.DisableRetry,
	})
	if err != nil {
		return nil, errors.Join(ErrConnectionFailed, err)
	}

	if err := Healthcheck(client)(ctx); err != nil {
		return nil, err
	}

	return client, nil
}

// Healthcheck returns a probe suitable for readiness endpoints.
func Healthcheck(client *opensearch.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		res, err := client.Info(
			client.Info.WithContext(ctx),
			client.Info.WithErrorTrace(),
		)
		if err != nil {
			return errors.Join(ErrHealthcheckFailed, err)
		}
		defer res.Body.Close()

		if res.IsError() {
			return errors.Join(ErrHealthcheckFailed, fmt.Errorf("cluster responded %s", res.Status()))
		}
		return nil
	}
}

// EnsureIndex creates the index with the given JSON body unless it exists.
func EnsureIndex(ctx context.Context, client *opensearch.Client, name, body string) error {
	res, err := client.Indices.Exists([]string{name}, client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return errors.Join(ErrIndexSetup, err)
	}
	_, _ = io.Copy(io.Discard, res.Body)
	res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
	default:
		return errors.Join(ErrIndexSetup, fmt.Errorf("exists check for %q responded %s", name, res.Status()))
	}

	res, err = client.Indices.Create(name,
		client.Indices.Create.WithBody(strings.NewReader(body)),
		client.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return errors.Join(ErrIndexSetup, err)
	}
	defer res.Body.Close()

	// a concurrent creator wins the race; that is fine
	if res.IsError() && !strings.Contains(res.String(), "resource_already_exists_exception") {
		return errors.Join(ErrIndexSetup, fmt.Errorf("create %q responded %s", name, res.String()))
	}
	return nil
}
