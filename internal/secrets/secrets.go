// Package secrets resolves credentials stored in GCP Secret Manager.
package secrets

import (
	"context"
	"fmt"
	"strings"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
)

type Resolver interface {
	// Resolve returns the latest version of the named secret.
	Resolve(ctx context.Context, name string) (string, error)
	Close() error
}

type secretManagerResolver struct {
	client    *secretmanager.Client
	projectID string
}

func NewResolver(ctx context.Context, projectID string) (Resolver, error) {
	if projectID == "" {
		return nil, fmt.Errorf("GCP project ID is not set")
	}
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Secret Manager client: %w", err)
	}
	return &secretManagerResolver{client: client, projectID: projectID}, nil
}

func (r *secretManagerResolver) Resolve(ctx context.Context, name string) (string, error) {
	req := &secretmanagerpb.AccessSecretVersionRequest{
		Name: VersionName(r.projectID, name),
	}
	result, err := r.client.AccessSecretVersion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to access secret %s: %w", name, err)
	}
	return strings.TrimSpace(string(result.Payload.Data)), nil
}

func (r *secretManagerResolver) Close() error {
	return r.client.Close()
}

// VersionName builds the resource name of a secret's latest version. Fully
// qualified names are returned unchanged.
func VersionName(projectID, name string) string {
	if strings.HasPrefix(name, "projects/") {
		if strings.Contains(name, "/versions/") {
			return name
		}
		return name + "/versions/latest"
	}
	return fmt.Sprintf("projects/%s/secrets/%s/versions/latest", projectID, name)
}
