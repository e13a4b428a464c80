//go:build integration

package gepkeydb

import (
	"context"
	"testing"

	"github.com/testcontainers/testcontainers-go/modules/minio"
)

// TestS3BackendContract exercises the S3-compatible backend against a real
// MinIO container. Run with `go test -tags=integration ./...`; requires
// Docker.
func TestS3BackendContract(t *testing.T) {
	ctx := context.Background()

	container, err := minio.Run(ctx, "minio/minio:RELEASE.2024-01-16T16-07-38Z")
	if err != nil {
		t.Fatalf("start minio container: %v", err)
	}
	defer container.Terminate(ctx)

	endpoint, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("ConnectionString: %v", err)
	}

	backend, err := NewS3Backend(ctx, S3Options{
		Bucket:    "gep-keys",
		Region:    "us-east-1",
		Endpoint:  "http://" + endpoint,
		AccessKey: container.Username,
		SecretKey: container.Password,
		PathStyle: true,
	})
	if err != nil {
		t.Fatalf("NewS3Backend: %v", err)
	}
	defer backend.Close(ctx)

	runContractTests(t, New(backend))
}
