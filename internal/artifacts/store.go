package artifacts

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// StoreConfig configures the S3-compatible artifact store.
type StoreConfig struct {
	Enabled   bool   `json:"enabled"`
	Endpoint  string `json:"endpoint"`
	Region    string `json:"region,omitempty"`
	Bucket    string `json:"bucket"`
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	UseSSL    bool   `json:"use_ssl"`
}

// Validate checks that an enabled store has the fields it needs.
func (c StoreConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Endpoint == "" {
		return fmt.Errorf("artifact store: endpoint is required")
	}
	if c.Bucket == "" {
		return fmt.Errorf("artifact store: bucket is required")
	}
	return nil
}

// Store uploads collected artifacts to an object store bucket. Durability
// beyond a successful PutObject is the store's concern, not ours.
type Store struct {
	client *minio.Client
	bucket string
}

// NewStore creates a store client and verifies the bucket exists,
// creating it if needed.
func NewStore(ctx context.Context, cfg StoreConfig) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("artifact store client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("artifact store: checking bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("artifact store: creating bucket %s: %w", cfg.Bucket, err)
		}
	}

	return &Store{client: client, bucket: cfg.Bucket}, nil
}

// Upload mirrors collected artifact files under runs/<runID>/. Upload
// failures are logged and skipped: losing one mirror copy must not block
// the others, and the local output directory remains authoritative.
// Returns the number of objects uploaded.
func (s *Store) Upload(ctx context.Context, runID string, outDir string, paths []string) int {
	uploaded := 0
	for _, path := range paths {
		key := objectKey(runID, outDir, path)
		if _, err := s.client.FPutObject(ctx, s.bucket, key, path, minio.PutObjectOptions{
			ContentType: "application/octet-stream",
		}); err != nil {
			log.Printf("ERROR: uploading %s: %v", key, err)
			continue
		}
		uploaded++
	}
	return uploaded
}

// objectKey derives the object name from the artifact's location under
// the output directory, preserving the per-task subdirectory.
func objectKey(runID, outDir, path string) string {
	rel, err := filepath.Rel(outDir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		rel = filepath.Base(path)
	}
	return "runs/" + runID + "/" + filepath.ToSlash(rel)
}
