package supabase

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	storage "github.com/supabase-community/storage-go"
)

// StorageClient wraps the storage API for one bucket.
type StorageClient struct {
	client    *storage.Client
	bucket    string
	baseURL   string
	signedTTL time.Duration
}

func NewStorageClient(supabaseURL, serviceRoleKey, bucket string, signedTTL time.Duration) *StorageClient {
	baseURL := strings.TrimRight(supabaseURL, "/")
	if signedTTL <= 0 {
		signedTTL = time.Hour
	}
	return &StorageClient{
		client:    storage.NewClient(baseURL+"/storage/v1", serviceRoleKey, nil),
		bucket:    bucket,
		baseURL:   baseURL,
		signedTTL: signedTTL,
	}
}

func (s *StorageClient) Bucket() string {
	return s.bucket
}

// ResumableEndpoint is the tus creation URL for this project.
func (s *StorageClient) ResumableEndpoint() string {
	return ResumableEndpoint(s.baseURL)
}

func ResumableEndpoint(supabaseURL string) string {
	return strings.TrimRight(supabaseURL, "/") + "/storage/v1/upload/resumable"
}

func (s *StorageClient) Download(ctx context.Context, storagePath string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := s.client.DownloadFile(s.bucket, storagePath)
	if err != nil {
		return nil, fmt.Errorf("failed to download file: %w", err)
	}
	return data, nil
}

// Upload stores data at storagePath, replacing any existing object.
func (s *StorageClient) Upload(ctx context.Context, storagePath string, data io.Reader, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	upsert := true
	_, err := s.client.UploadFile(s.bucket, storagePath, data, storage.FileOptions{
		ContentType: &contentType,
		Upsert:      &upsert,
	})
	if err != nil {
		return fmt.Errorf("failed to upload file: %w", err)
	}
	return nil
}

func (s *StorageClient) SignedURL(ctx context.Context, storagePath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	resp, err := s.client.CreateSignedUrl(s.bucket, storagePath, int(s.signedTTL.Seconds()))
	if err != nil {
		return "", fmt.Errorf("failed to sign url: %w", err)
	}
	if strings.HasPrefix(resp.SignedURL, "/") {
		return s.baseURL + "/storage/v1" + resp.SignedURL, nil
	}
	return resp.SignedURL, nil
}

func (s *StorageClient) PublicURL(storagePath string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", s.baseURL, s.bucket, storagePath)
}

func (s *StorageClient) Remove(ctx context.Context, storagePath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.client.RemoveFile(s.bucket, []string{storagePath})
	if err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}
