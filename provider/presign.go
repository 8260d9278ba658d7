package provider

import (
	"time"

	"github.com/minio/minio-go/v6"

	"github.com/blobmover/core/internal/enginerr"
)

// PresignClient generates temporary read URLs (§6 generateReadSas)
// using minio-go rather than the aws-sdk-go-v2 client S3BlobClient
// otherwise uses for data-plane operations — grounded on
// Mantsje-iterum-sidecar/store/store.go's minio.New(...) construction.
// Kept as a distinct, optional collaborator: any S3-compatible
// endpoint (S3 itself, MinIO, a Ceph gateway) that only needs
// presigning support does not need full aws-sdk-go-v2 credential
// resolution wired up.
type PresignClient struct {
	client *minio.Client
	bucket string
}

// NewPresignClient constructs a PresignClient against an S3-compatible
// endpoint.
func NewPresignClient(endpoint, accessKeyID, secretAccessKey string, useSSL bool, bucket string) (*PresignClient, error) {
	client, err := minio.New(endpoint, accessKeyID, secretAccessKey, useSSL)
	if err != nil {
		return nil, enginerr.New(enginerr.UncategorizedException, err, "construct presign client for %q", endpoint)
	}
	return &PresignClient{client: client, bucket: bucket}, nil
}

// GenerateReadSAS produces a presigned GET URL for blob, valid for
// lifetime, capped at the §6 CopySASLifeTimeInMinutes ceiling.
func (p *PresignClient) GenerateReadSAS(blob string, lifetime time.Duration) (string, error) {
	if lifetime <= 0 || lifetime > sevenDays {
		lifetime = sevenDays
	}
	key := splitBlobURI(blob)
	u, err := p.client.PresignedGetObject(p.bucket, key, lifetime, nil)
	if err != nil {
		return "", enginerr.New(enginerr.UncategorizedException, err, "presign read URL for %q", blob)
	}
	return u.String(), nil
}

const sevenDays = 7 * 24 * time.Hour
