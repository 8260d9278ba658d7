package provider

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/blobmover/core/internal/enginerr"
)

// S3BlobClient implements BlobClient (§6) over S3, standing in for
// the out-of-scope concrete wire protocol of the remote store (§1).
// Grounded on provider/s3.go's HeadObject/ListObjectsV2/GetObject
// usage, generalized to the fuller §6 surface (multipart block
// upload, server-side copy polling, presigned reads, segmented
// listing with an opaque continuation token).
type S3BlobClient struct {
	client *s3.Client
	bucket string

	mu       sync.Mutex
	sessions map[string]*multipartSession // key: blob key
}

type multipartSession struct {
	uploadID string
	parts    map[string]types.CompletedPart // key: blockID
}

// ensure interface compliance
var _ BlobClient = (*S3BlobClient)(nil)

// NewS3BlobClient loads the default AWS config (env/shared config
// files/instance profile, per aws-sdk-go-v2 convention) and returns a
// client scoped to bucket.
func NewS3BlobClient(ctx context.Context, bucket string) (*S3BlobClient, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}
	return &S3BlobClient{
		client:   s3.NewFromConfig(cfg),
		bucket:   bucket,
		sessions: make(map[string]*multipartSession),
	}, nil
}

// splitBlobURI extracts a bucket-relative key from a "s3://bucket/key"
// or bare "key" URI. Keys are otherwise used as-is against the
// client's configured bucket.
func splitBlobURI(uri string) string {
	if strings.HasPrefix(uri, "s3://") {
		rest := uri[len("s3://"):]
		_, key, found := strings.Cut(rest, "/")
		if found {
			return key
		}
		return ""
	}
	return strings.TrimPrefix(uri, "/")
}

func (c *S3BlobClient) FetchMetadata(ctx context.Context, blobOrContainer string) (BlobMetadata, error) {
	key := splitBlobURI(blobOrContainer)

	out, err := c.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFoundOrForbidden(err) {
			return BlobMetadata{IsSoftError: true}, nil
		}
		return BlobMetadata{}, enginerr.New(enginerr.UncategorizedException, err, "fetch metadata for %q", blobOrContainer)
	}

	md := BlobMetadata{
		Length:   aws.ToInt64(out.ContentLength),
		BlobType: "block",
		Metadata: out.Metadata,
	}
	return md, nil
}

func isNotFoundOrForbidden(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "NotFound") || strings.Contains(msg, "403") || strings.Contains(msg, "404") || strings.Contains(msg, "Forbidden")
}

// session returns (creating if necessary) the multipart session for
// blob, issuing S3's CreateMultipartUpload on first use. Sessions are
// keyed by blob so PutBlock calls arriving out of order or after a
// resume (idempotent per blockID, §6) land in the same upload.
func (c *S3BlobClient) session(ctx context.Context, blob string) (*multipartSession, error) {
	key := splitBlobURI(blob)

	c.mu.Lock()
	sess, ok := c.sessions[key]
	c.mu.Unlock()
	if ok {
		return sess, nil
	}

	out, err := c.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, enginerr.New(enginerr.UncategorizedException, err, "create multipart upload for %q", blob)
	}

	sess = &multipartSession{uploadID: aws.ToString(out.UploadId), parts: make(map[string]types.CompletedPart)}

	c.mu.Lock()
	if existing, ok := c.sessions[key]; ok {
		sess = existing
	} else {
		c.sessions[key] = sess
	}
	c.mu.Unlock()

	return sess, nil
}

// PutBlock uploads one part of a multipart upload, lazily starting
// the session on first call and reusing it for the object's
// remaining blocks. Idempotent per blockID: calling PutBlock twice
// with the same blockID and data simply re-uploads the same part
// number, which S3 allows.
func (c *S3BlobClient) PutBlock(ctx context.Context, blob, blockID string, offset int64, data []byte, blobMD5 []byte) error {
	sess, err := c.session(ctx, blob)
	if err != nil {
		return err
	}

	key := splitBlobURI(blob)
	partNumber, err := partNumberOf(blockID)
	if err != nil {
		return enginerr.New(enginerr.UncategorizedException, err, "invalid block id %q", blockID)
	}

	input := &s3.UploadPartInput{
		Bucket:     aws.String(c.bucket),
		Key:        aws.String(key),
		UploadId:   aws.String(sess.uploadID),
		PartNumber: aws.Int32(partNumber),
		Body:       strings.NewReader(string(data)),
	}
	if len(blobMD5) > 0 {
		input.ContentMD5 = aws.String(base64.StdEncoding.EncodeToString(blobMD5))
	}

	out, err := c.client.UploadPart(ctx, input)
	if err != nil {
		return enginerr.New(enginerr.UncategorizedException, err, "upload part %s for %q", blockID, blob)
	}

	c.mu.Lock()
	sess.parts[blockID] = types.CompletedPart{ETag: out.ETag, PartNumber: aws.Int32(partNumber)}
	c.mu.Unlock()
	return nil
}

// CommitBlockList finalizes the multipart upload from the blocks
// PutBlock has accumulated, in the caller-supplied order (§6: mirrors
// commitBlockList(blob, blockIds, overwrite)).
func (c *S3BlobClient) CommitBlockList(ctx context.Context, blob string, blockIDs []string, overwrite bool) error {
	key := splitBlobURI(blob)

	c.mu.Lock()
	sess, ok := c.sessions[key]
	c.mu.Unlock()
	if !ok {
		return enginerr.New(enginerr.UncategorizedException, nil, "commit block list for %q with no active multipart session", blob)
	}

	if !overwrite {
		_, err := c.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(c.bucket), Key: aws.String(key)})
		if err == nil {
			return enginerr.Of(enginerr.NotOverwriteExistingDestination, nil)
		}
	}

	completed := make([]types.CompletedPart, 0, len(blockIDs))
	for _, id := range blockIDs {
		part, ok := sess.parts[id]
		if !ok {
			return enginerr.New(enginerr.UncategorizedException, nil, "commit block list for %q references unknown block %s", blob, id)
		}
		completed = append(completed, part)
	}

	_, err := c.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(c.bucket),
		Key:             aws.String(key),
		UploadId:        aws.String(sess.uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
	})
	if err != nil {
		return enginerr.New(enginerr.UncategorizedException, err, "complete multipart upload for %q", blob)
	}

	c.mu.Lock()
	delete(c.sessions, key)
	c.mu.Unlock()
	return nil
}

// PutPageOrAppend writes a whole-object payload, modeling page/append
// blob semantics as a single PutObject since S3 has no native
// page/append primitive (§11 domain-stack note).
func (c *S3BlobClient) PutPageOrAppend(ctx context.Context, blob string, offset int64, data []byte) error {
	key := splitBlobURI(blob)
	sum := md5.Sum(data)
	_, err := c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:     aws.String(c.bucket),
		Key:        aws.String(key),
		Body:       strings.NewReader(string(data)),
		ContentMD5: aws.String(base64.StdEncoding.EncodeToString(sum[:])),
	})
	if err != nil {
		return enginerr.New(enginerr.UncategorizedException, err, "put page/append payload for %q", blob)
	}
	return nil
}

func (c *S3BlobClient) GetRange(ctx context.Context, blob string, offset, length int64) ([]byte, error) {
	key := splitBlobURI(blob)
	rangeHeader := fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)
	out, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
		Range:  aws.String(rangeHeader),
	})
	if err != nil {
		return nil, enginerr.New(enginerr.UncategorizedException, err, "get range for %q", blob)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, enginerr.New(enginerr.UncategorizedException, err, "read range body for %q", blob)
	}
	return data, nil
}

func (c *S3BlobClient) StartServerCopy(ctx context.Context, src, dst string, cond AccessConditionArg) (string, error) {
	srcKey := splitBlobURI(src)
	dstKey := splitBlobURI(dst)

	input := &s3.CopyObjectInput{
		Bucket:     aws.String(c.bucket),
		Key:        aws.String(dstKey),
		CopySource: aws.String(c.bucket + "/" + srcKey),
	}
	if cond.IfMatchETag != "" {
		input.CopySourceIfMatch = aws.String(cond.IfMatchETag)
	}
	if cond.IfNoneMatchAll {
		input.CopySourceIfNoneMatch = aws.String("*")
	}

	out, err := c.client.CopyObject(ctx, input)
	if err != nil {
		return "", enginerr.New(enginerr.UncategorizedException, err, "start server copy %q -> %q", src, dst)
	}

	// S3's CopyObject is synchronous (ServiceSideSyncCopy in §3's
	// TransferMethod enum); we mint a synthetic copy id from the
	// resulting ETag so callers written against the asynchronous
	// StartServerCopy/GetCopyStatus contract still work uniformly.
	copyID := dstKey
	if out.CopyObjectResult != nil && out.CopyObjectResult.ETag != nil {
		copyID = dstKey + "#" + *out.CopyObjectResult.ETag
	}
	return copyID, nil
}

func (c *S3BlobClient) GetCopyStatus(ctx context.Context, blob string) (CopyStatus, error) {
	key := splitBlobURI(blob)
	out, err := c.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return CopyStatus{}, enginerr.New(enginerr.UncategorizedException, err, "get copy status for %q", blob)
	}
	size := aws.ToInt64(out.ContentLength)
	return CopyStatus{
		Status:      CopyStatusSuccess,
		BytesCopied: size,
		TotalBytes:  size,
	}, nil
}

func (c *S3BlobClient) GenerateReadSAS(ctx context.Context, blob string, lifetime time.Duration) (string, error) {
	presigner := s3.NewPresignClient(c.client)
	key := splitBlobURI(blob)
	req, err := presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(lifetime))
	if err != nil {
		return "", enginerr.New(enginerr.UncategorizedException, err, "presign read URL for %q", blob)
	}
	return req.URL, nil
}

func (c *S3BlobClient) ListBlobsSegmented(ctx context.Context, containerURI, prefix, delimiter, continuationToken string) ([]BlobEntry, string, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(prefix),
	}
	if delimiter != "" {
		input.Delimiter = aws.String(delimiter)
	}
	if continuationToken != "" {
		input.ContinuationToken = aws.String(continuationToken)
	}

	out, err := c.client.ListObjectsV2(ctx, input)
	if err != nil {
		return nil, "", enginerr.New(enginerr.FailToEnumerateDirectory, err, "list %q", prefix)
	}

	var entries []BlobEntry
	for _, cp := range out.CommonPrefixes {
		entries = append(entries, BlobEntry{Key: aws.ToString(cp.Prefix), IsPrefix: true})
	}
	for _, obj := range out.Contents {
		entries = append(entries, BlobEntry{
			Key:          aws.ToString(obj.Key),
			Size:         aws.ToInt64(obj.Size),
			LastModified: aws.ToTime(obj.LastModified),
		})
	}

	next := ""
	if aws.ToBool(out.IsTruncated) {
		next = aws.ToString(out.NextContinuationToken)
	}
	return entries, next, nil
}

// BlockID renders a zero-based chunk index as the block identifier
// PutBlock/CommitBlockList expect, matching S3's 1-based part
// numbering underneath.
func BlockID(index int) string {
	return strconv.Itoa(index + 1)
}

func partNumberOf(blockID string) (int32, error) {
	n, err := strconv.Atoi(blockID)
	if err != nil {
		return 0, err
	}
	return int32(n), nil
}
