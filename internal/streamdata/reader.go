// Package streamdata reads device stream batches out of the stream data
// bucket for preview purposes.
package streamdata

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"streaming-status/backend/internal/device/domain"
)

// BucketClient is the slice of the S3 API the reader uses.
type BucketClient interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

var _ BucketClient = (*s3.Client)(nil)

const previewMaxLines = 5

// Reader serves stream batch previews from a single bucket.
type Reader struct {
	client BucketClient
	bucket string
}

// NewReader returns a Reader over the given bucket.
func NewReader(client BucketClient, bucket string) *Reader {
	return &Reader{client: client, bucket: bucket}
}

// LatestBatch returns the first lines of the newest batch object written for
// the topic, with the object's last-modified time. An empty preview with nil
// error means no batch has landed yet.
func (r *Reader) LatestBatch(ctx context.Context, topic string) (string, *time.Time, error) {
	prefix, err := batchPrefix(topic)
	if err != nil {
		return "", nil, err
	}

	key, lastModified, err := r.newestObject(ctx, prefix)
	if err != nil {
		return "", nil, err
	}
	if key == "" {
		return "", nil, nil
	}

	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", nil, fmt.Errorf("read stream batch %s: %w", key, err)
	}
	defer out.Body.Close()

	preview, err := headLines(out.Body, previewMaxLines)
	if err != nil {
		return "", nil, fmt.Errorf("read stream batch %s: %w", key, err)
	}
	return preview, lastModified, nil
}

func (r *Reader) newestObject(ctx context.Context, prefix string) (string, *time.Time, error) {
	var key string
	var newest *time.Time
	var token *string
	for {
		out, err := r.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(r.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return "", nil, fmt.Errorf("list stream batches under %s: %w", prefix, err)
		}
		for _, obj := range out.Contents {
			if obj.LastModified == nil {
				continue
			}
			if newest == nil || obj.LastModified.After(*newest) {
				modified := *obj.LastModified
				newest = &modified
				key = aws.ToString(obj.Key)
			}
		}
		if out.IsTruncated != nil && *out.IsTruncated && out.NextContinuationToken != nil {
			token = out.NextContinuationToken
			continue
		}
		break
	}
	return key, newest, nil
}

// batchPrefix maps a device's publish topic to the bucket prefix the
// ingestion rule writes its batches under. Topics carry the shape
// ($aws/)rules/<rule>/<version>/<org>/<project>/<resource>.
func batchPrefix(topic string) (string, error) {
	trimmed := strings.TrimPrefix(topic, "$aws/")
	trimmed = strings.TrimPrefix(trimmed, "rules/")
	parts := strings.Split(trimmed, "/")
	if len(parts) != 5 {
		return "", fmt.Errorf("%w: malformed streaming topic %q", domain.ErrInvalidArgument, topic)
	}
	return path.Join(parts[2], parts[3], parts[4]) + "/", nil
}

func headLines(r io.Reader, max int) (string, error) {
	scanner := bufio.NewScanner(r)
	lines := make([]string, 0, max)
	for len(lines) < max && scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return strings.Join(lines, "\n"), nil
}
