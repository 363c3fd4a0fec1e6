package streamdata

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"streaming-status/backend/internal/device/domain"
)

type fakeBucket struct {
	pages   []*s3.ListObjectsV2Output
	body    string
	listErr error
	getErr  error

	prefixes  []string
	listCalls int
	gotKey    string
}

func (f *fakeBucket) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.prefixes = append(f.prefixes, aws.ToString(params.Prefix))
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := f.pages[f.listCalls]
	f.listCalls++
	return out, nil
}

func (f *fakeBucket) GetObject(ctx context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.gotKey = aws.ToString(params.Key)
	if f.getErr != nil {
		return nil, f.getErr
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(f.body))}, nil
}

func object(key string, lastModified time.Time) types.Object {
	return types.Object{Key: aws.String(key), LastModified: aws.Time(lastModified)}
}

func TestLatestBatch_PicksNewestAcrossPages(t *testing.T) {
	older := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	newest := time.Date(2025, 5, 2, 8, 30, 0, 0, time.UTC)
	bucket := &fakeBucket{
		pages: []*s3.ListObjectsV2Output{
			{
				Contents:              []types.Object{object("acme/roof/SN-A/batch-1.jsonl", older)},
				IsTruncated:           aws.Bool(true),
				NextContinuationToken: aws.String("page-2"),
			},
			{
				Contents: []types.Object{
					object("acme/roof/SN-A/batch-3.jsonl", newest),
					object("acme/roof/SN-A/batch-2.jsonl", older.Add(time.Hour)),
				},
			},
		},
		body: `{"t":1}` + "\n" + `{"t":2}`,
	}
	reader := NewReader(bucket, "stream-data")

	preview, lastModified, err := reader.LatestBatch(context.Background(), "rules/ingest/v1/acme/roof/SN-A")
	if err != nil {
		t.Fatalf("LatestBatch() error = %v", err)
	}
	if preview != `{"t":1}`+"\n"+`{"t":2}` {
		t.Errorf("preview = %q", preview)
	}
	if lastModified == nil || !lastModified.Equal(newest) {
		t.Errorf("lastModified = %v, want %v", lastModified, newest)
	}
	if bucket.gotKey != "acme/roof/SN-A/batch-3.jsonl" {
		t.Errorf("fetched key = %q, want newest batch", bucket.gotKey)
	}
	if bucket.listCalls != 2 {
		t.Errorf("list calls = %d, want 2", bucket.listCalls)
	}
	for _, prefix := range bucket.prefixes {
		if prefix != "acme/roof/SN-A/" {
			t.Errorf("listed prefix = %q, want acme/roof/SN-A/", prefix)
		}
	}
}

func TestLatestBatch_TruncatesPreview(t *testing.T) {
	lines := []string{"1", "2", "3", "4", "5", "6", "7"}
	bucket := &fakeBucket{
		pages: []*s3.ListObjectsV2Output{
			{Contents: []types.Object{object("acme/roof/SN-A/batch.jsonl", time.Now())}},
		},
		body: strings.Join(lines, "\n"),
	}
	reader := NewReader(bucket, "stream-data")

	preview, _, err := reader.LatestBatch(context.Background(), "$aws/rules/ingest/v1/acme/roof/SN-A")
	if err != nil {
		t.Fatalf("LatestBatch() error = %v", err)
	}
	if preview != "1\n2\n3\n4\n5" {
		t.Errorf("preview = %q, want first five lines", preview)
	}
}

func TestLatestBatch_NoBatchesYet(t *testing.T) {
	bucket := &fakeBucket{pages: []*s3.ListObjectsV2Output{{}}}
	reader := NewReader(bucket, "stream-data")

	preview, lastModified, err := reader.LatestBatch(context.Background(), "rules/ingest/v1/acme/roof/SN-A")
	if err != nil {
		t.Fatalf("LatestBatch() error = %v", err)
	}
	if preview != "" || lastModified != nil {
		t.Errorf("LatestBatch() = (%q, %v), want empty", preview, lastModified)
	}
	if bucket.gotKey != "" {
		t.Errorf("GetObject called for key %q on empty listing", bucket.gotKey)
	}
}

func TestLatestBatch_MalformedTopic(t *testing.T) {
	reader := NewReader(&fakeBucket{}, "stream-data")

	_, _, err := reader.LatestBatch(context.Background(), "rules/ingest/acme")
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("LatestBatch() error = %v, want ErrInvalidArgument", err)
	}
}

func TestLatestBatch_ReadErrorSurfaces(t *testing.T) {
	bucket := &fakeBucket{
		pages: []*s3.ListObjectsV2Output{
			{Contents: []types.Object{object("acme/roof/SN-A/batch.jsonl", time.Now())}},
		},
		getErr: errors.New("access denied"),
	}
	reader := NewReader(bucket, "stream-data")

	_, _, err := reader.LatestBatch(context.Background(), "rules/ingest/v1/acme/roof/SN-A")
	if err == nil || !strings.Contains(err.Error(), "access denied") {
		t.Errorf("LatestBatch() error = %v, want read failure", err)
	}
}
