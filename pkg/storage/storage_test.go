package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlife-core/platform/pkg/common/models"
)

var payload = []byte(strings.Repeat("2025-09-10T08:00:00;Lab;;Kalium;4.1;;\n", 200))

func TestCompressionFor(t *testing.T) {
	assert.Equal(t, CompressionZstd, CompressionFor("runs/a/canonical.csv.zst"))
	assert.Equal(t, CompressionZstd, CompressionFor("x.ZSTD"))
	assert.Equal(t, CompressionLZ4, CompressionFor("records.json.lz4"))
	assert.Equal(t, CompressionNone, CompressionFor("records.json"))
}

func TestCompressRoundTrip(t *testing.T) {
	for _, c := range []Compression{CompressionNone, CompressionZstd, CompressionLZ4} {
		packed, err := Compress(c, payload)
		require.NoError(t, err, c)
		if c != CompressionNone {
			assert.Less(t, len(packed), len(payload), c)
		}
		unpacked, err := Decompress(c, packed)
		require.NoError(t, err, c)
		assert.Equal(t, payload, unpacked, c)
	}

	_, err := Compress("brotli", payload)
	assert.Error(t, err)
}

func TestFileSinkArtifacts(t *testing.T) {
	ctx := context.Background()
	sink := NewFileSink(t.TempDir())

	require.NoError(t, WriteArtifact(ctx, sink, "runs/r1/canonical.csv.zst", payload))
	raw, err := sink.Get(ctx, "runs/r1/canonical.csv.zst")
	require.NoError(t, err)
	assert.NotEqual(t, payload, raw)

	got, err := ReadArtifact(ctx, sink, "runs/r1/canonical.csv.zst")
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	_, err = sink.Get(ctx, "runs/r1/missing.json")
	assert.ErrorIs(t, err, ErrArtifactNotFound)

	assert.Error(t, sink.Put(ctx, "../escape.json", payload))
	assert.Error(t, sink.Put(ctx, "/etc/passwd", payload))
}

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestS3SinkArtifacts(t *testing.T) {
	ctx := context.Background()
	client := &fakeS3{objects: map[string][]byte{}}
	sink := NewS3Sink(client, "exports", "/mlife/")

	require.NoError(t, WriteArtifact(ctx, sink, "runs/r1/records.json.lz4", payload))
	assert.Contains(t, client.objects, "exports/mlife/runs/r1/records.json.lz4")

	got, err := ReadArtifact(ctx, sink, "runs/r1/records.json.lz4")
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	_, err = sink.Get(ctx, "runs/r2/records.json")
	assert.ErrorContains(t, err, "s3://exports/mlife/runs/r2/records.json")
}

func TestNewS3ClientValidates(t *testing.T) {
	_, err := NewS3Client(context.Background(), S3Config{Bucket: "b"})
	assert.Error(t, err)
	_, err = NewS3Client(context.Background(), S3Config{Endpoint: "http://localhost:9000"})
	assert.Error(t, err)

	client, err := NewS3Client(context.Background(), S3Config{
		Endpoint:        "http://localhost:9000",
		Bucket:          "b",
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
	})
	require.NoError(t, err)
	assert.NotNil(t, client)
}

func TestMemoryRunStoreExpires(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 9, 10, 8, 0, 0, 0, time.UTC)
	store := NewMemoryRunStore(time.Hour)
	store.now = func() time.Time { return now }

	require.NoError(t, store.Save(ctx, "r1", []byte(`{"run_id":"r1"}`)))
	got, err := store.Load(ctx, "r1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"run_id":"r1"}`, string(got))

	got[0] = 'X'
	again, _ := store.Load(ctx, "r1")
	assert.Equal(t, byte('{'), again[0])

	now = now.Add(2 * time.Hour)
	_, err = store.Load(ctx, "r1")
	assert.ErrorIs(t, err, ErrRunNotFound)

	_, err = store.Load(ctx, "never")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestRunKey(t *testing.T) {
	assert.Equal(t, "mlife:run:abc", RunKey("abc"))
}

func TestNewExportRows(t *testing.T) {
	rec := models.AggregatedRecord{
		RecordID:       "P-001",
		EventName:      "baseline_arm_1",
		Instrument:     "labor",
		RepeatInstance: 2,
		Day:            "2025-09-11",
	}
	rec.Set("pct", models.Number(0.4).Ptr())
	rec.Set("crp", nil)

	rows := NewExportRows("run-1", []models.AggregatedRecord{rec})
	require.Len(t, rows, 1)
	row := rows[0]
	assert.Equal(t, "run-1", row.RunID)
	assert.Equal(t, "labor", row.Instrument)
	assert.Equal(t, 2, row.RepeatInstance)
	assert.Equal(t, "2025-09-11", row.Day)
	assert.Equal(t, 0.4, row.Fields["pct"])
	assert.Contains(t, row.Fields, "crp")
	assert.Nil(t, row.Fields["crp"])
	assert.False(t, row.CreatedAt.IsZero())
}

func TestExtension(t *testing.T) {
	assert.Equal(t, ".zst", Extension("zstd"))
	assert.Equal(t, ".lz4", Extension("LZ4"))
	assert.Equal(t, "", Extension("none"))
	assert.Equal(t, CompressionZstd, CompressionFor("canonical.csv"+Extension("zstd")))
}
