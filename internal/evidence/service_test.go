package evidence

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"custodychain/internal/blob"
	"custodychain/pkg/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingStore struct {
	blob.Store
	gets int
}

func (c *countingStore) Get(ctx context.Context, key string) (blob.Info, io.ReadCloser, error) {
	c.gets++
	return c.Store.Get(ctx, key)
}

var fixedNow = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *countingStore) {
	t.Helper()
	store := &countingStore{Store: blob.NewMemory()}
	return NewService(store, WithClock(func() time.Time { return fixedNow })), store
}

func TestPutIsContentAddressed(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	ref, err := svc.Put(ctx, []byte("lab report"), "")
	require.NoError(t, err)
	require.NoError(t, ValidateRef(ref))
	assert.True(t, strings.HasPrefix(ref, "Qm"))
	assert.Equal(t, RefFor([]byte("lab report")), ref)

	again, err := svc.Put(ctx, []byte("lab report"), "text/plain")
	require.NoError(t, err, "identical content must not fail")
	assert.Equal(t, ref, again)

	other, err := svc.Put(ctx, []byte("other report"), "")
	require.NoError(t, err)
	assert.NotEqual(t, ref, other)
}

func TestGetServesFromCacheAfterFirstRead(t *testing.T) {
	ctx := context.Background()
	store := &countingStore{Store: blob.NewMemory()}
	writer := NewService(store)
	ref, err := writer.Put(ctx, []byte("payload"), "")
	require.NoError(t, err)

	reader := NewService(store, WithCache(time.Minute, time.Minute))
	for range 3 {
		data, err := reader.Get(ctx, ref)
		require.NoError(t, err)
		assert.Equal(t, "payload", string(data))
	}
	assert.Equal(t, 1, store.gets)

	data, _ := reader.Get(ctx, ref)
	data[0] = 'X'
	fresh, err := reader.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(fresh), "cached bytes must not alias caller slices")
}

func TestGetRejectsBadAndMissingRefs(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Get(ctx, "not-a-ref")
	require.ErrorIs(t, err, ErrInvalidRef)
	_, err = svc.Get(ctx, "Qm"+strings.Repeat("zz", 32))
	require.ErrorIs(t, err, ErrInvalidRef)

	_, err = svc.Get(ctx, RefFor([]byte("never stored")))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGetDetectsTamperedContent(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemory()
	ref := RefFor([]byte("original"))
	_, err := store.Put(ctx, ref, strings.NewReader("tampered"), blob.PutOptions{})
	require.NoError(t, err)

	_, err = NewService(store).Get(ctx, ref)
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestPutJSONAndGetJSON(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	ref, err := svc.PutJSON(ctx, map[string]any{"batch": "B-7", "grade": 2})
	require.NoError(t, err)

	var got struct {
		Batch string `json:"batch"`
		Grade int    `json:"grade"`
	}
	require.NoError(t, svc.GetJSON(ctx, ref, &got))
	assert.Equal(t, "B-7", got.Batch)
	assert.Equal(t, 2, got.Grade)

	plain, err := svc.Put(ctx, []byte("not json"), "")
	require.NoError(t, err)
	require.ErrorContains(t, svc.GetJSON(ctx, plain, &got), "decode evidence")
}

func TestURLDependsOnBackend(t *testing.T) {
	ctx := context.Background()

	mem := NewService(blob.NewMemory())
	ref, err := mem.Put(ctx, []byte("doc"), "")
	require.NoError(t, err)
	_, err = mem.URL(ctx, ref, 0)
	require.ErrorIs(t, err, ErrUnsupported)

	s3 := NewService(blob.NewMockS3ForTests())
	ref, err = s3.Put(ctx, []byte("doc"), "")
	require.NoError(t, err)
	u, err := s3.URL(ctx, ref, time.Minute)
	require.NoError(t, err)
	assert.Contains(t, u, ref)
	assert.Contains(t, u, "X-Amz-Expires=60")
	assert.Equal(t, blob.DriverS3, s3.Driver())

	_, err = s3.URL(ctx, "bogus", 0)
	require.ErrorIs(t, err, ErrInvalidRef)
}

func TestAppendLogBuildsDocumentChain(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, doc, err := svc.AppendLog(ctx, "", EnvironmentalLog{ProductID: 1, Temperature: "4.5", Humidity: "60", RecordedBy: "0xA"}, nil)
	require.NoError(t, err)
	require.Len(t, doc.Logs, 1)
	assert.Equal(t, "2024-03-01T09:30:00.000Z", doc.Logs[0].Timestamp)

	cert := &Certificate{Name: "cold-chain.pdf", ContentType: "application/pdf", Data: []byte("%PDF-1.7")}
	second, doc, err := svc.AppendLog(ctx, first, EnvironmentalLog{ProductID: 2, Temperature: "5", RecordedBy: "0xB", Timestamp: "2024-03-02T00:00:00.000Z"}, cert)
	require.NoError(t, err)
	require.NotEqual(t, first, second)
	require.Len(t, doc.Logs, 2)
	assert.Equal(t, "cold-chain.pdf", doc.Logs[1].Certificate)
	assert.Equal(t, RefFor(cert.Data), doc.Logs[1].CertificateRef)

	stored, err := svc.Get(ctx, doc.Logs[1].CertificateRef)
	require.NoError(t, err)
	assert.Equal(t, cert.Data, stored)

	logs, err := svc.LogsForProduct(ctx, second, 1)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, Reading("4.5"), logs[0].Temperature)

	old, err := svc.LogsForProduct(ctx, first, 2)
	require.NoError(t, err)
	assert.Empty(t, old, "earlier documents are immutable")
}

func TestAppendLogValidatesAndRecoversMissingDocument(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, _, err := svc.AppendLog(ctx, "", EnvironmentalLog{}, nil)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)

	ref, doc, err := svc.AppendLog(ctx, RefFor([]byte("lost")), EnvironmentalLog{ProductID: 3}, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, ref)
	assert.Len(t, doc.Logs, 1)

	_, _, err = svc.AppendLog(ctx, "garbage", EnvironmentalLog{ProductID: 3}, nil)
	require.ErrorIs(t, err, ErrInvalidRef)
}

func TestLogsForProductAcceptsLegacyShapes(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	bare, err := svc.Put(ctx, []byte(`{"productId":"5","temperature":21.5,"humidity":null,"timestamp":"t","recordedBy":"0xC"}`), "application/json")
	require.NoError(t, err)
	logs, err := svc.LogsForProduct(ctx, bare, 5)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, Reading("21.5"), logs[0].Temperature)
	assert.Equal(t, Reading(""), logs[0].Humidity)

	mixed, err := svc.Put(ctx, []byte(`{"logs":[{"productId":5},{"productId":"6"},{"productId":5,"certificateHash":"QmX"}]}`), "application/json")
	require.NoError(t, err)
	logs, err = svc.LogsForProduct(ctx, mixed, 5)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "QmX", logs[1].CertificateRef)

	none, err := svc.LogsForProduct(ctx, "", 5)
	require.NoError(t, err)
	assert.Empty(t, none)

	unrelated, err := svc.PutJSON(ctx, map[string]string{"note": "hi"})
	require.NoError(t, err)
	logs, err = svc.LogsForProduct(ctx, unrelated, 5)
	require.NoError(t, err)
	assert.Empty(t, logs)
}
