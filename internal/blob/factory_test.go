package blob

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenSelectsDriver(t *testing.T) {
	ctx := context.Background()

	fsStore, err := Open(ctx, Options{FSRoot: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, DriverFilesystem, fsStore.Driver())

	memStore, err := Open(ctx, Options{Driver: DriverMemory})
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, memStore.Driver())

	s3Store, err := Open(ctx, Options{Driver: DriverS3, S3: S3Config{Bucket: "evidence", Region: "eu-west-1"}})
	require.NoError(t, err)
	assert.Equal(t, DriverS3, s3Store.Driver())

	_, err = Open(ctx, Options{Driver: DriverS3})
	require.Error(t, err)

	_, err = Open(ctx, Options{Driver: "ipfs"})
	require.ErrorContains(t, err, "unknown blob driver")
}

func TestBackendsShareWriteOnceContract(t *testing.T) {
	ctx := context.Background()
	fsStore, err := NewFilesystem(t.TempDir())
	require.NoError(t, err)

	for _, store := range []Store{NewMemory(), fsStore, NewMockS3ForTests()} {
		t.Run(string(store.Driver()), func(t *testing.T) {
			info, err := store.Put(ctx, "products/1/log.json", strings.NewReader("{}"), PutOptions{ContentType: "application/json"})
			require.NoError(t, err)
			assert.Equal(t, int64(2), info.Size)

			_, err = store.Put(ctx, "products/1/log.json", strings.NewReader("{}"), PutOptions{})
			require.ErrorIs(t, err, ErrExists)

			_, err = store.Head(ctx, "products/2/log.json")
			require.ErrorIs(t, err, ErrNotFound)

			list, err := store.List(ctx, "products/")
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, "products/1/log.json", list[0].Key)
		})
	}
}
