package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte(`{"Acme":[]}`)
	uri, err := store.PutObject(context.Background(), "exports/run.json", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, "memory://exports/run.json", uri)

	payload[0] = '['
	obj, ok := store.Get("exports/run.json")
	require.True(t, ok)
	require.Equal(t, `{"Acme":[]}`, string(obj.Data))
	require.Equal(t, "application/json", obj.ContentType)

	obj.Data[0] = 'x'
	again, _ := store.Get("exports/run.json")
	require.Equal(t, byte('{'), again.Data[0])

	_, err = store.PutObject(context.Background(), " ", "", bytes.NewReader(nil))
	require.Error(t, err)
}
