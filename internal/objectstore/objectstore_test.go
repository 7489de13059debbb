package objectstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestMemory_PutReplaces(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_, err := m.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.Put(ctx, "k", []byte("one"), "text/plain"))
	require.NoError(t, m.Put(ctx, "k", []byte("two"), "text/plain"))

	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), got)
	assert.Equal(t, 1, m.Len())
}

func setupMongo(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForLog("Waiting for connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "27017")
	require.NoError(t, err)
	return fmt.Sprintf("mongodb://%s:%s", host, port.Port())
}

func TestGridFSStore_PutGetKeepsOneRevision(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s, err := Connect(ctx, setupMongo(t), "vivacampo_test", "mosaics")
	require.NoError(t, err)
	defer s.Close(context.Background())

	_, err = s.Get(ctx, "mosaics/a.json")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Put(ctx, "mosaics/a.json", []byte(`{"v":1}`), "application/json"))
	require.NoError(t, s.Put(ctx, "mosaics/a.json", []byte(`{"v":2}`), "application/json"))

	got, err := s.Get(ctx, "mosaics/a.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":2}`, string(got))

	n, err := s.Revisions(ctx, "mosaics/a.json")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
