//go:build integration
// +build integration

package vectorindex

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcqdrant "github.com/testcontainers/testcontainers-go/modules/qdrant"

	"github.com/netzbegruenung/Gruenerator-sub005/pkg/vectorindex"
)

const testDimension = 8

// startQdrant runs a Qdrant container and returns a connected client.
func startQdrant(t *testing.T, ctx context.Context) *vectorindex.Client {
	t.Helper()

	container, err := tcqdrant.Run(ctx, "qdrant/qdrant:v1.13.0")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	endpoint, err := container.GRPCEndpoint(ctx)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(endpoint)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	client, err := vectorindex.New(vectorindex.Config{
		Host:   host,
		Port:   port,
		Logger: hclog.New(&hclog.LoggerOptions{Name: "test", Level: hclog.Debug}),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	require.NoError(t, client.HealthCheck(ctx))
	return client
}

// unitVector builds a test vector pointing mostly along one axis, so
// cosine search can tell the chunks apart.
func unitVector(axis int) []float32 {
	v := make([]float32, testDimension)
	for i := range v {
		v[i] = 0.01
	}
	v[axis%testDimension] = 1
	return v
}

func seedChunks(t *testing.T, ctx context.Context, client *vectorindex.Client, collection string) {
	t.Helper()

	require.NoError(t, client.EnsureCollection(ctx, collection, testDimension))

	var records []vectorindex.ChunkRecord
	for i := 0; i < 3; i++ {
		records = append(records, vectorindex.ChunkRecord{
			DocumentID: "doc-a",
			OwnerID:    "user-1",
			ChunkIndex: i,
			Text:       fmt.Sprintf("Radverkehr Abschnitt %d", i),
			Title:      "Antrag Radwege",
			SourceType: "upload",
			Vector:     unitVector(i),
		})
	}
	records = append(records, vectorindex.ChunkRecord{
		DocumentID: "doc-b",
		OwnerID:    "user-2",
		ChunkIndex: 0,
		Text:       "Haushaltsentwurf Kapitel Verkehr",
		Title:      "Haushalt 2026",
		SourceType: "upload",
		Vector:     unitVector(5),
	})
	require.NoError(t, client.Upsert(ctx, collection, records))
}

func TestQdrant_UpsertSearchScoped(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	client := startQdrant(t, ctx)
	collection := "test-chunks"
	seedChunks(t, ctx, client, collection)

	// EnsureCollection is idempotent.
	require.NoError(t, client.EnsureCollection(ctx, collection, testDimension))

	count, err := client.Count(ctx, collection, vectorindex.Filter{})
	require.NoError(t, err)
	assert.EqualValues(t, 4, count)

	// A query near chunk 1 of doc-a ranks it first, and the owner
	// filter keeps user-2's document out entirely.
	hits, err := client.Search(ctx, collection, unitVector(1),
		vectorindex.Filter{Owner: "user-1"}, 10, 0)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, "doc-a", hits[0].DocumentID)
	assert.Equal(t, 1, hits[0].ChunkIndex)
	for _, hit := range hits {
		assert.Equal(t, "user-1", hit.OwnerID)
	}

	// Full-text filter narrows to chunks containing the token.
	hits, err = client.Search(ctx, collection, unitVector(5),
		vectorindex.Filter{Text: "Haushaltsentwurf"}, 10, 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "doc-b", hits[0].DocumentID)
}

func TestQdrant_ScrollAndDelete(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	client := startQdrant(t, ctx)
	collection := "test-lifecycle"
	seedChunks(t, ctx, client, collection)

	points, err := client.ScrollAll(ctx, collection, vectorindex.Filter{DocumentIDs: []string{"doc-a"}})
	require.NoError(t, err)
	require.Len(t, points, 3)
	for _, p := range points {
		assert.Equal(t, "doc-a", p.DocumentID)
		assert.NotEmpty(t, p.Text)
	}

	// Deleting one document leaves the other owner's chunks alone.
	require.NoError(t, client.Delete(ctx, collection, vectorindex.Filter{DocumentIDs: []string{"doc-a"}}))

	count, err := client.Count(ctx, collection, vectorindex.Filter{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	remaining, err := client.ScrollAll(ctx, collection, vectorindex.Filter{})
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "doc-b", remaining[0].DocumentID)

	require.NoError(t, client.DeleteCollection(ctx, collection))
}
