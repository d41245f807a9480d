// Package vectorutils builds the configured vector.Store.
package vectorutils

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/papercomputeco/quarry/pkg/vector"
	"github.com/papercomputeco/quarry/pkg/vector/chroma"
	"github.com/papercomputeco/quarry/pkg/vector/inmemory"
	"github.com/papercomputeco/quarry/pkg/vector/postgres"
	"github.com/papercomputeco/quarry/pkg/vector/qdrant"
	"github.com/papercomputeco/quarry/pkg/vector/sqlitevec"
)

type NewStoreOpts struct {
	// ProviderType is one of "memory", "sqlite", "postgres", "qdrant" or
	// "chroma".
	ProviderType string

	SQLitePath  string
	PostgresDSN string

	// TargetURL is the qdrant "host:port" address or the chroma base URL.
	TargetURL  string
	Collection string
	Dimensions uint

	Logger *slog.Logger
}

// NewStore returns the store for o.ProviderType. The qdrant and chroma
// providers keep their records in sqlite when SQLitePath is set, in postgres
// when PostgresDSN is set, and in memory otherwise.
func NewStore(ctx context.Context, o *NewStoreOpts) (vector.Store, error) {
	switch o.ProviderType {
	case "memory":
		return inmemory.NewStore(), nil
	case "sqlite":
		return sqlitevec.NewStore(sqlitevec.Config{
			DBPath:     o.SQLitePath,
			Dimensions: o.Dimensions,
		}, o.Logger)
	case "postgres":
		return postgres.NewStore(ctx, postgres.Config{
			DSN:        o.PostgresDSN,
			Dimensions: o.Dimensions,
		}, o.Logger)
	case "qdrant":
		return newQdrantStore(ctx, o)
	case "chroma":
		return newChromaStore(ctx, o)
	default:
		return nil, fmt.Errorf("unsupported vector store provider: %s", o.ProviderType)
	}
}

func newQdrantStore(ctx context.Context, o *NewStoreOpts) (vector.Store, error) {
	host, port, err := splitHostPort(o.TargetURL)
	if err != nil {
		return nil, err
	}

	meta, err := newMetadataStore(ctx, o)
	if err != nil {
		return nil, fmt.Errorf("opening qdrant metadata store: %w", err)
	}

	store, err := qdrant.NewStore(ctx, qdrant.Config{
		Host:       host,
		Port:       port,
		Collection: o.Collection,
		Dimensions: o.Dimensions,
	}, meta, o.Logger)
	if err != nil {
		meta.Close()
		return nil, err
	}
	return store, nil
}

func newChromaStore(ctx context.Context, o *NewStoreOpts) (vector.Store, error) {
	if o.TargetURL == "" {
		return nil, fmt.Errorf("chroma target is required")
	}

	meta, err := newMetadataStore(ctx, o)
	if err != nil {
		return nil, fmt.Errorf("opening chroma metadata store: %w", err)
	}

	store, err := chroma.NewStore(ctx, chroma.Config{
		URL:            o.TargetURL,
		CollectionName: o.Collection,
		Dimensions:     o.Dimensions,
	}, meta, o.Logger)
	if err != nil {
		meta.Close()
		return nil, err
	}
	return store, nil
}

// newMetadataStore opens the system of record for providers that only index
// vectors.
func newMetadataStore(ctx context.Context, o *NewStoreOpts) (vector.Store, error) {
	switch {
	case o.SQLitePath != "":
		return sqlitevec.NewStore(sqlitevec.Config{DBPath: o.SQLitePath}, o.Logger)
	case o.PostgresDSN != "":
		return postgres.NewStore(ctx, postgres.Config{DSN: o.PostgresDSN}, o.Logger)
	default:
		return inmemory.NewStore(), nil
	}
}

func splitHostPort(target string) (string, int, error) {
	if target == "" {
		return "", 0, fmt.Errorf("qdrant target is required")
	}
	host, portStr, err := net.SplitHostPort(target)
	if err != nil {
		// bare host
		return target, qdrant.DefaultPort, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid qdrant port %q: %w", portStr, err)
	}
	return host, port, nil
}
