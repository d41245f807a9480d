package config

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flag describes a CLI flag backed by a config key. --api-target appears on
// search, ask, ingest and tasks; registering it from one entry keeps its
// name, shorthand and help text identical everywhere.
type Flag struct {
	Name      string
	Shorthand string

	// ViperKey is the dotted config key, e.g. "client.api_target".
	ViperKey    string
	Description string
}

// FlagSet maps registry keys to flag definitions.
type FlagSet map[string]Flag

// Registry keys.
const (
	FlagAPIListen       = "api-listen"
	FlagSQLite          = "sqlite"
	FlagPostgresDSN     = "postgres-dsn"
	FlagVectorStoreProv = "vector-store-provider"
	FlagVectorStoreTgt  = "vector-store-target"
	FlagEmbeddingProv   = "embedding-provider"
	FlagEmbeddingTgt    = "embedding-target"
	FlagEmbeddingModel  = "embedding-model"
	FlagEmbeddingDims   = "embedding-dimensions"
	FlagWorkers         = "workers"
	FlagEventsProvider  = "events-provider"
	FlagAPITarget       = "api-target"
)

// ServeFlags is the registry shared by "quarry serve" and the standalone
// quarryapi binary.
var ServeFlags = FlagSet{
	FlagAPIListen:       {Name: "listen", Shorthand: "l", ViperKey: "api.listen", Description: "Address for API server to listen on"},
	FlagSQLite:          {Name: "sqlite", Shorthand: "s", ViperKey: "storage.sqlite_path", Description: "Path to SQLite database (default: in-memory store)"},
	FlagPostgresDSN:     {Name: "postgres-dsn", ViperKey: "storage.postgres_dsn", Description: "Postgres connection string for the postgres vector store"},
	FlagVectorStoreProv: {Name: "vector-store-provider", ViperKey: "vector_store.provider", Description: "Vector store provider (memory, sqlite, postgres, qdrant, chroma)"},
	FlagVectorStoreTgt:  {Name: "vector-store-target", ViperKey: "vector_store.target", Description: "Vector store target (qdrant host:port or chroma URL)"},
	FlagEmbeddingProv:   {Name: "embedding-provider", ViperKey: "embedding.provider", Description: "Embedding provider (ollama, openai)"},
	FlagEmbeddingTgt:    {Name: "embedding-target", ViperKey: "embedding.target", Description: "Embedding provider URL"},
	FlagEmbeddingModel:  {Name: "embedding-model", ViperKey: "embedding.model", Description: "Embedding model name"},
	FlagEmbeddingDims:   {Name: "embedding-dimensions", ViperKey: "embedding.dimensions", Description: "Embedding dimensionality"},
	FlagWorkers:         {Name: "workers", Shorthand: "w", ViperKey: "vectorize.workers", Description: "Number of vectorization workers"},
	FlagEventsProvider:  {Name: "events-provider", ViperKey: "events.provider", Description: "Task event publisher (nop, kafka)"},
}

// ClientFlags is the registry for commands that talk to a running API server.
var ClientFlags = FlagSet{
	FlagAPITarget: {Name: "api-target", Shorthand: "a", ViperKey: "client.api_target", Description: "quarry API server URL"},
}

// AddStringFlag registers a string flag on cmd from the given FlagSet. The
// default comes from NewDefaultConfig via the flag's viper key.
func AddStringFlag(cmd *cobra.Command, fs FlagSet, key string, target *string) {
	if def, ok := fs[key]; ok {
		cmd.Flags().StringVarP(target, def.Name, def.Shorthand, defaults().GetString(def.ViperKey), def.Description)
	}
}

// AddPersistentStringFlag is AddStringFlag for a flag every subcommand of cmd
// inherits.
func AddPersistentStringFlag(cmd *cobra.Command, fs FlagSet, key string, target *string) {
	if def, ok := fs[key]; ok {
		cmd.PersistentFlags().StringVarP(target, def.Name, def.Shorthand, defaults().GetString(def.ViperKey), def.Description)
	}
}

// AddUintFlag registers a uint flag on cmd from the given FlagSet.
func AddUintFlag(cmd *cobra.Command, fs FlagSet, key string, target *uint) {
	if def, ok := fs[key]; ok {
		cmd.Flags().UintVarP(target, def.Name, def.Shorthand, defaults().GetUint(def.ViperKey), def.Description)
	}
}

// BindRegisteredFlags connects already-registered flags to v so a flag the
// user set outranks env, file and default values. Call it from PreRunE after
// InitViper. Keys whose flag was never added to cmd are skipped.
func BindRegisteredFlags(v *viper.Viper, cmd *cobra.Command, fs FlagSet, keys []string) {
	for _, key := range keys {
		def, ok := fs[key]
		if !ok {
			continue
		}
		if f := cmd.Flags().Lookup(def.Name); f != nil {
			_ = v.BindPFlag(def.ViperKey, f)
		}
	}
}

// defaults is a viper instance holding only NewDefaultConfig values.
func defaults() *viper.Viper {
	v := viper.New()
	setViperDefaults(v)
	return v
}
