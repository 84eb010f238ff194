// Command indexer rebuilds the persisted semantic index from the corpus
// directory, replacing whatever is currently stored. Meant for offline
// maintenance; the bot itself builds lazily on first start.
package main

import (
	"context"
	stdlog "log"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/vkarpenko/salesbot/internal/ai"
	"github.com/vkarpenko/salesbot/internal/config"
	"github.com/vkarpenko/salesbot/internal/corpus"
	"github.com/vkarpenko/salesbot/internal/index"
)

func main() {
	_ = godotenv.Load()

	fs := pflag.NewFlagSet("salesbot-indexer", pflag.ExitOnError)
	cfg, err := config.Load("", fs)
	if err != nil {
		stdlog.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	ctx := context.Background()

	clientConfig := &ai.ClientConfig{
		BaseURL:    cfg.OllamaURL,
		APIKey:     cfg.APIKey,
		EmbedModel: cfg.EmbedModel,
		GenModel:   cfg.GenModel,
		ProjectID:  cfg.ProjectID,
		Location:   cfg.Location,
		Dim:        cfg.Dim,
	}
	switch strings.ToLower(cfg.Provider) {
	case "google", "gemini", "vertexai":
		clientConfig.Provider = ai.ProviderGoogle
	case "stub":
		clientConfig.Provider = ai.ProviderStub
	default:
		clientConfig.Provider = ai.ProviderOllama
	}

	client, err := ai.NewClient(ctx, clientConfig)
	if err != nil {
		stdlog.Fatal(err)
	}

	var store index.Store
	switch strings.ToLower(cfg.IndexBackend) {
	case "postgres":
		st, err := index.NewPGStore(ctx, cfg.Database, client.Dim())
		if err != nil {
			stdlog.Fatal(err)
		}
		defer st.Close()
		store = st
	default:
		store = index.NewDiskStore(cfg.IndexDir, cfg.EmbedModel, client.Dim())
	}

	docs, err := corpus.NewLoader(cfg.KnowledgeDir).Load()
	if err != nil {
		stdlog.Fatal(err)
	}
	chunks := corpus.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap).Split(docs)
	stdlog.Printf("loaded %d documents, %d chunks", len(docs), len(chunks))

	ix := index.New(client, store)
	if err := ix.Build(ctx, chunks); err != nil {
		stdlog.Fatal(err)
	}
	stdlog.Printf("index rebuilt with %d entries", ix.Len())
}
