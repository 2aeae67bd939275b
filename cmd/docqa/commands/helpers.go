package commands

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/qdrant/go-client/qdrant"

	"github.com/meridell/docqa-go/internal/chunk"
	"github.com/meridell/docqa-go/internal/embed"
	"github.com/meridell/docqa-go/internal/extract"
	"github.com/meridell/docqa-go/internal/ingestion"
	"github.com/meridell/docqa-go/internal/provider"
	"github.com/meridell/docqa-go/internal/rag"
	"github.com/meridell/docqa-go/internal/server"
	"github.com/meridell/docqa-go/internal/vectorstore"
)

// engineConfigFromEnv assembles the full engine configuration from the
// environment. config.Load has already projected any YAML file into env
// vars, so this is the single assembly point for serve, ingest, and ask.
func engineConfigFromEnv() rag.Config {
	return rag.Config{
		Provider:  *provider.ConfigFromEnv(),
		Embedding: embeddingConfigFromEnv(),
		Store:     storeConfigFromEnv(),
		Search: rag.SearchSettings{
			Limit:            getEnvInt("SEARCH_LIMIT", 0),
			Threshold:        getEnvFloat64("SEARCH_THRESHOLD", 0),
			MaxContextTokens: getEnvInt("SEARCH_MAX_CONTEXT_TOKENS", 0),
		},
	}
}

// embeddingConfigFromEnv reads the EMBEDDING_* variables. The vendor
// defaults to the local hashing embedder so a bare environment still works
// end to end.
func embeddingConfigFromEnv() embed.Config {
	return embed.Config{
		Vendor:       getEnvOrDefault("EMBEDDING_PROVIDER", embed.VendorLocal),
		Model:        os.Getenv("EMBEDDING_MODEL"),
		APIKey:       os.Getenv("EMBEDDING_API_KEY"),
		Endpoint:     os.Getenv("EMBEDDING_ENDPOINT"),
		Dimension:    getEnvInt("EMBEDDING_DIMENSIONS", 0),
		RequestDelay: time.Duration(getEnvInt("EMBEDDING_REQUEST_DELAY_MS", 0)) * time.Millisecond,
	}
}

// storeConfigFromEnv reads the vector store selection and its engine
// settings. Zero-value fields take the engine constructors' defaults.
func storeConfigFromEnv() vectorstore.Config {
	return vectorstore.Config{
		Engine:       getEnvOrDefault("VECTOR_STORE_ENGINE", vectorstore.EngineMemory),
		Collection:   os.Getenv("QDRANT_COLLECTION"),
		QdrantHost:   os.Getenv("QDRANT_HOST"),
		QdrantPort:   getEnvInt("QDRANT_PORT", 0),
		QdrantAPIKey: os.Getenv("QDRANT_API_KEY"),
		QdrantUseTLS: os.Getenv("QDRANT_TLS") == "true",
		PostgresDSN:  os.Getenv("POSTGRES_DSN"),
	}
}

// pipelineConfigFromEnv reads the chunking and extraction settings shared
// by the serve upload path and the ingest command.
func pipelineConfigFromEnv() ingestion.Config {
	return ingestion.Config{
		Chunking: chunk.Options{
			MaxSize: getEnvInt("CHUNK_MAX_SIZE", 0),
			MinSize: getEnvInt("CHUNK_MIN_SIZE", 0),
			Overlap: getEnvInt("CHUNK_OVERLAP", 0),
		},
		Extraction: extract.Options{
			RemoteEndpoint: os.Getenv("EXTRACTION_REMOTE_ENDPOINT"),
			RemoteTimeout:  time.Duration(getEnvInt("EXTRACTION_REMOTE_TIMEOUT", 0)) * time.Second,
		},
	}
}

// buildPingers assembles the readiness probes for `docqa serve`. The engine
// probe is always present; the rest follow the external dependencies the
// environment actually selects, so /readyz never probes services the
// deployment does not use.
func buildPingers(engine *rag.Engine, providerCfg *provider.Config, storeCfg vectorstore.Config, log *slog.Logger) []server.Pinger {
	pingers := []server.Pinger{server.NewEnginePinger(engine)}

	if providerCfg.Backend == provider.BackendOllama && providerCfg.Ollama.Host != "" {
		pingers = append(pingers, server.NewHTTPPinger("ollama", providerCfg.Ollama.Host))
	}

	if endpoint := os.Getenv("EXTRACTION_REMOTE_ENDPOINT"); endpoint != "" {
		pingers = append(pingers, server.NewHTTPPinger("extraction", endpoint))
	}

	if storeCfg.Engine == vectorstore.EngineQdrant {
		host := storeCfg.QdrantHost
		if host == "" {
			host = "localhost"
		}
		port := storeCfg.QdrantPort
		if port == 0 {
			port = 6334
		}
		// The probe dials its own connection so a wedged store client can
		// never make /readyz hang.
		client, err := qdrant.NewClient(&qdrant.Config{
			Host:   host,
			Port:   port,
			APIKey: storeCfg.QdrantAPIKey,
			UseTLS: storeCfg.QdrantUseTLS,
		})
		if err != nil {
			log.Warn("qdrant readiness probe unavailable", slog.Any("error", err))
		} else {
			pingers = append(pingers, server.NewQdrantPinger(client))
		}
	}

	return pingers
}

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// getEnvFloat64 returns the float value of the named environment variable,
// or fallback if the variable is unset, empty, or not parseable.
func getEnvFloat64(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
