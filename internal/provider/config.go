// Package provider constructs the chat model backends used for answer
// generation. Every backend is built through its eino-ext component, so the
// rest of the pipeline only ever sees the Eino ChatModel abstraction and can
// swap providers without code changes.
package provider

import (
	"fmt"
	"strings"
)

// Backend identifies a supported generation backend.
type Backend string

const (
	BackendOllama Backend = "ollama"
	BackendOpenAI Backend = "openai"
	BackendAzure  Backend = "azure"
	BackendArk    Backend = "ark"
	BackendGemini Backend = "gemini"
)

// CapabilitySet describes which pipeline roles a backend can serve. Azure
// and Ark expose no embedding endpoint through their eino-ext components,
// so they are generation-only; embedding for those deployments has to come
// from a different vendor.
type CapabilitySet struct {
	SupportsGeneration bool
	SupportsEmbedding  bool
}

// Capabilities reports the capability set for a backend. Unknown backends
// report an empty set.
func Capabilities(b Backend) CapabilitySet {
	switch b {
	case BackendOllama, BackendOpenAI, BackendGemini:
		return CapabilitySet{SupportsGeneration: true, SupportsEmbedding: true}
	case BackendAzure, BackendArk:
		return CapabilitySet{SupportsGeneration: true}
	}
	return CapabilitySet{}
}

// Config selects a generation backend and carries the per-backend settings.
// Only the section matching Backend is consulted; the others may be zero.
type Config struct {
	// Backend selects which provider section is used.
	Backend Backend

	Ollama      ProviderOllama
	OpenAI      ProviderOpenAI
	AzureOpenAI ProviderAzureOpenAI
	Ark         ProviderArk
	Gemini      ProviderGemini

	// Tuning holds the generation parameters shared by all backends.
	Tuning SharedTuning
}

// ProviderOllama configures a local or remote Ollama instance.
type ProviderOllama struct {
	// Host is the Ollama server base URL (OLLAMA_HOST).
	// Defaults to http://localhost:11434 when empty.
	Host string
	// Model is the model tag to run (OLLAMA_MODEL).
	Model string
}

// ProviderOpenAI configures the OpenAI API backend.
type ProviderOpenAI struct {
	// APIKey authenticates against the OpenAI API (OPENAI_API_KEY).
	APIKey string
	// Model is the model identifier, e.g. "gpt-4o" (OPENAI_MODEL).
	Model string
}

// ProviderAzureOpenAI configures the Azure OpenAI Service backend.
type ProviderAzureOpenAI struct {
	// APIKey authenticates against the Azure resource (AZURE_OPENAI_API_KEY).
	APIKey string
	// Endpoint is the resource endpoint URL (AZURE_OPENAI_ENDPOINT).
	Endpoint string
	// Deployment is the deployment name to address (AZURE_OPENAI_DEPLOYMENT).
	Deployment string
	// APIVersion is the REST API version (AZURE_OPENAI_API_VERSION).
	APIVersion string
}

// ProviderArk configures the Volcano Engine Ark backend.
type ProviderArk struct {
	// APIKey authenticates against the Ark runtime (ARK_API_KEY).
	APIKey string
	// Model is the Ark endpoint or model identifier (ARK_MODEL).
	Model string
	// BaseURL overrides the Ark public endpoint (ARK_BASE_URL). Optional;
	// the SDK default is used when empty.
	BaseURL string
}

// ProviderGemini configures the Google Gemini backend (AI Studio API).
type ProviderGemini struct {
	// APIKey authenticates against the Gemini API (GOOGLE_API_KEY).
	APIKey string
	// Model is the model identifier, e.g. "gemini-1.5-pro" (GEMINI_MODEL).
	Model string
}

// SharedTuning holds generation parameters applied to every backend that
// accepts them.
type SharedTuning struct {
	// MaxTokens caps the response length (MODEL_MAX_TOKENS).
	MaxTokens int
	// Temperature controls sampling randomness (MODEL_TEMPERATURE).
	Temperature float32
}

// Validate checks that the selected backend has the settings it needs.
// Error messages name the environment variable that supplies the missing
// value so startup failures are actionable.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendOllama:
		if c.Ollama.Model == "" {
			return fmt.Errorf("provider: OLLAMA_MODEL is required for the ollama backend")
		}
	case BackendOpenAI:
		if c.OpenAI.APIKey == "" {
			return fmt.Errorf("provider: OPENAI_API_KEY is required for the openai backend")
		}
		if c.OpenAI.Model == "" {
			return fmt.Errorf("provider: OPENAI_MODEL is required for the openai backend")
		}
	case BackendAzure:
		if c.AzureOpenAI.APIKey == "" {
			return fmt.Errorf("provider: AZURE_OPENAI_API_KEY is required for the azure backend")
		}
		if c.AzureOpenAI.Endpoint == "" {
			return fmt.Errorf("provider: AZURE_OPENAI_ENDPOINT is required for the azure backend")
		}
		if c.AzureOpenAI.Deployment == "" {
			return fmt.Errorf("provider: AZURE_OPENAI_DEPLOYMENT is required for the azure backend")
		}
	case BackendArk:
		if c.Ark.APIKey == "" {
			return fmt.Errorf("provider: ARK_API_KEY is required for the ark backend")
		}
		if c.Ark.Model == "" {
			return fmt.Errorf("provider: ARK_MODEL is required for the ark backend")
		}
	case BackendGemini:
		if c.Gemini.APIKey == "" {
			return fmt.Errorf("provider: GOOGLE_API_KEY is required for the gemini backend")
		}
		if c.Gemini.Model == "" {
			return fmt.Errorf("provider: GEMINI_MODEL is required for the gemini backend")
		}
	default:
		return fmt.Errorf("provider: unknown backend %q (valid: ollama, openai, azure, ark, gemini)", c.Backend)
	}
	return nil
}

// ModelName returns the model identifier configured for the selected
// backend, or an empty string for an unknown backend. Used for logging and
// for recording which model produced an answer.
func (c *Config) ModelName() string {
	switch c.Backend {
	case BackendOllama:
		return c.Ollama.Model
	case BackendOpenAI:
		return c.OpenAI.Model
	case BackendAzure:
		return c.AzureOpenAI.Deployment
	case BackendArk:
		return c.Ark.Model
	case BackendGemini:
		return c.Gemini.Model
	}
	return ""
}

// azureReasoningPrefixes matches the deployment families that reject
// explicit temperature and max-token parameters.
var azureReasoningPrefixes = []string{"o1", "o3", "o4", "codex"}

// isAzureReasoningModel reports whether an Azure deployment name belongs to
// a reasoning model family (o-series, codex). Matching is a case-insensitive
// prefix check against the deployment name.
func isAzureReasoningModel(deployment string) bool {
	d := strings.ToLower(deployment)
	for _, prefix := range azureReasoningPrefixes {
		if strings.HasPrefix(d, prefix) {
			return true
		}
	}
	return false
}
