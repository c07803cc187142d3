package cli

import (
	"strings"

	"github.com/KafClaw/hivemind/internal/config"
	"github.com/KafClaw/hivemind/internal/memory"
	"github.com/KafClaw/hivemind/internal/provider"
)

// resolveMemoryEmbedder returns the embedder used by the memory service and
// a short description of where it came from. A nil embedder keeps memory
// on text search only.
func resolveMemoryEmbedder(cfg *config.Config) (memory.Embedder, string) {
	if cfg == nil {
		return nil, "config unavailable"
	}

	embCfg := cfg.Memory.Embedding
	if !embCfg.Enabled || strings.EqualFold(strings.TrimSpace(embCfg.Provider), "disabled") {
		return nil, "disabled by config"
	}

	providerID := strings.ToLower(strings.TrimSpace(embCfg.Provider))
	if providerID == "" {
		providerID = "openai"
	}

	switch providerID {
	case "openai", "openai-compatible", "local":
		// Local OpenAI-compatible servers usually run without a key.
		if strings.TrimSpace(embCfg.APIKey) == "" && strings.TrimSpace(embCfg.APIBase) == "" {
			return nil, "no api key or api base configured"
		}
		inner := provider.NewOpenAIProvider(embCfg.APIKey, embCfg.APIBase, "")
		return memory.NewProviderEmbedder(
			provider.WithDefaultModel(inner, embCfg.Model),
			embCfg.Dimension,
			embCfg.Timeout.Duration,
		), providerID
	default:
		return nil, "unsupported embedding provider"
	}
}
