// Package lmstudio adapts LM Studio's local server. The wire protocol is
// OpenAI-compatible; only the defaults differ (local URL, no API key).
package lmstudio

import (
	"go.uber.org/zap"

	"github.com/mockforge/mockforge/internal/domain/entity"
	llm "github.com/mockforge/mockforge/internal/infrastructure/llm"
	"github.com/mockforge/mockforge/internal/infrastructure/llm/openai"
)

func init() {
	llm.RegisterFactory("lmstudio", func(cfg entity.BackendConfig, logger *zap.Logger) (llm.Provider, error) {
		if cfg.BaseURL == "" {
			cfg.BaseURL = "http://localhost:1234/v1"
		}
		return openai.New(cfg, logger.With(zap.String("type", "lmstudio"))), nil
	})
}
