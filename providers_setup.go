package modelmux

import (
	"context"
	"fmt"
	"os"

	"github.com/modelmux/modelmux/internal/logging"
	"github.com/modelmux/modelmux/providers"
)

// defaultKeyEnv maps a provider name to the environment variable conventionally
// holding its credential.
var defaultKeyEnv = map[string]string{
	"openai":     "OPENAI_API_KEY",
	"anthropic":  "ANTHROPIC_API_KEY",
	"groq":       "GROQ_API_KEY",
	"deepseek":   "DEEPSEEK_API_KEY",
	"xai":        "XAI_API_KEY",
	"openrouter": "OPENROUTER_API_KEY",
	"google":     "GOOGLE_API_KEY",
}

// registerConfigured builds and registers the explicitly configured
// providers. A configured provider with no resolvable credential is an
// error: explicit config means the operator expects it to work.
func (g *Gateway) registerConfigured(configs []ProviderConfig) error {
	for _, pc := range configs {
		p, err := buildProvider(pc)
		if err != nil {
			return err
		}
		g.RegisterProvider(p)
	}
	return nil
}

func buildProvider(pc ProviderConfig) (providers.Provider, error) {
	key := pc.APIKey
	if key == "" && pc.APIKeyEnv != "" {
		key = os.Getenv(pc.APIKeyEnv)
	}
	if key == "" {
		key = os.Getenv(defaultKeyEnv[pc.Name])
	}

	switch pc.Name {
	case "openai":
		if key == "" {
			return nil, missingCredential(pc.Name)
		}
		return providers.NewOpenAI(key, pc.BaseURL), nil
	case "anthropic":
		if key == "" {
			return nil, missingCredential(pc.Name)
		}
		return providers.NewAnthropic(key, pc.BaseURL), nil
	case "groq":
		if key == "" {
			return nil, missingCredential(pc.Name)
		}
		return providers.NewGroq(key, pc.BaseURL), nil
	case "deepseek":
		if key == "" {
			return nil, missingCredential(pc.Name)
		}
		return providers.NewDeepSeek(key, pc.BaseURL), nil
	case "xai":
		if key == "" {
			return nil, missingCredential(pc.Name)
		}
		return providers.NewXAI(key, pc.BaseURL), nil
	case "openrouter":
		if key == "" {
			return nil, missingCredential(pc.Name)
		}
		return providers.NewOpenRouter(key, pc.BaseURL), nil
	case "google":
		if key == "" {
			return nil, missingCredential(pc.Name)
		}
		return providers.NewGoogle(key, pc.BaseURL), nil
	case "ollama":
		base := pc.BaseURL
		if base == "" {
			base = os.Getenv("OLLAMA_BASE_URL")
		}
		return providers.NewOllama(base), nil
	case "bedrock":
		region := pc.Region
		if region == "" {
			region = os.Getenv("AWS_REGION")
		}
		return providers.NewBedrock(context.Background(), region, pc.AccessKeyID, pc.SecretAccessKey)
	}
	return nil, fmt.Errorf("unknown provider %q", pc.Name)
}

func missingCredential(name string) error {
	return providers.Errf(providers.CodeAuthMissing, name, "",
		"no API key configured (set %s)", defaultKeyEnv[name])
}

// registerFromEnv registers every provider whose credential is present in
// the environment. Absent credentials are not an error: the provider simply
// stays unregistered and its candidates are skipped at dispatch time.
func (g *Gateway) registerFromEnv() {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		g.RegisterProvider(providers.NewOpenAI(key, ""))
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		g.RegisterProvider(providers.NewAnthropic(key, ""))
	}
	if key := os.Getenv("GROQ_API_KEY"); key != "" {
		g.RegisterProvider(providers.NewGroq(key, ""))
	}
	if key := os.Getenv("DEEPSEEK_API_KEY"); key != "" {
		g.RegisterProvider(providers.NewDeepSeek(key, ""))
	}
	if key := os.Getenv("XAI_API_KEY"); key != "" {
		g.RegisterProvider(providers.NewXAI(key, ""))
	}
	if key := os.Getenv("OPENROUTER_API_KEY"); key != "" {
		g.RegisterProvider(providers.NewOpenRouter(key, ""))
	}
	if key := os.Getenv("GOOGLE_API_KEY"); key != "" {
		g.RegisterProvider(providers.NewGoogle(key, ""))
	}
	if base := os.Getenv("OLLAMA_BASE_URL"); base != "" {
		g.RegisterProvider(providers.NewOllama(base))
	}
	if region := os.Getenv("AWS_REGION"); region != "" {
		p, err := providers.NewBedrock(context.Background(), region, "", "")
		if err != nil {
			logging.Logger.Warn("bedrock provider unavailable", "error", err.Error())
			return
		}
		g.RegisterProvider(p)
	}
}
