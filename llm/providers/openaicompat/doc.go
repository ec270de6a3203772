// Package openaicompat provides a shared base implementation for
// OpenAI-compatible chat providers.
//
// DeepSeek and OpenAI share the Chat Completions wire format. They embed
// openaicompat.Provider and only override the provider name, base URL,
// endpoint path and default model.
//
// Usage:
//
//	p := openaicompat.New(openaicompat.Config{
//	    ProviderName:  "deepseek",
//	    APIKey:        cfg.APIKey,
//	    BaseURL:       "https://api.deepseek.com",
//	    EndpointPath:  "/chat/completions",
//	    FallbackModel: "deepseek-chat",
//	}, logger)
package openaicompat
