package agent

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"deal_intake/pkg/core/llm"

	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

// Agent names used by the pipeline.
const (
	AgentExtraction     = "deal_extraction"
	AgentClassification = "document_classification"
)

const defaultTimeout = 120 * time.Second

type Config struct {
	ActiveProvider string                 `yaml:"active_provider"`
	Agents         map[string]AgentConfig `yaml:"agents"`
}

type AgentConfig struct {
	Provider       string `yaml:"provider"` // Optional override
	Model          string `yaml:"model"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	Description    string `yaml:"description"`
}

// LoadConfig reads an agents.yaml file. A missing file yields a gemini
// default rather than an error.
func LoadConfig(path string) (Config, error) {
	cfg := Config{ActiveProvider: "gemini"}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read agent config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse agent config %s: %w", path, err)
	}
	return cfg, nil
}

type Manager struct {
	mu        sync.RWMutex
	config    Config
	providers map[string]llm.Provider
	logger    *zap.Logger
}

func NewManager(config Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		config: config,
		logger: logger,
		providers: map[string]llm.Provider{
			"gemini":    &llm.GeminiProvider{},
			"anthropic": llm.NewAnthropicProvider("", ""),
			"deepseek":  &llm.DeepSeekProvider{},
		},
	}
}

// RegisterProvider adds or replaces a provider by name.
func (m *Manager) RegisterProvider(name string, p llm.Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers[name] = p
}

func (m *Manager) GetProvider(agentType string) llm.Provider {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// 1. Check for agent-specific override
	if agentConfig, ok := m.config.Agents[agentType]; ok && agentConfig.Provider != "" {
		if p, ok := m.providers[agentConfig.Provider]; ok {
			return p
		}
	}

	// 2. Use global active provider
	if p, ok := m.providers[m.config.ActiveProvider]; ok {
		return p
	}

	// 3. Fallback
	return m.providers["gemini"]
}

// GetProviderByName retrieves a provider instance by its specific name (e.g. "deepseek", "gemini")
func (m *Manager) GetProviderByName(name string) llm.Provider {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.providers[name]
	if !ok {
		m.logger.Warn("provider not registered", zap.String("provider", name))
		return nil
	}
	return p
}

func (m *Manager) agentConfig(agentType string) AgentConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.Agents[agentType]
}

// Timeout is the per-call budget for an agent.
func (m *Manager) Timeout(agentType string) time.Duration {
	if s := m.agentConfig(agentType).TimeoutSeconds; s > 0 {
		return time.Duration(s) * time.Second
	}
	return defaultTimeout
}

func (m *Manager) prepare(ctx context.Context, agentType string, options map[string]interface{}) (llm.Provider, context.Context, context.CancelFunc, map[string]interface{}) {
	provider := m.GetProvider(agentType)
	opts := make(map[string]interface{}, len(options)+1)
	for k, v := range options {
		opts[k] = v
	}
	if model := m.agentConfig(agentType).Model; model != "" {
		if _, set := opts["model"]; !set {
			opts["model"] = model
		}
	}
	ctx, cancel := context.WithTimeout(ctx, m.Timeout(agentType))
	m.logger.Debug("executing prompt",
		zap.String("agent", agentType),
		zap.String("provider", fmt.Sprintf("%T", provider)))
	return provider, ctx, cancel, opts
}

// ExecutePrompt handles instruction adaptation before sending to the model.
// The call is bounded by the agent's timeout.
func (m *Manager) ExecutePrompt(ctx context.Context, agentType string, rawPrompt string, rawSystemPrompt string, options map[string]interface{}) (string, error) {
	provider, ctx, cancel, opts := m.prepare(ctx, agentType, options)
	defer cancel()
	return provider.GenerateResponse(ctx, rawPrompt, provider.AdaptInstructions(rawSystemPrompt), opts)
}

// ExecuteWithImages is ExecutePrompt with image parts.
func (m *Manager) ExecuteWithImages(ctx context.Context, agentType string, rawPrompt string, rawSystemPrompt string, images []llm.Image, options map[string]interface{}) (string, error) {
	provider, ctx, cancel, opts := m.prepare(ctx, agentType, options)
	defer cancel()
	return provider.GenerateWithImages(ctx, rawPrompt, provider.AdaptInstructions(rawSystemPrompt), images, opts)
}

func (m *Manager) SetGlobalProvider(newProvider string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.providers[newProvider]; !ok {
		return fmt.Errorf("provider %s not found", newProvider)
	}
	m.config.ActiveProvider = newProvider
	m.logger.Info("global provider set", zap.String("provider", newProvider))
	return nil
}

// Providers lists registered provider names in sorted order.
func (m *Manager) Providers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.providers))
	for name := range m.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *Manager) GetActiveProvider() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.ActiveProvider
}
