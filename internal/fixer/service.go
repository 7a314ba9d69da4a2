package fixer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mendd/internal/controller"
)

// maxFileBytes caps how much source is sent to the model per failure.
const maxFileBytes = 32 * 1024

// Config configures the fix service.
type Config struct {
	// BaseURL is the OpenAI-compatible endpoint
	// (default: https://api.openai.com/v1).
	BaseURL string

	// Model is the model identifier (default: gpt-4o-mini).
	Model string

	// APIKey authenticates against the endpoint.
	APIKey string

	// Temperature for generation (default: 0.1; fixes should be boring).
	Temperature float64
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:     "https://api.openai.com/v1",
		Model:       "gpt-4o-mini",
		Temperature: 0.1,
	}
}

// Service implements controller.FixAdapter on a langchaingo LLM.
type Service struct {
	config *Config
	llm    llms.Model
	logger *zap.Logger
}

// NewService creates a fix service backed by an OpenAI-compatible model.
func NewService(cfg *Config, logger *zap.Logger) (*Service, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.APIKey == "" {
		return nil, errors.New("fixer API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultConfig().BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultConfig().Model
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = DefaultConfig().Temperature
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	llm, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithModel(cfg.Model),
		openai.WithToken(cfg.APIKey),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}

	return &Service{config: cfg, llm: llm, logger: logger}, nil
}

// NewServiceWithModel creates a fix service with an injected model.
// Used by tests to substitute a fake.
func NewServiceWithModel(cfg *Config, model llms.Model, logger *zap.Logger) *Service {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{config: cfg, llm: model, logger: logger}
}

// Propose asks the model for a corrected version of the failing file and
// writes it back. Failures the model cannot address return an error that the
// iteration loop records as a Failed fix entry.
func (s *Service) Propose(ctx context.Context, workdir string, failure controller.Failure) (*controller.Fix, error) {
	path, source, created, err := loadTarget(workdir, failure.File)
	if err != nil {
		return nil, err
	}

	prompt := buildPrompt(failure, source)
	resp, err := llms.GenerateFromSinglePrompt(ctx, s.llm, prompt,
		llms.WithTemperature(s.config.Temperature),
	)
	if err != nil {
		return nil, controller.Transient(fmt.Errorf("fix generation failed: %w", err))
	}

	patched := extractCode(resp)
	if patched == "" {
		return nil, fmt.Errorf("model returned no usable patch for %s", failure.File)
	}
	if patched == source {
		return nil, fmt.Errorf("model returned an identical file for %s", failure.File)
	}

	if created {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory for %s: %w", failure.File, err)
		}
	}
	if err := os.WriteFile(path, []byte(patched), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write patch: %w", err)
	}

	s.logger.Debug("applied patch",
		zap.String("file", failure.File),
		zap.String("bug_type", string(failure.BugType)),
	)
	return &controller.Fix{
		File:    failure.File,
		Created: created,
		Detail:  fmt.Sprintf("%s fix near line %d", failure.BugType, failure.Line),
	}, nil
}

// loadTarget resolves the failing file inside the working copy. A missing
// file is treated as to-be-created (the model writes it from scratch).
func loadTarget(workdir, file string) (path, source string, created bool, err error) {
	clean := filepath.Clean(file)
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", "", false, fmt.Errorf("failure path escapes working copy: %q", file)
	}
	path = filepath.Join(workdir, clean)

	data, rerr := os.ReadFile(path)
	if rerr != nil {
		if os.IsNotExist(rerr) {
			return path, "", true, nil
		}
		return "", "", false, fmt.Errorf("failed to read %s: %w", file, rerr)
	}
	if len(data) > maxFileBytes {
		data = data[:maxFileBytes]
	}
	return path, string(data), false, nil
}
