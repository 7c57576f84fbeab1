// Package dbtgen generates dbt unit-test YAML for a model from a few-shot
// prompt.
package dbtgen

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/fabfab/counselor/llm"
	"github.com/fabfab/counselor/metrics"
)

// DefaultModel is the OpenAI model used when none is configured.
const DefaultModel = "gpt-4o"

// ErrInvalidOutput is returned when the model reply is not a usable unit
// test file.
var ErrInvalidOutput = errors.New("generated unit test is not valid dbt YAML")

const systemPrompt = "You are a helpful assistant that generates dbt unit tests."

const exampleModel = `{{
    config(
        materialized='incremental'
    )
}}

select * from {{ ref('events') }}
{% if is_incremental() %}
where event_time > (select max(event_time) from {{ this }})
{% endif %}`

const exampleUnitTest = `unit_tests:
  - name: my_incremental_model_full_refresh_mode
    model: my_incremental_model
    overrides:
      macros:
        # unit test this model in "full refresh" mode
        is_incremental: false
    given:
      - input: ref('events')
        rows:
          - {event_id: 1, event_time: 2020-01-01}
    expect:
      rows:
        - {event_id: 1, event_time: 2020-01-01}

  - name: my_incremental_model_incremental_mode
    model: my_incremental_model
    overrides:
      macros:
        # unit test this model in "incremental" mode
        is_incremental: true
    given:
      - input: ref('events')
        rows:
          - {event_id: 1, event_time: 2020-01-01}
          - {event_id: 2, event_time: 2020-01-02}
          - {event_id: 3, event_time: 2020-01-03}
      - input: this
        # contents of current my_incremental_model
        rows:
          - {event_id: 1, event_time: 2020-01-01}
    expect:
      # what will be inserted/merged into my_incremental_model
      rows:
        - {event_id: 2, event_time: 2020-01-02}
        - {event_id: 3, event_time: 2020-01-03}`

// UnitTest is the part of a dbt unit test definition the generator checks.
type UnitTest struct {
	Name  string `yaml:"name"`
	Model string `yaml:"model"`
}

type unitTestFile struct {
	UnitTests []UnitTest `yaml:"unit_tests"`
}

type Generator struct {
	client  llm.Client
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func New(client llm.Client, logger *zap.Logger, m *metrics.Metrics) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{client: client, logger: logger, metrics: m}
}

// Generate returns unit-test YAML for the model SQL. The reply must parse
// and declare at least one unit test.
func (g *Generator) Generate(ctx context.Context, modelSQL, modelName string) (string, error) {
	if strings.TrimSpace(modelSQL) == "" {
		return "", fmt.Errorf("model SQL cannot be empty")
	}
	if g.client == nil {
		return "", fmt.Errorf("llm client is not configured")
	}

	out, err := g.client.Generate(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt},
		{Role: llm.RoleUser, Content: buildPrompt(modelSQL, modelName)},
	})
	if err != nil {
		g.metrics.ObserveGeneration("dbt", err)
		return "", fmt.Errorf("generate unit test for %s: %w", modelName, err)
	}

	content := stripYAMLFence(out)
	tests, err := Validate(content)
	g.metrics.ObserveGeneration("dbt", err)
	if err != nil {
		return "", err
	}

	g.logger.Info("generated dbt unit tests", zap.String("model", modelName), zap.Int("tests", len(tests)))
	return content, nil
}

// GenerateFile reads a model file, generates its tests and writes them next
// to the other generated files in outDir. It returns the written path.
func (g *Generator) GenerateFile(ctx context.Context, modelPath, outDir string) (string, error) {
	data, err := os.ReadFile(modelPath)
	if err != nil {
		return "", fmt.Errorf("read model file: %w", err)
	}
	name := ModelName(modelPath)
	content, err := g.Generate(ctx, string(data), name)
	if err != nil {
		return "", err
	}
	return Save(outDir, name, content)
}

// Validate parses content and returns the declared unit tests.
func Validate(content string) ([]UnitTest, error) {
	var file unitTestFile
	if err := yaml.Unmarshal([]byte(content), &file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}
	if len(file.UnitTests) == 0 {
		return nil, fmt.Errorf("%w: no unit_tests entries", ErrInvalidOutput)
	}
	return file.UnitTests, nil
}

// Save writes content to dir/unit_test_<model>.yml, creating dir.
func Save(dir, modelName, content string) (string, error) {
	if modelName == "" {
		return "", fmt.Errorf("model name cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("unit_test_%s.yml", modelName))
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write unit test file: %w", err)
	}
	return path, nil
}

// ModelName is the file name of path without its extension.
func ModelName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func buildPrompt(modelSQL, modelName string) string {
	var sb strings.Builder
	sb.WriteString("Here's an example of a dbt model and its corresponding unit test:\n\n")
	sb.WriteString("Model:\n")
	sb.WriteString(exampleModel)
	sb.WriteString("\n\nUnit Test as content of a YAML file:\n")
	sb.WriteString(exampleUnitTest)
	sb.WriteString("\n\nCreate a dbt unit test, that contains only valid YAML for the following model")
	if modelName != "" {
		sb.WriteString(fmt.Sprintf(" named %s", modelName))
	}
	sb.WriteString(":\n\n")
	sb.WriteString(modelSQL)
	sb.WriteString(`

The test should:
1. Include appropriate test cases
2. Follow dbt unit test structure
3. Test edge cases
4. Include input and expected output data
5. Output data is only in YAML format`)
	return sb.String()
}

func stripYAMLFence(text string) string {
	text = strings.ReplaceAll(text, "```yaml", "")
	text = strings.ReplaceAll(text, "```", "")
	return strings.TrimSpace(text)
}
