package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// defaultConfigYAML is the starter configuration written by init. The
// placeholder token must be replaced before the server is usable.
const defaultConfigYAML = `# Tasklight configuration
# Environment variables are expanded: api_key: ${OPENAI_API_KEY}

listen:
  address: ""
  port: 8080

llm:
  # Any OpenAI-compatible chat-completions endpoint works here
  # (OpenAI, Ollama, vLLM, OpenRouter, ...).
  base_url: "http://localhost:11434/v1"
  api_key: ""
  model: "qwen2.5:14b"
  timeout_sec: 60

agent:
  max_rounds: 5
  tool_timeout_sec: 10
  retry_delay_sec: 2

context:
  token_budget: 8000
  history_limit: 50
  keep_recent: 10
  task_limit: 10

data_dir: data
log_level: info

users:
  - id: alice
    token: change-me
    preferences:
      locale: en-US
      date_format: iso
`

// runInit initializes a Tasklight working directory. It creates the
// data directory and writes a starter config. Existing files are never
// overwritten.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing Tasklight workspace in %s\n", dir)

	dataDir := filepath.Join(dir, "data")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dataDir, err)
	}

	configPath := filepath.Join(dir, "tasklight.yaml")
	if err := writeIfMissing(configPath, []byte(defaultConfigYAML)); err != nil {
		return err
	}
	fmt.Fprintf(w, "  ✓ %s\n", configPath)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Edit tasklight.yaml to set your provider and replace the example user token.")
	return nil
}

// writeIfMissing writes content to path only if the file does not
// already exist, so init never overwrites user customizations.
func writeIfMissing(path string, content []byte) error {
	if _, err := os.Stat(path); err == nil {
		return nil // already exists, skip
	}
	return os.WriteFile(path, content, 0o644)
}
