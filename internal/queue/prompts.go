// internal/queue/prompts.go
package queue

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mitchellh/go-homedir"
)

// maxPromptLine bounds a single prompt line.
const maxPromptLine = 1 << 20

// LoadPrompts reads newline-delimited prompts. Lines are trimmed and blank lines dropped.
func LoadPrompts(r io.Reader) ([]string, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxPromptLine)

	var out []string
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read prompts: %w", err)
	}
	return out, nil
}

// LoadPromptFile reads prompts from path. A leading ~ expands to the home directory.
func LoadPromptFile(path string) ([]string, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("expand prompt file path: %w", err)
	}
	f, err := os.Open(expanded)
	if err != nil {
		return nil, fmt.Errorf("open prompt file: %w", err)
	}
	defer f.Close()
	return LoadPrompts(f)
}
