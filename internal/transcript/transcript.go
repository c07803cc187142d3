// Package transcript reads agent JSONL transcripts and recovers the final
// assistant summary and aggregate token usage.
package transcript

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"strings"
	"time"
)

const DefaultSettleDelay = 500 * time.Millisecond

// Usage is the token usage summed over every assistant entry.
type Usage struct {
	InputTokens         int64 `json:"input_tokens"`
	OutputTokens        int64 `json:"output_tokens"`
	CacheReadTokens     int64 `json:"cache_read_input_tokens"`
	CacheCreationTokens int64 `json:"cache_creation_input_tokens"`
}

func (u *Usage) add(o Usage) {
	u.InputTokens += o.InputTokens
	u.OutputTokens += o.OutputTokens
	u.CacheReadTokens += o.CacheReadTokens
	u.CacheCreationTokens += o.CacheCreationTokens
}

// Result is what Extract recovered. A zero Result means nothing usable
// was found.
type Result struct {
	Summary string
	Usage   Usage
}

// Extractor reads transcripts after waiting SettleDelay for the agent
// runtime to finish flushing the file.
type Extractor struct {
	SettleDelay time.Duration
}

func NewExtractor(settle time.Duration) *Extractor {
	if settle < 0 {
		settle = 0
	}
	return &Extractor{SettleDelay: settle}
}

type entry struct {
	Type    string `json:"type"`
	Message *struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
		Usage   *Usage          `json:"usage"`
	} `json:"message"`
}

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Extract never fails: a missing file or unreadable lines yield an empty
// summary and zero usage for the affected part.
func (e *Extractor) Extract(ctx context.Context, path string) Result {
	if strings.TrimSpace(path) == "" {
		return Result{}
	}
	if e != nil && e.SettleDelay > 0 {
		timer := time.NewTimer(e.SettleDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Result{}
		case <-timer.C:
		}
	}

	f, err := os.Open(path)
	if err != nil {
		slog.Debug("transcript unavailable", "path", path, "error", err)
		return Result{}
	}
	defer f.Close()

	var assistant []entry
	scanner := bufio.NewScanner(f)
	// Tool results can embed whole files on one line.
	scanner.Buffer(make([]byte, 0, 1<<20), 10<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var en entry
		if err := json.Unmarshal(line, &en); err != nil {
			continue
		}
		if en.Type != "assistant" || en.Message == nil {
			continue
		}
		assistant = append(assistant, en)
	}
	if err := scanner.Err(); err != nil {
		slog.Debug("transcript read stopped early", "path", path, "error", err)
	}

	var res Result
	for i := len(assistant) - 1; i >= 0; i-- {
		msg := assistant[i].Message
		if msg.Usage != nil {
			res.Usage.add(*msg.Usage)
		}
		if res.Summary == "" {
			res.Summary = textOf(msg.Content)
		}
	}
	return res
}

// textOf joins the text parts of a message content, which is either a
// plain string or an array of typed parts.
func textOf(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var parts []contentPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return ""
	}
	var texts []string
	for _, p := range parts {
		if p.Type == "text" && strings.TrimSpace(p.Text) != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.TrimSpace(strings.Join(texts, "\n"))
}
