package notify

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
)

type Message struct {
	To        []string          `json:"to"`
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	Data      map[string]string `json:"data,omitempty"`
	Sound     string            `json:"sound,omitempty"`
	Priority  string            `json:"priority,omitempty"`
	ChannelID string            `json:"channelId,omitempty"`
}

// LogSender only logs messages. Used when no push endpoint is configured.
type LogSender struct {
	Logger zerolog.Logger
}

func (s LogSender) Send(ctx context.Context, msg Message) error {
	s.Logger.Info().
		Int("recipients", len(msg.To)).
		Str("title", msg.Title).
		Str("data_type", msg.Data["type"]).
		Msg("push (log only)")
	return nil
}

func chunk(tokens []string, size int) [][]string {
	var out [][]string
	for size < len(tokens) {
		tokens, out = tokens[size:], append(out, tokens[0:size:size])
	}
	if len(tokens) > 0 {
		out = append(out, tokens)
	}
	return out
}

func dedupe(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
