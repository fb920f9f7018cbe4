// Package channel defines the Channel interface for chat and webhook
// transports that start research runs.
package channel

import (
	"context"
	"strings"

	"github.com/jxucoder/researcher/pkg/model"
)

// Channel represents an input/output transport (Slack, Telegram, etc.).
type Channel interface {
	Name() string
	Run(ctx context.Context) error
}

// RunStarter is the interface the engine implements for channels.
type RunStarter interface {
	StartRun(topic string, depth model.Depth) (*model.Run, error)
}

// ParseRequest splits a chat request of the form "[depth] topic".
// A leading word is taken as the depth only when it names one exactly.
func ParseRequest(text string, def model.Depth) (string, model.Depth) {
	text = strings.TrimSpace(text)
	first, rest, _ := strings.Cut(text, " ")
	d := model.Depth(strings.ToLower(first))
	if d.Valid() && strings.TrimSpace(rest) != "" {
		return strings.TrimSpace(rest), d
	}
	return text, def
}
