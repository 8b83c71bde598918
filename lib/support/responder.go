package support

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/oldschoolag/Faivr/lib/support/learnings"
	"github.com/oldschoolag/Faivr/lib/support/llm"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var ErrNoKnowledge = errors.New("support: Options.Knowledge is required")

type Mode string

const (
	ModeLLM   Mode = "llm"
	ModeRules Mode = "rules"
)

const (
	DefaultHistoryLimit = 10
	DefaultMaxTokens    = 500
	DefaultTemperature  = 0.7
	DefaultTimeout      = 10 * time.Second
)

var supportReplies = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "faivr_support_replies",
	Help: "The total number of support chat replies by how they were produced",
}, []string{"mode"})

// CustomSource lists operator-added question/answer pairs.
type CustomSource interface {
	CustomQAs(ctx context.Context) ([]learnings.CustomQA, error)
}

type Options struct {
	Knowledge *KnowledgeBase // Required
	Completer llm.Completer  // When nil, every reply comes from the matcher
	Custom    CustomSource   // Extra pairs appended to the matcher catalog

	HistoryLimit int
	MaxTokens    int
	Temperature  float32
	Timeout      time.Duration
}

type Responder struct {
	kb        *KnowledgeBase
	completer llm.Completer
	custom    CustomSource
	prompt    string

	historyLimit int
	maxTokens    int
	temperature  float32
	timeout      time.Duration
}

func NewResponder(opts Options) (*Responder, error) {
	if opts.Knowledge == nil {
		return nil, ErrNoKnowledge
	}

	prompt, err := opts.Knowledge.SystemPrompt()
	if err != nil {
		return nil, err
	}

	result := &Responder{
		kb:           opts.Knowledge,
		completer:    opts.Completer,
		custom:       opts.Custom,
		prompt:       prompt,
		historyLimit: opts.HistoryLimit,
		maxTokens:    opts.MaxTokens,
		temperature:  opts.Temperature,
		timeout:      opts.Timeout,
	}

	if result.historyLimit == 0 {
		result.historyLimit = DefaultHistoryLimit
	}

	if result.maxTokens == 0 {
		result.maxTokens = DefaultMaxTokens
	}

	if result.temperature == 0 {
		result.temperature = DefaultTemperature
	}

	if result.timeout == 0 {
		result.timeout = DefaultTimeout
	}

	return result, nil
}

type Reply struct {
	Text    string
	Mode    Mode
	MatchID string
}

// Reply answers message. It never fails: completion errors fall back to the
// matcher and matcher misses return the off-topic response.
func (r *Responder) Reply(ctx context.Context, lg *slog.Logger, message string, history []llm.Message) Reply {
	if strings.TrimSpace(message) == "" {
		return r.count(Reply{Text: r.kb.Greeting, Mode: ModeRules})
	}

	if r.completer != nil {
		text, err := r.complete(ctx, message, history)
		if err == nil {
			return r.count(Reply{Text: text, Mode: ModeLLM})
		}
		lg.Warn("completion failed, falling back to rules", "completer", r.completer.Name(), "err", err)
	}

	catalog := r.kb.Entries
	if r.custom != nil {
		custom, err := r.custom.CustomQAs(ctx)
		if err != nil {
			lg.Error("can't load custom questions", "err", err)
		}
		catalog = r.kb.Catalog(custom)
	}

	match, ok := FindBestMatch(catalog, message)
	if !ok {
		return r.count(Reply{Text: r.kb.OffTopic, Mode: ModeRules})
	}

	return r.count(Reply{Text: match.Answer, Mode: ModeRules, MatchID: match.ID})
}

func (r *Responder) complete(ctx context.Context, message string, history []llm.Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	return r.completer.Complete(ctx, llm.Request{
		System:      r.prompt,
		Messages:    append(r.trimHistory(history), llm.Message{Role: llm.RoleUser, Content: message}),
		MaxTokens:   r.maxTokens,
		Temperature: r.temperature,
	})
}

// trimHistory keeps the last historyLimit entries, then drops the ones with
// roles the completion services don't accept from clients.
func (r *Responder) trimHistory(history []llm.Message) []llm.Message {
	if len(history) > r.historyLimit {
		history = history[len(history)-r.historyLimit:]
	}

	result := make([]llm.Message, 0, len(history)+1)
	for _, m := range history {
		if !m.Role.Valid() || strings.TrimSpace(m.Content) == "" {
			continue
		}
		result = append(result, m)
	}

	return result
}

func (r *Responder) count(reply Reply) Reply {
	supportReplies.WithLabelValues(string(reply.Mode)).Inc()
	return reply
}

func (r *Responder) SystemPrompt() string { return r.prompt }
