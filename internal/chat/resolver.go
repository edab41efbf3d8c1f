package chat

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const meterName = "github.com/cdjcoder/Lennox-Local-GHB/internal/chat"

// KeywordSet maps trigger substrings to a response topic. Lists are bilingual.
type KeywordSet struct {
	Topic    Topic
	Keywords []string
}

// DefaultKeywordSets returns the topics in match priority order. The greeting topic answers
// with the "hello" response.
func DefaultKeywordSets() []KeywordSet {
	return []KeywordSet{
		{Topic: TopicPricing, Keywords: []string{"price", "cost", "pricing", "precio", "costo", "precios"}},
		{Topic: TopicAreas, Keywords: []string{"area", "mailing", "target", "área", "envío", "objetivo"}},
		{Topic: TopicHowItWorks, Keywords: []string{"how it works", "process", "cómo funciona", "proceso"}},
		{Topic: TopicSchedule, Keywords: []string{"schedule", "call", "contact", "programar", "llamada", "contacto"}},
		{Topic: TopicHello, Keywords: []string{"hello", "hi", "hey", "hola", "saludos"}},
	}
}

// Reply is a resolved canned response.
type Reply struct {
	Topic    Topic
	Text     string
	Language Language
}

// Resolver maps free text to exactly one canned response.
type Resolver struct {
	table   *Table
	sets    []KeywordSet
	replies metric.Int64Counter
}

// ResolverOption customises a Resolver.
type ResolverOption func(*resolverConfig)

type resolverConfig struct {
	sets  []KeywordSet
	meter metric.Meter
}

// WithKeywordSets replaces the default keyword sets.
func WithKeywordSets(sets []KeywordSet) ResolverOption {
	return func(cfg *resolverConfig) {
		cfg.sets = sets
	}
}

// WithMeter injects a custom OpenTelemetry meter.
func WithMeter(m metric.Meter) ResolverOption {
	return func(cfg *resolverConfig) {
		cfg.meter = m
	}
}

// NewResolver builds a resolver over table.
func NewResolver(table *Table, opts ...ResolverOption) (*Resolver, error) {
	cfg := resolverConfig{sets: DefaultKeywordSets()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.meter == nil {
		cfg.meter = otel.GetMeterProvider().Meter(meterName)
	}
	replies, err := cfg.meter.Int64Counter(
		"chat.replies",
		metric.WithDescription("Count of canned chat replies by topic"),
	)
	if err != nil {
		return nil, err
	}

	sets := make([]KeywordSet, len(cfg.sets))
	for i, set := range cfg.sets {
		lowered := make([]string, len(set.Keywords))
		for j, keyword := range set.Keywords {
			lowered[j] = strings.ToLower(keyword)
		}
		sets[i] = KeywordSet{Topic: set.Topic, Keywords: lowered}
	}
	return &Resolver{table: table, sets: sets, replies: replies}, nil
}

// Resolve lower-cases text and returns the response of the first keyword set with a keyword
// contained in it, or the default response.
func (r *Resolver) Resolve(ctx context.Context, text string, lang Language) Reply {
	lang = LookupLanguage(string(lang))
	topic := r.Match(text, lang)
	r.replies.Add(ctx, 1, metric.WithAttributes(
		attribute.String("topic", string(topic)),
		attribute.String("language", string(lang)),
	))
	return Reply{
		Topic:    topic,
		Text:     r.table.Response(lang, topic),
		Language: lang,
	}
}

// Match returns the topic text resolves to without recording metrics.
func (r *Resolver) Match(text string, lang Language) Topic {
	// Casers hold state and are not safe for concurrent use.
	normalized := cases.Lower(language.Make(string(lang))).String(text)
	for _, set := range r.sets {
		for _, keyword := range set.Keywords {
			if keyword != "" && strings.Contains(normalized, keyword) {
				return set.Topic
			}
		}
	}
	return TopicDefault
}
