package chat

import (
	"embed"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed translations/*.yaml
var translationFS embed.FS

// Topic names a canned response.
type Topic string

const (
	TopicPricing    Topic = "pricing"
	TopicAreas      Topic = "areas"
	TopicHowItWorks Topic = "howItWorks"
	TopicSchedule   Topic = "schedule"
	TopicHello      Topic = "hello"
	TopicDefault    Topic = "default"
)

// QuickReplyTopics is the fixed display order of the quick-reply buttons.
var QuickReplyTopics = []Topic{TopicPricing, TopicAreas, TopicHowItWorks, TopicSchedule}

// ResponseTopics lists every response key a language must define.
var ResponseTopics = []Topic{TopicPricing, TopicAreas, TopicHowItWorks, TopicSchedule, TopicHello, TopicDefault}

// ErrInvalidTranslations is returned when a translation file is missing keys or values.
var ErrInvalidTranslations = errors.New("chat: invalid translations")

// Entry is the widget copy for one language.
type Entry struct {
	Language     Language         `yaml:"-"`
	Title        string           `yaml:"title"`
	Welcome      string           `yaml:"welcome"`
	Greeting     string           `yaml:"greeting"`
	Placeholder  string           `yaml:"placeholder"`
	QuickReplies map[Topic]string `yaml:"quickReplies"`
	Responses    map[Topic]string `yaml:"responses"`
}

// Table maps languages to their widget copy. It is read-only after loading.
type Table struct {
	entries map[Language]Entry
}

// LoadTable parses the embedded translation files.
func LoadTable() (*Table, error) {
	files, err := translationFS.ReadDir("translations")
	if err != nil {
		return nil, fmt.Errorf("chat: read translations: %w", err)
	}
	raw := make(map[Language][]byte, len(files))
	for _, file := range files {
		name := file.Name()
		if file.IsDir() || path.Ext(name) != ".yaml" {
			continue
		}
		data, err := translationFS.ReadFile(path.Join("translations", name))
		if err != nil {
			return nil, fmt.Errorf("chat: read %s: %w", name, err)
		}
		raw[Language(strings.TrimSuffix(name, ".yaml"))] = data
	}
	return ParseTable(raw)
}

// MustLoadTable is LoadTable for package-level wiring and tests.
func MustLoadTable() *Table {
	table, err := LoadTable()
	if err != nil {
		panic(err)
	}
	return table
}

// ParseTable decodes one YAML document per language and validates that every language
// defines exactly the keys English defines.
func ParseTable(raw map[Language][]byte) (*Table, error) {
	table := &Table{entries: make(map[Language]Entry, len(raw))}
	for lang, data := range raw {
		if _, ok := ParseLanguage(string(lang)); !ok {
			return nil, fmt.Errorf("%w: unsupported language %q", ErrInvalidTranslations, lang)
		}
		var entry Entry
		if err := yaml.Unmarshal(data, &entry); err != nil {
			return nil, fmt.Errorf("chat: decode %s translations: %w", lang, err)
		}
		entry.Language = lang
		table.entries[lang] = entry
	}

	english, ok := table.entries[DefaultLanguage]
	if !ok {
		return nil, fmt.Errorf("%w: default language %q missing", ErrInvalidTranslations, DefaultLanguage)
	}
	if err := validateEntry(english, QuickReplyTopics, ResponseTopics); err != nil {
		return nil, err
	}
	for lang, entry := range table.entries {
		if lang == DefaultLanguage {
			continue
		}
		if err := validateEntry(entry, keys(english.QuickReplies), keys(english.Responses)); err != nil {
			return nil, err
		}
	}
	return table, nil
}

func validateEntry(entry Entry, quickReplies, responses []Topic) error {
	var problems []string
	for field, value := range map[string]string{
		"title":       entry.Title,
		"welcome":     entry.Welcome,
		"greeting":    entry.Greeting,
		"placeholder": entry.Placeholder,
	} {
		if strings.TrimSpace(value) == "" {
			problems = append(problems, field)
		}
	}
	problems = append(problems, diffKeys("quickReplies", entry.QuickReplies, quickReplies)...)
	problems = append(problems, diffKeys("responses", entry.Responses, responses)...)
	if len(problems) > 0 {
		sort.Strings(problems)
		return fmt.Errorf("%w: %s: %s", ErrInvalidTranslations, entry.Language, strings.Join(problems, ", "))
	}
	return nil
}

func diffKeys(section string, got map[Topic]string, want []Topic) []string {
	var problems []string
	expected := make(map[Topic]struct{}, len(want))
	for _, topic := range want {
		expected[topic] = struct{}{}
		if strings.TrimSpace(got[topic]) == "" {
			problems = append(problems, section+"."+string(topic)+" missing")
		}
	}
	for topic := range got {
		if _, ok := expected[topic]; !ok {
			problems = append(problems, section+"."+string(topic)+" unexpected")
		}
	}
	return problems
}

func keys(m map[Topic]string) []Topic {
	out := make([]Topic, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// Languages returns the loaded languages sorted by code.
func (t *Table) Languages() []Language {
	out := make([]Language, 0, len(t.entries))
	for lang := range t.entries {
		out = append(out, lang)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Entry returns the copy for lang, falling back to English.
func (t *Table) Entry(lang Language) Entry {
	if entry, ok := t.entries[lang]; ok {
		return entry
	}
	return t.entries[DefaultLanguage]
}

// Response returns the canned text for topic in lang. Unknown topics yield the default response.
func (t *Table) Response(lang Language, topic Topic) string {
	entry := t.Entry(lang)
	if text, ok := entry.Responses[topic]; ok {
		return text
	}
	if text, ok := t.entries[DefaultLanguage].Responses[topic]; ok {
		return text
	}
	return entry.Responses[TopicDefault]
}

// QuickReplyLabel returns the button label for key in lang.
func (t *Table) QuickReplyLabel(lang Language, key Topic) (string, bool) {
	label, ok := t.Entry(lang).QuickReplies[key]
	return label, ok
}

// Preview renders a closed widget for lang before any session widget exists.
// The log holds only the greeting.
func (t *Table) Preview(lang Language, now time.Time) View {
	lang = LookupLanguage(string(lang))
	entry := t.Entry(lang)
	return View{
		Language:     lang,
		Title:        entry.Title,
		Welcome:      entry.Welcome,
		Placeholder:  entry.Placeholder,
		QuickReplies: entry.quickReplies(),
		Messages:     []Message{newMessage(entry.Greeting, SenderBot, lang, TopicHello, now)},
	}
}

func (e Entry) quickReplies() []QuickReply {
	replies := make([]QuickReply, 0, len(QuickReplyTopics))
	for _, key := range QuickReplyTopics {
		if label, ok := e.QuickReplies[key]; ok {
			replies = append(replies, QuickReply{Key: key, Label: label})
		}
	}
	return replies
}
