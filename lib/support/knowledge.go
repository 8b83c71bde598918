// Package support answers questions from people using the FAIVR marketplace,
// either through a completion service or by matching against a knowledge base.
package support

import (
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"

	"github.com/oldschoolag/Faivr/data"
	"k8s.io/apimachinery/pkg/util/yaml"
)

var (
	ErrNoGreeting      = errors.New("support: knowledge base must have a greeting")
	ErrNoOffTopic      = errors.New("support: knowledge base must have an off-topic response")
	ErrNoEntries       = errors.New("support: knowledge base must have at least one entry")
	ErrEntryMissingID  = errors.New("support: entry must have an id")
	ErrDuplicateID     = errors.New("support: entry id is used more than once")
	ErrEntryIncomplete = errors.New("support: entry must have a question and an answer")
	ErrBadContract     = errors.New("support: contract must have a name and a 0x-prefixed 20 byte address")

	contractAddress = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
)

// DefaultKnowledgeFile is the name of the knowledge base embedded in package data.
const DefaultKnowledgeFile = "knowledge.yaml"

type QAPair struct {
	ID       string   `json:"id"`
	Category string   `json:"category"`
	Keywords []string `json:"keywords,omitempty"`
	Question string   `json:"question"`
	Answer   string   `json:"answer"`
}

func (q QAPair) Valid() error {
	var errs []error

	if q.ID == "" {
		errs = append(errs, ErrEntryMissingID)
	}

	if q.Question == "" || q.Answer == "" {
		errs = append(errs, ErrEntryIncomplete)
	}

	if len(errs) != 0 {
		return fmt.Errorf("entry %q not valid:\n%w", q.ID, errors.Join(errs...))
	}

	return nil
}

type Contract struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

func (c Contract) Valid() error {
	if c.Name == "" || !contractAddress.MatchString(c.Address) {
		return fmt.Errorf("%w: %s %q", ErrBadContract, c.Name, c.Address)
	}

	return nil
}

type KnowledgeBase struct {
	Greeting  string     `json:"greeting"`
	OffTopic  string     `json:"offTopic"`
	ChainID   int        `json:"chainID"`
	Contracts []Contract `json:"contracts"`
	Entries   []QAPair   `json:"entries"`
}

func (kb *KnowledgeBase) Valid() error {
	var errs []error

	if kb.Greeting == "" {
		errs = append(errs, ErrNoGreeting)
	}

	if kb.OffTopic == "" {
		errs = append(errs, ErrNoOffTopic)
	}

	if len(kb.Entries) == 0 {
		errs = append(errs, ErrNoEntries)
	}

	seen := map[string]struct{}{}
	for _, q := range kb.Entries {
		if err := q.Valid(); err != nil {
			errs = append(errs, err)
		}

		if _, ok := seen[q.ID]; ok && q.ID != "" {
			errs = append(errs, fmt.Errorf("%w: %s", ErrDuplicateID, q.ID))
		}
		seen[q.ID] = struct{}{}
	}

	for _, c := range kb.Contracts {
		if err := c.Valid(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) != 0 {
		return fmt.Errorf("knowledge base is not valid:\n%w", errors.Join(errs...))
	}

	return nil
}

// LoadKnowledge decodes and validates a YAML or JSON knowledge base.
func LoadKnowledge(fin io.Reader, fname string) (*KnowledgeBase, error) {
	var kb KnowledgeBase

	if err := yaml.NewYAMLToJSONDecoder(fin).Decode(&kb); err != nil {
		return nil, fmt.Errorf("can't parse knowledge base %s: %w", fname, err)
	}

	if err := kb.Valid(); err != nil {
		return nil, err
	}

	return &kb, nil
}

// LoadKnowledgeFile loads fname, or the embedded default when fname is empty.
func LoadKnowledgeFile(fname string) (*KnowledgeBase, error) {
	if fname == "" {
		return DefaultKnowledge()
	}

	fin, err := os.Open(fname)
	if err != nil {
		return nil, fmt.Errorf("can't open knowledge base %s: %w", fname, err)
	}
	defer fin.Close()

	return LoadKnowledge(fin, fname)
}

func DefaultKnowledge() (*KnowledgeBase, error) {
	fin, err := data.Knowledge.Open(DefaultKnowledgeFile)
	if err != nil {
		return nil, fmt.Errorf("[unexpected] can't open embedded knowledge base: %w", err)
	}
	defer fin.Close()

	return LoadKnowledge(fin, "(data)/"+DefaultKnowledgeFile)
}
