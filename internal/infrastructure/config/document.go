package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MyCarrier-DevOps/cadence/internal/domain"
)

// Document is the seeds file: which repositories to watch, how to crawl them
// and which rules to build them with.
//
//	crawler: simple
//	seeds:
//	  - https://example.com/org/api.git
//	  - uri: https://example.com/org/web.git
//	    branch: develop
//	rules:
//	  - name: services
//	    kind: repository
//	    pattern: "service-*"
//	    script: deploy.sh
type Document struct {
	Crawler domain.CrawlerKind  `yaml:"crawler,omitempty" json:"crawler,omitempty"`
	Seeds   SeedList            `yaml:"seeds" json:"seeds"`
	Rules   []domain.RuleConfig `yaml:"rules,omitempty" json:"rules,omitempty"`
}

// SeedList is a list of seeds where each entry is either a bare URI or a mapping.
type SeedList []domain.Seed

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *SeedList) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.SequenceNode {
		return fmt.Errorf("line %d: seeds must be a list", value.Line)
	}

	seeds := make(SeedList, 0, len(value.Content))
	for _, node := range value.Content {
		var seed domain.Seed
		switch node.Kind {
		case yaml.ScalarNode:
			seed.URI = node.Value
		case yaml.MappingNode:
			if err := node.Decode(&seed); err != nil {
				return err
			}
		default:
			return fmt.Errorf("line %d: seed must be a URI or a mapping", node.Line)
		}
		seeds = append(seeds, seed)
	}
	*s = seeds
	return nil
}

// DefaultDocument returns the document written by init.
func DefaultDocument() *Document {
	return &Document{
		Crawler: domain.CrawlerSimple,
		Seeds:   SeedList{},
	}
}

// ParseDocument parses and validates a YAML seeds document.
func ParseDocument(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSeedsInvalid, err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// LoadDocumentFile loads the seeds document from path.
func LoadDocumentFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrSeedsNotFound, path)
		}
		return nil, fmt.Errorf("failed to read seeds config: %w", err)
	}
	return ParseDocument(data)
}

// Validate checks seeds, crawler and rule kinds.
func (d *Document) Validate() error {
	var errs []error
	if err := validateCrawler(d.Crawler); err != nil {
		errs = append(errs, err)
	}
	for i, seed := range d.Seeds {
		if strings.TrimSpace(seed.URI) == "" {
			errs = append(errs, fmt.Errorf("seed %d: uri is required", i+1))
		}
	}
	for i, rule := range d.Rules {
		switch rule.Kind {
		case "", domain.RuleSimple:
		case domain.RuleRepository:
			if rule.Pattern == "" {
				errs = append(errs, fmt.Errorf("rule %d: pattern is required for kind %q", i+1, rule.Kind))
			}
		default:
			errs = append(errs, fmt.Errorf("rule %d: unknown kind %q", i+1, rule.Kind))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrSeedsInvalid, errors.Join(errs...))
	}
	return nil
}

// AddSeed appends seed unless a seed with the same URI is present.
// It reports whether the document changed.
func (d *Document) AddSeed(seed domain.Seed) bool {
	for _, s := range d.Seeds {
		if s.URI == seed.URI {
			return false
		}
	}
	d.Seeds = append(d.Seeds, seed)
	return true
}

// WriteDocumentFile writes doc to path via a sibling ".new" file and a rename.
func WriteDocumentFile(path string, doc *Document) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode seeds config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tmp := path + ".new"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write seeds config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace seeds config: %w", err)
	}
	return nil
}

// InitDocumentFile writes the default document to path. It fails with
// ErrSeedsExists if path already exists.
func InitDocumentFile(path string) (*Document, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrSeedsExists, path)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to check seeds config: %w", err)
	}

	doc := DefaultDocument()
	if err := WriteDocumentFile(path, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func validateCrawler(kind domain.CrawlerKind) error {
	switch kind {
	case "", domain.CrawlerSimple, domain.CrawlerBranches:
		return nil
	default:
		return fmt.Errorf("unknown crawler %q", kind)
	}
}
