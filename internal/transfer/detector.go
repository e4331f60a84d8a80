// Package transfer recognizes bank transactions that move money between
// the entity's own accounts. Such transactions are routed to the transfer
// state before ordinary matching is attempted.
package transfer

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"

	"conciliation-service/internal/textnorm"
)

//go:embed keywords.toml
var defaultTable []byte

// RuleKind selects how a rule pattern is applied.
type RuleKind string

const (
	KindContains RuleKind = "contains"
	KindRegex    RuleKind = "regex"
)

// Rule is one keyword or pattern denoting an internal transfer.
type Rule struct {
	Label   string   `toml:"label"`
	Kind    RuleKind `toml:"kind"`
	Pattern string   `toml:"pattern"`
}

// Table is the versioned keyword table consumed by the Detector.
type Table struct {
	Version int    `toml:"version"`
	Rules   []Rule `toml:"rule"`
}

// Validate checks that every rule can be compiled
func (t *Table) Validate() error {
	if t.Version <= 0 {
		return fmt.Errorf("keyword table version must be positive, got %d", t.Version)
	}
	if len(t.Rules) == 0 {
		return fmt.Errorf("keyword table has no rules")
	}
	for i, r := range t.Rules {
		if strings.TrimSpace(r.Pattern) == "" {
			return fmt.Errorf("rule[%d] %q: pattern is required", i, r.Label)
		}
		switch r.Kind {
		case KindContains:
		case KindRegex:
			if _, err := regexp.Compile(r.Pattern); err != nil {
				return fmt.Errorf("rule[%d] %q: %w", i, r.Label, err)
			}
		default:
			return fmt.Errorf("rule[%d] %q: unknown kind %q", i, r.Label, r.Kind)
		}
	}
	return nil
}

// ParseTable decodes a keyword table from TOML bytes.
func ParseTable(data []byte) (*Table, error) {
	var t Table
	if err := toml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse keyword table: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// LoadTable reads a keyword table from a TOML file.
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keyword table: %w", err)
	}
	return ParseTable(data)
}

// DefaultTable returns the built-in keyword table.
func DefaultTable() *Table {
	t, err := ParseTable(defaultTable)
	if err != nil {
		panic(fmt.Sprintf("built-in transfer keyword table is invalid: %v", err))
	}
	return t
}

type compiledRule struct {
	rule     Rule
	contains string
	re       *regexp.Regexp
}

// Detector classifies bank transactions as transfers. It is safe for
// concurrent use.
type Detector struct {
	version int
	rules   []compiledRule
}

// NewDetector compiles a keyword table.
func NewDetector(table *Table) (*Detector, error) {
	if table == nil {
		table = DefaultTable()
	}
	if err := table.Validate(); err != nil {
		return nil, err
	}

	d := &Detector{version: table.Version}
	for _, r := range table.Rules {
		cr := compiledRule{rule: r}
		if r.Kind == KindRegex {
			cr.re = regexp.MustCompile(r.Pattern)
		} else {
			cr.contains = textnorm.Normalize(r.Pattern)
		}
		d.rules = append(d.rules, cr)
	}
	return d, nil
}

// Default returns a detector over the built-in table.
func Default() *Detector {
	d, err := NewDetector(DefaultTable())
	if err != nil {
		panic(err)
	}
	return d
}

// Version reports the version of the table the detector was built from.
func (d *Detector) Version() int {
	return d.version
}

// IsTransfer reports whether the external id or description carries a
// transfer marker. It never fails; unrecognized input yields false.
func (d *Detector) IsTransfer(externalID, description string) bool {
	_, ok := d.Detect(externalID, description)
	return ok
}

// Detect returns the first rule that fires, in table order.
func (d *Detector) Detect(externalID, description string) (Rule, bool) {
	text := textnorm.Normalize(externalID + " " + description)
	if text == "" {
		return Rule{}, false
	}
	for _, r := range d.rules {
		if r.re != nil {
			if r.re.MatchString(text) {
				return r.rule, true
			}
			continue
		}
		if r.contains != "" && strings.Contains(text, r.contains) {
			return r.rule, true
		}
	}
	return Rule{}, false
}
