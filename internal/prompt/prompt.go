// Package prompt chooses the complexity and vulnerability mix for a generated
// contract and renders the generation prompt.
package prompt

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"regexp"
	"slices"
	"strings"
	"text/template"
)

// Complexities are the supported contract complexity levels.
var Complexities = []string{"low", "medium", "high"}

// Vulnerabilities is the catalog of analyzer detector names a contract can be
// asked to contain.
var Vulnerabilities = []string{
	"abiencoderv2-array",
	"arbitrary-send-erc20",
	"arbitrary-send-erc20-permit",
	"arbitrary-send-eth",
	"array-by-reference",
	"controlled-array-length",
	"controlled-delegatecall",
	"delegatecall-loop",
	"divide-before-multiply",
	"encode-packed-collision",
	"incorrect-equality",
	"locked-ether",
	"msg-value-loop",
	"reentrancy-benign",
	"reentrancy-eth",
	"reentrancy-events",
	"reentrancy-no-eth",
	"shadowing-state",
	"suicidal",
	"timestamp",
	"tx-origin",
	"unchecked-lowlevel",
	"unchecked-send",
	"unchecked-transfer",
	"uninitialized-state",
	"uninitialized-storage",
	"unprotected-upgrade",
	"weak-prng",
}

var (
	// ErrNoVulnerabilities is returned when filtering leaves nothing to pick from.
	ErrNoVulnerabilities = errors.New("no vulnerabilities to choose from")
	// ErrUnknownComplexity is returned for a level outside Complexities.
	ErrUnknownComplexity = errors.New("unknown complexity")
	// ErrUnknownVulnerability is returned for a detector outside the allowed catalog.
	ErrUnknownVulnerability = errors.New("unknown vulnerability")
)

// Params describe the contract to request.
type Params struct {
	Complexity      string   `json:"complexity"`
	Vulnerabilities []string `json:"vulnerabilities"`
}

// Check verifies that p names a known complexity and only detectors from
// catalog, without repeats, and that the mix fits the complexity.
func (p Params) Check(catalog []string) error {
	if !slices.Contains(Complexities, p.Complexity) {
		return fmt.Errorf("%w %q (want one of %s)", ErrUnknownComplexity, p.Complexity, strings.Join(Complexities, ", "))
	}
	if len(p.Vulnerabilities) == 0 {
		return ErrNoVulnerabilities
	}
	seen := make(map[string]bool, len(p.Vulnerabilities))
	for _, v := range p.Vulnerabilities {
		if !slices.Contains(catalog, v) {
			return fmt.Errorf("%w %q", ErrUnknownVulnerability, v)
		}
		if seen[v] {
			return fmt.Errorf("vulnerability %q listed twice", v)
		}
		seen[v] = true
		if p.Complexity == "low" && excludedForLow[v] {
			return fmt.Errorf("vulnerability %q does not fit a low complexity contract", v)
		}
	}
	return nil
}

// Selector draws random Params.
type Selector struct {
	Rand         *rand.Rand
	Catalog      []string
	Complexities []string
	// Complexity pins the level when set.
	Complexity string
	Min, Max   int
	// Fixed, when set, is returned by every Pick unchanged.
	Fixed *Params
}

// excludedForLow lists detectors that make no sense in a low complexity contract.
var excludedForLow = map[string]bool{"arbitrary-send-erc20": true}

// Pick draws a complexity level and between Min and Max distinct vulnerabilities.
func (s Selector) Pick() (Params, error) {
	if s.Fixed != nil {
		return Params{
			Complexity:      s.Fixed.Complexity,
			Vulnerabilities: append([]string{}, s.Fixed.Vulnerabilities...),
		}, nil
	}
	r := s.Rand
	if r == nil {
		r = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	levels := s.Complexities
	if len(levels) == 0 {
		levels = Complexities
	}
	minN, maxN := s.Min, s.Max
	if minN <= 0 {
		minN = 1
	}
	if maxN <= 0 {
		maxN = 3
	}
	if maxN < minN {
		maxN = minN
	}

	complexity := s.Complexity
	if complexity == "" {
		complexity = levels[r.IntN(len(levels))]
	}

	pool := make([]string, 0, len(s.Catalog))
	for _, v := range s.Catalog {
		if complexity == "low" && excludedForLow[v] {
			continue
		}
		pool = append(pool, v)
	}
	if len(pool) == 0 {
		return Params{}, ErrNoVulnerabilities
	}

	n := minN + r.IntN(maxN-minN+1)
	if n > len(pool) {
		n = len(pool)
	}
	picked := make([]string, 0, n)
	for _, idx := range r.Perm(len(pool))[:n] {
		picked = append(picked, pool[idx])
	}
	return Params{Complexity: complexity, Vulnerabilities: picked}, nil
}

// DefaultTemplate renders the prompt when no template file is configured.
const DefaultTemplate = `Complexity level: {{.Complexity}}
Generate a Solidity contract with the following vulnerabilities: {{join .Vulnerabilities ", "}}.`

// Builder renders prompts from a text/template.
type Builder struct {
	tmpl *template.Template
}

// NewBuilder parses text as a prompt template. Empty text uses DefaultTemplate.
func NewBuilder(text string) (*Builder, error) {
	if strings.TrimSpace(text) == "" {
		text = DefaultTemplate
	}
	tmpl, err := template.New("prompt").Funcs(template.FuncMap{"join": strings.Join}).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse prompt template: %w", err)
	}
	return &Builder{tmpl: tmpl}, nil
}

// LoadBuilder reads a prompt template file. An empty path uses DefaultTemplate.
func LoadBuilder(path string) (*Builder, error) {
	if path == "" {
		return NewBuilder("")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompt template %q: %w", path, err)
	}
	return NewBuilder(string(data))
}

// Build renders the prompt for p.
func (b *Builder) Build(p Params) (string, error) {
	if p.Complexity == "" {
		return "", fmt.Errorf("complexity is required")
	}
	if len(p.Vulnerabilities) == 0 {
		return "", ErrNoVulnerabilities
	}
	var buf bytes.Buffer
	if err := b.tmpl.Execute(&buf, p); err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return buf.String(), nil
}

var (
	complexityRegex    = regexp.MustCompile(`Complexity Level: (\w+)`)
	vulnerabilityRegex = regexp.MustCompile(`(?m)^\s*- ([a-zA-Z0-9_-]+)`)
)

// ParseAssessment extracts Params from an assessment document of the form
//
//	Complexity Level: medium
//	- reentrancy-eth
//	- tx-origin
func ParseAssessment(text string) (Params, error) {
	var p Params
	if m := complexityRegex.FindStringSubmatch(text); len(m) == 2 {
		p.Complexity = strings.ToLower(m[1])
	}
	for _, m := range vulnerabilityRegex.FindAllStringSubmatch(text, -1) {
		p.Vulnerabilities = append(p.Vulnerabilities, m[1])
	}
	if p.Complexity == "" {
		return p, fmt.Errorf("assessment: complexity level not found")
	}
	if len(p.Vulnerabilities) == 0 {
		return p, fmt.Errorf("assessment: %w", ErrNoVulnerabilities)
	}
	return p, nil
}
