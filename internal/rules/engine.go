package rules

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

const defaultLoopLimit = 30

// Engine rewrites transcripts with substitutions loaded from a rules file, for example
// expanding dictated abbreviations ("b p => blood pressure") or fixing drug names.
// Rules are applied in passes until the text stops changing or the loop limit is hit.
type Engine struct {
	path      string
	loopLimit int
	parsers   []RuleParser

	mu    sync.RWMutex
	rules []rewriteRule
}

// NewEngine loads rules from path with the built-in parsers. A blank or missing path
// yields an engine that returns text unchanged.
func NewEngine(path string, loopLimit int) (*Engine, error) {
	return NewEngineWithParsers(path, loopLimit, nil)
}

// NewEngineWithParsers is NewEngine with caller-supplied line parsers.
func NewEngineWithParsers(path string, loopLimit int, parsers []RuleParser) (*Engine, error) {
	if loopLimit <= 0 {
		loopLimit = defaultLoopLimit
	}
	if len(parsers) == 0 {
		parsers = DefaultParsers()
	}

	engine := &Engine{path: strings.TrimSpace(path), loopLimit: loopLimit, parsers: parsers}
	if err := engine.Reload(); err != nil {
		return nil, err
	}
	return engine, nil
}

// Path is the rules file this engine reads.
func (e *Engine) Path() string {
	return e.path
}

// Len reports how many rules are active.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}

// Reload re-reads the rules file. On a parse error the active rules are kept.
func (e *Engine) Reload() error {
	if e.path == "" {
		return nil
	}

	contents, err := os.ReadFile(e.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			e.swap(nil)
			return nil
		}
		return fmt.Errorf("failed to read rules file %q: %w", e.path, err)
	}

	parsed, err := parseRules(string(contents), e.parsers)
	if err != nil {
		return fmt.Errorf("failed to parse rules file %q: %w", e.path, err)
	}
	e.swap(parsed)
	return nil
}

func (e *Engine) swap(rules []rewriteRule) {
	e.mu.Lock()
	e.rules = rules
	e.mu.Unlock()
}

// Apply rewrites text until a pass makes no change.
func (e *Engine) Apply(text string) (string, error) {
	e.mu.RLock()
	active := e.rules
	e.mu.RUnlock()

	if len(active) == 0 {
		return text, nil
	}

	result := text
	for pass := 0; pass < e.loopLimit; pass++ {
		dirty := false
		for _, rule := range active {
			if next, changed := rule.Rewrite(result); changed {
				result = next
				dirty = true
			}
		}
		if !dirty {
			break
		}
	}
	return result, nil
}
