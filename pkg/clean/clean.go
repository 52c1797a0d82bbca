// Package clean strips read-only and volatile fields from raw records
// before they are enveloped, so that repeated exports of unchanged
// resources produce identical payloads.
package clean

import (
	"fmt"
	"log/slog"
	"maps"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Cleaner removes fields from records per a type-keyed rule table. The
// zero value is not usable; construct with NewCleaner.
type Cleaner struct {
	rules   map[string]Rule
	generic Rule
}

// NewCleaner returns a Cleaner loaded with the built-in rule table.
func NewCleaner() *Cleaner {
	rules := make(map[string]Rule, len(builtinRules))
	for kind, rule := range builtinRules {
		rules[kind] = Rule{Strip: append([]string(nil), rule.Strip...)}
	}
	return &Cleaner{
		rules:   rules,
		generic: Rule{Strip: append([]string(nil), genericRule.Strip...)},
	}
}

type rulesFile struct {
	Generic []string            `yaml:"generic"`
	Types   map[string][]string `yaml:"types"`
}

// LoadRulesFile merges additional strip rules from a YAML file into the
// built-in table. User paths extend the built-ins, they never replace
// them.
func (c *Cleaner) LoadRulesFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read cleaning rules: %w", err)
	}
	var file rulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse cleaning rules %s: %w", path, err)
	}
	c.generic.Strip = mergePaths(c.generic.Strip, file.Generic)
	for kind, paths := range file.Types {
		key := strings.ToLower(kind)
		rule := c.rules[key]
		rule.Strip = mergePaths(rule.Strip, paths)
		c.rules[key] = rule
	}
	return nil
}

func mergePaths(existing, extra []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, p := range existing {
		seen[p] = true
	}
	for _, p := range extra {
		if p != "" && !seen[p] {
			existing = append(existing, p)
			seen[p] = true
		}
	}
	return existing
}

// Clean returns a copy of record with the generic fields and the fields
// of the matching type rule removed. The input map is never modified,
// no field is ever added, and cleaning never fails the caller: on any
// internal error the original record is returned unchanged.
func (c *Cleaner) Clean(kind string, record map[string]any) (out map[string]any) {
	if record == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("record cleaning failed, keeping record unmodified", "type", kind, "recover", r)
			out = record
		}
	}()

	out = maps.Clone(record)
	for _, path := range c.generic.Strip {
		stripPath(out, path)
	}
	if rule, ok := c.rules[strings.ToLower(kind)]; ok {
		for _, path := range rule.Strip {
			stripPath(out, path)
		}
	}
	return out
}

// stripPath deletes the field at a dot-separated path. A literal key
// match wins over traversal, since Graph annotations like "@odata.etag"
// contain dots themselves. Intermediate maps are cloned before
// modification so the caller's nested maps stay shared only while
// untouched.
func stripPath(record map[string]any, path string) {
	if _, ok := record[path]; ok {
		delete(record, path)
		return
	}
	segments := strings.Split(path, ".")
	cur := record
	for _, seg := range segments[:len(segments)-1] {
		child, ok := cur[seg].(map[string]any)
		if !ok {
			return
		}
		cloned := maps.Clone(child)
		cur[seg] = cloned
		cur = cloned
	}
	delete(cur, segments[len(segments)-1])
}
