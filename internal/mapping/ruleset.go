package mapping

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"erpmigrate/pkg/cel"
	"erpmigrate/pkg/errors"
)

//go:embed rulesets/*.yaml
var builtinRuleSets embed.FS

// RuleSet is a data-only, named list of mapping rules.
type RuleSet struct {
	ID           string `yaml:"ruleSetId" json:"ruleSetId"`
	Name         string `yaml:"name" json:"name"`
	SourceSystem string `yaml:"sourceSystem,omitempty" json:"sourceSystem,omitempty"`
	TargetEntity string `yaml:"targetEntity,omitempty" json:"targetEntity,omitempty"`
	Rules        []Rule `yaml:"rules" json:"rules"`
}

type ruleSetFile struct {
	RuleSets []RuleSet `yaml:"ruleSets"`
}

// Catalog holds rule sets by id and builds engines for them on demand.
type Catalog struct {
	eval *cel.Evaluator

	mu      sync.RWMutex
	sets    map[string]RuleSet
	engines map[string]*Engine
}

func NewCatalog(eval *cel.Evaluator) *Catalog {
	return &Catalog{
		eval:    eval,
		sets:    make(map[string]RuleSet),
		engines: make(map[string]*Engine),
	}
}

// LoadBuiltinCatalog returns a catalog holding the embedded rule sets.
func LoadBuiltinCatalog(eval *cel.Evaluator) (*Catalog, error) {
	c := NewCatalog(eval)
	if err := c.LoadFS(builtinRuleSets, "rulesets"); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadDir merges every *.yaml / *.yml file in dir; later ids replace earlier ones.
func (c *Catalog) LoadDir(dir string) error {
	return c.LoadFS(os.DirFS(dir), ".")
}

func (c *Catalog) LoadFS(fsys fs.FS, root string) error {
	var files []string
	err := fs.WalkDir(fsys, root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		ext := strings.ToLower(filepath.Ext(path))
		if !d.IsDir() && (ext == ".yaml" || ext == ".yml") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return errors.ErrConfiguration.New("failed to list rule set files").WithCause(err)
	}
	sort.Strings(files)

	for _, path := range files {
		data, err := fs.ReadFile(fsys, path)
		if err != nil {
			return errors.ErrConfiguration.Newf("failed to read rule set file %s", path).WithCause(err)
		}
		sets, err := ParseRuleSets(data)
		if err != nil {
			return errors.ErrRuleValidation.Newf("invalid rule set file %s", path).WithCause(err)
		}
		for _, rs := range sets {
			if err := c.Add(rs); err != nil {
				return err
			}
		}
	}
	return nil
}

// ParseRuleSets decodes a YAML document with a top-level ruleSets list.
func ParseRuleSets(data []byte) ([]RuleSet, error) {
	var file ruleSetFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to decode rule sets: %w", err)
	}
	return file.RuleSets, nil
}

// Add validates rs and stores it, replacing any previous set with the same id.
func (c *Catalog) Add(rs RuleSet) error {
	if strings.TrimSpace(rs.ID) == "" {
		return errors.ErrRuleValidation.New("rule set id is required").WithDetail("name", rs.Name)
	}

	engine, err := NewEngine(rs.Rules, WithEvaluator(c.eval))
	if err != nil {
		if appErr, ok := errors.As(err); ok {
			return appErr.WithDetail("ruleSetId", rs.ID)
		}
		return err
	}

	c.mu.Lock()
	c.sets[rs.ID] = rs
	c.engines[rs.ID] = engine
	c.mu.Unlock()
	return nil
}

func (c *Catalog) Get(id string) (RuleSet, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rs, ok := c.sets[id]
	return rs, ok
}

// Engine returns the engine for a rule set id, or a CanonicalMapping error if unknown.
func (c *Catalog) Engine(id string) (*Engine, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	engine, ok := c.engines[id]
	if !ok {
		return nil, errors.ErrCanonicalMapping.Newf("rule set %q not found", id).WithDetail("ruleSetId", id)
	}
	return engine, nil
}

func (c *Catalog) IDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.sets))
	for id := range c.sets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
