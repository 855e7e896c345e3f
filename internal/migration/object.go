package migration

import (
	"context"

	"erpmigrate/internal/adapter"
	"erpmigrate/internal/mapping"
)

type Category string

const (
	CategoryConfiguration Category = "configuration"
	CategoryMasterData    Category = "master_data"
	CategoryTransactional Category = "transactional"
	CategoryInterfaces    Category = "interfaces"
)

// QualityChecks name target fields: records missing a required field are rejected,
// and so is every record after the first with the same ExactDuplicate key.
type QualityChecks struct {
	Required       []string `json:"required"`
	ExactDuplicate []string `json:"exactDuplicateKeys,omitempty"`
}

// ExtractFunc reads source records for an object. The default reads SourceTable.
type ExtractFunc func(ctx context.Context, src adapter.SourceAdapter) ([]adapter.Record, error)

// Object is one unit of migration into the target system.
type Object struct {
	ID           string   `json:"objectId"`
	Name         string   `json:"name"`
	Category     Category `json:"category"`
	Dependencies []string `json:"dependencies"`

	// RuleSetID selects the field mapping from the rule-set catalog; Rules is used
	// when no rule set is named.
	RuleSetID string         `json:"ruleSetId,omitempty"`
	Rules     []mapping.Rule `json:"-"`

	SourceTable   string           `json:"sourceTable,omitempty"`
	SourceFilters []adapter.Filter `json:"sourceFilters,omitempty"`

	TargetService string `json:"targetService,omitempty"`
	TargetEntity  string `json:"targetEntity,omitempty"`

	Checks QualityChecks `json:"qualityChecks"`

	Extract ExtractFunc `json:"-"`
}

// FieldMappings resolves the object's mapping rules.
func (o *Object) FieldMappings(catalog *mapping.Catalog) ([]mapping.Rule, error) {
	if o.RuleSetID == "" || catalog == nil {
		return o.Rules, nil
	}
	rs, ok := catalog.Get(o.RuleSetID)
	if !ok {
		return nil, errUnknownRuleSet(o)
	}
	return rs.Rules, nil
}

func (o *Object) QualityChecks() QualityChecks {
	return o.Checks
}

func (o *Object) extract(ctx context.Context, src adapter.SourceAdapter) ([]adapter.Record, error) {
	if o.Extract != nil {
		return o.Extract(ctx, src)
	}
	return src.ReadTable(ctx, o.SourceTable, adapter.ReadOptions{Filters: o.SourceFilters})
}
