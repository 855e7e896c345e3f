package planner

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"erpmigrate/internal/extraction"
	"erpmigrate/internal/logger"
	"erpmigrate/internal/migration"
	"erpmigrate/pkg/errors"
)

const (
	lowConfidenceThreshold = 70
	highVolumeThreshold    = 100000
	validationBacklog      = 3
	manyMissingCritical    = 5
)

type RiskLevel string

const (
	RiskHigh   RiskLevel = "high"
	RiskMedium RiskLevel = "medium"
	RiskLow    RiskLevel = "low"
)

type Options struct {
	IncludeModules    []string `json:"includeModules,omitempty"`
	ExcludeModules    []string `json:"excludeModules,omitempty"`
	ExcludeConfig     bool     `json:"excludeConfig,omitempty"`
	ExcludeInterfaces bool     `json:"excludeInterfaces,omitempty"`
}

type ModuleStatus struct {
	Module           string  `json:"module"`
	Active           bool    `json:"active"`
	Succeeded        int     `json:"succeeded"`
	Attempted        int     `json:"attempted"`
	Coverage         float64 `json:"coverage"`
	EstimatedRecords int     `json:"estimatedRecords"`
}

type Scope struct {
	Modules       []ModuleStatus `json:"modules"`
	ActiveModules []string       `json:"activeModules"`
	Options       Options        `json:"options"`
}

type PlanObject struct {
	ObjectID         string             `json:"objectId"`
	Name             string             `json:"name"`
	Category         migration.Category `json:"category"`
	Module           string             `json:"module,omitempty"`
	Priority         int                `json:"priority"`
	EstimatedRecords int                `json:"estimatedRecords"`
	EstimatedHours   float64            `json:"estimatedHours"`
	Dependencies     []string           `json:"dependencies"`
	IsPrerequisite   bool               `json:"isPrerequisite"`
}

type ExecutionPlan struct {
	Waves      [][]string `json:"waves"`
	TotalWaves int        `json:"totalWaves"`
}

type Effort struct {
	TotalHours float64            `json:"totalHours"`
	ByBucket   map[string]float64 `json:"byBucket"`
}

type Risk struct {
	Level       RiskLevel `json:"level"`
	Area        string    `json:"area"`
	Description string    `json:"description"`
	Mitigation  string    `json:"mitigation"`
}

type Plan struct {
	RunID              string        `json:"runId"`
	SourceSystem       string        `json:"sourceSystem"`
	GeneratedAt        time.Time     `json:"generatedAt"`
	Scope              Scope         `json:"scope"`
	Objects            []PlanObject  `json:"objects"`
	ExecutionPlan      ExecutionPlan `json:"executionPlan"`
	Effort             Effort        `json:"effort"`
	Risks              []Risk        `json:"risks"`
	Recommendations    []string      `json:"recommendations"`
	UnestimatedObjects []string      `json:"unestimatedObjects,omitempty"`
}

// Bridge turns an extraction result into a migration plan over the registered objects.
type Bridge struct {
	registry *migration.Registry
	logger   logger.Logger
}

func NewBridge(registry *migration.Registry, log logger.Logger) *Bridge {
	if log == nil {
		log = logger.NopLogger()
	}
	return &Bridge{registry: registry, logger: log.Named("planner")}
}

func (b *Bridge) Plan(ctx context.Context, result *extraction.Result, opts Options) (*Plan, error) {
	if result == nil {
		return nil, errors.ErrConfiguration.New("migration plan needs an extraction result")
	}

	modules := assessModules(result)
	selected := filterModules(modules, opts)

	plan := &Plan{
		RunID:        result.RunID,
		SourceSystem: string(result.SourceSystem),
		GeneratedAt:  time.Now().UTC(),
		Scope:        Scope{Modules: modules, Options: opts, ActiveModules: []string{}},
	}
	for _, m := range selected {
		plan.Scope.ActiveModules = append(plan.Scope.ActiveModules, m.Module)
	}

	moduleOf := make(map[string]string)
	inScope := make(map[string]bool)
	var order []string
	add := func(id string) {
		if !inScope[id] {
			inScope[id] = true
			order = append(order, id)
		}
	}
	for _, m := range selected {
		for _, spec := range moduleTable {
			if spec.Module != m.Module {
				continue
			}
			for _, id := range spec.Objects {
				obj, ok := b.registry.Get(id)
				if !ok || b.excluded(obj, opts) {
					continue
				}
				moduleOf[id] = m.Module
				add(id)
			}
		}
	}

	requested := len(order)
	prerequisite := make(map[string]bool)
	for _, id := range order[:requested] {
		for _, dep := range b.registry.TransitiveDependencies(id) {
			obj, ok := b.registry.Get(dep)
			if !ok || inScope[dep] || b.excluded(obj, opts) {
				continue
			}
			prerequisite[dep] = true
			add(dep)
		}
	}

	var unestimated []string
	for _, id := range order {
		obj, _ := b.registry.Get(id)
		records, estimated := estimateRecords(id, result)
		if !estimated {
			unestimated = append(unestimated, id)
		}
		plan.Objects = append(plan.Objects, PlanObject{
			ObjectID:         id,
			Name:             obj.Name,
			Category:         obj.Category,
			Module:           moduleOf[id],
			Priority:         priorityOf(id),
			EstimatedRecords: records,
			EstimatedHours:   estimateHours(id, records),
			Dependencies:     append([]string{}, obj.Dependencies...),
			IsPrerequisite:   prerequisite[id],
		})
	}
	sort.SliceStable(plan.Objects, func(i, j int) bool {
		if plan.Objects[i].Priority != plan.Objects[j].Priority {
			return plan.Objects[i].Priority > plan.Objects[j].Priority
		}
		return plan.Objects[i].ObjectID < plan.Objects[j].ObjectID
	})
	sort.Strings(unestimated)
	plan.UnestimatedObjects = unestimated

	waves, err := b.registry.ExecutionWaves(order)
	if err != nil {
		return nil, err
	}
	if waves == nil {
		waves = [][]string{}
	}
	plan.ExecutionPlan = ExecutionPlan{Waves: waves, TotalWaves: len(waves)}
	plan.Effort = effortOf(plan.Objects)
	plan.Risks = assessRisks(result, plan)
	plan.Recommendations = recommend(plan)

	b.logger.InfowCtx(ctx, "Migration plan built",
		"run_id", result.RunID,
		"modules", plan.Scope.ActiveModules,
		"objects", len(plan.Objects),
		"prerequisites", len(prerequisite),
		"waves", plan.ExecutionPlan.TotalWaves,
		"hours", plan.Effort.TotalHours,
	)
	return plan, nil
}

func (b *Bridge) excluded(obj *migration.Object, opts Options) bool {
	switch obj.Category {
	case migration.CategoryConfiguration:
		return opts.ExcludeConfig
	case migration.CategoryInterfaces:
		return opts.ExcludeInterfaces
	}
	return false
}

// assessModules reports every known module, active when at least one indicative
// extractor succeeded.
func assessModules(result *extraction.Result) []ModuleStatus {
	out := make([]ModuleStatus, 0, len(moduleTable))
	for _, spec := range moduleTable {
		status := ModuleStatus{Module: spec.Module}
		for _, id := range spec.Indicators {
			summary, ok := result.Extractors[id]
			if !ok || summary.Status == extraction.StatusNotRun {
				continue
			}
			status.Attempted++
			if result.Succeeded(id) {
				status.Succeeded++
				status.EstimatedRecords += result.Results[id].RecordCount
			}
		}
		status.Active = status.Succeeded > 0
		if status.Attempted > 0 {
			status.Coverage = round2(float64(status.Succeeded) / float64(status.Attempted))
		}
		out = append(out, status)
	}
	return out
}

func filterModules(modules []ModuleStatus, opts Options) []ModuleStatus {
	include := upperSet(opts.IncludeModules)
	exclude := upperSet(opts.ExcludeModules)
	var out []ModuleStatus
	for _, m := range modules {
		if !m.Active {
			continue
		}
		if len(include) > 0 && !include[m.Module] {
			continue
		}
		if exclude[m.Module] {
			continue
		}
		out = append(out, m)
	}
	return out
}

func upperSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[strings.ToUpper(strings.TrimSpace(v))] = true
	}
	return set
}

func priorityOf(id string) int {
	if p, ok := priorityTable[id]; ok {
		return p
	}
	return defaultPriority
}

// estimateRecords sums the volume tables of id across succeeded extractors. The second
// result is false when no volume source is known for the object.
func estimateRecords(id string, result *extraction.Result) (int, bool) {
	refs, ok := volumeSources[id]
	if !ok {
		return 0, false
	}
	total := 0
	for _, ref := range refs {
		if out, ok := result.Results[ref.Extractor]; ok {
			total += out.TableCounts[ref.Table]
		}
	}
	return total, true
}

func estimateHours(id string, records int) float64 {
	c, ok := complexityTable[id]
	if !ok {
		c = defaultComplexity
	}
	return round2(c.Base + float64(records)/1000*c.PerThousand)
}

func effortOf(objects []PlanObject) Effort {
	e := Effort{ByBucket: map[string]float64{
		"configuration": 0,
		"masterData":    0,
		"transactional": 0,
		"interfaces":    0,
	}}
	for _, o := range objects {
		e.TotalHours += o.EstimatedHours
		e.ByBucket[bucketOf(o.Category)] += o.EstimatedHours
	}
	e.TotalHours = round2(e.TotalHours)
	for k, v := range e.ByBucket {
		e.ByBucket[k] = round2(v)
	}
	return e
}

func bucketOf(c migration.Category) string {
	switch c {
	case migration.CategoryConfiguration:
		return "configuration"
	case migration.CategoryTransactional:
		return "transactional"
	case migration.CategoryInterfaces:
		return "interfaces"
	}
	return "masterData"
}

func assessRisks(result *extraction.Result, plan *Plan) []Risk {
	risks := []Risk{}

	if result.Confidence.Overall < lowConfidenceThreshold {
		risks = append(risks, Risk{
			Level:       RiskHigh,
			Area:        "extraction",
			Description: fmt.Sprintf("Extraction confidence is %d%%", result.Confidence.Overall),
			Mitigation:  "Re-run extraction after resolving failed extractors before committing to the plan",
		})
	}

	if missing := len(result.GapReport.MissingCriticalTables); missing > 0 {
		level := RiskMedium
		if missing > manyMissingCritical {
			level = RiskHigh
		}
		risks = append(risks, Risk{
			Level:       level,
			Area:        "coverage",
			Description: fmt.Sprintf("%d critical tables were not extracted", missing),
			Mitigation:  "Extract the missing critical tables or confirm they are unused",
		})
	}

	if gaps := len(result.GapReport.Authorization); gaps > 0 {
		risks = append(risks, Risk{
			Level:       RiskMedium,
			Area:        "authorization",
			Description: fmt.Sprintf("%d tables could not be read for lack of authorization", gaps),
			Mitigation:  "Request read authorization for the extraction user and re-run the affected extractors",
		})
	}

	for _, o := range plan.Objects {
		if o.EstimatedRecords > highVolumeThreshold {
			risks = append(risks, Risk{
				Level:       RiskMedium,
				Area:        o.ObjectID,
				Description: fmt.Sprintf("%s holds about %d records", o.ObjectID, o.EstimatedRecords),
				Mitigation:  "Plan load windows and parallel batches; consider archiving closed items first",
			})
		}
	}

	if backlog := len(result.HumanValidation); backlog > validationBacklog {
		level := RiskLow
		if backlog > 3*validationBacklog {
			level = RiskMedium
		}
		risks = append(risks, Risk{
			Level:       level,
			Area:        "validation",
			Description: fmt.Sprintf("%d findings await human validation", backlog),
			Mitigation:  "Review the validation findings with the business owners before mapping sign-off",
		})
	}

	if len(plan.UnestimatedObjects) > 0 {
		risks = append(risks, Risk{
			Level:       RiskLow,
			Area:        "estimation",
			Description: fmt.Sprintf("No record estimate for %s", strings.Join(plan.UnestimatedObjects, ", ")),
			Mitigation:  "Profile source volumes for these objects",
		})
	}
	return risks
}

func recommend(plan *Plan) []string {
	recs := []string{}

	var profile []string
	var config []string
	inScope := make(map[string]bool, len(plan.Objects))
	for _, o := range plan.Objects {
		inScope[o.ObjectID] = true
		if o.Category == migration.CategoryMasterData && o.Priority >= 80 {
			profile = append(profile, o.ObjectID)
		}
		if o.Category == migration.CategoryConfiguration {
			config = append(config, o.ObjectID)
		}
	}
	sort.Strings(profile)
	sort.Strings(config)

	if len(profile) > 0 {
		recs = append(recs, "Run data profiling on high-priority master data: "+strings.Join(profile, ", "))
	}
	high := 0
	for _, r := range plan.Risks {
		if r.Level == RiskHigh {
			high++
		}
	}
	if high > 0 {
		recs = append(recs, fmt.Sprintf("Resolve %d high-risk items before the first trial load", high))
	}
	if len(config) > 0 {
		recs = append(recs, "Migrate configuration first: "+strings.Join(config, ", "))
	}
	if inScope["BUSINESS_PARTNER"] {
		recs = append(recs, "Run fuzzy duplicate detection on business partners before loading BUSINESS_PARTNER")
	}
	if len(plan.UnestimatedObjects) > 0 {
		recs = append(recs, "Profile record volumes for objects without an estimate: "+strings.Join(plan.UnestimatedObjects, ", "))
	}
	return recs
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
