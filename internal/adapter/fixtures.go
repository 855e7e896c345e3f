package adapter

import (
	"embed"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"erpmigrate/pkg/errors"
)

//go:embed fixtures/*.yaml
var builtinFixtures embed.FS

var fixtureFiles = map[SourceSystem]string{
	SystemLN:     "fixtures/ln.yaml",
	SystemM3:     "fixtures/m3.yaml",
	SystemCSI:    "fixtures/csi.yaml",
	SystemLawson: "fixtures/lawson.yaml",
	SystemSAP:    "fixtures/sap.yaml",
}

// TableFixture describes the rows served for one table or entity in mock mode. Rows are
// served first, followed by Count rows generated from Template. A string template value
// may reference the 1-based row number as {n} or zero-padded as {n:W}; a list value
// cycles through its elements. Error makes every read fail with that message.
type TableFixture struct {
	Rows     []Record               `yaml:"rows"`
	Count    int                    `yaml:"count"`
	Template map[string]interface{} `yaml:"template"`
	Error    string                 `yaml:"error"`
}

type FixtureSet struct {
	System     SourceSystem            `yaml:"-"`
	Version    string                  `yaml:"version"`
	Tables     map[string]TableFixture `yaml:"tables"`
	Entities   map[string]TableFixture `yaml:"entities"`
	SystemInfo map[string]interface{}  `yaml:"systemInfo"`

	rows map[string][]Record
}

// NewFixtureSet returns the built-in fixtures for system, or an empty set when none ship.
func NewFixtureSet(system SourceSystem) *FixtureSet {
	if fs, err := LoadFixtures(system); err == nil {
		return fs
	}
	return &FixtureSet{System: system, Tables: map[string]TableFixture{}, Entities: map[string]TableFixture{}}
}

func LoadFixtures(system SourceSystem) (*FixtureSet, error) {
	name, ok := fixtureFiles[system]
	if !ok {
		return nil, errors.ErrConfiguration.Newf("no fixtures for source system %s", system)
	}
	data, err := builtinFixtures.ReadFile(name)
	if err != nil {
		return nil, errors.ErrConfiguration.Newf("failed to read fixtures %s", name).WithCause(err)
	}
	return ParseFixtures(system, data)
}

// LoadFixtureFile reads a fixture document from disk, e.g. a customer-provided snapshot.
func LoadFixtureFile(system SourceSystem, path string) (*FixtureSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.ErrConfiguration.Newf("failed to read fixtures %s", path).WithCause(err)
	}
	return ParseFixtures(system, data)
}

func ParseFixtures(system SourceSystem, data []byte) (*FixtureSet, error) {
	var fs FixtureSet
	if err := yaml.Unmarshal(data, &fs); err != nil {
		return nil, errors.ErrConfiguration.New("invalid fixture document").WithCause(err)
	}
	fs.System = system
	fs.Tables = normalizeKeys(fs.Tables)
	fs.Entities = normalizeKeys(fs.Entities)
	fs.rows = make(map[string][]Record, len(fs.Tables)+len(fs.Entities))
	for name, tf := range fs.Tables {
		fs.rows["table:"+name] = tf.materialize()
	}
	for name, tf := range fs.Entities {
		fs.rows["entity:"+name] = tf.materialize()
	}
	return &fs, nil
}

func normalizeKeys(in map[string]TableFixture) map[string]TableFixture {
	out := make(map[string]TableFixture, len(in))
	for k, v := range in {
		out[strings.ToLower(k)] = v
	}
	return out
}

// RowCount is the number of rows a full read of table returns, or -1 when the table has
// no fixture or is configured to fail.
func (fs *FixtureSet) RowCount(table string) int {
	tf, ok := fs.Tables[strings.ToLower(table)]
	if !ok || tf.Error != "" {
		return -1
	}
	return len(fs.rows["table:"+strings.ToLower(table)])
}

func (fs *FixtureSet) Table(table string, opts ReadOptions) ([]Record, error) {
	key := strings.ToLower(table)
	tf, ok := fs.Tables[key]
	if !ok {
		return nil, errors.ErrTableRead.Newf("no fixture data for table %s", table).
			WithDetail("table", table).
			WithDetail("mock", true)
	}
	if tf.Error != "" {
		return nil, errors.ErrTableRead.New(tf.Error).
			WithDetail("table", table).
			WithDetail("mock", true)
	}
	return selectRows(fs.rows["table:"+key], opts.Filters, opts.Fields, opts.Offset, opts.MaxRows), nil
}

func (fs *FixtureSet) Entity(entity string, q Query) ([]Record, error) {
	key := strings.ToLower(entity)
	tf, ok := fs.Entities[key]
	if !ok {
		return nil, errors.ErrExtraction.Newf("no fixture data for entity %s", entity).
			WithDetail("entity", entity).
			WithDetail("mock", true)
	}
	if tf.Error != "" {
		return nil, errors.ErrExtraction.New(tf.Error).WithDetail("entity", entity).WithDetail("mock", true)
	}
	return selectRows(fs.rows["entity:"+key], q.Filters, q.Select, q.Skip, q.Top), nil
}

func selectRows(rows []Record, filters []Filter, fields []string, offset, limit int) []Record {
	out := make([]Record, 0, len(rows))
	skipped := 0
	for _, row := range rows {
		if !Matches(row, filters) {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		out = append(out, project(row, fields))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func project(row Record, fields []string) Record {
	if len(fields) == 0 {
		out := make(Record, len(row))
		for k, v := range row {
			out[k] = v
		}
		return out
	}
	out := make(Record, len(fields))
	for _, f := range fields {
		if v, ok := row[f]; ok {
			out[f] = v
		}
	}
	return out
}

var placeholder = regexp.MustCompile(`\{n(?::(\d+))?\}`)

func (tf TableFixture) materialize() []Record {
	rows := make([]Record, 0, len(tf.Rows)+tf.Count)
	rows = append(rows, tf.Rows...)
	for n := 1; n <= tf.Count; n++ {
		row := make(Record, len(tf.Template))
		for field, tmpl := range tf.Template {
			row[field] = expand(tmpl, n)
		}
		rows = append(rows, row)
	}
	return rows
}

func expand(tmpl interface{}, n int) interface{} {
	switch t := tmpl.(type) {
	case []interface{}:
		if len(t) == 0 {
			return nil
		}
		return expand(t[(n-1)%len(t)], n)
	case string:
		if t == "{n}" {
			return n
		}
		return placeholder.ReplaceAllStringFunc(t, func(m string) string {
			sub := placeholder.FindStringSubmatch(m)
			if sub[1] == "" {
				return strconv.Itoa(n)
			}
			width, _ := strconv.Atoi(sub[1])
			return fmt.Sprintf("%0*d", width, n)
		})
	}
	return tmpl
}
