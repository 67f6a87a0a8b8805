package config

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"presupuesto/internal/core"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Source kinds understood by the sources factory.
const (
	KindHTTP   = "http"
	KindSheets = "sheets"
)

// Catalog is the declarative description of where the budget data lives and
// how its columns and line items are recognised. Adding a fiscal year or a new
// header spelling is an edit here, not in code.
type Catalog struct {
	Version         int                `yaml:"version"`
	FiscalYear      int                `yaml:"fiscal_year"`
	PriorFiscalYear int                `yaml:"prior_fiscal_year"`
	Schema          []FieldSpec        `yaml:"schema"`
	Classification  ClassificationSpec `yaml:"classification"`
	Budget          []SourceDescriptor `yaml:"budget"`
	Mobility        MobilitySources    `yaml:"mobility"`
}

type FieldSpec struct {
	Field     string   `yaml:"field"`
	Spellings []string `yaml:"spellings"`
}

type ClassificationSpec struct {
	TravelConceptPrefix    string   `yaml:"travel_concept_prefix"`
	FuelConceptPrefix      string   `yaml:"fuel_concept_prefix"`
	FlightLineItemPrefixes []string `yaml:"flight_line_item_prefixes"`
}

// MobilitySources lists the ordered candidates for each fiscal year of the
// cross-year pipeline.
type MobilitySources struct {
	Current []SourceDescriptor `yaml:"current"`
	Prior   []SourceDescriptor `yaml:"prior"`
}

// SourceDescriptor locates one candidate dataset.
type SourceDescriptor struct {
	Name string `yaml:"name"`
	Kind string `yaml:"kind"`

	// http
	URL      string `yaml:"url,omitempty"`
	Encoding string `yaml:"encoding,omitempty"`

	// sheets
	SpreadsheetID string `yaml:"spreadsheet_id,omitempty"`
	Range         string `yaml:"range,omitempty"`
}

// Location returns the identity of the dataset, used for cache keys.
func (d SourceDescriptor) Location() string {
	if d.Kind == KindSheets {
		return "sheets://" + d.SpreadsheetID + "/" + d.Range
	}
	return d.URL
}

// LoadCatalog reads the catalog at path, or the embedded default when path is
// empty.
func LoadCatalog(path string) (*Catalog, error) {
	data := defaultCatalog
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read catalog: %w", err)
		}
		data = b
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates a YAML catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if c.PriorFiscalYear == 0 && c.FiscalYear != 0 {
		c.PriorFiscalYear = c.FiscalYear - 1
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks the catalog for missing or contradictory entries.
func (c *Catalog) Validate() error {
	var errors []string

	if c.FiscalYear < 2000 || c.FiscalYear > 2100 {
		errors = append(errors, fmt.Sprintf("invalid fiscal year %d", c.FiscalYear))
	}
	if c.PriorFiscalYear >= c.FiscalYear {
		errors = append(errors, fmt.Sprintf("prior fiscal year %d must precede fiscal year %d", c.PriorFiscalYear, c.FiscalYear))
	}

	known := map[string]bool{}
	for _, f := range c.Schema {
		if len(f.Spellings) == 0 {
			errors = append(errors, fmt.Sprintf("schema field '%s' has no spellings", f.Field))
		}
		if known[f.Field] {
			errors = append(errors, fmt.Sprintf("schema field '%s' is declared twice", f.Field))
		}
		known[f.Field] = true
	}
	for _, f := range core.MandatoryFields {
		if !known[f.String()] {
			errors = append(errors, fmt.Sprintf("schema is missing mandatory field '%s'", f))
		}
	}

	cl := c.Classification
	if cl.TravelConceptPrefix == "" || cl.FuelConceptPrefix == "" {
		errors = append(errors, "classification needs both travel and fuel concept prefixes")
	}
	if len(cl.FlightLineItemPrefixes) == 0 {
		errors = append(errors, "classification needs at least one flight line-item prefix")
	}

	names := map[string]bool{}
	check := func(group string, ds []SourceDescriptor) {
		for i, d := range ds {
			if d.Name == "" {
				errors = append(errors, fmt.Sprintf("%s source #%d has no name", group, i+1))
			} else if names[d.Name] {
				errors = append(errors, fmt.Sprintf("source name '%s' is used twice", d.Name))
			}
			names[d.Name] = true

			switch d.Kind {
			case KindHTTP:
				if !strings.HasPrefix(d.URL, "http://") && !strings.HasPrefix(d.URL, "https://") {
					errors = append(errors, fmt.Sprintf("source '%s' needs an http(s) url", d.Name))
				}
			case KindSheets:
				if d.SpreadsheetID == "" || d.Range == "" {
					errors = append(errors, fmt.Sprintf("source '%s' needs spreadsheet_id and range", d.Name))
				}
			default:
				errors = append(errors, fmt.Sprintf("source '%s' has unknown kind '%s'", d.Name, d.Kind))
			}
		}
	}
	check("budget", c.Budget)
	check("mobility current", c.Mobility.Current)
	check("mobility prior", c.Mobility.Prior)

	if len(errors) > 0 {
		return fmt.Errorf("catalog validation failed:\n- %s", strings.Join(errors, "\n- "))
	}
	return nil
}

// SchemaTable converts the schema section into the resolver's table.
func (c *Catalog) SchemaTable() core.SchemaTable {
	t := make(core.SchemaTable, 0, len(c.Schema))
	for _, f := range c.Schema {
		t = append(t, core.FieldSpellings{
			Field:     core.Field(f.Field),
			Spellings: append([]string(nil), f.Spellings...),
		})
	}
	return t
}

// Source looks a descriptor up by name across every group.
func (c *Catalog) Source(name string) (SourceDescriptor, bool) {
	for _, d := range c.AllSources() {
		if d.Name == name {
			return d, true
		}
	}
	return SourceDescriptor{}, false
}

// AllSources returns every descriptor in catalog order.
func (c *Catalog) AllSources() []SourceDescriptor {
	out := make([]SourceDescriptor, 0, len(c.Budget)+len(c.Mobility.Current)+len(c.Mobility.Prior))
	out = append(out, c.Budget...)
	out = append(out, c.Mobility.Current...)
	out = append(out, c.Mobility.Prior...)
	return out
}
