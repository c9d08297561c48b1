package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	syncerrors "github.com/semweb/searchsync/internal/errors"
)

// PathHop is one predicate in a property path. Inverse hops are written
// with a "^" prefix in the config ("^http://example.org/authored").
type PathHop struct {
	Predicate string
	Inverse   bool
}

// PropertyPath is an ordered sequence of predicates connecting the indexed
// root entity to a leaf value. Hops are "/"-joined in the config.
type PropertyPath []PathHop

// ParsePath parses a "/"-joined predicate path.
func ParsePath(raw string) (PropertyPath, error) {
	if raw == "" {
		return nil, fmt.Errorf("empty property path")
	}
	parts := strings.Split(raw, "/")
	// IRIs contain slashes, so a split hop that does not look like the
	// start of an IRI is glued back onto the previous one.
	var joined []string
	for _, p := range parts {
		if len(joined) > 0 && !strings.Contains(p, ":") {
			joined[len(joined)-1] += "/" + p
			continue
		}
		joined = append(joined, p)
	}
	path := make(PropertyPath, 0, len(joined))
	for _, hop := range joined {
		inverse := strings.HasPrefix(hop, "^")
		pred := strings.TrimPrefix(hop, "^")
		if pred == "" {
			return nil, fmt.Errorf("empty predicate in path %q", raw)
		}
		path = append(path, PathHop{Predicate: pred, Inverse: inverse})
	}
	return path, nil
}

// String renders the path back in config syntax.
func (p PropertyPath) String() string {
	hops := make([]string, len(p))
	for i, h := range p {
		if h.Inverse {
			hops[i] = "^" + h.Predicate
		} else {
			hops[i] = h.Predicate
		}
	}
	return strings.Join(hops, "/")
}

// NestedDefinition describes a nested-object property: related resources
// materialized as sub-documents with their own property schema.
type NestedDefinition struct {
	RDFType    string                        `yaml:"rdf_type"`
	Properties map[string]PropertyDefinition `yaml:"properties"`
}

// PropertyDefinition maps one output field to a predicate path, optionally
// carrying a nested-object schema or an attachment flag. In YAML a property
// is either a bare path string or a mapping:
//
//	title: http://purl.org/dc/terms/title
//	data:
//	  path: http://example.org/fileDataObject
//	  attachment: true
//	author:
//	  path: ^http://example.org/authored
//	  nested:
//	    rdf_type: http://xmlns.com/foaf/0.1/Person
//	    properties:
//	      name: http://xmlns.com/foaf/0.1/name
type PropertyDefinition struct {
	Path       PropertyPath
	Nested     *NestedDefinition
	Attachment bool
}

// propertyYAML is the mapping form of a property definition.
type propertyYAML struct {
	Path       string            `yaml:"path"`
	Nested     *NestedDefinition `yaml:"nested"`
	Attachment bool              `yaml:"attachment"`
}

// UnmarshalYAML accepts both the scalar and the mapping form.
func (p *PropertyDefinition) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		path, err := ParsePath(node.Value)
		if err != nil {
			return err
		}
		p.Path = path
		return nil
	}

	var raw propertyYAML
	if err := node.Decode(&raw); err != nil {
		return err
	}
	path, err := ParsePath(raw.Path)
	if err != nil {
		return err
	}
	p.Path = path
	p.Nested = raw.Nested
	p.Attachment = raw.Attachment
	return nil
}

// CompositePart is one constituent of a composite type. Properties renames
// output fields to the constituent's own property names; fields absent from
// the map keep their name.
type CompositePart struct {
	Type       string            `yaml:"type"`
	Properties map[string]string `yaml:"properties"`
}

// TypeDefinition is the static schema of one search type.
type TypeDefinition struct {
	Name       string                        `yaml:"name"`
	RDFType    string                        `yaml:"rdf_type"`
	Properties map[string]PropertyDefinition `yaml:"properties"`
	// ComposedOf marks the type composite; Properties and RDFType are then
	// unused and the constituents' schemas apply.
	ComposedOf []CompositePart `yaml:"composed_of"`
	// Mappings and Settings are passed through to the search engine when
	// the physical index is created.
	Mappings map[string]any `yaml:"mappings"`
	Settings map[string]any `yaml:"settings"`
}

// IsComposite reports whether the type merges several underlying types.
func (t *TypeDefinition) IsComposite() bool {
	return len(t.ComposedOf) > 0
}

// TypeConfig is the loaded type-definition config.
type TypeConfig struct {
	Types []TypeDefinition `yaml:"types"`

	byName map[string]*TypeDefinition
}

// LoadTypes reads and validates the type-definition file.
func LoadTypes(path string) (*TypeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, syncerrors.New(syncerrors.ErrCodeConfigNotFound,
			fmt.Sprintf("types file not found: %s", path), err)
	}
	return ParseTypes(data)
}

// ParseTypes parses and validates type definitions from YAML.
func ParseTypes(data []byte) (*TypeConfig, error) {
	var tc TypeConfig
	if err := yaml.Unmarshal(data, &tc); err != nil {
		return nil, syncerrors.ConfigError("cannot parse type definitions", err)
	}
	if err := tc.index(); err != nil {
		return nil, err
	}
	return &tc, nil
}

// index builds the name lookup and validates cross-references.
func (tc *TypeConfig) index() error {
	tc.byName = make(map[string]*TypeDefinition, len(tc.Types))
	for i := range tc.Types {
		t := &tc.Types[i]
		if t.Name == "" {
			return syncerrors.ConfigError("type definition without a name", nil)
		}
		if _, dup := tc.byName[t.Name]; dup {
			return syncerrors.ConfigError(
				fmt.Sprintf("duplicate type definition %q", t.Name), nil)
		}
		tc.byName[t.Name] = t

		if t.IsComposite() {
			continue
		}
		if t.RDFType == "" {
			return syncerrors.ConfigError(
				fmt.Sprintf("type %q has no rdf_type", t.Name), nil)
		}
	}

	// Composite constituents must exist and be simple.
	for _, t := range tc.Types {
		for _, part := range t.ComposedOf {
			sub, ok := tc.byName[part.Type]
			if !ok {
				return syncerrors.New(syncerrors.ErrCodeUnknownType,
					fmt.Sprintf("composite type %q references unknown type %q", t.Name, part.Type), nil)
			}
			if sub.IsComposite() {
				return syncerrors.ConfigError(
					fmt.Sprintf("composite type %q cannot nest composite %q", t.Name, part.Type), nil)
			}
			for field, source := range part.Properties {
				if _, ok := sub.Properties[source]; !ok {
					return syncerrors.New(syncerrors.ErrCodeCompositeMismatch,
						fmt.Sprintf("composite %q maps field %q to missing property %q of type %q",
							t.Name, field, source, part.Type), nil)
				}
			}
		}
	}
	return nil
}

// Get returns the type definition by name.
func (tc *TypeConfig) Get(name string) (*TypeDefinition, bool) {
	t, ok := tc.byName[name]
	return t, ok
}

// Names returns all configured type names in declaration order.
func (tc *TypeConfig) Names() []string {
	names := make([]string, 0, len(tc.Types))
	for i := range tc.Types {
		names = append(names, tc.Types[i].Name)
	}
	return names
}

// ConstituentSchema is one simple type contributing to an index, with its
// output fields remapped for the composite case.
type ConstituentSchema struct {
	TypeName   string
	RDFType    string
	Properties map[string]PropertyDefinition
}

// Expand resolves a type into the simple schemas to index. A simple type
// expands to itself; a composite expands to one schema per constituent with
// each output field remapped to the constituent's predicate.
func (tc *TypeConfig) Expand(t *TypeDefinition) ([]ConstituentSchema, error) {
	if !t.IsComposite() {
		return []ConstituentSchema{{
			TypeName:   t.Name,
			RDFType:    t.RDFType,
			Properties: t.Properties,
		}}, nil
	}

	out := make([]ConstituentSchema, 0, len(t.ComposedOf))
	for _, part := range t.ComposedOf {
		sub, ok := tc.byName[part.Type]
		if !ok {
			return nil, syncerrors.New(syncerrors.ErrCodeUnknownType,
				fmt.Sprintf("unknown constituent type %q", part.Type), nil)
		}

		props := make(map[string]PropertyDefinition)
		if len(part.Properties) > 0 {
			for field, source := range part.Properties {
				def, ok := sub.Properties[source]
				if !ok {
					return nil, syncerrors.New(syncerrors.ErrCodeCompositeMismatch,
						fmt.Sprintf("constituent %q has no property %q", part.Type, source), nil)
				}
				props[field] = def
			}
		} else {
			for field, def := range sub.Properties {
				props[field] = def
			}
		}

		out = append(out, ConstituentSchema{
			TypeName:   sub.Name,
			RDFType:    sub.RDFType,
			Properties: props,
		})
	}
	return out, nil
}

// AttachmentFields returns all output fields of the type (expanded for
// composites) that carry an attachment pipeline. These are excluded from
// search result payloads.
func (tc *TypeConfig) AttachmentFields(t *TypeDefinition) []string {
	schemas, err := tc.Expand(t)
	if err != nil {
		return nil
	}
	seen := make(map[string]struct{})
	var fields []string
	for _, s := range schemas {
		for field, def := range s.Properties {
			if !def.Attachment {
				continue
			}
			if _, dup := seen[field]; dup {
				continue
			}
			seen[field] = struct{}{}
			fields = append(fields, field)
		}
	}
	return fields
}
