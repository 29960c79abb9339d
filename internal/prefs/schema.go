package prefs

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"git.home.luguber.info/inful/prefsd/internal/value"
)

// Schema is a compiled JSON schema describing the expected shape of a value.
type Schema struct {
	source   string
	compiled *jsonschema.Schema
}

// CompileSchema compiles a JSON schema document. name only identifies the resource.
func CompileSchema(name, src string) (*Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("parse schema %s: %w", name, err)
	}
	url := "mem://prefsd/" + name + ".json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema %s: %w", name, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return &Schema{source: src, compiled: compiled}, nil
}

// MustCompileSchema is CompileSchema for static schemas.
func MustCompileSchema(name, src string) *Schema {
	s, err := CompileSchema(name, src)
	if err != nil {
		panic(err)
	}
	return s
}

// Check validates v against the schema. A nil schema accepts everything.
func (s *Schema) Check(v value.Value) error {
	if s == nil {
		return nil
	}
	return s.compiled.Validate(v.ToAny())
}

func (s *Schema) String() string {
	if s == nil {
		return ""
	}
	return s.source
}
