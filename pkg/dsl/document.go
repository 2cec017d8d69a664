// Package dsl parses, validates and compiles migration documents. A
// document is a YAML mapping whose keys are instructions; each instruction
// holds a list of declarations. Validation runs to completion before any
// SQL is issued, so a rejected document reports every problem at once.
package dsl

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rdfkit/rdf/pkg/model"
)

// Instruction names as they appear as top-level document keys.
const (
	InstructionDefineEntities = "define entities"
	InstructionAddProjections = "add projections"
	InstructionAddChangeSet   = "add change set"
	InstructionAddHooks       = "add hooks"
)

// FieldDef declares one column of an entity version. The column type is an
// opaque string passed through to the DDL; the database validates it.
type FieldDef struct {
	Name string
	Type string
}

// EntityDef declares one entity version, its fields and its identifier
// tuple.
type EntityDef struct {
	Name         string
	Version      int
	Fields       []FieldDef
	IdentifiedBy []string
}

// DependencyDef names one entity version a projection depends on.
type DependencyDef struct {
	Entity  string
	Version int
}

// ProjectionDef declares one projection version and its dependencies.
type ProjectionDef struct {
	Name         string
	Version      int
	Dependencies []DependencyDef
}

// FrameDef declares the data frames of one entity version inside a change
// set. Each row of Data becomes its own frame.
type FrameDef struct {
	Entity  string
	Version int
	Action  model.FrameAction
	Data    []map[string]any
}

// ChangeSetDef declares one change set and its frames.
type ChangeSetDef struct {
	Effective   time.Time
	Description string
	Frames      []FrameDef
}

// HookDef declares one hook. A hook with no projection is a wildcard that
// fires for every projection.
type HookDef struct {
	Name       string
	Event      string
	Projection string
	Version    *int
}

// Document is one fully validated migration document.
type Document struct {
	DefineEntities []EntityDef
	AddProjections []ProjectionDef
	AddChangeSets  []ChangeSetDef
	AddHooks       []HookDef
}

// Problem is one validation failure, addressed by a JSON-pointer-like path
// into the document with instruction names snake-cased.
type Problem struct {
	Pointer string
	Message string
}

func (p Problem) String() string { return p.Pointer + " " + p.Message }

// ValidationError carries every problem found in a document.
type ValidationError struct {
	Problems []Problem
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		msgs[i] = p.String()
	}
	return "invalid document: " + strings.Join(msgs, "; ")
}

// Parse decodes and validates one migration document. The returned
// document is safe to compile; any structural problem yields a
// *ValidationError listing every failure.
func Parse(data []byte) (*Document, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	if raw == nil {
		return nil, &ValidationError{Problems: []Problem{{Pointer: "/", Message: "must contain at least one instruction"}}}
	}
	v := &validator{}
	doc := v.document(raw)
	if len(v.problems) > 0 {
		return nil, &ValidationError{Problems: v.problems}
	}
	return doc, nil
}
