package dsl

import (
	"fmt"
	"sort"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/rdfkit/rdf/pkg/model"
)

// validator walks the generically decoded YAML and accumulates problems.
// Every check records its failure and moves on, so one pass reports
// everything wrong with a document.
type validator struct {
	problems []Problem
}

func (v *validator) fail(pointer, format string, args ...any) {
	v.problems = append(v.problems, Problem{Pointer: pointer, Message: fmt.Sprintf(format, args...)})
}

func pointer(parts ...any) string {
	var b strings.Builder
	for _, p := range parts {
		b.WriteString("/")
		b.WriteString(fmt.Sprint(p))
	}
	return b.String()
}

func (v *validator) document(raw map[string]any) *Document {
	doc := &Document{}

	known := map[string]func(string, any){
		InstructionDefineEntities: func(ptr string, val any) { doc.DefineEntities = v.entities(ptr, val) },
		InstructionAddProjections: func(ptr string, val any) { doc.AddProjections = v.projections(ptr, val) },
		InstructionAddChangeSet:   func(ptr string, val any) { doc.AddChangeSets = v.changeSets(ptr, val) },
		InstructionAddHooks:       func(ptr string, val any) { doc.AddHooks = v.hooks(ptr, val) },
	}

	// Fixed instruction order keeps problem output stable regardless of
	// document key order.
	for _, name := range []string{InstructionDefineEntities, InstructionAddProjections, InstructionAddChangeSet, InstructionAddHooks} {
		if val, ok := raw[name]; ok {
			known[name](pointer(model.SnakeCase(name)), val)
		}
	}

	var unknown []string
	for key := range raw {
		if _, ok := known[key]; !ok {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)
	for _, key := range unknown {
		v.fail(pointer(model.SnakeCase(key)), "is not a recognised instruction")
	}
	return doc
}

func (v *validator) list(ptr string, val any) ([]any, bool) {
	items, ok := val.([]any)
	if !ok {
		v.fail(ptr, "must be an array")
		return nil, false
	}
	return items, true
}

func (v *validator) mapping(ptr string, val any) (map[string]any, bool) {
	m, ok := val.(map[string]any)
	if !ok {
		v.fail(ptr, "must be a mapping")
		return nil, false
	}
	return m, true
}

func (v *validator) requiredString(ptr string, m map[string]any, key string) (string, bool) {
	val, ok := m[key]
	if !ok {
		v.fail(ptr, "must have required property '%s'", key)
		return "", false
	}
	s, ok := val.(string)
	if !ok || s == "" {
		v.fail(ptr+"/"+key, "must be a non-empty string")
		return "", false
	}
	return s, true
}

func (v *validator) optionalString(ptr string, m map[string]any, key string) string {
	val, ok := m[key]
	if !ok {
		return ""
	}
	s, ok := val.(string)
	if !ok {
		v.fail(ptr+"/"+key, "must be a string")
		return ""
	}
	return s
}

func (v *validator) requiredInt(ptr string, m map[string]any, key string) (int, bool) {
	val, ok := m[key]
	if !ok {
		v.fail(ptr, "must have required property '%s'", key)
		return 0, false
	}
	n, ok := val.(int)
	if !ok || n < 1 {
		v.fail(ptr+"/"+key, "must be a positive integer")
		return 0, false
	}
	return n, true
}

func (v *validator) entities(ptr string, val any) []EntityDef {
	items, ok := v.list(ptr, val)
	if !ok {
		return nil
	}
	seen := mapset.NewThreadUnsafeSet[string]()
	defs := make([]EntityDef, 0, len(items))
	for i, item := range items {
		itemPtr := pointer(ptr[1:], i)
		m, ok := v.mapping(itemPtr, item)
		if !ok {
			continue
		}
		def := EntityDef{}
		def.Name, _ = v.requiredString(itemPtr, m, "name")
		def.Version, _ = v.requiredInt(itemPtr, m, "version")
		def.Fields = v.fields(itemPtr, m)
		def.IdentifiedBy = v.identifiedBy(itemPtr, m, def.Fields)
		if def.Name != "" && def.Version > 0 {
			key := fmt.Sprintf("%s/%d", model.SnakeCase(def.Name), def.Version)
			if !seen.Add(key) {
				v.fail(itemPtr, "duplicates entity '%s' version %d", def.Name, def.Version)
			}
		}
		defs = append(defs, def)
	}
	return defs
}

func (v *validator) fields(itemPtr string, m map[string]any) []FieldDef {
	val, ok := m["fields"]
	if !ok {
		v.fail(itemPtr, "must have required property 'fields'")
		return nil
	}
	items, ok := val.([]any)
	if !ok || len(items) == 0 {
		v.fail(itemPtr+"/fields", "must be a non-empty array")
		return nil
	}
	seen := mapset.NewThreadUnsafeSet[string]()
	defs := make([]FieldDef, 0, len(items))
	for i, item := range items {
		fieldPtr := fmt.Sprintf("%s/fields/%d", itemPtr, i)
		fm, ok := v.mapping(fieldPtr, item)
		if !ok {
			continue
		}
		def := FieldDef{}
		def.Name, _ = v.requiredString(fieldPtr, fm, "name")
		def.Type, _ = v.requiredString(fieldPtr, fm, "type")
		if def.Name != "" && !seen.Add(def.Name) {
			v.fail(fieldPtr, "duplicates field '%s'", def.Name)
		}
		defs = append(defs, def)
	}
	return defs
}

func (v *validator) identifiedBy(itemPtr string, m map[string]any, fields []FieldDef) []string {
	val, ok := m["identified_by"]
	if !ok {
		v.fail(itemPtr, "must have required property 'identified_by'")
		return nil
	}
	items, ok := val.([]any)
	if !ok || len(items) == 0 {
		v.fail(itemPtr+"/identified_by", "must be a non-empty array")
		return nil
	}
	declared := mapset.NewThreadUnsafeSet[string]()
	for _, f := range fields {
		declared.Add(f.Name)
	}
	names := make([]string, 0, len(items))
	for i, item := range items {
		name, ok := item.(string)
		if !ok || name == "" {
			v.fail(fmt.Sprintf("%s/identified_by/%d", itemPtr, i), "must be a non-empty string")
			continue
		}
		if !declared.Contains(name) {
			v.fail(fmt.Sprintf("%s/identified_by/%d", itemPtr, i), "must name a declared field, got '%s'", name)
			continue
		}
		names = append(names, name)
	}
	return names
}

func (v *validator) projections(ptr string, val any) []ProjectionDef {
	items, ok := v.list(ptr, val)
	if !ok {
		return nil
	}
	defs := make([]ProjectionDef, 0, len(items))
	for i, item := range items {
		itemPtr := pointer(ptr[1:], i)
		m, ok := v.mapping(itemPtr, item)
		if !ok {
			continue
		}
		def := ProjectionDef{}
		def.Name, _ = v.requiredString(itemPtr, m, "name")
		def.Version, _ = v.requiredInt(itemPtr, m, "version")
		def.Dependencies = v.dependencies(itemPtr, m)
		defs = append(defs, def)
	}
	return defs
}

func (v *validator) dependencies(itemPtr string, m map[string]any) []DependencyDef {
	val, ok := m["dependencies"]
	if !ok {
		v.fail(itemPtr, "must have required property 'dependencies'")
		return nil
	}
	items, ok := val.([]any)
	if !ok || len(items) == 0 {
		v.fail(itemPtr+"/dependencies", "must be a non-empty array")
		return nil
	}
	defs := make([]DependencyDef, 0, len(items))
	for i, item := range items {
		depPtr := fmt.Sprintf("%s/dependencies/%d", itemPtr, i)
		dm, ok := v.mapping(depPtr, item)
		if !ok {
			continue
		}
		def := DependencyDef{}
		def.Entity, _ = v.requiredString(depPtr, dm, "entity")
		def.Version, _ = v.requiredInt(depPtr, dm, "version")
		defs = append(defs, def)
	}
	return defs
}

func (v *validator) changeSets(ptr string, val any) []ChangeSetDef {
	items, ok := v.list(ptr, val)
	if !ok {
		return nil
	}
	defs := make([]ChangeSetDef, 0, len(items))
	for i, item := range items {
		itemPtr := pointer(ptr[1:], i)
		m, ok := v.mapping(itemPtr, item)
		if !ok {
			continue
		}
		def := ChangeSetDef{}
		def.Effective = v.effective(itemPtr, m)
		def.Description = v.optionalString(itemPtr, m, "description")
		def.Frames = v.frames(itemPtr, m)
		defs = append(defs, def)
	}
	return defs
}

func (v *validator) effective(itemPtr string, m map[string]any) time.Time {
	val, ok := m["effective"]
	if !ok {
		v.fail(itemPtr, "must have required property 'effective'")
		return time.Time{}
	}
	switch t := val.(type) {
	case time.Time:
		return t
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			v.fail(itemPtr+"/effective", "must be an RFC 3339 timestamp")
			return time.Time{}
		}
		return parsed
	default:
		v.fail(itemPtr+"/effective", "must be an RFC 3339 timestamp")
		return time.Time{}
	}
}

func (v *validator) frames(itemPtr string, m map[string]any) []FrameDef {
	val, ok := m["frames"]
	if !ok {
		v.fail(itemPtr, "must have required property 'frames'")
		return nil
	}
	items, ok := val.([]any)
	if !ok || len(items) == 0 {
		v.fail(itemPtr+"/frames", "must be a non-empty array")
		return nil
	}
	defs := make([]FrameDef, 0, len(items))
	for i, item := range items {
		framePtr := fmt.Sprintf("%s/frames/%d", itemPtr, i)
		fm, ok := v.mapping(framePtr, item)
		if !ok {
			continue
		}
		def := FrameDef{}
		def.Entity, _ = v.requiredString(framePtr, fm, "entity")
		def.Version, _ = v.requiredInt(framePtr, fm, "version")
		def.Action = v.action(framePtr, fm)
		def.Data = v.frameData(framePtr, fm)
		defs = append(defs, def)
	}
	return defs
}

func (v *validator) action(framePtr string, m map[string]any) model.FrameAction {
	val, ok := m["action"]
	if !ok {
		v.fail(framePtr, "must have required property 'action'")
		return ""
	}
	s, _ := val.(string)
	action := model.FrameAction(s)
	if action != model.ActionPost && action != model.ActionDelete {
		v.fail(framePtr+"/action", "must be equal to one of the allowed values %s, %s", model.ActionPost, model.ActionDelete)
		return ""
	}
	return action
}

func (v *validator) frameData(framePtr string, m map[string]any) []map[string]any {
	val, ok := m["data"]
	if !ok {
		v.fail(framePtr, "must have required property 'data'")
		return nil
	}
	items, ok := val.([]any)
	if !ok || len(items) == 0 {
		v.fail(framePtr+"/data", "must be a non-empty array")
		return nil
	}
	rows := make([]map[string]any, 0, len(items))
	for i, item := range items {
		rowPtr := fmt.Sprintf("%s/data/%d", framePtr, i)
		row, ok := v.mapping(rowPtr, item)
		if !ok {
			continue
		}
		if len(row) == 0 {
			v.fail(rowPtr, "must not be empty")
			continue
		}
		rows = append(rows, row)
	}
	return rows
}

func (v *validator) hooks(ptr string, val any) []HookDef {
	items, ok := v.list(ptr, val)
	if !ok {
		return nil
	}
	defs := make([]HookDef, 0, len(items))
	for i, item := range items {
		itemPtr := pointer(ptr[1:], i)
		m, ok := v.mapping(itemPtr, item)
		if !ok {
			continue
		}
		def := HookDef{}
		def.Name, _ = v.requiredString(itemPtr, m, "name")
		def.Event, _ = v.requiredString(itemPtr, m, "event")
		def.Projection = v.optionalString(itemPtr, m, "projection")
		if def.Projection != "" {
			version, ok := v.requiredInt(itemPtr, m, "version")
			if ok {
				def.Version = &version
			}
		} else if _, ok := m["version"]; ok {
			v.fail(itemPtr+"/version", "must not be set without a projection")
		}
		defs = append(defs, def)
	}
	return defs
}
