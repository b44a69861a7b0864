package stackloader

import (
	"encoding/json"
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	"k8s.io/utils/ptr"
)

// JSONSchemaDraft is the dialect of documents produced by JSONSchema
const JSONSchemaDraft = "http://json-schema.org/draft-07/schema#"

// JSONSchema converts the stack schema into a JSON Schema document that
// editors can use to complete and check configuration files
func (l *Loader) JSONSchema() (*apiextensionsv1.JSONSchemaProps, error) {
	def, err := l.Schema()
	if err != nil {
		return nil, err
	}

	props, err := toJSONSchema(def)
	if err != nil {
		return nil, fmt.Errorf("failed to convert stack schema: %w", err)
	}
	props.Schema = apiextensionsv1.JSONSchemaURL(JSONSchemaDraft)
	props.Title = "HasuraStack"
	return props, nil
}

func toJSONSchema(v cue.Value) (*apiextensionsv1.JSONSchemaProps, error) {
	if err := v.Err(); err != nil {
		return nil, err
	}

	var props *apiextensionsv1.JSONSchemaProps
	if op, args := v.Expr(); op == cue.OrOp && len(args) > 0 {
		props = disjunctionSchema(args)
	} else {
		props = &apiextensionsv1.JSONSchemaProps{}
		if err := kindSchema(v, props); err != nil {
			return nil, err
		}
	}

	if def, ok := v.Default(); ok && def.IsConcrete() && def.Err() == nil {
		if raw, err := def.MarshalJSON(); err == nil {
			props.Default = &apiextensionsv1.JSON{Raw: raw}
		}
	}

	var docs []string
	for _, doc := range v.Doc() {
		if text := strings.TrimSpace(doc.Text()); text != "" {
			docs = append(docs, text)
		}
	}
	props.Description = strings.Join(docs, "\n")
	return props, nil
}

func kindSchema(v cue.Value, props *apiextensionsv1.JSONSchemaProps) error {
	kind := v.IncompleteKind()
	switch {
	case kind == cue.BottomKind:
		return fmt.Errorf("unsatisfiable value at %s", v.Path())
	case kind == cue.NullKind:
		props.Type = "null"
	case kind == cue.BoolKind:
		props.Type = "boolean"
	case kind == cue.IntKind:
		props.Type = "integer"
		applyConstraints(v, props)
	case kind == cue.StringKind:
		props.Type = "string"
		applyConstraints(v, props)
	case kind&cue.NumberKind != 0 && kind&^cue.NumberKind == 0:
		props.Type = "number"
		applyConstraints(v, props)
	case kind == cue.ListKind:
		props.Type = "array"
		return listSchema(v, props)
	case kind == cue.StructKind:
		props.Type = "object"
		return structSchema(v, props)
	default:
		props.XPreserveUnknownFields = ptr.To(true)
	}
	return nil
}

// applyConstraints copies bounds and patterns from a conjunction such as
// int & >=1 & <=65535 or =~"^vpc-"
func applyConstraints(v cue.Value, props *apiextensionsv1.JSONSchemaProps) {
	op, args := v.Expr()
	if op == cue.AndOp {
		for _, arg := range args {
			applyConstraints(arg, props)
		}
		return
	}
	if len(args) != 1 {
		return
	}

	switch op {
	case cue.GreaterThanEqualOp, cue.GreaterThanOp:
		if f, err := args[0].Float64(); err == nil {
			props.Minimum = &f
			props.ExclusiveMinimum = op == cue.GreaterThanOp
		}
	case cue.LessThanEqualOp, cue.LessThanOp:
		if f, err := args[0].Float64(); err == nil {
			props.Maximum = &f
			props.ExclusiveMaximum = op == cue.LessThanOp
		}
	case cue.RegexMatchOp:
		if s, err := args[0].String(); err == nil {
			props.Pattern = s
		}
	case cue.NotEqualOp:
		if s, err := args[0].String(); err == nil && s == "" {
			props.MinLength = ptr.To(int64(1))
		}
	}
}

func listSchema(v cue.Value, props *apiextensionsv1.JSONSchemaProps) error {
	elem := v.LookupPath(cue.MakePath(cue.AnyIndex))
	if !elem.Exists() {
		props.Items = &apiextensionsv1.JSONSchemaPropsOrArray{
			Schema: &apiextensionsv1.JSONSchemaProps{XPreserveUnknownFields: ptr.To(true)},
		}
		return nil
	}
	items, err := toJSONSchema(elem)
	if err != nil {
		return fmt.Errorf("list element: %w", err)
	}
	props.Items = &apiextensionsv1.JSONSchemaPropsOrArray{Schema: items}
	return nil
}

func structSchema(v cue.Value, props *apiextensionsv1.JSONSchemaProps) error {
	iter, err := v.Fields(cue.Optional(true))
	if err != nil {
		return fmt.Errorf("failed to iterate fields of %s: %w", v.Path(), err)
	}

	props.Properties = make(map[string]apiextensionsv1.JSONSchemaProps)
	for iter.Next() {
		sel := iter.Selector()
		if sel.IsDefinition() || strings.HasPrefix(sel.String(), "_") {
			continue
		}
		name := strings.TrimSuffix(sel.String(), "?")

		field, err := toJSONSchema(iter.Value())
		if err != nil {
			return fmt.Errorf("field %s: %w", name, err)
		}
		props.Properties[name] = *field
		if !iter.IsOptional() {
			props.Required = append(props.Required, name)
		}
	}

	// [string]: T
	if pattern := v.LookupPath(cue.MakePath(cue.AnyString)); pattern.Exists() {
		additional, err := toJSONSchema(pattern)
		if err != nil {
			return fmt.Errorf("pattern field of %s: %w", v.Path(), err)
		}
		props.AdditionalProperties = &apiextensionsv1.JSONSchemaPropsOrBool{Allows: true, Schema: additional}
	} else if v.Allows(cue.AnyString) {
		props.XPreserveUnknownFields = ptr.To(true)
	}
	return nil
}

// disjunctionSchema renders concrete alternatives as an enum and anything
// else as oneOf
func disjunctionSchema(args []cue.Value) *apiextensionsv1.JSONSchemaProps {
	props := &apiextensionsv1.JSONSchemaProps{}

	var kinds cue.Kind
	concrete := true
	for _, arg := range args {
		if !arg.IsConcrete() {
			concrete = false
			break
		}
		kinds |= arg.Kind()
	}

	if concrete {
		switch {
		case kinds == cue.StringKind:
			props.Type = "string"
		case kinds == cue.IntKind:
			props.Type = "integer"
		case kinds&^cue.NumberKind == 0:
			props.Type = "number"
		}
		for _, arg := range args {
			raw, err := arg.MarshalJSON()
			if err != nil {
				continue
			}
			props.Enum = append(props.Enum, apiextensionsv1.JSON{Raw: raw})
		}
		return props
	}

	for _, arg := range args {
		alt, err := toJSONSchema(arg)
		if err != nil {
			continue
		}
		props.OneOf = append(props.OneOf, *alt)
	}
	if len(props.OneOf) == 0 {
		props.XPreserveUnknownFields = ptr.To(true)
	}
	return props
}

// MarshalJSONSchema encodes a schema document with stable indentation
func MarshalJSONSchema(props *apiextensionsv1.JSONSchemaProps) ([]byte, error) {
	data, err := json.MarshalIndent(props, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode JSON schema: %w", err)
	}
	return append(data, '\n'), nil
}
