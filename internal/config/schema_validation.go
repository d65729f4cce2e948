package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	corralschema "github.com/Paintersrp/corral/schema"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource("config.v1.json", bytes.NewReader(corralschema.ConfigV1Schema)); err != nil {
		return nil, fmt.Errorf("add config schema resource: %w", err)
	}
	schema, err := compiler.Compile("config.v1.json")
	if err != nil {
		return nil, fmt.Errorf("compile config schema: %w", err)
	}
	return schema, nil
})

// validateAgainstSchema checks the raw YAML document against the embedded
// schema. Every violation is reported on its own line, located by product,
// app or startup entry.
func validateAgainstSchema(doc map[string]any) error {
	schema, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("load config schema: %w", err)
	}
	instance, err := asJSONInstance(doc)
	if err != nil {
		return fmt.Errorf("prepare config for schema validation: %w", err)
	}
	err = schema.Validate(instance)
	if err == nil {
		return nil
	}
	var vErr *jsonschema.ValidationError
	if !errors.As(err, &vErr) {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	var b strings.Builder
	for _, issue := range collectIssues(doc, vErr) {
		fmt.Fprintf(&b, "\n- %s", issue)
	}
	return fmt.Errorf("schema validation failed:%s", b.String())
}

// asJSONInstance round-trips the YAML tree through encoding/json so numbers
// reach the validator as json.Number.
func asJSONInstance(doc map[string]any) (any, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// collectIssues flattens the validator's error tree to its leaves, in
// document order, without repeats.
func collectIssues(doc map[string]any, root *jsonschema.ValidationError) []string {
	var issues []string
	seen := make(map[string]struct{})
	var walk func(*jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) > 0 {
			for _, cause := range e.Causes {
				walk(cause)
			}
			return
		}
		line := describeLocation(doc, e.InstanceLocation) + ": " + e.Message
		if _, dup := seen[line]; dup {
			return
		}
		seen[line] = struct{}{}
		issues = append(issues, line)
	}
	walk(root)
	return issues
}

// describeLocation names a JSON pointer into the document the way an operator
// reads the file: "app acme/server level", "startup[1] (acme/server)".
func describeLocation(doc map[string]any, pointer string) string {
	segs := pointerSegments(pointer)
	if len(segs) == 0 {
		return "document"
	}
	rest := func(from int) string {
		if len(segs) <= from {
			return ""
		}
		return " " + strings.Join(segs[from:], ".")
	}
	switch segs[0] {
	case "products":
		switch {
		case len(segs) == 2:
			return "product " + segs[1]
		case len(segs) == 3:
			return "product " + segs[1] + " " + segs[2]
		case len(segs) >= 4 && segs[2] == "apps":
			return appField(segs[1], segs[3]) + rest(4)
		}
	case "startup":
		if len(segs) >= 2 {
			if idx, err := strconv.Atoi(segs[1]); err == nil {
				return startupLabel(doc, idx) + rest(2)
			}
		}
	case "aliases":
		if len(segs) == 3 {
			return fmt.Sprintf("aliases for %s[%s]", segs[1], segs[2])
		}
		if len(segs) == 2 {
			return "aliases for " + segs[1]
		}
	}
	return strings.Join(segs, ".")
}

// startupLabel identifies a startup entry by index and, when the entry names
// them, by product and app.
func startupLabel(doc map[string]any, idx int) string {
	label := fmt.Sprintf("startup[%d]", idx)
	entries, _ := doc["startup"].([]any)
	if idx < 0 || idx >= len(entries) {
		return label
	}
	entry, _ := entries[idx].(map[string]any)
	product, _ := entry["product"].(string)
	app, _ := entry["app"].(string)
	if product == "" || app == "" {
		return label
	}
	return fmt.Sprintf("%s (%s/%s)", label, product, app)
}

func pointerSegments(pointer string) []string {
	pointer = strings.TrimPrefix(pointer, "/")
	if pointer == "" {
		return nil
	}
	segs := strings.Split(pointer, "/")
	for i, seg := range segs {
		segs[i] = strings.ReplaceAll(strings.ReplaceAll(seg, "~1", "/"), "~0", "~")
	}
	return segs
}
