// Package template loads room templates from built-in presets and from
// YAML or CUE files validated against an embedded schema.
package template

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"gopkg.in/yaml.v3"

	"github.com/roach88/syncboard/internal/room"
)

//go:embed schema.cue
var schemaSource string

// ErrUnknown is returned when a name is neither a preset nor a readable file.
var ErrUnknown = errors.New("unknown template")

// Error is a template validation failure, positioned when CUE knows where.
type Error struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var presets = map[string]room.Template{
	"mahjong": {
		Name: "mahjong",
		Variables: []room.Variable{
			{Key: "points", Label: "Points", Initial: 25000},
		},
		Permissions: []string{room.PermTransfer, room.PermForceEdit, room.PermReset, room.PermUndo, room.PermSettlement},
		Pot: room.PotConfig{
			Enabled: true,
			Label:   "Riichi Pot",
			Initial: map[string]float64{"points": 0},
		},
		Settlement: room.SettlementConfig{
			Mode:         "mahjong",
			ReturnPoints: 30000,
			Uma:          []float64{15, 5, -5, -15},
		},
		MaxPlayers: 4,
	},
	"simple": {
		Name: "simple",
		Variables: []room.Variable{
			{Key: "score", Label: "Score", Initial: 0},
		},
		MaxPlayers: 8,
	},
}

// Presets returns the built-in template names in sorted order.
func Presets() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Preset returns a copy of the named built-in template.
func Preset(name string) (room.Template, bool) {
	t, ok := presets[name]
	if !ok {
		return room.Template{}, false
	}
	return t.Clone(), true
}

// Resolve returns the preset called nameOrPath, or loads it as a file.
func Resolve(nameOrPath string) (room.Template, error) {
	if t, ok := Preset(nameOrPath); ok {
		return t, nil
	}
	if _, err := os.Stat(nameOrPath); err != nil {
		return room.Template{}, fmt.Errorf("%w %q (presets: %s)", ErrUnknown, nameOrPath, strings.Join(Presets(), ", "))
	}
	return Load(nameOrPath)
}

// Load reads a .yaml, .yml or .cue template file.
func Load(path string) (room.Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return room.Template{}, fmt.Errorf("read template: %w", err)
	}
	return Parse(filepath.Base(path), data)
}

// Parse decodes a template file's contents; filename selects the format.
// A CUE file may either declare the template fields at the top level or
// nest them under a "template" field.
func Parse(filename string, data []byte) (room.Template, error) {
	ctx := cuecontext.New()

	var v cue.Value
	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".cue":
		v = ctx.CompileBytes(data, cue.Filename(filename))
		if nested := v.LookupPath(cue.ParsePath("template")); nested.Exists() {
			v = nested
		}
	case ".yaml", ".yml":
		var raw map[string]any
		dec := yaml.NewDecoder(bytes.NewReader(data))
		if err := dec.Decode(&raw); err != nil {
			return room.Template{}, fmt.Errorf("parse %s: %w", filename, err)
		}
		v = ctx.Encode(raw)
	default:
		return room.Template{}, fmt.Errorf("unsupported template format %q", ext)
	}
	if err := v.Err(); err != nil {
		return room.Template{}, formatCUEError(err)
	}

	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue")).LookupPath(cue.ParsePath("#Template"))
	if err := schema.Err(); err != nil {
		return room.Template{}, fmt.Errorf("template schema: %w", err)
	}

	unified := schema.Unify(v)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return room.Template{}, formatCUEError(err)
	}

	var t room.Template
	if err := unified.Decode(&t); err != nil {
		return room.Template{}, formatCUEError(err)
	}
	for i := range t.Variables {
		if t.Variables[i].Label == "" {
			t.Variables[i].Label = t.Variables[i].Key
		}
	}
	if err := Validate(t); err != nil {
		return room.Template{}, err
	}
	return t, nil
}

// Validate runs the checks the schema cannot express.
func Validate(t room.Template) error {
	if strings.TrimSpace(t.Name) == "" {
		return &Error{Field: "name", Message: "name is required"}
	}
	if len(t.Variables) == 0 {
		return &Error{Field: "variables", Message: "at least one variable is required"}
	}
	if t.MaxPlayers < 1 {
		return &Error{Field: "max_players", Message: "max_players must be at least 1"}
	}

	seen := make(map[string]bool, len(t.Variables))
	for i, v := range t.Variables {
		field := fmt.Sprintf("variables[%d]", i)
		switch {
		case v.Key == "":
			return &Error{Field: field, Message: "key is required"}
		case strings.HasPrefix(v.Key, room.StatusPrefix):
			return &Error{Field: field, Message: fmt.Sprintf("key %q must not start with %q", v.Key, room.StatusPrefix)}
		case seen[v.Key]:
			return &Error{Field: field, Message: fmt.Sprintf("duplicate key %q", v.Key)}
		case !room.Finite(v.Initial):
			return &Error{Field: field, Message: "initial must be finite"}
		}
		seen[v.Key] = true
	}

	for i, perm := range t.Permissions {
		if !room.KnownPermission(perm) {
			return &Error{Field: fmt.Sprintf("permissions[%d]", i), Message: fmt.Sprintf("unknown permission %q", perm)}
		}
	}

	for key, value := range t.Pot.Initial {
		if !seen[key] {
			return &Error{Field: "pot.initial", Message: fmt.Sprintf("unknown variable %q", key)}
		}
		if !room.Finite(value) || value < 0 {
			return &Error{Field: "pot.initial", Message: fmt.Sprintf("%s must be finite and non-negative", key)}
		}
	}
	return nil
}

// formatCUEError keeps the first error and its position.
func formatCUEError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	e := &Error{Field: "cue", Message: first.Error()}
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		e.Pos = positions[0]
	}
	return e
}
