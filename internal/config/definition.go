package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Definition is one `define <kind> { ... }` block after lexing: a kind, a
// flat property map, and any `_CUSTOM` variables, tagged with where it came
// from for error messages. Template inheritance (the `use` directive) is
// applied in place by ResolveInheritance before the build pass reads it.
type Definition struct {
	Kind       string
	Props      map[string]string
	Custom     map[string]string
	Source     string
	SourceLine int

	inherited bool
}

// TemplateName returns the `name` property, which is what other definitions
// reference in their `use` lists.
func (d *Definition) TemplateName() string { return d.Props["name"] }

// IsRegistered reports whether this block produces a real object. Pure
// templates carry `register 0`.
func (d *Definition) IsRegistered() bool {
	v, ok := d.Props["register"]
	return !ok || v != "0"
}

// Prop looks up a property by canonical key.
func (d *Definition) Prop(key string) (string, bool) {
	v, ok := d.Props[key]
	return v, ok
}

// DefinitionSet accumulates blocks across all object config files, in file
// order, with a per-kind template index for `use` resolution.
type DefinitionSet struct {
	All []*Definition

	templates map[string]map[string]*Definition // kind -> template name -> def
}

func NewDefinitionSet() *DefinitionSet {
	return &DefinitionSet{templates: make(map[string]map[string]*Definition)}
}

// Template resolves a template reference for one kind.
func (s *DefinitionSet) Template(kind, name string) *Definition {
	return s.templates[kind][name]
}

// ForKind visits every registered (non-template-only) definition of one kind
// in file order.
func (s *DefinitionSet) ForKind(kind string, fn func(*Definition) error) error {
	for _, d := range s.All {
		if d.Kind != kind || !d.IsRegistered() {
			continue
		}
		if err := fn(d); err != nil {
			return err
		}
	}
	return nil
}

func (s *DefinitionSet) add(d *Definition) error {
	s.All = append(s.All, d)
	name := d.TemplateName()
	if name == "" {
		return nil
	}
	byName := s.templates[d.Kind]
	if byName == nil {
		byName = make(map[string]*Definition)
		s.templates[d.Kind] = byName
	}
	if prev := byName[name]; prev != nil {
		return fmt.Errorf("%s:%d: template '%s' for kind '%s' already defined at %s:%d",
			d.Source, d.SourceLine, name, d.Kind, prev.Source, prev.SourceLine)
	}
	byName[name] = d
	return nil
}

// blockScanner is the per-file lexing state.
type blockScanner struct {
	set  *DefinitionSet
	path string
	line int
	open *Definition // nil between blocks
	skip bool        // inside a block kind we deliberately ignore
}

// LoadFile lexes one object config file into the set, following
// include_file= and include_dir= directives relative to the file.
func (s *DefinitionSet) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("cannot open config file %s: %w", path, err)
	}
	defer f.Close()

	bs := &blockScanner{set: s, path: path}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		bs.line++
		if err := bs.feed(sc.Text()); err != nil {
			return err
		}
	}
	if bs.open != nil || bs.skip {
		return fmt.Errorf("%s: unexpected EOF inside object definition", path)
	}
	return sc.Err()
}

// LoadDir lexes every *.cfg under dir, recursively, skipping dotfiles.
func (s *DefinitionSet) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("cannot read config dir %s: %w", dir, err)
	}
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		sub := filepath.Join(dir, name)
		switch {
		case e.IsDir():
			err = s.LoadDir(sub)
		case strings.HasSuffix(name, ".cfg"):
			err = s.LoadFile(sub)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (bs *blockScanner) feed(raw string) error {
	line := strings.TrimSpace(uncomment(raw))
	if line == "" || line[0] == '#' {
		return nil
	}

	inBlock := bs.open != nil || bs.skip

	if !inBlock {
		switch {
		case strings.HasPrefix(line, "include_file="):
			return bs.include(strings.TrimSpace(line[len("include_file="):]), false)
		case strings.HasPrefix(line, "include_dir="):
			return bs.include(strings.TrimSpace(line[len("include_dir="):]), true)
		case strings.HasPrefix(line, "define "):
			return bs.openBlock(line)
		}
		return nil
	}

	if line == "}" {
		if bs.open != nil {
			if err := bs.set.add(bs.open); err != nil {
				return err
			}
		}
		bs.open, bs.skip = nil, false
		return nil
	}
	if strings.HasPrefix(line, "define ") {
		return fmt.Errorf("%s:%d: nested object definitions not allowed", bs.path, bs.line)
	}
	if bs.skip {
		return nil
	}

	key, val := line, ""
	if idx := strings.IndexAny(line, " \t"); idx >= 0 {
		key, val = line[:idx], strings.TrimSpace(line[idx+1:])
	}
	if key == "" {
		return nil
	}
	if key[0] == '_' {
		bs.open.Custom[strings.ToUpper(key[1:])] = val
	} else {
		bs.open.Props[canonicalProp(bs.open.Kind, key)] = val
	}
	return nil
}

func (bs *blockScanner) include(target string, isDir bool) error {
	if !filepath.IsAbs(target) {
		target = filepath.Join(filepath.Dir(bs.path), target)
	}
	if isDir {
		return bs.set.LoadDir(target)
	}
	return bs.set.LoadFile(target)
}

func (bs *blockScanner) openBlock(line string) error {
	kind := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(line[len("define "):]), "{"))
	if kind == "" {
		return fmt.Errorf("%s:%d: missing object type", bs.path, bs.line)
	}
	// Legacy block kind accepted and discarded.
	if kind == "hostgroupescalation" {
		bs.skip = true
		return nil
	}
	bs.open = &Definition{
		Kind:       kind,
		Props:      make(map[string]string),
		Custom:     make(map[string]string),
		Source:     bs.path,
		SourceLine: bs.line,
	}
	return nil
}

// uncomment strips a trailing ;-comment, honoring \; escapes.
func uncomment(line string) string {
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case '\\':
			i++
		case ';':
			return line[:i]
		}
	}
	return line
}

// propAliases maps legacy/alternate directive spellings to the canonical
// key, per block kind.
var propAliases = map[string]map[string]string{
	"host": {
		"obsess":     "obsess_over_host",
		"importance": "hourly_value",
	},
	"service": {
		"obsess":      "obsess_over_service",
		"importance":  "hourly_value",
		"description": "service_description",
	},
	"contact": {
		"contact_groups": "contactgroups",
		"minimum_value":  "minimum_importance",
	},
	"hostdependency": {
		"host": "host_name", "master_host": "host_name", "master_host_name": "host_name",
		"dependent_host": "dependent_host_name",
		"hostgroup":      "hostgroup_name", "hostgroups": "hostgroup_name",
		"dependent_hostgroup": "dependent_hostgroup_name", "dependent_hostgroups": "dependent_hostgroup_name",
		"execution_failure_criteria":    "execution_failure_options",
		"notification_failure_criteria": "notification_failure_options",
	},
	"servicedependency": {
		"host": "host_name", "master_host": "host_name", "master_host_name": "host_name",
		"description": "service_description", "master_description": "service_description",
		"master_service_description": "service_description",
		"hostgroup":                  "hostgroup_name", "hostgroups": "hostgroup_name",
		"servicegroup": "servicegroup_name", "servicegroups": "servicegroup_name",
		"dependent_host":        "dependent_host_name",
		"dependent_description": "dependent_service_description",
		"dependent_hostgroup":   "dependent_hostgroup_name", "dependent_hostgroups": "dependent_hostgroup_name",
		"dependent_servicegroup": "dependent_servicegroup_name", "dependent_servicegroups": "dependent_servicegroup_name",
		"execution_failure_criteria":    "execution_failure_options",
		"notification_failure_criteria": "notification_failure_options",
	},
	"hostescalation": {
		"host":      "host_name",
		"hostgroup": "hostgroup_name", "hostgroups": "hostgroup_name",
	},
	"serviceescalation": {
		"host":        "host_name",
		"description": "service_description",
		"hostgroup":   "hostgroup_name", "hostgroups": "hostgroup_name",
		"servicegroup": "servicegroup_name", "servicegroups": "servicegroup_name",
	},
}

func canonicalProp(kind, key string) string {
	if canon, ok := propAliases[kind][key]; ok {
		return canon
	}
	return key
}

// ResolveInheritance applies `use` chains across the whole set:
// left-to-right multiple inheritance, child wins, `+value` props append the
// inherited value ahead of the child's own list.
func (s *DefinitionSet) ResolveInheritance() error {
	for _, d := range s.All {
		if err := s.inherit(d, nil); err != nil {
			return err
		}
	}
	for _, d := range s.All {
		for key, val := range d.Props {
			// A `+` that never matched an inherited value is dropped.
			if strings.HasPrefix(val, "+") {
				d.Props[key] = val[1:]
			}
		}
	}
	return nil
}

func (s *DefinitionSet) inherit(d *Definition, stack []*Definition) error {
	if d.inherited {
		return nil
	}
	for _, seen := range stack {
		if seen == d {
			return fmt.Errorf("circular template reference detected for %s '%s' at %s:%d",
				d.Kind, d.TemplateName(), d.Source, d.SourceLine)
		}
	}
	useList, ok := d.Props["use"]
	if !ok {
		d.inherited = true
		return nil
	}

	stack = append(stack, d)
	for _, ref := range listValues(useList) {
		parent := s.Template(d.Kind, ref)
		if parent == nil {
			return fmt.Errorf("%s:%d: template '%s' not found for type '%s'",
				d.Source, d.SourceLine, ref, d.Kind)
		}
		if err := s.inherit(parent, stack); err != nil {
			return err
		}
		for key, val := range parent.Props {
			switch key {
			case "name", "use", "register":
				continue
			}
			own, has := d.Props[key]
			switch {
			case !has:
				d.Props[key] = val
			case strings.HasPrefix(own, "+"):
				d.Props[key] = val + "," + own[1:]
			}
		}
		for key, val := range parent.Custom {
			if _, has := d.Custom[key]; !has {
				d.Custom[key] = val
			}
		}
	}
	d.inherited = true
	return nil
}

// listValues splits a comma-separated directive value, dropping empties.
func listValues(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
