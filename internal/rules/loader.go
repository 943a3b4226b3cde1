package rules

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog/*.yaml
var catalogFS embed.FS

// ruleExts are the file extensions LoadDir picks up.
var ruleExts = map[string]bool{".yaml": true, ".yml": true, ".json": true}

// IsRuleFile reports whether path has a rule file extension.
func IsRuleFile(path string) bool {
	return ruleExts[strings.ToLower(filepath.Ext(path))]
}

// record is the on-disk shape of a rule. It accepts the legacy field names
// found in older suggestion files next to the canonical ones.
type record struct {
	Rule `yaml:",inline"`

	Initiatior      string    `yaml:"initiatior"`
	SuggestionLabel string    `yaml:"suggestion_label"`
	SuggestionText  string    `yaml:"suggestion_text"`
	Message         string    `yaml:"message"`
	BEFunction      string    `yaml:"be_function"`
	FEFunction      string    `yaml:"fe_function"`
	FEFunctionCamel string    `yaml:"feFunction"`
	FELocation      string    `yaml:"fe_location"`
	DoubleCheck     *flexBool `yaml:"doublecheck"`
}

func (r record) toRule() Rule {
	out := r.Rule
	pick := func(dst *string, alts ...string) {
		for _, a := range alts {
			if *dst != "" {
				return
			}
			*dst = a
		}
	}
	pick(&out.Initiator, r.Initiatior)
	pick(&out.Label, r.SuggestionLabel)
	pick(&out.Text, r.SuggestionText, r.Message)
	pick(&out.BEOperation, r.BEFunction)
	pick(&out.FEOperation, r.FEFunction, r.FEFunctionCamel)
	pick(&out.FENavigation, r.FELocation)
	if r.DoubleCheck != nil && !out.Review {
		out.Review = bool(*r.DoubleCheck)
	}
	// Legacy files carried no label; the feature name stood in for it.
	if out.Label == "" && r.legacy() {
		out.Label = out.Feature
	}
	return out
}

// legacy reports whether the record uses the old content or operation fields.
func (r record) legacy() bool {
	return r.SuggestionLabel != "" || r.SuggestionText != "" || r.Message != "" || r.BEFunction != ""
}

// flexBool decodes true/false as well as the strings "true"/"false".
type flexBool bool

func (b *flexBool) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: doublecheck must be a boolean", node.Line)
	}
	v, err := strconv.ParseBool(strings.TrimSpace(node.Value))
	if err != nil {
		return fmt.Errorf("line %d: doublecheck %q is not a boolean", node.Line, node.Value)
	}
	*b = flexBool(v)
	return nil
}

// Parse decodes a YAML or JSON rule document: either a sequence of rules
// or a mapping with a "rules" sequence. JSON sources may carry "//"
// comments. Every malformed entry is reported;
// nothing is returned unless the whole document decodes.
func Parse(data []byte, source string) ([]Rule, error) {
	if strings.EqualFold(filepath.Ext(source), ".json") {
		data = stripComments(data)
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &ValidationError{Issues: []Issue{{Index: -1, Field: "file", Msg: err.Error(), Source: source}}}
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}
	root := doc.Content[0]
	if root.Kind == yaml.MappingNode {
		var seq *yaml.Node
		for i := 0; i+1 < len(root.Content); i += 2 {
			if root.Content[i].Value == "rules" {
				seq = root.Content[i+1]
			}
		}
		if seq == nil {
			return nil, &ValidationError{Issues: []Issue{{Index: -1, Field: "file", Msg: `expected a list of rules or a "rules" key`, Source: source}}}
		}
		root = seq
	}
	if root.Kind != yaml.SequenceNode {
		return nil, &ValidationError{Issues: []Issue{{Index: -1, Field: "file", Msg: "expected a list of rules", Source: source}}}
	}

	var issues []Issue
	out := make([]Rule, 0, len(root.Content))
	for i, node := range root.Content {
		var rec record
		if err := node.Decode(&rec); err != nil {
			issues = append(issues, Issue{Index: i, Field: "record", Msg: err.Error(), Source: source})
			continue
		}
		out = append(out, rec.toRule())
	}
	if len(issues) > 0 {
		return nil, &ValidationError{Issues: issues}
	}
	return out, nil
}

// LoadFile reads one rule file.
func LoadFile(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rules: reading %s: %w", path, err)
	}
	return Parse(data, filepath.Base(path))
}

// LoadDir reads every rule file in dir (not recursively) in lexical order.
// Decoding issues from all files are collected into one error.
func LoadDir(dir string) ([]Rule, error) {
	return loadFS(os.DirFS(dir), ".")
}

// Load reads path as a directory or a single file.
func Load(path string) ([]Rule, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("rules: %w", err)
	}
	if info.IsDir() {
		return LoadDir(path)
	}
	return LoadFile(path)
}

// Default returns the catalogue compiled into the binary.
func Default() ([]Rule, error) {
	return loadFS(catalogFS, "catalog")
}

func loadFS(fsys fs.FS, dir string) ([]Rule, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("rules: reading %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && IsRuleFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var all []Rule
	var issues []Issue
	for _, name := range names {
		data, err := fs.ReadFile(fsys, filepath.ToSlash(filepath.Join(dir, name)))
		if err != nil {
			return nil, fmt.Errorf("rules: reading %s: %w", name, err)
		}
		rules, err := Parse(data, name)
		if err != nil {
			if verr, ok := err.(*ValidationError); ok {
				issues = append(issues, verr.Issues...)
				continue
			}
			return nil, err
		}
		all = append(all, rules...)
	}
	if len(issues) > 0 {
		return nil, &ValidationError{Issues: issues}
	}
	return all, nil
}

// stripComments drops "//" comments outside of double-quoted strings, as
// written in hand-maintained suggestion files.
func stripComments(data []byte) []byte {
	if !bytes.Contains(data, []byte("//")) {
		return data
	}
	var out bytes.Buffer
	for _, line := range bytes.SplitAfter(data, []byte("\n")) {
		inString, escaped := false, false
		cut := -1
		for i := 0; i < len(line); i++ {
			c := line[i]
			switch {
			case escaped:
				escaped = false
			case c == '\\' && inString:
				escaped = true
			case c == '"':
				inString = !inString
			case c == '/' && !inString && i+1 < len(line) && line[i+1] == '/':
				cut = i
			}
			if cut >= 0 {
				break
			}
		}
		if cut < 0 {
			out.Write(line)
			continue
		}
		out.Write(bytes.TrimRight(line[:cut], " \t"))
		if bytes.HasSuffix(line, []byte("\n")) {
			out.WriteByte('\n')
		}
	}
	return out.Bytes()
}
