package events

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// ruleSchemaJSON is the JSON Schema every parsed rule is validated against
// before it is accepted. Rules failing validation are skipped with a WARN
// log line; the loader never panics on a malformed file.
const ruleSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["event_type"],
  "properties": {
    "id": {"type": "string"},
    "name": {"type": "string"},
    "event_type": {"type": "string", "minLength": 1},
    "conditions": {"type": "object"},
    "action_mode": {"type": "string", "enum": ["skip", "ask", "suggest", "auto"]},
    "actions": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["action_type"],
        "properties": {
          "action_type": {"type": "string", "minLength": 1},
          "target": {"type": "string"},
          "params": {"type": "object"}
        }
      }
    },
    "risk_level": {"type": "string", "enum": ["low", "medium", "high"]},
    "priority": {"type": "integer"},
    "dedupe_window_seconds": {"type": "integer"},
    "cooldown_seconds": {"type": "integer"},
    "attention_budget_per_day": {"type": "integer"},
    "is_active": {"type": "boolean"}
  }
}`

var ruleSchema *jsonschema.Schema

func init() {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("rule.schema.json", strings.NewReader(ruleSchemaJSON)); err != nil {
		panic("events: invalid embedded rule schema: " + err.Error())
	}
	sch, err := compiler.Compile("rule.schema.json")
	if err != nil {
		panic("events: failed to compile rule schema: " + err.Error())
	}
	ruleSchema = sch
}

// DefaultRules is the seed rule set written by EnsureDefaultRules when no
// default.json exists yet: a low-priority catch-all that logs everything,
// and a high-priority skip-mode rule for heartbeat ticks. Both rules match
// health.heartbeat.tick events: the heartbeat rule records a skipped run
// and the catch-all still logs the tick.
var DefaultRules = []EventRule{
	{
		ID:         "rule_catch_all_log",
		Name:       "catch-all-log",
		EventType:  "*",
		Conditions: map[string]any{},
		ActionMode: ModeSuggest,
		Actions: []RuleAction{
			{ActionType: "log_only", Params: map[string]any{}},
		},
		RiskLevel:             RiskLow,
		Priority:              0,
		DedupeWindowSeconds:   0,
		CooldownSeconds:       0,
		AttentionBudgetPerDay: 0,
		IsActive:              true,
	},
	{
		ID:         "rule_heartbeat_suppress",
		Name:       "heartbeat-suppress",
		EventType:  "health.heartbeat.tick",
		Conditions: map[string]any{},
		ActionMode: ModeSkip,
		Actions:    nil,
		RiskLevel:  RiskLow,
		Priority:   100,
		IsActive:   true,
	},
}

// RuleLoader reads declarative rule files from a directory (or a single
// file) and merges them into an ordered EventRule list.
type RuleLoader struct{}

// NewRuleLoader returns a stateless RuleLoader.
func NewRuleLoader() *RuleLoader {
	return &RuleLoader{}
}

// ListRuleFiles returns the ordered set of files LoadRules would read for
// path: default.json (or default.yaml/.yml) first if present, then the
// remaining *.json/*.yaml/*.yml files in filename order.
func (RuleLoader) ListRuleFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if !info.IsDir() {
		if isRuleFile(path) {
			return []string{path}, nil
		}
		return nil, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}

	var defaultFile string
	var rest []string
	for _, entry := range entries {
		if entry.IsDir() || !isRuleFile(entry.Name()) {
			continue
		}
		full := filepath.Join(path, entry.Name())
		if strings.HasPrefix(entry.Name(), "default.") {
			defaultFile = full
			continue
		}
		rest = append(rest, full)
	}
	sort.Strings(rest)

	var files []string
	if defaultFile != "" {
		files = append(files, defaultFile)
	}
	files = append(files, rest...)
	return files, nil
}

func isRuleFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".json" || ext == ".yaml" || ext == ".yml"
}

// LoadRules loads and merges rules from path, sorted by priority descending.
// Later files override earlier rules by name (falling back to id); within a
// file, list order is preserved. Malformed files, and rules that fail schema
// validation, are skipped with a WARN log entry.
func (l RuleLoader) LoadRules(path string) ([]EventRule, error) {
	files, err := l.ListRuleFiles(path)
	if err != nil {
		return nil, err
	}

	merged := map[string]EventRule{}
	order := []string{}
	for _, file := range files {
		raw, err := os.ReadFile(file)
		if err != nil {
			slog.Warn("ruleloader: failed to read rule file", "file", file, "err", err)
			continue
		}

		items, err := parseRuleFile(file, raw)
		if err != nil {
			slog.Warn("ruleloader: failed to parse rule file", "file", file, "err", err)
			continue
		}

		for _, item := range items {
			if err := ruleSchema.Validate(item); err != nil {
				slog.Warn("ruleloader: rule failed schema validation", "file", file, "err", err)
				continue
			}
			rule, ok := normalizeRule(item)
			if !ok {
				continue
			}
			key := rule.Name
			if key == "" {
				key = rule.ID
			}
			if _, exists := merged[key]; !exists {
				order = append(order, key)
			}
			merged[key] = rule
		}
	}

	rules := make([]EventRule, 0, len(order))
	for _, key := range order {
		rules = append(rules, merged[key])
	}
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Priority > rules[j].Priority
	})
	return rules, nil
}

// parseRuleFile decodes a rule file (JSON object/array, or YAML) into a list
// of raw map[string]any items for schema validation + normalization.
func parseRuleFile(file string, raw []byte) ([]map[string]any, error) {
	ext := strings.ToLower(filepath.Ext(file))
	var decoded any
	if ext == ".yaml" || ext == ".yml" {
		if err := yaml.Unmarshal(raw, &decoded); err != nil {
			return nil, err
		}
		decoded = convertYAMLMaps(decoded)
	} else {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return nil, err
		}
	}

	switch v := decoded.(type) {
	case []any:
		items := make([]map[string]any, 0, len(v))
		for _, entry := range v {
			if m, ok := entry.(map[string]any); ok {
				items = append(items, m)
			}
		}
		return items, nil
	case map[string]any:
		return []map[string]any{v}, nil
	default:
		return nil, nil
	}
}

// convertYAMLMaps recursively converts map[any]any produced by yaml.v3 into
// map[string]any so the schema validator and normalizer see a uniform shape.
func convertYAMLMaps(v any) any {
	switch node := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(node))
		for k, val := range node {
			out[k] = convertYAMLMaps(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(node))
		for k, val := range node {
			out[toStringKey(k)] = convertYAMLMaps(val)
		}
		return out
	case []any:
		out := make([]any, len(node))
		for i, val := range node {
			out[i] = convertYAMLMaps(val)
		}
		return out
	default:
		return v
	}
}

func toStringKey(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// normalizeRule converts a raw decoded map into an EventRule, filling in
// field-level defaults. Returns ok=false for entries missing a required
// id/name/event_type.
func normalizeRule(raw map[string]any) (EventRule, bool) {
	id := strings.TrimSpace(stringField(raw, "id"))
	name := strings.TrimSpace(stringField(raw, "name"))
	eventType := strings.TrimSpace(stringField(raw, "event_type"))
	if id == "" {
		id = name
	}
	if name == "" {
		name = id
	}
	if id == "" || name == "" || eventType == "" {
		return EventRule{}, false
	}

	var actions []RuleAction
	if rawActions, ok := raw["actions"].([]any); ok {
		for _, item := range rawActions {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			actionType := strings.TrimSpace(stringField(m, "action_type"))
			if actionType == "" {
				continue
			}
			params, _ := m["params"].(map[string]any)
			if params == nil {
				params = map[string]any{}
			}
			actions = append(actions, RuleAction{
				ActionType: actionType,
				Target:     strings.TrimSpace(stringField(m, "target")),
				Params:     params,
			})
		}
	}

	conditions, _ := raw["conditions"].(map[string]any)
	if conditions == nil {
		conditions = map[string]any{}
	}

	actionMode := stringField(raw, "action_mode")
	if actionMode == "" {
		actionMode = ModeAuto
	}
	riskLevel := stringField(raw, "risk_level")
	if riskLevel == "" {
		riskLevel = RiskLow
	}

	isActive := true
	if v, ok := raw["is_active"].(bool); ok {
		isActive = v
	}

	return EventRule{
		ID:                    id,
		Name:                  name,
		EventType:             eventType,
		Conditions:            conditions,
		ActionMode:            actionMode,
		Actions:               actions,
		RiskLevel:             riskLevel,
		Priority:              intField(raw, "priority"),
		DedupeWindowSeconds:   intField(raw, "dedupe_window_seconds"),
		CooldownSeconds:       intField(raw, "cooldown_seconds"),
		AttentionBudgetPerDay: intField(raw, "attention_budget_per_day"),
		IsActive:              isActive,
	}, true
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func intField(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	default:
		return 0
	}
}

// EnsureDefaultRules writes a seed default.json at path (creating the
// directory if needed) if default.json does not exist there yet; other rule
// files in the directory do not prevent the seed. A path ending in
// .json/.yaml/.yml is treated as the rule file itself and seeded if absent.
func (RuleLoader) EnsureDefaultRules(path string) error {
	info, err := os.Stat(path)
	isFile := strings.HasSuffix(path, ".json") || strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml")
	if isFile {
		if err == nil && !info.IsDir() {
			return nil
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		return writeDefaultRules(path)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return err
	}
	defaultFile := filepath.Join(path, "default.json")
	if _, err := os.Stat(defaultFile); err == nil {
		return nil
	}
	return writeDefaultRules(defaultFile)
}

func writeDefaultRules(path string) error {
	items := make([]map[string]any, 0, len(DefaultRules))
	for _, rule := range DefaultRules {
		items = append(items, ruleToMap(rule))
	}
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

func ruleToMap(rule EventRule) map[string]any {
	actions := make([]map[string]any, 0, len(rule.Actions))
	for _, action := range rule.Actions {
		actions = append(actions, map[string]any{
			"action_type": action.ActionType,
			"target":      action.Target,
			"params":      action.Params,
		})
	}
	return map[string]any{
		"id":                        rule.ID,
		"name":                      rule.Name,
		"event_type":                rule.EventType,
		"conditions":                rule.Conditions,
		"action_mode":               rule.ActionMode,
		"actions":                   actions,
		"risk_level":                rule.RiskLevel,
		"priority":                  rule.Priority,
		"dedupe_window_seconds":     rule.DedupeWindowSeconds,
		"cooldown_seconds":          rule.CooldownSeconds,
		"attention_budget_per_day":  rule.AttentionBudgetPerDay,
		"is_active":                 rule.IsActive,
	}
}

// SetRuleActive mutates the matching rule's is_active flag in-place in the
// JSON rule files under path, visited in filename order. It rewrites only
// the first file containing a match and returns true; later files are not
// examined. YAML rule files are not searched.
func (RuleLoader) SetRuleActive(path string, ruleID string, active bool) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}

	var files []string
	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return false, err
		}
		for _, entry := range entries {
			if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".json") {
				files = append(files, filepath.Join(path, entry.Name()))
			}
		}
		sort.Strings(files)
	} else {
		files = []string{path}
	}

	for _, file := range files {
		raw, err := os.ReadFile(file)
		if err != nil {
			continue
		}
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err != nil {
			continue
		}

		changed := false
		switch v := decoded.(type) {
		case []any:
			for _, entry := range v {
				if m, ok := entry.(map[string]any); ok && matchesRuleID(m, ruleID) {
					m["is_active"] = active
					changed = true
				}
			}
		case map[string]any:
			if matchesRuleID(v, ruleID) {
				v["is_active"] = active
				changed = true
			}
		}

		if changed {
			out, err := json.MarshalIndent(decoded, "", "  ")
			if err != nil {
				return false, err
			}
			if err := os.WriteFile(file, append(out, '\n'), 0o644); err != nil {
				return false, err
			}
			return true, nil
		}
	}
	return false, nil
}

func matchesRuleID(m map[string]any, ruleID string) bool {
	id := strings.TrimSpace(stringField(m, "id"))
	if id == "" {
		id = strings.TrimSpace(stringField(m, "name"))
	}
	return id == ruleID
}
