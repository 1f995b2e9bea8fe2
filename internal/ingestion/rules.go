package ingestion

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/gjallarhorn-io/gjallarhorn/internal/config"
)

// DefaultRulesPath is the default location of the optional validation rules file.
const DefaultRulesPath = ".gjallarhorn.yaml"

// RulesPathEnvVar is the environment variable holding a custom rules path.
const RulesPathEnvVar = "GJALLARHORN_RULES_PATH"

type (
	// Rules holds optional validation rules for both ingestion pipelines.
	// The zero value accepts every input.
	//
	// Example .gjallarhorn.yaml:
	//
	//	quality_gates:
	//	  require_conditions: true
	//	  allowed_levels: [OK, WARN, ERROR]
	//	scenarios:
	//	  require_tests: true
	//	  allowed_environments: [web, android, ios]
	//
	//nolint:tagliatelle // snake_case is intentional for YAML config files
	Rules struct {
		QualityGates QualityGateRules `yaml:"quality_gates"`
		Scenarios    ScenarioRules    `yaml:"scenarios"`
	}

	// QualityGateRules constrains quality-gate reports.
	//
	//nolint:tagliatelle
	QualityGateRules struct {
		RequireConditions bool     `yaml:"require_conditions"`
		AllowedLevels     []string `yaml:"allowed_levels"`
	}

	// ScenarioRules constrains scenario batches.
	//
	//nolint:tagliatelle
	ScenarioRules struct {
		RequireTests        bool     `yaml:"require_tests"`
		AllowedEnvironments []string `yaml:"allowed_environments"`
	}
)

// LoadRules loads validation rules from a YAML file at the given path.
//
// Behavior:
//   - Returns empty rules (not error) if the file doesn't exist, rules are optional
//   - Returns empty rules + logs a warning if the file can't be read or parsed
//   - Returns populated rules on success
func LoadRules(path string) (*Rules, error) {
	rules := &Rules{}

	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config source
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Debug("Rules file not found, continuing without validation rules",
				slog.String("path", path))

			return rules, nil
		}

		slog.Warn("Failed to read rules file, continuing without validation rules",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return rules, nil
	}

	if len(data) == 0 {
		return rules, nil
	}

	if err := yaml.Unmarshal(data, rules); err != nil {
		slog.Warn("Failed to parse rules file, continuing without validation rules",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return &Rules{}, nil
	}

	return rules, nil
}

// LoadRulesFromEnv loads rules from GJALLARHORN_RULES_PATH, falling back to
// ".gjallarhorn.yaml" in the current directory.
func LoadRulesFromEnv() (*Rules, error) {
	return LoadRules(config.GetEnvStr(RulesPathEnvVar, DefaultRulesPath))
}

// QualityGateValidator returns a validator enforcing the quality-gate rules.
func (r *Rules) QualityGateValidator() Validator[*QualityGateReport] {
	if r == nil {
		return PassThrough[*QualityGateReport]()
	}

	qg := r.QualityGates

	return ValidatorFunc[*QualityGateReport](func(report *QualityGateReport) error {
		var problems []string

		if qg.RequireConditions && len(report.Conditions) == 0 {
			problems = append(problems, "conditions: at least one condition is required")
		}

		for i, c := range report.Conditions {
			if len(qg.AllowedLevels) > 0 && !containsFold(qg.AllowedLevels, c.Level) {
				problems = append(problems, fmt.Sprintf("conditions[%d].level: %q is not one of %s",
					i, c.Level, strings.Join(qg.AllowedLevels, ", ")))
			}
		}

		if len(problems) > 0 {
			return NewValidationError(problems...)
		}

		return nil
	})
}

// ScenarioValidator returns a validator enforcing the scenario rules.
func (r *Rules) ScenarioValidator() Validator[[]ScenarioInput] {
	if r == nil {
		return PassThrough[[]ScenarioInput]()
	}

	sr := r.Scenarios

	return ValidatorFunc[[]ScenarioInput](func(scenarios []ScenarioInput) error {
		var problems []string

		for i, s := range scenarios {
			if len(sr.AllowedEnvironments) > 0 && !containsFold(sr.AllowedEnvironments, s.Environment) {
				problems = append(problems, fmt.Sprintf("[%d].environment: %q is not one of %s",
					i, s.Environment, strings.Join(sr.AllowedEnvironments, ", ")))
			}

			if sr.RequireTests && len(s.Tests) == 0 {
				problems = append(problems, fmt.Sprintf("[%d].tests: at least one test is required", i))
			}
		}

		if len(problems) > 0 {
			return NewValidationError(problems...)
		}

		return nil
	})
}

func containsFold(values []string, v string) bool {
	return slices.ContainsFunc(values, func(candidate string) bool {
		return strings.EqualFold(candidate, v)
	})
}
