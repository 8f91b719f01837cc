// Command validate checks an alert rules file before deployment: structural
// validation, sanity checks against physical sensor bounds, and an optional
// dry run of a readings fixture showing which alerts the rules would raise.
//
// Usage:
//
//	go run ./cmd/validate -rules config/rules.yaml
//	go run ./cmd/validate -rules config/rules.yaml -readings fixtures/readings.json
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/agrisense/crop-fusion-service/internal/config"
	"github.com/agrisense/crop-fusion-service/internal/domain"
)

// phase tracks pass/fail for one validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	rulesPath := flag.String("rules", "", "path to the rules YAML file (empty validates the built-in defaults)")
	readingsPath := flag.String("readings", "", "optional readings JSON fixture to dry-run against the rules")
	flag.Parse()

	os.Exit(run(*rulesPath, *readingsPath))
}

func run(rulesPath, readingsPath string) int {
	fmt.Println("=== Alert Rules Validation ===")
	fmt.Println()

	rules, err := config.LoadRules(rulesPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		return 1
	}
	if rulesPath == "" {
		fmt.Println("no rules file given, validating built-in defaults")
	}

	phases := []*phase{
		validateCoverage(rules),
		validateBounds(rules),
	}

	if readingsPath != "" {
		p, err := dryRun(rules, readingsPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: dry run: %v\n", err)
			return 1
		}
		phases = append(phases, p)
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// validateCoverage warns about sensors carrying a critical rule with no
// warning tier, which jumps alerts straight to critical with no early signal.
func validateCoverage(rules domain.RuleSet) *phase {
	p := &phase{name: "Phase 1: Tier Coverage"}

	critical := map[string]bool{}
	warning := map[string]bool{}
	for _, r := range rules.Thresholds {
		switch r.Severity {
		case domain.SeverityCritical:
			critical[r.SensorType] = true
		case domain.SeverityWarning:
			warning[r.SensorType] = true
		}
	}
	if len(critical) == 0 && len(warning) == 0 {
		p.errorf("rule set has no threshold rules")
	}
	for sensor := range critical {
		if !warning[sensor] {
			fmt.Printf("  Note: %s has a critical rule but no warning tier\n", sensor)
		}
	}
	return p
}

// validateBounds flags thresholds that can never fire because they sit
// outside the sensor's physical range.
func validateBounds(rules domain.RuleSet) *phase {
	p := &phase{name: "Phase 2: Physical Bounds"}

	bounds := map[string][2]float64{
		domain.SensorSoilMoisture: {0, 100},
		domain.SensorHumidity:     {0, 100},
		domain.SensorLightLevel:   {domain.MinLux, domain.MaxLux},
		domain.SensorWindSpeed:    {0, 120},
	}

	for i, r := range rules.Thresholds {
		b, ok := bounds[r.SensorType]
		if !ok {
			continue
		}
		if r.Min != nil && (*r.Min < b[0] || *r.Min > b[1]) {
			p.errorf("rule %d (%s/%s): min %.1f outside physical range [%.1f, %.1f]",
				i, r.SensorType, r.Severity, *r.Min, b[0], b[1])
		}
		if r.Max != nil && (*r.Max < b[0] || *r.Max > b[1]) {
			p.errorf("rule %d (%s/%s): max %.1f outside physical range [%.1f, %.1f]",
				i, r.SensorType, r.Severity, *r.Max, b[0], b[1])
		}
	}
	return p
}

// dryRun evaluates a readings fixture against the rules and reports every
// alert that would fire, without touching storage or dedup.
func dryRun(rules domain.RuleSet, path string) (*phase, error) {
	p := &phase{name: "Phase 3: Fixture Dry Run"}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var readings []domain.Reading
	if err := json.Unmarshal(data, &readings); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	var fired int
	for _, r := range readings {
		value := rules.Scale(r.Zone, r.SensorType, r.Value)
		for _, severity := range []domain.Severity{domain.SeverityCritical, domain.SeverityWarning} {
			for _, rule := range rules.ForSensor(r.SensorType, severity) {
				switch {
				case rule.Min != nil && value < *rule.Min:
					fired++
					fmt.Printf("  %s: %s in %s is critically low: %.1f (min %.1f)\n",
						severity, r.SensorType, r.Zone, value, *rule.Min)
				case rule.Max != nil && value > *rule.Max:
					fired++
					fmt.Printf("  %s: %s in %s is critically high: %.1f (max %.1f)\n",
						severity, r.SensorType, r.Zone, value, *rule.Max)
				}
			}
		}
	}
	fmt.Printf("  %d readings evaluated, %d alerts would fire\n", len(readings), fired)
	return p, nil
}
