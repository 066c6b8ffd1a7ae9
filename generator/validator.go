package generator

import (
	"fmt"
	"strings"

	"github.com/mykhaliev/agent-eval/model"
	"gopkg.in/yaml.v3"
)

// casesWrapper is a helper for unmarshalling only the cases block.
type casesWrapper struct {
	Cases []model.Case `yaml:"cases"`
}

// ValidateCases parses the YAML content (which must contain a "cases:" key)
// and validates it against the known agent names and the case rules enforced
// at load time. Returns a list of human-readable error strings; an empty list
// means the content is valid.
func ValidateCases(yamlContent string, knownAgents []string) []string {
	var errs []string

	var wrapper casesWrapper
	if err := yaml.Unmarshal([]byte(yamlContent), &wrapper); err != nil {
		return []string{fmt.Sprintf("YAML parse error: %v", err)}
	}

	if len(wrapper.Cases) == 0 {
		return []string{"no cases found in generated output"}
	}

	agentSet := make(map[string]bool, len(knownAgents))
	for _, a := range knownAgents {
		agentSet[a] = true
	}

	conditionTypeSet := make(map[string]bool, len(validConditionTypes))
	for _, t := range validConditionTypes {
		conditionTypeSet[t] = true
	}

	seenIDs := make(map[string]bool, len(wrapper.Cases))

	for ci := range wrapper.Cases {
		c := wrapper.Cases[ci]
		caseLabel := fmt.Sprintf("case[%d](%q)", ci, c.ID)

		if c.ID != "" {
			if seenIDs[c.ID] {
				errs = append(errs, fmt.Sprintf("%s: duplicate case id", caseLabel))
			}
			seenIDs[c.ID] = true
		}

		if c.Agent == "" {
			errs = append(errs, fmt.Sprintf("%s: missing agent field", caseLabel))
		} else if len(agentSet) > 0 && !agentSet[c.Agent] {
			errs = append(errs, fmt.Sprintf(
				"%s: unknown agent %q (valid: %s)",
				caseLabel, c.Agent, strings.Join(knownAgents, ", ")))
		}

		// Reject condition types outside the YAML-expressible set before the
		// structural validation, so the feedback names the type explicitly.
		for condi, cond := range c.EndWhen {
			if cond.Type != "" && !conditionTypeSet[string(cond.Type)] {
				errs = append(errs, fmt.Sprintf(
					"%s/end_when[%d]: condition type %q is not allowed in generated output (valid: %s)",
					caseLabel, condi, cond.Type, strings.Join(validConditionTypes, ", ")))
			}
		}

		// Validate mutates the case in place (defaults), so run it on the
		// local copy rather than the wrapper slice.
		if err := c.Validate(); err != nil {
			errs = append(errs, err.Error())
		}
	}

	return errs
}
