// Package sqlguard screens model-supplied filter values before they reach the
// data plane. Execution plans come back from an LLM, so every string that will
// end up inside a query predicate gets a libinjection pass first.
package sqlguard

import (
	libinjection "github.com/corazawaf/libinjection-go"

	"github.com/theworld-inc/theworld-engine/pkg/apperrors"
	"github.com/theworld-inc/theworld-engine/pkg/models"
)

// InjectionFinding describes one filter value that tripped the detector.
type InjectionFinding struct {
	Field       string // filter field the value was bound to
	Fingerprint string // libinjection fingerprint of the detected pattern
	Value       any
}

// CheckValue runs libinjection over a single value. Only strings are checked;
// numbers and booleans cannot carry injection payloads and return nil.
func CheckValue(field string, value any) *InjectionFinding {
	strValue, ok := value.(string)
	if !ok {
		return nil
	}

	isSQLi, fingerprint := libinjection.IsSQLi(strValue)
	if !isSQLi {
		return nil
	}
	return &InjectionFinding{
		Field:       field,
		Fingerprint: string(fingerprint),
		Value:       value,
	}
}

// CheckFilters screens every filter value in an execution plan, descending
// into `in` lists. Returns one finding per offending value.
func CheckFilters(filters []models.DataFilter) []*InjectionFinding {
	var findings []*InjectionFinding
	for _, filter := range filters {
		if list, ok := filter.Value.([]any); ok {
			for _, item := range list {
				if finding := CheckValue(filter.Field, item); finding != nil {
					findings = append(findings, finding)
				}
			}
			continue
		}
		if finding := CheckValue(filter.Field, filter.Value); finding != nil {
			findings = append(findings, finding)
		}
	}
	return findings
}

// ValidatePlan rejects a plan whose filters carry injection patterns.
func ValidatePlan(plan models.DataPlan) error {
	findings := CheckFilters(plan.Filters)
	if len(findings) == 0 {
		return nil
	}
	return apperrors.Newf(apperrors.CodeValidation,
		"filter value for field '%s' rejected by injection screen (fingerprint %s)",
		findings[0].Field, findings[0].Fingerprint)
}
