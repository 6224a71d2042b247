package smartalbum

import (
	"encoding/json"

	"github.com/openphotoalbum/photo-engine/internal/models"
)

// Recognized rule_type values for a custom_rule album's chain entries.
const (
	customRuleObjectDetection  = "object_detection"
	customRuleMinFaces         = "min_faces"
	customRuleCharacteristic   = "characteristic"
	customRuleTechnical        = "technical"
	customRuleTime             = "time"
)

// evaluateCustomRule dispatches one chain entry to its matching
// evaluator. An unrecognized rule_type or unparseable params never
// matches, rather than aborting the whole chain.
func evaluateCustomRule(rule models.CustomRule, ctx imageContext) (bool, []string) {
	switch rule.RuleType {
	case customRuleObjectDetection:
		var r ObjectRule
		if err := json.Unmarshal(rule.Params, &r); err != nil {
			return false, nil
		}
		return evaluateObject(r, ctx.objects)
	case customRuleMinFaces:
		var r struct {
			MinFaceCount int `json:"min_face_count"`
		}
		if err := json.Unmarshal(rule.Params, &r); err != nil {
			return false, nil
		}
		return evaluatePerson(PersonRule{MinFaceCount: r.MinFaceCount}, ctx.faces)
	case customRuleCharacteristic:
		var r CharacteristicRule
		if err := json.Unmarshal(rule.Params, &r); err != nil {
			return false, nil
		}
		return evaluateCharacteristic(r, ctx)
	case customRuleTechnical:
		var r TechnicalRule
		if err := json.Unmarshal(rule.Params, &r); err != nil {
			return false, nil
		}
		return evaluateTechnical(r, ctx.meta)
	case customRuleTime:
		var r TimeRule
		if err := json.Unmarshal(rule.Params, &r); err != nil {
			return false, nil
		}
		return evaluateTime(r, ctx.image.TakenAt)
	default:
		return false, nil
	}
}

// evaluateCustomChain combines an ordered rule list left to right: the
// first rule seeds the result, each subsequent rule's own Operator
// (AND/OR/NOT) combines its outcome into the running result.
func evaluateCustomChain(set CustomRuleSet, ctx imageContext) (bool, []string) {
	if len(set.Rules) == 0 {
		return false, nil
	}

	result, reasons := evaluateCustomRule(set.Rules[0], ctx)
	for _, rule := range set.Rules[1:] {
		matched, ruleReasons := evaluateCustomRule(rule, ctx)
		switch rule.Operator {
		case models.RuleAND:
			result = result && matched
		case models.RuleOR:
			result = result || matched
		case models.RuleNOT:
			result = result && !matched
		default:
			result = result && matched
		}
		if matched {
			reasons = append(reasons, ruleReasons...)
		}
	}
	return result, reasons
}
