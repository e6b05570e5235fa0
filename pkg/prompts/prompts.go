// Package prompts holds the system prompts and schema hints for every LLM
// decision point. Prompts are fixed; all request-specific material travels in
// the user payload so audits stay comparable across runs.
package prompts

import (
	"encoding/json"
	"fmt"
)

// ============================================================================
// System prompts
// ============================================================================

const (
	// IntentSystem drives understand_intent.
	IntentSystem = "你是意图理解器。请从用户输入中提取关键词、业务要素与目标动作，并给出一句话意图概述。" +
		"关键词用于检索数据属性；业务要素需保留原始取值（如手机号15101330234）。"

	// AnchorSystem drives select_anchor_ontologies.
	AnchorSystem = "你是锚点本体选择器。请从候选本体中选择最匹配用户意图的输入本体；" +
		"若任务需要跨本体处理，再给出目标本体。只能使用候选列表中的 code。" +
		"若 preferred_code 非空，优先选择它。"

	// InspectSystem drives inspect_ontology.
	InspectSystem = "你是本体资源检查器。请基于本体的 capabilities 与 objectProperties 列表，" +
		"决定执行能力（execute_capability）还是跨对象属性（execute_object_property），并给出对应 code。"

	// CapabilityPlanSystem drives the capability executor's planning call.
	CapabilityPlanSystem = "你是能力执行规划器。请基于 capability 详情与用户意图，" +
		"规划 mcp.data.query 或 mcp.data.group-analysis 参数。" +
		"若用户输入携带明确值（如手机号15101330234），需写入 filters。"

	// ObjectPropertyPlanSystem drives the object-property executor's planning call.
	ObjectPropertyPlanSystem = "你是对象属性执行规划器。请先选择目标本体，" +
		"再规划 mcp.data.query 或 mcp.data.group-analysis 参数。" +
		"filters 中 field 必须来自目标本体 attribute_catalog。"
)

// ============================================================================
// Schema hints
// ============================================================================

// IntentSchemaHint is the understand_intent reply shape.
const IntentSchemaHint = `{"keywords":["手机号"],` +
	`"business_elements":[{"name":"mobile","value":"15101330234","role":"filter"}],` +
	`"goal_actions":["query"],` +
	`"intent_summary":"按手机号查询用户信息"}`

// AnchorSchemaHint is the select_anchor_ontologies reply shape. At least one
// input code is required; target codes are optional traversal proposals.
const AnchorSchemaHint = `{"input_ontology_codes":["user_profile"],` +
	`"target_ontology_codes":[],` +
	`"reason":"用户意图围绕用户信息"}`

// InspectSchemaHint is the inspect_ontology reply shape.
const InspectSchemaHint = `{"action":"execute_capability",` +
	`"capability_code":"query_user","object_property_code":"",` +
	`"reason":"存在可直接执行的查询能力"}`

// DataPlanSchemaHint is the executor planning reply shape for a capability.
func DataPlanSchemaHint(classID int64) string {
	return fmt.Sprintf(`{"mode":"query","class_id":%d,`+
		`"filters":[{"field":"mobile","op":"eq","value":"15101330234"}],`+
		`"group_by":[],"metrics":[{"agg":"count","alias":"count"}],`+
		`"page":1,"page_size":20,"sort_field":null,"sort_order":"asc",`+
		`"reason":"按手机号精确查询"}`, classID)
}

// ObjectPropertyPlanSchemaHint extends the plan shape with the target
// ontology choice. targetOptions must be non-empty.
func ObjectPropertyPlanSchemaHint(classID int64, targetOptions []string) string {
	example := ""
	if len(targetOptions) > 0 {
		example = targetOptions[0]
	}
	code, _ := json.Marshal(example)
	return fmt.Sprintf(`{"target_ontology_code":%s,`+
		`"mode":"query","class_id":%d,`+
		`"filters":[{"field":"mobile","op":"eq","value":"15101330234"}],`+
		`"group_by":[],"metrics":[{"agg":"count","alias":"count"}],`+
		`"page":1,"page_size":20,"sort_field":null,"sort_order":"asc",`+
		`"reason":"跨对象属性后按字段过滤"}`, code, classID)
}
