package models

import (
	"time"
)

// ============================================================================
// Ontology Catalog (read-only for the engine)
// ============================================================================

// The engine never mutates these tables; the ontology CRUD surface lives in a
// separate service. Rows carry search_text and an optional embedding so the
// hybrid scorer can rank them.

// OntologyClass is one ontology (business object) in the tenant catalog.
type OntologyClass struct {
	ID          int64     `json:"id"`
	TenantID    string    `json:"tenant_id"`
	Code        string    `json:"code"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	SearchText  string    `json:"search_text"`
	Embedding   []float64 `json:"embedding,omitempty"`
	Status      int       `json:"status"`
	Version     int       `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// OntologyInheritanceEdge links a child class to a parent class.
type OntologyInheritanceEdge struct {
	ID            int64  `json:"id"`
	TenantID      string `json:"tenant_id"`
	ParentClassID int64  `json:"parent_class_id"`
	ChildClassID  int64  `json:"child_class_id"`
}

// OntologyDataAttribute is a named, typed attribute that classes reference.
type OntologyDataAttribute struct {
	ID          int64     `json:"id"`
	TenantID    string    `json:"tenant_id"`
	ClassID     *int64    `json:"class_id,omitempty"`
	Code        string    `json:"code"`
	Name        string    `json:"name"`
	DataType    string    `json:"data_type"`
	Required    bool      `json:"required"`
	Description string    `json:"description"`
	SearchText  string    `json:"search_text"`
	Embedding   []float64 `json:"embedding,omitempty"`
}

// OntologyRelation is an object property connecting domain classes to range
// classes. SkillMD carries free-form guidance for the planner.
type OntologyRelation struct {
	ID            int64     `json:"id"`
	TenantID      string    `json:"tenant_id"`
	SourceClassID *int64    `json:"source_class_id,omitempty"`
	TargetClassID *int64    `json:"target_class_id,omitempty"`
	Code          string    `json:"code"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	SearchText    string    `json:"search_text"`
	Embedding     []float64 `json:"embedding,omitempty"`
	SkillMD       string    `json:"skill_md,omitempty"`
	RelationType  string    `json:"relation_type"`
}

// OntologyCapability is an invokable action bound to classes.
type OntologyCapability struct {
	ID           int64          `json:"id"`
	TenantID     string         `json:"tenant_id"`
	ClassID      *int64         `json:"class_id,omitempty"`
	Code         string         `json:"code"`
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	SearchText   string         `json:"search_text"`
	Embedding    []float64      `json:"embedding,omitempty"`
	SkillMD      string         `json:"skill_md,omitempty"`
	InputSchema  map[string]any `json:"input_schema,omitempty"`
	OutputSchema map[string]any `json:"output_schema,omitempty"`
	DomainGroups [][]int64      `json:"domain_groups,omitempty"`
}

// OntologyClassAttrRef binds an attribute to a class.
type OntologyClassAttrRef struct {
	ID              int64  `json:"id"`
	TenantID        string `json:"tenant_id"`
	ClassID         int64  `json:"class_id"`
	DataAttributeID int64  `json:"data_attribute_id"`
}

// OntologyRelationClassRef binds a relation to a class on either its domain
// or range side.
type OntologyRelationClassRef struct {
	ID         int64  `json:"id"`
	TenantID   string `json:"tenant_id"`
	RelationID int64  `json:"relation_id"`
	ClassID    int64  `json:"class_id"`
}

// OntologyClassCapabilityRef binds a capability to a class.
type OntologyClassCapabilityRef struct {
	ID           int64  `json:"id"`
	TenantID     string `json:"tenant_id"`
	ClassID      int64  `json:"class_id"`
	CapabilityID int64  `json:"capability_id"`
	Enabled      bool   `json:"enabled"`
}

// OntologyClassTableBinding maps a class to its backing physical table.
type OntologyClassTableBinding struct {
	ID          int64  `json:"id"`
	TenantID    string `json:"tenant_id"`
	ClassID     int64  `json:"class_id"`
	TableName   string `json:"table_name"`
	TableSchema string `json:"table_schema,omitempty"`
}

// OntologyFieldMapping maps a bound attribute to a physical column name.
type OntologyFieldMapping struct {
	ID              int64  `json:"id"`
	TenantID        string `json:"tenant_id"`
	BindingID       int64  `json:"binding_id"`
	DataAttributeID int64  `json:"data_attribute_id"`
	FieldName       string `json:"field_name"`
}

// CatalogField is one entry of the attribute catalog handed to executors:
// the attribute plus the physical field name it binds to.
type CatalogField struct {
	AttributeID int64  `json:"attribute_id"`
	Code        string `json:"code"`
	Name        string `json:"name"`
	DataType    string `json:"data_type"`
	Description string `json:"description"`
	FieldName   string `json:"field_name"`
}
