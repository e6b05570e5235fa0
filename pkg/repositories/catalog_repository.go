package repositories

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/theworld-inc/theworld-engine/pkg/models"
)

// CatalogRepository is read-only access to the ontology metadata tables. The
// engine ranks and traverses this catalog; it never writes it. Ownership of
// the tables lives with the ontology CRUD service.
type CatalogRepository interface {
	ListClasses(ctx context.Context, tenantID string) ([]models.OntologyClass, error)
	ListInheritanceEdges(ctx context.Context, tenantID string) ([]models.OntologyInheritanceEdge, error)
	ListAttributes(ctx context.Context, tenantID string) ([]models.OntologyDataAttribute, error)
	ListRelations(ctx context.Context, tenantID string) ([]models.OntologyRelation, error)
	ListCapabilities(ctx context.Context, tenantID string) ([]models.OntologyCapability, error)

	ListClassAttrRefsByAttributeIDs(ctx context.Context, tenantID string, attributeIDs []int64) ([]models.OntologyClassAttrRef, error)
	ListClassAttrRefsByClassIDs(ctx context.Context, tenantID string, classIDs []int64) ([]models.OntologyClassAttrRef, error)
	ListRelationsByDomainClassIDs(ctx context.Context, tenantID string, classIDs []int64) ([]models.OntologyRelation, error)
	ListRelationDomainRefs(ctx context.Context, tenantID string, relationID int64) ([]models.OntologyRelationClassRef, error)
	ListRelationRangeRefs(ctx context.Context, tenantID string, relationID int64) ([]models.OntologyRelationClassRef, error)
	ListCapabilitiesByClassIDs(ctx context.Context, tenantID string, classIDs []int64) ([]models.OntologyCapability, error)

	GetTableBinding(ctx context.Context, tenantID string, classID int64) (*models.OntologyClassTableBinding, error)
	ListFieldMappings(ctx context.Context, tenantID string, bindingID int64) ([]models.OntologyFieldMapping, error)
}

type catalogRepository struct{}

// NewCatalogRepository creates a new catalog repository.
func NewCatalogRepository() CatalogRepository {
	return &catalogRepository{}
}

var _ CatalogRepository = (*catalogRepository)(nil)

const classColumns = `id, tenant_id, code, name, COALESCE(description, ''), COALESCE(search_text, ''), embedding, status, version, created_at, updated_at`

func (r *catalogRepository) ListClasses(ctx context.Context, tenantID string) ([]models.OntologyClass, error) {
	scope, err := scopeConn(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT ` + classColumns + `
		FROM ontology_class
		WHERE tenant_id = $1 AND status = 1
		ORDER BY id DESC`
	rows, err := scope.Conn.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("query ontology classes: %w", err)
	}
	defer rows.Close()

	var classes []models.OntologyClass
	for rows.Next() {
		var c models.OntologyClass
		err := rows.Scan(
			&c.ID, &c.TenantID, &c.Code, &c.Name, &c.Description, &c.SearchText,
			&c.Embedding, &c.Status, &c.Version, &c.CreatedAt, &c.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan ontology class: %w", err)
		}
		classes = append(classes, c)
	}
	return classes, rows.Err()
}

func (r *catalogRepository) ListInheritanceEdges(ctx context.Context, tenantID string) ([]models.OntologyInheritanceEdge, error) {
	scope, err := scopeConn(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, tenant_id, parent_class_id, child_class_id
		FROM ontology_inheritance
		WHERE tenant_id = $1`
	rows, err := scope.Conn.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("query inheritance edges: %w", err)
	}
	defer rows.Close()

	var edges []models.OntologyInheritanceEdge
	for rows.Next() {
		var e models.OntologyInheritanceEdge
		if err := rows.Scan(&e.ID, &e.TenantID, &e.ParentClassID, &e.ChildClassID); err != nil {
			return nil, fmt.Errorf("scan inheritance edge: %w", err)
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

func (r *catalogRepository) ListAttributes(ctx context.Context, tenantID string) ([]models.OntologyDataAttribute, error) {
	scope, err := scopeConn(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, tenant_id, class_id, code, name, data_type, required,
		       COALESCE(description, ''), COALESCE(search_text, ''), embedding
		FROM ontology_data_attribute
		WHERE tenant_id = $1`
	rows, err := scope.Conn.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("query data attributes: %w", err)
	}
	defer rows.Close()

	var attrs []models.OntologyDataAttribute
	for rows.Next() {
		var a models.OntologyDataAttribute
		err := rows.Scan(
			&a.ID, &a.TenantID, &a.ClassID, &a.Code, &a.Name, &a.DataType,
			&a.Required, &a.Description, &a.SearchText, &a.Embedding)
		if err != nil {
			return nil, fmt.Errorf("scan data attribute: %w", err)
		}
		attrs = append(attrs, a)
	}
	return attrs, rows.Err()
}

const relationColumns = `id, tenant_id, source_class_id, target_class_id, code, name,
	COALESCE(description, ''), COALESCE(search_text, ''), embedding, COALESCE(skill_md, ''), relation_type`

func scanRelations(rows pgx.Rows) ([]models.OntologyRelation, error) {
	defer rows.Close()
	var relations []models.OntologyRelation
	for rows.Next() {
		var rel models.OntologyRelation
		err := rows.Scan(
			&rel.ID, &rel.TenantID, &rel.SourceClassID, &rel.TargetClassID,
			&rel.Code, &rel.Name, &rel.Description, &rel.SearchText,
			&rel.Embedding, &rel.SkillMD, &rel.RelationType)
		if err != nil {
			return nil, fmt.Errorf("scan ontology relation: %w", err)
		}
		relations = append(relations, rel)
	}
	return relations, rows.Err()
}

func (r *catalogRepository) ListRelations(ctx context.Context, tenantID string) ([]models.OntologyRelation, error) {
	scope, err := scopeConn(ctx)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + relationColumns + ` FROM ontology_relation WHERE tenant_id = $1`
	rows, err := scope.Conn.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("query ontology relations: %w", err)
	}
	return scanRelations(rows)
}

func (r *catalogRepository) ListRelationsByDomainClassIDs(ctx context.Context, tenantID string, classIDs []int64) ([]models.OntologyRelation, error) {
	if len(classIDs) == 0 {
		return nil, nil
	}
	scope, err := scopeConn(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT DISTINCT r.id, r.tenant_id, r.source_class_id, r.target_class_id, r.code, r.name,
		       COALESCE(r.description, ''), COALESCE(r.search_text, ''), r.embedding,
		       COALESCE(r.skill_md, ''), r.relation_type
		FROM ontology_relation r
		JOIN ontology_relation_domain_ref d
		  ON d.tenant_id = r.tenant_id AND d.relation_id = r.id
		WHERE r.tenant_id = $1 AND d.class_id = ANY($2)`
	rows, err := scope.Conn.Query(ctx, query, tenantID, classIDs)
	if err != nil {
		return nil, fmt.Errorf("query relations by domain classes: %w", err)
	}
	return scanRelations(rows)
}

const capabilityColumns = `id, tenant_id, class_id, code, name, COALESCE(description, ''),
	COALESCE(search_text, ''), embedding, COALESCE(skill_md, ''), input_schema, output_schema, domain_groups_json`

func scanCapabilities(rows pgx.Rows) ([]models.OntologyCapability, error) {
	defer rows.Close()
	var caps []models.OntologyCapability
	for rows.Next() {
		var c models.OntologyCapability
		err := rows.Scan(
			&c.ID, &c.TenantID, &c.ClassID, &c.Code, &c.Name,
			&c.Description, &c.SearchText, &c.Embedding, &c.SkillMD,
			&c.InputSchema, &c.OutputSchema, &c.DomainGroups)
		if err != nil {
			return nil, fmt.Errorf("scan ontology capability: %w", err)
		}
		caps = append(caps, c)
	}
	return caps, rows.Err()
}

func (r *catalogRepository) ListCapabilities(ctx context.Context, tenantID string) ([]models.OntologyCapability, error) {
	scope, err := scopeConn(ctx)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + capabilityColumns + ` FROM ontology_capability WHERE tenant_id = $1`
	rows, err := scope.Conn.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("query ontology capabilities: %w", err)
	}
	return scanCapabilities(rows)
}

func (r *catalogRepository) ListCapabilitiesByClassIDs(ctx context.Context, tenantID string, classIDs []int64) ([]models.OntologyCapability, error) {
	if len(classIDs) == 0 {
		return nil, nil
	}
	scope, err := scopeConn(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT DISTINCT c.id, c.tenant_id, c.class_id, c.code, c.name, COALESCE(c.description, ''),
		       COALESCE(c.search_text, ''), c.embedding, COALESCE(c.skill_md, ''),
		       c.input_schema, c.output_schema, c.domain_groups_json
		FROM ontology_capability c
		JOIN ontology_class_capability_ref ref
		  ON ref.tenant_id = c.tenant_id AND ref.capability_id = c.id AND ref.enabled
		WHERE c.tenant_id = $1 AND ref.class_id = ANY($2)`
	rows, err := scope.Conn.Query(ctx, query, tenantID, classIDs)
	if err != nil {
		return nil, fmt.Errorf("query capabilities by classes: %w", err)
	}
	return scanCapabilities(rows)
}

func (r *catalogRepository) ListClassAttrRefsByAttributeIDs(ctx context.Context, tenantID string, attributeIDs []int64) ([]models.OntologyClassAttrRef, error) {
	if len(attributeIDs) == 0 {
		return nil, nil
	}
	return r.listClassAttrRefs(ctx, tenantID, `data_attribute_id = ANY($2)`, attributeIDs)
}

func (r *catalogRepository) ListClassAttrRefsByClassIDs(ctx context.Context, tenantID string, classIDs []int64) ([]models.OntologyClassAttrRef, error) {
	if len(classIDs) == 0 {
		return nil, nil
	}
	return r.listClassAttrRefs(ctx, tenantID, `class_id = ANY($2)`, classIDs)
}

func (r *catalogRepository) listClassAttrRefs(ctx context.Context, tenantID, condition string, ids []int64) ([]models.OntologyClassAttrRef, error) {
	scope, err := scopeConn(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, tenant_id, class_id, data_attribute_id
		FROM ontology_class_data_attr_ref
		WHERE tenant_id = $1 AND ` + condition
	rows, err := scope.Conn.Query(ctx, query, tenantID, ids)
	if err != nil {
		return nil, fmt.Errorf("query class attribute refs: %w", err)
	}
	defer rows.Close()

	var refs []models.OntologyClassAttrRef
	for rows.Next() {
		var ref models.OntologyClassAttrRef
		if err := rows.Scan(&ref.ID, &ref.TenantID, &ref.ClassID, &ref.DataAttributeID); err != nil {
			return nil, fmt.Errorf("scan class attribute ref: %w", err)
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func (r *catalogRepository) ListRelationDomainRefs(ctx context.Context, tenantID string, relationID int64) ([]models.OntologyRelationClassRef, error) {
	return r.listRelationRefs(ctx, tenantID, relationID, "ontology_relation_domain_ref")
}

func (r *catalogRepository) ListRelationRangeRefs(ctx context.Context, tenantID string, relationID int64) ([]models.OntologyRelationClassRef, error) {
	return r.listRelationRefs(ctx, tenantID, relationID, "ontology_relation_range_ref")
}

func (r *catalogRepository) listRelationRefs(ctx context.Context, tenantID string, relationID int64, table string) ([]models.OntologyRelationClassRef, error) {
	scope, err := scopeConn(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, tenant_id, relation_id, class_id
		FROM ` + table + `
		WHERE tenant_id = $1 AND relation_id = $2`
	rows, err := scope.Conn.Query(ctx, query, tenantID, relationID)
	if err != nil {
		return nil, fmt.Errorf("query relation refs from %s: %w", table, err)
	}
	defer rows.Close()

	var refs []models.OntologyRelationClassRef
	for rows.Next() {
		var ref models.OntologyRelationClassRef
		if err := rows.Scan(&ref.ID, &ref.TenantID, &ref.RelationID, &ref.ClassID); err != nil {
			return nil, fmt.Errorf("scan relation ref: %w", err)
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func (r *catalogRepository) GetTableBinding(ctx context.Context, tenantID string, classID int64) (*models.OntologyClassTableBinding, error) {
	scope, err := scopeConn(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, tenant_id, class_id, table_name, COALESCE(table_schema, '')
		FROM ontology_class_table_binding
		WHERE tenant_id = $1 AND class_id = $2`
	var binding models.OntologyClassTableBinding
	err = scope.Conn.QueryRow(ctx, query, tenantID, classID).Scan(
		&binding.ID, &binding.TenantID, &binding.ClassID, &binding.TableName, &binding.TableSchema)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("query table binding: %w", err)
	}
	return &binding, nil
}

func (r *catalogRepository) ListFieldMappings(ctx context.Context, tenantID string, bindingID int64) ([]models.OntologyFieldMapping, error) {
	scope, err := scopeConn(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, tenant_id, binding_id, data_attribute_id, field_name
		FROM ontology_class_field_mapping
		WHERE tenant_id = $1 AND binding_id = $2`
	rows, err := scope.Conn.Query(ctx, query, tenantID, bindingID)
	if err != nil {
		return nil, fmt.Errorf("query field mappings: %w", err)
	}
	defer rows.Close()

	var mappings []models.OntologyFieldMapping
	for rows.Next() {
		var m models.OntologyFieldMapping
		if err := rows.Scan(&m.ID, &m.TenantID, &m.BindingID, &m.DataAttributeID, &m.FieldName); err != nil {
			return nil, fmt.Errorf("scan field mapping: %w", err)
		}
		mappings = append(mappings, m)
	}
	return mappings, rows.Err()
}
