package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theworld-inc/theworld-engine/pkg/apperrors"
	"github.com/theworld-inc/theworld-engine/pkg/models"
)

// fakeCatalogRepo serves a small in-memory ontology graph:
//
//	base_entity <- user_profile (relation user_places_order -> order)
type fakeCatalogRepo struct {
	classes      []models.OntologyClass
	edges        []models.OntologyInheritanceEdge
	attrs        []models.OntologyDataAttribute
	relations    []models.OntologyRelation
	capabilities []models.OntologyCapability

	attrRefs      []models.OntologyClassAttrRef
	relDomainRefs map[int64][]models.OntologyRelationClassRef
	relRangeRefs  map[int64][]models.OntologyRelationClassRef
	capRefs       map[int64][]int64 // classID -> capabilityIDs
}

func newFakeCatalogRepo() *fakeCatalogRepo {
	return &fakeCatalogRepo{
		classes: []models.OntologyClass{
			{ID: 1, Code: "base_entity", Name: "Base Entity", Status: 1},
			{ID: 2, Code: "user_profile", Name: "User Profile", Description: "registered account holder", Status: 1},
			{ID: 3, Code: "order", Name: "Order", Description: "purchase order", Status: 1},
		},
		edges: []models.OntologyInheritanceEdge{{ParentClassID: 1, ChildClassID: 2}},
		attrs: []models.OntologyDataAttribute{
			{ID: 10, Code: "id", Name: "Identifier", DataType: "string"},
			{ID: 11, Code: "email", Name: "Email", DataType: "string", Description: "contact email"},
		},
		relations: []models.OntologyRelation{
			{ID: 20, Code: "user_places_order", Name: "Places Order", SkillMD: "join users to orders"},
		},
		capabilities: []models.OntologyCapability{
			{ID: 30, Code: "export_users", Name: "Export Users", SkillMD: "dump user rows", DomainGroups: [][]int64{{2}}},
		},
		attrRefs: []models.OntologyClassAttrRef{
			{ClassID: 1, DataAttributeID: 10},
			{ClassID: 2, DataAttributeID: 11},
		},
		relDomainRefs: map[int64][]models.OntologyRelationClassRef{
			20: {{RelationID: 20, ClassID: 2}},
		},
		relRangeRefs: map[int64][]models.OntologyRelationClassRef{
			20: {{RelationID: 20, ClassID: 3}},
		},
		capRefs: map[int64][]int64{2: {30}},
	}
}

func (r *fakeCatalogRepo) ListClasses(context.Context, string) ([]models.OntologyClass, error) {
	return r.classes, nil
}

func (r *fakeCatalogRepo) ListInheritanceEdges(context.Context, string) ([]models.OntologyInheritanceEdge, error) {
	return r.edges, nil
}

func (r *fakeCatalogRepo) ListAttributes(context.Context, string) ([]models.OntologyDataAttribute, error) {
	return r.attrs, nil
}

func (r *fakeCatalogRepo) ListRelations(context.Context, string) ([]models.OntologyRelation, error) {
	return r.relations, nil
}

func (r *fakeCatalogRepo) ListCapabilities(context.Context, string) ([]models.OntologyCapability, error) {
	return r.capabilities, nil
}

func (r *fakeCatalogRepo) ListClassAttrRefsByAttributeIDs(_ context.Context, _ string, attributeIDs []int64) ([]models.OntologyClassAttrRef, error) {
	wanted := map[int64]struct{}{}
	for _, id := range attributeIDs {
		wanted[id] = struct{}{}
	}
	var out []models.OntologyClassAttrRef
	for _, ref := range r.attrRefs {
		if _, ok := wanted[ref.DataAttributeID]; ok {
			out = append(out, ref)
		}
	}
	return out, nil
}

func (r *fakeCatalogRepo) ListClassAttrRefsByClassIDs(_ context.Context, _ string, classIDs []int64) ([]models.OntologyClassAttrRef, error) {
	wanted := map[int64]struct{}{}
	for _, id := range classIDs {
		wanted[id] = struct{}{}
	}
	var out []models.OntologyClassAttrRef
	for _, ref := range r.attrRefs {
		if _, ok := wanted[ref.ClassID]; ok {
			out = append(out, ref)
		}
	}
	return out, nil
}

func (r *fakeCatalogRepo) ListRelationsByDomainClassIDs(_ context.Context, _ string, classIDs []int64) ([]models.OntologyRelation, error) {
	wanted := map[int64]struct{}{}
	for _, id := range classIDs {
		wanted[id] = struct{}{}
	}
	var out []models.OntologyRelation
	for _, relation := range r.relations {
		for _, ref := range r.relDomainRefs[relation.ID] {
			if _, ok := wanted[ref.ClassID]; ok {
				out = append(out, relation)
				break
			}
		}
	}
	return out, nil
}

func (r *fakeCatalogRepo) ListRelationDomainRefs(_ context.Context, _ string, relationID int64) ([]models.OntologyRelationClassRef, error) {
	return r.relDomainRefs[relationID], nil
}

func (r *fakeCatalogRepo) ListRelationRangeRefs(_ context.Context, _ string, relationID int64) ([]models.OntologyRelationClassRef, error) {
	return r.relRangeRefs[relationID], nil
}

func (r *fakeCatalogRepo) ListCapabilitiesByClassIDs(_ context.Context, _ string, classIDs []int64) ([]models.OntologyCapability, error) {
	wanted := map[int64]struct{}{}
	for _, id := range classIDs {
		wanted[id] = struct{}{}
	}
	var out []models.OntologyCapability
	for classID, capIDs := range r.capRefs {
		if _, ok := wanted[classID]; !ok {
			continue
		}
		for _, capID := range capIDs {
			for _, capability := range r.capabilities {
				if capability.ID == capID {
					out = append(out, capability)
				}
			}
		}
	}
	return out, nil
}

func (r *fakeCatalogRepo) GetTableBinding(context.Context, string, int64) (*models.OntologyClassTableBinding, error) {
	return nil, nil
}

func (r *fakeCatalogRepo) ListFieldMappings(context.Context, string, int64) ([]models.OntologyFieldMapping, error) {
	return nil, nil
}

func newGraphServiceForTest() GraphToolService {
	return NewGraphToolService(newFakeCatalogRepo(), nil, nil)
}

func TestListOntologies_NoQuerySortsByName(t *testing.T) {
	svc := newGraphServiceForTest()

	rows, err := svc.ListOntologies(context.Background(), "tenant-a", SearchArgs{})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "base_entity", rows[0]["code"])
	assert.Equal(t, "order", rows[1]["code"])
	assert.Equal(t, "user_profile", rows[2]["code"])
	assert.Nil(t, rows[0]["score"])
	assert.Equal(t, "base_entity", rows[2]["parentCode"])
}

func TestListOntologies_QueryRanksAndScores(t *testing.T) {
	svc := newGraphServiceForTest()

	rows, err := svc.ListOntologies(context.Background(), "tenant-a", SearchArgs{Query: "user profile"})
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	assert.Equal(t, "user_profile", rows[0]["code"])
	score, ok := rows[0]["score"].(float64)
	require.True(t, ok)
	assert.Greater(t, score, 0.0)
}

func TestListDataAttributes_CodeFilter(t *testing.T) {
	svc := newGraphServiceForTest()

	rows, err := svc.ListDataAttributes(context.Background(), "tenant-a", SearchArgs{Codes: []string{"email"}})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "email", rows[0]["code"])
	assert.Equal(t, "string", rows[0]["dataType"])
}

func TestDataAttributeRelatedOntologies_UnknownCodePlaceholder(t *testing.T) {
	svc := newGraphServiceForTest()

	rows, err := svc.DataAttributeRelatedOntologies(context.Background(), "tenant-a", []string{"email", "missing_attr"})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	// Sorted by code: email first.
	emailRow := rows[0]
	attr, _ := emailRow["dataAttribute"].(map[string]any)
	assert.Equal(t, "email", attr["code"])
	ontologies, _ := emailRow["ontologies"].([]map[string]any)
	require.Len(t, ontologies, 1)
	assert.Equal(t, "user_profile", ontologies[0]["code"])

	missingRow := rows[1]
	attr, _ = missingRow["dataAttribute"].(map[string]any)
	assert.Equal(t, "missing_attr", attr["code"])
	assert.Empty(t, missingRow["ontologies"])
}

func TestOntologyRelatedResources_InheritanceAware(t *testing.T) {
	svc := newGraphServiceForTest()

	rows, err := svc.OntologyRelatedResources(context.Background(), "tenant-a", []string{"user_profile"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	row := rows[0]

	attrs, _ := row["dataAttributes"].([]map[string]any)
	require.Len(t, attrs, 2)
	byCode := map[string]map[string]any{}
	for _, item := range attrs {
		byCode[item["code"].(string)] = item
	}
	assert.Equal(t, "self", byCode["email"]["bindingSource"])
	assert.Equal(t, "inherited", byCode["id"]["bindingSource"])

	props, _ := row["objectProperties"].([]map[string]any)
	require.Len(t, props, 1)
	assert.Equal(t, "user_places_order", props[0]["code"])
	assert.Equal(t, "self", props[0]["bindingSource"])
	assert.Equal(t, []string{"domain"}, props[0]["roles"])

	caps, _ := row["capabilities"].([]map[string]any)
	require.Len(t, caps, 1)
	assert.Equal(t, "export_users", caps[0]["code"])

	parents, _ := row["parentOntologies"].([]map[string]any)
	require.Len(t, parents, 1)
	assert.Equal(t, "base_entity", parents[0]["code"])
}

func TestObjectPropertyDetails_DomainAndRange(t *testing.T) {
	svc := newGraphServiceForTest()

	rows, err := svc.ObjectPropertyDetails(context.Background(), "tenant-a", []string{"user_places_order"})
	require.NoError(t, err)
	require.Len(t, rows, 1)

	domain, _ := rows[0]["domain"].([]map[string]any)
	require.Len(t, domain, 1)
	assert.Equal(t, "user_profile", domain[0]["code"])
	ranges, _ := rows[0]["range"].([]map[string]any)
	require.Len(t, ranges, 1)
	assert.Equal(t, "order", ranges[0]["code"])
	assert.Equal(t, "join users to orders", rows[0]["skill"])
}

func TestCapabilityDetails_DomainGroups(t *testing.T) {
	svc := newGraphServiceForTest()

	rows, err := svc.CapabilityDetails(context.Background(), "tenant-a", []string{"export_users"})
	require.NoError(t, err)
	require.Len(t, rows, 1)

	groups, _ := rows[0]["domain"].([]map[string]any)
	require.Len(t, groups, 1)
	assert.Equal(t, "Group 1", groups[0]["groupName"])
	ontologies, _ := groups[0]["ontologies"].([]map[string]any)
	require.Len(t, ontologies, 1)
	assert.Equal(t, "User Profile", ontologies[0]["name"])
}

func TestCallTool_UnknownName(t *testing.T) {
	svc := newGraphServiceForTest()

	_, err := svc.CallTool(context.Background(), "tenant-a", "graph.unknown", nil)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))
	assert.Contains(t, err.Error(), "unknown tool name: graph.unknown")
}

func TestCallTool_CoercesJSONArguments(t *testing.T) {
	svc := newGraphServiceForTest()

	result, err := svc.CallTool(context.Background(), "tenant-a", ToolListOntologies, map[string]any{
		"query":    "order",
		"top_n":    float64(5),
		"w_sparse": float64(1),
		"w_dense":  float64(0),
	})
	require.NoError(t, err)
	rows, ok := result.([]map[string]any)
	require.True(t, ok)
	require.NotEmpty(t, rows)
	assert.Equal(t, "order", rows[0]["code"])
}

func TestListTools_CoversAllEight(t *testing.T) {
	tools := newGraphServiceForTest().ListTools()
	require.Len(t, tools, 8)

	names := map[string]bool{}
	for _, tool := range tools {
		names[tool.Name] = true
		assert.NotEmpty(t, tool.Description)
		assert.NotNil(t, tool.InputSchema)
	}
	for _, expected := range []string{
		ToolListDataAttributes, ToolListOntologies, ToolDataAttributeRelatedOntologes,
		ToolOntologyRelatedResources, ToolOntologyDetails, ToolDataAttributeDetails,
		ToolObjectPropertyDetails, ToolCapabilityDetails,
	} {
		assert.True(t, names[expected], expected)
	}
}
