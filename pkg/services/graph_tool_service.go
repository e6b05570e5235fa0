package services

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/theworld-inc/theworld-engine/pkg/apperrors"
	"github.com/theworld-inc/theworld-engine/pkg/database"
	"github.com/theworld-inc/theworld-engine/pkg/models"
	"github.com/theworld-inc/theworld-engine/pkg/repositories"
	"github.com/theworld-inc/theworld-engine/pkg/retrieval"
)

// Graph tool names. The reasoning agent and the MCP surface share this set.
const (
	ToolListDataAttributes            = "graph.list_data_attributes"
	ToolListOntologies                = "graph.list_ontologies"
	ToolDataAttributeRelatedOntologes = "graph.get_data_attribute_related_ontologies"
	ToolOntologyRelatedResources      = "graph.get_ontology_related_resources"
	ToolOntologyDetails               = "graph.get_ontology_details"
	ToolDataAttributeDetails          = "graph.get_data_attribute_details"
	ToolObjectPropertyDetails         = "graph.get_object_property_details"
	ToolCapabilityDetails             = "graph.get_capability_details"
)

// Hybrid search defaults shared by the two list tools.
const (
	DefaultSearchTopN     = 200
	DefaultSearchScoreGap = 0.0
)

// ToolDescriptor describes one tool for tools/list.
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// SearchArgs are the shared hybrid-search knobs.
type SearchArgs struct {
	Query    string
	Codes    []string
	TopN     int
	ScoreGap float64
	WSparse  float64
	WDense   float64
}

// GraphToolService answers the graph.* catalog tools: hybrid search over
// classes and attributes plus inheritance-aware neighborhood expansion.
type GraphToolService interface {
	ListTools() []ToolDescriptor
	CallTool(ctx context.Context, tenantID, toolName string, arguments map[string]any) (any, error)

	ListDataAttributes(ctx context.Context, tenantID string, args SearchArgs) ([]map[string]any, error)
	ListOntologies(ctx context.Context, tenantID string, args SearchArgs) ([]map[string]any, error)
	DataAttributeRelatedOntologies(ctx context.Context, tenantID string, attributeCodes []string) ([]map[string]any, error)
	OntologyRelatedResources(ctx context.Context, tenantID string, ontologyCodes []string) ([]map[string]any, error)
	OntologyDetails(ctx context.Context, tenantID string, ontologyCodes []string) ([]map[string]any, error)
	DataAttributeDetails(ctx context.Context, tenantID string, attributeCodes []string) ([]map[string]any, error)
	ObjectPropertyDetails(ctx context.Context, tenantID string, objectPropertyCodes []string) ([]map[string]any, error)
	CapabilityDetails(ctx context.Context, tenantID string, capabilityCodes []string) ([]map[string]any, error)
}

type graphToolService struct {
	repo     repositories.CatalogRepository
	embedder retrieval.Embedder
	logger   *zap.Logger
}

// NewGraphToolService creates the graph tool service. embedder may be nil to
// disable dense scoring.
func NewGraphToolService(repo repositories.CatalogRepository, embedder retrieval.Embedder, logger *zap.Logger) GraphToolService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &graphToolService{repo: repo, embedder: embedder, logger: logger.Named("graph_tools")}
}

var _ GraphToolService = (*graphToolService)(nil)

// ============================================================================
// Shared helpers
// ============================================================================

func normalizeCodeSet(codes []string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, code := range codes {
		if trimmed := strings.TrimSpace(code); trimmed != "" {
			out[trimmed] = struct{}{}
		}
	}
	return out
}

func sortedCodes(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for code := range set {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

func searchTextOf(searchText, name, code, description string) string {
	if strings.TrimSpace(searchText) != "" {
		return searchText
	}
	return strings.TrimSpace(name + " " + code + " " + description)
}

// sortByNameCode orders rows by (name, code), the stable no-query ordering.
func sortByNameCode(rows []map[string]any) {
	sort.SliceStable(rows, func(i, j int) bool {
		ni, _ := rows[i]["name"].(string)
		nj, _ := rows[j]["name"].(string)
		if ni != nj {
			return ni < nj
		}
		ci, _ := rows[i]["code"].(string)
		cj, _ := rows[j]["code"].(string)
		return ci < cj
	})
}

func attributeBasic(attr *models.OntologyDataAttribute) map[string]any {
	return map[string]any{
		"name":        attr.Name,
		"code":        attr.Code,
		"dataType":    attr.DataType,
		"description": attr.Description,
	}
}

func objectPropertyBasic(rel *models.OntologyRelation) map[string]any {
	return map[string]any{
		"name":        rel.Name,
		"code":        rel.Code,
		"description": rel.Description,
	}
}

func capabilityBasic(capability *models.OntologyCapability) map[string]any {
	return map[string]any{
		"name":        capability.Name,
		"code":        capability.Code,
		"description": capability.Description,
	}
}

// classContext is the per-call snapshot of the class graph.
type classContext struct {
	classes             []models.OntologyClass
	byID                map[int64]*models.OntologyClass
	byCode              map[string]*models.OntologyClass
	parentIDsByChildID  map[int64][]int64
	childIDsByParentID  map[int64][]int64
	parentCodeByClassID map[int64]string
}

func (s *graphToolService) loadClassContext(ctx context.Context, tenantID string) (*classContext, error) {
	classes, err := s.repo.ListClasses(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	edges, err := s.repo.ListInheritanceEdges(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	cc := &classContext{
		classes:             classes,
		byID:                map[int64]*models.OntologyClass{},
		byCode:              map[string]*models.OntologyClass{},
		parentIDsByChildID:  map[int64][]int64{},
		childIDsByParentID:  map[int64][]int64{},
		parentCodeByClassID: map[int64]string{},
	}
	for i := range classes {
		class := &classes[i]
		cc.byID[class.ID] = class
		cc.byCode[class.Code] = class
	}

	parentCodes := map[int64][]string{}
	for _, edge := range edges {
		parent, parentOK := cc.byID[edge.ParentClassID]
		child, childOK := cc.byID[edge.ChildClassID]
		if !parentOK || !childOK {
			continue
		}
		cc.parentIDsByChildID[child.ID] = append(cc.parentIDsByChildID[child.ID], parent.ID)
		cc.childIDsByParentID[parent.ID] = append(cc.childIDsByParentID[parent.ID], child.ID)
		parentCodes[child.ID] = append(parentCodes[child.ID], parent.Code)
	}
	// Multiple inheritance keeps the lexicographically first parent as the
	// display parentCode.
	for classID, codes := range parentCodes {
		sort.Strings(codes)
		cc.parentCodeByClassID[classID] = codes[0]
	}
	return cc, nil
}

func (cc *classContext) ontologyBasic(class *models.OntologyClass) map[string]any {
	var parentCode any
	if code, ok := cc.parentCodeByClassID[class.ID]; ok {
		parentCode = code
	}
	return map[string]any{
		"name":        class.Name,
		"code":        class.Code,
		"parentCode":  parentCode,
		"description": class.Description,
	}
}

// ancestors walks the parent edges breadth-first, deduplicated, excluding the
// start class itself.
func (cc *classContext) ancestors(classID int64) []int64 {
	var ordered []int64
	visited := map[int64]struct{}{}
	queue := append([]int64{}, cc.parentIDsByChildID[classID]...)
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if _, seen := visited[current]; seen {
			continue
		}
		visited[current] = struct{}{}
		ordered = append(ordered, current)
		queue = append(queue, cc.parentIDsByChildID[current]...)
	}
	return ordered
}

// rankRows runs the hybrid scorer over rows keyed by code and returns them
// reordered with a "score" value, trimmed by topN and gap.
func (s *graphToolService) rankRows(ctx context.Context, args SearchArgs, rows []map[string]any, records []retrieval.Record) []map[string]any {
	topN := args.TopN
	if topN <= 0 {
		topN = DefaultSearchTopN
	}
	scoreGap := args.ScoreGap
	if scoreGap < 0 {
		scoreGap = DefaultSearchScoreGap
	}
	wSparse, wDense := args.WSparse, args.WDense
	if wSparse < 0 {
		wSparse = retrieval.DefaultSparseWeight
	}
	if wDense < 0 {
		wDense = retrieval.DefaultDenseWeight
	}
	if wSparse == 0 && wDense == 0 {
		wSparse, wDense = retrieval.DefaultSparseWeight, retrieval.DefaultDenseWeight
	}

	// pg_trgm sparse scores when a tenant-scoped connection is available;
	// nil falls back to the in-process token overlap.
	var sparseOverrides []float64
	if scope, ok := database.GetTenantScope(ctx); ok && scope != nil {
		docs := make([]string, len(records))
		for i, record := range records {
			docs[i] = retrieval.Preprocess(record.SearchText)
		}
		sparseOverrides = retrieval.TrigramSparseScores(ctx, scope.Conn, args.Query, docs)
	}

	scored := retrieval.ScoreRecords(args.Query, records, wSparse, wDense, sparseOverrides, s.embedder)
	scored = retrieval.ApplyTopNAndGap(scored, topN, scoreGap)

	rowByCode := map[string]map[string]any{}
	for _, row := range rows {
		if code, ok := row["code"].(string); ok {
			rowByCode[code] = row
		}
	}
	ordered := make([]map[string]any, 0, len(scored))
	for _, item := range scored {
		row, ok := rowByCode[item.Code]
		if !ok {
			continue
		}
		row["score"] = item.Score
		ordered = append(ordered, row)
	}
	return ordered
}

// ============================================================================
// Tool implementations
// ============================================================================

func (s *graphToolService) ListDataAttributes(ctx context.Context, tenantID string, args SearchArgs) ([]map[string]any, error) {
	codeFilter := normalizeCodeSet(args.Codes)
	attrs, err := s.repo.ListAttributes(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	rows := make([]map[string]any, 0, len(attrs))
	records := make([]retrieval.Record, 0, len(attrs))
	for i := range attrs {
		attr := &attrs[i]
		if len(codeFilter) > 0 {
			if _, ok := codeFilter[attr.Code]; !ok {
				continue
			}
		}
		row := attributeBasic(attr)
		row["score"] = nil
		rows = append(rows, row)
		records = append(records, retrieval.Record{
			Code:       attr.Code,
			SearchText: searchTextOf(attr.SearchText, attr.Name, attr.Code, attr.Description),
			Embedding:  attr.Embedding,
		})
	}

	if strings.TrimSpace(args.Query) != "" {
		return s.rankRows(ctx, args, rows, records), nil
	}
	sortByNameCode(rows)
	return rows, nil
}

func (s *graphToolService) ListOntologies(ctx context.Context, tenantID string, args SearchArgs) ([]map[string]any, error) {
	codeFilter := normalizeCodeSet(args.Codes)
	cc, err := s.loadClassContext(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	rows := make([]map[string]any, 0, len(cc.classes))
	records := make([]retrieval.Record, 0, len(cc.classes))
	for i := range cc.classes {
		class := &cc.classes[i]
		if len(codeFilter) > 0 {
			if _, ok := codeFilter[class.Code]; !ok {
				continue
			}
		}
		row := cc.ontologyBasic(class)
		row["score"] = nil
		rows = append(rows, row)
		records = append(records, retrieval.Record{
			Code:       class.Code,
			SearchText: searchTextOf(class.SearchText, class.Name, class.Code, class.Description),
			Embedding:  class.Embedding,
		})
	}

	if strings.TrimSpace(args.Query) != "" {
		return s.rankRows(ctx, args, rows, records), nil
	}
	sortByNameCode(rows)
	return rows, nil
}

func (s *graphToolService) DataAttributeRelatedOntologies(ctx context.Context, tenantID string, attributeCodes []string) ([]map[string]any, error) {
	targetCodes := normalizeCodeSet(attributeCodes)
	if len(targetCodes) == 0 {
		return []map[string]any{}, nil
	}

	attrs, err := s.repo.ListAttributes(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	attrByCode := map[string]*models.OntologyDataAttribute{}
	for i := range attrs {
		attrByCode[attrs[i].Code] = &attrs[i]
	}

	var targetAttrIDs []int64
	for code := range targetCodes {
		if attr, ok := attrByCode[code]; ok {
			targetAttrIDs = append(targetAttrIDs, attr.ID)
		}
	}
	refs, err := s.repo.ListClassAttrRefsByAttributeIDs(ctx, tenantID, targetAttrIDs)
	if err != nil {
		return nil, err
	}
	cc, err := s.loadClassContext(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	classIDsByAttrID := map[int64]map[int64]struct{}{}
	for _, ref := range refs {
		if classIDsByAttrID[ref.DataAttributeID] == nil {
			classIDsByAttrID[ref.DataAttributeID] = map[int64]struct{}{}
		}
		classIDsByAttrID[ref.DataAttributeID][ref.ClassID] = struct{}{}
	}

	output := make([]map[string]any, 0, len(targetCodes))
	for _, code := range sortedCodes(targetCodes) {
		attr, ok := attrByCode[code]
		if !ok {
			output = append(output, map[string]any{
				"dataAttribute": map[string]any{"code": code},
				"ontologies":    []map[string]any{},
			})
			continue
		}
		classIDs := make([]int64, 0, len(classIDsByAttrID[attr.ID]))
		for classID := range classIDsByAttrID[attr.ID] {
			classIDs = append(classIDs, classID)
		}
		sort.Slice(classIDs, func(i, j int) bool { return classIDs[i] < classIDs[j] })

		ontologies := make([]map[string]any, 0, len(classIDs))
		for _, classID := range classIDs {
			if class, exists := cc.byID[classID]; exists {
				ontologies = append(ontologies, cc.ontologyBasic(class))
			}
		}
		output = append(output, map[string]any{
			"dataAttribute": attributeBasic(attr),
			"ontologies":    ontologies,
		})
	}
	return output, nil
}

func (s *graphToolService) OntologyRelatedResources(ctx context.Context, tenantID string, ontologyCodes []string) ([]map[string]any, error) {
	targetCodes := normalizeCodeSet(ontologyCodes)
	if len(targetCodes) == 0 {
		return []map[string]any{}, nil
	}

	cc, err := s.loadClassContext(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	attrs, err := s.repo.ListAttributes(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	attrByID := map[int64]*models.OntologyDataAttribute{}
	for i := range attrs {
		attrByID[attrs[i].ID] = &attrs[i]
	}

	output := make([]map[string]any, 0, len(targetCodes))
	for _, ontologyCode := range sortedCodes(targetCodes) {
		class, ok := cc.byCode[ontologyCode]
		if !ok {
			output = append(output, map[string]any{
				"ontology":         map[string]any{"code": ontologyCode},
				"dataAttributes":   []map[string]any{},
				"objectProperties": []map[string]any{},
				"capabilities":     []map[string]any{},
			})
			continue
		}

		ancestorIDs := cc.ancestors(class.ID)
		scopeIDs := map[int64]struct{}{class.ID: {}}
		for _, id := range ancestorIDs {
			scopeIDs[id] = struct{}{}
		}

		attrItems, err := s.inheritedAttributes(ctx, tenantID, class.ID, ancestorIDs, attrByID)
		if err != nil {
			return nil, err
		}
		objectProps, err := s.inheritedObjectProperties(ctx, tenantID, class.ID, ancestorIDs, scopeIDs)
		if err != nil {
			return nil, err
		}
		caps, err := s.inheritedCapabilities(ctx, tenantID, class.ID, ancestorIDs)
		if err != nil {
			return nil, err
		}

		output = append(output, map[string]any{
			"ontology":         cc.ontologyBasic(class),
			"parentOntologies": cc.neighborOntologies(cc.parentIDsByChildID[class.ID]),
			"childOntologies":  cc.neighborOntologies(cc.childIDsByParentID[class.ID]),
			"dataAttributes":   attrItems,
			"objectProperties": objectProps,
			"capabilities":     caps,
		})
	}
	return output, nil
}

func (cc *classContext) neighborOntologies(ids []int64) []map[string]any {
	unique := map[int64]struct{}{}
	for _, id := range ids {
		unique[id] = struct{}{}
	}
	ordered := make([]int64, 0, len(unique))
	for id := range unique {
		ordered = append(ordered, id)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })

	out := make([]map[string]any, 0, len(ordered))
	for _, id := range ordered {
		if class, ok := cc.byID[id]; ok {
			out = append(out, cc.ontologyBasic(class))
		}
	}
	return out
}

func (s *graphToolService) inheritedAttributes(ctx context.Context, tenantID string, classID int64, ancestorIDs []int64, attrByID map[int64]*models.OntologyDataAttribute) ([]map[string]any, error) {
	directRefs, err := s.repo.ListClassAttrRefsByClassIDs(ctx, tenantID, []int64{classID})
	if err != nil {
		return nil, err
	}
	inheritedRefs, err := s.repo.ListClassAttrRefsByClassIDs(ctx, tenantID, ancestorIDs)
	if err != nil {
		return nil, err
	}

	directIDs := map[int64]struct{}{}
	allIDs := map[int64]struct{}{}
	for _, ref := range directRefs {
		directIDs[ref.DataAttributeID] = struct{}{}
		allIDs[ref.DataAttributeID] = struct{}{}
	}
	for _, ref := range inheritedRefs {
		allIDs[ref.DataAttributeID] = struct{}{}
	}

	items := make([]map[string]any, 0, len(allIDs))
	for attrID := range allIDs {
		attr, ok := attrByID[attrID]
		if !ok {
			continue
		}
		row := attributeBasic(attr)
		if _, direct := directIDs[attrID]; direct {
			row["bindingSource"] = "self"
		} else {
			row["bindingSource"] = "inherited"
		}
		items = append(items, row)
	}
	sortByNameCode(items)
	return items, nil
}

func (s *graphToolService) inheritedObjectProperties(ctx context.Context, tenantID string, classID int64, ancestorIDs []int64, scopeIDs map[int64]struct{}) ([]map[string]any, error) {
	direct, err := s.repo.ListRelationsByDomainClassIDs(ctx, tenantID, []int64{classID})
	if err != nil {
		return nil, err
	}
	inherited, err := s.repo.ListRelationsByDomainClassIDs(ctx, tenantID, ancestorIDs)
	if err != nil {
		return nil, err
	}

	directIDs := map[int64]struct{}{}
	relationByID := map[int64]*models.OntologyRelation{}
	for i := range direct {
		directIDs[direct[i].ID] = struct{}{}
		relationByID[direct[i].ID] = &direct[i]
	}
	for i := range inherited {
		if _, exists := relationByID[inherited[i].ID]; !exists {
			relationByID[inherited[i].ID] = &inherited[i]
		}
	}

	items := make([]map[string]any, 0, len(relationByID))
	for relationID, relation := range relationByID {
		row := objectPropertyBasic(relation)
		if _, isDirect := directIDs[relationID]; isDirect {
			row["bindingSource"] = "self"
		} else {
			row["bindingSource"] = "inherited"
		}

		domainRefs, err := s.repo.ListRelationDomainRefs(ctx, tenantID, relationID)
		if err != nil {
			return nil, err
		}
		rangeRefs, err := s.repo.ListRelationRangeRefs(ctx, tenantID, relationID)
		if err != nil {
			return nil, err
		}
		roles := []string{}
		if refsIntersect(domainRefs, scopeIDs) {
			roles = append(roles, "domain")
		}
		if refsIntersect(rangeRefs, scopeIDs) {
			roles = append(roles, "range")
		}
		row["roles"] = roles
		items = append(items, row)
	}
	sortByNameCode(items)
	return items, nil
}

func refsIntersect(refs []models.OntologyRelationClassRef, scopeIDs map[int64]struct{}) bool {
	for _, ref := range refs {
		if _, ok := scopeIDs[ref.ClassID]; ok {
			return true
		}
	}
	return false
}

func (s *graphToolService) inheritedCapabilities(ctx context.Context, tenantID string, classID int64, ancestorIDs []int64) ([]map[string]any, error) {
	direct, err := s.repo.ListCapabilitiesByClassIDs(ctx, tenantID, []int64{classID})
	if err != nil {
		return nil, err
	}
	inherited, err := s.repo.ListCapabilitiesByClassIDs(ctx, tenantID, ancestorIDs)
	if err != nil {
		return nil, err
	}

	directIDs := map[int64]struct{}{}
	capByID := map[int64]*models.OntologyCapability{}
	for i := range direct {
		directIDs[direct[i].ID] = struct{}{}
		capByID[direct[i].ID] = &direct[i]
	}
	for i := range inherited {
		if _, exists := capByID[inherited[i].ID]; !exists {
			capByID[inherited[i].ID] = &inherited[i]
		}
	}

	items := make([]map[string]any, 0, len(capByID))
	for capID, capability := range capByID {
		row := capabilityBasic(capability)
		if _, isDirect := directIDs[capID]; isDirect {
			row["bindingSource"] = "self"
		} else {
			row["bindingSource"] = "inherited"
		}
		items = append(items, row)
	}
	sortByNameCode(items)
	return items, nil
}

func (s *graphToolService) OntologyDetails(ctx context.Context, tenantID string, ontologyCodes []string) ([]map[string]any, error) {
	items, err := s.OntologyRelatedResources(ctx, tenantID, ontologyCodes)
	if err != nil {
		return nil, err
	}

	output := make([]map[string]any, 0, len(items))
	for _, item := range items {
		ontology, _ := item["ontology"].(map[string]any)
		row := map[string]any{
			"name":             ontology["name"],
			"code":             ontology["code"],
			"parentCode":       ontology["parentCode"],
			"description":      ontology["description"],
			"parentOntologies": valueOrEmpty(item, "parentOntologies"),
			"childOntologies":  valueOrEmpty(item, "childOntologies"),
			"dataAttributes":   valueOrEmpty(item, "dataAttributes"),
			"objectProperties": valueOrEmpty(item, "objectProperties"),
			"capabilities":     valueOrEmpty(item, "capabilities"),
		}
		output = append(output, row)
	}
	return output, nil
}

func valueOrEmpty(item map[string]any, key string) any {
	if value, ok := item[key]; ok && value != nil {
		return value
	}
	return []map[string]any{}
}

func (s *graphToolService) DataAttributeDetails(ctx context.Context, tenantID string, attributeCodes []string) ([]map[string]any, error) {
	return s.ListDataAttributes(ctx, tenantID, SearchArgs{Codes: attributeCodes})
}

func (s *graphToolService) ObjectPropertyDetails(ctx context.Context, tenantID string, objectPropertyCodes []string) ([]map[string]any, error) {
	targetCodes := normalizeCodeSet(objectPropertyCodes)
	if len(targetCodes) == 0 {
		return []map[string]any{}, nil
	}

	cc, err := s.loadClassContext(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	relations, err := s.repo.ListRelations(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	output := make([]map[string]any, 0, len(targetCodes))
	for i := range relations {
		relation := &relations[i]
		if _, wanted := targetCodes[relation.Code]; !wanted {
			continue
		}
		domainRefs, err := s.repo.ListRelationDomainRefs(ctx, tenantID, relation.ID)
		if err != nil {
			return nil, err
		}
		rangeRefs, err := s.repo.ListRelationRangeRefs(ctx, tenantID, relation.ID)
		if err != nil {
			return nil, err
		}
		output = append(output, map[string]any{
			"name":        relation.Name,
			"code":        relation.Code,
			"description": relation.Description,
			"domain":      cc.classNameRows(domainRefs),
			"range":       cc.classNameRows(rangeRefs),
			"skill":       relation.SkillMD,
		})
	}
	sortByNameCode(output)
	return output, nil
}

func (cc *classContext) classNameRows(refs []models.OntologyRelationClassRef) []map[string]any {
	rows := make([]map[string]any, 0, len(refs))
	for _, ref := range refs {
		if class, ok := cc.byID[ref.ClassID]; ok {
			rows = append(rows, map[string]any{"name": class.Name, "code": class.Code})
		}
	}
	sortByNameCode(rows)
	return rows
}

func (s *graphToolService) CapabilityDetails(ctx context.Context, tenantID string, capabilityCodes []string) ([]map[string]any, error) {
	targetCodes := normalizeCodeSet(capabilityCodes)
	if len(targetCodes) == 0 {
		return []map[string]any{}, nil
	}

	cc, err := s.loadClassContext(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	capabilities, err := s.repo.ListCapabilities(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	output := make([]map[string]any, 0, len(targetCodes))
	for i := range capabilities {
		capability := &capabilities[i]
		if _, wanted := targetCodes[capability.Code]; !wanted {
			continue
		}
		domainGroups := make([]map[string]any, 0, len(capability.DomainGroups))
		for idx, group := range capability.DomainGroups {
			ontologies := make([]map[string]any, 0, len(group))
			for _, classID := range group {
				if class, ok := cc.byID[classID]; ok {
					ontologies = append(ontologies, map[string]any{"name": class.Name, "code": class.Code})
				}
			}
			sortByNameCode(ontologies)
			domainGroups = append(domainGroups, map[string]any{
				"groupName":  "Group " + strconv.Itoa(idx+1),
				"ontologies": ontologies,
			})
		}
		output = append(output, map[string]any{
			"name":        capability.Name,
			"code":        capability.Code,
			"description": capability.Description,
			"domain":      domainGroups,
			"skill":       capability.SkillMD,
		})
	}
	sortByNameCode(output)
	return output, nil
}

// ============================================================================
// Tool surface
// ============================================================================

var searchInputSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"query":     map[string]any{"type": "string"},
		"codes":     map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"top_n":     map[string]any{"type": "integer", "minimum": 1},
		"score_gap": map[string]any{"type": "number", "minimum": 0},
		"w_sparse":  map[string]any{"type": "number", "minimum": 0},
		"w_dense":   map[string]any{"type": "number", "minimum": 0},
	},
}

func codesInputSchema(field string) map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{field},
		"properties": map[string]any{
			field: map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
	}
}

func (s *graphToolService) ListTools() []ToolDescriptor {
	return []ToolDescriptor{
		{
			Name:        ToolListDataAttributes,
			Description: "Hybrid search Data Attributes by keyword + vector over name/code/description.",
			InputSchema: searchInputSchema,
		},
		{
			Name:        ToolListOntologies,
			Description: "Hybrid search Ontologies by keyword + vector over name/code/description.",
			InputSchema: searchInputSchema,
		},
		{
			Name:        ToolDataAttributeRelatedOntologes,
			Description: "Query Ontologies associated with one or more Data Attributes.",
			InputSchema: codesInputSchema("attributeCodes"),
		},
		{
			Name:        ToolOntologyRelatedResources,
			Description: "Query Data Attributes/Object Properties/Capabilities associated with Ontologies.",
			InputSchema: codesInputSchema("ontologyCodes"),
		},
		{
			Name:        ToolOntologyDetails,
			Description: "Query ontology details by one or more codes.",
			InputSchema: codesInputSchema("ontologyCodes"),
		},
		{
			Name:        ToolDataAttributeDetails,
			Description: "Query data attribute details by one or more codes.",
			InputSchema: codesInputSchema("attributeCodes"),
		},
		{
			Name:        ToolObjectPropertyDetails,
			Description: "Query object property details by one or more codes.",
			InputSchema: codesInputSchema("objectPropertyCodes"),
		},
		{
			Name:        ToolCapabilityDetails,
			Description: "Query capability details by one or more codes.",
			InputSchema: codesInputSchema("capabilityCodes"),
		},
	}
}

func stringSliceArg(value any) []string {
	switch v := value.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if text, ok := item.(string); ok {
				out = append(out, text)
			}
		}
		return out
	default:
		return nil
	}
}

func stringArg(value any) string {
	text, _ := value.(string)
	return text
}

func positiveIntArg(value any, fallback int) int {
	switch v := value.(type) {
	case int:
		if v > 0 {
			return v
		}
	case float64:
		if v > 0 {
			return int(v)
		}
	}
	return fallback
}

func nonNegativeFloatArg(value any, fallback float64) float64 {
	switch v := value.(type) {
	case int:
		if v >= 0 {
			return float64(v)
		}
	case float64:
		if v >= 0 {
			return v
		}
	}
	return fallback
}

func searchArgsFrom(arguments map[string]any) SearchArgs {
	return SearchArgs{
		Query:    stringArg(arguments["query"]),
		Codes:    stringSliceArg(arguments["codes"]),
		TopN:     positiveIntArg(arguments["top_n"], DefaultSearchTopN),
		ScoreGap: nonNegativeFloatArg(arguments["score_gap"], DefaultSearchScoreGap),
		WSparse:  nonNegativeFloatArg(arguments["w_sparse"], retrieval.DefaultSparseWeight),
		WDense:   nonNegativeFloatArg(arguments["w_dense"], retrieval.DefaultDenseWeight),
	}
}

func (s *graphToolService) CallTool(ctx context.Context, tenantID, toolName string, arguments map[string]any) (any, error) {
	if arguments == nil {
		arguments = map[string]any{}
	}
	switch toolName {
	case ToolListDataAttributes:
		return s.ListDataAttributes(ctx, tenantID, searchArgsFrom(arguments))
	case ToolListOntologies:
		return s.ListOntologies(ctx, tenantID, searchArgsFrom(arguments))
	case ToolDataAttributeRelatedOntologes:
		return s.DataAttributeRelatedOntologies(ctx, tenantID, stringSliceArg(arguments["attributeCodes"]))
	case ToolOntologyRelatedResources:
		return s.OntologyRelatedResources(ctx, tenantID, stringSliceArg(arguments["ontologyCodes"]))
	case ToolOntologyDetails:
		return s.OntologyDetails(ctx, tenantID, stringSliceArg(arguments["ontologyCodes"]))
	case ToolDataAttributeDetails:
		return s.DataAttributeDetails(ctx, tenantID, stringSliceArg(arguments["attributeCodes"]))
	case ToolObjectPropertyDetails:
		return s.ObjectPropertyDetails(ctx, tenantID, stringSliceArg(arguments["objectPropertyCodes"]))
	case ToolCapabilityDetails:
		return s.CapabilityDetails(ctx, tenantID, stringSliceArg(arguments["capabilityCodes"]))
	default:
		return nil, apperrors.Newf(apperrors.CodeValidation, "unknown tool name: %s", toolName)
	}
}
