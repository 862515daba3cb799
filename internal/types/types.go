// Package types defines the data model shared by every stage of the
// contract-analysis pipeline. All values here are owned by the pipeline
// invocation that created them and are not mutated after being added to
// a result collection, with one exception: the null-category repair of
// AnalysisItem, which happens exactly once per item before aggregation.
package types

// Paragraph is one semantic paragraph of the contract. Ids are assigned
// in final document order ("p1".."pN") and are referenced throughout the
// pipeline as foreign keys.
type Paragraph struct {
	ID   string `json:"id"`
	Text string `json:"text"`
	// Synthetic marks an overlap paragraph carrying trailing sentences
	// copied from the previous chunk. Synthetic paragraphs are excluded
	// from all downstream lookups that reference real content.
	Synthetic bool `json:"synthetic,omitempty"`
}

// Chunk is a bounded group of contiguous paragraphs submitted to the
// model in one call.
type Chunk struct {
	ID               string      `json:"id"`
	Paragraphs       []Paragraph `json:"paragraphs"`
	TokenEstimate    int         `json:"tokenEstimate"`
	HasOverlapPrefix bool        `json:"hasOverlapPrefix"`
}

// Category is the per-paragraph classification taxonomy.
type Category string

const (
	CategoryChecklist        Category = "checklist"
	CategoryPartial          Category = "partial"
	CategoryRisk             Category = "risk"
	CategoryAmbiguous        Category = "ambiguous"
	CategoryDeemedAcceptance Category = "deemed_acceptance"
	CategoryExternalRefs     Category = "external_refs"
)

// AnalysisItem is the model's verdict for one paragraph. A nil Category
// means the paragraph matched nothing; the invariant is that a nil
// Category implies nil Comment and Recommendation. Violations observed
// from the model are repaired by reclassifying the item as ambiguous.
type AnalysisItem struct {
	ID             string    `json:"id"`
	Category       *Category `json:"category"`
	Comment        *string   `json:"comment,omitempty"`
	Recommendation *string   `json:"recommendation,omitempty"`
}

// Party identifies which contracting side a clause favors.
type Party string

const (
	PartyBuyer    Party = "buyer"
	PartySupplier Party = "supplier"
	PartyBoth     Party = "both"
	PartyNeutral  Party = "neutral"
)

// RightType categorizes a rights-bearing clause.
type RightType string

const (
	RightTermination  RightType = "termination"
	RightModification RightType = "modification"
	RightLiability    RightType = "liability"
	RightControl      RightType = "control"
	RightProcedural   RightType = "procedural"
)

// ClassifiedClause is the model's party/type tag for one paragraph.
type ClassifiedClause struct {
	ID    string    `json:"id"`
	Party Party     `json:"party"`
	Type  RightType `json:"type"`
}

// ChunkRights is the per-chunk rights tally emitted alongside the
// paragraph classification in the same model call.
type ChunkRights struct {
	BuyerRightsCount    int                `json:"buyerRightsCount"`
	SupplierRightsCount int                `json:"supplierRightsCount"`
	RightsDetails       []string           `json:"rightsDetails,omitempty"`
	ClassifiedClauses   []ClassifiedClause `json:"classifiedClauses,omitempty"`
}

// ChunkResult is the parsed outcome of one chunk-analysis call.
type ChunkResult struct {
	ChunkID  string         `json:"chunkId"`
	Analysis []AnalysisItem `json:"analysis"`
	Rights   *ChunkRights   `json:"chunkRightsAnalysis,omitempty"`
}

// Severity grades a finding.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// ContradictionType classifies a detected contradiction.
type ContradictionType string

const (
	ContradictionTemporal     ContradictionType = "temporal"
	ContradictionFinancial    ContradictionType = "financial"
	ContradictionQuantitative ContradictionType = "quantitative"
	ContradictionLegal        ContradictionType = "legal"
	ContradictionProcedural   ContradictionType = "procedural"
	ContradictionLogical      ContradictionType = "logical"
	ContradictionPriority     ContradictionType = "priority"
)

// ConflictSide is one half of a contradiction: a paragraph excerpt and
// the conflicting value extracted from it.
type ConflictSide struct {
	Text  string `json:"text"`
	Value string `json:"value"`
}

// Contradiction is a confirmed conflict between two paragraphs.
type Contradiction struct {
	ID             string            `json:"id"`
	Type           ContradictionType `json:"type"`
	Description    string            `json:"description"`
	Paragraph1     ConflictSide      `json:"paragraph1"`
	Paragraph2     ConflictSide      `json:"paragraph2"`
	Severity       Severity          `json:"severity"`
	Recommendation string            `json:"recommendation"`
}

// RightsImbalanceFinding is a derived asymmetry between the parties in
// one right category.
type RightsImbalanceFinding struct {
	ID              string             `json:"id"`
	Type            RightType          `json:"type"`
	Description     string             `json:"description"`
	BuyerRights     int                `json:"buyerRights"`
	SupplierRights  int                `json:"supplierRights"`
	Severity        Severity           `json:"severity"`
	Recommendation  string             `json:"recommendation"`
	BuyerClauses    []ClassifiedClause `json:"buyerClauses,omitempty"`
	SupplierClauses []ClassifiedClause `json:"supplierClauses,omitempty"`
}

// RightsImbalanceReport aggregates per-party counts with the derived
// findings.
type RightsImbalanceReport struct {
	BuyerRights    int                      `json:"buyerRights"`
	SupplierRights int                      `json:"supplierRights"`
	Clauses        []ClassifiedClause       `json:"clauses"`
	Findings       []RightsImbalanceFinding `json:"findings"`
}

// DefectType classifies a structural defect.
type DefectType string

const (
	DefectBrokenReference DefectType = "broken_reference"
	DefectSelfReference   DefectType = "self_reference"
	DefectCyclicReference DefectType = "cyclic_reference"
	DefectLogicalError    DefectType = "logical_error"
)

// StructuralDefect is a broken, self, cyclic or logical reference
// between numbered clauses.
type StructuralDefect struct {
	ID             string     `json:"id"`
	Type           DefectType `json:"type"`
	Description    string     `json:"description"`
	Severity       Severity   `json:"severity"`
	Recommendation string     `json:"recommendation"`
	Location       string     `json:"location"`
}

// MissingRequirement is a checklist item no analyzed paragraph matched.
// It is derived and not tied to a paragraph id.
type MissingRequirement struct {
	Requirement string `json:"requirement"`
	Comment     string `json:"comment"`
}

// FinalSummary is the closing narrative produced from all aggregated
// findings.
type FinalSummary struct {
	OverallAssessment string   `json:"overallAssessment"`
	KeyRisks          []string `json:"keyRisks"`
	StructureComments string   `json:"structureComments"`
	LegalCompliance   string   `json:"legalCompliance"`
	Recommendations   []string `json:"recommendations"`
}

// Perspective selects which party's favorability the analysis evaluates.
type Perspective string

const (
	PerspectiveBuyer    Perspective = "buyer"
	PerspectiveSupplier Perspective = "supplier"
)

// AnalysisReport is the assembled result of one pipeline invocation.
type AnalysisReport struct {
	ContractParagraphs  []Paragraph            `json:"contractParagraphs"`
	Analysis            []AnalysisItem         `json:"analysis"`
	MissingRequirements []MissingRequirement   `json:"missingRequirements"`
	AmbiguousConditions []AnalysisItem         `json:"ambiguousConditions"`
	StructuralAnalysis  *FinalSummary          `json:"structuralAnalysis"`
	Contradictions      []Contradiction        `json:"contradictions"`
	RightsImbalance     *RightsImbalanceReport `json:"rightsImbalance"`
	StructuralDefects   []StructuralDefect     `json:"structuralDefects"`
}

// ProgressFunc receives advisory human-readable stage/percentage updates.
// It is a side channel: the pipeline's return value never depends on
// whether an observer is attached.
type ProgressFunc func(stage string, percent int)
