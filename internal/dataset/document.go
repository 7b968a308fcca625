package dataset

// Purpose labels accepted from the classifier. The wire values match the
// exported result documents.
const (
	PurposeInformationSeeking      = "Information Seeking"
	PurposeContentGeneration       = "Content Generation"
	PurposeLanguageRefinement      = "Language Refinement"
	PurposeMetaCognitiveEngagement = "Meta-cognitive Engagement"
	PurposeConversationalRepair    = "Conversational Repair"

	// PurposeError marks a turn that was never evaluated.
	PurposeError = "Error"
	// PurposeUnknown is used by aggregations for turns without a purpose.
	PurposeUnknown = "Unknown"
)

// Issue types reported per turn.
const (
	IssueFactualError  = "factual_error"
	IssueMisalignment  = "misalignment"
	IssueNone          = "none"
	IssueAPIKeyMissing = "api_key_missing"
)

// Purposes lists the valid purpose labels in their canonical order.
var Purposes = []string{
	PurposeInformationSeeking,
	PurposeContentGeneration,
	PurposeLanguageRefinement,
	PurposeMetaCognitiveEngagement,
	PurposeConversationalRepair,
}

// IssueTypes lists the valid issue types an oracle may report.
var IssueTypes = []string{IssueFactualError, IssueMisalignment, IssueNone}

// Turn is one user/assistant exchange. Turn numbers are 1-based.
type Turn struct {
	Turn      int    `json:"turn"`
	User      string `json:"user"`
	Assistant string `json:"assistant"`
}

// Empty reports whether both sides of the exchange are blank.
func (t Turn) Empty() bool {
	return t.User == "" && t.Assistant == ""
}

// AnnotatedTurn is a Turn plus classifier output.
type AnnotatedTurn struct {
	Turn
	HallucinationScore  int    `json:"hallucination_score"`
	IssueType           string `json:"issue_type"`
	HallucinationReason string `json:"hallucination_reason"`
	Purpose             string `json:"purpose"`
}

// Session is one analyzed conversation.
type Session struct {
	FileName           string          `json:"fileName"`
	CapturedAt         *string         `json:"capturedAt,omitempty"`
	TurnCount          int             `json:"turnCount"`
	Turns              []AnnotatedTurn `json:"turns"`
	OverRelianceScore  int             `json:"over_reliance_score"`
	OverRelianceAdvice string          `json:"over_reliance_advice"`
}

// Document is the unified analysis result. Its JSON encoding is the
// downloadable export and is accepted back as a pre-analyzed source.
type Document struct {
	TotalFiles    int       `json:"totalFiles"`
	GeneratedDate string    `json:"generatedDate"`
	TotalTurns    int       `json:"totalTurns"`
	Sessions      []Session `json:"sessions"`
}

// NewDocument builds a document from sessions and fills in the totals.
func NewDocument(sessions []Session, generatedDate string) Document {
	if sessions == nil {
		sessions = []Session{}
	}
	totalTurns := 0
	for _, session := range sessions {
		totalTurns += session.TurnCount
	}
	return Document{
		TotalFiles:    len(sessions),
		GeneratedDate: generatedDate,
		TotalTurns:    totalTurns,
		Sessions:      sessions,
	}
}
