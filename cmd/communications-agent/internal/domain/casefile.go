package domain

import "time"

// CaseStatus 案件状态
type CaseStatus string

const (
	CaseStatusOpen   CaseStatus = "OPEN"
	CaseStatusClosed CaseStatus = "CLOSED"
)

// RequestedDocument 案件下待收集的文档
type RequestedDocument struct {
	RequestedDocID      string     `json:"requested_doc_id"`
	CaseID              string     `json:"case_id"`
	DocumentName        string     `json:"document_name"`
	Description         string     `json:"description,omitempty"`
	IsCompleted         bool       `json:"is_completed"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
	IsFlaggedForReview  bool       `json:"is_flagged_for_review"`
	Notes               string     `json:"notes,omitempty"`
	RequestedAt         time.Time  `json:"requested_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// DocumentUpdate 文档部分更新字段（nil表示不更新）
type DocumentUpdate struct {
	DocumentName       *string `json:"document_name,omitempty"`
	Description        *string `json:"description,omitempty"`
	IsCompleted        *bool   `json:"is_completed,omitempty"`
	IsFlaggedForReview *bool   `json:"is_flagged_for_review,omitempty"`
	Notes              *string `json:"notes,omitempty"`
}

// Case 后端案件记录
type Case struct {
	CaseID                string              `json:"case_id"`
	ClientName            string              `json:"client_name"`
	ClientEmail           string              `json:"client_email"`
	ClientPhone           string              `json:"client_phone,omitempty"`
	Status                CaseStatus          `json:"status"`
	RequestedDocuments    []RequestedDocument `json:"requested_documents,omitempty"`
	LastCommunicationDate *time.Time          `json:"last_communication_date,omitempty"`
	CreatedAt             time.Time           `json:"created_at"`
}

// CandidateMatch 消歧候选：案件记录加上与检索名的相似度得分 [0,1]
type CandidateMatch struct {
	Case
	SimilarityScore float64 `json:"similarity_score"`
}
