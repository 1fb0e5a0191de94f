package biz

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/go-kratos/kratos/v2/log"

	"github.com/camrenhall/luceron-ai-communications-agent/cmd/communications-agent/internal/domain"
)

const (
	fuzzySearchThreshold = 0.3
	maxCandidateMatches  = 5
)

// 查找结论的status/action取值
const (
	LookupStatusSuccess       = "success"
	LookupStatusClarification = "needs_clarification"
	LookupStatusClosedCases   = "found_closed_cases"
	LookupStatusNoMatches     = "no_matches"

	LookupActionProceed        = "proceed_with_case"
	LookupActionClarify        = "request_clarification"
	LookupActionConfirmClosed  = "confirm_closed_case"
	LookupActionSuggestNewCase = "suggest_new_case"
)

// LookupOutcome 名称查找的判定结果，工具层直接序列化返回给模型
type LookupOutcome struct {
	Status               string                   `json:"status"`
	Action               string                   `json:"action"`
	Confidence           int                      `json:"confidence,omitempty"`
	Case                 *domain.Case             `json:"case,omitempty"`
	Matches              []*domain.CandidateMatch `json:"matches,omitempty"`
	ClarificationRequest string                   `json:"clarification_request,omitempty"`
	SuggestedQuestions   []string                 `json:"suggested_questions,omitempty"`
	Message              string                   `json:"message,omitempty"`
}

// NameResolver 把自由文本的客户名解析为唯一案件，或判定需要用户澄清
type NameResolver struct {
	cases CaseRepo
	log   *log.Helper
}

// NewNameResolver 创建名称消歧解析器
func NewNameResolver(cases CaseRepo, logger log.Logger) *NameResolver {
	return &NameResolver{cases: cases, log: log.NewHelper(logger)}
}

// Lookup 渐进式消歧：先搜OPEN案件并做置信度判定；无命中时回退搜CLOSED案件。
func (r *NameResolver) Lookup(ctx context.Context, clientName string) (*LookupOutcome, error) {
	normalized := NormalizeName(clientName)

	openCases, err := r.cases.SearchCasesByName(ctx, normalized, domain.CaseStatusOpen, fuzzySearchThreshold)
	if err != nil {
		return nil, fmt.Errorf("search open cases: %w", err)
	}

	outcome := AnalyzeMatches(normalized, openCases)
	if outcome.Status != LookupStatusNoMatches {
		return outcome, nil
	}

	closedCases, err := r.cases.SearchCasesByName(ctx, normalized, domain.CaseStatusClosed, fuzzySearchThreshold)
	if err != nil {
		return nil, fmt.Errorf("search closed cases: %w", err)
	}

	if len(closedCases) > 0 {
		matches := make([]*domain.CandidateMatch, 0, maxCandidateMatches)
		for _, c := range closedCases {
			matches = append(matches, &domain.CandidateMatch{Case: *c, SimilarityScore: NameSimilarity(normalized, c.ClientName)})
			if len(matches) == maxCandidateMatches {
				break
			}
		}
		return &LookupOutcome{
			Status:  LookupStatusClosedCases,
			Action:  LookupActionConfirmClosed,
			Matches: matches,
			Message: fmt.Sprintf("No open cases found for '%s', but found %d closed case(s). Did you mean one of these closed cases, or should we create a new case?", clientName, len(closedCases)),
		}, nil
	}

	return &LookupOutcome{
		Status:  LookupStatusNoMatches,
		Action:  LookupActionSuggestNewCase,
		Message: fmt.Sprintf("No cases found for '%s'. Would you like me to create a new case for this client?", clientName),
	}, nil
}

// AnalyzeMatches 对候选集做置信度判定。纯函数：同样的输入永远给出同样的结论。
// 单一命中总是proceed，置信度仅作参考（≥0.9→100，≥0.7→85，其余70）；
// 多命中固定置信度40并要求澄清。
func AnalyzeMatches(searchName string, cases []*domain.Case) *LookupOutcome {
	if len(cases) == 0 {
		return &LookupOutcome{Status: LookupStatusNoMatches, Action: LookupActionSuggestNewCase}
	}

	if len(cases) == 1 {
		c := cases[0]
		similarity := NameSimilarity(searchName, c.ClientName)

		confidence := 70
		switch {
		case similarity >= 0.9:
			confidence = 100
		case similarity >= 0.7:
			confidence = 85
		}

		return &LookupOutcome{
			Status:     LookupStatusSuccess,
			Action:     LookupActionProceed,
			Confidence: confidence,
			Case:       c,
			Message:    fmt.Sprintf("Found case for %s (ID: %s)", c.ClientName, c.CaseID),
		}
	}

	scored := make([]*domain.CandidateMatch, 0, len(cases))
	for _, c := range cases {
		scored = append(scored, &domain.CandidateMatch{Case: *c, SimilarityScore: NameSimilarity(searchName, c.ClientName)})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].SimilarityScore > scored[j].SimilarityScore
	})

	if len(scored) > maxCandidateMatches {
		scored = scored[:maxCandidateMatches]
	}

	message, questions := clarificationStrategy(searchName, scored)

	return &LookupOutcome{
		Status:               LookupStatusClarification,
		Action:               LookupActionClarify,
		Confidence:           40,
		Matches:              scored,
		ClarificationRequest: message,
		SuggestedQuestions:   questions,
	}
}

// clarificationStrategy 按候选集可用的区分信息生成澄清话术
func clarificationStrategy(searchName string, matches []*domain.CandidateMatch) (string, []string) {
	hasEmails := false
	hasPhones := false
	similarNames := 0
	for _, m := range matches {
		if m.ClientEmail != "" {
			hasEmails = true
		}
		if m.ClientPhone != "" {
			hasPhones = true
		}
		if NameSimilarity(searchName, m.ClientName) > 0.7 {
			similarNames++
		}
	}

	switch {
	case similarNames > 1:
		return fmt.Sprintf("I found %d clients with similar names to '%s'. Could you provide the full name or last name to help me identify the correct case?", len(matches), searchName),
			[]string{
				"What is the client's full name?",
				"What is their last name?",
				"Do you have their email or phone number?",
			}
	case hasPhones && hasEmails:
		return fmt.Sprintf("I found %d clients named '%s'. Could you provide additional information to identify the correct case?", len(matches), searchName),
			[]string{
				"What is their email address?",
				"What is their phone number?",
				"What is their full name?",
			}
	default:
		return fmt.Sprintf("I found %d cases that could match '%s'. Could you provide more details to help identify the correct case?", len(matches), searchName),
			[]string{
				"What is their full name?",
				"Do you have their contact information?",
				"When was this case created approximately?",
			}
	}
}

// NormalizeName 压缩空白并转Title Case
func NormalizeName(name string) string {
	fields := strings.Fields(name)
	for i, f := range fields {
		fields[i] = titleWord(f)
	}
	return strings.Join(fields, " ")
}

func titleWord(w string) string {
	if w == "" {
		return w
	}
	return strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
}

// NameSimilarity 计算检索名与案件客户名的相似度 [0,1]：
// 完全一致1.0；一方包含另一方0.9；否则退化为字符序列比率。
func NameSimilarity(searchName, caseName string) float64 {
	a := strings.ToLower(strings.TrimSpace(searchName))
	b := strings.ToLower(strings.TrimSpace(caseName))

	if a == b {
		return 1.0
	}
	if strings.Contains(b, a) || strings.Contains(a, b) {
		return 0.9
	}
	return sequenceRatio(a, b)
}

// sequenceRatio Ratcliff-Obershelp比率：2*匹配字符数/(len(a)+len(b))。
// 递归找最长公共子串，再对其左右两侧分治累计。
func sequenceRatio(a, b string) float64 {
	total := len(a) + len(b)
	if total == 0 {
		return 1.0
	}
	return 2.0 * float64(matchingChars(a, b)) / float64(total)
}

func matchingChars(a, b string) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	ai, bi, size := longestCommonSubstring(a, b)
	if size == 0 {
		return 0
	}
	return size +
		matchingChars(a[:ai], b[:bi]) +
		matchingChars(a[ai+size:], b[bi+size:])
}

// longestCommonSubstring 返回最长公共子串在a、b中的起点与长度，
// 并列时取a中最靠前、再取b中最靠前的一个
func longestCommonSubstring(a, b string) (int, int, int) {
	bestA, bestB, bestSize := 0, 0, 0
	// prev[j] = a[:i]与b[:j]以a[i-1]==b[j-1]结尾的公共后缀长度
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)

	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				cur[j] = prev[j-1] + 1
				if cur[j] > bestSize {
					bestSize = cur[j]
					bestA = i - cur[j]
					bestB = j - cur[j]
				}
			} else {
				cur[j] = 0
			}
		}
		prev, cur = cur, prev
		for j := range cur {
			cur[j] = 0
		}
	}

	return bestA, bestB, bestSize
}
