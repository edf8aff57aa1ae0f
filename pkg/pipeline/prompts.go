package pipeline

import (
	"strings"

	"github.com/lexigen/lexigen/pkg/llm"
	"github.com/lexigen/lexigen/pkg/models"
)

// Prompt templates. User-supplied text is always passed through
// llm.EscapePromptContent before interpolation, and few-shot examples use
// placeholder tokens behind a fixed "## Example" delimiter so the model can
// tell instruction from data.

const classifyPromptHeader = `あなたは物語・文書の用語を分類する専門家です。
以下の用語リストの各用語を、次のカテゴリのいずれかに分類してください:
person_name (人名), place_name (地名), organization (組織名), work_name (作品名),
technical (専門用語), coined (造語), common_noun (一般名詞)

## Example
用語: {character_name} → person_name
用語: {city_name} → place_name
用語: {guild_name} → organization

## 今回の用語:
`

const classifySchema = `{
	"type": "object",
	"properties": {
		"terms": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"term": {"type": "string"},
					"category": {
						"type": "string",
						"enum": ["person_name", "place_name", "organization", "work_name", "technical", "coined", "common_noun"]
					}
				},
				"required": ["term", "category"]
			}
		}
	},
	"required": ["terms"]
}`

func buildClassifyPrompt(terms []string) string {
	var b strings.Builder
	b.WriteString(classifyPromptHeader)
	for _, term := range terms {
		b.WriteString("- ")
		b.WriteString(llm.EscapePromptContent(term, "term"))
		b.WriteString("\n")
	}
	return b.String()
}

const definePromptTemplate = `あなたは用語集の編集者です。以下の文書を根拠に、指定された用語の簡潔な定義を書いてください。
定義は文書の内容だけに基づき、推測は confidence を下げて示してください。
別表記・別名があれば aliases に含めてください。

## Example
用語: {term} → {"name": "{term}", "definition": "{definition}", "confidence": 0.9, "aliases": []}

<documents>
%DOCS%
</documents>

## 今回の用語:
%TERM% (%CATEGORY%)
`

const defineSchema = `{
	"type": "object",
	"properties": {
		"name": {"type": "string"},
		"definition": {"type": "string"},
		"confidence": {"type": "number", "minimum": 0, "maximum": 1},
		"aliases": {"type": "array", "items": {"type": "string"}}
	},
	"required": ["name", "definition", "confidence"]
}`

func buildDefinePrompt(term models.TermRef, docs []*models.Document) string {
	prompt := strings.Replace(definePromptTemplate, "%DOCS%", joinDocuments(docs), 1)
	prompt = strings.Replace(prompt, "%TERM%", llm.EscapePromptContent(term.Text, "documents"), 1)
	return strings.Replace(prompt, "%CATEGORY%", string(term.Category), 1)
}

const reviewPromptTemplate = `あなたは用語集の校閲者です。以下の用語集エントリを文書と照らし合わせ、問題点を列挙してください。
問題の種類: ambiguous (曖昧), inaccurate (不正確), inconsistent (矛盾), duplicate (重複), insufficient (情報不足)
深刻度: error, warning, info
問題がなければ空の issues を返してください。

<documents>
%DOCS%
</documents>

## 今回のエントリ:
%ENTRIES%
`

const reviewSchema = `{
	"type": "object",
	"properties": {
		"issues": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"term_name": {"type": "string"},
					"issue_type": {"type": "string"},
					"description": {"type": "string"},
					"severity": {"type": "string", "enum": ["error", "warning", "info"]}
				},
				"required": ["term_name", "issue_type", "description", "severity"]
			}
		}
	},
	"required": ["issues"]
}`

func buildReviewPrompt(entries []models.GlossaryEntry, docs []*models.Document) string {
	var b strings.Builder
	for _, e := range entries {
		b.WriteString("- ")
		b.WriteString(llm.EscapePromptContent(e.Name, "documents"))
		b.WriteString(": ")
		b.WriteString(llm.EscapePromptContent(e.Definition, "documents"))
		b.WriteString("\n")
	}
	prompt := strings.Replace(reviewPromptTemplate, "%DOCS%", joinDocuments(docs), 1)
	return strings.Replace(prompt, "%ENTRIES%", b.String(), 1)
}

const refinePromptTemplate = `あなたは用語集の編集者です。以下のエントリには校閲で問題が指摘されています。
文書を根拠に問題を解消した改訂版を書いてください。

<documents>
%DOCS%
</documents>

## 今回のエントリ:
%ENTRY%

## 指摘された問題:
%ISSUES%
`

func buildRefinePrompt(entry models.GlossaryEntry, issues []models.Issue, docs []*models.Document) string {
	var issueList strings.Builder
	for _, issue := range issues {
		issueList.WriteString("- [")
		issueList.WriteString(issue.Severity)
		issueList.WriteString("] ")
		issueList.WriteString(issue.IssueType)
		issueList.WriteString(": ")
		issueList.WriteString(llm.EscapePromptContent(issue.Description, "documents"))
		issueList.WriteString("\n")
	}

	prompt := strings.Replace(refinePromptTemplate, "%DOCS%", joinDocuments(docs), 1)
	prompt = strings.Replace(prompt, "%ENTRY%",
		llm.EscapePromptContent(entry.Name, "documents")+": "+llm.EscapePromptContent(entry.Definition, "documents"), 1)
	return strings.Replace(prompt, "%ISSUES%", issueList.String(), 1)
}

func joinDocuments(docs []*models.Document) string {
	var b strings.Builder
	for i, doc := range docs {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(llm.EscapePromptContent(doc.Content, "documents"))
	}
	return b.String()
}
