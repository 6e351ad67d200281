package workflow

import (
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

// 提示词使用 GoTemplate 渲染，JSON 示例中的花括号无需转义

const classifySystemPrompt = `You are a routing agent for customer support tickets of a plumbing fixtures company.

Classify the ticket into one of these categories:
- warranty: warranty claims, warranty extensions, coverage questions
- product_issue: product defects, malfunctions, quality issues
- install_help: installation questions, setup guidance, technical support
- return_request: returns, refunds, exchanges
- billing: pricing questions, payment issues, invoices
- complaint: service complaints
- general: general inquiries, product information
- spam: spam, irrelevant messages

Respond ONLY with valid JSON in this exact format:
{"category": "<category_name>", "confidence": <0.0-1.0>, "reasoning": "<one sentence>"}`

const classifyUserPrompt = `Subject: {{.subject}}

Description:
{{.body}}
{{- if .tags}}

Tags: {{.tags}}
{{- end}}
{{- if .type}}

Ticket Type: {{.type}}
{{- end}}`

const orchestrationSystemPrompt = `You are a support orchestration agent that helps human agents by analyzing customer tickets with retrieved knowledge.

Your task:
1. Understand the customer's issue based on the ticket and retrieved context
2. Identify the product involved if possible
3. Summarize relevant information that could help the human agent

Respond ONLY with valid JSON in this exact format:
{"summary": "<brief summary>", "product_id": "<model number or null>", "reasoning": "<analysis>", "enough_information": true}

Set enough_information to true if ANY retrieved context could help the agent.
Set it to false only if the retrieved context has nothing related to the query.`

const orchestrationUserPrompt = `Customer Ticket
---------------
Subject: {{.subject}}

Description:
{{.body}}

Retrieved Context:
------------------
{{.context}}`

const hallucinationSystemPrompt = `You are a hallucination risk assessor for an assistant that supports human support agents.

Analyze whether answering this ticket requires inventing facts not supported by the retrieved knowledge.

Respond ONLY with valid JSON in this exact format:
{"risk": <number between 0.0 and 1.0>, "reasoning": "<one sentence>"}

0.0-0.3 means good supporting knowledge, 0.4-0.6 partial information, 0.7-1.0 almost nothing relevant.`

const confidenceSystemPrompt = `You are a product identification confidence evaluator for an assistant that supports human support agents.

Assess how confidently the retrieved information identifies the product the customer is asking about.

Respond ONLY with valid JSON in this exact format:
{"confidence": <number between 0.0 and 1.0>, "reasoning": "<one sentence>"}

0.0-0.2 no relevant product, 0.3-0.5 related category only, 0.6-0.8 likely correct product, 0.9-1.0 clear identification.`

const knowledgeUserPrompt = `Ticket:
{{.ticket}}

Knowledge:
{{.context}}`

const vipSystemPrompt = `You are a VIP rule compliance checker.

Given the customer request, the VIP rules and the available product and warranty information,
determine whether the requested action complies with the VIP rules.

Respond ONLY with valid JSON in this exact format:
{"vip_compliant": true, "reason": "<brief explanation>"}`

const vipUserPrompt = `Ticket:
{{.ticket}}

Knowledge:
{{.context}}
{{- if .draft}}

Draft Response:
{{.draft}}
{{- end}}

VIP Rules:
{{range $k, $v := .rules}}- {{$k}}: {{$v}}
{{end}}`

const draftSystemPrompt = `You are an assistant helping human support agents respond to customer tickets for a plumbing fixtures company.

Generate a DRAFT response the agent can review, edit and send.

- Base the answer on the retrieved context and cite product models when identified.
- Reference similar past ticket resolutions when helpful.
- Phrase uncertain parts as suggestions and mark them with [VERIFY].
- Do not mention internal scores or system metrics.
{{- if .clarify}}
- The available information is NOT sufficient: write a short, polite request for the details needed (model number, photos, purchase date) instead of an answer.
{{- end}}
{{- if .fallback}}
- The supporting knowledge is weak: keep the answer cautious and suggest what the agent should verify.
{{- end}}

Write plain text, no JSON.`

const draftUserPrompt = `Customer: {{.name}}
Customer type: {{.customer_type}}

Subject: {{.subject}}

{{.body}}

Retrieved Context:
{{.context}}`

func newTemplate(system, user string) prompt.ChatTemplate {
	return prompt.FromMessages(schema.GoTemplate,
		schema.SystemMessage(system),
		schema.UserMessage(user),
	)
}

// Templates 各判断节点的提示词模板，创建一次后复用
type Templates struct {
	Classify      prompt.ChatTemplate
	Orchestration prompt.ChatTemplate
	Hallucination prompt.ChatTemplate
	Confidence    prompt.ChatTemplate
	VIP           prompt.ChatTemplate
	Draft         prompt.ChatTemplate
}

// NewTemplates 创建全部提示词模板
func NewTemplates() Templates {
	return Templates{
		Classify:      newTemplate(classifySystemPrompt, classifyUserPrompt),
		Orchestration: newTemplate(orchestrationSystemPrompt, orchestrationUserPrompt),
		Hallucination: newTemplate(hallucinationSystemPrompt, knowledgeUserPrompt),
		Confidence:    newTemplate(confidenceSystemPrompt, knowledgeUserPrompt),
		VIP:           newTemplate(vipSystemPrompt, vipUserPrompt),
		Draft:         newTemplate(draftSystemPrompt, draftUserPrompt),
	}
}
