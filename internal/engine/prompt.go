package engine

import (
	"strings"
)

const promptTemplate = `You are an expert career advisor. Analyze this resume against the job description and provide insights.

Job Title: {{job_title}}
Company: {{company_name}}

Job Description:
{{job_description}}

Resume:
{{resume}}

Respond with raw JSON only (no markdown) in exactly this shape:
{
  "match_score": <integer between 0 and 100>,
  "matching_skills": ["skill1", "skill2"],
  "missing_skills": ["skill1", "skill2"],
  "suggestions": "A short paragraph with 3-4 specific, actionable suggestions to improve the resume for this role."
}

Be specific and practical. Focus on technical skills, experience alignment, and resume improvements.`

// BuildPrompt renders the analysis prompt. Equal inputs yield equal prompts.
func BuildPrompt(in Input) string {
	r := strings.NewReplacer(
		"{{job_title}}", strings.TrimSpace(in.JobTitle),
		"{{company_name}}", strings.TrimSpace(in.CompanyName),
		"{{job_description}}", strings.TrimSpace(in.JobDescription),
		"{{resume}}", strings.TrimSpace(in.ResumeText),
	)
	return r.Replace(promptTemplate)
}
