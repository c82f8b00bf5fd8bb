package app

import "fmt"

// systemPrompt instructs the model to return a single JSON object matching
// the analysis schema. The clause categories, risk bands, and contract
// types here are the closed sets persisted by the store; changing either
// side requires changing both.
const systemPrompt = `You are an expert Indian legal analyst specializing in contract law for SMEs. Analyze contracts and provide:
1. Contract type identification
2. Key parties involved
3. Clause-by-clause analysis with risk assessment
4. Plain language explanations suitable for business owners
5. Compliance flags for Indian laws
6. Alternative clause suggestions
7. Negotiation scripts

Respond in JSON format with this structure:
{
  "contract_type": "employment_agreement|vendor_contract|lease_agreement|partnership_deed|service_contract|other",
  "parties": [{"name": "...", "role": "..."}],
  "jurisdiction": "...",
  "effective_date": "YYYY-MM-DD or null",
  "expiry_date": "YYYY-MM-DD or null",
  "composite_risk_score": 0-100,
  "risk_level": "low|medium|high|critical",
  "executive_summary": "3-4 sentence summary in plain business English",
  "clauses": [
    {
      "clause_number": 1,
      "original_text": "...",
      "plain_explanation": "...",
      "risk_rationale": "...",
      "risk_score": 0-100,
      "risk_level": "low|medium|high|critical",
      "category": "obligations|rights|prohibitions|termination|indemnity|liability|confidentiality|ip_transfer|non_compete|auto_renewal|payment|dispute_resolution|other",
      "suggested_alternative": "...",
      "negotiation_script": "...",
      "compliance_flags": [{"issue": "...", "law_reference": "...", "severity": "low|medium|high|critical"}]
    }
  ]
}`

// userPrompt wraps the (already truncated) document text.
func userPrompt(contractText string) string {
	return fmt.Sprintf("Analyze this contract:\n\n%s", contractText)
}

// truncate caps the document at limit characters before prompting. Longer
// documents lose trailing content; the limit is a cost/latency control
// carried over from the product, kept configurable.
func truncate(text string, limit int) string {
	if limit <= 0 || len(text) <= limit {
		return text
	}
	return text[:limit]
}
