package models

// GenerationRequest is what a stage hands to the generation provider.
type GenerationRequest struct {
	Stage    string            `json:"stage"`
	ClientID string            `json:"client_id"`
	RunID    string            `json:"run_id"`
	Input    string            `json:"input"`
	Context  map[string]string `json:"context,omitempty"`
}

type GenerationResponse struct {
	Output       string             `json:"output"`
	Candidates   []ContentCandidate `json:"candidates,omitempty"`
	CostUSD      float64            `json:"cost_usd"`
	InputTokens  int                `json:"input_tokens"`
	OutputTokens int                `json:"output_tokens"`
	Model        string             `json:"model,omitempty"`
}
