package httpapi

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"

	"github.com/promptrelay/promptrelay/session"
)

// GenerateRequest is the body of POST /generate.
type GenerateRequest struct {
	// Provider selects the automation target.
	Provider string `json:"provider" jsonschema:"required"`

	// Prompt is either a single prompt string or an ordered prompt chain.
	Prompt Prompt `json:"prompt" jsonschema:"required"`
}

// Prompt accepts a string (single mode) or a list of strings (chain mode),
// mirroring the polymorphic request field of the public API.
type Prompt struct {
	prompts []string
	chain   bool
}

// UnmarshalJSON implements json.Unmarshaler for the string-or-list union.
func (p *Prompt) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		p.prompts = []string{single}
		p.chain = false
		return nil
	}

	var chain []string
	if err := json.Unmarshal(data, &chain); err == nil {
		p.prompts = chain
		p.chain = true
		return nil
	}

	return fmt.Errorf("prompt must be a string or a list of strings")
}

// MarshalJSON implements json.Marshaler.
func (p Prompt) MarshalJSON() ([]byte, error) {
	if p.chain {
		return json.Marshal(p.prompts)
	}
	if len(p.prompts) == 0 {
		return json.Marshal("")
	}
	return json.Marshal(p.prompts[0])
}

// JSONSchema describes the union for schema reflection.
func (Prompt) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		OneOf: []*jsonschema.Schema{
			{Type: "string"},
			{Type: "array", Items: &jsonschema.Schema{Type: "string"}},
		},
		Description: "A single prompt, or a list of prompts for a chained conversation.",
	}
}

// Empty reports whether no prompt was supplied.
func (p Prompt) Empty() bool {
	if p.chain {
		return len(p.prompts) == 0
	}
	return len(p.prompts) == 0 || p.prompts[0] == ""
}

// Payload converts the request field into a dispatch payload.
func (p Prompt) Payload() session.Payload {
	if p.chain {
		return session.Chain(p.prompts...)
	}
	return session.Single(p.prompts[0])
}

// GenerateResponse is the body of a successful POST /generate.
type GenerateResponse struct {
	Provider string `json:"provider"`
	Status   string `json:"status"`
	Mode     string `json:"mode"`

	// Result is a string in single mode and a list of strings in chain mode.
	Result any `json:"result"`
}

// newGenerateResponse shapes a dispatch result for the wire.
func newGenerateResponse(providerID string, result session.Result) GenerateResponse {
	resp := GenerateResponse{
		Provider: providerID,
		Status:   string(result.Status),
		Mode:     string(result.Mode),
	}
	if result.Mode == session.ModeChain {
		resp.Result = result.Output
	} else {
		resp.Result = result.Text()
	}
	return resp
}

// MessageResponse is a generic acknowledgement body.
type MessageResponse struct {
	Message string `json:"message"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status    string                          `json:"status"`
	Providers map[string]session.WorkerStatus `json:"providers"`
}
