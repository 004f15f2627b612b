package session

// Mode reports how a payload is executed against the session.
type Mode string

// Result modes.
const (
	ModeSingle Mode = "single"
	ModeChain  Mode = "chain"
)

// Status of a completed job.
type Status string

// StatusSuccess is the status of every successfully bridged result;
// failures travel as errors, not as statuses.
const StatusSuccess Status = "success"

// Payload is the input of a generate job: either one prompt or an ordered
// prompt chain executed within the same conversation.
type Payload struct {
	prompts []string
	chain   bool
}

// Single builds a payload carrying one prompt.
func Single(prompt string) Payload {
	return Payload{prompts: []string{prompt}}
}

// Chain builds a payload carrying an ordered prompt sequence.
func Chain(prompts ...string) Payload {
	return Payload{prompts: append([]string(nil), prompts...), chain: true}
}

// Mode returns ModeChain for chain payloads and ModeSingle otherwise.
func (p Payload) Mode() Mode {
	if p.chain {
		return ModeChain
	}
	return ModeSingle
}

// Prompts returns a copy of the payload's prompts.
func (p Payload) Prompts() []string {
	return append([]string(nil), p.prompts...)
}

// Result is the successful outcome of a job. Single mode carries exactly one
// output element; chain mode carries one per prompt, in order.
type Result struct {
	Status Status   `json:"status"`
	Mode   Mode     `json:"mode,omitempty"`
	Output []string `json:"output,omitempty"`
}

// Text returns the first output element, or "" if there is none.
func (r Result) Text() string {
	if len(r.Output) == 0 {
		return ""
	}
	return r.Output[0]
}

// jobKind discriminates worker jobs.
type jobKind int

const (
	kindGenerate jobKind = iota
	kindReset
	kindProbe
)

// op names the kind for error context.
func (k jobKind) op() string {
	switch k {
	case kindReset:
		return "reset"
	case kindProbe:
		return "probe"
	default:
		return "generate"
	}
}

// Job is one unit of work queued on a Worker: a kind, a payload, and the
// bridge its outcome is delivered through.
type Job struct {
	kind    jobKind
	payload Payload
	bridge  *Bridge
}

func newGenerateJob(payload Payload) *Job {
	return &Job{kind: kindGenerate, payload: payload, bridge: NewBridge()}
}

func newResetJob() *Job {
	return &Job{kind: kindReset, bridge: NewBridge()}
}

func newProbeJob() *Job {
	return &Job{kind: kindProbe, bridge: NewBridge()}
}
