package protocol

// Response is the sum type returned from the request handler. Exactly
// one concrete variant is produced per unary call; streaming calls emit
// a finite sequence of PartialResponse values terminated by one of the
// other variants.
type Response interface {
	responseKind() string
}

// AgentResponse is the terminal response for a completed request.
type AgentResponse struct {
	SessionID  string     `json:"session_id"`
	TaskID     string     `json:"task_id"`
	RequestID  string     `json:"request_id"`
	Output     string     `json:"output"`
	TokenUsage TokenUsage `json:"token_usage"`
	Status     string     `json:"status"`
}

// HitlResponse signals that the task paused awaiting human approval of
// the listed tool calls.
type HitlResponse struct {
	SessionID    string         `json:"session_id"`
	TaskID       string         `json:"task_id"`
	RequestID    string         `json:"request_id"`
	ToolCalls    []FunctionCall `json:"tool_calls"`
	ApprovalURL  string         `json:"approval_url"`
	RejectionURL string         `json:"rejection_url"`
}

// AuthChallenge describes one downstream server that needs user
// authorization before its tools can be discovered.
type AuthChallenge struct {
	Server  string `json:"server"`
	AuthURL string `json:"auth_url"`
}

// AuthChallengeResponse is returned when one or more MCP servers
// require OAuth authorization for the calling user.
type AuthChallengeResponse struct {
	SessionID  string          `json:"session_id"`
	TaskID     string          `json:"task_id,omitempty"`
	RequestID  string          `json:"request_id,omitempty"`
	Challenges []AuthChallenge `json:"challenges"`
	ResumeURL  string          `json:"resume_url"`
}

// RejectedToolResponse is the terminal response after a HITL rejection.
type RejectedToolResponse struct {
	SessionID string `json:"session_id"`
	TaskID    string `json:"task_id"`
	RequestID string `json:"request_id"`
	Reason    string `json:"reason"`
	Status    string `json:"status"`
}

// PartialResponse is a single streamed fragment. Done is true only on
// the last fragment of a stream.
type PartialResponse struct {
	SessionID     string `json:"session_id"`
	TaskID        string `json:"task_id"`
	RequestID     string `json:"request_id"`
	OutputPartial string `json:"output_partial"`
	Done          bool   `json:"done"`
}

func (AgentResponse) responseKind() string         { return "agent" }
func (HitlResponse) responseKind() string          { return "hitl" }
func (AuthChallengeResponse) responseKind() string { return "auth_challenge" }
func (RejectedToolResponse) responseKind() string  { return "rejected" }
func (PartialResponse) responseKind() string       { return "partial" }

var (
	_ Response = AgentResponse{}
	_ Response = HitlResponse{}
	_ Response = AuthChallengeResponse{}
	_ Response = RejectedToolResponse{}
	_ Response = PartialResponse{}
)
