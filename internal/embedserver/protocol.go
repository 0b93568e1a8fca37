package embedserver

// The wire protocol is one JSON request object per connection: the client
// writes the request, half-closes, and reads a single JSON response.

// Commands.
const (
	cmdEmbed  = "embed"
	cmdStatus = "status"
	cmdStop   = "stop"
)

// Error codes carried in failed responses.
const (
	codeTimeout           = "timeout"
	codeRequestTooLarge   = "request_too_large"
	codeDimensionMismatch = "dimension_mismatch"
	codeUnknownCommand    = "unknown_command"
	codeModelFailure      = "model_failure"
)

// Request budgets. A request beyond either bound is rejected with
// request_too_large rather than queued.
const (
	maxBatchTexts   = 256
	maxRequestBytes = 1 << 20
)

type request struct {
	Cmd   string   `json:"cmd"`
	Texts []string `json:"texts,omitempty"`
	// Dim, when non-zero, is the store's recorded dimensionality; the
	// server rejects the request if its model would produce a different
	// vector length.
	Dim int `json:"dim,omitempty"`
}

type response struct {
	OK      bool        `json:"ok"`
	Vectors [][]float32 `json:"vectors,omitempty"`
	Model   string      `json:"model,omitempty"`
	Dim     int         `json:"dim,omitempty"`
	Code    string      `json:"code,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func errResponse(code, msg string) response {
	return response{OK: false, Code: code, Error: msg}
}
