package shared

// Frame is one `data: ` payload of the recommendation stream. Exactly one of
// Chunk, Done or Error is expected to be set.
type Frame struct {
	Chunk        *string `json:"chunk,omitempty"`
	Done         bool    `json:"done,omitempty"`
	FullResponse *string `json:"full_response,omitempty"`
	Error        *string `json:"error,omitempty"`
}

// TokenPair is the access/refresh pair shared by every outgoing request.
type TokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

func (t TokenPair) Empty() bool {
	return t.Access == "" && t.Refresh == ""
}

type RefreshRequest struct {
	Refresh string `json:"refresh"`
}

// APIErrorResponse covers both the `{"error": ...}` bodies of the
// recommendation endpoints and the `{"detail", "code"}` bodies of the token
// endpoints.
type APIErrorResponse struct {
	Error  string `json:"error,omitempty"`
	Detail string `json:"detail,omitempty"`
	Code   string `json:"code,omitempty"`
}
