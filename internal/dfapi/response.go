package dfapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// Synthesized codes for results that did not come from the remote side as-is.
const (
	// CodeExhausted means every endpoint and every retry failed.
	CodeExhausted = -1
	// CodeMalformed means the body could not be read as an API envelope.
	CodeMalformed = -2
	// CodeRejected means the envelope had success=false and no code.
	CodeRejected = -3
)

// retAuthExpired is the data.ret value the API uses for an expired login.
const retAuthExpired = 101

// Response is the normalized form of every upstream reply.
type Response struct {
	Succeeded bool            `json:"succeeded"`
	Code      int             `json:"code"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Retryable reports a 5xx-range code, the only retry and failover signal.
func (r Response) Retryable() bool {
	return !r.Succeeded && r.Code >= 500 && r.Code < 600
}

// AuthExpired reports whether the remote side says the user's login is no longer valid.
func (r Response) AuthExpired() bool {
	if len(r.Data) == 0 {
		return false
	}
	var d struct {
		Ret *int `json:"ret"`
	}
	if err := json.Unmarshal(r.Data, &d); err != nil || d.Ret == nil {
		return false
	}
	return *d.Ret == retAuthExpired
}

// Decode unmarshals Data into v.
func (r Response) Decode(v any) error {
	if len(r.Data) == 0 || string(r.Data) == "null" {
		return fmt.Errorf("response has no data")
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}

// Err returns nil for a successful response and a descriptive error otherwise.
func (r Response) Err() error {
	if r.Succeeded {
		return nil
	}
	return fmt.Errorf("api error (%d): %s", r.Code, r.Message)
}

// shape is the upstream reply form a body was recognized as.
type shape int

const (
	shapeHTTPError   shape = iota // non-200 transport status
	shapeMalformed                // not a JSON object, or no recognizable envelope
	shapeSuccessFlag              // {"success": bool, ...} without a code
	shapeCode                     // {"code": int|string, ...}, any success flag is ignored
)

type envelope struct {
	shape      shape
	code       int
	success    bool
	hasSuccess bool
	message    string
	data       json.RawMessage
}

// NormalizeResponse turns an HTTP status and body into a Response. It never
// surfaces HTML markup.
func NormalizeResponse(status int, body []byte) Response {
	env := classify(status, body)
	switch env.shape {
	case shapeHTTPError:
		return Response{Code: status, Message: httpErrorText(status, body)}
	case shapeSuccessFlag:
		code := 0
		if !env.success {
			code = CodeRejected
		}
		return Response{Succeeded: env.success, Code: code, Message: env.message, Data: env.data}
	case shapeCode:
		ok := env.code == 0 || env.code == http.StatusOK
		return Response{Succeeded: ok, Code: env.code, Message: env.message, Data: env.data}
	default:
		if env.message == "" {
			env.message = malformedText(body)
		}
		return Response{Code: CodeMalformed, Message: env.message}
	}
}

func classify(status int, body []byte) envelope {
	if status != http.StatusOK {
		return envelope{shape: shapeHTTPError}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil || fields == nil {
		return envelope{shape: shapeMalformed}
	}

	env := envelope{
		message: firstString(fields, "msg", "message"),
		data:    fields["data"],
	}
	if raw, ok := fields["success"]; ok {
		if err := json.Unmarshal(raw, &env.success); err == nil {
			env.hasSuccess = true
		}
	}

	if raw, ok := fields["code"]; ok && string(raw) != "null" {
		code, err := parseCode(raw)
		if err != nil {
			return envelope{shape: shapeMalformed, message: fmt.Sprintf("invalid response code %s", raw)}
		}
		env.shape = shapeCode
		env.code = code
		return env
	}
	if env.hasSuccess {
		env.shape = shapeSuccessFlag
		return env
	}
	return envelope{shape: shapeMalformed, message: "response has neither code nor success field"}
}

func parseCode(raw json.RawMessage) (int, error) {
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return int(n), nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(s))
}

func firstString(fields map[string]json.RawMessage, keys ...string) string {
	for _, k := range keys {
		raw, ok := fields[k]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && s != "" {
			return s
		}
	}
	return ""
}

func httpErrorText(status int, body []byte) string {
	text := strings.TrimSpace(string(body))
	if looksLikeHTML(text) {
		return fmt.Sprintf("server error (%d)", status)
	}
	if text == "" {
		return fmt.Sprintf("%d %s", status, http.StatusText(status))
	}
	return truncate(text, 200)
}

func malformedText(body []byte) string {
	text := strings.TrimSpace(string(body))
	if looksLikeHTML(text) {
		return "server returned an invalid response"
	}
	return "malformed response: " + truncate(text, 100)
}

func looksLikeHTML(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(lower, "<html") || strings.Contains(lower, "<!doctype")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
