// Package analysis interprets the analyzer's standard output.
//
// The analyzer contract is one JSON document per run. Parse separates output
// that is not JSON at all (Malformed) from JSON that is not an object
// (Invalid), so protocol errors and content errors can be told apart.
package analysis

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// InvalidResponseMessage is reported to sinks when the output does not parse.
const InvalidResponseMessage = "Invalid JSON response from analysis"

// Kind tags a Result.
type Kind int

const (
	KindMalformed Kind = iota // output is not a JSON document
	KindInvalid               // well-formed JSON, but not an object
	KindDocument              // a JSON object
)

func (k Kind) String() string {
	switch k {
	case KindDocument:
		return "document"
	case KindInvalid:
		return "invalid"
	default:
		return "malformed"
	}
}

// Result is the parsed analyzer output for one cycle.
type Result struct {
	Kind Kind
	// Document is the raw JSON exactly as emitted (surrounding whitespace trimmed).
	// Set for KindDocument and KindInvalid.
	Document json.RawMessage
	// Fields is the decoded object for KindDocument.
	Fields map[string]any
	// Err describes why parsing failed for KindMalformed.
	Err error
}

// Forwardable reports whether the result is delivered as an analysis event.
func (r Result) Forwardable() bool { return r.Kind != KindMalformed }

// Verdict returns the top-level "verdict" string when present.
func (r Result) Verdict() (string, bool) {
	v, ok := r.Fields["verdict"].(string)
	return v, ok
}

// Parse interprets out as a single JSON document.
func Parse(out []byte) Result {
	trimmed := bytes.TrimSpace(out)
	if len(trimmed) == 0 {
		return Result{Kind: KindMalformed, Err: fmt.Errorf("empty output")}
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return Result{Kind: KindMalformed, Err: fmt.Errorf("decode: %w", err)}
	}
	// More() ignores stray closing brackets, so decode again and insist on EOF
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return Result{Kind: KindMalformed, Err: fmt.Errorf("trailing data after document")}
	}
	doc := json.RawMessage(append([]byte(nil), trimmed...))
	obj, ok := v.(map[string]any)
	if !ok {
		return Result{Kind: KindInvalid, Document: doc}
	}
	return Result{Kind: KindDocument, Document: doc, Fields: obj}
}
