package whatsapp

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Outcome is the decoded reachability of one number.
type Outcome int

const (
	// OutcomeUnrecognized means the response carried no usable verdict for
	// the number. Callers leave its stored status untouched.
	OutcomeUnrecognized Outcome = iota
	OutcomeValid
	OutcomeInvalid
)

func (o Outcome) String() string {
	switch o {
	case OutcomeValid:
		return "valid"
	case OutcomeInvalid:
		return "invalid"
	default:
		return "unrecognized"
	}
}

// Verdict is the outcome for one requested number.
type Verdict struct {
	Number  string
	Outcome Outcome
}

// verdictFlags lists the boolean fields that carry a verdict, in precedence
// order.
var verdictFlags = []string{"isInWhatsapp", "exists", "valid"}

// numberFields lists the fields that echo the queried number.
var numberFields = []string{"query", "number", "phone", "jid"}

// listFields wrap an array of entries inside an object.
var listFields = []string{"results", "data", "numbers"}

// DecodeVerdicts maps a check response onto the requested numbers. The body
// may be an array of per-number entries, an object wrapping such an array,
// or a single entry. Entries are matched by the number they echo; entries
// without one are matched by position when the counts agree. Every requested
// number gets exactly one Verdict, in request order.
func DecodeVerdicts(body []byte, requested []string) []Verdict {
	out := make([]Verdict, len(requested))
	index := make(map[string]int, len(requested))
	for i, n := range requested {
		out[i] = Verdict{Number: n}
		index[digits(n)] = i
	}

	entries := decodeEntries(body)
	positional := len(entries) == len(requested)

	for pos, e := range entries {
		outcome := e.outcome()
		if outcome == OutcomeUnrecognized {
			continue
		}
		i, ok := -1, false
		if n := e.number(); n != "" {
			i, ok = index[n]
		} else if positional {
			i, ok = pos, true
		}
		if ok {
			out[i].Outcome = outcome
		}
	}
	return out
}

type entry map[string]json.RawMessage

func decodeEntries(body []byte) []entry {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil
	}

	switch body[0] {
	case '[':
		var list []entry
		if err := json.Unmarshal(body, &list); err != nil {
			return nil
		}
		return list
	case '{':
		var obj entry
		if err := json.Unmarshal(body, &obj); err != nil {
			return nil
		}
		for _, f := range listFields {
			raw, ok := obj[f]
			if !ok {
				continue
			}
			var list []entry
			if err := json.Unmarshal(raw, &list); err == nil {
				return list
			}
		}
		return []entry{obj}
	default:
		return nil
	}
}

// outcome applies verdictFlags by precedence. A flag that is present but not
// boolean-ish is skipped.
func (e entry) outcome() Outcome {
	for _, f := range verdictFlags {
		raw, ok := e[f]
		if !ok {
			continue
		}
		if v, ok := boolish(raw); ok {
			if v {
				return OutcomeValid
			}
			return OutcomeInvalid
		}
	}
	return OutcomeUnrecognized
}

func (e entry) number() string {
	for _, f := range numberFields {
		raw, ok := e[f]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			var n json.Number
			if err := json.Unmarshal(raw, &n); err != nil {
				continue
			}
			s = n.String()
		}
		// jids look like 5511999998888@s.whatsapp.net
		if at := strings.IndexByte(s, '@'); at >= 0 {
			s = s[:at]
		}
		if d := digits(s); d != "" {
			return d
		}
	}
	return ""
}

// boolish accepts JSON booleans, "true"/"false" strings and 0/1 numbers.
func boolish(raw json.RawMessage) (bool, bool) {
	if len(raw) == 0 || string(bytes.TrimSpace(raw)) == "null" {
		return false, false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return v, true
		}
		return false, false
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil && (n == 0 || n == 1) {
		return n == 1, true
	}
	return false, false
}

func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
