package whatsapp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func outcomes(vs []Verdict) []Outcome {
	out := make([]Outcome, len(vs))
	for i, v := range vs {
		out[i] = v.Outcome
	}
	return out
}

func TestDecodeVerdicts(t *testing.T) {
	a, b := "5511999998888", "5521988887777"
	tests := []struct {
		name      string
		body      string
		requested []string
		want      []Outcome
	}{
		{
			name:      "array with isInWhatsapp",
			body:      `[{"query":"5511999998888","isInWhatsapp":true}]`,
			requested: []string{a},
			want:      []Outcome{OutcomeValid},
		},
		{
			name:      "array matched by number not position",
			body:      `[{"number":"5521988887777","exists":false},{"number":"5511999998888","exists":true}]`,
			requested: []string{a, b},
			want:      []Outcome{OutcomeValid, OutcomeInvalid},
		},
		{
			name:      "jid echo",
			body:      `[{"jid":"5511999998888@s.whatsapp.net","exists":true}]`,
			requested: []string{a},
			want:      []Outcome{OutcomeValid},
		},
		{
			name:      "single object with valid",
			body:      `{"valid":false}`,
			requested: []string{a},
			want:      []Outcome{OutcomeInvalid},
		},
		{
			name:      "object wrapping results",
			body:      `{"results":[{"phone":"+55 (11) 99999-8888","isInWhatsapp":"true"}]}`,
			requested: []string{a, b},
			want:      []Outcome{OutcomeValid, OutcomeUnrecognized},
		},
		{
			name:      "precedence isInWhatsapp over exists",
			body:      `[{"query":"5511999998888","isInWhatsapp":false,"exists":true}]`,
			requested: []string{a},
			want:      []Outcome{OutcomeInvalid},
		},
		{
			name:      "non boolean flag falls through to next",
			body:      `[{"query":"5511999998888","isInWhatsapp":null,"valid":1}]`,
			requested: []string{a},
			want:      []Outcome{OutcomeValid},
		},
		{
			name:      "positional when counts agree",
			body:      `[{"exists":true},{"exists":false}]`,
			requested: []string{a, b},
			want:      []Outcome{OutcomeValid, OutcomeInvalid},
		},
		{
			name:      "no number and counts differ",
			body:      `[{"exists":true}]`,
			requested: []string{a, b},
			want:      []Outcome{OutcomeUnrecognized, OutcomeUnrecognized},
		},
		{
			name:      "no verdict fields",
			body:      `[{"query":"5511999998888","status":"ok"}]`,
			requested: []string{a},
			want:      []Outcome{OutcomeUnrecognized},
		},
		{
			name:      "unknown number ignored",
			body:      `[{"query":"5531900000000","exists":true}]`,
			requested: []string{a},
			want:      []Outcome{OutcomeUnrecognized},
		},
		{
			name:      "not json",
			body:      `<html>ok</html>`,
			requested: []string{a},
			want:      []Outcome{OutcomeUnrecognized},
		},
		{
			name:      "empty body",
			body:      ``,
			requested: []string{a},
			want:      []Outcome{OutcomeUnrecognized},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DecodeVerdicts([]byte(tt.body), tt.requested)
			assert.Equal(t, tt.want, outcomes(got))
			for i, v := range got {
				assert.Equal(t, tt.requested[i], v.Number)
			}
		})
	}
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "valid", OutcomeValid.String())
	assert.Equal(t, "invalid", OutcomeInvalid.String())
	assert.Equal(t, "unrecognized", OutcomeUnrecognized.String())
}
