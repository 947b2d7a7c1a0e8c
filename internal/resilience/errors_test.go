package resilience

import (
	"database/sql"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"explicit", NewTransientError(errors.New("overloaded"), 503), true},
		{"wrapped explicit", fmt.Errorf("check: %w", NewTransientError(errors.New("rate limited"), 429)), true},
		{"eris wrapped explicit", eris.Wrap(NewTransientError(errors.New("busy"), 503), "verify: post batch"), true},
		{"plain", errors.New("invalid input"), false},
		{"econnreset", fmt.Errorf("write tcp: %w", syscall.ECONNRESET), true},
		{"econnrefused", fmt.Errorf("dial tcp: %w", syscall.ECONNREFUSED), true},
		{"net timeout", &net.DNSError{IsTimeout: true, Err: "timeout"}, true},
		{"message reset", errors.New("read: connection reset by peer"), true},
		{"message tls", errors.New("net/http: TLS handshake timeout"), true},
		{"store outage", &pgconn.PgError{Code: "08006"}, true},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestIsStoreUnavailable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"connection failure", &pgconn.PgError{Code: "08006"}, true},
		{"connection does not exist", eris.Wrap(&pgconn.PgError{Code: "08003"}, "store: upsert customer"), true},
		{"too many connections", &pgconn.PgError{Code: "53300"}, true},
		{"admin shutdown", &pgconn.PgError{Code: "57P01"}, true},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, true},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"invalid json", &pgconn.PgError{Code: "22P02"}, false},
		{"conn done", fmt.Errorf("exec: %w", sql.ErrConnDone), true},
		{"sqlite closed", errors.New("sql: database is closed"), true},
		{"sqlite busy", errors.New("database is locked (5) (SQLITE_BUSY)"), true},
		{"http 503", NewTransientError(errors.New("unavailable"), 503), false},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsStoreUnavailable(tt.err))
		})
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, IsTransientHTTPStatus(code), "status %d", code)
	}
	for _, code := range []int{200, 201, 400, 401, 403, 404, 409, 422} {
		assert.False(t, IsTransientHTTPStatus(code), "status %d", code)
	}
}

func TestTransientError_Unwrap(t *testing.T) {
	inner := errors.New("root cause")
	te := NewTransientError(inner, 500)

	assert.ErrorIs(t, te, inner)
	assert.Equal(t, 500, te.StatusCode)
	assert.Equal(t, "root cause", te.Error())
}
