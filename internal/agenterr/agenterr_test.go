package agenterr

import (
	"context"
	"io"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

type netTimeout struct{}

func (netTimeout) Error() string   { return "i/o timeout" }
func (netTimeout) Timeout() bool   { return true }
func (netTimeout) Temporary() bool { return true }

func TestTransportClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
		code string
	}{
		{"deadline", errors.Wrap(context.DeadlineExceeded, "get"), ErrTimeout, "timeout"},
		{"net timeout", netTimeout{}, ErrTimeout, "timeout"},
		{"refused", errors.New("connection refused"), ErrTransportUnavailable, "transport_unavailable"},
		{"eof", io.EOF, ErrTransportUnavailable, "transport_unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Transport(tt.err, "push")
			assert.ErrorIs(t, got, tt.want)
			assert.ErrorIs(t, got, tt.err, "cause stays reachable")
			assert.Equal(t, tt.code, Code(got))
		})
	}
	assert.NoError(t, Transport(nil, "push"))
}

func TestCode(t *testing.T) {
	assert.Equal(t, "ok", Code(nil))
	assert.Equal(t, "already_active", Code(ErrAlreadyActive))
	assert.Equal(t, "duration_out_of_range", Code(errors.Wrap(ErrDurationOutOfRange, "start")))
	assert.Equal(t, "malformed_response", Code(Malformed(io.ErrUnexpectedEOF, "pull")))
	assert.Equal(t, "transport_unavailable", Code(Unavailable("pull", "status 503")))
	assert.Equal(t, "error", Code(errors.New("other")))
}

func TestWrappedKindSurvivesWithMessage(t *testing.T) {
	err := errors.WithMessage(Malformed(io.ErrUnexpectedEOF, "pull"), "resync")
	assert.ErrorIs(t, err, ErrMalformedResponse)
	assert.Contains(t, err.Error(), "resync: pull: malformed response")
}
