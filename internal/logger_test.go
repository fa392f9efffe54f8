package internal

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithErrorLeavesInputUntouched(t *testing.T) {
	base := Fields{FieldLocalPath: "/tmp/x", FieldStatus: 503}

	got := WithError(base, errors.New("disk full"))
	assert.Equal(t, "disk full", got[FieldError])
	assert.Equal(t, 503, got[FieldStatus])
	assert.NotContains(t, base, FieldError)

	assert.Equal(t, Fields{FieldStatus: 503}, WithError(Fields{FieldStatus: 503}, nil))
	assert.Equal(t, Fields{FieldError: "boom"}, WithError(nil, errors.New("boom")))
}
