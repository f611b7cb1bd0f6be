package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	err := Model("vision call failed", fmt.Errorf("status 503"))
	assert.Equal(t, "[MODEL_ERROR] vision call failed: status 503", err.Error())

	noCause := NoData("no logs in window")
	assert.Equal(t, "[NO_DATA] no logs in window", noCause.Error())
}

func TestIsCode(t *testing.T) {
	err := Storage("insert failed", fmt.Errorf("conn reset"))
	assert.True(t, IsCode(err, ErrCodeStorage))
	assert.False(t, IsCode(err, ErrCodeModel))
	assert.False(t, IsCode(fmt.Errorf("plain"), ErrCodeStorage))

	// Wrapped errors should still match.
	wrapped := fmt.Errorf("outer: %w", err)
	assert.True(t, IsCode(wrapped, ErrCodeStorage))
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, ErrCodeNoData, CodeOf(NoData("empty window"), ErrCodeStorage))
	assert.Equal(t, ErrCodeStorage, CodeOf(fmt.Errorf("plain"), ErrCodeStorage))
}

func TestUnwrap(t *testing.T) {
	cause := fmt.Errorf("root")
	err := Search("fallback failed", cause)
	assert.Equal(t, cause, err.Unwrap())
	assert.Nil(t, EmptyInput("blank").Unwrap())
}
