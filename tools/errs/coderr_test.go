package errs

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeErrorIs(t *testing.T) {
	err := ErrConnectionNotFound.WrapMsg("get", "uid", 42)
	require.Error(t, err)
	assert.True(t, ErrConnectionNotFound.Is(err))
	assert.False(t, ErrTokenExpired.Is(err))
	assert.Contains(t, err.Error(), "uid=42")
}

func TestWrapKeepsNil(t *testing.T) {
	assert.NoError(t, Wrap(nil))
	assert.NoError(t, WrapMsg(nil, "ctx"))
}

func TestWrapMsgAddsContext(t *testing.T) {
	base := fmt.Errorf("boom")
	err := WrapMsg(base, "doing thing", "k", "v")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "doing thing")
	assert.Contains(t, err.Error(), "boom")
}

func TestWithDetail(t *testing.T) {
	e := ErrArgs.WithDetail("id missing")
	assert.Contains(t, e.Error(), "id missing")
	more := e.WithDetail("second")
	assert.Contains(t, more.Error(), "id missing, second")
}

func TestStackFormat(t *testing.T) {
	err := ErrInternalServer.Wrap()
	formatted := fmt.Sprintf("%+v", err)
	assert.Contains(t, formatted, "server internal error")
	assert.Contains(t, formatted, ".go:")
}
