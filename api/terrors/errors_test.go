package terrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"
)

func TestCode(t *testing.T) {
	require.Equal(t, Success, Code(nil))
	require.Equal(t, Unknown, Code(errors.New("plain")))

	base := errors.New("connection reset")
	err := xerrors.Errorf("publishing chunk 3: %w", New(PublishFailed, base))
	require.Equal(t, PublishFailed, Code(err))
	require.ErrorIs(t, err, base)
	require.Contains(t, err.Error(), "publish_failed")
}

func TestErrorWithoutCause(t *testing.T) {
	err := New(EmptyDocument, nil)
	require.Equal(t, "empty_document", err.Error())
	require.Equal(t, EmptyDocument, Code(err))
}
