package object_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/thinkerbot/git-store/object"
)

func TestNewBlobBodyIsVerbatim(t *testing.T) {
	t.Parallel()

	content := []byte("package main\n\nfunc main() {}\n")
	b := object.NewBlob(content)

	assert.Equal(t, object.KindBlob, b.Kind())
	assert.Equal(t, content, b.Body())
	assert.Equal(t, object.IDFor(object.KindBlob, content), b.ID())
}
