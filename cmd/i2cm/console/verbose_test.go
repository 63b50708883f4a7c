package console

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerboseContext(t *testing.T) {
	ctx := context.Background()
	assert.False(t, IsVerbose(ctx))
	assert.True(t, IsVerbose(SetVerbose(ctx, true)))
	assert.False(t, IsVerbose(SetVerbose(ctx, false)))
}
