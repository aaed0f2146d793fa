package messageid

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassification(t *testing.T) {
	r := require.New(t)

	srv := FromServer(42)
	r.True(srv.Valid())
	r.True(srv.IsServer())
	r.False(srv.IsLocal())
	r.Equal(int32(42), srv.ServerID())
	r.Equal("message 42", srv.String())

	local := srv + typeLocal
	r.True(local.Valid())
	r.True(local.IsLocal())
	r.False(local.IsServer())
	r.Equal(int32(0), local.ServerID())

	unsent := srv + typeYetUnsent
	r.True(unsent.IsYetUnsent())

	scheduled := srv + scheduledMask
	r.True(scheduled.IsScheduled())
	r.False(scheduled.Valid())
}

func TestBounds(t *testing.T) {
	r := require.New(t)
	r.False(Invalid.Valid())
	r.False(ID(-8).Valid())
	r.True(Max().Valid())
	r.False((Max() + 1).Valid())
	r.Less(FromServer(1), FromServer(2))
	r.Less(FromServer(1), FromServer(1)+typeLocal)
}
