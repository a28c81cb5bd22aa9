package latch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFlag_SetIsIdempotent(t *testing.T) {
	f := New()
	require.False(t, f.IsSet())

	f.Set()
	f.Set() // must not panic or block

	require.True(t, f.IsSet())
}

func TestFlag_DoneClosesOnSet(t *testing.T) {
	f := New()

	select {
	case <-f.Done():
		t.Fatal("Done() closed before Set()")
	case <-time.After(10 * time.Millisecond):
	}

	f.Set()

	select {
	case <-f.Done():
	case <-time.After(time.Second):
		t.Fatal("Done() did not close after Set()")
	}
}
