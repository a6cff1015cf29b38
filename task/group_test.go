package task

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestOneTaskFailingCancelsTheGroup(t *testing.T) {
	var g = NewGroup(context.Background())

	var boomErr = errors.New("boom")
	g.Queue("failing", func() error { return boomErr })
	g.Queue("waits-for-cancel", func() error {
		<-g.Context().Done()
		return nil
	})

	select {
	case <-done(g):
	case <-time.After(2 * time.Second):
		t.Fatal("group did not finish after one task failed")
	}
	require.ErrorIs(t, g.Wait(), boomErr)
}

func TestAllTasksSucceedingReturnsNilError(t *testing.T) {
	var g = NewGroup(context.Background())
	g.Queue("a", func() error { return nil })
	g.Queue("b", func() error { return nil })
	require.NoError(t, g.Wait())
}

func done(g *Group) <-chan struct{} {
	var ch = make(chan struct{})
	go func() {
		g.Wait()
		close(ch)
	}()
	return ch
}
