// internal/browser/session/context_utils_test.go
package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCombineContext(t *testing.T) {
	type ctxKey string
	const key ctxKey = "testKey"

	t.Run("InheritsValuesFromPrimary", func(t *testing.T) {
		ctx1 := context.WithValue(context.Background(), key, "v")
		combined, cancel := CombineContext(ctx1, context.Background())
		defer cancel()
		assert.Equal(t, "v", combined.Value(key))
		assert.NoError(t, combined.Err())
	})

	t.Run("CancelledByPrimary", func(t *testing.T) {
		ctx1, cancel1 := context.WithCancel(context.Background())
		combined, cancel := CombineContext(ctx1, context.Background())
		defer cancel()
		cancel1()
		assert.ErrorIs(t, combined.Err(), context.Canceled)
	})

	t.Run("CancelledBySecondary", func(t *testing.T) {
		ctx2, cancel2 := context.WithCancel(context.Background())
		combined, cancel := CombineContext(context.Background(), ctx2)
		defer cancel()
		cancel2()
		assert.Eventually(t, func() bool { return combined.Err() != nil }, time.Second, 5*time.Millisecond)
	})

	t.Run("NilSecondary", func(t *testing.T) {
		combined, cancel := CombineContext(context.Background(), nil)
		assert.NoError(t, combined.Err())
		cancel()
		assert.ErrorIs(t, combined.Err(), context.Canceled)
	})
}

func TestDetach(t *testing.T) {
	type ctxKey string
	parent, cancel := context.WithTimeout(context.WithValue(context.Background(), ctxKey("k"), 1), time.Millisecond)
	defer cancel()
	<-parent.Done()

	d := Detach(parent)
	assert.NoError(t, d.Err())
	assert.Nil(t, d.Done())
	_, ok := d.Deadline()
	assert.False(t, ok)
	assert.Equal(t, 1, d.Value(ctxKey("k")))
}
