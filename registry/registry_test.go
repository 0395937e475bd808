package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (f *fakeSender) Send(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, payload)
	return nil
}

func TestRegisterAndLookup(t *testing.T) {
	r := New()
	s := &fakeSender{}

	r.Register("abc12", "conn-1", s)

	senders := r.Senders("abc12")
	require.Len(t, senders, 1)
	assert.Same(t, s, senders[0].(*fakeSender))
}

func TestLookupMissIsEmpty(t *testing.T) {
	r := New()
	assert.Empty(t, r.Senders("nobody"))
}

func TestUnregisterFreesMapping(t *testing.T) {
	r := New()
	r.Register("abc12", "conn-1", &fakeSender{})

	r.Unregister("abc12", "conn-1")

	assert.Empty(t, r.Senders("abc12"))
	assert.Zero(t, r.Count())
}

func TestUnregisterUnknownIsNoop(t *testing.T) {
	r := New()
	r.Register("abc12", "conn-1", &fakeSender{})

	r.Unregister("abc12", "conn-2")
	r.Unregister("other", "conn-1")

	assert.Len(t, r.Senders("abc12"), 1)
}

func TestDuplicateRoomFansOut(t *testing.T) {
	r := New()
	first := &fakeSender{}
	second := &fakeSender{}

	r.Register("abc12", "conn-1", first)
	r.Register("abc12", "conn-2", second)

	senders := r.Senders("abc12")
	require.Len(t, senders, 2)

	// Dropping one connection leaves the other reachable.
	r.Unregister("abc12", "conn-1")
	senders = r.Senders("abc12")
	require.Len(t, senders, 1)
	assert.Same(t, second, senders[0].(*fakeSender))
}

func TestSessionIsolation(t *testing.T) {
	r := New()
	a := &fakeSender{}
	b := &fakeSender{}

	r.Register("room-a", "conn-a", a)
	r.Register("room-b", "conn-b", b)

	senders := r.Senders("room-a")
	require.Len(t, senders, 1)
	assert.Same(t, a, senders[0].(*fakeSender))
}

func TestConcurrentAccess(t *testing.T) {
	r := New()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			connID := fmt.Sprintf("conn-%d", i)
			r.Register("shared", connID, &fakeSender{})
			r.Senders("shared")
			r.Unregister("shared", connID)
		}(i)
	}
	wg.Wait()

	assert.Zero(t, r.Count())
}
