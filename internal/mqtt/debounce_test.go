package mqtt

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type flushRecorder struct {
	mu   sync.Mutex
	keys []string
}

func (r *flushRecorder) flush(key string) {
	r.mu.Lock()
	r.keys = append(r.keys, key)
	r.mu.Unlock()
}

func (r *flushRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.keys...)
}

func TestDebouncer_CoalescesBursts(t *testing.T) {
	rec := &flushRecorder{}
	d := newDebouncer(30*time.Millisecond, rec.flush)
	defer d.close()

	for i := 0; i < 5; i++ {
		d.touch("cover")
	}
	d.touch("light")

	assert.Eventually(t, func() bool { return len(rec.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	assert.ElementsMatch(t, []string{"cover", "light"}, rec.snapshot())
}

func TestDebouncer_ZeroQuietFlushesInline(t *testing.T) {
	rec := &flushRecorder{}
	d := newDebouncer(0, rec.flush)

	d.touch("a")
	d.touch("a")
	assert.Equal(t, []string{"a", "a"}, rec.snapshot())
}

func TestDebouncer_CancelAndClose(t *testing.T) {
	rec := &flushRecorder{}
	d := newDebouncer(20*time.Millisecond, rec.flush)

	d.touch("gone")
	d.cancel("gone")
	d.touch("closed")
	d.close()
	d.touch("after")

	time.Sleep(60 * time.Millisecond)
	assert.Empty(t, rec.snapshot())
}
