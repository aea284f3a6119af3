package iobuf

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func Test_AcquireEmpty_allocatesWhenFreeListEmpty(t *testing.T) {
	var p = NewPool(64)
	var buf = p.AcquireEmpty()
	assert.Equal(t, 64, len(buf.Content))
	assert.Equal(t, 0, buf.ContentSize)
}

func Test_Release_thenAcquire_reusesBuffer(t *testing.T) {
	var p = NewPool(64)
	var buf = p.AcquireEmpty()
	buf.ContentSize = 10
	var id = buf.ID
	p.Release(buf)

	var buf2 = p.AcquireEmpty()
	assert.Equal(t, id, buf2.ID)
	assert.Equal(t, 0, buf2.ContentSize)
}

func Test_TakeFilled_ordersByPacketID(t *testing.T) {
	var p = NewPool(8)

	var a = p.AcquireEmpty()
	var b = p.AcquireEmpty()
	var c = p.AcquireEmpty()

	p.SubmitFilled(5, a)
	p.SubmitFilled(1, b)
	p.SubmitFilled(3, c)

	var first, ok1 = p.TakeFilled()
	assert.True(t, ok1)
	assert.Same(t, b, first)

	var second, ok2 = p.TakeFilled()
	assert.True(t, ok2)
	assert.Same(t, c, second)

	var third, ok3 = p.TakeFilled()
	assert.True(t, ok3)
	assert.Same(t, a, third)
}

func Test_TakeFilled_blocksThenFinishReturnsSentinel(t *testing.T) {
	var p = NewPool(8)

	var done = make(chan bool, 1)
	go func() {
		var _, ok = p.TakeFilled()
		done <- ok
	}()

	// Give the goroutine time to block before we finish the pool.
	time.Sleep(20 * time.Millisecond)
	p.Finish()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("TakeFilled did not unblock after Finish")
	}
}

func Test_TakeFilled_drainsBeforeSentinel(t *testing.T) {
	var p = NewPool(8)
	var buf = p.AcquireEmpty()
	p.SubmitFilled(1, buf)
	p.Finish()

	var got, ok = p.TakeFilled()
	assert.True(t, ok)
	assert.Same(t, buf, got)

	var _, ok2 = p.TakeFilled()
	assert.False(t, ok2)
}

func Test_Pool_concurrentProducerConsumer(t *testing.T) {
	var p = NewPool(8)
	const n = 500

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := uint64(0); i < n; i++ {
			var buf = p.AcquireEmpty()
			buf.ContentSize = 1
			p.SubmitFilled(i, buf)
		}
		p.Finish()
	}()

	var count = 0
	for {
		var buf, ok = p.TakeFilled()
		if !ok {
			break
		}
		count++
		p.Release(buf)
	}
	wg.Wait()
	assert.Equal(t, n, count)
}
