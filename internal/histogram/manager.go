package histogram

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// NonePeriod marks a free slot, or a per-thread cache miss.
const NonePeriod = int64(math.MinInt64)

// Writer receives a completed, merged period's spectra.
type Writer interface {
	Write(period int64, data *Data) error
}

type cacheEntry struct {
	period int64
	data   *Data
}

type slot struct {
	period     atomic.Int64
	ready      atomic.Uint32
	threadData []Data
}

// Manager fans per-chip, per-period histogram data into a bounded pool
// of slots, and hands a slot to the Writer once every chip has reported
// for that period.
//
// nSlots must be large enough that concurrent analysers, each possibly
// a few periods behind the others, can always find a free slot: at
// least 2*retainedPeriodQueues + nChips is the documented rule of
// thumb.
type Manager struct {
	roi    ROI
	nChips int
	writer Writer

	dataCache []cacheEntry
	slots     []*slot

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []*slot
	stopped bool
}

// NewManager allocates a Manager with nSlots period slots, each holding
// one Data per chip sized for roi.
func NewManager(roi ROI, nChips int, nSlots int, writer Writer) *Manager {
	m := &Manager{roi: roi, nChips: nChips, writer: writer}
	m.cond = sync.NewCond(&m.mu)

	m.dataCache = make([]cacheEntry, nChips)
	for i := range m.dataCache {
		m.dataCache[i].period = NonePeriod
	}

	m.slots = make([]*slot, nSlots)
	for i := range m.slots {
		s := &slot{threadData: make([]Data, nChips)}
		s.period.Store(NonePeriod)
		for j := range s.threadData {
			s.threadData[j] = NewData(roi)
		}
		m.slots[i] = s
	}
	return m
}

// DataForPeriod returns the Data this chip should accumulate period's
// events into, allocating a free slot via CAS if none is assigned to
// period yet. A per-thread cache makes the common case (same period as
// last call) O(1). Blocks briefly if every slot is occupied.
func (m *Manager) DataForPeriod(threadNo int, period int64) *Data {
	var cached = &m.dataCache[threadNo]
	if cached.period == period {
		return cached.data
	}

	for {
		var free *slot
		for _, s := range m.slots {
			if s.period.Load() == period {
				cached.period = period
				cached.data = &s.threadData[threadNo]
				return cached.data
			}
			if free == nil && s.period.Load() == NonePeriod {
				free = s
			}
		}
		if free == nil {
			time.Sleep(time.Millisecond)
			continue
		}
		if free.period.CompareAndSwap(NonePeriod, period) {
			cached.period = period
			cached.data = &free.threadData[threadNo]
			return cached.data
		}
		// Lost the race for that slot; rescan.
	}
}

// ReturnData marks threadNo's contribution to period as final. Once
// every chip has returned its data for period, the slot is handed to
// the writer loop.
func (m *Manager) ReturnData(threadNo int, period int64) error {
	m.dataCache[threadNo].period = NonePeriod

	var target *slot
	for _, s := range m.slots {
		if s.period.Load() == period {
			target = s
			break
		}
	}
	if target == nil {
		return fmt.Errorf("histogram: no slot assigned for period %d", period)
	}

	if target.ready.Add(1) == uint32(m.nChips) {
		m.mu.Lock()
		m.queue = append(m.queue, target)
		m.mu.Unlock()
		m.cond.Signal()
	}
	return nil
}

// Run drains completed slots to the writer in FIFO order, merging all
// per-chip spectra into one before handing it off. It blocks until Stop
// is called and the queue is empty, returning the first write error
// encountered, if any.
func (m *Manager) Run() error {
	for {
		m.mu.Lock()
		for len(m.queue) == 0 && !m.stopped {
			m.cond.Wait()
		}
		if len(m.queue) == 0 {
			m.mu.Unlock()
			return nil
		}
		var s = m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()

		var merged = &s.threadData[0]
		for i := 1; i < len(s.threadData); i++ {
			merged.Add(&s.threadData[i])
			s.threadData[i].Reset()
		}

		var period = s.period.Load()
		if err := m.writer.Write(period, merged); err != nil {
			return fmt.Errorf("histogram: write period %d: %w", period, err)
		}
		merged.Reset()
		s.ready.Store(0)
		s.period.Store(NonePeriod)
	}
}

// Stop requests that Run exit once it has drained any already-queued
// slots.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()
	m.cond.Broadcast()
}
