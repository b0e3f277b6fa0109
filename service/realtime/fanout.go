package realtime

import (
	"sync"

	"github.com/itellico/mono-sub017/logger"
)

type fanoutJob struct {
	conns   []*Client
	payload []byte
}

// Fanout delivers serialized frames to sets of connections through a fixed
// pool of workers. Jobs for the same room always land on the same worker
// queue, so members observe that room's events in enqueue order. No ordering
// holds across rooms.
type Fanout struct {
	queues   []chan fanoutJob
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func NewFanout(workers, queue int) *Fanout {
	f := &Fanout{queues: make([]chan fanoutJob, workers)}
	for i := range f.queues {
		f.queues[i] = make(chan fanoutJob, queue)
		f.wg.Add(1)
		go f.worker(f.queues[i])
	}
	return f
}

func (f *Fanout) worker(q chan fanoutJob) {
	defer f.wg.Done()
	for job := range q {
		for _, c := range job.conns {
			if !c.enqueue(job.payload) {
				// Slow or closed client: skip rather than stall the room
				logger.Debugf("[fanout] dropped frame conn=%s user=%s", c.ConnID, c.UserID)
			}
		}
	}
}

// Enqueue routes the job by room key. Blocks only if the room's worker queue
// is full, which backpressures the producing handler, not other rooms'
// traffic.
func (f *Fanout) Enqueue(room string, conns []*Client, payload []byte) {
	if len(conns) == 0 || len(payload) == 0 {
		return
	}
	q := f.queues[shardFor(room)%uint32(len(f.queues))]
	q <- fanoutJob{conns: conns, payload: payload}
}

// Close drains the workers. Enqueue must not be called afterwards.
func (f *Fanout) Close() {
	f.stopOnce.Do(func() {
		for _, q := range f.queues {
			close(q)
		}
	})
	f.wg.Wait()
}
