package worker_test

import (
	"context"
	"sync"
	"testing"
	"time"

	queue "github.com/okian/hrvlink/internal/adapters/mq/queue"
	worker "github.com/okian/hrvlink/internal/adapters/mq/worker"
	logging "github.com/okian/hrvlink/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

// recorder notes every input and flags overlapping calls.
type recorder struct {
	mu      sync.Mutex
	seen    []int
	inCall  bool
	overlap bool
}

func (r *recorder) Handle(_ context.Context, item int) {
	r.mu.Lock()
	if r.inCall {
		r.overlap = true
	}
	r.inCall = true
	r.mu.Unlock()

	time.Sleep(time.Microsecond)

	r.mu.Lock()
	r.seen = append(r.seen, item)
	r.inCall = false
	r.mu.Unlock()
}

func (r *recorder) snapshot() ([]int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.seen...), r.overlap
}

func TestInMemoryWorker(t *testing.T) {
	convey.Convey("Given a worker draining a queue", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		q := queue.NewInMemoryQueue[int](queue.WithCapacity(256))
		rec := &recorder{}
		w := worker.NewInMemoryWorker[int](q, rec, worker.WithName("node"), worker.WithLogger(logging.Get()))
		go w.Run(ctx)

		convey.Convey("When producers enqueue concurrently", func() {
			var wg sync.WaitGroup
			for p := 0; p < 4; p++ {
				wg.Add(1)
				go func(p int) {
					defer wg.Done()
					for i := 0; i < 50; i++ {
						_ = q.Enqueue(ctx, p*1000+i)
					}
				}(p)
			}
			wg.Wait()

			convey.Convey("Then every input is handled one at a time", func() {
				convey.So(func() bool {
					deadline := time.Now().Add(2 * time.Second)
					for time.Now().Before(deadline) {
						if seen, _ := rec.snapshot(); len(seen) == 200 {
							return true
						}
						time.Sleep(5 * time.Millisecond)
					}
					return false
				}(), convey.ShouldBeTrue)

				seen, overlap := rec.snapshot()
				convey.So(overlap, convey.ShouldBeFalse)

				// Per-producer order is preserved.
				last := map[int]int{}
				for _, v := range seen {
					p, i := v/1000, v%1000
					if prev, ok := last[p]; ok {
						convey.So(i, convey.ShouldBeGreaterThan, prev)
					}
					last[p] = i
				}
			})
		})

		convey.Convey("When shut down", func() {
			err := w.Shutdown(context.Background())

			convey.Convey("Then Run returns and a second shutdown is harmless", func() {
				convey.So(err, convey.ShouldBeNil)
				<-w.Done()
				convey.So(w.Shutdown(context.Background()), convey.ShouldBeNil)
			})
		})
	})

	convey.Convey("Given a worker whose queue is closed", t, func() {
		q := queue.NewInMemoryQueue[int]()
		var handled []int
		w := worker.NewInMemoryWorker[int](q, worker.HandlerFunc[int](func(_ context.Context, i int) {
			handled = append(handled, i)
		}))
		_ = q.Enqueue(context.Background(), 7)
		_ = q.Close()

		w.Run(context.Background())

		convey.Convey("Then buffered inputs are handled before Run returns", func() {
			convey.So(handled, convey.ShouldResemble, []int{7})
		})
	})

	convey.Convey("Given a handler that panics", t, func() {
		q := queue.NewInMemoryQueue[int]()
		calls := 0
		w := worker.NewInMemoryWorker[int](q, worker.HandlerFunc[int](func(_ context.Context, i int) {
			calls++
			if i == 1 {
				panic("bad input")
			}
		}))
		_ = q.Enqueue(context.Background(), 1)
		_ = q.Enqueue(context.Background(), 2)
		_ = q.Close()

		w.Run(context.Background())

		convey.Convey("Then the loop survives and continues", func() {
			convey.So(calls, convey.ShouldEqual, 2)
		})
	})
}
