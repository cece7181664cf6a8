package scheduler

import (
	"sort"
	"sync"
	"time"
)

// Scheduler 延迟执行的抽象。
// Defer 表示“下一拍”执行，After 表示固定延迟后执行
type Scheduler interface {
	Defer(fn func())
	After(d time.Duration, fn func())
}

// Timer 基于运行时定时器的实现，回调在独立 goroutine 中执行
type Timer struct{}

// NewTimer 创建定时器调度器
func NewTimer() *Timer {
	return &Timer{}
}

func (Timer) Defer(fn func()) {
	time.AfterFunc(0, fn)
}

func (Timer) After(d time.Duration, fn func()) {
	if d < 0 {
		d = 0
	}
	time.AfterFunc(d, fn)
}

type task struct {
	due time.Duration
	seq int
	fn  func()
}

// Queue 显式 flush 的协作式任务队列，使用虚拟时钟，适合确定性测试
type Queue struct {
	mu    sync.Mutex
	now   time.Duration
	seq   int
	tasks []task
}

// NewQueue 创建任务队列
func NewQueue() *Queue {
	return &Queue{}
}

func (q *Queue) Defer(fn func()) {
	q.After(0, fn)
}

func (q *Queue) After(d time.Duration, fn func()) {
	if d < 0 {
		d = 0
	}
	q.mu.Lock()
	q.seq++
	q.tasks = append(q.tasks, task{due: q.now + d, seq: q.seq, fn: fn})
	q.mu.Unlock()
}

// Pending 尚未执行的任务数
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Advance 虚拟时钟前进 d，按到期时间执行所有已到期任务（含执行过程中新加入且已到期的）
func (q *Queue) Advance(d time.Duration) int {
	q.mu.Lock()
	deadline := q.now + d
	q.mu.Unlock()
	return q.runUntil(deadline)
}

// RunDeferred 只执行当前时刻已到期的任务（即所有 Defer）
func (q *Queue) RunDeferred() int {
	return q.Advance(0)
}

// Flush 执行全部任务，直到队列为空
func (q *Queue) Flush() int {
	ran := 0
	for {
		q.mu.Lock()
		if len(q.tasks) == 0 {
			q.mu.Unlock()
			return ran
		}
		latest := q.now
		for _, t := range q.tasks {
			if t.due > latest {
				latest = t.due
			}
		}
		q.mu.Unlock()
		ran += q.runUntil(latest)
	}
}

func (q *Queue) runUntil(deadline time.Duration) int {
	ran := 0
	for {
		q.mu.Lock()
		sort.SliceStable(q.tasks, func(i, j int) bool {
			if q.tasks[i].due != q.tasks[j].due {
				return q.tasks[i].due < q.tasks[j].due
			}
			return q.tasks[i].seq < q.tasks[j].seq
		})
		if len(q.tasks) == 0 || q.tasks[0].due > deadline {
			if deadline > q.now {
				q.now = deadline
			}
			q.mu.Unlock()
			return ran
		}
		next := q.tasks[0]
		q.tasks = q.tasks[1:]
		if next.due > q.now {
			q.now = next.due
		}
		q.mu.Unlock()

		next.fn()
		ran++
	}
}
