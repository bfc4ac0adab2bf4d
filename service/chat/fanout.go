package chat

import (
	"hash/fnv"
	"sync"

	"PChat/tools/safe"
)

type fanoutJob struct {
	connID  string
	payload []byte
	close   bool // 投递完 payload 后关闭连接
}

// Fanout 按连接 ID 分片的投递队列。同一连接的所有下行都走同一个分片，
// 所以单连接上看到的顺序就是入队顺序。
type Fanout struct {
	shards  []chan fanoutJob
	deliver func(fanoutJob)
	wg      sync.WaitGroup
	once    sync.Once
}

func NewFanout(shards, queue int, deliver func(fanoutJob)) *Fanout {
	if shards <= 0 {
		shards = 1
	}
	f := &Fanout{shards: make([]chan fanoutJob, shards), deliver: deliver}
	for i := range f.shards {
		ch := make(chan fanoutJob, queue)
		f.shards[i] = ch
		f.wg.Add(1)
		safe.Go("fanout-shard", func() {
			defer f.wg.Done()
			for job := range ch {
				safe.Run("fanout-deliver", func() { f.deliver(job) })
			}
		})
	}
	return f
}

func (f *Fanout) shard(connID string) chan fanoutJob {
	h := fnv.New32a()
	_, _ = h.Write([]byte(connID))
	return f.shards[h.Sum32()%uint32(len(f.shards))]
}

func (f *Fanout) Dispatch(job fanoutJob) {
	f.shard(job.connID) <- job
}

func (f *Fanout) Broadcast(connIDs []string, payload []byte) {
	if len(payload) == 0 {
		return
	}
	for _, id := range connIDs {
		f.Dispatch(fanoutJob{connID: id, payload: payload})
	}
}

// Close 排空队列后退出；之后不能再 Dispatch
func (f *Fanout) Close() {
	f.once.Do(func() {
		for _, ch := range f.shards {
			close(ch)
		}
	})
	f.wg.Wait()
}
