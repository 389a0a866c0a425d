package batch

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// TestProperty_QueueState_EveryEntryLeavesOnce 随机交替入队、放弃、取批：
// sequenceId 唯一递增；每个条目恰好以一种方式离开（进入批次或被剪枝）；
// 批次内保持入队顺序；放弃的条目绝不进入批次。
func TestProperty_QueueState_EveryEntryLeavesOnce(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		maxBatchSize := rapid.IntRange(0, 5).Draw(rt, "maxBatchSize")
		s := newState(maxBatchSize)

		var (
			all        []*PendingEntry
			lastSeq    uint64
			lastBatch  uint64
			batched    = make(map[uint64]int)
			prunedSeen int
		)

		steps := rapid.IntRange(1, 60).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			switch rapid.IntRange(0, 2).Draw(rt, "op") {
			case 0:
				e := newEntry("m")
				s.append(e)
				require.Greater(rt, e.SequenceID, lastSeq, "sequenceId 必须递增")
				lastSeq = e.SequenceID
				all = append(all, e)

			case 1:
				if len(all) == 0 {
					continue
				}
				idx := rapid.IntRange(0, len(all)-1).Draw(rt, "abandon")
				all[idx].Sink.Abandon()

			case 2:
				ext, pruned := s.nextBatch()
				prunedSeen += pruned
				if ext == nil {
					continue
				}
				require.Greater(rt, ext.Batch.ID, lastBatch, "batch id 必须递增")
				lastBatch = ext.Batch.ID
				require.Equal(rt, len(ext.Batch.Requests), ext.Batch.Size)
				require.Len(rt, ext.Entries, ext.Batch.Size)
				if maxBatchSize > 0 {
					require.LessOrEqual(rt, ext.Batch.Size, maxBatchSize)
				}

				var prev uint64
				for _, req := range ext.Batch.Requests {
					require.Greater(rt, req.ID, prev, "批次内保持入队顺序")
					prev = req.ID
					entry := ext.Entries[req.ID]
					require.NotNil(rt, entry)
					require.False(rt, entry.Sink.Abandoned(), "放弃的条目不得进入批次")
					batched[req.ID]++
				}
			}
		}

		for id, n := range batched {
			require.Equal(rt, 1, n, "request %d 被取出 %d 次", id, n)
		}

		// 守恒：入队数 = 已取出 + 已剪枝 + 仍在队列
		require.Equal(rt, len(all), len(batched)+prunedSeen+len(s.entries))
	})
}

// TestProperty_QueueState_CapSplitsBacklog 积压 n 个请求、上限为 c 时，
// 连续取批得到 ceil(n/c) 个批次，除最后一个外都是满批。
func TestProperty_QueueState_CapSplitsBacklog(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("backlog is split into full batches of the cap", prop.ForAll(
		func(n, c int) bool {
			s := newState(c)
			for i := 0; i < n; i++ {
				s.append(newEntry("m"))
			}

			var sizes []int
			for {
				ext, _ := s.nextBatch()
				if ext == nil {
					break
				}
				sizes = append(sizes, ext.Batch.Size)
			}

			want := (n + c - 1) / c
			if len(sizes) != want {
				t.Logf("n=%d c=%d: got %d batches, want %d", n, c, len(sizes), want)
				return false
			}
			total := 0
			for i, size := range sizes {
				if i < len(sizes)-1 && size != c {
					return false
				}
				total += size
			}
			return total == n
		},
		gen.IntRange(1, 200),
		gen.IntRange(1, 16),
	))

	properties.TestingRun(t)
}

func TestQueueState_UnboundedTakesEverything(t *testing.T) {
	s := newState(0)
	for i := 0; i < 500; i++ {
		s.append(newEntry("m"))
	}
	ext, _ := s.nextBatch()
	require.NotNil(t, ext)
	assert.Equal(t, 500, ext.Batch.Size)
}
