package batch

import "time"

// Outcome 一个批次的派发结果
type Outcome struct {
	BatchID   uint64
	Size      int
	Replies   int
	Delivered int
	// Missing 后端未返回回复的条目数
	Missing int
	// Failed 因后端调用失败而收到失败回复的条目数
	Failed         int
	BackendElapsed float64
	Duration       time.Duration
	DispatchedAt   time.Time
	Err            error
}

// Observer 接收队列与派发事件，用于指标与批次历史
type Observer interface {
	OnEnqueue(depth int)
	OnPrune(count int)
	OnQueueDepth(depth int)
	OnBatch(outcome Outcome)
}

// NopObserver 空实现
type NopObserver struct{}

func (NopObserver) OnEnqueue(int)    {}
func (NopObserver) OnPrune(int)      {}
func (NopObserver) OnQueueDepth(int) {}
func (NopObserver) OnBatch(Outcome)  {}

// Observers 把事件依次转发给多个 Observer
type Observers []Observer

func (obs Observers) OnEnqueue(depth int) {
	for _, o := range obs {
		o.OnEnqueue(depth)
	}
}

func (obs Observers) OnPrune(count int) {
	for _, o := range obs {
		o.OnPrune(count)
	}
}

func (obs Observers) OnQueueDepth(depth int) {
	for _, o := range obs {
		o.OnQueueDepth(depth)
	}
}

func (obs Observers) OnBatch(outcome Outcome) {
	for _, o := range obs {
		o.OnBatch(outcome)
	}
}
