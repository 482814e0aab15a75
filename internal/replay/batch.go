package replay

// Stacked is a multi-frame observation: FrameHistory frames concatenated
// along the channel axis and the matching goal vectors concatenated along the
// feature axis, oldest first.
type Stacked struct {
	Frames []float32
	Goals  []float32
}

// Batch is a sampled minibatch laid out as contiguous arenas. Entry i
// occupies the i-th stride of each slice; DoneMask is 1.0 where the
// transition ended its episode and the bootstrap term must be zeroed.
type Batch struct {
	Frames     []float32
	Goals      []float32
	NextFrames []float32
	NextGoals  []float32
	Actions    []int32
	Rewards    []float32
	DoneMask   []float32
	Values     []float32 // nil unless sampled with values

	Size         int
	FrameHistory int
	FrameLen     int // single-frame length; stacked stride is FrameHistory*FrameLen
	GoalDim      int
}

func newBatch(size int, cfg Config, withValue bool) *Batch {
	frameLen := cfg.FrameLen()
	b := &Batch{
		Frames:       make([]float32, size*cfg.FrameHistory*frameLen),
		Goals:        make([]float32, size*cfg.FrameHistory*cfg.GoalDim),
		NextFrames:   make([]float32, size*cfg.FrameHistory*frameLen),
		NextGoals:    make([]float32, size*cfg.FrameHistory*cfg.GoalDim),
		Actions:      make([]int32, size),
		Rewards:      make([]float32, size),
		DoneMask:     make([]float32, size),
		Size:         size,
		FrameHistory: cfg.FrameHistory,
		FrameLen:     frameLen,
		GoalDim:      cfg.GoalDim,
	}
	if withValue {
		b.Values = make([]float32, size)
	}
	return b
}

// StackedFrames returns the stacked observation frames for entry i.
func (b *Batch) StackedFrames(i int) []float32 {
	stride := b.FrameHistory * b.FrameLen
	return b.Frames[i*stride : (i+1)*stride]
}

// StackedGoals returns the stacked goal vectors for entry i.
func (b *Batch) StackedGoals(i int) []float32 {
	stride := b.FrameHistory * b.GoalDim
	return b.Goals[i*stride : (i+1)*stride]
}

// NextStackedFrames returns the successor stacked frames for entry i.
func (b *Batch) NextStackedFrames(i int) []float32 {
	stride := b.FrameHistory * b.FrameLen
	return b.NextFrames[i*stride : (i+1)*stride]
}

// NextStackedGoals returns the successor stacked goals for entry i.
func (b *Batch) NextStackedGoals(i int) []float32 {
	stride := b.FrameHistory * b.GoalDim
	return b.NextGoals[i*stride : (i+1)*stride]
}
