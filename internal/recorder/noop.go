package recorder

// NoopRecorder is used when no --record file is given.
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (n *NoopRecorder) RecordStep(_ *Step) error       { return nil }
func (n *NoopRecorder) RecordHarvest(_ *Harvest) error { return nil }
func (n *NoopRecorder) Close() error                   { return nil }
