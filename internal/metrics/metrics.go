package metrics

type Counter interface {
	Inc()
}

type Metrics struct {
	OrdersPlaced     Counter
	OrdersFailed     Counter
	CyclesSkipped    Counter
	SnapshotsPushed  Counter
	SnapshotsFailed  Counter
	RebalancesDone   Counter
	RebalancesFailed Counter
	RemapsFailed     Counter
}

type noopCounter struct{}

func (noopCounter) Inc() {}

func NewNoop() *Metrics {
	n := noopCounter{}
	return &Metrics{
		OrdersPlaced:     n,
		OrdersFailed:     n,
		CyclesSkipped:    n,
		SnapshotsPushed:  n,
		SnapshotsFailed:  n,
		RebalancesDone:   n,
		RebalancesFailed: n,
		RemapsFailed:     n,
	}
}
