package metrics

type Counter interface {
	Inc()
}

type Observer interface {
	Observe(float64)
}

type Metrics struct {
	OrdersFilled        Counter
	OrdersResting       Counter
	OrdersRejected      Counter
	TransportErrors     Counter
	TimedOut            Counter
	TickRetries         Counter
	LeverageFailures    Counter
	InvariantViolations Counter
	SinkFailures        Counter
	StaleQuotes         Counter
	AttemptSeconds      Observer
}

type noopCounter struct{}

func (noopCounter) Inc() {}

type noopObserver struct{}

func (noopObserver) Observe(float64) {}

func NewNoop() *Metrics {
	n := noopCounter{}
	return &Metrics{
		OrdersFilled:        n,
		OrdersResting:       n,
		OrdersRejected:      n,
		TransportErrors:     n,
		TimedOut:            n,
		TickRetries:         n,
		LeverageFailures:    n,
		InvariantViolations: n,
		SinkFailures:        n,
		StaleQuotes:         n,
		AttemptSeconds:      noopObserver{},
	}
}
