package transport

import "github.com/rjboer/GoSDDC/internal/sddc"

// Decorator wraps a freshly opened Transport, e.g. with NewTracer or NewInstrument.
type Decorator func(sddc.Transport) sddc.Transport

// WrapBus returns a Bus whose Open applies decorators in order, so the last
// one is outermost.
func WrapBus(bus sddc.Bus, decorators ...Decorator) sddc.Bus {
	return &wrappedBus{Bus: bus, decorators: decorators}
}

type wrappedBus struct {
	sddc.Bus
	decorators []Decorator
}

func (b *wrappedBus) Open(index int) (sddc.Transport, error) {
	t, err := b.Bus.Open(index)
	if err != nil {
		return nil, err
	}
	for _, d := range b.decorators {
		if d != nil {
			t = d(t)
		}
	}
	return t, nil
}
