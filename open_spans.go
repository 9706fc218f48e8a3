package minitrace

import (
	"sort"
	"sync"
)

// openSpans tracks spans that started but have not finished yet, so that
// leaks can be reported when the tracer closes.
type openSpans struct {
	lock  sync.Mutex
	spans map[*Span]struct{}
}

func newOpenSpans() *openSpans {
	return &openSpans{spans: map[*Span]struct{}{}}
}

func (o *openSpans) add(s *Span) {
	o.lock.Lock()
	o.spans[s] = struct{}{}
	o.lock.Unlock()
}

func (o *openSpans) remove(s *Span) {
	o.lock.Lock()
	delete(o.spans, s)
	o.lock.Unlock()
}

// drain forgets every open span and returns their operation names, sorted.
func (o *openSpans) drain() []string {
	o.lock.Lock()
	spans := o.spans
	o.spans = map[*Span]struct{}{}
	o.lock.Unlock()

	operations := make([]string, 0, len(spans))
	for s := range spans {
		operations = append(operations, s.OperationName())
	}
	sort.Strings(operations)
	return operations
}
