package minitrace

import (
	"context"
	"sync"

	opentracing "github.com/opentracing/opentracing-go"
)

type scopeKey struct{}

// scopeStack is the active-span stack of one logical thread. The innermost
// scope is last.
type scopeStack struct {
	lock   sync.Mutex
	scopes []*Scope
}

func (st *scopeStack) top() *Scope {
	if len(st.scopes) == 0 {
		return nil
	}
	return st.scopes[len(st.scopes)-1]
}

// contextScope is what a context carries: the scope activated in it, if any,
// and the stack that scope was pushed on.
type contextScope struct {
	stack *scopeStack
	scope *Scope
}

// WithNewScopeStack returns a context carrying an empty active-span stack.
// Spans started from it have no implicit parent.
func WithNewScopeStack(ctx context.Context) context.Context {
	return context.WithValue(ctx, scopeKey{}, contextScope{stack: &scopeStack{}})
}

func contextScopeFrom(ctx context.Context) contextScope {
	if ctx == nil {
		return contextScope{}
	}
	cs, _ := ctx.Value(scopeKey{}).(contextScope)
	return cs
}

// activeSpan returns the span of the innermost open scope on the chain that
// starts at the scope ctx was activated with.
func activeSpan(ctx context.Context) *Span {
	for s := contextScopeFrom(ctx).scope; s != nil; s = s.parent {
		if !s.isClosed() {
			return s.span
		}
	}
	return nil
}

// activate pushes a scope for span. The stack of ctx is reused only while
// the scope of ctx is still its top; anything else means another logical
// thread owns that stack, and the new scope starts a stack of its own.
func activate(ctx context.Context, span *Span, finishSpanOnClose bool) (*Scope, context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	cs := contextScopeFrom(ctx)
	scope := &Scope{parent: cs.scope, span: span, finishSpanOnClose: finishSpanOnClose}

	st := cs.stack
	if st != nil {
		st.lock.Lock()
		if st.top() == cs.scope {
			scope.stack = st
			st.scopes = append(st.scopes, scope)
		}
		st.lock.Unlock()
	}
	if scope.stack == nil {
		scope.stack = &scopeStack{scopes: []*Scope{scope}}
	}

	ctx = context.WithValue(ctx, scopeKey{}, contextScope{stack: scope.stack, scope: scope})
	return scope, opentracing.ContextWithSpan(ctx, span)
}

// Scope is one entry on an active-span stack.
type Scope struct {
	stack             *scopeStack
	parent            *Scope
	span              *Span
	finishSpanOnClose bool

	// guarded by stack.lock
	closed bool
}

func (s *Scope) Span() *Span {
	return s.span
}

func (s *Scope) isClosed() bool {
	s.stack.lock.Lock()
	defer s.stack.lock.Unlock()
	return s.closed
}

// Close pops the scope and, if requested at start, finishes its span. Only
// the innermost open scope of a stack may be closed; closing any other, or
// closing twice, is reported as EventMisuse and changes nothing.
func (s *Scope) Close() {
	st := s.stack
	st.lock.Lock()
	switch {
	case s.closed:
		st.lock.Unlock()
		EmitEvent(newEventMisuse(misuse(ErrScopeClosed, "close scope of %q", s.span.OperationName())))
		return
	case st.top() != s:
		st.lock.Unlock()
		EmitEvent(newEventMisuse(misuse(ErrScopeOutOfOrder, "close scope of %q", s.span.OperationName())))
		return
	}
	st.scopes[len(st.scopes)-1] = nil
	st.scopes = st.scopes[:len(st.scopes)-1]
	s.closed = true
	st.lock.Unlock()

	if s.finishSpanOnClose {
		s.span.Finish()
	}
}
