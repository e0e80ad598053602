package consumer

import "context"

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(context.Context, Message) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, msg Message) error { return f(ctx, msg) }

// Router fans a decoded event out to the handlers registered for every event
// and then to those registered for its type. Handlers run in registration
// order and must tolerate redelivery: the offset is not committed until all
// of them succeed.
type Router struct {
	all    []Handler
	byType map[string][]Handler
}

// NewRouter returns an empty Router.
func NewRouter() *Router {
	return &Router{byType: make(map[string][]Handler)}
}

// All registers h for every event type.
func (r *Router) All(h Handler) *Router {
	r.all = append(r.all, h)
	return r
}

// On registers h for eventType.
func (r *Router) On(eventType string, h Handler) *Router {
	r.byType[eventType] = append(r.byType[eventType], h)
	return r
}

// Handle implements Handler.
func (r *Router) Handle(ctx context.Context, msg Message) error {
	for _, h := range r.all {
		if err := h.Handle(ctx, msg); err != nil {
			return err
		}
	}
	for _, h := range r.byType[msg.EventType] {
		if err := h.Handle(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}
