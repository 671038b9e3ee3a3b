package hybrid

import (
	"context"
	"errors"
	"time"
)

// Update is one settled typeahead result
type Update struct {
	Query string
	State State
	Err   error
}

// Typeahead debounces keystrokes for one surface and publishes the result
// of the last query once input settles. Stale responses are never published.
type Typeahead struct {
	ctx     context.Context
	o       *Orchestrator
	surface string
	deb     *Debouncer
	updates chan Update
}

// NewTypeahead creates a typeahead bound to surface
func NewTypeahead(ctx context.Context, o *Orchestrator, surface string, delay time.Duration) *Typeahead {
	return &Typeahead{
		ctx:     ctx,
		o:       o,
		surface: surface,
		deb:     NewDebouncer(delay),
		updates: make(chan Update, 1),
	}
}

// Input records the current text of the search box
func (t *Typeahead) Input(query string) {
	t.deb.Trigger(func() {
		st, err := t.o.Search(t.ctx, t.surface, query)
		if errors.Is(err, ErrStale) {
			return
		}
		select {
		case t.updates <- Update{Query: query, State: st, Err: err}:
		case <-t.ctx.Done():
		}
	})
}

// Updates delivers settled results
func (t *Typeahead) Updates() <-chan Update {
	return t.updates
}

// Stop cancels pending input
func (t *Typeahead) Stop() {
	t.deb.Cancel()
}
