package funnel

import (
	"sort"
	"sync"
	"time"
)

type stepKey struct {
	Session string
	Funnel  string
	Step    string
}

// openKey is the persisted form of the key. Funnel and step names cannot contain
// '|', so the session id can go last unescaped.
func (k stepKey) openKey() string {
	return k.Funnel + "|" + k.Step + "|" + k.Session
}

type activeStep struct {
	EnteredAt time.Time
	Order     int
	gen       uint64
}

// registry tracks in-progress steps. Each entry carries a generation so deferred
// tasks can tell whether the visit they were scheduled for is still the current one.
type registry struct {
	mu  sync.Mutex
	m   map[stepKey]activeStep
	seq uint64
}

func newRegistry() *registry {
	return &registry{m: make(map[stepKey]activeStep)}
}

func (r *registry) put(k stepKey, at time.Time, order int) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	r.m[k] = activeStep{EnteredAt: at, Order: order, gen: r.seq}
	return r.seq
}

func (r *registry) take(k stepKey) (activeStep, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.m[k]
	if ok {
		delete(r.m, k)
	}
	return a, ok
}

// takeIf removes the entry only if it is still generation gen.
func (r *registry) takeIf(k stepKey, gen uint64) (activeStep, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.m[k]
	if !ok || a.gen != gen {
		return activeStep{}, false
	}
	delete(r.m, k)
	return a, true
}

type keyedStep struct {
	key  stepKey
	step activeStep
}

// takeEarlier removes and returns the active steps of the same session and funnel
// ordered before order.
func (r *registry) takeEarlier(session, funnel string, order int) []keyedStep {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []keyedStep
	for k, a := range r.m {
		if k.Session == session && k.Funnel == funnel && a.Order < order {
			out = append(out, keyedStep{key: k, step: a})
			delete(r.m, k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].step.Order < out[j].step.Order })
	return out
}

func (r *registry) takeSession(session string) []keyedStep {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []keyedStep
	for k, a := range r.m {
		if k.Session == session {
			out = append(out, keyedStep{key: k, step: a})
			delete(r.m, k)
		}
	}
	return out
}

func (r *registry) snapshot(session string) []ActiveStep {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ActiveStep
	for k, a := range r.m {
		if k.Session == session {
			out = append(out, ActiveStep{Funnel: k.Funnel, Step: k.Step, Order: a.Order, EnteredAt: a.EnteredAt})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Funnel == out[j].Funnel {
			return out[i].Order < out[j].Order
		}
		return out[i].Funnel < out[j].Funnel
	})
	return out
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.m)
}
