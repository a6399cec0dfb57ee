package queue

import "github.com/xokuso/peluquerias-app-sub000/internal/obs"

// observedPublisher counts publish calls and bytes in obs.Stats.
type observedPublisher struct {
	next  Publisher
	stats *obs.Stats
}

// ObservePublisher wraps p with publish counters. Wrapping twice is a no-op.
func ObservePublisher(p Publisher, stats *obs.Stats) Publisher {
	if p == nil || stats == nil {
		return p
	}
	switch p.(type) {
	case *observedPublisher, *observedKeyedPublisher:
		return p
	}
	o := &observedPublisher{next: p, stats: stats}
	if kp, ok := p.(KeyedPublisher); ok {
		return &observedKeyedPublisher{observedPublisher: o, keyed: kp}
	}
	return o
}

func (o *observedPublisher) Publish(topic string, body []byte) error {
	err := o.next.Publish(topic, body)
	o.stats.ObservePublish(len(body), err)
	return err
}

// MultiPublish counts one publish per call, whether or not the wrapped publisher
// batches.
func (o *observedPublisher) MultiPublish(topic string, bodies [][]byte) error {
	size := 0
	for _, b := range bodies {
		size += len(b)
	}
	var err error
	if bp, ok := o.next.(BatchPublisher); ok {
		err = bp.MultiPublish(topic, bodies)
	} else {
		for _, b := range bodies {
			if err = o.next.Publish(topic, b); err != nil {
				break
			}
		}
	}
	o.stats.ObservePublish(size, err)
	return err
}

// Ping forwards to the wrapped publisher when it can be pinged.
func (o *observedPublisher) Ping() error {
	if p, ok := o.next.(interface{ Ping() error }); ok {
		return p.Ping()
	}
	return nil
}

// observedKeyedPublisher is the wrapper for publishers that order by key.
type observedKeyedPublisher struct {
	*observedPublisher
	keyed KeyedPublisher
}

func (o *observedKeyedPublisher) PublishKeyed(topic, key string, body []byte) error {
	err := o.keyed.PublishKeyed(topic, key, body)
	o.stats.ObservePublish(len(body), err)
	return err
}
