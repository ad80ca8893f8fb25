package portal

import (
	"iptu-backend/internal/intercept"
	"sync"

	pw "github.com/playwright-community/playwright-go"
)

type response struct {
	res pw.Response
}

func (r response) URL() string {
	return r.res.URL()
}

func (r response) Method() string {
	return r.res.Request().Method()
}

func (r response) Status() int {
	return r.res.Status()
}

func (r response) Body() ([]byte, error) {
	return r.res.Body()
}

// dispatcher fans the page's single response listener out to subscribers
// that can come and go.
type dispatcher struct {
	mutex     sync.Mutex
	next      int
	listeners map[int]func(intercept.Response)
}

func newDispatcher() *dispatcher {
	return &dispatcher{listeners: map[int]func(intercept.Response){}}
}

func (d *dispatcher) subscribe(fn func(intercept.Response)) func() {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	id := d.next
	d.next++
	d.listeners[id] = fn
	return func() {
		d.mutex.Lock()
		defer d.mutex.Unlock()
		delete(d.listeners, id)
	}
}

func (d *dispatcher) dispatch(res intercept.Response) {
	d.mutex.Lock()
	listeners := make([]func(intercept.Response), 0, len(d.listeners))
	for id := 0; id < d.next; id++ {
		if fn, ok := d.listeners[id]; ok {
			listeners = append(listeners, fn)
		}
	}
	d.mutex.Unlock()

	for _, fn := range listeners {
		fn(res)
	}
}
