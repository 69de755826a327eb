package fragments

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/reusee/studyboard/logs"
)

// Props is what the host passes to a fragment.
type Props struct {
	StudyID string
	StateID string
	Args    map[string]any
	// Send relays a message to the running study and returns its reply.
	Send func(ctx context.Context, data any) (any, error)
}

// Event is a DOM-like event dispatched to a handler.
type Event struct {
	Value   any  `json:"value"`
	Checked bool `json:"checked"`
}

var (
	ErrUnknownHandler = errors.New("unknown event handler")
	ErrClosed         = errors.New("fragment closed")
)

// passes per update before the render loop is considered runaway
const maxPasses = 25

// Instance is an evaluated fragment with its component state.
type Instance struct {
	lock    sync.Mutex
	vm      *goja.Runtime
	logger  logs.Logger
	timeout time.Duration
	props   Props

	component    goja.Value
	rootProps    *goja.Object
	fragmentType goja.Value

	frame    *frame
	dirty    bool
	effects  []pendingEffect
	mounted  map[string]*mounted
	handlers map[string]handler
	html     string

	// set while JS runs
	ctx context.Context

	listeners    map[int]func(string)
	nextListener int
	subscribers  map[int]goja.Callable
	nextSub      int

	queueLock sync.Mutex
	queue     []any
	wake      chan struct{}

	done      chan struct{}
	cancel    context.CancelFunc
	baseCtx   context.Context
	closeOnce sync.Once
	closed    bool
}

func newInstance(logger logs.Logger, timeout time.Duration, props Props) *Instance {
	ctx, cancel := context.WithCancel(context.Background())
	i := &Instance{
		vm:          goja.New(),
		logger:      logger,
		timeout:     timeout,
		props:       props,
		mounted:     make(map[string]*mounted),
		handlers:    make(map[string]handler),
		listeners:   make(map[int]func(string)),
		subscribers: make(map[int]goja.Callable),
		wake:        make(chan struct{}, 1),
		done:        make(chan struct{}),
		cancel:      cancel,
		baseCtx:     ctx,
	}
	return i
}

// guard runs fn with the timeout and ctx interrupting the runtime.
func (i *Instance) guard(ctx context.Context, fn func() error) (err error) {
	timer := time.AfterFunc(i.timeout, func() {
		i.vm.Interrupt(fmt.Sprintf("timed out after %v", i.timeout))
	})
	stop := context.AfterFunc(ctx, func() {
		i.vm.Interrupt(context.Cause(ctx).Error())
	})
	i.ctx = ctx
	defer func() {
		timer.Stop()
		stop()
		i.vm.ClearInterrupt()
		i.ctx = nil
		i.frame = nil
		if p := recover(); p != nil {
			if e, ok := p.(error); ok {
				err = e
			} else {
				err = fmt.Errorf("%v", p)
			}
		}
	}()
	return fn()
}

// update renders until no state changes, running effects after each pass.
func (i *Instance) update() error {
	for pass := 0; ; pass++ {
		if pass >= maxPasses {
			return errors.New("too many re-renders")
		}
		i.dirty = false
		root, err := i.renderTree()
		if err != nil {
			return err
		}
		out, err := renderHTML(root)
		if err != nil {
			return err
		}
		changed := out != i.html
		i.html = out
		if changed {
			for _, fn := range i.listeners {
				fn(out)
			}
		}
		if err := i.runEffects(); err != nil {
			return err
		}
		if !i.dirty {
			return nil
		}
	}
}

// HTML returns the last rendered markup.
func (i *Instance) HTML() string {
	i.lock.Lock()
	defer i.lock.Unlock()
	return i.html
}

// Handlers returns the ids of the current event handlers.
func (i *Instance) Handlers() []string {
	i.lock.Lock()
	defer i.lock.Unlock()
	ret := make([]string, 0, len(i.handlers))
	for id := range i.handlers {
		ret = append(ret, id)
	}
	return ret
}

// OnChange registers fn to be called with the markup after each change.
// fn runs with the instance locked and must not call back into it.
func (i *Instance) OnChange(fn func(html string)) (remove func()) {
	i.lock.Lock()
	defer i.lock.Unlock()
	id := i.nextListener
	i.nextListener++
	i.listeners[id] = fn
	return func() {
		i.lock.Lock()
		defer i.lock.Unlock()
		delete(i.listeners, id)
	}
}

// Dispatch calls the handler with the id and re-renders.
func (i *Instance) Dispatch(ctx context.Context, id string, event Event) error {
	i.lock.Lock()
	defer i.lock.Unlock()
	if i.closed {
		return ErrClosed
	}
	h, ok := i.handlers[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownHandler, id)
	}
	if err := i.guard(ctx, func() error {
		target := map[string]any{
			"value":   plain(event.Value),
			"checked": event.Checked,
		}
		obj := i.vm.ToValue(map[string]any{
			"type":    h.event,
			"target":  target,
			"value":   plain(event.Value),
			"checked": event.Checked,
		})
		if _, err := h.fn(goja.Undefined(), obj); err != nil {
			return err
		}
		return i.update()
	}); err != nil {
		return stageError(StageEvent, err)
	}
	return nil
}

// Push queues data for the subscribers of the fragment. It never blocks, so
// it is safe to call from a bridge subscription.
func (i *Instance) Push(data any) {
	i.queueLock.Lock()
	i.queue = append(i.queue, data)
	i.queueLock.Unlock()
	select {
	case i.wake <- struct{}{}:
	default:
	}
}

func (i *Instance) deliverLoop() {
	for {
		select {
		case <-i.done:
			return
		case <-i.wake:
		}
		for {
			i.queueLock.Lock()
			batch := i.queue
			i.queue = nil
			i.queueLock.Unlock()
			if len(batch) == 0 {
				break
			}
			for _, data := range batch {
				i.deliver(data)
			}
		}
	}
}

func (i *Instance) deliver(data any) {
	i.lock.Lock()
	defer i.lock.Unlock()
	if i.closed {
		return
	}
	if err := i.guard(i.baseCtx, func() error {
		value := i.vm.ToValue(plain(data))
		for _, fn := range i.subscribers {
			if _, err := fn(goja.Undefined(), value); err != nil {
				return err
			}
		}
		return i.update()
	}); err != nil {
		i.logger.Warn("fragment push failed", "study", i.props.StudyID, "error", jsMessage(err))
	}
}

// Close unmounts the components and stops push delivery.
func (i *Instance) Close() {
	i.closeOnce.Do(func() {
		close(i.done)
		i.cancel()
		i.lock.Lock()
		defer i.lock.Unlock()
		i.closed = true
		if err := i.guard(context.Background(), func() error {
			for path, comp := range i.mounted {
				i.unmount(comp)
				delete(i.mounted, path)
			}
			return nil
		}); err != nil {
			i.logger.Warn("fragment close failed", "error", jsMessage(err))
		}
		i.listeners = nil
	})
}

// bindings of the root component props
func (i *Instance) setRootProps() {
	vm := i.vm
	study := vm.NewObject()
	study.Set("id", i.props.StudyID)
	study.Set("stateId", i.props.StateID)
	study.Set("args", plain(i.props.Args))

	props := vm.NewObject()
	props.Set("study", study)
	props.Set("send", i.send)
	props.Set("subscribe", i.subscribe)
	i.rootProps = props
}

func (i *Instance) send(call goja.FunctionCall) goja.Value {
	if i.props.Send == nil {
		panic(i.vm.NewTypeError("send is not available"))
	}
	ctx := i.ctx
	if ctx == nil {
		ctx = i.baseCtx
	}
	reply, err := i.props.Send(ctx, call.Argument(0).Export())
	if err != nil {
		panic(i.vm.NewGoError(err))
	}
	return i.vm.ToValue(plain(reply))
}

func (i *Instance) subscribe(call goja.FunctionCall) goja.Value {
	fn, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		panic(i.vm.NewTypeError("subscribe needs a function"))
	}
	id := i.nextSub
	i.nextSub++
	i.subscribers[id] = fn
	return i.vm.ToValue(func(goja.FunctionCall) goja.Value {
		delete(i.subscribers, id)
		return goja.Undefined()
	})
}
