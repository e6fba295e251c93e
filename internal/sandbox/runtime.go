package sandbox

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/shared/rterr"
)

// interrupt reasons recorded by the watchdog
const (
	reasonNone int32 = iota
	reasonDeadline
	reasonMemory
)

// Runtime wraps one goja VM with security controls.
// All script execution goes through Invoke, which holds the runtime lock and
// arms the watchdog.
type Runtime struct {
	vm        *goja.Runtime
	config    Config
	mu        sync.Mutex
	logger    *zap.Logger
	jsonParse goja.Callable
	closed    bool
}

// New creates a new sandboxed runtime with the ui namespace installed
func New(config Config, logger *zap.Logger) (*Runtime, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	config = config.withDefaults()

	vm := goja.New()
	vm.SetMaxCallStackSize(config.MaxCallStackDepth)

	r := &Runtime{
		vm:     vm,
		config: config,
		logger: logger,
	}

	if err := r.setupGlobals(); err != nil {
		return nil, err
	}
	return r, nil
}

// setupGlobals configures global objects and security
func (r *Runtime) setupGlobals() error {
	// Capture JSON.parse before any untrusted code can replace it
	jsonObj := r.vm.Get("JSON").ToObject(r.vm)
	parse, ok := goja.AssertFunction(jsonObj.Get("parse"))
	if !ok {
		return fmt.Errorf("JSON.parse unavailable")
	}
	r.jsonParse = parse

	// Remove dangerous globals
	for _, name := range []string{"require", "process", "module", "exports"} {
		if err := r.vm.Set(name, goja.Undefined()); err != nil {
			return fmt.Errorf("failed to strip %s: %w", name, err)
		}
	}

	console := r.vm.NewObject()
	for _, level := range []string{"log", "info", "warn", "error", "debug"} {
		if err := console.Set(level, r.makeConsoleFunc(level)); err != nil {
			return err
		}
	}
	if err := r.vm.Set("console", console); err != nil {
		return err
	}

	// Timers are no-ops; scripts only run inside an invocation
	noop := func(goja.FunctionCall) goja.Value { return goja.Undefined() }
	for _, name := range []string{"setTimeout", "setInterval", "clearTimeout", "clearInterval"} {
		if err := r.vm.Set(name, noop); err != nil {
			return err
		}
	}

	if _, err := r.vm.RunScript("bootstrap.js", bootstrapSource); err != nil {
		return fmt.Errorf("failed to install ui namespace: %w", err)
	}
	return nil
}

// makeConsoleFunc creates a console function that writes to the logger
func (r *Runtime) makeConsoleFunc(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		if !r.config.EnableConsole {
			return goja.Undefined()
		}
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		msg := strings.Join(parts, " ")

		switch level {
		case "warn":
			r.logger.Warn("script console", zap.String("message", msg))
		case "error":
			r.logger.Error("script console", zap.String("message", msg))
		default:
			r.logger.Debug("script console", zap.String("level", level), zap.String("message", msg))
		}
		return goja.Undefined()
	}
}

// Define installs a global binding
func (r *Runtime) Define(name string, value interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return rterr.New(rterr.CodeSession, "runtime closed")
	}
	return r.vm.Set(name, value)
}

// Eval runs src as a script under timeout and exports its completion value
func (r *Runtime) Eval(name, src string, timeout time.Duration) (interface{}, error) {
	var out interface{}
	err := r.Invoke(name, timeout, func(vm *goja.Runtime) error {
		v, err := vm.RunScript(name, src)
		if err != nil {
			return err
		}
		out = exportValue(v)
		return nil
	})
	return out, err
}

// Invoke runs fn with exclusive access to the VM under a wall-clock deadline.
// Script failures come back classified: RUNTIME_TIMEOUT when the deadline
// fired, RUNTIME_ERROR for thrown exceptions and contract violations.
func (r *Runtime) Invoke(op string, timeout time.Duration, fn func(vm *goja.Runtime) error) (err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return rterr.New(rterr.CodeSession, "runtime closed")
	}

	leave := enterInvocation()
	defer leave()

	stop := r.arm(timeout)
	defer func() {
		if p := recover(); p != nil {
			stop()
			err = rterr.New(rterr.CodeUnknown, "%s: internal panic: %v", op, p)
		}
	}()

	runErr := fn(r.vm)
	reason := stop()

	return classify(op, timeout, reason, runErr)
}

// arm starts the watchdog and returns a function that stops it, clears any
// pending interrupt and reports why it fired
func (r *Runtime) arm(timeout time.Duration) func() int32 {
	var reason atomic.Int32
	done := make(chan struct{})
	var wg sync.WaitGroup

	var watch *heapWatch
	if r.config.MaxMemoryBytes > 0 {
		watch = newHeapWatch(r.config.MaxMemoryBytes)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()

		deadline := time.NewTimer(timeout)
		defer deadline.Stop()
		ticker := time.NewTicker(r.config.PollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-deadline.C:
				reason.Store(reasonDeadline)
				r.vm.Interrupt("deadline exceeded")
				return
			case now := <-ticker.C:
				if watch != nil && watch.exceeded(now) {
					reason.Store(reasonMemory)
					r.vm.Interrupt("memory limit exceeded")
					return
				}
			}
		}
	}()

	var once sync.Once
	return func() int32 {
		once.Do(func() {
			close(done)
			wg.Wait()
			r.vm.ClearInterrupt()
		})
		return reason.Load()
	}
}

func classify(op string, timeout time.Duration, reason int32, err error) error {
	if err == nil {
		return nil
	}

	var rerr *rterr.Error
	if errors.As(err, &rerr) {
		return err
	}

	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if reason == reasonMemory {
			return rterr.Wrap(rterr.CodeRuntime, err, "%s: memory limit exceeded", op).
				WithDetail("op", op)
		}
		return rterr.Wrap(rterr.CodeTimeout, err, "%s exceeded %s deadline", op, timeout).
			WithDetail("op", op).
			WithDetail("timeoutMs", timeout.Milliseconds())
	}

	var exc *goja.Exception
	if errors.As(err, &exc) {
		return rterr.Wrap(rterr.CodeRuntime, err, "%s: %s", op, exc.Value().String()).
			WithDetail("op", op)
	}

	return rterr.Wrap(rterr.CodeRuntime, err, "%s: %v", op, err).WithDetail("op", op)
}

// importJSON re-materializes host data inside the VM with the VM's own
// JSON.parse, so scripts never hold references to host values.
// Only call from within Invoke.
func (r *Runtime) importJSON(v interface{}) (goja.Value, error) {
	data, err := sonic.Marshal(v)
	if err != nil {
		return nil, rterr.Wrap(rterr.CodeSchema, err, "value is not JSON-serializable")
	}
	return r.jsonParse(goja.Undefined(), r.vm.ToValue(string(data)))
}

// Close releases the VM. It waits for an in-flight invocation to finish.
func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	r.vm = nil
	r.jsonParse = nil
	return nil
}

// exportValue converts goja value to Go value
func exportValue(val goja.Value) interface{} {
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return nil
	}
	return val.Export()
}
