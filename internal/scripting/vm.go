package scripting

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
)

// ErrScriptTimeout is returned when a script call overruns its budget.
var ErrScriptTimeout = errors.New("script timed out")

// LogEntry represents a single log message from the script.
type LogEntry struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
}

// VM wraps a goja runtime with sandbox restrictions and global function injection.
type VM struct {
	runtime *goja.Runtime
	mu      sync.Mutex

	logs    []LogEntry
	logsMu  sync.Mutex
	maxLogs int
	onLog   func(string)

	stopRequested  bool
	resetRequested bool
	initTimeout    time.Duration
	callTimeout    time.Duration
}

const (
	scriptInitTimeout = 2 * time.Second
	scriptCallTimeout = 1 * time.Second
	defaultMaxLogs    = 500
)

// blockedGlobals are removed from the sandbox.
var blockedGlobals = []string{"require", "fetch", "XMLHttpRequest", "eval", "Function"}

// NewVM creates a sandboxed runtime. onLog, when set, receives every line the
// script logs.
func NewVM(onLog func(string)) *VM {
	vm := &VM{
		runtime:     goja.New(),
		maxLogs:     defaultMaxLogs,
		onLog:       onLog,
		initTimeout: scriptInitTimeout,
		callTimeout: scriptCallTimeout,
	}
	vm.injectGlobalFunctions()
	return vm
}

// injectGlobalFunctions registers log, console.log, stop, sleep and resetstats.
func (vm *VM) injectGlobalFunctions() {
	logFn := func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		vm.appendLog(strings.Join(parts, " "))
		return goja.Undefined()
	}
	vm.runtime.Set("log", logFn)

	console := vm.runtime.NewObject()
	console.Set("log", logFn)
	vm.runtime.Set("console", console)

	// These run inside a script call, while vm.mu is held by the caller.
	vm.runtime.Set("stop", func(goja.FunctionCall) goja.Value {
		vm.stopRequested = true
		vm.runtime.Set("running", false)
		return goja.Undefined()
	})
	vm.runtime.Set("resetstats", func(goja.FunctionCall) goja.Value {
		vm.resetRequested = true
		return goja.Undefined()
	})
	vm.runtime.Set("sleep", func(call goja.FunctionCall) goja.Value {
		ms := int64(0)
		if len(call.Arguments) > 0 {
			ms = call.Arguments[0].ToInteger()
		}
		vm.runtime.Set("sleeptime", ms)
		return goja.Undefined()
	})

	for _, name := range blockedGlobals {
		vm.runtime.Set(name, goja.Undefined())
	}
}

func (vm *VM) appendLog(msg string) {
	vm.logsMu.Lock()
	if len(vm.logs) >= vm.maxLogs {
		vm.logs = vm.logs[1:]
	}
	vm.logs = append(vm.logs, LogEntry{Time: time.Now(), Message: msg})
	vm.logsMu.Unlock()

	if vm.onLog != nil {
		vm.onLog(msg)
	}
}

// Execute runs the script body once, which must register dobet().
func (vm *VM) Execute(source string) error {
	return vm.runWithTimeout(vm.initTimeout, func() error {
		if _, err := vm.runtime.RunString(source); err != nil {
			return fmt.Errorf("script execution error: %w", err)
		}
		return nil
	})
}

// HasDobet reports whether the script defined dobet() as a function.
func (vm *VM) HasDobet() bool {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	_, ok := goja.AssertFunction(vm.runtime.Get("dobet"))
	return ok
}

// CallDobet calls the user-defined dobet() function.
func (vm *VM) CallDobet() error {
	return vm.runWithTimeout(vm.callTimeout, func() error {
		callable, ok := goja.AssertFunction(vm.runtime.Get("dobet"))
		if !ok {
			return errors.New("dobet is not a function")
		}
		if _, err := callable(goja.Undefined()); err != nil {
			return fmt.Errorf("dobet() error: %w", err)
		}
		return nil
	})
}

// IsStopRequested returns true if stop() was called from the script.
func (vm *VM) IsStopRequested() bool {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.stopRequested
}

// TakeResetStats reports whether resetstats() was called since the last check.
func (vm *VM) TakeResetStats() bool {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	requested := vm.resetRequested
	vm.resetRequested = false
	return requested
}

// SetVariables pushes the current variable state into the JS runtime.
func (vm *VM) SetVariables(vars *Variables) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	injectVariables(vm.runtime, vars)
}

// SyncVariables reads mutable variables back from the JS runtime.
func (vm *VM) SyncVariables(vars *Variables) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	syncFromVM(vm.runtime, vars)
}

// TakeSleep returns the requested delay and clears it.
func (vm *VM) TakeSleep() time.Duration {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	ms := toInt(vm.runtime.Get("sleeptime"))
	vm.runtime.Set("sleeptime", 0)
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

// GetLogs returns a copy of the current log buffer.
func (vm *VM) GetLogs() []LogEntry {
	vm.logsMu.Lock()
	defer vm.logsMu.Unlock()
	out := make([]LogEntry, len(vm.logs))
	copy(out, vm.logs)
	return out
}

// runWithTimeout runs fn with vm.mu held and interrupts the runtime when it
// overruns. goja is not goroutine-safe, so the lock is held until fn returns.
func (vm *VM) runWithTimeout(timeout time.Duration, fn func() error) error {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	timer := time.AfterFunc(timeout, func() {
		vm.runtime.Interrupt(ErrScriptTimeout)
	})
	err := fn()
	if !timer.Stop() {
		vm.runtime.ClearInterrupt()
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			return fmt.Errorf("%w after %s", ErrScriptTimeout, timeout)
		}
	}
	return err
}
