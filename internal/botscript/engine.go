package botscript

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"voxelpipe.ai/internal/sim/component"
)

// Policy picks the next state a bot requests, given the last result.
type Policy interface {
	NextState(tick uint64, state int, ok bool) (int, error)
}

// Cycle requests every state code in order, wrapping from 16 to 0.
type Cycle struct{}

func (Cycle) NextState(_ uint64, state int, _ bool) (int, error) {
	return (state + 1) % component.NumStates, nil
}

// Engine wraps a single gopher-lua VM that defines
// next_state(tick, state, ok). Single-goroutine access only.
type Engine struct {
	vm *lua.LState
}

// Load runs the script at path and checks that it defines next_state.
func Load(path string) (*Engine, error) {
	e := newEngine()
	if err := e.vm.DoFile(path); err != nil {
		e.vm.Close()
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return e.checked()
}

func LoadString(src string) (*Engine, error) {
	e := newEngine()
	if err := e.vm.DoString(src); err != nil {
		e.vm.Close()
		return nil, fmt.Errorf("load script: %w", err)
	}
	return e.checked()
}

func newEngine() *Engine {
	vm := lua.NewState(lua.Options{SkipOpenLibs: false})
	vm.SetGlobal("NUM_STATES", lua.LNumber(component.NumStates))
	vm.SetGlobal("RETRACTED", lua.LNumber(component.StateRetracted))
	vm.SetGlobal("NOOP", lua.LNumber(component.StateNoop))
	return &Engine{vm: vm}
}

func (e *Engine) checked() (*Engine, error) {
	if _, ok := e.vm.GetGlobal("next_state").(*lua.LFunction); !ok {
		e.vm.Close()
		return nil, fmt.Errorf("script does not define next_state")
	}
	return e, nil
}

func (e *Engine) Close() { e.vm.Close() }

func (e *Engine) NextState(tick uint64, state int, ok bool) (int, error) {
	fn := e.vm.GetGlobal("next_state")
	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, lua.LNumber(tick), lua.LNumber(state), lua.LBool(ok)); err != nil {
		return 0, fmt.Errorf("next_state: %w", err)
	}
	ret := e.vm.Get(-1)
	e.vm.Pop(1)

	n, isNum := ret.(lua.LNumber)
	if !isNum {
		return 0, fmt.Errorf("next_state returned %s, want number", ret.Type())
	}
	return int(n), nil
}
