// Package lua runs user supplied Lua scripts that decide how body lines are
// laid out in rendered documents.
package lua

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	"github.com/webdoc/webdoc/internal/render"
)

// DefaultTimeout bounds one classify call.
const DefaultTimeout = 100 * time.Millisecond

var ErrNoClassify = errors.New("script does not define a classify function")

// Classifier calls the script's global classify(line) function. The function
// returns "heading" or "paragraph"; nil falls back to the built-in heuristic.
//
// An LState is not safe for concurrent use, so each call borrows one from a
// pool of states that have already run the script.
type Classifier struct {
	name    string
	proto   *lua.FunctionProto
	Timeout time.Duration

	states sync.Pool
}

// LoadClassifier compiles the script at path.
func LoadClassifier(path string) (*Classifier, error) {
	code, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read classifier script: %w", err)
	}
	return NewClassifier(filepath.Base(path), string(code))
}

// NewClassifier compiles code and checks that it defines classify.
func NewClassifier(name, code string) (*Classifier, error) {
	chunk, err := parse.Parse(strings.NewReader(code), name)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	proto, err := lua.Compile(chunk, name)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", name, err)
	}

	c := &Classifier{name: name, proto: proto, Timeout: DefaultTimeout}
	L, err := c.newState()
	if err != nil {
		return nil, err
	}
	c.states.Put(L)
	return c, nil
}

// Classify implements render.Classifier. Script errors and timeouts are
// logged and the line is classified by render.DefaultClassifier instead.
func (c *Classifier) Classify(line string) render.BlockKind {
	kind, ok, err := c.call(line)
	if err != nil {
		log.Warn().Err(err).Str("script", c.name).Msg("classifier script failed, using default")
	}
	if !ok {
		return render.DefaultClassifier(line)
	}
	return kind
}

func (c *Classifier) call(line string) (render.BlockKind, bool, error) {
	L, err := c.get()
	if err != nil {
		return 0, false, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
	defer cancel()
	L.SetContext(ctx)

	L.Push(L.GetGlobal("classify"))
	L.Push(lua.LString(line))
	err = L.PCall(1, 1, nil)
	L.RemoveContext()
	if err != nil {
		// The state may be left mid-call; do not reuse it.
		L.Close()
		return 0, false, err
	}
	ret := L.Get(-1)
	L.SetTop(0)
	c.states.Put(L)

	switch v := ret.(type) {
	case *lua.LNilType:
		return 0, false, nil
	case lua.LString:
		kind, ok := render.ParseBlockKind(string(v))
		if !ok {
			return 0, false, fmt.Errorf("classify returned unknown kind %q", string(v))
		}
		return kind, true, nil
	default:
		return 0, false, fmt.Errorf("classify returned a %s, want a string", ret.Type())
	}
}

func (c *Classifier) get() (*lua.LState, error) {
	if v := c.states.Get(); v != nil {
		return v.(*lua.LState), nil
	}
	return c.newState()
}

// newState opens a sandbox without the io and os libraries and runs the
// script's top level.
func (c *Classifier) newState() (*lua.LState, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, lib := range []struct {
		name string
		open lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.open))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
	defer cancel()
	L.SetContext(ctx)
	defer L.RemoveContext()

	L.Push(L.NewFunctionFromProto(c.proto))
	if err := L.PCall(0, lua.MultRet, nil); err != nil {
		L.Close()
		return nil, fmt.Errorf("run %s: %w", c.name, err)
	}
	L.SetTop(0)
	if _, ok := L.GetGlobal("classify").(*lua.LFunction); !ok {
		L.Close()
		return nil, fmt.Errorf("%s: %w", c.name, ErrNoClassify)
	}
	return L, nil
}
