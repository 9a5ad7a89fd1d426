// Package js runs user supplied JavaScript that decides how body lines are
// laid out in rendered documents.
package js

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/rs/zerolog/log"

	"github.com/webdoc/webdoc/internal/render"
)

// DefaultTimeout bounds one classify call.
const DefaultTimeout = 100 * time.Millisecond

var ErrNoClassify = errors.New("script does not define a classify function")

// Classifier calls the script's global classify(line) function. It returns
// "heading" or "paragraph"; null or undefined falls back to the built-in
// heuristic.
type Classifier struct {
	name    string
	program *goja.Program
	Timeout time.Duration

	vms sync.Pool
}

type vm struct {
	rt       *goja.Runtime
	classify goja.Callable
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
	program, err := goja.Compile(name, code, false)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", name, err)
	}
	c := &Classifier{name: name, program: program, Timeout: DefaultTimeout}
	v, err := c.newVM()
	if err != nil {
		return nil, err
	}
	c.vms.Put(v)
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
	v, err := c.get()
	if err != nil {
		return 0, false, err
	}

	timer := time.AfterFunc(c.Timeout, func() { v.rt.Interrupt("timeout") })
	ret, err := v.classify(goja.Undefined(), v.rt.ToValue(line))
	if !timer.Stop() || err != nil {
		// Interrupted or thrown; start the next call on a fresh runtime.
		if err == nil {
			err = errors.New("classify timed out")
		}
		return 0, false, err
	}
	c.vms.Put(v)

	if ret == nil || goja.IsUndefined(ret) || goja.IsNull(ret) {
		return 0, false, nil
	}
	s, ok := ret.Export().(string)
	if !ok {
		return 0, false, fmt.Errorf("classify returned %v, want a string", ret)
	}
	kind, ok := render.ParseBlockKind(s)
	if !ok {
		return 0, false, fmt.Errorf("classify returned unknown kind %q", s)
	}
	return kind, true, nil
}

func (c *Classifier) get() (*vm, error) {
	if v := c.vms.Get(); v != nil {
		return v.(*vm), nil
	}
	return c.newVM()
}

func (c *Classifier) newVM() (*vm, error) {
	rt := goja.New()
	timer := time.AfterFunc(c.Timeout, func() { rt.Interrupt("timeout") })
	_, err := rt.RunProgram(c.program)
	timer.Stop()
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", c.name, err)
	}
	fn, ok := goja.AssertFunction(rt.Get("classify"))
	if !ok {
		return nil, fmt.Errorf("%s: %w", c.name, ErrNoClassify)
	}
	return &vm{rt: rt, classify: fn}, nil
}
