package lua

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/webdoc/webdoc/internal/render"
)

const rules = `
function classify(line)
  if line:sub(1, 2) == "# " then
    return "heading"
  end
  if string.len(line) > 40 then
    return "paragraph"
  end
  return nil
end
`

func TestClassifier_Kinds(t *testing.T) {
	c, err := NewClassifier("rules.lua", rules)
	if err != nil {
		t.Fatalf("new classifier: %v", err)
	}

	cases := []struct {
		line string
		want render.BlockKind
	}{
		{"# lowercase heading", render.BlockHeading},
		{"A Long Title Case Line That Is Clearly Over Forty", render.BlockParagraph},
		// nil defers to the default heuristic
		{"Short Title", render.BlockHeading},
		{"a short sentence.", render.BlockParagraph},
	}
	for _, tc := range cases {
		if got := c.Classify(tc.line); got != tc.want {
			t.Errorf("Classify(%q) = %s, want %s", tc.line, got, tc.want)
		}
	}
}

func TestClassifier_InvalidScripts(t *testing.T) {
	if _, err := NewClassifier("bad.lua", "this is not valid lua!"); err == nil {
		t.Error("expected syntax error")
	}
	if _, err := NewClassifier("empty.lua", "x = 1"); !errors.Is(err, ErrNoClassify) {
		t.Errorf("expected ErrNoClassify, got %v", err)
	}
	if _, err := NewClassifier("boom.lua", `error("boom")`); err == nil {
		t.Error("expected top level error")
	}
	if _, err := NewClassifier("io.lua", `io.write("x") function classify(l) end`); err == nil {
		t.Error("expected io library to be unavailable")
	}
}

func TestClassifier_ErrorsFallBack(t *testing.T) {
	c, err := NewClassifier("flaky.lua", `
function classify(line)
  if line == "Boom" then error("boom") end
  if line == "Number" then return 42 end
  return "title"
end
`)
	if err != nil {
		t.Fatalf("new classifier: %v", err)
	}
	for _, line := range []string{"Boom", "Number", "Unknown Kind"} {
		if got := c.Classify(line); got != render.DefaultClassifier(line) {
			t.Errorf("Classify(%q) = %s, want default", line, got)
		}
	}
	// A failed call discards its state; later calls still work.
	if got := c.Classify("Boom"); got != render.BlockHeading {
		t.Errorf("expected default heading after failure, got %s", got)
	}
}

func TestClassifier_Timeout(t *testing.T) {
	c, err := NewClassifier("loop.lua", `
function classify(line)
  if line == "Spin" then
    while true do end
  end
  return "paragraph"
end
`)
	if err != nil {
		t.Fatalf("new classifier: %v", err)
	}
	c.Timeout = 50 * time.Millisecond

	start := time.Now()
	if got := c.Classify("Spin"); got != render.BlockHeading {
		t.Errorf("expected default classification, got %s", got)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("timeout not enforced, took %v", elapsed)
	}
	if got := c.Classify("Other"); got != render.BlockParagraph {
		t.Errorf("expected script result after timeout, got %s", got)
	}
}

func TestClassifier_Concurrent(t *testing.T) {
	c, err := NewClassifier("rules.lua", rules)
	if err != nil {
		t.Fatalf("new classifier: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if got := c.Classify("# heading"); got != render.BlockHeading {
					t.Errorf("unexpected %s", got)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestLoadClassifier_DrivesLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.lua")
	if err := os.WriteFile(path, []byte(rules), 0644); err != nil {
		t.Fatalf("write script: %v", err)
	}
	c, err := LoadClassifier(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	l := render.BuildLayout(render.Input{Title: "T", Text: "# setup\nplain words."}, c.Classify)
	if len(l.Blocks) != 2 || l.Blocks[0].Kind != render.BlockHeading || l.Blocks[1].Kind != render.BlockParagraph {
		t.Errorf("unexpected blocks %+v", l.Blocks)
	}

	if _, err := LoadClassifier(filepath.Join(t.TempDir(), "missing.lua")); err == nil {
		t.Error("expected error for missing file")
	}
}
