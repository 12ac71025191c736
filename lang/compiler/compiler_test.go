package compiler_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mna/lumen/lang/compiler"
	"github.com/mna/lumen/lang/heap"
)

func compile(t *testing.T, src string) (heap.Handle, bool, string) {
	t.Helper()
	h := heap.New(1<<20, 2)
	var errOut bytes.Buffer
	fn, ok := compiler.Compile(h, src, &errOut)
	return fn, ok, errOut.String()
}

func TestCompileSimpleProgram(t *testing.T) {
	_, ok, errOut := compile(t, `print 1 + 2;`)
	require.True(t, ok, errOut)
	assert.Empty(t, errOut)
}

func TestCompileReportsSyntaxError(t *testing.T) {
	_, ok, errOut := compile(t, `var = 1;`)
	assert.False(t, ok)
	assert.True(t, strings.Contains(errOut, "Error"))
}

func TestCompileReportsExpectSemicolonMessageOnMissingSemicolon(t *testing.T) {
	_, ok, errOut := compile(t, `print 1`)
	assert.False(t, ok)
	assert.True(t, strings.Contains(errOut, "Expect ';' after value."))
}

func TestCompileRedeclarationInSameScope(t *testing.T) {
	_, ok, errOut := compile(t, `{ var a = 1; var a = 2; }`)
	assert.False(t, ok)
	assert.True(t, strings.Contains(errOut, "Already a variable with this name in this scope."))
}

func TestCompileReadOwnInitializerIsError(t *testing.T) {
	_, ok, errOut := compile(t, `{ var a = a; }`)
	assert.False(t, ok)
	assert.True(t, strings.Contains(errOut, "Can't read local variable in its own initializer."))
}

func TestCompileSynchronizeSuppressesCascade(t *testing.T) {
	// Two independent syntax errors on two statements should produce two
	// diagnostics, not a cascade of spurious follow-on errors from the first.
	_, ok, errOut := compile(t, "var = 1;\nvar = 2;\n")
	assert.False(t, ok)
	assert.Equal(t, 2, strings.Count(errOut, "[line"))
}

func TestCompileReturnOutsideFunctionIsError(t *testing.T) {
	_, ok, errOut := compile(t, `return 1;`)
	assert.False(t, ok)
	assert.True(t, strings.Contains(errOut, "Can't return from top-level code."))
}

func TestCompileReturnValueFromInitializerIsError(t *testing.T) {
	_, ok, errOut := compile(t, `class A { init() { return 1; } }`)
	assert.False(t, ok)
	assert.True(t, strings.Contains(errOut, "Can't return a value from an initializer."))
}

func TestCompileThisOutsideClassIsError(t *testing.T) {
	_, ok, errOut := compile(t, `fun f() { return this; }`)
	assert.False(t, ok)
	assert.True(t, strings.Contains(errOut, "Can't use 'this' outside of a class."))
}

func TestCompileSuperWithoutSuperclassIsError(t *testing.T) {
	_, ok, errOut := compile(t, `class A { f() { return super.f(); } }`)
	assert.False(t, ok)
	assert.True(t, strings.Contains(errOut, "Can't use 'super' in a class with no superclass."))
}

func TestCompileClassInheritingFromItselfIsError(t *testing.T) {
	_, ok, errOut := compile(t, `class A < A {}`)
	assert.False(t, ok)
	assert.True(t, strings.Contains(errOut, "A class can't inherit from itself."))
}

func TestCompileFunctionProducesTopLevelScript(t *testing.T) {
	h := heap.New(1<<20, 2)
	var errOut bytes.Buffer
	fn, ok := compiler.Compile(h, `fun add(a, b) { return a + b; } print add(1, 2);`, &errOut)
	require.True(t, ok, errOut.String())
	_, hasName := h.FunctionName(fn)
	assert.False(t, hasName, "the top-level script function is anonymous")
}
