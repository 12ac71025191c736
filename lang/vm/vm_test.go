package vm_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mna/lumen/lang/runtime"
	"github.com/mna/lumen/lang/vm"
)

func run(t *testing.T, src string) (stdout, stderr string, status runtime.Status) {
	t.Helper()
	var out, errOut bytes.Buffer
	m := vm.New(runtime.Default(), &out, &errOut)
	status = m.Interpret(src)
	return out.String(), errOut.String(), status
}

func TestArithmeticAndPrint(t *testing.T) {
	out, _, status := run(t, `print 1 + 2 * 3;`)
	require.Equal(t, runtime.StatusOK, status)
	assert.Equal(t, "7\n", out)
}

func TestGlobalsAndShadowing(t *testing.T) {
	out, _, status := run(t, `var a = 1; { var a = 2; print a; } print a;`)
	require.Equal(t, runtime.StatusOK, status)
	assert.Equal(t, "2\n1\n", out)
}

func TestClosuresCloseOverLoopBinding(t *testing.T) {
	src := `
	fun make() {
	  var i = 0;
	  fun inc() { i = i + 1; return i; }
	  return inc;
	}
	var c = make();
	print c();
	print c();
	print c();
	`
	out, _, status := run(t, src)
	require.Equal(t, runtime.StatusOK, status)
	assert.Equal(t, "1\n2\n3\n", out)
}

func TestClassesInheritanceSuper(t *testing.T) {
	src := `
	class A { greet() { return "A"; } }
	class B < A { greet() { return super.greet() + "B"; } }
	print B().greet();
	`
	out, _, status := run(t, src)
	require.Equal(t, runtime.StatusOK, status)
	assert.Equal(t, "AB\n", out)
}

func TestInitializerArity(t *testing.T) {
	_, _, status := run(t, `class A {} var a = A(1);`)
	assert.Equal(t, runtime.StatusRuntimeError, status)

	_, _, status = run(t, `class A { init(x) { this.x = x; } } var a = A();`)
	assert.Equal(t, runtime.StatusRuntimeError, status)

	out, _, status := run(t, `
	class A { init(x) { this.x = x; } }
	var a = A(42);
	print a.x;
	`)
	require.Equal(t, runtime.StatusOK, status)
	assert.Equal(t, "42\n", out)
}

func TestRuntimeErrorBacktrace(t *testing.T) {
	src := `
class Foo {
  bar() {
    return nil.x;
  }
}

fun foo() {
  return Foo().bar();
}

foo();
`
	_, errOut, status := run(t, src)
	require.Equal(t, runtime.StatusRuntimeError, status)
	assert.True(t, strings.Contains(errOut, "in bar"))
	assert.True(t, strings.Contains(errOut, "in script"))
}

func TestBooleanShortCircuit(t *testing.T) {
	src := `
	fun sideEffect() { print "called"; return true; }
	if (false and sideEffect()) {}
	if (true or sideEffect()) {}
	`
	out, _, status := run(t, src)
	require.Equal(t, runtime.StatusOK, status)
	assert.Equal(t, "", out)
}

func TestForEquivalentToWhile(t *testing.T) {
	out1, _, _ := run(t, `for (var i = 0; i < 3; i = i + 1) { print i; }`)
	out2, _, _ := run(t, `{ var i = 0; while (i < 3) { print i; i = i + 1; } }`)
	assert.Equal(t, out1, out2)
}

func TestAssignmentReturnsValue(t *testing.T) {
	out, _, status := run(t, `var a = 1; print a = 2;`)
	require.Equal(t, runtime.StatusOK, status)
	assert.Equal(t, "2\n", out)
}

func TestBoundMethodReceiverFixedAtBind(t *testing.T) {
	src := `
	class A { who() { return this.name; } }
	var a = A();
	a.name = "first";
	var m = a.who;
	a.name = "second";
	print m();
	`
	out, _, status := run(t, src)
	require.Equal(t, runtime.StatusOK, status)
	assert.Equal(t, "second\n", out)
}

func TestUndefinedVariable(t *testing.T) {
	_, errOut, status := run(t, `print nope;`)
	assert.Equal(t, runtime.StatusRuntimeError, status)
	assert.True(t, strings.Contains(errOut, "Undefined variable"))
}

func TestClockNativeReturnsNumber(t *testing.T) {
	out, _, status := run(t, `print type(clock());`)
	require.Equal(t, runtime.StatusOK, status)
	assert.Equal(t, "number\n", out)
}

func TestCallingNonFunction(t *testing.T) {
	_, errOut, status := run(t, `var x = 1; x();`)
	assert.Equal(t, runtime.StatusRuntimeError, status)
	assert.True(t, strings.Contains(errOut, "Can only call functions and classes."))
}

func TestDeclarationsAndCallsRunToCompletion(t *testing.T) {
	_, _, status := run(t, `
	var a = 1;
	fun f(x) { return x + 1; }
	print f(a);
	class C {}
	var c = C();
	`)
	require.Equal(t, runtime.StatusOK, status)
}
