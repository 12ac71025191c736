// Package compiler implements the single-pass Pratt-style compiler: it
// parses source text and emits stack-based bytecode directly, with no
// intermediate AST.
package compiler

import (
	"fmt"
	"io"

	"golang.org/x/exp/slices"

	"github.com/mna/lumen/lang/heap"
	"github.com/mna/lumen/lang/scanner"
	"github.com/mna/lumen/lang/token"
)

const (
	maxLocals    = 256
	maxUpvalues  = 256
	maxConstants = 256
	maxArgs      = 255
	maxJump      = 1<<16 - 1
)

type funcType int

const (
	typeFunction funcType = iota
	typeInitializer
	typeMethod
	typeScript
)

type local struct {
	name       string
	depth      int // -1 means declared but not yet initialized
	isCaptured bool
}

type upvalueInfo struct {
	index   uint8
	isLocal bool
}

type classState struct {
	enclosing     *classState
	hasSuperclass bool
}

// funcState holds the compiler state for one nested function body. Nested
// function declarations push a new funcState and link it to the enclosing
// one, forming a stack of active compilation frames.
type funcState struct {
	enclosing *funcState

	fnHandle heap.Handle
	builder  *heap.FunctionBuilder
	fnType   funcType

	locals     []local
	scopeDepth int
	upvalues   []upvalueInfo
}

// compiler is the single-pass Pratt parser/emitter. It holds the scanner,
// the lookahead tokens, and the stack of in-progress function compilations.
type compiler struct {
	h       *heap.Heap
	scanner *scanner.Scanner
	stderr  io.Writer

	current  token.Token
	previous token.Token

	hadError  bool
	panicMode bool

	fs *funcState
	cs *classState
}

// Compile scans and compiles src as a top-level script. It returns the
// handle of the compiled top-level Function and true on success; on a
// compile error it reports every diagnostic to stderr and returns
// (zero Handle, false).
func Compile(h *heap.Heap, src string, stderr io.Writer) (heap.Handle, bool) {
	var sc scanner.Scanner
	sc.Init(src)

	c := &compiler{h: h, scanner: &sc, stderr: stderr}
	c.pushFuncState(typeScript, "")

	c.advance()
	for !c.match(token.EOF) {
		c.declaration()
	}

	fn := c.endFuncState()
	if c.hadError {
		return heap.Handle{}, false
	}
	return fn, true
}

// pushFuncState begins compiling a new function, allocating its backing
// heap.Function object immediately and rooting it for the duration of
// compilation, so a collection triggered mid-compile cannot reclaim it.
func (c *compiler) pushFuncState(ft funcType, name string) {
	handle, builder := c.h.NewFunction()
	c.h.PushCompilerRoot(heap.Object(handle))
	if name != "" {
		builder.SetName(c.h.InternString(name))
	}

	fs := &funcState{
		enclosing: c.fs,
		fnHandle:  handle,
		builder:   builder,
		fnType:    ft,
	}

	// Slot 0 is reserved: "this" inside methods, "" (inaccessible) otherwise.
	reserved := ""
	if ft == typeMethod || ft == typeInitializer {
		reserved = "this"
	}
	fs.locals = append(fs.locals, local{name: reserved, depth: 0})

	c.fs = fs
}

// endFuncState closes out the current function compilation: emits the
// implicit `return` (nil, unless it's an initializer, which implicitly
// returns `this`), pops the compiler root, and restores the enclosing
// funcState.
func (c *compiler) endFuncState() heap.Handle {
	c.emitReturn()
	handle := c.fs.fnHandle
	c.h.PopCompilerRoot()
	c.fs = c.fs.enclosing
	return handle
}

// --- token stream helpers ---

func (c *compiler) advance() {
	c.previous = c.current
	for {
		c.current = c.scanner.Scan()
		if c.current.Kind != token.ILLEGAL {
			break
		}
		c.errorAtCurrent(c.current.Lexeme)
	}
}

func (c *compiler) check(k token.Kind) bool { return c.current.Kind == k }

func (c *compiler) match(k token.Kind) bool {
	if !c.check(k) {
		return false
	}
	c.advance()
	return true
}

func (c *compiler) consume(k token.Kind, msg string) {
	if c.current.Kind == k {
		c.advance()
		return
	}
	c.errorAtCurrent(msg)
}

// --- error reporting ---

func (c *compiler) errorAtCurrent(msg string) { c.errorAt(c.current, msg) }
func (c *compiler) error(msg string)          { c.errorAt(c.previous, msg) }

func (c *compiler) errorAt(tok token.Token, msg string) {
	if c.panicMode {
		return
	}
	c.panicMode = true
	if c.stderr != nil {
		if tok.Kind == token.EOF {
			fmt.Fprintf(c.stderr, "[line %d] Error at end: %s\n", tok.Line, msg)
		} else {
			fmt.Fprintf(c.stderr, "[line %d] Error at '%s': %s\n", tok.Line, tok.Lexeme, msg)
		}
	}
	c.hadError = true
}

// synchronize discards tokens until it reaches a plausible statement
// boundary, suppressing cascading errors within the same statement (spec
// §4.2).
func (c *compiler) synchronize() {
	c.panicMode = false
	for c.current.Kind != token.EOF {
		if c.previous.Kind == token.SEMICOLON {
			return
		}
		switch c.current.Kind {
		case token.CLASS, token.FUN, token.VAR, token.FOR, token.IF, token.WHILE, token.PRINT, token.RETURN:
			return
		}
		c.advance()
	}
}

// --- bytecode emission ---

func (c *compiler) chunk() *heap.Chunk { return c.fs.builder.Chunk() }

func (c *compiler) emitByte(b byte) { c.chunk().WriteByte(b, c.previous.Line) }
func (c *compiler) emitOp(op Op)    { c.emitByte(byte(op)) }
func (c *compiler) emitOpByte(op Op, b byte) {
	c.emitByte(byte(op))
	c.emitByte(b)
}

func (c *compiler) emitReturn() {
	if c.fs.fnType == typeInitializer {
		c.emitOpByte(OpGetLocal, 0) // return `this`
	} else {
		c.emitOp(OpNil)
	}
	c.emitOp(OpReturn)
}

// makeConstant adds v to the current chunk's constant pool, reusing an
// existing identical entry when one is already present (numbers and
// interned strings in particular tend to repeat across a chunk).
func (c *compiler) makeConstant(v heap.Value) byte {
	constants := c.chunk().Constants
	if i := slices.IndexFunc(constants, func(existing heap.Value) bool {
		return heap.Equal(existing, v)
	}); i >= 0 {
		return byte(i)
	}
	idx := c.chunk().AddConstant(v)
	if idx >= maxConstants {
		c.error("Too many constants in one chunk.")
		return 0
	}
	return byte(idx)
}

func (c *compiler) emitConstant(v heap.Value) {
	c.emitOpByte(OpConstant, c.makeConstant(v))
}

// emitJump emits a jump instruction with a placeholder 2-byte operand and
// returns the offset of the first placeholder byte, to be patched later.
func (c *compiler) emitJump(op Op) int {
	c.emitOp(op)
	c.emitByte(0xff)
	c.emitByte(0xff)
	return len(c.chunk().Code) - 2
}

func (c *compiler) patchJump(offset int) {
	jump := len(c.chunk().Code) - offset - 2
	if jump > maxJump {
		c.error("Too much code to jump over.")
		return
	}
	code := c.chunk().Code
	code[offset] = byte(jump >> 8)
	code[offset+1] = byte(jump)
}

func (c *compiler) emitLoop(loopStart int) {
	c.emitOp(OpLoop)
	offset := len(c.chunk().Code) - loopStart + 2
	if offset > maxJump {
		c.error("Loop body too large.")
	}
	c.emitByte(byte(offset >> 8))
	c.emitByte(byte(offset))
}

// --- scopes and locals ---

func (c *compiler) beginScope() { c.fs.scopeDepth++ }

func (c *compiler) endScope() {
	c.fs.scopeDepth--
	for len(c.fs.locals) > 0 && c.fs.locals[len(c.fs.locals)-1].depth > c.fs.scopeDepth {
		last := c.fs.locals[len(c.fs.locals)-1]
		if last.isCaptured {
			c.emitOp(OpCloseUpvalue)
		} else {
			c.emitOp(OpPop)
		}
		c.fs.locals = c.fs.locals[:len(c.fs.locals)-1]
	}
}

func (c *compiler) identifierConstant(tok token.Token) byte {
	return c.makeConstant(c.h.StringValue(tok.Lexeme))
}

func identifiersEqual(a, b token.Token) bool { return a.Lexeme == b.Lexeme }

func (c *compiler) addLocal(name token.Token) {
	if len(c.fs.locals) >= maxLocals {
		c.error("Too many local variables in function.")
		return
	}
	c.fs.locals = append(c.fs.locals, local{name: name.Lexeme, depth: -1})
}

func (c *compiler) declareVariable() {
	if c.fs.scopeDepth == 0 {
		return
	}
	name := c.previous
	for i := len(c.fs.locals) - 1; i >= 0; i-- {
		l := c.fs.locals[i]
		if l.depth != -1 && l.depth < c.fs.scopeDepth {
			break
		}
		if identifiersEqual(name, token.Token{Lexeme: l.name}) {
			c.error("Already a variable with this name in this scope.")
		}
	}
	c.addLocal(name)
}

func (c *compiler) parseVariable(errMsg string) byte {
	c.consume(token.IDENT, errMsg)
	c.declareVariable()
	if c.fs.scopeDepth > 0 {
		return 0
	}
	return c.identifierConstant(c.previous)
}

func (c *compiler) markInitialized() {
	if c.fs.scopeDepth == 0 {
		return
	}
	c.fs.locals[len(c.fs.locals)-1].depth = c.fs.scopeDepth
}

func (c *compiler) defineVariable(global byte) {
	if c.fs.scopeDepth > 0 {
		c.markInitialized()
		return
	}
	c.emitOpByte(OpDefineGlobal, global)
}

func resolveLocal(fs *funcState, name token.Token) int {
	for i := len(fs.locals) - 1; i >= 0; i-- {
		l := fs.locals[i]
		if l.name == name.Lexeme {
			if l.depth == -1 {
				return -2 // sentinel: read before initialization
			}
			return i
		}
	}
	return -1
}

func addUpvalue(fs *funcState, index uint8, isLocal bool) int {
	for i, up := range fs.upvalues {
		if up.index == index && up.isLocal == isLocal {
			return i
		}
	}
	if len(fs.upvalues) >= maxUpvalues {
		return -1
	}
	fs.upvalues = append(fs.upvalues, upvalueInfo{index: index, isLocal: isLocal})
	fs.builder.AddUpvalue(heap.UpvalueDesc{Index: index, IsLocal: isLocal})
	return len(fs.upvalues) - 1
}

func resolveUpvalue(c *compiler, fs *funcState, name token.Token) int {
	if fs.enclosing == nil {
		return -1
	}
	if local := resolveLocal(fs.enclosing, name); local >= 0 {
		fs.enclosing.locals[local].isCaptured = true
		return addUpvalue(fs, uint8(local), true)
	}
	if local == -2 {
		c.error("Can't read local variable in its own initializer.")
		return -1
	}
	if up := resolveUpvalue(c, fs.enclosing, name); up >= 0 {
		return addUpvalue(fs, uint8(up), false)
	}
	return -1
}

// --- declarations and statements ---

func (c *compiler) declaration() {
	switch {
	case c.match(token.CLASS):
		c.classDeclaration()
	case c.match(token.FUN):
		c.funDeclaration()
	case c.match(token.VAR):
		c.varDeclaration()
	default:
		c.statement()
	}
	if c.panicMode {
		c.synchronize()
	}
}

func (c *compiler) classDeclaration() {
	c.consume(token.IDENT, "Expect class name.")
	nameTok := c.previous
	nameConst := c.identifierConstant(nameTok)
	c.declareVariable()

	c.emitOpByte(OpClass, nameConst)
	c.defineVariable(nameConst)

	cs := &classState{enclosing: c.cs}
	c.cs = cs

	if c.match(token.LESS) {
		c.consume(token.IDENT, "Expect superclass name.")
		c.variable(false)
		if identifiersEqual(nameTok, c.previous) {
			c.error("A class can't inherit from itself.")
		}

		c.beginScope()
		c.addLocal(token.Token{Kind: token.IDENT, Lexeme: "super"})
		c.defineVariable(0)

		c.namedVariable(nameTok, false)
		c.emitOp(OpInherit)
		cs.hasSuperclass = true
	}

	c.namedVariable(nameTok, false)
	c.consume(token.LBRACE, "Expect '{' before class body.")
	for !c.check(token.RBRACE) && !c.check(token.EOF) {
		c.method()
	}
	c.consume(token.RBRACE, "Expect '}' after class body.")
	c.emitOp(OpPop) // the class value pushed for OP_METHOD targeting

	if cs.hasSuperclass {
		c.endScope()
	}
	c.cs = cs.enclosing
}

func (c *compiler) method() {
	c.consume(token.IDENT, "Expect method name.")
	nameTok := c.previous
	nameConst := c.identifierConstant(nameTok)

	ft := typeMethod
	if nameTok.Lexeme == "init" {
		ft = typeInitializer
	}
	c.function(ft)
	c.emitOpByte(OpMethod, nameConst)
}

func (c *compiler) funDeclaration() {
	global := c.parseVariable("Expect function name.")
	c.markInitialized()
	c.function(typeFunction)
	c.defineVariable(global)
}

func (c *compiler) function(ft funcType) {
	name := c.previous.Lexeme
	c.pushFuncState(ft, name)
	c.beginScope()

	c.consume(token.LPAREN, "Expect '(' after function name.")
	if !c.check(token.RPAREN) {
		for {
			if len(c.fs.locals) > maxArgs {
				c.errorAtCurrent("Can't have more than 255 parameters.")
			}
			constant := c.parseVariable("Expect parameter name.")
			c.defineVariable(constant)
			if !c.match(token.COMMA) {
				break
			}
		}
	}
	// Slot 0 is reserved (see pushFuncState); every local declared after it
	// while still at scope depth 1 is a parameter.
	c.fs.builder.SetArity(len(c.fs.locals) - 1)
	c.consume(token.RPAREN, "Expect ')' after parameters.")
	c.consume(token.LBRACE, "Expect '{' before function body.")
	c.block()

	upvalueDescs := c.fs.upvalues
	fnHandle := c.endFuncState()

	c.emitOpByte(OpClosure, c.makeConstant(heap.Object(fnHandle)))
	for _, up := range upvalueDescs {
		if up.isLocal {
			c.emitByte(1)
		} else {
			c.emitByte(0)
		}
		c.emitByte(up.index)
	}
}

func (c *compiler) varDeclaration() {
	global := c.parseVariable("Expect variable name.")
	if c.match(token.EQUAL) {
		c.expression()
	} else {
		c.emitOp(OpNil)
	}
	c.consume(token.SEMICOLON, "Expect ';' after variable declaration.")
	c.defineVariable(global)
}

func (c *compiler) statement() {
	switch {
	case c.match(token.PRINT):
		c.printStatement()
	case c.match(token.FOR):
		c.forStatement()
	case c.match(token.IF):
		c.ifStatement()
	case c.match(token.RETURN):
		c.returnStatement()
	case c.match(token.WHILE):
		c.whileStatement()
	case c.match(token.LBRACE):
		c.beginScope()
		c.block()
		c.endScope()
	default:
		c.expressionStatement()
	}
}

func (c *compiler) printStatement() {
	c.expression()
	c.consume(token.SEMICOLON, "Expect ';' after value.")
	c.emitOp(OpPrint)
}

func (c *compiler) returnStatement() {
	if c.fs.fnType == typeScript {
		c.error("Can't return from top-level code.")
	}
	if c.match(token.SEMICOLON) {
		c.emitReturn()
		return
	}
	if c.fs.fnType == typeInitializer {
		c.error("Can't return a value from an initializer.")
	}
	c.expression()
	c.consume(token.SEMICOLON, "Expect ';' after return value.")
	c.emitOp(OpReturn)
}

func (c *compiler) ifStatement() {
	c.consume(token.LPAREN, "Expect '(' after 'if'.")
	c.expression()
	c.consume(token.RPAREN, "Expect ')' after condition.")

	thenJump := c.emitJump(OpJumpIfFalse)
	c.emitOp(OpPop)
	c.statement()

	elseJump := c.emitJump(OpJump)
	c.patchJump(thenJump)
	c.emitOp(OpPop)

	if c.match(token.ELSE) {
		c.statement()
	}
	c.patchJump(elseJump)
}

func (c *compiler) whileStatement() {
	loopStart := len(c.chunk().Code)
	c.consume(token.LPAREN, "Expect '(' after 'while'.")
	c.expression()
	c.consume(token.RPAREN, "Expect ')' after condition.")

	exitJump := c.emitJump(OpJumpIfFalse)
	c.emitOp(OpPop)
	c.statement()
	c.emitLoop(loopStart)

	c.patchJump(exitJump)
	c.emitOp(OpPop)
}

func (c *compiler) forStatement() {
	c.beginScope()
	c.consume(token.LPAREN, "Expect '(' after 'for'.")
	switch {
	case c.match(token.SEMICOLON):
		// no initializer
	case c.match(token.VAR):
		c.varDeclaration()
	default:
		c.expressionStatement()
	}

	loopStart := len(c.chunk().Code)
	exitJump := -1
	if !c.match(token.SEMICOLON) {
		c.expression()
		c.consume(token.SEMICOLON, "Expect ';' after loop condition.")
		exitJump = c.emitJump(OpJumpIfFalse)
		c.emitOp(OpPop)
	}

	if !c.match(token.RPAREN) {
		bodyJump := c.emitJump(OpJump)
		incrStart := len(c.chunk().Code)
		c.expression()
		c.emitOp(OpPop)
		c.consume(token.RPAREN, "Expect ')' after for clauses.")

		c.emitLoop(loopStart)
		loopStart = incrStart
		c.patchJump(bodyJump)
	}

	c.statement()
	c.emitLoop(loopStart)

	if exitJump != -1 {
		c.patchJump(exitJump)
		c.emitOp(OpPop)
	}
	c.endScope()
}

func (c *compiler) block() {
	for !c.check(token.RBRACE) && !c.check(token.EOF) {
		c.declaration()
	}
	c.consume(token.RBRACE, "Expect '}' after block.")
}

func (c *compiler) expressionStatement() {
	c.expression()
	c.consume(token.SEMICOLON, "Expect ';' after expression.")
	c.emitOp(OpPop)
}

// --- expressions ---

func (c *compiler) expression() { c.parsePrecedence(PrecAssignment) }

func (c *compiler) parsePrecedence(prec Precedence) {
	c.advance()
	prefix := getRule(c.previous.Kind).prefix
	if prefix == nil {
		c.error("Expect expression.")
		return
	}
	canAssign := prec <= PrecAssignment
	prefix(c, canAssign)

	for prec <= getRule(c.current.Kind).prec {
		c.advance()
		infix := getRule(c.previous.Kind).infix
		infix(c, canAssign)
	}

	if canAssign && c.match(token.EQUAL) {
		c.error("Invalid assignment target.")
	}
}

func (c *compiler) number(canAssign bool) {
	var n float64
	fmt.Sscanf(c.previous.Lexeme, "%g", &n)
	c.emitConstant(heap.Number(n))
}

func (c *compiler) string(canAssign bool) {
	lex := c.previous.Lexeme
	s := lex[1 : len(lex)-1] // strip surrounding quotes; no escapes
	c.emitConstant(c.h.StringValue(s))
}

func (c *compiler) literal(canAssign bool) {
	switch c.previous.Kind {
	case token.FALSE:
		c.emitOp(OpFalse)
	case token.TRUE:
		c.emitOp(OpTrue)
	case token.NIL:
		c.emitOp(OpNil)
	}
}

func (c *compiler) grouping(canAssign bool) {
	c.expression()
	c.consume(token.RPAREN, "Expect ')' after expression.")
}

func (c *compiler) unary(canAssign bool) {
	opKind := c.previous.Kind
	c.parsePrecedence(PrecUnary)
	switch opKind {
	case token.BANG:
		c.emitOp(OpNot)
	case token.MINUS:
		c.emitOp(OpNegate)
	}
}

func (c *compiler) binary(canAssign bool) {
	opKind := c.previous.Kind
	r := getRule(opKind)
	c.parsePrecedence(r.prec + 1)

	switch opKind {
	case token.BANG_EQUAL:
		c.emitOp(OpEqual)
		c.emitOp(OpNot)
	case token.EQUAL_EQUAL:
		c.emitOp(OpEqual)
	case token.GREATER:
		c.emitOp(OpGreater)
	case token.GREATER_EQUAL:
		c.emitOp(OpLess)
		c.emitOp(OpNot)
	case token.LESS:
		c.emitOp(OpLess)
	case token.LESS_EQUAL:
		c.emitOp(OpGreater)
		c.emitOp(OpNot)
	case token.PLUS:
		c.emitOp(OpAdd)
	case token.MINUS:
		c.emitOp(OpSubtract)
	case token.STAR:
		c.emitOp(OpMultiply)
	case token.SLASH:
		c.emitOp(OpDivide)
	}
}

func (c *compiler) and_(canAssign bool) {
	endJump := c.emitJump(OpJumpIfFalse)
	c.emitOp(OpPop)
	c.parsePrecedence(PrecAnd)
	c.patchJump(endJump)
}

func (c *compiler) or_(canAssign bool) {
	elseJump := c.emitJump(OpJumpIfFalse)
	endJump := c.emitJump(OpJump)

	c.patchJump(elseJump)
	c.emitOp(OpPop)

	c.parsePrecedence(PrecOr)
	c.patchJump(endJump)
}

func (c *compiler) call(canAssign bool) {
	argc := c.argumentList()
	c.emitOpByte(OpCall, argc)
}

func (c *compiler) argumentList() byte {
	var argc int
	if !c.check(token.RPAREN) {
		for {
			c.expression()
			if argc == maxArgs {
				c.error("Can't have more than 255 arguments.")
			}
			argc++
			if !c.match(token.COMMA) {
				break
			}
		}
	}
	c.consume(token.RPAREN, "Expect ')' after arguments.")
	return byte(argc)
}

func (c *compiler) dot(canAssign bool) {
	c.consume(token.IDENT, "Expect property name after '.'.")
	nameConst := c.identifierConstant(c.previous)

	switch {
	case canAssign && c.match(token.EQUAL):
		c.expression()
		c.emitOpByte(OpSetProperty, nameConst)
	case c.match(token.LPAREN):
		argc := c.argumentList()
		c.emitOpByte(OpInvoke, nameConst)
		c.emitByte(argc)
	default:
		c.emitOpByte(OpGetProperty, nameConst)
	}
}

func (c *compiler) this(canAssign bool) {
	if c.cs == nil {
		c.error("Can't use 'this' outside of a class.")
		return
	}
	c.variable(false)
}

func (c *compiler) super(canAssign bool) {
	if c.cs == nil {
		c.error("Can't use 'super' outside of a class.")
	} else if !c.cs.hasSuperclass {
		c.error("Can't use 'super' in a class with no superclass.")
	}

	c.consume(token.DOT, "Expect '.' after 'super'.")
	c.consume(token.IDENT, "Expect superclass method name.")
	nameConst := c.identifierConstant(c.previous)

	c.namedVariable(token.Token{Kind: token.IDENT, Lexeme: "this"}, false)
	if c.match(token.LPAREN) {
		argc := c.argumentList()
		c.namedVariable(token.Token{Kind: token.IDENT, Lexeme: "super"}, false)
		c.emitOpByte(OpSuperInvoke, nameConst)
		c.emitByte(argc)
	} else {
		c.namedVariable(token.Token{Kind: token.IDENT, Lexeme: "super"}, false)
		c.emitOpByte(OpGetSuper, nameConst)
	}
}

func (c *compiler) variable(canAssign bool) { c.namedVariable(c.previous, canAssign) }

func (c *compiler) namedVariable(name token.Token, canAssign bool) {
	var getOp, setOp Op
	arg := resolveLocal(c.fs, name)
	switch {
	case arg == -2:
		c.error("Can't read local variable in its own initializer.")
		arg = 0
		getOp, setOp = OpGetLocal, OpSetLocal
	case arg != -1:
		getOp, setOp = OpGetLocal, OpSetLocal
	default:
		if up := resolveUpvalue(c, c.fs, name); up != -1 {
			arg = up
			getOp, setOp = OpGetUpvalue, OpSetUpvalue
		} else {
			arg = int(c.identifierConstant(name))
			getOp, setOp = OpGetGlobal, OpSetGlobal
		}
	}

	if canAssign && c.match(token.EQUAL) {
		c.expression()
		c.emitOpByte(setOp, byte(arg))
	} else {
		c.emitOpByte(getOp, byte(arg))
	}
}
