package vm

// catchAddress is one pending try handler: the offset execution resumes
// at when an exception reaches this handler, plus the finally offset
// when the protected region carries one (0 means none).
type catchAddress struct {
	next    uint32
	finally uint32 // 0 = no finally block
}

func (c catchAddress) hasFinally() bool { return c.finally != 0 }

// hasCatch reports whether the region has a catch block distinct from
// its finally block (a try/finally with no catch records next==finally).
func (c catchAddress) hasCatch() bool { return !c.hasFinally() || c.next != c.finally }

// finallyReturn records why a finally block was entered, so FinallyEnd
// can resume the right control transfer afterwards.
type finallyReturn uint8

const (
	finallyNone finallyReturn = iota // normal entry, fall through or pending jump
	finallyOk                        // entered via return; resume the return
	finallyErr                       // entered via throw; rethrow on exit
)

// GeneratorResumeKind tells a suspended generator frame how it is being
// resumed by its driving caller.
type GeneratorResumeKind uint8

const (
	GeneratorResumeNormal GeneratorResumeKind = iota
	GeneratorResumeThrow
	GeneratorResumeReturn
)

// CallFrame is the live activation record of one in-progress call. It
// is exclusively owned by the interpreter during its execution window;
// frames live in the VM's single growable frame stack (no intrusive
// prev pointers).
type CallFrame struct {
	code *CodeBlock
	pc   int
	this Value

	// Exception bookkeeping. catch supports nested try blocks;
	// finallyJump holds pending resume targets for jumps (break,
	// continue) routed through finally blocks.
	catch       []catchAddress
	finReturn   finallyReturn
	finallyJump []uint32 // 0 = no pending jump
	thrownErr   error    // stashed exception while finReturn == finallyErr
	returnValue Value    // stashed result while finReturn == finallyOk

	// Unwind counters: stack values and environments to discard when
	// this frame exits, on both the success and the error path.
	popOnReturn    int
	popEnvOnReturn int

	paramCount int
	argCount   int

	resumeKind GeneratorResumeKind

	// completed/result flag the frame's normal exit to the run loop.
	completed bool
	result    Value
}

// Code returns the CodeBlock this frame executes.
func (f *CallFrame) Code() *CodeBlock { return f.code }

// PC returns the frame's current byte offset into its code buffer.
func (f *CallFrame) PC() int { return f.pc }

// This returns the receiver bound for this activation.
func (f *CallFrame) This() Value { return f.this }

// ArgCount returns the number of arguments actually supplied.
func (f *CallFrame) ArgCount() int { return f.argCount }

// ParamCount returns the declared formal parameter count.
func (f *CallFrame) ParamCount() int { return f.paramCount }

// ResumeKind returns how a suspended generator frame will be resumed.
func (f *CallFrame) ResumeKind() GeneratorResumeKind { return f.resumeKind }

// SetResumeKind records how the driving caller is resuming this frame.
func (f *CallFrame) SetResumeKind(kind GeneratorResumeKind) { f.resumeKind = kind }

// pushFrame appends a fresh activation for code to the frame stack.
func (vm *VM) pushFrame(code *CodeBlock, this Value, paramCount, argCount int) *CallFrame {
	vm.frames = append(vm.frames, CallFrame{
		code:       code,
		this:       this,
		paramCount: paramCount,
		argCount:   argCount,
	})
	return &vm.frames[len(vm.frames)-1]
}

// popFrame removes the innermost activation.
func (vm *VM) popFrame() {
	vm.frames = vm.frames[:len(vm.frames)-1]
}

// frame returns the innermost activation.
func (vm *VM) frame() *CallFrame {
	return &vm.frames[len(vm.frames)-1]
}

// FrameDepth returns the number of live activations, for host drivers
// and tests.
func (vm *VM) FrameDepth() int { return len(vm.frames) }
