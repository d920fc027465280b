package errors

// Position identifies a bytecode location for runtime diagnostics.
// Offset is the byte offset of the failing instruction inside the
// function's code buffer; Function is the function name as recorded
// in its CodeBlock (may be empty for anonymous functions).
type Position struct {
	Function string // name of the enclosing function
	Offset   int    // byte offset of the opcode in CodeBlock.Code
}
