package vm

import "kestrel/internal/bytecode"

// CallFrame is one activation record: the function being executed, its
// instruction pointer, the stack slot holding the callee (locals occupy
// base+1..base+arity and grow above that), and the upvalue cells in scope
// for GetUpvalue/SetUpvalue. Function and Closure calls both produce a
// CallFrame; a bare Function simply carries a nil Upvalues slice.
type CallFrame struct {
	Function *Function
	Upvalues []UpvalueRef
	IP       int
	Base     int
}

func (f *CallFrame) chunk() *bytecode.Chunk { return f.Function.Chunk }
