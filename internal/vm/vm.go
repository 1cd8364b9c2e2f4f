package vm

import (
	"bufio"
	"io"
	"os"

	"kestrel/internal/bytecode"
	"kestrel/internal/vmerrors"
)

// VM is the single-threaded interpreter: a shared value stack, a frame
// stack, the global namespace, the list of currently-open upvalue cells,
// and the heap they all reference into. There is exactly one thread of
// control per VM; nothing here is safe for concurrent use.
type VM struct {
	stack        []Value
	frames       []CallFrame
	globals      map[string]Value
	openUpvalues []UpvalueRef // descending by slot, no duplicate slots
	heap         *Heap

	stdout io.Writer
	stdin  *bufio.Reader

	gcThreshold int // heap.Len() at which the next GC runs
}

// Option configures a VM at construction time.
type Option func(*VM)

// WithStdout redirects Print output (default os.Stdout).
func WithStdout(w io.Writer) Option { return func(v *VM) { v.stdout = w } }

// WithStdin redirects native input reads like readln (default os.Stdin).
func WithStdin(r io.Reader) Option { return func(v *VM) { v.stdin = bufio.NewReader(r) } }

func New(opts ...Option) *VM {
	vm := &VM{
		globals:     make(map[string]Value),
		heap:        NewHeap(),
		stdout:      os.Stdout,
		stdin:       bufio.NewReader(os.Stdin),
		gcThreshold: 256,
	}
	for _, opt := range opts {
		opt(vm)
	}
	return vm
}

// Heap exposes the VM's heap to native functions that need to allocate or
// dereference heap objects (e.g. the Map built-in).
func (vm *VM) Heap() *Heap { return vm.heap }

// Globals exposes the global namespace, e.g. so a host can register the
// Map class or other native-defined globals before Interpret runs.
func (vm *VM) Globals() map[string]Value { return vm.globals }

// Stdout is the writer Print instructions and natives write user-facing
// output to.
func (vm *VM) Stdout() io.Writer { return vm.stdout }

// ReadLine reads one line from the configured stdin, trimming the
// trailing newline. Used by the readln built-in.
func (vm *VM) ReadLine() (string, error) {
	line, err := vm.stdin.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}
	return line, nil
}

// Interpret wraps the top-level function in a closure with no upvalues,
// pushes it as the stack-0 sentinel, and runs it to completion.
func (vm *VM) Interpret(fn *Function) (Value, error) {
	vm.stack = vm.stack[:0]
	vm.frames = vm.frames[:0]
	closure := &Closure{Function: fn, Upvalues: nil}
	vm.push(closure)
	if err := vm.callValue(0, 0); err != nil {
		return Nil{}, err
	}
	return vm.run()
}

func (vm *VM) push(v Value) { vm.stack = append(vm.stack, v) }

func (vm *VM) pop() Value {
	v := vm.stack[len(vm.stack)-1]
	vm.stack = vm.stack[:len(vm.stack)-1]
	return v
}

func (vm *VM) peek(distance int) Value { return vm.stack[len(vm.stack)-1-distance] }

func (vm *VM) truncate(base int) { vm.stack = vm.stack[:base] }

func (vm *VM) currentFrame() *CallFrame { return &vm.frames[len(vm.frames)-1] }

func (vm *VM) readByte() byte {
	f := vm.currentFrame()
	b := f.chunk().Code[f.IP]
	f.IP++
	return b
}

func (vm *VM) readShort() uint16 {
	f := vm.currentFrame()
	v := f.chunk().ReadShort(f.IP)
	f.IP += 2
	return v
}

func (vm *VM) readConstant() interface{} {
	f := vm.currentFrame()
	return f.chunk().Constants[vm.readByte()]
}

func (vm *VM) readString() (string, error) {
	c := vm.readConstant()
	s, ok := c.(string)
	if !ok {
		return "", vmerrors.New(vmerrors.TypeError, "constant pool entry used as a name is not a string")
	}
	return s, nil
}

func (vm *VM) readFunctionConstant() (*Function, error) {
	c := vm.readConstant()
	fn, ok := c.(*Function)
	if !ok {
		return nil, vmerrors.New(vmerrors.TypeError, "constant is not a function")
	}
	return fn, nil
}

// run executes instructions from the topmost frame until the frame stack
// empties (Return from the outermost frame), returning the final value or
// the first fatal error, annotated with a call-stack trace.
func (vm *VM) run() (Value, error) {
	for {
		if len(vm.frames) == 0 {
			return Nil{}, vmerrors.New(vmerrors.TypeError, "run: no active frame")
		}
		frame := vm.currentFrame()
		op := bytecode.OpCode(vm.readByte())

		var err error
		switch op {
		case bytecode.OpConstant:
			vm.push(vm.readConstant())

		case bytecode.OpNil:
			vm.push(Nil{})
		case bytecode.OpTrue:
			vm.push(true)
		case bytecode.OpFalse:
			vm.push(false)
		case bytecode.OpPop:
			vm.pop()

		case bytecode.OpGetLocal:
			idx := int(vm.readByte())
			vm.push(vm.stack[frame.Base+idx])
		case bytecode.OpSetLocal:
			idx := int(vm.readByte())
			vm.stack[frame.Base+idx] = vm.peek(0)

		case bytecode.OpGetGlobal:
			err = vm.opGetGlobal()
		case bytecode.OpDefineGlobal:
			err = vm.opDefineGlobal()
		case bytecode.OpSetGlobal:
			err = vm.opSetGlobal()

		case bytecode.OpGetUpvalue:
			idx := int(vm.readByte())
			vm.push(vm.getUpvalue(frame, idx))
		case bytecode.OpSetUpvalue:
			idx := int(vm.readByte())
			vm.setUpvalue(frame, idx, vm.peek(0))

		case bytecode.OpGetProperty:
			err = vm.opGetProperty()
		case bytecode.OpSetProperty:
			err = vm.opSetProperty()
		case bytecode.OpGetSuper:
			err = vm.opGetSuper()

		case bytecode.OpEqual:
			b, a := vm.pop(), vm.pop()
			vm.push(Equal(a, b))
		case bytecode.OpGreater:
			err = vm.numericCompare(func(a, b float64) bool { return a > b })
		case bytecode.OpLess:
			err = vm.numericCompare(func(a, b float64) bool { return a < b })

		case bytecode.OpAdd:
			err = vm.opAdd()
		case bytecode.OpSubtract:
			err = vm.numericBinOp(func(a, b float64) float64 { return a - b })
		case bytecode.OpMultiply:
			err = vm.numericBinOp(func(a, b float64) float64 { return a * b })
		case bytecode.OpDivide:
			err = vm.numericBinOp(func(a, b float64) float64 { return a / b })

		case bytecode.OpNot:
			vm.push(IsFalsey(vm.pop()))
		case bytecode.OpNegate:
			err = vm.opNegate()

		case bytecode.OpPrint:
			io.WriteString(vm.stdout, ToString(vm.pop())+"\n")

		case bytecode.OpJump:
			offset := vm.readShort()
			frame.IP += int(offset)
		case bytecode.OpJumpIfFalse:
			offset := vm.readShort()
			if IsFalsey(vm.peek(0)) {
				frame.IP += int(offset)
			}
		case bytecode.OpLoop:
			offset := vm.readShort()
			frame.IP -= int(offset)

		case bytecode.OpCall:
			n := int(vm.readByte())
			err = vm.callValue(len(vm.stack)-n-1, n)

		case bytecode.OpInvoke:
			var name string
			if name, err = vm.readString(); err == nil {
				n := int(vm.readByte())
				err = vm.invoke(name, n)
			}

		case bytecode.OpSuperInvoke:
			var name string
			if name, err = vm.readString(); err == nil {
				n := int(vm.readByte())
				err = vm.superInvoke(name, n)
			}

		case bytecode.OpClosure:
			var fn *Function
			if fn, err = vm.readFunctionConstant(); err == nil {
				err = vm.makeClosure(fn)
			}

		case bytecode.OpCloseUpvalue:
			vm.closeUpvalues(len(vm.stack) - 1)
			vm.pop()

		case bytecode.OpReturn:
			result := vm.pop()
			vm.closeUpvalues(frame.Base)
			vm.frames = vm.frames[:len(vm.frames)-1]
			if len(vm.frames) == 0 {
				vm.pop()
				return result, nil
			}
			vm.truncate(frame.Base)
			vm.push(result)

		case bytecode.OpClass:
			var name string
			if name, err = vm.readString(); err == nil {
				ref := vm.heap.NewClass(NewClass(name))
				vm.push(ref)
				vm.maybeCollect()
			}

		case bytecode.OpInherit:
			err = vm.opInherit()

		case bytecode.OpMethod:
			var name string
			if name, err = vm.readString(); err == nil {
				err = vm.opMethod(name)
			}

		default:
			err = vmerrors.New(vmerrors.TypeError, "unknown opcode %d", op)
		}

		if err != nil {
			return Nil{}, vm.annotate(err)
		}
	}
}

func (vm *VM) opGetGlobal() error {
	name, err := vm.readString()
	if err != nil {
		return err
	}
	v, ok := vm.globals[name]
	if !ok {
		return vmerrors.New(vmerrors.NameError, "undefined variable '%s'", name)
	}
	vm.push(v)
	return nil
}

func (vm *VM) opDefineGlobal() error {
	name, err := vm.readString()
	if err != nil {
		return err
	}
	vm.globals[name] = vm.pop()
	return nil
}

func (vm *VM) opSetGlobal() error {
	name, err := vm.readString()
	if err != nil {
		return err
	}
	if _, ok := vm.globals[name]; !ok {
		return vmerrors.New(vmerrors.NameError, "undefined variable '%s'", name)
	}
	vm.globals[name] = vm.peek(0)
	return nil
}

func (vm *VM) numericBinOp(f func(a, b float64) float64) error {
	b, a := vm.pop(), vm.pop()
	an, aok := a.(float64)
	bn, bok := b.(float64)
	if !aok || !bok {
		return vmerrors.New(vmerrors.TypeError, "operands must be numbers")
	}
	vm.push(f(an, bn))
	return nil
}

func (vm *VM) numericCompare(f func(a, b float64) bool) error {
	b, a := vm.pop(), vm.pop()
	an, aok := a.(float64)
	bn, bok := b.(float64)
	if !aok || !bok {
		return vmerrors.New(vmerrors.TypeError, "operands must be numbers")
	}
	vm.push(f(an, bn))
	return nil
}

func (vm *VM) opAdd() error {
	b, a := vm.pop(), vm.pop()
	if an, ok := a.(float64); ok {
		if bn, ok := b.(float64); ok {
			vm.push(an + bn)
			return nil
		}
	}
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			vm.push(as + bs)
			return nil
		}
	}
	return vmerrors.New(vmerrors.TypeError, "operands must be two numbers or two strings")
}

func (vm *VM) opNegate() error {
	v := vm.pop()
	n, ok := v.(float64)
	if !ok {
		return vmerrors.New(vmerrors.TypeError, "operand must be a number")
	}
	vm.push(-n)
	return nil
}

func (vm *VM) opGetProperty() error {
	name, err := vm.readString()
	if err != nil {
		return err
	}
	v := vm.pop()
	ref, ok := v.(InstanceRef)
	if !ok {
		return vmerrors.New(vmerrors.TypeError, "only instances have properties")
	}
	inst, ok := vm.heap.Instance(ref)
	if !ok {
		return vmerrors.New(vmerrors.TypeError, "dangling instance reference")
	}
	if field, ok := inst.Fields[name]; ok {
		vm.push(field)
		return nil
	}
	return vm.bindMethod(inst.Class, ref, name)
}

func (vm *VM) opSetProperty() error {
	name, err := vm.readString()
	if err != nil {
		return err
	}
	value := vm.pop()
	target := vm.pop()
	ref, ok := target.(InstanceRef)
	if !ok {
		return vmerrors.New(vmerrors.TypeError, "only instances have fields")
	}
	inst, ok := vm.heap.Instance(ref)
	if !ok {
		return vmerrors.New(vmerrors.TypeError, "dangling instance reference")
	}
	inst.Fields[name] = value
	vm.push(value)
	return nil
}

// opGetSuper implements GetSuper's deliberately asymmetric pop order
// relative to SuperInvoke: the compiler that emits GetSuper pushes the
// superclass first and `this` second, so `this` is popped off the top.
func (vm *VM) opGetSuper() error {
	name, err := vm.readString()
	if err != nil {
		return err
	}
	thisVal := vm.pop()
	superVal := vm.pop()
	instRef, ok := thisVal.(InstanceRef)
	if !ok {
		return vmerrors.New(vmerrors.TypeError, "'this' must be an instance")
	}
	classRef, ok := superVal.(ClassRef)
	if !ok {
		return vmerrors.New(vmerrors.TypeError, "superclass must be a class")
	}
	return vm.bindMethod(classRef, instRef, name)
}

func (vm *VM) opInherit() error {
	subVal := vm.pop()
	superVal := vm.peek(0)
	subRef, ok := subVal.(ClassRef)
	if !ok {
		return vmerrors.New(vmerrors.TypeError, "subclass must be a class")
	}
	superRef, ok := superVal.(ClassRef)
	if !ok {
		return vmerrors.New(vmerrors.TypeError, "superclass must be a class")
	}
	super, ok := vm.heap.Class(superRef)
	if !ok {
		return vmerrors.New(vmerrors.TypeError, "dangling class reference")
	}
	sub, ok := vm.heap.Class(subRef)
	if !ok {
		return vmerrors.New(vmerrors.TypeError, "dangling class reference")
	}
	for name, method := range super.Methods {
		sub.Methods[name] = method
	}
	return nil
}

func (vm *VM) opMethod(name string) error {
	method := vm.pop()
	classVal := vm.peek(0)
	ref, ok := classVal.(ClassRef)
	if !ok {
		return vmerrors.New(vmerrors.TypeError, "expected class")
	}
	class, ok := vm.heap.Class(ref)
	if !ok {
		return vmerrors.New(vmerrors.TypeError, "dangling class reference")
	}
	class.Methods[name] = method
	return nil
}

// annotate attaches the current call stack (innermost first) to a fatal
// error as it unwinds out of run.
func (vm *VM) annotate(err error) error {
	re, ok := err.(*vmerrors.RuntimeError)
	if !ok {
		re = vmerrors.Wrap(err, vmerrors.TypeError, "%s", err.Error())
	}
	for i := len(vm.frames) - 1; i >= 0; i-- {
		f := &vm.frames[i]
		debug := f.chunk().GetDebugInfo(f.IP)
		re.WithFrame(f.Function.Name, debug.File, debug.Line)
	}
	return re
}
