package vm

import (
	"strings"
	"testing"

	"kestrel/internal/bytecode"
)

func runScript(t *testing.T, fn *Function) Value {
	t.Helper()
	m := New()
	result, err := m.Interpret(fn)
	if err != nil {
		t.Fatalf("Interpret failed: %v", err)
	}
	return result
}

func TestArithmetic(t *testing.T) {
	tests := []struct {
		name     string
		build    func(c *bytecode.Chunk)
		expected float64
	}{
		{"add", func(c *bytecode.Chunk) {
			a := c.AddConstant(1.0)
			b := c.AddConstant(2.0)
			c.WriteOp(bytecode.OpConstant)
			c.WriteByte(byte(a))
			c.WriteOp(bytecode.OpConstant)
			c.WriteByte(byte(b))
			c.WriteOp(bytecode.OpAdd)
			c.WriteOp(bytecode.OpReturn)
		}, 3},
		{"subtract", func(c *bytecode.Chunk) {
			a := c.AddConstant(5.0)
			b := c.AddConstant(2.0)
			c.WriteOp(bytecode.OpConstant)
			c.WriteByte(byte(a))
			c.WriteOp(bytecode.OpConstant)
			c.WriteByte(byte(b))
			c.WriteOp(bytecode.OpSubtract)
			c.WriteOp(bytecode.OpReturn)
		}, 3},
		{"multiply", func(c *bytecode.Chunk) {
			a := c.AddConstant(4.0)
			b := c.AddConstant(2.5)
			c.WriteOp(bytecode.OpConstant)
			c.WriteByte(byte(a))
			c.WriteOp(bytecode.OpConstant)
			c.WriteByte(byte(b))
			c.WriteOp(bytecode.OpMultiply)
			c.WriteOp(bytecode.OpReturn)
		}, 10},
		{"negate", func(c *bytecode.Chunk) {
			a := c.AddConstant(7.0)
			c.WriteOp(bytecode.OpConstant)
			c.WriteByte(byte(a))
			c.WriteOp(bytecode.OpNegate)
			c.WriteOp(bytecode.OpReturn)
		}, -7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunk := bytecode.NewChunk()
			tt.build(chunk)
			fn := &Function{Name: "script", Arity: 0, Chunk: chunk}
			result := runScript(t, fn)
			n, ok := result.(float64)
			if !ok || n != tt.expected {
				t.Fatalf("got %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestStringConcatenation(t *testing.T) {
	chunk := bytecode.NewChunk()
	a := chunk.AddConstant("foo")
	b := chunk.AddConstant("bar")
	chunk.WriteOp(bytecode.OpConstant)
	chunk.WriteByte(byte(a))
	chunk.WriteOp(bytecode.OpConstant)
	chunk.WriteByte(byte(b))
	chunk.WriteOp(bytecode.OpAdd)
	chunk.WriteOp(bytecode.OpReturn)

	result := runScript(t, &Function{Name: "script", Arity: 0, Chunk: chunk})
	if result.(string) != "foobar" {
		t.Fatalf("got %v, want foobar", result)
	}
}

func TestAddRejectsMixedTypes(t *testing.T) {
	chunk := bytecode.NewChunk()
	a := chunk.AddConstant("foo")
	b := chunk.AddConstant(1.0)
	chunk.WriteOp(bytecode.OpConstant)
	chunk.WriteByte(byte(a))
	chunk.WriteOp(bytecode.OpConstant)
	chunk.WriteByte(byte(b))
	chunk.WriteOp(bytecode.OpAdd)
	chunk.WriteOp(bytecode.OpReturn)

	m := New()
	_, err := m.Interpret(&Function{Name: "script", Arity: 0, Chunk: chunk})
	if err == nil {
		t.Fatal("expected a type error adding a string to a number")
	}
}

func TestGlobals(t *testing.T) {
	chunk := bytecode.NewChunk()
	name := chunk.AddConstant("x")
	val := chunk.AddConstant(10.0)
	chunk.WriteOp(bytecode.OpConstant)
	chunk.WriteByte(byte(val))
	chunk.WriteOp(bytecode.OpDefineGlobal)
	chunk.WriteByte(byte(name))
	chunk.WriteOp(bytecode.OpGetGlobal)
	chunk.WriteByte(byte(name))
	chunk.WriteOp(bytecode.OpReturn)

	result := runScript(t, &Function{Name: "script", Arity: 0, Chunk: chunk})
	if result.(float64) != 10 {
		t.Fatalf("got %v, want 10", result)
	}
}

func TestUndefinedGlobalIsNameError(t *testing.T) {
	chunk := bytecode.NewChunk()
	name := chunk.AddConstant("missing")
	chunk.WriteOp(bytecode.OpGetGlobal)
	chunk.WriteByte(byte(name))
	chunk.WriteOp(bytecode.OpReturn)

	m := New()
	_, err := m.Interpret(&Function{Name: "script", Arity: 0, Chunk: chunk})
	if err == nil || !strings.Contains(err.Error(), "undefined variable") {
		t.Fatalf("got %v, want an undefined variable error", err)
	}
}

// buildClosureCounter assembles the increment/makeCounter/script chunks
// shared by the upvalue tests below: two calls to the returned closure
// observe and mutate the same captured `count` cell.
func buildClosureCounter() *Function {
	incChunk := bytecode.NewChunk()
	one := incChunk.AddConstant(1.0)
	incChunk.WriteOp(bytecode.OpGetUpvalue)
	incChunk.WriteByte(0)
	incChunk.WriteOp(bytecode.OpConstant)
	incChunk.WriteByte(byte(one))
	incChunk.WriteOp(bytecode.OpAdd)
	incChunk.WriteOp(bytecode.OpSetUpvalue)
	incChunk.WriteByte(0)
	incChunk.WriteOp(bytecode.OpReturn)
	increment := &Function{
		Name:     "increment",
		Arity:    0,
		Chunk:    incChunk,
		Upvalues: []UpvalueDesc{{Index: 1, IsLocal: true}},
	}

	mcChunk := bytecode.NewChunk()
	zero := mcChunk.AddConstant(0.0)
	incConst := mcChunk.AddConstant(increment)
	mcChunk.WriteOp(bytecode.OpConstant)
	mcChunk.WriteByte(byte(zero))
	mcChunk.WriteOp(bytecode.OpClosure)
	mcChunk.WriteByte(byte(incConst))
	mcChunk.WriteOp(bytecode.OpReturn)
	makeCounter := &Function{Name: "makeCounter", Arity: 0, Chunk: mcChunk}

	script := bytecode.NewChunk()
	mcIdx := script.AddConstant(makeCounter)
	script.WriteOp(bytecode.OpClosure)
	script.WriteByte(byte(mcIdx))
	script.WriteOp(bytecode.OpCall)
	script.WriteByte(0)
	script.WriteOp(bytecode.OpGetLocal)
	script.WriteByte(1)
	script.WriteOp(bytecode.OpCall)
	script.WriteByte(0)
	script.WriteOp(bytecode.OpPop)
	script.WriteOp(bytecode.OpGetLocal)
	script.WriteByte(1)
	script.WriteOp(bytecode.OpCall)
	script.WriteByte(0)
	script.WriteOp(bytecode.OpReturn)

	return &Function{Name: "script", Arity: 0, Chunk: script}
}

func TestClosureSharesUpvalueAcrossCalls(t *testing.T) {
	result := runScript(t, buildClosureCounter())
	if result.(float64) != 2 {
		t.Fatalf("second tick() = %v, want 2 (shared cell incremented twice)", result)
	}
}

func TestClosureSurvivesEnclosingFrameReturn(t *testing.T) {
	// buildClosureCounter's makeCounter frame has already returned by the
	// time tick() is called the first time, so this also exercises a
	// closed (not merely open) upvalue cell.
	m := New()
	fn := buildClosureCounter()
	result, err := m.Interpret(fn)
	if err != nil {
		t.Fatalf("Interpret failed: %v", err)
	}
	if result.(float64) != 2 {
		t.Fatalf("got %v, want 2", result)
	}
}

// buildAnimalDog assembles the class+inheritance+super chunks used by
// TestInheritanceAndSuperInvoke below.
func buildAnimalDog(speakBody string) *Function {
	animalSpeak := bytecode.NewChunk()
	sound := animalSpeak.AddConstant("Some sound")
	animalSpeak.WriteOp(bytecode.OpConstant)
	animalSpeak.WriteByte(byte(sound))
	animalSpeak.WriteOp(bytecode.OpReturn)
	animalSpeakFn := &Function{Name: "speak", Arity: 0, Chunk: animalSpeak}

	dogSpeak := bytecode.NewChunk()
	dogSpeak.WriteOp(bytecode.OpGetUpvalue)
	dogSpeak.WriteByte(0)
	speakName := dogSpeak.AddConstant("speak")
	dogSpeak.WriteOp(bytecode.OpSuperInvoke)
	dogSpeak.WriteByte(byte(speakName))
	dogSpeak.WriteByte(0)
	woof := dogSpeak.AddConstant(" Woof")
	dogSpeak.WriteOp(bytecode.OpConstant)
	dogSpeak.WriteByte(byte(woof))
	dogSpeak.WriteOp(bytecode.OpAdd)
	dogSpeak.WriteOp(bytecode.OpReturn)
	dogSpeakFn := &Function{
		Name:     "speak",
		Arity:    0,
		Chunk:    dogSpeak,
		Upvalues: []UpvalueDesc{{Index: 1, IsLocal: true}},
	}

	script := bytecode.NewChunk()
	animalName := script.AddConstant("Animal")
	dogName := script.AddConstant("Dog")
	animalSpeakConst := script.AddConstant(animalSpeakFn)
	dogSpeakConst := script.AddConstant(dogSpeakFn)
	speakMethodName := script.AddConstant("speak")

	script.WriteOp(bytecode.OpClass)
	script.WriteByte(byte(animalName))
	script.WriteOp(bytecode.OpClosure)
	script.WriteByte(byte(animalSpeakConst))
	script.WriteOp(bytecode.OpMethod)
	script.WriteByte(byte(speakMethodName))

	script.WriteOp(bytecode.OpClass)
	script.WriteByte(byte(dogName))
	script.WriteOp(bytecode.OpGetLocal)
	script.WriteByte(1)
	script.WriteOp(bytecode.OpGetLocal)
	script.WriteByte(2)
	script.WriteOp(bytecode.OpInherit)
	script.WriteOp(bytecode.OpPop)

	script.WriteOp(bytecode.OpClosure)
	script.WriteByte(byte(dogSpeakConst))
	script.WriteOp(bytecode.OpMethod)
	script.WriteByte(byte(speakMethodName))

	script.WriteOp(bytecode.OpGetLocal)
	script.WriteByte(2)
	script.WriteOp(bytecode.OpCall)
	script.WriteByte(0)

	script.WriteOp(bytecode.OpGetLocal)
	script.WriteByte(3)
	script.WriteOp(bytecode.OpInvoke)
	script.WriteByte(byte(speakMethodName))
	script.WriteByte(0)

	script.WriteOp(bytecode.OpReturn)

	return &Function{Name: "script", Arity: 0, Chunk: script}
}

func TestInheritanceAndSuperInvoke(t *testing.T) {
	result := runScript(t, buildAnimalDog(""))
	if result.(string) != "Some sound Woof" {
		t.Fatalf("got %q, want %q", result, "Some sound Woof")
	}
}

func TestFieldShadowsMethodOnPropertyRead(t *testing.T) {
	m := New()
	classRef := m.Heap().NewClass(NewClass("Thing"))
	class, _ := m.Heap().Class(classRef)
	class.Methods["greeting"] = &NativeFunction{Name: "greeting", Arity: 0, Fn: func(args []Value, vm *VM) (Value, error) {
		return "from method", nil
	}}
	instRef := m.Heap().NewInstance(NewInstance(classRef))
	inst, _ := m.Heap().Instance(instRef)
	inst.Fields["greeting"] = "from field"

	chunk := bytecode.NewChunk()
	instConst := chunk.AddConstant(instRef)
	name := chunk.AddConstant("greeting")
	chunk.WriteOp(bytecode.OpConstant)
	chunk.WriteByte(byte(instConst))
	chunk.WriteOp(bytecode.OpGetProperty)
	chunk.WriteByte(byte(name))
	chunk.WriteOp(bytecode.OpReturn)

	result, err := m.Interpret(&Function{Name: "script", Arity: 0, Chunk: chunk})
	if err != nil {
		t.Fatalf("Interpret failed: %v", err)
	}
	if result.(string) != "from field" {
		t.Fatalf("got %v, want the field value to shadow the method", result)
	}
}

func TestInvokeFieldShadowsMethod(t *testing.T) {
	m := New()
	classRef := m.Heap().NewClass(NewClass("Thing"))
	class, _ := m.Heap().Class(classRef)
	class.Methods["greeting"] = &NativeFunction{Name: "greeting", Arity: 0, Fn: func(args []Value, vm *VM) (Value, error) {
		return "from method", nil
	}}
	instRef := m.Heap().NewInstance(NewInstance(classRef))
	inst, _ := m.Heap().Instance(instRef)
	inst.Fields["greeting"] = &NativeFunction{Name: "greeting-field", Arity: 0, Fn: func(args []Value, vm *VM) (Value, error) {
		return "from field", nil
	}}

	chunk := bytecode.NewChunk()
	instConst := chunk.AddConstant(instRef)
	name := chunk.AddConstant("greeting")
	chunk.WriteOp(bytecode.OpConstant)
	chunk.WriteByte(byte(instConst))
	chunk.WriteOp(bytecode.OpInvoke)
	chunk.WriteByte(byte(name))
	chunk.WriteByte(0)
	chunk.WriteOp(bytecode.OpReturn)

	result, err := m.Interpret(&Function{Name: "script", Arity: 0, Chunk: chunk})
	if err != nil {
		t.Fatalf("Interpret failed: %v", err)
	}
	if result.(string) != "from field" {
		t.Fatalf("got %v, want the callable field to shadow the method via Invoke", result)
	}
}

func TestInitArityMismatchIsArityError(t *testing.T) {
	m := New()
	classRef := m.Heap().NewClass(NewClass("Point"))
	class, _ := m.Heap().Class(classRef)
	initChunk := bytecode.NewChunk()
	initChunk.WriteOp(bytecode.OpNil)
	initChunk.WriteOp(bytecode.OpReturn)
	class.Methods["init"] = &Function{Name: "init", Arity: 2, Chunk: initChunk}

	chunk := bytecode.NewChunk()
	classConst := chunk.AddConstant(classRef)
	chunk.WriteOp(bytecode.OpConstant)
	chunk.WriteByte(byte(classConst))
	chunk.WriteOp(bytecode.OpCall)
	chunk.WriteByte(0) // calling with 0 args, init wants 2
	chunk.WriteOp(bytecode.OpReturn)

	_, err := m.Interpret(&Function{Name: "script", Arity: 0, Chunk: chunk})
	if err == nil || !strings.Contains(err.Error(), "expects 2 argument") {
		t.Fatalf("got %v, want an arity error mentioning 2 arguments", err)
	}
}

func TestCloseUpvaluesClosesCellInPlace(t *testing.T) {
	// Exercises closeUpvalues directly: a block-scoped local captured by a
	// closure, then detached from the open list once its scope ends,
	// independent of any frame returning.
	m := New()
	m.stack = append(m.stack, 0.0, 42.0)
	ref := m.captureUpvalue(1)
	if len(m.openUpvalues) != 1 {
		t.Fatalf("expected 1 open upvalue, got %d", len(m.openUpvalues))
	}
	m.closeUpvalues(1)
	if len(m.openUpvalues) != 0 {
		t.Fatalf("expected closeUpvalues to detach the cell, got %d remaining", len(m.openUpvalues))
	}
	cell, _ := m.heap.Upvalue(ref)
	if cell.IsOpen() {
		t.Fatal("expected the cell to be closed")
	}
	if cell.value.(float64) != 42.0 {
		t.Fatalf("closed value = %v, want 42", cell.value)
	}
}
