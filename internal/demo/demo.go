// Package demo hand-assembles a handful of bytecode programs exercising
// the execution core: no lexer, parser, or compiler sits in front of it,
// so each demo builds its Chunk directly the way a compiler would.
package demo

import (
	"sort"

	"kestrel/internal/bytecode"
	"kestrel/internal/vm"
)

var registry = map[string]func() *vm.Function{
	"counter": counter,
	"greet":   greet,
	"shapes":  shapes,
	"map":     mapDemo,
}

// Names lists the available demo programs in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get builds and returns the named demo's top-level script function.
func Get(name string) (*vm.Function, bool) {
	build, ok := registry[name]
	if !ok {
		return nil, false
	}
	return build(), true
}

func op(c *bytecode.Chunk, codes ...byte) {
	for _, b := range codes {
		c.WriteByte(b)
	}
}

// counter builds the equivalent of:
//
//	function makeCounter() {
//	  var count = 0;
//	  function increment() { count = count + 1; return count; }
//	  return increment;
//	}
//	var tick = makeCounter();
//	tick();
//	return tick();
//
// demonstrating shared-upvalue capture: both calls to tick() observe and
// mutate the same closed-over `count` cell, so the script's result is 2.
func counter() *vm.Function {
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

	increment := &vm.Function{
		Name:     "increment",
		Arity:    0,
		Chunk:    incChunk,
		Upvalues: []vm.UpvalueDesc{{Index: 1, IsLocal: true}},
	}

	mcChunk := bytecode.NewChunk()
	zero := mcChunk.AddConstant(0.0)
	incConst := mcChunk.AddConstant(increment)
	mcChunk.WriteOp(bytecode.OpConstant)
	mcChunk.WriteByte(byte(zero))
	mcChunk.WriteOp(bytecode.OpClosure)
	mcChunk.WriteByte(byte(incConst))
	mcChunk.WriteOp(bytecode.OpReturn)

	makeCounter := &vm.Function{Name: "makeCounter", Arity: 0, Chunk: mcChunk}

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

	return &vm.Function{Name: "script", Arity: 0, Chunk: script}
}

// greet builds the equivalent of:
//
//	function greet(name) { return "Hello, " + name; }
//	return greet("Ada");
func greet() *vm.Function {
	greetChunk := bytecode.NewChunk()
	hello := greetChunk.AddConstant("Hello, ")
	greetChunk.WriteOp(bytecode.OpConstant)
	greetChunk.WriteByte(byte(hello))
	greetChunk.WriteOp(bytecode.OpGetLocal)
	greetChunk.WriteByte(1)
	greetChunk.WriteOp(bytecode.OpAdd)
	greetChunk.WriteOp(bytecode.OpReturn)

	greetFn := &vm.Function{Name: "greet", Arity: 1, Chunk: greetChunk}

	script := bytecode.NewChunk()
	greetConst := script.AddConstant(greetFn)
	greetName := script.AddConstant("greet")
	arg := script.AddConstant("Ada")

	script.WriteOp(bytecode.OpClosure)
	script.WriteByte(byte(greetConst))
	script.WriteOp(bytecode.OpDefineGlobal)
	script.WriteByte(byte(greetName))
	script.WriteOp(bytecode.OpGetGlobal)
	script.WriteByte(byte(greetName))
	script.WriteOp(bytecode.OpConstant)
	script.WriteByte(byte(arg))
	script.WriteOp(bytecode.OpCall)
	script.WriteByte(1)
	script.WriteOp(bytecode.OpReturn)

	return &vm.Function{Name: "script", Arity: 0, Chunk: script}
}

// shapes builds the equivalent of:
//
//	class Animal { speak() { return "Some sound"; } }
//	class Dog < Animal { speak() { return super.speak() + " Woof"; } }
//	var d = Dog();
//	return d.speak();
//
// demonstrating inheritance, the fused Invoke/SuperInvoke fast paths, and
// a method closing over its superclass as an upvalue.
func shapes() *vm.Function {
	animalSpeak := bytecode.NewChunk()
	sound := animalSpeak.AddConstant("Some sound")
	animalSpeak.WriteOp(bytecode.OpConstant)
	animalSpeak.WriteByte(byte(sound))
	animalSpeak.WriteOp(bytecode.OpReturn)
	animalSpeakFn := &vm.Function{Name: "speak", Arity: 0, Chunk: animalSpeak}

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
	dogSpeakFn := &vm.Function{
		Name:     "speak",
		Arity:    0,
		Chunk:    dogSpeak,
		Upvalues: []vm.UpvalueDesc{{Index: 1, IsLocal: true}}, // captures Animal, script local slot 1
	}

	script := bytecode.NewChunk()
	animalName := script.AddConstant("Animal")
	dogName := script.AddConstant("Dog")
	animalSpeakConst := script.AddConstant(animalSpeakFn)
	dogSpeakConst := script.AddConstant(dogSpeakFn)
	speakMethodName := script.AddConstant("speak")

	script.WriteOp(bytecode.OpClass)
	script.WriteByte(byte(animalName)) // slot1: Animal
	script.WriteOp(bytecode.OpClosure)
	script.WriteByte(byte(animalSpeakConst))
	script.WriteOp(bytecode.OpMethod)
	script.WriteByte(byte(speakMethodName))

	script.WriteOp(bytecode.OpClass)
	script.WriteByte(byte(dogName)) // slot2: Dog
	script.WriteOp(bytecode.OpGetLocal)
	script.WriteByte(1) // copy of Animal
	script.WriteOp(bytecode.OpGetLocal)
	script.WriteByte(2) // copy of Dog
	script.WriteOp(bytecode.OpInherit)
	script.WriteOp(bytecode.OpPop) // discard the Animal copy left by Inherit

	script.WriteOp(bytecode.OpClosure)
	script.WriteByte(byte(dogSpeakConst))
	script.WriteOp(bytecode.OpMethod)
	script.WriteByte(byte(speakMethodName))

	script.WriteOp(bytecode.OpGetLocal)
	script.WriteByte(2) // copy of Dog, used as the constructor callee
	script.WriteOp(bytecode.OpCall)
	script.WriteByte(0) // slot3: d

	script.WriteOp(bytecode.OpGetLocal)
	script.WriteByte(3) // copy of d, the invoke receiver
	script.WriteOp(bytecode.OpInvoke)
	script.WriteByte(byte(speakMethodName))
	script.WriteByte(0)

	script.WriteOp(bytecode.OpReturn)

	return &vm.Function{Name: "script", Arity: 0, Chunk: script}
}

// mapDemo builds the equivalent of:
//
//	var m = Map();
//	m.set("a", 1);
//	m.set("b", "x");
//	return m.toString();
//
// exercising the Map built-in through the ordinary global-lookup,
// constructor-call, and invoke instructions a compiler would emit for a
// script calling Map() and then dot-calling its methods. Requires the host
// to have called natives.Register before interpreting (kestrelvm's run
// command always does).
func mapDemo() *vm.Function {
	script := bytecode.NewChunk()
	mapGlobal := script.AddConstant("Map")
	setName := script.AddConstant("set")
	toStringName := script.AddConstant("toString")
	keyA := script.AddConstant("a")
	valA := script.AddConstant(1.0)
	keyB := script.AddConstant("b")
	valB := script.AddConstant("x")

	script.WriteOp(bytecode.OpGetGlobal)
	script.WriteByte(byte(mapGlobal))
	script.WriteOp(bytecode.OpCall)
	script.WriteByte(0) // slot1: m

	script.WriteOp(bytecode.OpGetLocal)
	script.WriteByte(1)
	script.WriteOp(bytecode.OpConstant)
	script.WriteByte(byte(keyA))
	script.WriteOp(bytecode.OpConstant)
	script.WriteByte(byte(valA))
	script.WriteOp(bytecode.OpInvoke)
	script.WriteByte(byte(setName))
	script.WriteByte(2)
	script.WriteOp(bytecode.OpPop)

	script.WriteOp(bytecode.OpGetLocal)
	script.WriteByte(1)
	script.WriteOp(bytecode.OpConstant)
	script.WriteByte(byte(keyB))
	script.WriteOp(bytecode.OpConstant)
	script.WriteByte(byte(valB))
	script.WriteOp(bytecode.OpInvoke)
	script.WriteByte(byte(setName))
	script.WriteByte(2)
	script.WriteOp(bytecode.OpPop)

	script.WriteOp(bytecode.OpGetLocal)
	script.WriteByte(1)
	script.WriteOp(bytecode.OpInvoke)
	script.WriteByte(byte(toStringName))
	script.WriteByte(0)

	script.WriteOp(bytecode.OpReturn)

	return &vm.Function{Name: "script", Arity: 0, Chunk: script}
}
