// Command kestrelvm is a small host around the execution core: it has no
// lexer, parser, or compiler of its own, so it runs one of a handful of
// built-in demo chunks assembled directly at the bytecode level.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/mattn/go-isatty"

	"kestrel/internal/demo"
	"kestrel/internal/natives"
	"kestrel/internal/vm"
)

func main() {
	log.SetFlags(0)
	log.SetPrefix("kestrelvm: ")

	args := os.Args[1:]
	if len(args) == 0 {
		usage()
		return
	}

	switch args[0] {
	case "--help", "-h", "help":
		usage()
	case "--version", "-v", "version":
		fmt.Println("kestrelvm 0.1.0")
	case "list":
		for _, name := range demo.Names() {
			fmt.Println(name)
		}
	case "run":
		if len(args) < 2 {
			log.Fatal("run requires a demo name; see 'kestrelvm list'")
		}
		runDemo(args[1])
	default:
		runDemo(args[0])
	}
}

func runDemo(name string) {
	fn, ok := demo.Get(name)
	if !ok {
		log.Fatalf("no such demo %q; see 'kestrelvm list'", name)
	}

	m := vm.New()
	natives.Register(m)

	result, err := m.Interpret(fn)
	if err != nil {
		log.Fatal(err)
	}
	if isatty.IsTerminal(os.Stdout.Fd()) {
		fmt.Printf("=> %s\n", vm.ToString(result))
	} else {
		fmt.Println(vm.ToString(result))
	}
}

func usage() {
	fmt.Println(`kestrelvm - execution core for a class-based bytecode language

Usage:
  kestrelvm list            list the built-in demo programs
  kestrelvm run <name>      run a demo program
  kestrelvm <name>          shorthand for 'run <name>'
  kestrelvm --version       print the version
  kestrelvm --help          print this message`)
}
