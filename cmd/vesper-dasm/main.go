package main

import (
	"flag"
	"fmt"
	"os"

	"vesper/pkg/vm"
)

func main() {
	recursive := flag.Bool("r", false, "disassemble nested functions too")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [-r] <file.vbc>\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Disassembles a serialized Vesper code block.\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	data, err := os.ReadFile(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "vesper-dasm: %v\n", err)
		os.Exit(1)
	}

	code, err := vm.UnmarshalCodeBlock(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vesper-dasm: %v\n", err)
		os.Exit(1)
	}

	dump(code, *recursive)
}

func dump(code *vm.CodeBlock, recursive bool) {
	fmt.Print(code.Disassemble())
	if !recursive {
		return
	}
	for _, fn := range code.Functions {
		fmt.Println()
		dump(fn, recursive)
	}
}
