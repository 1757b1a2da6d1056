package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/mattn/go-isatty"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)

	a := &app{
		stdout:      os.Stdout,
		stderr:      os.Stderr,
		interactive: isTerminal(os.Stdout) && isTerminal(os.Stderr),
	}
	code := a.run(ctx, os.Args[1:])

	stop()
	os.Exit(code)
}

func isTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
