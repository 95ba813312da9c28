package mquickjs

import (
	"io"
	"strings"

	"github.com/buke/mquickjs-go/engine"
)

// ConsoleStdlib returns the default host globals: console.log writing to
// stdout and console.error writing to stderr.
func ConsoleStdlib(stdout, stderr io.Writer) *engine.Stdlib {
	return &engine.Stdlib{Functions: []engine.StdlibFunction{
		{Name: "console.log", Length: 1, Fn: wrapNative(consolePrinter(stdout))},
		{Name: "console.error", Length: 1, Fn: wrapNative(consolePrinter(stderr))},
	}}
}

func consolePrinter(w io.Writer) NativeFunc {
	return func(env *Env, this Local[Value], args []Local[Value]) (ReturnAny, error) {
		if w == nil {
			return ReturnAny{}, nil
		}
		parts := make([]string, len(args))
		for i, a := range args {
			str, err := env.Scope().ToString(a)
			if err != nil {
				str = "<unprintable>"
			}
			parts[i] = str
		}
		_, err := io.WriteString(w, strings.Join(parts, " ")+"\n")
		return ReturnAny{}, err
	}
}
