// Package marker writes the `*** ... ***` delimiters that split a correlated
// log into sections.
package marker

import (
	"fmt"
	"io"
)

func Write(w io.Writer, format string, args ...interface{}) {
	if w == nil {
		return
	}
	_, _ = fmt.Fprintf(w, "*** "+format+" ***\n", args...)
}
