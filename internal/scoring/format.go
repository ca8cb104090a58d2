package scoring

import "fmt"

// toStringFallback stringifies any scalar database/sql value (ints,
// floats, bools, time.Time, …) the same way every engine's driver would
// render it in a client tool, so identical values compare equal across
// engines regardless of their native Go type.
func toStringFallback(v any) string {
	return fmt.Sprintf("%v", v)
}
