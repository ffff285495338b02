package sandbox

import (
	"log/slog"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
)

// std.unstable.time.isoDateToUnixTimestamp(iso string) int
func isoDateToUnixTimestampDecl() cel.EnvOption {
	return cel.Function("std.unstable.time.isoDateToUnixTimestamp",
		cel.Overload("std_unstable_time_isoDateToUnixTimestamp_string",
			[]*cel.Type{cel.StringType}, cel.IntType,
			cel.UnaryBinding(func(arg ref.Val) ref.Val {
				s, ok := arg.(types.String)
				if !ok {
					return types.NewErr("isoDateToUnixTimestamp: argument must be a string")
				}
				t, err := time.Parse(time.RFC3339, string(s))
				if err != nil {
					return types.NewErr("isoDateToUnixTimestamp: %v", err)
				}
				return types.Int(t.Unix())
			}),
		),
	)
}

// std.unstable.time.unixTimestampToIsoDate(timestamp int) string
func unixTimestampToIsoDateDecl() cel.EnvOption {
	return cel.Function("std.unstable.time.unixTimestampToIsoDate",
		cel.Overload("std_unstable_time_unixTimestampToIsoDate_int",
			[]*cel.Type{cel.IntType}, cel.StringType,
			cel.UnaryBinding(func(arg ref.Val) ref.Val {
				i, ok := arg.(types.Int)
				if !ok {
					return types.NewErr("unixTimestampToIsoDate: argument must be an int")
				}
				return types.String(time.Unix(int64(i), 0).UTC().Format(time.RFC3339))
			}),
		),
	)
}

// std.unstable.debug.log(message string) string — side-effect-free to the
// expression's result (it returns its argument unchanged) but writes a
// debug-level log line as a side channel, matching the spec's
// "side-effect-free" requirement for the expression's evaluated value.
func debugLogDecl() cel.EnvOption {
	return cel.Function("std.unstable.debug.log",
		cel.Overload("std_unstable_debug_log_string",
			[]*cel.Type{cel.StringType}, cel.StringType,
			cel.UnaryBinding(func(arg ref.Val) ref.Val {
				s, ok := arg.(types.String)
				if !ok {
					return types.NewErr("debug.log: argument must be a string")
				}
				slog.Debug("sandbox debug.log", "message", string(s))
				return s
			}),
		),
	)
}
