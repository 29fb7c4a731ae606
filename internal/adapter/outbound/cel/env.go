package cel

import (
	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"
	"github.com/google/cel-go/ext"
)

// NewMetricsEnvironment creates the CEL environment for insight rules. It
// declares:
//   - metrics: map(string, double) of the current platform and agent metrics
//   - now: timestamp of the evaluation
//   - metric(metrics, name): the named value, or 0.0 when absent
//   - has_metric(metrics, name): whether the named value is present
func NewMetricsEnvironment() (*cel.Env, error) {
	metricsType := cel.MapType(cel.StringType, cel.DoubleType)
	return cel.NewEnv(
		ext.Strings(),
		ext.Math(),

		cel.Variable("metrics", metricsType),
		cel.Variable("now", cel.TimestampType),

		cel.Function("metric",
			cel.Overload("metric_map_string",
				[]*cel.Type{metricsType, cel.StringType},
				cel.DoubleType,
				cel.BinaryBinding(func(m, name ref.Val) ref.Val {
					if v, ok := lookup(m, name); ok {
						return v
					}
					return types.Double(0)
				}),
			),
		),

		cel.Function("has_metric",
			cel.Overload("has_metric_map_string",
				[]*cel.Type{metricsType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(m, name ref.Val) ref.Val {
					_, ok := lookup(m, name)
					return types.Bool(ok)
				}),
			),
		),
	)
}

func lookup(m, name ref.Val) (ref.Val, bool) {
	mapper, ok := m.(traits.Mapper)
	if !ok {
		return nil, false
	}
	return mapper.Find(name)
}
