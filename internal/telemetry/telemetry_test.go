package telemetry

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScopedAPI(t *testing.T) {
	rec := NewRecorder()
	scoped := NewScopedAPI("engine", NewScopedAPI("run", rec))

	scoped.ReportBroken("engine.extract", "2166")
	scoped.ReportWarning("matcher.match")
	scoped.ReportCount("properties", 3)

	broken := rec.Reports("broken")
	require.Len(t, broken, 1)
	require.Equal(t, "run: engine: engine.extract", broken[0].Id)
	require.Equal(t, []any{"2166"}, broken[0].Params)

	require.True(t, rec.Has("warning", "matcher.match"))
	require.False(t, rec.Has("broken", "matcher.match"))

	counts := rec.Reports("count")
	require.Len(t, counts, 1)
	require.EqualValues(t, 3, counts[0].Count)
	require.Len(t, rec.Reports(""), 3)
}

func TestSlogFormatParams(t *testing.T) {
	var out []any
	SlogAPI{}.formatParams(&out, []any{"a", KV{Key: "property_id", Value: "2166"}, 3})
	require.Equal(t, []any{"params.0", "a", "property_id", "2166", "params.2", 3}, out)
}
