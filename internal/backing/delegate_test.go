package backing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/trellis/api"
)

// decliningStore declines every push-down and serves a fixed value, standing
// in for a third-party backing with no native query support.
type decliningStore struct {
	value any
}

func (s *decliningStore) Fetch(path []api.Segment, qs api.QueryState) (any, error) {
	if !qs.IsZero() {
		return nil, api.ErrPushDown
	}
	return s.value, nil
}

func (s *decliningStore) SetValue(path []api.Segment, value any) error { return nil }

func (s *decliningStore) Insert(path []api.Segment, props map[string]any) (api.Segment, error) {
	return api.Segment{}, api.ErrNotCollection
}

func (s *decliningStore) Remove(path []api.Segment) error { return api.ErrNoParentCollection }

func TestDelegate_ReplayOverCollection(t *testing.T) {
	s := &decliningStore{value: []any{
		map[string]any{"id": int64(2)},
		map[string]any{"id": int64(1)},
	}}
	v, err := NewRoot(s, "x").Prop("items").WithSort("id", false).Get()
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, ids(t, v))
}

func TestDelegate_ReplayOverNonCollectionErrors(t *testing.T) {
	// A store may decline push-down on anything; if the unqueried refetch is
	// not a collection the query must fail, not silently vanish.
	s := &decliningStore{value: map[string]any{"id": int64(1)}}
	_, err := NewRoot(s, "x").Prop("items").WithSort("id", false).Get()
	require.Error(t, err)
	assert.ErrorIs(t, err, api.ErrNotCollection)
}
