package ecsdb

import (
	"fmt"
	"testing"

	"github.com/argus-labs/ecsdb/assert"
	. "github.com/argus-labs/ecsdb/pkg/ecsdb/internal/testutils"
	testify "github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearch_Validation(t *testing.T) {
	t.Parallel()

	w := newTestWorld(t)
	tests := []struct {
		name    string
		params  SearchParam
		wantErr error
	}{
		{
			name:    "empty component list",
			params:  SearchParam{Find: []string{}, Match: MatchExact},
			wantErr: ErrInvalidSearch,
		},
		{
			name:    "invalid match type",
			params:  SearchParam{Find: []string{"Position"}, Match: "invalid"},
			wantErr: ErrInvalidSearch,
		},
		{
			name:    "negative limit",
			params:  SearchParam{Find: []string{"Position"}, Match: MatchExact, Limit: -1},
			wantErr: ErrInvalidSearch,
		},
		{
			name:    "malformed where clause",
			params:  SearchParam{Find: []string{"Position"}, Match: MatchExact, Where: "Position.X >"},
			wantErr: ErrInvalidSearch,
		},
		{
			name:    "unregistered component",
			params:  SearchParam{Find: []string{"UnregisteredComponent"}, Match: MatchExact},
			wantErr: ErrUnknownComponent,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := w.Search(tt.params)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestSearch(t *testing.T) {
	t.Parallel()

	w := newTestWorld(t)
	weak := w.Spawn(Of1(Health{Value: 10}))
	strong := w.Spawn(Of1(Health{Value: 200}))
	moving := w.Spawn(Of2(Health{Value: 300}, Position{X: 1, Y: 2}))

	tests := []struct {
		name   string
		params SearchParam
		want   []Entity
	}{
		{
			name:   "exact",
			params: SearchParam{Find: []string{"Health"}, Match: MatchExact},
			want:   []Entity{weak, strong},
		},
		{
			name:   "contains",
			params: SearchParam{Find: []string{"Health"}, Match: MatchContains},
			want:   []Entity{weak, strong, moving},
		},
		{
			name:   "exact pair",
			params: SearchParam{Find: []string{"Position", "Health"}, Match: MatchExact},
			want:   []Entity{moving},
		},
		{
			name:   "where clause",
			params: SearchParam{Find: []string{"Health"}, Match: MatchContains, Where: "Health.Value > 100"},
			want:   []Entity{strong, moving},
		},
		{
			name:   "where on id",
			params: SearchParam{Find: []string{"Health"}, Match: MatchContains, Where: fmt.Sprintf("_id == %d", weak.Index())},
			want:   []Entity{weak},
		},
		{
			name:   "limit",
			params: SearchParam{Find: []string{"Health"}, Match: MatchExact, Limit: 1},
			want:   []Entity{weak},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			results, err := w.Search(tt.params)
			require.NoError(t, err)

			got := make([]Entity, 0, len(results))
			for _, r := range results {
				got = append(got, Entity{index: r["_id"].(uint32), gen: r["_gen"].(uint32)})
			}
			testify.ElementsMatch(t, tt.want, got)
		})
	}
}

func TestSearch_ResultHoldsComponentValues(t *testing.T) {
	t.Parallel()

	w := newTestWorld(t)
	w.Spawn(Of2(Health{Value: 5}, Position{X: 6, Y: 7}))

	results, err := w.Search(SearchParam{Find: []string{"Position"}, Match: MatchContains})
	assert.NilError(t, err)
	require.Len(t, results, 1)
	testify.Equal(t, Health{Value: 5}, results[0]["Health"])
	testify.Equal(t, Position{X: 6, Y: 7}, results[0]["Position"])
}

func TestSearch_NonBoolWhere(t *testing.T) {
	t.Parallel()

	w := newTestWorld(t)
	w.Spawn(Of1(Health{Value: 5}))

	// The field type is only known per entity, so this compiles and fails at run time.
	_, err := w.Search(SearchParam{Find: []string{"Health"}, Match: MatchExact, Where: "Health.Value"})
	require.Error(t, err)
}

func TestSearch_MalformedWhere(t *testing.T) {
	t.Parallel()

	w := newTestWorld(t)
	_, err := w.Search(SearchParam{Find: []string{"Health"}, Match: MatchExact, Where: "Health.Value >"})
	assert.ErrorIs(t, err, ErrInvalidSearch)
	assert.ErrorContains(t, err, "failed to parse where clause")
}
