package grid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sh00ty/projected-grid/internal/models"
)

func rejectAll(calls *[]string, name string) Interceptor {
	return InterceptorFunc(func(*models.GridMember, *Grid) (*models.GridMember, bool) {
		*calls = append(*calls, name)
		return nil, false
	})
}

func acceptAll(calls *[]string, name string) Interceptor {
	return InterceptorFunc(func(m *models.GridMember, _ *Grid) (*models.GridMember, bool) {
		*calls = append(*calls, name)
		return m, true
	})
}

func TestInterceptorChainEmptyAccepts(t *testing.T) {
	chain := NewInterceptorChain()
	member := newMember("c1")

	admitted, ok := chain.PreAdd(member, nil)
	assert.True(t, ok)
	assert.Same(t, member, admitted)
}

func TestInterceptorChainFirstAcceptorWins(t *testing.T) {
	var calls []string
	g := New()
	require.NoError(t, g.SetInterceptors([]Interceptor{
		rejectAll(&calls, "reject"),
		acceptAll(&calls, "accept"),
		acceptAll(&calls, "never"),
	}))

	added, err := g.AddMember(newMember("c1"))
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, []string{"reject", "accept"}, calls)
}

func TestInterceptorChainAllReject(t *testing.T) {
	var calls []string
	chain := NewInterceptorChain()
	require.NoError(t, chain.Add(rejectAll(&calls, "first")))
	require.NoError(t, chain.Add(rejectAll(&calls, "second")))

	admitted, ok := chain.PreAdd(newMember("c1"), nil)
	assert.False(t, ok)
	assert.Nil(t, admitted)
	assert.Equal(t, []string{"first", "second"}, calls)
}

func TestInterceptorChainSet(t *testing.T) {
	var calls []string
	chain := NewInterceptorChain()
	require.NoError(t, chain.Add(rejectAll(&calls, "old")))

	err := chain.Set([]Interceptor{acceptAll(&calls, "new"), nil})
	assert.ErrorIs(t, err, ErrNilInterceptor)
	assert.Len(t, chain.Interceptors(), 1, "failed set keeps previous interceptors")

	require.NoError(t, chain.Set([]Interceptor{acceptAll(&calls, "new")}))
	_, ok := chain.PreAdd(newMember("c1"), nil)
	assert.True(t, ok)
	assert.Equal(t, []string{"new"}, calls)
}

func TestInterceptorReplacesMember(t *testing.T) {
	g := New()
	require.NoError(t, g.AddInterceptor(InterceptorFunc(
		func(m *models.GridMember, _ *Grid) (*models.GridMember, bool) {
			replaced := *m
			replaced.Host = "relabeled"
			return &replaced, true
		},
	)))

	added, err := g.AddMember(newMember("c1"))
	require.NoError(t, err)
	require.True(t, added)

	member, ok := g.Member("c1")
	require.True(t, ok)
	assert.Equal(t, "relabeled", member.Host)
}
