package registry

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/tcexec/internal/model"
)

func newCase(id, ext int, name string, order int) *model.TestCase {
	return model.NewTestCase(model.CaseInfo{
		InternalID: id,
		ExternalID: ext,
		Prefix:     "TC",
		Name:       name,
		ExecOrder:  order,
	})
}

func TestRegistry_PutSameInternalIDReplaces(t *testing.T) {
	r := New()
	first := newCase(42, 1, "first", 10)
	second := newCase(42, 2, "second", 10)

	r.Put(first)
	r.Put(second)

	require.Equal(t, 1, r.Size())
	got, ok := r.GetByID(42)
	require.True(t, ok)
	assert.Same(t, second, got)
}

func TestRegistry_PutMatchesByVisibleIDThenName(t *testing.T) {
	r := New()
	r.Put(model.NewTestCase(model.CaseInfo{ExternalID: 5, Prefix: "TC", Name: "a"}))
	r.Put(model.NewTestCase(model.CaseInfo{ExternalID: 5, Prefix: "TC", Name: "renamed"}))
	assert.Equal(t, 1, r.Size())

	r.Put(model.NewTestCase(model.CaseInfo{Name: "plain"}))
	r.Put(model.NewTestCase(model.CaseInfo{Name: "plain", Summary: "v2"}))
	assert.Equal(t, 2, r.Size())

	got, ok := r.Get("plain")
	require.True(t, ok)
	assert.Equal(t, "v2", got.Info().Summary)
}

func TestRegistry_Ordering(t *testing.T) {
	r := New()
	cases := []*model.TestCase{
		newCase(1, 3, "c", 100),
		newCase(2, 1, "a", 200),
		newCase(3, 2, "b", 100),
		newCase(4, 10, "d", 50),
		model.NewTestCase(model.CaseInfo{InternalID: 5, Name: "zeta", ExecOrder: 100}),
		model.NewTestCase(model.CaseInfo{InternalID: 6, Name: "alpha", ExecOrder: 100}),
	}
	rng := rand.New(rand.NewSource(1))
	rng.Shuffle(len(cases), func(i, j int) { cases[i], cases[j] = cases[j], cases[i] })
	for _, c := range cases {
		r.Put(c)
	}

	all := r.Slice()
	require.Len(t, all, 6)
	for i := 1; i < len(all); i++ {
		assert.LessOrEqual(t, all[i-1].ExecOrder(), all[i].ExecOrder())
	}
	assert.Equal(t, 4, all[0].InternalID())
	assert.Equal(t, 2, all[len(all)-1].InternalID())

	var visible []string
	for _, c := range all {
		if c.ExecOrder() == 100 && c.VisibleID() != "" {
			visible = append(visible, c.VisibleID())
		}
	}
	assert.Equal(t, []string{"TC-2", "TC-3"}, visible)
}

func TestRegistry_LessFallsBackToName(t *testing.T) {
	a := model.NewTestCase(model.CaseInfo{Name: "alpha", ExecOrder: 1})
	b := newCase(9, 9, "beta", 1)
	assert.True(t, Less(a, b))
	assert.False(t, Less(b, a))
}

func TestRegistry_LookupAndRemove(t *testing.T) {
	r := New()
	tc := newCase(7, 70, "login", 1)
	r.Put(tc)
	r.Put(newCase(8, 80, "logout", 2))

	assert.True(t, r.Contains(tc))
	assert.True(t, r.ContainsID(7))
	assert.True(t, r.ContainsKey("TC-70"))
	assert.True(t, r.ContainsKey("logout"))
	assert.False(t, r.ContainsKey(""))
	assert.False(t, r.ContainsID(0))
	assert.Equal(t, 0, r.Find(tc))

	at, ok := r.At(1)
	require.True(t, ok)
	assert.Equal(t, "logout", at.Name())
	_, ok = r.At(5)
	assert.False(t, ok)

	assert.True(t, r.Remove(newCase(7, 0, "", 0)))
	assert.False(t, r.ContainsID(7))
	assert.False(t, r.Remove(tc))
	assert.Equal(t, 1, r.Size())

	r.Clear()
	assert.True(t, r.IsEmpty())
	_, ok = r.Get("logout")
	assert.False(t, ok)
}
