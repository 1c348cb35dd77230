package backing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/trellis/api"
)

func TestMemory_NavigationIsPure(t *testing.T) {
	s := NewMemoryStore(seedTree())

	d := NewRoot(s, "mail").
		Prop("accounts").ByName("Work").
		Prop("mailboxes").ByIndex(0).
		Prop("messages").
		WithFilter(map[string]api.Predicate{"read": api.Eq(false)}).
		WithSort("size", true).
		WithPagination(10, 0).
		WithExpand("content")

	assert.Equal(t, 0, s.RoundTrips,
		"navigation and query accumulation must not touch the store")
	assert.Equal(t,
		"mail://accounts/Work/mailboxes[0]/messages?read=false&sort=size.desc&limit=10&expand=content",
		d.URI())

	_, err := d.Get()
	require.NoError(t, err)
	assert.Equal(t, 1, s.RoundTrips, "an eq filter pushes down in one round trip")
}

func TestMemory_StringFilterFallsBackToReplay(t *testing.T) {
	s := NewMemoryStore(seedTree())
	d := inbox(s).Prop("messages").
		WithFilter(map[string]api.Predicate{"subject": api.ContainsPred("Re:")})

	v, err := d.Get()
	require.NoError(t, err)
	assert.Equal(t, []int64{102, 103}, ids(t, v))
	// One declined push-down plus one unfiltered refetch.
	assert.Equal(t, 2, s.RoundTrips)
}

func TestMemory_FetchDeclinesStringPushDown(t *testing.T) {
	s := NewMemoryStore(seedTree())
	path := []api.Segment{
		api.Root("mail"),
		api.PropSeg("accounts"), api.NameSeg("Work"),
		api.PropSeg("mailboxes"), api.NameSeg("INBOX"),
		api.PropSeg("messages"),
	}
	qs := api.QueryState{}.WithFilter(map[string]api.Predicate{
		"subject": api.StartsWithPred("Re:"),
	})
	_, err := s.Fetch(path, qs)
	assert.ErrorIs(t, err, api.ErrPushDown)
}

func TestMemory_NumericIDMatchesStringForm(t *testing.T) {
	// Ids survive a trip through a URI as strings; the store matches them
	// against numeric stored values.
	s := NewMemoryStore(seedTree())
	v, err := inbox(s).Prop("messages").ByID("103").Get()
	require.NoError(t, err)
	assert.EqualValues(t, 4096, field(t, v, "size"))
}

func TestMemory_NameMatchIsExact(t *testing.T) {
	s := NewMemoryStore(seedTree())
	_, err := NewRoot(s, "mail").Prop("accounts").ByName("work").Get()
	assert.ErrorIs(t, err, api.ErrNotFound)
}

func TestMemory_SiblingDelegatesAreIndependent(t *testing.T) {
	s := NewMemoryStore(seedTree())
	msgs := inbox(s).Prop("messages")

	unread := msgs.WithFilter(map[string]api.Predicate{"read": api.Eq(false)})
	read := msgs.WithFilter(map[string]api.Predicate{"read": api.Eq(true)})

	u, err := unread.Get()
	require.NoError(t, err)
	r, err := read.Get()
	require.NoError(t, err)
	base, err := msgs.Get()
	require.NoError(t, err)

	assert.Equal(t, []int64{101, 103}, ids(t, u))
	assert.Equal(t, []int64{102}, ids(t, r))
	assert.Equal(t, []int64{101, 102, 103}, ids(t, base),
		"querying one delegate must not leak into its siblings")
}

func TestMemory_ParentWalksBackUp(t *testing.T) {
	s := NewMemoryStore(seedTree())
	msg := inbox(s).Prop("messages").ByID("101")

	coll, ok := msg.Parent()
	require.True(t, ok)
	assert.Equal(t, "mail://accounts/Work/mailboxes/INBOX/messages", coll.URI())

	root := api.Delegate(msg)
	for {
		p, ok := root.Parent()
		if !ok {
			break
		}
		root = p
	}
	assert.Equal(t, "mail://", root.URI())
}
