package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/trellis/internal/resolve"
)

func testRegistry(t *testing.T) *resolve.Registry {
	t.Helper()
	old := manifestPath
	manifestPath = "testdata/trellis.hcl"
	t.Cleanup(func() { manifestPath = old })

	reg, err := loadRegistry()
	require.NoError(t, err)
	return reg
}

func TestLoadRegistry_FromManifestFlag(t *testing.T) {
	reg := testRegistry(t)
	assert.Equal(t, []string{"mail"}, reg.Schemes())

	s, err := reg.SpecifierFromURI("mail://accounts/Work/mailboxes/INBOX/messages/101/subject")
	require.NoError(t, err)
	v, err := s.Resolve()
	require.NoError(t, err)
	assert.Equal(t, "Status report", v)
}

func TestFlatten_ReplacesSpecifiersWithURIs(t *testing.T) {
	reg := testRegistry(t)
	s, err := reg.SpecifierFromURI("mail://accounts/Work/mailboxes/INBOX/messages/101")
	require.NoError(t, err)
	v, err := s.Resolve()
	require.NoError(t, err)

	flat, ok := flatten(v).(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Status report", flat["subject"])
	assert.Equal(t, "mail://accounts/Work/mailboxes/INBOX/messages/101/content", flat["content"],
		"lazy fields print as their URIs")
}
