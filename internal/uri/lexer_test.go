package uri

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLex_PathTokens(t *testing.T) {
	lx, err := Lex("mail://accounts/Work/mailboxes[2]/messages")
	require.NoError(t, err)

	assert.Equal(t, "mail", lx.Scheme)
	require.Len(t, lx.Tokens, 4)
	assert.Equal(t, "accounts", lx.Tokens[0].Head)
	assert.False(t, lx.Tokens[0].HasIndex)
	assert.Equal(t, "Work", lx.Tokens[1].Head)
	assert.Equal(t, "mailboxes", lx.Tokens[2].Head)
	assert.True(t, lx.Tokens[2].HasIndex)
	assert.Equal(t, 2, lx.Tokens[2].Index)
	assert.Empty(t, lx.Query)
}

func TestLex_RootOnly(t *testing.T) {
	lx, err := Lex("mail://")
	require.NoError(t, err)
	assert.Empty(t, lx.Tokens)
}

func TestLex_PercentDecoding(t *testing.T) {
	lx, err := Lex("mail://accounts/Work%20Account")
	require.NoError(t, err)
	require.Len(t, lx.Tokens, 2)
	assert.Equal(t, "Work Account", lx.Tokens[1].Head)
}

func TestLex_QueryPairs(t *testing.T) {
	lx, err := Lex("mail://messages?read=false&subject.contains=report&sort=date.desc&limit=10&offset=5&expand=content")
	require.NoError(t, err)
	require.Len(t, lx.Query, 6)

	assert.Equal(t, "read", lx.Query[0].Field)
	assert.Empty(t, lx.Query[0].OpSuffix, "a bare key implies equality")
	assert.Equal(t, "false", lx.Query[0].Value)

	assert.Equal(t, "subject", lx.Query[1].Field)
	assert.Equal(t, "contains", lx.Query[1].OpSuffix)
	assert.Equal(t, "report", lx.Query[1].Value)

	// Reserved keys pass through whole, even when they contain a dot.
	assert.Equal(t, "sort", lx.Query[2].Field)
	assert.Empty(t, lx.Query[2].OpSuffix)
	assert.Equal(t, "date.desc", lx.Query[2].Value)
	assert.Equal(t, "expand", lx.Query[5].Field)
}

func TestLex_DottedFieldKeepsLastSuffix(t *testing.T) {
	// Only the last dot can carry an operator; "a.b" with a known suffix
	// filters the dotted field name.
	lx, err := Lex("mail://messages?headers.from.contains=alice")
	require.NoError(t, err)
	require.Len(t, lx.Query, 1)
	assert.Equal(t, "headers.from", lx.Query[0].Field)
	assert.Equal(t, "contains", lx.Query[0].OpSuffix)
}

func TestLex_Errors(t *testing.T) {
	cases := []struct {
		name string
		in   string
	}{
		{"no scheme separator", "accounts/Work"},
		{"empty scheme", "://accounts"},
		{"bad scheme char", "ma il://accounts"},
		{"empty segment", "mail://accounts//messages"},
		{"unterminated index", "mail://accounts[2"},
		{"negative index", "mail://accounts[-1]"},
		{"index without head", "mail://[0]"},
		{"bad percent-encoding", "mail://accounts/%zz"},
		{"unknown operator suffix", "mail://messages?date.between=x"},
		{"query pair without value", "mail://messages?read"},
		{"empty query pair", "mail://messages?read=false&"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := Lex(c.in)
			require.Error(t, err)
			var pe *ParseError
			require.ErrorAs(t, err, &pe)
			assert.GreaterOrEqual(t, pe.Pos, 0)
		})
	}
}

func TestLex_ErrorPosition(t *testing.T) {
	_, err := Lex("mail://accounts/[3]")
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	// Position points at the offending component, not the start of the URI.
	assert.Equal(t, 16, pe.Pos)
}

func TestLexed_StringRoundTrip(t *testing.T) {
	for _, uri := range []string{
		"mail://",
		"mail://accounts",
		"mail://accounts[0]/mailboxes/INBOX/messages[12]",
		"mail://accounts/Work%20Account/mailboxes",
	} {
		lx, err := Lex(uri)
		require.NoError(t, err, uri)
		assert.Equal(t, uri, lx.String(), "lex then rebuild must be the identity")
	}
}
