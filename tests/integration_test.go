package tests

import (
	"fmt"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/trellis/internal/manifest"
	"github.com/agentic-research/trellis/internal/resolve"
)

// The integration manifest declares the same schema twice, once per backing
// store, so every assertion can run against both and prove they are
// interchangeable behind the resolver.
const integrationManifest = `
type "message" {
  scalar "id" {
    type = "int"
  }
  scalar "subject" {
    type = "string"
  }
  scalar "read" {
    type     = "bool"
    settable = true
  }
  scalar "size" {
    type = "int"
  }
  scalar "content" {
    type = "string"
    lazy = true
  }
}

type "mailbox" {
  scalar "id" {
    type = "string"
  }
  scalar "name" {
    type = "string"
  }
  collection "messages" {
    of = "message"
    by = ["index", "id"]
  }
}

type "account" {
  scalar "name" {
    type = "string"
  }
  collection "mailboxes" {
    of = "mailbox"
    by = ["name", "id"]
  }
}

type "root" {
  collection "accounts" {
    of = "account"
    by = ["index", "name"]
  }
}

scheme "mem" {
  store = "memory"
  root  = "root"
  seed  = "seed.json"
}

scheme "sql" {
  store = "sqlite"
  root  = "root"
  seed  = "seed.json"
}
`

const integrationSeed = `{
  "accounts": [
    {
      "name": "Work",
      "mailboxes": [
        {
          "id": "mb-1",
          "name": "INBOX",
          "messages": [
            {"id": 101, "subject": "Status report", "read": false, "size": 2048, "content": "quarterly numbers"},
            {"id": 102, "subject": "Re: lunch", "read": true, "size": 512, "content": "noon works"},
            {"id": 103, "subject": "Re: numbers", "read": false, "size": 4096, "content": "see inline"}
          ]
        },
        {"id": "mb-2", "name": "Archive", "messages": []}
      ]
    },
    {"name": "Personal", "mailboxes": []}
  ]
}`

func newRegistry(t *testing.T) *resolve.Registry {
	t.Helper()
	fsys := memfs.New()
	require.NoError(t, util.WriteFile(fsys, "/cfg/trellis.hcl", []byte(integrationManifest), 0o644))
	require.NoError(t, util.WriteFile(fsys, "/cfg/seed.json", []byte(integrationSeed), 0o644))

	reg := resolve.NewRegistry()
	require.NoError(t, manifest.Load(fsys, "/cfg/trellis.hcl", reg))
	require.Equal(t, []string{"mem", "sql"}, reg.Schemes())
	return reg
}

// eachScheme runs one scenario against both backings.
func eachScheme(t *testing.T, reg *resolve.Registry, fn func(t *testing.T, scheme string)) {
	for _, scheme := range []string{"mem", "sql"} {
		t.Run(scheme, func(t *testing.T) { fn(t, scheme) })
	}
}

func resolveURI(t *testing.T, reg *resolve.Registry, uri string) any {
	t.Helper()
	s, err := reg.SpecifierFromURI(uri)
	require.NoError(t, err, uri)
	v, err := s.Resolve()
	require.NoError(t, err, uri)
	return v
}

func msgIDs(t *testing.T, v any) []int64 {
	t.Helper()
	elems, ok := v.([]any)
	require.True(t, ok, "expected a collection, got %T", v)
	out := make([]int64, len(elems))
	for i, e := range elems {
		id, ok := e.(map[string]any)["id"].(int64)
		require.True(t, ok)
		out[i] = id
	}
	return out
}

func TestIntegration_ScalarLookup(t *testing.T) {
	reg := newRegistry(t)
	eachScheme(t, reg, func(t *testing.T, scheme string) {
		v := resolveURI(t, reg, scheme+"://accounts/Work/mailboxes/INBOX/messages/101/subject")
		assert.Equal(t, "Status report", v)
	})
}

func TestIntegration_QueryAlgebra(t *testing.T) {
	reg := newRegistry(t)
	eachScheme(t, reg, func(t *testing.T, scheme string) {
		base := scheme + "://accounts/Work/mailboxes/INBOX/messages"

		v := resolveURI(t, reg, base+"?read=false&sort=size.desc")
		assert.Equal(t, []int64{103, 101}, msgIDs(t, v))

		v = resolveURI(t, reg, base+"?subject.startsWith=Re%3A&sort=id.asc&limit=1&offset=1")
		assert.Equal(t, []int64{103}, msgIDs(t, v))

		v = resolveURI(t, reg, base+"?size.gt=600")
		assert.Equal(t, []int64{101, 103}, msgIDs(t, v))

		v = resolveURI(t, reg, base+"?size.lt=3000&sort=size.asc")
		assert.Equal(t, []int64{102, 101}, msgIDs(t, v))

		v = resolveURI(t, reg, base+"?limit=2&offset=5")
		assert.Empty(t, v)

		// One predicate per field: a second pair on the same field is a
		// parse error, not a silent overwrite.
		_, err := reg.SpecifierFromURI(base + "?size.gt=600&size.lt=3000")
		require.ErrorContains(t, err, "duplicate filter")
	})
}

func TestIntegration_LazyAndExpand(t *testing.T) {
	reg := newRegistry(t)
	eachScheme(t, reg, func(t *testing.T, scheme string) {
		base := scheme + "://accounts/Work/mailboxes/INBOX/messages/102"

		elem := resolveURI(t, reg, base).(map[string]any)
		lazy, ok := elem["content"].(*resolve.Specifier)
		require.True(t, ok, "content should stay a specifier, got %T", elem["content"])
		assert.Equal(t, base+"/content", lazy.URI())

		body, err := lazy.Resolve()
		require.NoError(t, err)
		assert.Equal(t, "noon works", body)

		expanded := resolveURI(t, reg, base+"?expand=content").(map[string]any)
		assert.Equal(t, "noon works", expanded["content"])
	})
}

func TestIntegration_MutationRoundTrip(t *testing.T) {
	reg := newRegistry(t)
	eachScheme(t, reg, func(t *testing.T, scheme string) {
		// Set, then observe through a fresh resolution.
		readURI := scheme + "://accounts/Work/mailboxes/INBOX/messages/101/read"
		s, err := reg.SpecifierFromURI(readURI)
		require.NoError(t, err)
		require.NoError(t, s.Set(true))
		assert.Equal(t, true, resolveURI(t, reg, readURI))

		// Create, resolve the returned URI, move it, delete it.
		coll, err := reg.SpecifierFromURI(scheme + "://accounts/Work/mailboxes/Archive/messages")
		require.NoError(t, err)
		uri, err := coll.Create(map[string]any{"id": int64(200), "subject": "new", "read": false, "size": int64(1)})
		require.NoError(t, err)
		assert.Equal(t, scheme+"://accounts/Work/mailboxes/Archive/messages/200", uri)

		created, err := reg.SpecifierFromURI(uri)
		require.NoError(t, err)
		dst, err := reg.SpecifierFromURI(scheme + "://accounts/Work/mailboxes/INBOX/messages")
		require.NoError(t, err)
		moved, err := created.MoveTo(dst)
		require.NoError(t, err)
		assert.Equal(t, scheme+"://accounts/Work/mailboxes/INBOX/messages/200", moved)

		movedSpec, err := reg.SpecifierFromURI(moved)
		require.NoError(t, err)
		assert.True(t, movedSpec.Exists())
		_, err = movedSpec.Delete()
		require.NoError(t, err)
		assert.False(t, movedSpec.Exists())
	})
}

func TestIntegration_RouteErrorsEnumerate(t *testing.T) {
	reg := newRegistry(t)
	eachScheme(t, reg, func(t *testing.T, scheme string) {
		_, err := reg.SpecifierFromURI(scheme + "://accounts/Work/drafts")
		var re *resolve.RouteError
		require.ErrorAs(t, err, &re)
		assert.Equal(t, []string{"name", "mailboxes"}, re.Options)

		_, err = reg.SpecifierFromURI(scheme + "://accounts/Work/mailboxes[0]")
		require.ErrorAs(t, err, &re)
		assert.Equal(t, []string{"name", "id"}, re.Options)
	})
}

func TestIntegration_StoresAgreeOnEveryQuery(t *testing.T) {
	reg := newRegistry(t)
	queries := []string{
		"?read=false",
		"?subject.contains=Re",
		"?subject.startsWith=Status",
		"?size.gt=500&sort=size.asc",
		"?sort=subject.desc&limit=2",
		"?read=true&subject.contains=lunch",
	}
	for _, q := range queries {
		t.Run(q, func(t *testing.T) {
			path := "://accounts/Work/mailboxes/INBOX/messages" + q
			mem := msgIDs(t, resolveURI(t, reg, "mem"+path))
			sql := msgIDs(t, resolveURI(t, reg, "sql"+path))
			assert.Equal(t, mem, sql, fmt.Sprintf("backings disagree on %s", q))
		})
	}
}
