package manifest

import (
	"testing"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/trellis/internal/resolve"
)

const mailManifest = `
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
  collection "mailboxes" {
    of = "mailbox"
    by = ["name"]
  }
}

type "account" {
  scalar "name" {
    type = "string"
  }
  computed "label" {
    concat = ["name", "id"]
    sep    = "#"
  }
  scalar "id" {
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

scheme "mail" {
  store = "memory"
  root  = "root"
  seed  = "seed.json"
}
`

const mailSeed = `{
  "accounts": [
    {
      "name": "Work",
      "id": "a1",
      "mailboxes": [
        {
          "id": "mb-1",
          "name": "INBOX",
          "messages": [
            {"id": 101, "subject": "Status report", "read": false, "content": "body"}
          ],
          "mailboxes": [
            {"id": "mb-3", "name": "Flagged", "messages": [], "mailboxes": []}
          ]
        }
      ]
    }
  ]
}`

func writeFiles(t *testing.T, files map[string]string) billy.Filesystem {
	t.Helper()
	fsys := memfs.New()
	for name, content := range files {
		require.NoError(t, util.WriteFile(fsys, name, []byte(content), 0o644))
	}
	return fsys
}

func loadManifest(t *testing.T, files map[string]string) *resolve.Registry {
	t.Helper()
	fsys := writeFiles(t, files)
	reg := resolve.NewRegistry()
	require.NoError(t, Load(fsys, "/cfg/trellis.hcl", reg))
	return reg
}

func TestLoad_DeclaredSchemeResolves(t *testing.T) {
	reg := loadManifest(t, map[string]string{
		"/cfg/trellis.hcl": mailManifest,
		"/cfg/seed.json":   mailSeed,
	})
	assert.Equal(t, []string{"mail"}, reg.Schemes())

	s, err := reg.SpecifierFromURI("mail://accounts/Work/mailboxes/INBOX/messages/101/subject")
	require.NoError(t, err)
	v, err := s.Resolve()
	require.NoError(t, err)
	assert.Equal(t, "Status report", v)
}

func TestLoad_RecursiveTypeReference(t *testing.T) {
	// mailbox declares a collection of mailbox: the named reference is the
	// deferred binding and the nested level must route and resolve.
	reg := loadManifest(t, map[string]string{
		"/cfg/trellis.hcl": mailManifest,
		"/cfg/seed.json":   mailSeed,
	})
	s, err := reg.SpecifierFromURI("mail://accounts/Work/mailboxes/INBOX/mailboxes/Flagged/name")
	require.NoError(t, err)
	v, err := s.Resolve()
	require.NoError(t, err)
	assert.Equal(t, "Flagged", v)
}

func TestLoad_ComputedConcat(t *testing.T) {
	reg := loadManifest(t, map[string]string{
		"/cfg/trellis.hcl": mailManifest,
		"/cfg/seed.json":   mailSeed,
	})
	s, err := reg.SpecifierFromURI("mail://accounts/Work/label")
	require.NoError(t, err)
	v, err := s.Resolve()
	require.NoError(t, err)
	assert.Equal(t, "Work#a1", v)
}

func TestLoad_InlineData(t *testing.T) {
	reg := loadManifest(t, map[string]string{
		"/cfg/trellis.hcl": `
type "tag" {
  scalar "id" {
    type = "string"
  }
  scalar "name" {
    type = "string"
  }
}

type "tagroot" {
  collection "tags" {
    of = "tag"
    by = ["name"]
  }
}

scheme "tags" {
  store = "memory"
  root  = "tagroot"
  data = {
    tags = [
      { id = "t1", name = "urgent" },
      { id = "t2", name = "later" },
    ]
  }
}
`,
	})
	s, err := reg.SpecifierFromURI("tags://tags/urgent/id")
	require.NoError(t, err)
	v, err := s.Resolve()
	require.NoError(t, err)
	assert.Equal(t, "t1", v)
}

func TestLoad_SQLiteScheme(t *testing.T) {
	manifest := `
type "note" {
  scalar "id" {
    type = "string"
  }
  scalar "title" {
    type = "string"
  }
}

type "noteroot" {
  collection "notes" {
    of = "note"
    by = ["id"]
  }
}

scheme "notes" {
  store = "sqlite"
  root  = "noteroot"
  seed  = "notes.json"
}
`
	reg := loadManifest(t, map[string]string{
		"/cfg/trellis.hcl": manifest,
		"/cfg/notes.json":  `{"notes": [{"id": "n1", "title": "hello"}]}`,
	})
	s, err := reg.SpecifierFromURI("notes://notes/n1/title")
	require.NoError(t, err)
	v, err := s.Resolve()
	require.NoError(t, err)
	assert.Equal(t, "hello", v)
}

func TestLoad_CollectionOptions(t *testing.T) {
	reg := loadManifest(t, map[string]string{
		"/cfg/trellis.hcl": `
type "release" {
  scalar "id" {
    type = "string"
  }
  scalar "name" {
    type = "string"
  }
}

type "relroot" {
  collection "releases" {
    of            = "release"
    by            = ["name", "id"]
    numeric_names = true
    no_create     = true
  }
}

scheme "rel" {
  store = "memory"
  root  = "relroot"
  data = {
    releases = [
      { id = "r1", name = "2024" },
    ]
  }
}
`,
	})

	// numeric_names: a bare numeric segment routes by name.
	s, err := reg.SpecifierFromURI("rel://releases/2024/id")
	require.NoError(t, err)
	v, err := s.Resolve()
	require.NoError(t, err)
	assert.Equal(t, "r1", v)

	coll, err := reg.SpecifierFromURI("rel://releases")
	require.NoError(t, err)
	_, err = coll.Create(map[string]any{"name": "2025"})
	assert.ErrorContains(t, err, "does not support create")
}

func TestLoad_Errors(t *testing.T) {
	cases := []struct {
		name     string
		manifest string
		wantErr  string
	}{
		{
			"unknown root type",
			`scheme "x" {
  store = "memory"
  root  = "nope"
}`,
			"unknown root type",
		},
		{
			"unknown item type",
			`type "r" {
  collection "items" {
    of = "ghost"
    by = ["name"]
  }
}
scheme "x" {
  store = "memory"
  root  = "r"
}`,
			"unknown item type",
		},
		{
			"unknown store kind",
			`type "r" {
  scalar "name" {
    type = "string"
  }
}
scheme "x" {
  store = "redis"
  root  = "r"
}`,
			"unknown store kind",
		},
		{
			"unknown addressing mode",
			`type "e" {
  scalar "name" {
    type = "string"
  }
}
type "r" {
  collection "items" {
    of = "e"
    by = ["guid"]
  }
}
scheme "x" {
  store = "memory"
  root  = "r"
}`,
			"unknown addressing mode",
		},
		{
			"duplicate type",
			`type "r" {
  scalar "name" {
    type = "string"
  }
}
type "r" {
  scalar "name" {
    type = "string"
  }
}`,
			"declared twice",
		},
		{
			"unknown scalar type",
			`type "r" {
  scalar "when" {
    type = "timestamp"
  }
}`,
			"unknown scalar type",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			fsys := writeFiles(t, map[string]string{"/cfg/trellis.hcl": c.manifest})
			err := Load(fsys, "/cfg/trellis.hcl", resolve.NewRegistry())
			assert.ErrorContains(t, err, c.wantErr)
		})
	}
}

func TestLoad_MissingSeedFile(t *testing.T) {
	fsys := writeFiles(t, map[string]string{
		"/cfg/trellis.hcl": `
type "r" {
  scalar "name" {
    type = "string"
  }
}
scheme "x" {
  store = "memory"
  root  = "r"
  seed  = "ghost.json"
}`,
	})
	err := Load(fsys, "/cfg/trellis.hcl", resolve.NewRegistry())
	assert.ErrorContains(t, err, "read seed")
}
