package core

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func conflictsFor(keys ...string) []ConflictItem {
	out := make([]ConflictItem, 0, len(keys))
	for _, k := range keys {
		out = append(out, ConflictItem{
			Key:      k,
			Existing: newNote(k, "old", "draft"),
			Incoming: newNote(k, "new", "draft"),
		})
	}
	return out
}

func TestParseResolution(t *testing.T) {
	tests := []struct {
		in      string
		want    Resolution
		wantErr bool
	}{
		{"keep", ResolutionKeep, false},
		{"Replace", ResolutionReplace, false},
		{" MERGE ", ResolutionMerge, false},
		{"overwrite", ResolutionKeep, true},
		{"", ResolutionKeep, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseResolution(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidResolution)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolution_JSON(t *testing.T) {
	b, err := json.Marshal(map[string]Resolution{"r": ResolutionMerge})
	require.NoError(t, err)
	assert.JSONEq(t, `{"r":"merge"}`, string(b))

	var body struct {
		Resolution Resolution `json:"resolution"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"resolution":"replace"}`), &body))
	assert.Equal(t, ResolutionReplace, body.Resolution)

	assert.Error(t, json.Unmarshal([]byte(`{"resolution":"discard"}`), &body))

	_, err = json.Marshal(Resolution(9))
	assert.Error(t, err)
}

func TestResolution_Writes(t *testing.T) {
	assert.False(t, ResolutionKeep.Writes())
	assert.True(t, ResolutionReplace.Writes())
	assert.True(t, ResolutionMerge.Writes())
	assert.Equal(t, "Resolution(7)", Resolution(7).String())
}

func TestSetResolution(t *testing.T) {
	t.Run("single key", func(t *testing.T) {
		conflicts := conflictsFor("a", "b")

		n, err := SetResolution(conflicts, "b", ResolutionReplace)

		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, ResolutionKeep, conflicts[0].Resolution)
		assert.Equal(t, ResolutionReplace, conflicts[1].Resolution)
	})

	t.Run("bulk overrides individual choices", func(t *testing.T) {
		conflicts := conflictsFor("a", "b", "c")
		_, _ = SetResolution(conflicts, "a", ResolutionReplace)

		n, err := SetResolution(conflicts, AllKeys, ResolutionMerge)

		require.NoError(t, err)
		assert.Equal(t, 3, n)
		for _, c := range conflicts {
			assert.Equal(t, ResolutionMerge, c.Resolution)
		}
	})

	t.Run("unknown key", func(t *testing.T) {
		conflicts := conflictsFor("a")

		_, err := SetResolution(conflicts, "zzz", ResolutionReplace)

		assert.ErrorIs(t, err, ErrConflictNotFound)
		assert.Equal(t, ResolutionKeep, conflicts[0].Resolution)
	})

	t.Run("invalid action", func(t *testing.T) {
		_, err := SetResolution(conflictsFor("a"), "a", Resolution(-1))
		assert.ErrorIs(t, err, ErrInvalidResolution)
	})
}

func TestApplyResolution(t *testing.T) {
	schema := noteSchema()
	existing := newNote("Alpha", "stored body", "published", "kept-tag")
	incoming := newNote("ALPHA", "incoming body", "draft", "new-tag")

	c := ConflictItem{Key: "alpha", Existing: existing, Incoming: incoming}

	t.Run("keep returns existing", func(t *testing.T) {
		c.Resolution = ResolutionKeep
		rec, err := ApplyResolution(schema, c)
		require.NoError(t, err)
		assert.Equal(t, existing, rec)
	})

	t.Run("replace returns incoming", func(t *testing.T) {
		c.Resolution = ResolutionReplace
		rec, err := ApplyResolution(schema, c)
		require.NoError(t, err)
		assert.Equal(t, incoming, rec)
	})

	t.Run("merge applies field policies", func(t *testing.T) {
		c.Resolution = ResolutionMerge
		rec, err := ApplyResolution(schema, c)
		require.NoError(t, err)

		merged := rec.(note)
		assert.Equal(t, "ALPHA", merged.Title, "key field always comes from incoming")
		assert.Equal(t, "stored body", merged.Body)
		assert.Equal(t, "draft", merged.Status, "unlisted fields take incoming")
		assert.Equal(t, []string{"kept-tag"}, merged.Tags)
	})

	t.Run("merge falls back to incoming for blank existing", func(t *testing.T) {
		blank := ConflictItem{
			Key:        "alpha",
			Existing:   newNote("Alpha", "  ", "draft"),
			Incoming:   incoming,
			Resolution: ResolutionMerge,
		}
		rec, err := ApplyResolution(schema, blank)
		require.NoError(t, err)

		merged := rec.(note)
		assert.Equal(t, "incoming body", merged.Body)
		assert.Equal(t, []string{"new-tag"}, merged.Tags)
	})

	t.Run("merge is deterministic", func(t *testing.T) {
		c.Resolution = ResolutionMerge
		first, err := ApplyResolution(schema, c)
		require.NoError(t, err)
		second, err := ApplyResolution(schema, c)
		require.NoError(t, err)
		assert.Equal(t, first, second)
		assert.Equal(t, existing, c.Existing, "inputs are not modified")
	})

	t.Run("invalid resolution", func(t *testing.T) {
		c.Resolution = Resolution(42)
		_, err := ApplyResolution(schema, c)
		assert.ErrorIs(t, err, ErrInvalidResolution)
	})
}

func TestMergeFields_ListsAreCopied(t *testing.T) {
	schema := noteSchema()
	existing := Fields{ListField("tags", []string{"a"})}
	incoming := Fields{TextField("title", "x"), ListField("tags", []string{"b"})}

	merged := MergeFields(schema, existing, incoming)
	merged[1].List[0] = "changed"

	assert.Equal(t, []string{"a"}, existing[0].List)
}

func TestChangedFields(t *testing.T) {
	a := newNote("Alpha", "one", "draft", "x").Fields()
	b := newNote("Alpha", "two", "draft", "x", "y").Fields()

	assert.Equal(t, []string{"body", "tags"}, ChangedFields(a, b))
	assert.Empty(t, ChangedFields(a, a))
}
