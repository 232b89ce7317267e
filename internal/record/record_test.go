package record

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptional(t *testing.T) {
	t.Parallel()

	assert.Nil(t, Optional(""))
	assert.Nil(t, Optional("   \n"))
	got := Optional("  Las Vegas ")
	require.NotNil(t, got)
	assert.Equal(t, "Las Vegas", *got)
}

func TestValidateRequiresIdentityLink(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		rec  Record
		ok   bool
	}{
		{name: "organization", rec: Organization{Link: "https://example.com/o/1"}, ok: true},
		{name: "organization without link", rec: Organization{Name: Optional("UFC")}},
		{name: "event", rec: Event{EventLink: "https://example.com/e/1"}, ok: true},
		{name: "event with only org link", rec: Event{OrgLink: "https://example.com/o/1"}},
		{name: "stub", rec: ParticipantStub{Link: "https://example.com/f/1"}, ok: true},
		{name: "blank stub", rec: ParticipantStub{Link: "  "}},
		{name: "profile", rec: ParticipantProfile{Link: "https://example.com/p/1"}, ok: true},
		{name: "profile without link", rec: ParticipantProfile{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.rec.Validate()
			if tt.ok {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformed))
		})
	}
}

func TestFieldsRenderMissingAsNil(t *testing.T) {
	t.Parallel()

	fields := ParticipantStub{Link: "https://example.com/f/1", Height: Optional("5'11\"")}.Fields()
	assert.Equal(t, "https://example.com/f/1", fields["link"])
	assert.Equal(t, "5'11\"", fields["height"])
	assert.Nil(t, fields["weightclass"])
	assert.Contains(t, fields, "nationality")
}

func TestProfileFieldsNestBouts(t *testing.T) {
	t.Parallel()

	p := ParticipantProfile{
		Link:     "https://example.com/p/1",
		Champion: true,
		Bouts: []BoutSummary{{
			Link:         Optional("https://example.com/b/1"),
			Participants: []string{"https://example.com/p/1", "https://example.com/p/2"},
			TitleBout:    true,
		}},
	}

	fields := p.Fields()
	assert.Equal(t, true, fields["champion"])
	bouts, ok := fields["bouts"].([]any)
	require.True(t, ok)
	require.Len(t, bouts, 1)
	bout, ok := bouts[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "https://example.com/b/1", bout["link"])
	assert.Equal(t, []string{}, bout["bonuses"])
	assert.Nil(t, bout["round"])
}

func TestEventFieldsDefaultCollections(t *testing.T) {
	t.Parallel()

	fields := Event{EventLink: "https://example.com/e/1"}.Fields()
	assert.Equal(t, []string{}, fields["fight_links"])
	assert.Equal(t, map[string]string{}, fields["details"])
	assert.Equal(t, VariantEvent, Event{}.Variant())
	assert.Len(t, Variants(), 4)
}
