package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const wellFormed = `## Summary
We walked through soil health and the irrigation plan.

The next step is a site visit.

## Clips
CLIP: soil
NAME: Soil Health
START: [0:42]
END: [1:15]
EXCERPT: "the top layer is almost all clay"

CLIP: water
NAME: Irrigation Plan
START: [2:05]
END: [3:00]
EXCERPT: drip lines along the north bed
`

func TestParseResponseWellFormed(t *testing.T) {
	summary, clips := ParseResponse(wellFormed)
	assert.Equal(t, "We walked through soil health and the irrigation plan.\n\nThe next step is a site visit.", summary)
	require.Len(t, clips, 2)

	assert.Equal(t, ClipSuggestion{
		ItemID:   "soil",
		ItemName: "Soil Health",
		Start:    "[0:42]",
		End:      "[1:15]",
		Excerpt:  "the top layer is almost all clay",
	}, clips[0])

	start, end, err := clips[1].Offsets()
	require.NoError(t, err)
	assert.Equal(t, 125.0, start)
	assert.Equal(t, 180.0, end)
}

func TestParseResponseSummaryOnly(t *testing.T) {
	summary, clips := ParseResponse("Just prose, nothing structured.")
	assert.Equal(t, "Just prose, nothing structured.", summary)
	assert.Empty(t, clips)
}

func TestParseResponseWithoutClipsHeading(t *testing.T) {
	text := "A short recap.\n\nCLIP: soil\nSTART: 0:10\nEND: 0:20\n"
	summary, clips := ParseResponse(text)
	assert.Equal(t, "A short recap.", summary)
	require.Len(t, clips, 1)
	assert.Equal(t, "soil", clips[0].ItemID)
}

func TestParseClipsMalformed(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "empty",
			text: "",
		},
		{
			name: "missing identifier",
			text: "CLIP:\nSTART: 0:10\nEND: 0:20\n",
		},
		{
			name: "malformed start",
			text: "CLIP: soil\nSTART: soon\nEND: 0:20\n",
		},
		{
			name: "missing end",
			text: "CLIP: soil\nSTART: 0:10\n",
		},
		{
			name: "seconds out of range",
			text: "CLIP: soil\nSTART: 0:75\nEND: 1:20\n",
		},
		{
			name: "end before start",
			text: "CLIP: soil\nSTART: 2:00\nEND: 1:00\n",
		},
		{
			name: "zero length",
			text: "CLIP: soil\nSTART: 1:00\nEND: 1:00\n",
		},
		{
			name: "fields before any clip line are ignored",
			text: "START: 0:10\nEND: 0:20\n",
		},
		{
			name: "bad block does not hide good ones",
			text: "CLIP: a\nSTART: x\nEND: 0:20\n\nCLIP: b\nSTART: 0:10\nEND: 0:20\n\nCLIP:\nSTART: 0:10\nEND: 0:20\n\nCLIP: c\nSTART: 1:00:00\nEND: 1:00:30\n",
			want: []string{"b", "c"},
		},
		{
			name: "decorated fields",
			text: "- **CLIP**: soil\n- **Start**: `[0:10]`\n- **End**: `[0:20]`\n",
			want: []string{"soil"},
		},
		{
			name: "lowercase keys and item alias",
			text: "clip: x\nitem id: ignored\nstart: 00:05\nend: 00:09.5\n",
			want: []string{"x"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, c := range ParseClips(tt.text) {
				got = append(got, c.ItemID)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseClipsMultilineExcerpt(t *testing.T) {
	text := "CLIP: soil\nSTART: 0:10\nEND: 0:20\nEXCERPT: first line\n  second line\nnote: she said it twice\n"
	clips := ParseClips(text)
	require.Len(t, clips, 1)
	assert.Equal(t, "first line second line note: she said it twice", clips[0].Excerpt)
}
