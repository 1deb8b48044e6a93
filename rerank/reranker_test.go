package rerank

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/doujins-org/rankkit/ranking"
	"github.com/doujins-org/rankkit/retrieve"
)

func compositeScored(id string, composite float64) ranking.Scored {
	s := ranking.Scored{Candidate: retrieve.Candidate{ItemID: id}}
	s.Composite = composite
	s.Blended = composite
	return s
}

func TestBlend(t *testing.T) {
	items := []ranking.Scored{
		compositeScored("a", 0.8),
		compositeScored("b", 0.4),
	}
	require.NoError(t, Blend(items, []float64{0.2, 0.9}, 0.6))

	// 0.6*0.2 + 0.4*0.8 = 0.44
	require.InDelta(t, 0.44, items[0].Blended, 1e-9)
	// 0.6*0.9 + 0.4*0.4 = 0.70
	require.InDelta(t, 0.70, items[1].Blended, 1e-9)
	require.NotNil(t, items[0].Neural)
	require.Equal(t, 0.2, *items[0].Neural)
	// Composite survives for diagnostics.
	require.Equal(t, 0.8, items[0].Composite)
}

func TestBlend_RejectsBadInput(t *testing.T) {
	items := []ranking.Scored{compositeScored("a", 0.8)}

	require.Error(t, Blend(items, []float64{0.5, 0.5}, 0.6), "length mismatch")
	require.Error(t, Blend(items, []float64{1.2}, 0.6), "score above 1")
	require.Error(t, Blend(items, []float64{-0.1}, 0.6), "score below 0")
	require.Error(t, Blend(items, []float64{0.5}, 1.5), "lambda out of range")

	// A rejected batch must leave items untouched.
	require.Nil(t, items[0].Neural)
	require.Equal(t, 0.8, items[0].Blended)
}

func TestPassage(t *testing.T) {
	created := retrieve.Candidate{
		ItemID:      "trk_1",
		Title:       "  Midnight   Drive ",
		Genre:       "synthwave",
		Mood:        "nocturnal",
		Format:      "single",
		BPM:         104,
		Description: "Analog pads\nover a steady pulse.",
	}
	got := Passage(created, 0)
	require.Equal(t, "Midnight Drive. synthwave, nocturnal, single, 104 bpm. Analog pads over a steady pulse.", got)
}

func TestPassage_SparseAndTruncated(t *testing.T) {
	require.Equal(t, "Only Title", Passage(retrieve.Candidate{Title: "Only Title"}, 0))
	require.Equal(t, "", Passage(retrieve.Candidate{}, 0))

	long := retrieve.Candidate{Title: "abcdefghij"}
	require.Equal(t, "abcde", Passage(long, 5))
}

func TestDocuments(t *testing.T) {
	docs := Documents([]retrieve.Candidate{
		{ItemID: "a", Title: "First"},
		{ItemID: "b", Title: "Second"},
	}, 0)
	require.Len(t, docs, 2)
	require.Equal(t, Document{ItemID: "a", Text: "First"}, docs[0])
	require.Equal(t, Document{ItemID: "b", Text: "Second"}, docs[1])
}
