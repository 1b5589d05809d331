package plan

import (
	"testing"

	"github.com/flowclip/flowclip-api/store"
	"github.com/stretchr/testify/require"
)

func validSlice() SliceInput {
	return SliceInput{
		CoverTitle: "封面",
		Title:      "t",
		Start:      "00:00:00,000",
		End:        "00:02:00,000",
		Chapters: []ChapterInput{
			{CoverTitle: "c1", Start: "00:00:00,000", End: "00:00:30,000"},
			{CoverTitle: "c2", Start: "00:00:30,000", End: "00:01:30,000"},
			{CoverTitle: "c3", Start: "00:01:30,000", End: "00:02:00,000"},
		},
	}
}

func TestValidateAccepts(t *testing.T) {
	slices, err := Validate([]SliceInput{validSlice()})
	require.NoError(t, err)
	require.Len(t, slices, 1)
	require.Equal(t, 120.0, slices[0].End)
	require.Len(t, slices[0].Chapters, 3)
}

func TestValidateAccumulatesViolations(t *testing.T) {
	bad := SliceInput{
		// missing cover_title and title
		Start: "00:00:10,000",
		End:   "00:00:12,000", // under 5s
		Chapters: []ChapterInput{
			{CoverTitle: "c", Start: "00:00:09,000", End: "00:00:10,500"}, // outside slice, under 2s
			{CoverTitle: "c2", Start: "garbage", End: "00:00:11,000"},
		},
	}
	_, err := Validate([]SliceInput{bad})
	require.Error(t, err)
	verr, ok := err.(*ValidationError)
	require.True(t, ok)
	require.GreaterOrEqual(t, len(verr.Violations), 5)
}

func TestValidateRejectsEmpty(t *testing.T) {
	_, err := Validate(nil)
	require.Error(t, err)
}

func TestValidateRejectsInvertedInterval(t *testing.T) {
	s := validSlice()
	s.Start, s.End = s.End, s.Start
	s.Chapters = nil
	_, err := Validate([]SliceInput{s})
	require.Error(t, err)
}

func TestClassifyFull(t *testing.T) {
	slices, err := Validate([]SliceInput{validSlice()})
	require.NoError(t, err)
	require.Equal(t, store.SliceFull, Classify(slices[0]))
}

func TestClassifyFragmentHighlights(t *testing.T) {
	s := validSlice()
	s.Chapters = []ChapterInput{
		{CoverTitle: "c1", Start: "00:00:10,000", End: "00:00:20,000"},
		{CoverTitle: "c2", Start: "00:00:40,000", End: "00:00:55,000"},
		{CoverTitle: "c3", Start: "00:01:40,000", End: "00:01:50,000"},
	}
	slices, err := Validate([]SliceInput{s})
	require.NoError(t, err)
	require.Equal(t, store.SliceFragment, Classify(slices[0]))
}

func TestClassifyNoChaptersIsFragment(t *testing.T) {
	require.Equal(t, store.SliceFragment, Classify(Slice{Start: 0, End: 60}))
}

func TestClassifyEndTolerance(t *testing.T) {
	base := Slice{
		Start: 0, End: 120,
		Chapters: []Chapter{
			{Start: 0, End: 60},
			{Start: 60, End: 117.0}, // ends exactly 3.0s short of slice end
		},
	}
	require.Equal(t, store.SliceFull, Classify(base))

	base.Chapters[1].End = 116.99 // 3.01s short
	require.Equal(t, store.SliceFragment, Classify(base))
}

func TestClassifyOverlapTolerance(t *testing.T) {
	s := Slice{
		Start: 0, End: 100,
		Chapters: []Chapter{
			{Start: 0, End: 50},
			{Start: 49.95, End: 100}, // 50ms overlap: tolerated
		},
	}
	require.Equal(t, store.SliceFull, Classify(s))

	s.Chapters[1].Start = 49.5 // 500ms overlap: fragment
	require.Equal(t, store.SliceFragment, Classify(s))
}

func TestClassifyGapTolerance(t *testing.T) {
	s := Slice{
		Start: 0, End: 100,
		Chapters: []Chapter{
			{Start: 0, End: 50},
			{Start: 53, End: 100}, // 3s gap: tolerated
		},
	}
	require.Equal(t, store.SliceFull, Classify(s))

	s.Chapters[1].Start = 53.5
	require.Equal(t, store.SliceFragment, Classify(s))
}
