package plan

import (
	"fmt"
	"sort"

	"github.com/flowclip/flowclip-api/store"
	"github.com/flowclip/flowclip-api/subtitle"
)

// ChapterInput is one chapter descriptor as submitted by the analysis step.
// Times are HH:MM:SS,mmm strings.
type ChapterInput struct {
	CoverTitle string `json:"cover_title"`
	Title      string `json:"title,omitempty"`
	Desc       string `json:"desc,omitempty"`
	Start      string `json:"start"`
	End        string `json:"end"`
}

// SliceInput is one slice descriptor.
type SliceInput struct {
	CoverTitle string         `json:"cover_title"`
	Title      string         `json:"title"`
	Desc       string         `json:"desc,omitempty"`
	Tags       []string       `json:"tags,omitempty"`
	Start      string         `json:"start"`
	End        string         `json:"end"`
	Chapters   []ChapterInput `json:"chapters,omitempty"`
}

// Chapter is a validated chapter with times in seconds.
type Chapter struct {
	CoverTitle string
	Title      string
	Desc       string
	Start      float64
	End        float64
}

// Slice is a validated slice descriptor with times in seconds.
type Slice struct {
	CoverTitle string
	Title      string
	Desc       string
	Tags       []string
	Start      float64
	End        float64
	Chapters   []Chapter
}

const (
	minSliceSeconds   = 5
	minChapterSeconds = 2

	// classification tolerances: chapters may overlap up to 100ms or leave a
	// gap up to 3s and still count as tiling the slice
	tileOverlapTolerance = 0.1
	tileGapTolerance     = 3.0
)

// ValidationError accumulates every violation in a submitted plan; a plan
// with any violation is rejected whole.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("analysis data invalid: %d violation(s): %v", len(e.Violations), e.Violations)
}

// Validate checks a submitted plan and converts it into seconds-typed
// descriptors. All violations are collected before rejecting.
func Validate(items []SliceInput) ([]Slice, error) {
	verr := &ValidationError{}
	if len(items) == 0 {
		verr.Violations = append(verr.Violations, "analysis_data is empty")
		return nil, verr
	}

	var out []Slice
	for i, item := range items {
		slice := Slice{
			CoverTitle: item.CoverTitle,
			Title:      item.Title,
			Desc:       item.Desc,
			Tags:       item.Tags,
		}
		if item.CoverTitle == "" {
			verr.Violations = append(verr.Violations, fmt.Sprintf("slice %d: cover_title is required", i))
		}
		if item.Title == "" {
			verr.Violations = append(verr.Violations, fmt.Sprintf("slice %d: title is required", i))
		}

		start, end, ok := parseInterval(verr, fmt.Sprintf("slice %d", i), item.Start, item.End)
		if ok {
			slice.Start, slice.End = start, end
			if end-start < minSliceSeconds {
				verr.Violations = append(verr.Violations,
					fmt.Sprintf("slice %d: duration %.3fs is under the %ds minimum", i, end-start, minSliceSeconds))
			}
		}

		for j, ch := range item.Chapters {
			chapter := Chapter{CoverTitle: ch.CoverTitle, Title: ch.Title, Desc: ch.Desc}
			where := fmt.Sprintf("slice %d chapter %d", i, j)
			if ch.CoverTitle == "" {
				verr.Violations = append(verr.Violations, where+": cover_title is required")
			}
			cs, ce, ok := parseInterval(verr, where, ch.Start, ch.End)
			if !ok {
				continue
			}
			chapter.Start, chapter.End = cs, ce
			if ce-cs < minChapterSeconds {
				verr.Violations = append(verr.Violations,
					fmt.Sprintf("%s: duration %.3fs is under the %ds minimum", where, ce-cs, minChapterSeconds))
			}
			if ok && (cs < slice.Start || ce > slice.End) {
				verr.Violations = append(verr.Violations,
					fmt.Sprintf("%s: [%s, %s] is outside the slice interval", where, ch.Start, ch.End))
			}
			slice.Chapters = append(slice.Chapters, chapter)
		}

		out = append(out, slice)
	}

	if len(verr.Violations) > 0 {
		return nil, verr
	}
	return out, nil
}

func parseInterval(verr *ValidationError, where, startStr, endStr string) (float64, float64, bool) {
	ok := true
	start, err := subtitle.ParseTimecode(startStr)
	if err != nil {
		verr.Violations = append(verr.Violations, fmt.Sprintf("%s: bad start time: %v", where, err))
		ok = false
	}
	end, err := subtitle.ParseTimecode(endStr)
	if err != nil {
		verr.Violations = append(verr.Violations, fmt.Sprintf("%s: bad end time: %v", where, err))
		ok = false
	}
	if ok && start >= end {
		verr.Violations = append(verr.Violations, fmt.Sprintf("%s: start %s is not before end %s", where, startStr, endStr))
		ok = false
	}
	return start, end, ok
}

// Classify decides whether a slice's chapters tile the whole interval (full)
// or are highlights (fragment). A slice with no chapters is a fragment.
func Classify(s Slice) store.SliceType {
	if len(s.Chapters) == 0 {
		return store.SliceFragment
	}

	chapters := make([]Chapter, len(s.Chapters))
	copy(chapters, s.Chapters)
	sort.Slice(chapters, func(i, j int) bool { return chapters[i].Start < chapters[j].Start })

	previousEnd := s.Start
	for _, ch := range chapters {
		gap := ch.Start - previousEnd
		if gap < -tileOverlapTolerance || gap > tileGapTolerance {
			return store.SliceFragment
		}
		previousEnd = ch.End
	}

	endDiff := s.End - previousEnd
	if endDiff < 0 {
		endDiff = -endDiff
	}
	if endDiff > tileGapTolerance {
		return store.SliceFragment
	}
	return store.SliceFull
}
