package media

import (
	"regexp"
	"strconv"
	"strings"
)

// DownloadStage is the normalized stage a yt-dlp output line maps to.
type DownloadStage string

const (
	StageAnalyzing   DownloadStage = "analyzing"
	StagePreparing   DownloadStage = "preparing"
	StageStarting    DownloadStage = "starting"
	StageDownloading DownloadStage = "downloading"
	StageMerging     DownloadStage = "merging"
	StageConverting  DownloadStage = "converting"
	StageCompleted   DownloadStage = "completed"
	StageError       DownloadStage = "error"
	StageWarning     DownloadStage = "warning"
)

// ProgressEvent is one normalized realtime progress update parsed out of
// yt-dlp stdout.
type ProgressEvent struct {
	Percent    float64
	Stage      DownloadStage
	Speed      string
	ETA        string
	Frag       int
	TotalFrags int
	TotalSize  string
	Message    string
}

var (
	// [download]  25.8% of ~959.74MiB at    2.67MiB/s ETA 05:44 (frag 24/893)
	downloadLineRe = regexp.MustCompile(`\[download\]\s+([\d.]+)%\s+of\s+~?\s*([\d.]+)(MiB|GiB|KiB|MB|GB|KB|B)(?:\s+at\s+([\d.]+[A-Za-z]+)/s)?(?:\s+ETA\s+([\d:]+|Unknown))?(?:\s+\(frag\s+(\d+)/(\d+)\))?`)
	// [download] 100% of 959.74MiB in 05:44
	downloadDoneRe = regexp.MustCompile(`\[download\]\s+100%\s+of\s+([\d.]+)(MiB|GiB|KiB|MB|GB|KB|B)\s+in\s+[\d:]+`)
	totalFragsRe   = regexp.MustCompile(`Total fragments:\s*(\d+)`)
)

// ParseProgressLine translates a single line of yt-dlp output into a progress
// event, or nil for lines that carry no progress information.
func ParseProgressLine(line string) *ProgressEvent {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}

	if m := downloadDoneRe.FindStringSubmatch(line); m != nil {
		return &ProgressEvent{Percent: 100, Stage: StageCompleted, TotalSize: m[1] + m[2], Message: line}
	}

	if m := downloadLineRe.FindStringSubmatch(line); m != nil {
		percent, _ := strconv.ParseFloat(m[1], 64)
		ev := &ProgressEvent{
			Percent:   percent,
			Stage:     StageDownloading,
			TotalSize: m[2] + m[3],
			Speed:     m[4],
			ETA:       m[5],
			Message:   line,
		}
		if m[6] != "" && m[7] != "" {
			ev.Frag, _ = strconv.Atoi(m[6])
			ev.TotalFrags, _ = strconv.Atoi(m[7])
			// For fragmented HLS downloads the printed percentage can trail
			// far behind reality; prefer the fragment-derived value when they
			// disagree by more than 5 points.
			if ev.TotalFrags > 0 {
				fragPercent := float64(ev.Frag) / float64(ev.TotalFrags) * 100
				if fragPercent-ev.Percent > 5 || ev.Percent-fragPercent > 5 {
					ev.Percent = fragPercent
				}
			}
		}
		return ev
	}

	if m := totalFragsRe.FindStringSubmatch(line); m != nil {
		total, _ := strconv.Atoi(m[1])
		return &ProgressEvent{Percent: 20, Stage: StageStarting, TotalFrags: total, Message: line}
	}

	switch {
	case strings.Contains(line, "has already been downloaded"):
		return &ProgressEvent{Percent: 100, Stage: StageCompleted, Message: line}
	case strings.HasPrefix(line, "ERROR:"):
		return &ProgressEvent{Stage: StageError, Message: line}
	case strings.HasPrefix(line, "WARNING:"):
		return &ProgressEvent{Stage: StageWarning, Message: line}
	case strings.Contains(line, "Merging formats"):
		return &ProgressEvent{Percent: 95, Stage: StageMerging, Message: line}
	case strings.Contains(line, "[VideoConvertor]") || strings.Contains(line, "[FixupM3u8]") || strings.Contains(line, "Fixing MPEG-TS"):
		return &ProgressEvent{Percent: 98, Stage: StageConverting, Message: line}
	case strings.Contains(line, "Downloading m3u8 manifest") || strings.Contains(line, "Downloading MPD manifest"):
		return &ProgressEvent{Percent: 15, Stage: StagePreparing, Message: line}
	case strings.Contains(line, "[download] Destination:"):
		return &ProgressEvent{Percent: 20, Stage: StageStarting, Message: line}
	case strings.Contains(line, "Extracting URL"):
		return &ProgressEvent{Percent: 2, Stage: StageAnalyzing, Message: line}
	case strings.Contains(line, "Downloading webpage"):
		return &ProgressEvent{Percent: 5, Stage: StageAnalyzing, Message: line}
	case strings.HasPrefix(line, "[info]"):
		return &ProgressEvent{Percent: 10, Stage: StagePreparing, Message: line}
	}

	return nil
}

// RecoverableDownloadErrors is the set of yt-dlp failure signatures after
// which the output file may still be usable and is worth probing.
var RecoverableDownloadErrors = []string{
	"Did not get any data blocks",
	"HTTP Error 404",
	"'false' is not a valid URL",
	"nsig extraction failed",
	"Unable to extract nsig function",
	"has already been downloaded",
}

// IsRecoverableDownloadError reports whether the captured yt-dlp output
// matches a failure class where the artifact should be probed instead of the
// download being failed outright.
func IsRecoverableDownloadError(output string) bool {
	for _, marker := range RecoverableDownloadErrors {
		if strings.Contains(output, marker) {
			return true
		}
	}
	return false
}
