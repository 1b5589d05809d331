package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// VideoStatus is the lifecycle of a source video.
type VideoStatus string

const (
	VideoPending     VideoStatus = "pending"
	VideoDownloading VideoStatus = "downloading"
	VideoDownloaded  VideoStatus = "downloaded"
	VideoProcessing  VideoStatus = "processing"
	VideoCompleted   VideoStatus = "completed"
	VideoFailed      VideoStatus = "failed"
)

// TaskType enumerates every asynchronous unit the pipeline schedules.
type TaskType string

const (
	TaskDownload       TaskType = "download"
	TaskExtractAudio   TaskType = "extract_audio"
	TaskGenerateSRT    TaskType = "generate_srt"
	TaskSliceVideo     TaskType = "slice_video"
	TaskCapcutExport   TaskType = "capcut_export"
	TaskJianyingExport TaskType = "jianying_export"
)

// TaskStatus is the execution state of a task.
type TaskStatus string

const (
	TaskPending TaskStatus = "pending"
	TaskRunning TaskStatus = "running"
	TaskSuccess TaskStatus = "success"
	TaskFailure TaskStatus = "failure"
	TaskRetry   TaskStatus = "retry"
	TaskRevoked TaskStatus = "revoked"
)

// IsTerminal reports whether no further transitions are expected.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskSuccess || s == TaskFailure || s == TaskRevoked
}

// Stage orders the per-video pipeline. Later stages only ever follow earlier
// ones; exports hang off slicing.
type Stage string

const (
	StageDownload       Stage = "download"
	StageExtractAudio   Stage = "extract_audio"
	StageGenerateSRT    Stage = "generate_srt"
	StageSliceVideo     Stage = "slice_video"
	StageCapcutExport   Stage = "capcut_export"
	StageJianyingExport Stage = "jianying_export"
)

// Rank gives the monotonic ordering used by the roll-up. The two export
// stages share a rank: they are independent of each other.
func (s Stage) Rank() int {
	switch s {
	case StageDownload:
		return 1
	case StageExtractAudio:
		return 2
	case StageGenerateSRT:
		return 3
	case StageSliceVideo:
		return 4
	case StageCapcutExport, StageJianyingExport:
		return 5
	}
	return 0
}

// StageForTaskType maps a task type onto its pipeline stage.
func StageForTaskType(t TaskType) Stage {
	switch t {
	case TaskDownload:
		return StageDownload
	case TaskExtractAudio:
		return StageExtractAudio
	case TaskGenerateSRT:
		return StageGenerateSRT
	case TaskSliceVideo:
		return StageSliceVideo
	case TaskCapcutExport:
		return StageCapcutExport
	case TaskJianyingExport:
		return StageJianyingExport
	}
	return ""
}

// SliceType classifies whether a slice's chapters tile the whole interval.
type SliceType string

const (
	SliceFull     SliceType = "full"
	SliceFragment SliceType = "fragment"
)

// ProcessStatus is the per-artifact processing state recorded on slices.
type ProcessStatus string

const (
	ProcessPending   ProcessStatus = "pending"
	ProcessRunning   ProcessStatus = "running"
	ProcessCompleted ProcessStatus = "completed"
	ProcessFailed    ProcessStatus = "failed"
)

// AnalysisStatus is the lifecycle of a slicing plan.
type AnalysisStatus string

const (
	AnalysisDraft     AnalysisStatus = "draft"
	AnalysisValidated AnalysisStatus = "validated"
	AnalysisApplied   AnalysisStatus = "applied"
)

// JSONMap stores free-form metadata columns as JSONB.
type JSONMap map[string]interface{}

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	return string(b), err
}

func (m *JSONMap) Scan(src interface{}) error {
	if src == nil {
		*m = JSONMap{}
		return nil
	}
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into JSONMap", src)
	}
	if len(raw) == 0 {
		*m = JSONMap{}
		return nil
	}
	return json.Unmarshal(raw, m)
}

type Video struct {
	ID               int64
	ProjectID        int64
	UserID           int64
	URL              string
	Title            string
	Filename         string
	StoragePath      string
	Filesize         int64
	Duration         float64
	ThumbnailPath    string
	Status           VideoStatus
	DownloadProgress float64
	Metadata         JSONMap // processing_metadata: audio_path, audio_info, ...
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type Analysis struct {
	ID           int64
	VideoID      int64
	CoverTitle   string
	AnalysisData JSONMap // ordered slice descriptors as validated
	Status       AnalysisStatus
	IsValidated  bool
	IsApplied    bool
	CreatedAt    time.Time
}

type Slice struct {
	ID             int64
	VideoID        int64
	AnalysisID     int64
	CoverTitle     string
	Title          string
	Description    string
	Tags           string
	StartTime      float64
	EndTime        float64
	Duration       float64
	Type           SliceType
	SlicedFilePath string
	AudioURL       string
	SrtURL         string

	AudioProcessingStatus ProcessStatus
	SrtProcessingStatus   ProcessStatus
	CapcutStatus          ProcessStatus
	JianyingStatus        ProcessStatus
	AudioTaskID           string
	SrtTaskID             string
	AudioErrorMessage     string
	SrtErrorMessage       string
	CapcutDraftURL        string
	JianyingDraftURL      string
	CapcutErrorMessage    string
	JianyingErrorMessage  string

	CreatedAt time.Time
}

type SubSlice struct {
	ID             int64
	SliceID        int64
	CoverTitle     string
	Title          string
	Description    string
	StartTime      float64
	EndTime        float64
	Duration       float64
	SlicedFilePath string
	AudioURL       string
	SrtURL         string

	AudioProcessingStatus ProcessStatus
	SrtProcessingStatus   ProcessStatus
	AudioTaskID           string
	SrtTaskID             string
	AudioErrorMessage     string
	SrtErrorMessage       string

	CreatedAt time.Time
}

type Task struct {
	ID               int64
	VideoID          int64
	Type             TaskType
	Name             string
	WorkerTaskID     string
	Status           TaskStatus
	Progress         float64
	Stage            Stage
	StageDescription string
	Message          string
	ErrorMessage     string
	InputData        JSONMap
	OutputData       JSONMap
	StartedAt        *time.Time
	CompletedAt      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// SliceID returns the optional slice routing id carried in input_data.
func (t Task) SliceID() (int64, bool) {
	return jsonInt64(t.InputData, "slice_id")
}

// SubSliceID returns the optional sub-slice routing id carried in input_data.
func (t Task) SubSliceID() (int64, bool) {
	return jsonInt64(t.InputData, "sub_slice_id")
}

func jsonInt64(m JSONMap, key string) (int64, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}

type TaskLog struct {
	ID        int64
	TaskID    int64
	OldStatus TaskStatus
	NewStatus TaskStatus
	Message   string
	Details   JSONMap
	CreatedAt time.Time
}

// StageState is the per-root-stage summary inside ProcessingStatus.
type StageState struct {
	Status   TaskStatus `json:"status"`
	Progress float64    `json:"progress"`
}

// ProcessingStatus is the single-row per-video roll-up recomputed on every
// task change.
type ProcessingStatus struct {
	VideoID         int64      `json:"video_id"`
	OverallStatus   TaskStatus `json:"overall_status"`
	OverallProgress float64    `json:"overall_progress"`
	CurrentStage    Stage      `json:"current_stage"`
	Download        StageState `json:"download"`
	ExtractAudio    StageState `json:"extract_audio"`
	GenerateSRT     StageState `json:"generate_srt"`
	ErrorCount      int        `json:"error_count"`
	LastError       string     `json:"last_error"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Transcript is the per-video canonical SRT pointer.
type Transcript struct {
	ID        int64
	VideoID   int64
	SrtURL    string
	CreatedAt time.Time
}

// Resource is a tagged media library entry used for decorative overlays.
type Resource struct {
	ID        int64
	Name      string
	FileType  string // audio, video
	URL       string
	IsActive  bool
	CreatedAt time.Time
}

type ResourceTag struct {
	ID      int64
	Name    string
	TagType string
}
