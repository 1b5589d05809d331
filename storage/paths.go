package storage

import (
	"fmt"
	"strconv"
	"strings"
)

// Paths builds the deterministic object-store key layout. The draft exporter
// parses slice uuids back out of stored keys, so the schema is load-bearing
// and must not drift.
type Paths struct {
	UserID    int64
	ProjectID int64
}

func (p Paths) prefix() string {
	return fmt.Sprintf("users/%d/projects/%d", p.UserID, p.ProjectID)
}

func (p Paths) Video(filename string) string {
	return fmt.Sprintf("%s/videos/%s", p.prefix(), filename)
}

func (p Paths) Thumbnail(videoExtID, ext string) string {
	return fmt.Sprintf("%s/thumbnails/%s.%s", p.prefix(), videoExtID, strings.TrimPrefix(ext, "."))
}

func (p Paths) Audio(videoID int64) string {
	return fmt.Sprintf("%s/audio/%d.wav", p.prefix(), videoID)
}

func (p Paths) Subtitle(videoID int64) string {
	return fmt.Sprintf("%s/subtitles/%d.srt", p.prefix(), videoID)
}

func (p Paths) SliceMedia(sliceUUID, filename string) string {
	return fmt.Sprintf("%s/slices/%s/%s", p.prefix(), sliceUUID, filename)
}

func (p Paths) SliceSubtitle(sliceUUID string) string {
	return p.SliceMedia(sliceUUID, "subtitles.srt")
}

func (p Paths) SubSliceSubtitle(sliceUUID string, subSliceID int64) string {
	return p.SliceMedia(sliceUUID, fmt.Sprintf("sub_slice_%d.srt", subSliceID))
}

// DefaultResourceKey addresses lazily-uploaded bundled library assets.
func DefaultResourceKey(tag, rand, ext string) string {
	return fmt.Sprintf("default_resources/%s_%s.%s", tag, rand, strings.TrimPrefix(ext, "."))
}

// ParsedKey is the result of taking a stored key apart again.
type ParsedKey struct {
	UserID    int64
	ProjectID int64
	Category  string // videos, thumbnails, audio, subtitles, slices
	SliceUUID string // set for slices keys only
	Filename  string
}

// ParseKey inverts the builder: users/{u}/projects/{p}/{category}/... returns
// the original fields.
func ParseKey(key string) (ParsedKey, error) {
	parts := strings.Split(key, "/")
	if len(parts) < 5 || parts[0] != "users" || parts[2] != "projects" {
		return ParsedKey{}, fmt.Errorf("key %q does not match the path schema", key)
	}
	userID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return ParsedKey{}, fmt.Errorf("bad user id in key %q: %w", key, err)
	}
	projectID, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return ParsedKey{}, fmt.Errorf("bad project id in key %q: %w", key, err)
	}

	parsed := ParsedKey{UserID: userID, ProjectID: projectID, Category: parts[4]}
	switch parsed.Category {
	case "slices":
		if len(parts) != 7 {
			return ParsedKey{}, fmt.Errorf("slice key %q must be .../slices/{uuid}/{filename}", key)
		}
		parsed.SliceUUID = parts[5]
		parsed.Filename = parts[6]
	case "videos", "thumbnails", "audio", "subtitles":
		if len(parts) != 6 {
			return ParsedKey{}, fmt.Errorf("key %q must be .../%s/{filename}", key, parsed.Category)
		}
		parsed.Filename = parts[5]
	default:
		return ParsedKey{}, fmt.Errorf("unknown category %q in key %q", parsed.Category, key)
	}
	return parsed, nil
}

// SliceUUIDFromKey extracts {slice_uuid} out of any slices/ key, used by the
// callback server to co-locate SRT artifacts with already-cut media.
func SliceUUIDFromKey(key string) (string, bool) {
	parsed, err := ParseKey(key)
	if err != nil || parsed.Category != "slices" {
		return "", false
	}
	return parsed.SliceUUID, true
}
