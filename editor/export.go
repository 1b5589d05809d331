package editor

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"time"

	"github.com/flowclip/flowclip-api/log"
	"github.com/flowclip/flowclip-api/storage"
	"github.com/flowclip/flowclip-api/store"
	"github.com/flowclip/flowclip-api/subtitle"
)

const (
	savePollInterval = 3 * time.Second
	savePollTimeout  = 300 * time.Second
)

// Exporter assembles one slice into a draft on a remote editor backend:
// effects, decorative audio, video, titles and subtitle tracks, then an
// asynchronous save with polling.
type Exporter struct {
	Client      *Client
	Store       *store.Store
	Gateway     *storage.Gateway
	DraftFolder string

	resolver *resolver
	style    style
	rng      *rand.Rand
}

func NewExporter(client *Client, st *store.Store, gw *storage.Gateway, draftFolder, defaultResourceDir string) *Exporter {
	return &Exporter{
		Client:      client,
		Store:       st,
		Gateway:     gw,
		DraftFolder: draftFolder,
		resolver:    newResolver(st, gw, defaultResourceDir),
		style:       styleFor(client.Backend().Name),
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// ExportSlice runs the whole state machine for one slice and returns the
// final draft URL.
func (e *Exporter) ExportSlice(ctx context.Context, taskID string, sliceID int64) (string, error) {
	slice, err := e.Store.GetSlice(ctx, e.Store.DB, sliceID)
	if err != nil {
		return "", err
	}
	video, err := e.Store.GetVideo(ctx, e.Store.DB, slice.VideoID)
	if err != nil {
		return "", err
	}

	draftID, err := e.Client.CreateDraft(ctx, canvasWidth, canvasHeight)
	if err != nil {
		return "", err
	}
	log.Log(taskID, "created editor draft", "backend", e.Client.Backend().Name, "draft_id", draftID)

	var cursor float64
	if slice.Type == store.SliceFragment {
		cursor, err = e.composeFragment(ctx, taskID, draftID, slice)
	} else {
		cursor, err = e.composeFull(ctx, taskID, draftID, slice, video)
	}
	if err != nil {
		return "", err
	}

	cursor, err = e.appendEndCard(ctx, draftID, cursor)
	if err != nil {
		return "", err
	}

	// cover title across the whole timeline, date-stamped
	title := fmt.Sprintf("%s (%s)", slice.CoverTitle, time.Now().Format("2006-01-02"))
	if err := e.Client.AddText(ctx, TextArgs{
		DraftID:     draftID,
		Text:        title,
		Start:       0,
		End:         cursor,
		Font:        e.style.TitleFont,
		FontColor:   e.style.TitleColor,
		FontSize:    e.style.TitleFontSize,
		TransformY:  titleTransformY,
		BorderWidth: titleBorderWidth,
		BorderColor: titleBorderColor,
		Width:       canvasWidth,
		Height:      canvasHeight,
		TrackName:   "cover_title_track",
	}); err != nil {
		return "", err
	}

	return e.saveAndWait(ctx, taskID, draftID)
}

// composeFragment lays every sub-slice onto the timeline in start order with
// the open/close effect pair fixed for the whole slice.
func (e *Exporter) composeFragment(ctx context.Context, taskID, draftID string, slice store.Slice) (float64, error) {
	subSlices, err := e.Store.ListSubSlices(ctx, e.Store.DB, slice.ID)
	if err != nil {
		return 0, err
	}
	if len(subSlices) == 0 {
		return 0, fmt.Errorf("fragment slice %d has no sub-slices to export", slice.ID)
	}

	openEffect, closeEffect := pickEffects(e.rng)

	var cursor float64
	for i, sub := range subSlices {
		d := sub.Duration
		if err := e.addSegmentDecorations(ctx, draftID, cursor, d, openEffect, closeEffect, i+1); err != nil {
			return 0, err
		}

		if err := e.Client.AddText(ctx, TextArgs{
			DraftID:        draftID,
			Text:           sub.Title,
			Start:          cursor,
			End:            cursor + transitionSeconds,
			Font:           e.style.TitleFont,
			FontColor:      e.style.TitleColor,
			FontSize:       e.style.TitleFontSize,
			TransformY:     0, // screen center
			BorderWidth:    titleBorderWidth,
			BorderColor:    titleBorderColor,
			Width:          canvasWidth,
			Height:         canvasHeight,
			IntroAnimation: titleIntro,
			TrackName:      fmt.Sprintf("sub_title_track_%d", i+1),
		}); err != nil {
			return 0, err
		}

		videoURL, err := e.Gateway.Presign(ctx, sub.SlicedFilePath, 0)
		if err != nil {
			return 0, fmt.Errorf("error presigning sub-slice media: %w", err)
		}
		if err := e.Client.AddVideo(ctx, VideoArgs{
			DraftID:     draftID,
			VideoURL:    videoURL,
			Start:       cursor,
			End:         cursor + d,
			TargetStart: cursor,
			TrackName:   "main_video_track",
		}); err != nil {
			return 0, err
		}

		if srtKey := subtitleKeyFor(sub.SrtURL, sub.SlicedFilePath, sub.ID); srtKey != "" {
			if err := e.addSubtitleTrack(ctx, draftID, srtKey, cursor, fmt.Sprintf("subtitle_%d", sub.ID)); err != nil {
				log.Log(taskID, "skipping unusable sub-slice subtitle", "sub_slice_id", sub.ID, "err", err.Error())
			}
		}

		cursor += d
	}
	return cursor, nil
}

// composeFull runs the same shape once over the whole slice. The slice-level
// SRT is preferred; the video-level transcript is an accepted fallback.
func (e *Exporter) composeFull(ctx context.Context, taskID, draftID string, slice store.Slice, video store.Video) (float64, error) {
	d := slice.Duration
	openEffect, closeEffect := pickEffects(e.rng)
	if err := e.addSegmentDecorations(ctx, draftID, 0, d, openEffect, closeEffect, 1); err != nil {
		return 0, err
	}

	videoURL, err := e.Gateway.Presign(ctx, slice.SlicedFilePath, 0)
	if err != nil {
		return 0, fmt.Errorf("error presigning slice media: %w", err)
	}
	if err := e.Client.AddVideo(ctx, VideoArgs{
		DraftID:   draftID,
		VideoURL:  videoURL,
		Start:     0,
		End:       d,
		TrackName: "main_video_track",
	}); err != nil {
		return 0, err
	}

	srtKey := subtitleKeyFor(slice.SrtURL, slice.SlicedFilePath, 0)
	if srtKey == "" || slice.SrtProcessingStatus != store.ProcessCompleted {
		// tolerate a full slice without its own SRT: fall back to the
		// video-level transcript
		if transcript, err := e.Store.GetTranscript(ctx, e.Store.DB, video.ID); err == nil {
			if _, perr := storage.ParseKey(transcript.SrtURL); perr == nil {
				srtKey = transcript.SrtURL
			} else {
				srtKey = storage.Paths{UserID: video.UserID, ProjectID: video.ProjectID}.Subtitle(video.ID)
			}
		}
	}
	if srtKey != "" {
		if err := e.addSubtitleTrack(ctx, draftID, srtKey, 0, fmt.Sprintf("subtitle_slice_%d", slice.ID)); err != nil {
			log.Log(taskID, "skipping unusable slice subtitle", "slice_id", slice.ID, "err", err.Error())
		}
	}
	return d, nil
}

// addSegmentDecorations adds the open effect, the constant background lines,
// the close effect and the water-ripple sting for one timeline segment.
func (e *Exporter) addSegmentDecorations(ctx context.Context, draftID string, start, duration float64, openEffect, closeEffect string, index int) error {
	if err := e.Client.AddEffect(ctx, EffectArgs{
		DraftID:    draftID,
		EffectType: openEffect,
		Start:      start,
		End:        start + transitionSeconds,
		TrackName:  fmt.Sprintf("open_effect_track_%d", index),
	}); err != nil {
		return err
	}

	if duration > 2*transitionSeconds {
		if err := e.Client.AddEffect(ctx, EffectArgs{
			DraftID:    draftID,
			EffectType: backgroundEffect,
			Start:      start + transitionSeconds,
			End:        start + duration - transitionSeconds,
			TrackName:  fmt.Sprintf("background_effect_track_%d", index),
			Params:     backgroundEffectParams,
		}); err != nil {
			return err
		}
	}

	if err := e.Client.AddEffect(ctx, EffectArgs{
		DraftID:    draftID,
		EffectType: closeEffect,
		Start:      start + duration - transitionSeconds,
		End:        start + duration,
		TrackName:  fmt.Sprintf("close_effect_track_%d", index),
	}); err != nil {
		return err
	}

	rippleURL, err := e.resolver.resolve(ctx, rippleAudioTag, "audio")
	if err != nil {
		// decorative only: the export goes on without the sting
		log.LogNoTaskID("water-ripple audio unavailable", "err", err)
		return nil
	}
	return e.Client.AddAudio(ctx, AudioArgs{
		DraftID:   draftID,
		AudioURL:  rippleURL,
		Start:     start,
		End:       start + transitionSeconds,
		Volume:    0.5,
		TrackName: fmt.Sprintf("ripple_audio_track_%d", index),
	})
}

func (e *Exporter) appendEndCard(ctx context.Context, draftID string, cursor float64) (float64, error) {
	if err := e.Client.AddEffect(ctx, EffectArgs{
		DraftID:    draftID,
		EffectType: endCardEffect,
		Start:      cursor,
		End:        cursor + endCardSeconds,
		TrackName:  "ending_open_effect_track",
	}); err != nil {
		return 0, err
	}

	endingURL, err := e.resolver.resolve(ctx, endingVideoTag, "video")
	if err != nil {
		log.LogNoTaskID("ending video unavailable, skipping end card media", "err", err)
		return cursor + endCardSeconds, nil
	}
	if err := e.Client.AddVideo(ctx, VideoArgs{
		DraftID:     draftID,
		VideoURL:    endingURL,
		Start:       cursor,
		End:         cursor + endCardSeconds,
		TargetStart: cursor,
		TrackName:   "ending_video_track",
	}); err != nil {
		return 0, err
	}
	return cursor + endCardSeconds, nil
}

// addSubtitleTrack reads the SRT artifact, cleans BOM and codepage issues,
// and attaches it at the given timeline offset.
func (e *Exporter) addSubtitleTrack(ctx context.Context, draftID, srtKey string, offset float64, trackName string) error {
	reader, _, err := e.Gateway.GetStream(ctx, srtKey)
	if err != nil {
		return err
	}
	defer reader.Close()
	raw, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	text, err := subtitle.DecodeBytes(raw)
	if err != nil {
		return err
	}

	return e.Client.AddSubtitle(ctx, SubtitleArgs{
		DraftID:    draftID,
		SRT:        text,
		TimeOffset: offset,
		Font:       e.style.SubtitleFont,
		FontSize:   e.style.SubtitleFontSize,
		FontColor:  e.style.SubtitleColor,
		TransformY: subtitleTransformY,
		TrackName:  trackName,
	})
}

// saveAndWait kicks the asynchronous save and polls until the backend
// reports a final URL.
func (e *Exporter) saveAndWait(ctx context.Context, taskID, draftID string) (string, error) {
	saved, err := e.Client.SaveDraft(ctx, draftID, e.DraftFolder)
	if err != nil {
		return "", err
	}
	if saved.DraftURL != "" {
		return saved.DraftURL, nil
	}
	if saved.TaskID == "" {
		return "", fmt.Errorf("save_draft returned neither draft_url nor task_id")
	}

	log.Log(taskID, "polling draft save", "backend", e.Client.Backend().Name, "save_task_id", saved.TaskID)
	deadline := time.NewTimer(savePollTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(savePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-deadline.C:
			return "", fmt.Errorf("draft save timed out after %s", savePollTimeout)
		case <-ticker.C:
		}

		status, err := e.Client.QueryDraftStatus(ctx, saved.TaskID)
		if err != nil {
			return "", err
		}
		switch status.Status {
		case "completed":
			if status.DraftURL == "" {
				return "", fmt.Errorf("draft save completed without a draft_url")
			}
			return status.DraftURL, nil
		case "failed":
			return "", fmt.Errorf("draft save failed: %s", status.Message)
		}
	}
}

// subtitleKeyFor picks the SRT object key for a slice or sub-slice: the
// recorded srt_url wins when it parses as a schema key; otherwise the key is
// derived from the cut media's slice uuid.
func subtitleKeyFor(srtURL, slicedFilePath string, subSliceID int64) string {
	if srtURL != "" {
		if _, err := storage.ParseKey(srtURL); err == nil {
			return srtURL
		}
	}
	uuid, ok := storage.SliceUUIDFromKey(slicedFilePath)
	if !ok {
		return ""
	}
	parsed, err := storage.ParseKey(slicedFilePath)
	if err != nil {
		return ""
	}
	paths := storage.Paths{UserID: parsed.UserID, ProjectID: parsed.ProjectID}
	if subSliceID > 0 {
		return paths.SubSliceSubtitle(uuid, subSliceID)
	}
	return paths.SliceSubtitle(uuid)
}
