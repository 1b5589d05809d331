package editor

import "math/rand"

// Effect names are editor-backend identifiers and are kept as data.
var openEffects = []string{
	"Explosion",
	"Fade_In",
	"Horizontal_Open",
	"Vertical_Open",
	"Portrait_Open",
	"Ripples",
}

var closeEffects = []string{
	"Fade_Out",
	"Landscape_Close",
	"Horizontal_Close",
	"Vertical_Close",
	"The_End",
}

const (
	// constant background effect between the open and close transitions
	backgroundEffect = "TV_Colored_Lines"

	// end-card opening effect, a backend-localized identifier
	endCardEffect = "渐显开幕"

	// decorative overlay durations, seconds
	transitionSeconds = 3.0
	endCardSeconds    = 3.0

	canvasWidth  = 1080
	canvasHeight = 1920
)

var backgroundEffectParams = []float64{50, 5}

// resource library tags for decorative assets
const (
	rippleAudioTag = "水波纹"
	endingVideoTag = "片尾"
)

// bundled fallbacks uploaded lazily when the library has no tagged resource
var defaultResourceFiles = map[[2]string]string{
	{rippleAudioTag, "audio"}: "droplet.mp3",
	{endingVideoTag, "video"}: "end.mp4",
}

// pickEffects chooses the open/close pair once per slice so every sub-slice
// transitions the same way.
func pickEffects(r *rand.Rand) (open, close string) {
	return openEffects[r.Intn(len(openEffects))], closeEffects[r.Intn(len(closeEffects))]
}

// text styling shared by both backends
const (
	titleBorderWidth = 15.0
	titleBorderColor = "#000000"
	titleIntro       = "Squeeze"

	// cover title sits in the upper third; subtitles near the bottom
	titleTransformY    = 0.75
	subtitleTransformY = -0.8
)

// style is the per-backend font/subtitle fine grain. The two variants share
// the API shape; this is where they diverge.
type style struct {
	TitleFont     string
	TitleColor    string
	TitleFontSize float64

	SubtitleFont     string
	SubtitleColor    string
	SubtitleFontSize float64
}

var backendStyles = map[string]style{
	"capcut": {
		TitleFont:        "挥墨体",
		TitleColor:       "#ffde00",
		TitleFontSize:    8.0,
		SubtitleFont:     "HarmonyOS_Sans_SC_Regular",
		SubtitleColor:    "#ffde00",
		SubtitleFontSize: 8.0,
	},
	"jianying": {
		TitleFont:        "默认字体",
		TitleColor:       "#ffde00",
		TitleFontSize:    12.0,
		SubtitleFont:     "默认字体",
		SubtitleColor:    "#ffde00",
		SubtitleFontSize: 8.0,
	},
}

func styleFor(backend string) style {
	if s, ok := backendStyles[backend]; ok {
		return s
	}
	return backendStyles["jianying"]
}
