package api

import (
	"context"
	"net/http"
	"time"

	"github.com/flowclip/flowclip-api/callback"
	"github.com/flowclip/flowclip-api/config"
	"github.com/flowclip/flowclip-api/log"
	"github.com/flowclip/flowclip-api/middleware"
	"github.com/flowclip/flowclip-api/pipeline"
	"github.com/flowclip/flowclip-api/progress"
	"github.com/flowclip/flowclip-api/storage"
	"github.com/flowclip/flowclip-api/store"
	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HandlersCollection carries the shared dependencies of every handler.
type HandlersCollection struct {
	Store    *store.Store
	Engine   *pipeline.Coordinator
	Gateway  *storage.Gateway
	Bus      *progress.Bus
	Registry *callback.Registry
}

func ListenAndServe(ctx context.Context, cli config.Cli, handlers *HandlersCollection) error {
	router := NewRouter(cli, handlers)
	server := http.Server{Addr: cli.HTTPAddress, Handler: router}
	ctx, cancel := context.WithCancel(ctx)

	log.LogNoTaskID(
		"Starting Flowclip API!",
		"version", config.Version,
		"host", cli.HTTPAddress,
	)

	var err error
	go func() {
		err = server.ListenAndServe()
		cancel()
	}()

	<-ctx.Done()
	if err != nil {
		return err
	}

	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}

func NewRouter(cli config.Cli, handlers *HandlersCollection) *httprouter.Router {
	router := httprouter.New()
	withLogging := middleware.LogRequest()
	withCORS := middleware.AllowCORS()
	withAuth := func(h httprouter.Handle) httprouter.Handle {
		return middleware.IsAuthorized(cli.APIToken, h)
	}

	router.GET("/ok", withLogging(handlers.Ok()))
	router.Handler("GET", "/metrics", promhttp.Handler())

	// pipeline. httprouter cannot mix the static /videos/download with the
	// /videos/:id wildcard, so the download endpoint dispatches on the
	// :id segment.
	router.POST("/videos/:id", withLogging(withCORS(withAuth(handlers.VideoPostDispatch()))))
	router.POST("/videos/:id/extract-audio", withLogging(withCORS(withAuth(handlers.ExtractAudio()))))
	router.POST("/videos/:id/generate-srt", withLogging(withCORS(withAuth(handlers.GenerateSRT()))))
	router.POST("/videos/:id/cancel", withLogging(withCORS(withAuth(handlers.CancelVideo()))))

	// status surface
	router.GET("/videos/:id/progress", withLogging(withCORS(withAuth(handlers.VideoProgress()))))
	router.GET("/videos/:id/processing-status", withLogging(withCORS(withAuth(handlers.ProcessingStatus()))))

	// artifact URLs and proxies
	for _, kind := range []string{"video", "audio", "srt", "thumbnail"} {
		router.GET("/videos/:id/"+kind+"-download-url", withLogging(withCORS(withAuth(handlers.ArtifactURL(kind)))))
	}
	router.GET("/videos/:id/stream", withLogging(withCORS(withAuth(handlers.StreamVideo()))))
	router.GET("/videos/:id/video-download", withLogging(withCORS(withAuth(handlers.ProxyArtifact("video")))))
	router.GET("/videos/:id/audio-download", withLogging(withCORS(withAuth(handlers.ProxyArtifact("audio")))))
	router.GET("/videos/:id/srt-download", withLogging(withCORS(withAuth(handlers.ProxyArtifact("srt")))))

	// slice tree
	router.POST("/video-slice/validate-slice-data", withLogging(withCORS(withAuth(handlers.ValidateSliceData()))))
	router.POST("/video-slice/process-slices", withLogging(withCORS(withAuth(handlers.ProcessSlices()))))
	router.GET("/video-slice/video-slices/:video_id", withLogging(withCORS(withAuth(handlers.ListSlices()))))

	// editor exports
	router.POST("/capcut/export-slice/:slice_id", withLogging(withCORS(withAuth(handlers.ExportSlice("capcut")))))
	router.POST("/jianying/export-slice-jianying/:slice_id", withLogging(withCORS(withAuth(handlers.ExportSlice("jianying")))))
	router.GET("/jianying/proxy-resource/*path", withLogging(withCORS(handlers.ProxyResource())))

	// progress subscription
	router.GET("/ws/progress/:token", handlers.ProgressSocket())

	return router
}
