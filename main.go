package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/flowclip/flowclip-api/api"
	"github.com/flowclip/flowclip-api/asr"
	"github.com/flowclip/flowclip-api/callback"
	"github.com/flowclip/flowclip-api/config"
	"github.com/flowclip/flowclip-api/editor"
	"github.com/flowclip/flowclip-api/log"
	"github.com/flowclip/flowclip-api/media"
	"github.com/flowclip/flowclip-api/metrics"
	"github.com/flowclip/flowclip-api/pipeline"
	"github.com/flowclip/flowclip-api/pprof"
	"github.com/flowclip/flowclip-api/progress"
	"github.com/flowclip/flowclip-api/state"
	"github.com/flowclip/flowclip-api/storage"
	"github.com/flowclip/flowclip-api/store"
	"github.com/peterbourgon/ff/v3"
	"golang.org/x/sync/errgroup"
)

func main() {
	fs := flag.NewFlagSet("flowclip-api", flag.ExitOnError)
	cli := config.Cli{StageWeights: config.DefaultStageWeights()}

	version := fs.Bool("version", false, "print application version")

	// listen addresses
	config.AddrFlag(fs, &cli.HTTPAddress, "http-addr", "0.0.0.0:8000", "Address to bind for the Flowclip HTTP API")
	config.AddrFlag(fs, &cli.CallbackAddress, "callback-addr", fmt.Sprintf("0.0.0.0:%d", config.DefaultCallbackPort), "Address to bind the singleton TUS callback server")

	// core parameters
	fs.StringVar(&cli.APIToken, "api-token", "IAmAuthorized", "Auth header value for API access")
	fs.StringVar(&cli.DatabaseURL, "database-url", "", "Postgres connection string. Takes the form: host=X port=X user=X password=X dbname=X")
	fs.StringVar(&cli.RedisAddress, "redis-addr", "127.0.0.1:6379", "Address of the shared key-value store used for TUS callback mediation")
	fs.StringVar(&cli.RedisPassword, "redis-password", "", "Password for the shared key-value store")
	fs.IntVar(&cli.RedisDB, "redis-db", 0, "Database index in the shared key-value store")
	fs.StringVar(&cli.CallbackRedisNS, "callback-redis-namespace", "", "Key prefix for callback server entries")
	fs.IntVar(&config.MaxInFlightJobs, "max-inflight-jobs", 8, "Maximum number of concurrently running pipeline tasks")
	fs.DurationVar(&cli.TaskDeadline, "task-deadline", 2*time.Hour, "Deadline inherited by every pipeline task")
	fs.StringVar(&cli.DownloadWorkDir, "work-dir", os.TempDir(), "Scratch directory for downloads and cuts")
	fs.StringVar(&cli.YtdlpCookiesFile, "ytdlp-cookies", "", "Optional cookies file handed to yt-dlp")
	fs.StringVar(&cli.DefaultResourceDir, "default-resource-dir", "./media", "Directory holding bundled default library assets")

	// object store
	fs.StringVar(&cli.StorageInternalEndpoint, "storage-internal-endpoint", "127.0.0.1:9000", "Object store endpoint for server-to-server traffic")
	fs.StringVar(&cli.StoragePublicEndpoint, "storage-public-endpoint", "", "Object store endpoint used in URLs minted for external consumers")
	fs.StringVar(&cli.StorageAccessKey, "storage-access-key", "", "Object store access key")
	fs.StringVar(&cli.StorageSecretKey, "storage-secret-key", "", "Object store secret key")
	fs.StringVar(&cli.StorageBucket, "storage-bucket", "flowclip", "Object store bucket")
	fs.BoolVar(&cli.StorageUseSSL, "storage-use-ssl", false, "Use TLS towards the object store")
	fs.DurationVar(&cli.PresignTTL, "presign-ttl", config.DefaultPresignTTL, "Lifetime of presigned artifact URLs")

	// ASR
	fs.StringVar(&cli.ASRServiceURL, "asr-service-url", "http://127.0.0.1:8080", "Base URL of the synchronous ASR HTTP service")
	fs.StringVar(&cli.ASRAPIURL, "asr-api-url", "", "Base URL of the asynchronous (TUS) ASR API")
	fs.StringVar(&cli.ASRTusURL, "asr-tus-url", "", "Base URL of the TUS upload endpoint")
	fs.StringVar(&cli.ASRAPIKey, "asr-api-key", "", "API key for the ASR services")
	fs.StringVar(&cli.ASRModel, "asr-model", "whisper", "ASR model kind: whisper or sense")
	fs.StringVar(&cli.ASRLanguage, "asr-language", "auto", "Language hint forwarded to the ASR service")
	fs.Int64Var(&cli.ASRSizeThreshold, "asr-size-threshold", config.DefaultASRSizeThreshold, "Audio size above which the TUS path is used, bytes")
	fs.BoolVar(&cli.TusEnabled, "tus-enabled", true, "Enable TUS routing for large audio")
	fs.StringVar(&cli.CallbackPublicIP, "callback-public-ip", "", "Public IP advertised in TUS callback URLs; auto-detected when empty")

	// editor backends
	fs.StringVar(&cli.CapCutAPIURL, "capcut-api-url", "", "Base URL of the CapCut editor backend")
	fs.StringVar(&cli.JianyingAPIURL, "jianying-api-url", "", "Base URL of the Jianying editor backend")
	fs.StringVar(&cli.JianyingAPIKey, "jianying-api-key", "", "API key for the Jianying editor backend")
	fs.StringVar(&cli.EditorDraftRoot, "editor-draft-root", "", "Draft folder path handed to save_draft")
	fs.Var(cli.StageWeights, "stage-weights", "Progress weight per root stage, e.g. download=0.33,extract_audio=0.33,generate_srt=0.34")

	pprofAddr := fs.String("pprof-addr", "127.0.0.1:6061", "Pprof listen address")
	_ = fs.String("config", "", "config file (optional)")

	err := ff.Parse(fs, os.Args[1:],
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
		ff.WithEnvVarPrefix("FLOWCLIP"),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error parsing cli: %s\n", err)
		os.Exit(1)
	}
	if len(fs.Args()) > 0 {
		fmt.Fprintf(os.Stderr, "unexpected extra arguments on command line: %v\n", fs.Args())
		os.Exit(1)
	}

	if *version {
		fmt.Printf("flowclip-api version: %s\n", config.Version)
		return
	}

	if cli.DatabaseURL == "" {
		fmt.Fprintln(os.Stderr, "-database-url is required")
		os.Exit(1)
	}

	metrics.Metrics.Version.WithLabelValues("flowclip-api", config.Version).Inc()

	go func() {
		log.LogNoTaskID("pprof listener exited", "err", pprof.ListenAndServe(*pprofAddr))
	}()

	st, err := store.Open(cli.DatabaseURL)
	if err != nil {
		fatal("error opening store", err)
	}
	if err := st.EnsureSchema(context.Background()); err != nil {
		fatal("error ensuring schema", err)
	}

	gateway, err := storage.NewGateway(storage.Options{
		InternalEndpoint: cli.StorageInternalEndpoint,
		PublicEndpoint:   cli.StoragePublicEndpoint,
		AccessKey:        cli.StorageAccessKey,
		SecretKey:        cli.StorageSecretKey,
		Bucket:           cli.StorageBucket,
		UseSSL:           cli.StorageUseSSL,
		PresignTTL:       cli.PresignTTL,
	})
	if err != nil {
		fatal("error creating object store gateway", err)
	}

	registry := callback.NewRegistry(cli.RedisAddress, cli.RedisPassword, cli.RedisDB, cli.CallbackRedisNS)
	bus := progress.NewBus()
	stateManager := state.NewManager(st, bus, cli.StageWeights)
	toolbox := media.NewToolbox()

	callbackPort := config.DefaultCallbackPort
	if _, portStr, err := net.SplitHostPort(cli.CallbackAddress); err == nil {
		if p, err := strconv.Atoi(portStr); err == nil {
			callbackPort = p
		}
	}
	callbackURL := asr.ResolveCallbackURL(cli.CallbackPublicIP, callbackPort)
	log.LogNoTaskID("resolved TUS callback URL", "url", callbackURL)

	syncASR := asr.NewSyncClient(cli.ASRServiceURL, cli.ASRAPIKey, asr.ModelKind(cli.ASRModel), cli.ASRLanguage)
	var tusASR *asr.TUSClient
	if cli.ASRAPIURL != "" && cli.ASRTusURL != "" {
		tusASR = asr.NewTUSClient(cli.ASRAPIURL, cli.ASRTusURL, cli.ASRAPIKey, cli.ASRModel, cli.ASRLanguage, callbackURL)
	}
	router := asr.NewRouter(syncASR, tusASR, registry, gateway, toolbox, cli.ASRSizeThreshold, cli.TusEnabled)

	var capcut, jianying *editor.Exporter
	if cli.CapCutAPIURL != "" {
		client := editor.NewClient(editor.Backend{Name: "capcut", BaseURL: cli.CapCutAPIURL})
		capcut = editor.NewExporter(client, st, gateway, cli.EditorDraftRoot, cli.DefaultResourceDir)
	}
	if cli.JianyingAPIURL != "" {
		client := editor.NewClient(editor.Backend{Name: "jianying", BaseURL: cli.JianyingAPIURL, APIKey: cli.JianyingAPIKey})
		jianying = editor.NewExporter(client, st, gateway, cli.EditorDraftRoot, cli.DefaultResourceDir)
	}

	engine := pipeline.NewCoordinator(st, stateManager, gateway, toolbox, router, capcut, jianying,
		cli.DownloadWorkDir, cli.YtdlpCookiesFile, cli.TaskDeadline)

	handlers := &api.HandlersCollection{
		Store:    st,
		Engine:   engine,
		Gateway:  gateway,
		Bus:      bus,
		Registry: registry,
	}

	// Root context; cancelling prompts all components to shut down cleanly.
	group, ctx := errgroup.WithContext(context.Background())

	group.Go(func() error {
		return handleSignals(ctx)
	})

	group.Go(func() error {
		return api.ListenAndServe(ctx, cli, handlers)
	})

	group.Go(func() error {
		callbackServer := callback.NewServer(cli.CallbackAddress, registry, st, stateManager, gateway)
		return callbackServer.Start(ctx)
	})

	err = group.Wait()
	log.LogNoTaskID("Shutdown complete", "reason", err)
}

func fatal(msg string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %s\n", msg, err)
	os.Exit(1)
}

func handleSignals(ctx context.Context) error {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGINT)
	for {
		select {
		case s := <-c:
			log.LogNoTaskID("caught signal, attempting clean shutdown", "signal", s.String())
			return fmt.Errorf("caught signal=%v", s)
		case <-ctx.Done():
			return nil
		}
	}
}
