package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ent0n29/tars/internal/capture"
	"github.com/ent0n29/tars/internal/chatstream"
	"github.com/ent0n29/tars/internal/config"
	"github.com/ent0n29/tars/internal/display"
	"github.com/ent0n29/tars/internal/httpapi"
	"github.com/ent0n29/tars/internal/identity"
	"github.com/ent0n29/tars/internal/logging"
	"github.com/ent0n29/tars/internal/observability"
	"github.com/ent0n29/tars/internal/pipeline"
	"github.com/ent0n29/tars/internal/speech"
)

const usage = `commands: /press  /release  /stop  /clear  /session  /interim <text>  /quit
while listening, typed lines are captured as final speech; otherwise they are sent directly`

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	logger := logging.WithComponent("tars")

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	console := display.NewConsole(os.Stdout)
	var (
		hub     *display.Hub
		surface display.Surface = console
	)
	if cfg.BindAddr != "" {
		hub = display.NewHub(256)
		surface = display.Multi(console, hub)
	}

	settings := speech.Settings{
		Voice:  cfg.Voice,
		Lang:   cfg.Lang,
		Volume: cfg.Volume,
		Rate:   cfg.Rate,
		Pitch:  cfg.Pitch,
	}
	var (
		synth  speech.Synthesizer
		lister httpapi.VoiceLister
	)
	if execSynth, err := speech.NewExecSynthesizer(cfg.TTSCommand); err != nil {
		logger.Warn().Err(err).Msg("speech output unavailable")
	} else {
		synth = execSynth
		lister = execSynth
		if settings.Voice == "" {
			listCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			voices, err := execSynth.Voices(listCtx)
			cancel()
			if err != nil {
				logger.Warn().Err(err).Msg("voice list unavailable, using synthesizer default")
			} else if v, ok := speech.SelectVoice(voices, speech.LangPrefix(cfg.Lang)); ok {
				settings.Voice = v.Name
				logger.Info().Str("voice", v.Name).Str("lang", v.Lang).Msg("voice selected")
			}
		}
	}
	scheduler := speech.NewScheduler(synth,
		speech.WithSettings(settings),
		speech.WithSanitize(cfg.SpeechSanitize),
		speech.WithMetrics(metrics),
		speech.WithLogger(logging.WithComponent("speech")),
	)
	defer scheduler.Close()

	client := chatstream.NewClient(cfg.APIBase, cfg.RequestTimeout)

	store, err := identity.NewStore(ctx, cfg.DatabaseURL, cfg.SessionFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("session store init failed")
	}
	ids := identity.NewManager(store, client, surface,
		identity.WithMetrics(metrics),
		identity.WithLogger(logging.WithComponent("identity")),
	)
	defer ids.Close()

	var (
		engine capture.Engine
		text   *capture.TextEngine
		remote *capture.RemoteEngine
	)
	switch cfg.CaptureMode {
	case config.CaptureRemote:
		remote = capture.NewRemoteEngine(hub, cfg.Lang)
		engine = remote
	default:
		text = capture.NewTextEngine()
		engine = text
	}
	session := capture.NewSession(engine, surface,
		capture.WithCanceller(scheduler),
		capture.WithMetrics(metrics),
		capture.WithLogger(logging.WithComponent("capture")),
	)
	consumer := chatstream.NewConsumer(client, ids, scheduler, surface,
		chatstream.WithMetrics(metrics),
		chatstream.WithLogger(logging.WithComponent("chatstream")),
	)
	pipe := pipeline.New(session, consumer, scheduler, surface,
		pipeline.WithMetrics(metrics),
		pipeline.WithLogger(logging.WithComponent("pipeline")),
	)

	// Load the stored id up front so the first reply already carries it.
	if _, err := ids.Ensure(ctx); err != nil {
		logger.Warn().Err(err).Msg("starting without a session id")
	}
	surface.SetStatus(chatstream.StatusReady)
	fmt.Fprintln(os.Stdout, usage)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pipe.Run(gctx) })

	if hub != nil {
		var feeder pipeline.Feeder
		if remote != nil {
			feeder = remote
		}
		g.Go(func() error { return pipe.ServeInbound(gctx, hub.Inbound(), feeder) })

		opts := []httpapi.Option{
			httpapi.WithActivity(pipe),
			httpapi.WithLogger(logging.WithComponent("httpapi")),
		}
		if scheduler.Available() {
			opts = append(opts, httpapi.WithVoice(scheduler, lister))
		}
		api := httpapi.New(cfg, ids, hub, metrics, opts...)
		httpServer := &http.Server{
			Addr:              cfg.BindAddr,
			Handler:           api.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			logger.Info().Str("addr", cfg.BindAddr).Msg("inspector listening")
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("inspector listen: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Warn().Err(err).Msg("inspector graceful shutdown failed")
				_ = httpServer.Close()
			}
			return nil
		})
	}

	lines := make(chan string)
	go readLines(lines)
	g.Go(func() error {
		return commandLoop(gctx, lines, pipe, text, ids)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, errQuit) {
		logger.Error().Err(err).Msg("stopped with error")
	}
	scheduler.Cancel()
	logger.Info().Msg("shutdown complete")
}

var errQuit = errors.New("quit")

// readLines never returns until stdin closes, so it stays outside the errgroup.
func readLines(out chan<- string) {
	defer close(out)
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		out <- sc.Text()
	}
}

func commandLoop(ctx context.Context, lines <-chan string, pipe *pipeline.Pipeline, text *capture.TextEngine, ids *identity.Manager) error {
	for {
		var line string
		select {
		case <-ctx.Done():
			return ctx.Err()
		case l, ok := <-lines:
			if !ok {
				// Let replies already streaming finish before exiting.
				waitCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
				_ = pipe.WaitIdle(waitCtx)
				cancel()
				return errQuit
			}
			line = strings.TrimSpace(l)
		}
		if line == "" {
			continue
		}

		cmd, arg, _ := strings.Cut(line, " ")
		var err error
		switch cmd {
		case "/press":
			err = pipe.Control(ctx, pipeline.Press)
		case "/release":
			err = pipe.Control(ctx, pipeline.Release)
		case "/stop":
			err = pipe.Control(ctx, pipeline.StopSpeaking)
		case "/clear":
			err = pipe.Control(ctx, pipeline.Clear)
		case "/session":
			id := ids.Current()
			if id == "" {
				id = "(none)"
			}
			fmt.Fprintln(os.Stdout, "session:", id)
		case "/interim":
			if text != nil && text.Listening() {
				text.Interim(arg)
			}
		case "/quit":
			return errQuit
		case "/help":
			fmt.Fprintln(os.Stdout, usage)
		default:
			if strings.HasPrefix(cmd, "/") {
				fmt.Fprintln(os.Stdout, usage)
				continue
			}
			if text != nil && text.Listening() {
				text.Type(line)
				continue
			}
			err = pipe.Submit(ctx, line)
		}
		if err != nil {
			return err
		}
	}
}
