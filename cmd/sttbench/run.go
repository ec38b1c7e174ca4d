package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"github.com/leonardotrapani/sttbench/internal/logging"
	"github.com/leonardotrapani/sttbench/internal/tracing"
	"github.com/leonardotrapani/sttbench/internal/transcriber"
	"github.com/leonardotrapani/sttbench/internal/tui"
)

type runFlags struct {
	file      string
	providers []string
	language  string
	reference string
	duration  time.Duration
	realtime  bool
	partials  bool
	json      bool
}

func runCmd() *cobra.Command {
	var f runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one session against the selected providers",
		Long: `Run one benchmark session and print every provider's transcript.

Without --file the microphone is captured until Ctrl-C or --duration.
With --file the clip is sent to every provider as fast as they accept
it and no audio is dropped. With --realtime it is paced like a live
recording instead, and a slow provider loses frames as it would live.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(f)
		},
	}

	cmd.Flags().StringVarP(&f.file, "file", "f", "", "audio file (wav or mp3) instead of the microphone")
	cmd.Flags().StringSliceVarP(&f.providers, "providers", "p", nil, "provider ids, or \"all\" for every provider with a key")
	cmd.Flags().StringVarP(&f.language, "language", "l", "", "language code (default from config)")
	cmd.Flags().StringVarP(&f.reference, "reference", "r", "", "reference transcript to score against")
	cmd.Flags().DurationVar(&f.duration, "duration", 0, "stop after this long")
	cmd.Flags().BoolVar(&f.realtime, "realtime", false, "pace file playback at real time")
	cmd.Flags().BoolVar(&f.partials, "partials", false, "print interim results")
	cmd.Flags().BoolVar(&f.json, "json", false, "print the session result as JSON")

	return cmd
}

func runSession(f runFlags) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logging.WithComponent("run")

	shutdownTracing, err := tracing.Setup(context.Background(), cfg.Tracing)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		_ = shutdownTracing(ctx)
	}()

	rt, err := newRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var onEvent func(transcriber.Event)
	if !f.json {
		onEvent = func(ev transcriber.Event) {
			if !ev.IsFinal && !ev.IsError() && !f.partials {
				return
			}
			fmt.Println(tui.FormatEvent(ev))
		}
	}

	sess, p, err := rt.newPipeline(ctx, cfg, sessionOptions{
		Providers: f.providers,
		Language:  f.language,
		Reference: f.reference,
		File:      f.file,
		Realtime:  f.realtime,
		Timeout:   f.duration,
		OnEvent:   onEvent,
	})
	if err != nil {
		return err
	}

	if !f.json {
		if f.file == "" {
			fmt.Println(tui.StyleMuted.Render("Listening. Press Ctrl-C to finish."))
		}
		fmt.Println()
	}
	log.Debug().Str("sessionId", sess.ID).Msg("run: session started")

	p.Run(ctx)
	<-p.Done()

	res, resErr := p.Result()
	if res.Metadata.SessionID == "" {
		return resErr
	}
	if resErr != nil {
		log.Warn().Err(resErr).Msg("run: session finished with error")
	}

	if f.json {
		out, err := sonic.ConfigStd.MarshalIndent(res, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}
	fmt.Println()
	fmt.Print(tui.Report(res))
	return nil
}
