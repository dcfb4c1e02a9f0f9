package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aistory/aistory-web/internal/jobtrack"
	"github.com/aistory/aistory-web/internal/platform/envutil"
	"github.com/aistory/aistory-web/internal/platform/logger"
)

// jobwatch submits a video-generation idea to the gateway and tracks the
// job to a terminal state, printing progress as snapshots arrive.
func main() {
	gateway := flag.String("gateway", envutil.Str("GATEWAY_URL", "http://localhost:8080"), "gateway base URL")
	idea := flag.String("idea", "", "video idea to submit")
	style := flag.String("style", "cinematic", "visual style (cinematic|anime)")
	testMode := flag.Bool("test", false, "run the engine in test mode")
	resumeID := flag.String("job", "", "resume tracking an existing job id instead of submitting")
	cancelAfter := flag.Duration("cancel-after", 0, "cancel the job after this duration (0 = never)")
	flag.Parse()

	log, err := logger.New(envutil.Str("LOG_MODE", "production"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	tokens := jobtrack.StaticToken(envutil.Str("AISTORY_TOKEN", ""))
	client := jobtrack.NewClient(*gateway, tokens, log)
	watcher := jobtrack.NewSSEWatcher(*gateway, tokens, log)
	store := jobtrack.New(client, watcher, log,
		jobtrack.WithPollInterval(envutil.Dur("JOB_POLL_INTERVAL", 2*time.Second)))
	defer store.ResetJob()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	updates := store.Subscribe()

	switch {
	case *resumeID != "":
		job, err := client.GetJob(ctx, *resumeID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "fetch job: %v\n", err)
			os.Exit(1)
		}
		store.ResumeJob(job)
	case *idea != "":
		resp, err := store.CreateJob(ctx, jobtrack.CreateJobRequest{
			Idea:     *idea,
			Style:    *style,
			TestMode: *testMode,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "create job: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("job %s queued (position %d)\n", resp.JobID, resp.QueuePosition)
	default:
		fmt.Fprintln(os.Stderr, "either -idea or -job is required")
		os.Exit(2)
	}

	var cancelTimer <-chan time.Time
	if *cancelAfter > 0 {
		cancelTimer = time.After(*cancelAfter)
	}

	printed := 0
	lastState := jobtrack.AppState("")
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(os.Stderr, "interrupted")
			os.Exit(1)

		case <-cancelTimer:
			cancelTimer = nil
			snap := store.Snapshot()
			if snap.CurrentJobID == "" {
				continue
			}
			res, err := store.RemoveJob(ctx, snap.CurrentJobID)
			if err != nil {
				fmt.Fprintf(os.Stderr, "cancel job: %v\n", err)
				continue
			}
			fmt.Printf("cancel requested: %s\n", res.Message)
			if res.Status == "" || res.Status == "deleted" {
				os.Exit(0)
			}

		case <-updates:
			snap := store.Snapshot()
			if snap.AppState != lastState {
				lastState = snap.AppState
				fmt.Printf("state: %s\n", snap.AppState)
			}
			logs := store.Logs()
			if printed > len(logs) {
				printed = len(logs)
			}
			for _, entry := range logs[printed:] {
				line := entry.Message
				if entry.Step != "" {
					line = "[" + entry.Step + "] " + line
				}
				fmt.Println(line)
			}
			printed = len(logs)

			switch snap.AppState {
			case jobtrack.AppStateComplete:
				if data, ok := store.CompletionData(); ok {
					fmt.Printf("video: %s\ntitle: %s\n", data.VideoURL, data.SuggestedTitle)
					if len(data.SuggestedHashtags) > 0 {
						fmt.Printf("hashtags: %s\n", strings.Join(data.SuggestedHashtags, " "))
					}
					if data.GenerationTime != nil {
						fmt.Printf("generated in %.0fs\n", *data.GenerationTime)
					}
				}
				os.Exit(0)
			case jobtrack.AppStateError:
				fmt.Fprintf(os.Stderr, "generation failed: %s\n", snap.Err)
				os.Exit(1)
			}
		}
	}
}
