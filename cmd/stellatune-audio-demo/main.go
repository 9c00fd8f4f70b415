// Command stellatune-audio-demo is a minimal interactive harness for the
// playback engine: it wires a local-WAV-file assembler/runtime into an
// engine.Handle and drives it from a stdin REPL, supervised the way
// picast's mediaserver binary supervises its own actors (see
// mediaserver.RunPicastMediaServer / cmd/mediaserver/cmd/main.go).
package main

import (
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/oklog/run"

	"github.com/rebeljah/stellatune-audio/builtin"
	"github.com/rebeljah/stellatune-audio/engine"
	"github.com/rebeljah/stellatune-audio/eventhub"
	"github.com/rebeljah/stellatune-audio/metrics"
)

func logEvents(sub *eventhub.Subscription) {
	for ev := range sub.Events() {
		switch ev.Kind {
		case eventhub.KindStateChanged:
			log.Printf("event: state -> %v", ev.State)
		case eventhub.KindPosition:
			log.Printf("event: position %dms", ev.PositionMs)
		case eventhub.KindTrackChanged:
			log.Printf("event: track -> %v", ev.Track)
		case eventhub.KindRecovering:
			log.Printf("event: recovering attempt=%d backoff=%dms", ev.Attempt, ev.BackoffMs)
		case eventhub.KindEof:
			log.Println("event: eof")
		case eventhub.KindError:
			log.Printf("event: error %s", ev.Message)
		case eventhub.KindVolumeChanged:
			log.Printf("event: volume -> %.2f", ev.Volume)
		}
	}
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, continuing with process environment")
	}

	statePath := "stellatune-demo-state.json"
	state := loadSessionState(statePath)
	if state.LastTrack != "" {
		log.Printf("last session played: %s", state.LastTrack)
	}

	cfg := engine.DefaultConfig()
	cfg.InitialVolume = state.Volume
	cfg.MetricsSink = metrics.Sink(metrics.NoopSink{})

	assembler := builtin.NewLocalAssembler()
	runtime := builtin.NewLocalRuntime(2)

	handle := engine.New(assembler, runtime, cfg)
	sub := handle.SubscribeEvents()
	go logEvents(sub)

	cli := NewCLI(handle)

	var rg run.Group

	signalTrap := make(chan os.Signal, 1)
	signal.Notify(signalTrap, syscall.SIGINT, syscall.SIGTERM)
	rg.Add(
		func() error {
			if sig, ok := <-signalTrap; ok {
				log.Printf("stellatune-audio-demo rungroup interrupt due to: %v", sig)
				return errors.New(sig.String() + " signal")
			}
			return nil
		},
		func(error) {
			signal.Stop(signalTrap)
			close(signalTrap)
		},
	)

	rg.Add(cli.Run, cli.Interrupt)

	log.Println("starting stellatune-audio-demo run group")
	err := rg.Run()
	log.Printf("run group exited: %v", err)

	sub.Unsubscribe()

	if snap, snapErr := handle.Snapshot(); snapErr == nil && snap.HasTrack {
		state.LastTrack = string(snap.CurrentTrack)
	}
	state.Volume = handle.Volume()
	saveSessionState(statePath, state)

	if err := handle.Shutdown(); err != nil {
		log.Printf("engine shutdown error: %v", err)
	}
}
