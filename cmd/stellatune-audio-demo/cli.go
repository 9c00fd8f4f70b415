package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/rebeljah/stellatune-audio/engine"
	"github.com/rebeljah/stellatune-audio/pipeline"
	"github.com/rebeljah/stellatune-audio/stage"
	"github.com/rebeljah/stellatune-audio/util/strutil"
	"github.com/urfave/cli/v3"
)

// ErrReadCancelled wraps the cause of a CancelableReader's forced stop, so
// callers can tell an intentional shutdown from a real stdin error.
type ErrReadCancelled struct {
	cause error
}

func (e ErrReadCancelled) Error() string { return "read cancelled" }
func (e ErrReadCancelled) Unwrap() error { return e.cause }

var errReadCancelled ErrReadCancelled

var errExitFromCLI = errors.New("CLI exit")

// CancelableReader lets the CLI's blocking stdin read be interrupted by a
// shutdown signal coming from elsewhere in the run group.
type CancelableReader struct {
	cancel <-chan error
	data   chan []byte
	err    error
	r      io.Reader
}

func (c *CancelableReader) begin() {
	buf := make([]byte, 1024)
	for {
		n, err := c.r.Read(buf)
		if n > 0 {
			tmp := make([]byte, n)
			copy(tmp, buf[:n])
			c.data <- tmp
		}
		if err != nil {
			c.err = err
			close(c.data)
			return
		}
	}
}

func (c *CancelableReader) Read(p []byte) (int, error) {
	select {
	case err := <-c.cancel:
		return 0, ErrReadCancelled{cause: err}
	case d, ok := <-c.data:
		if !ok {
			return 0, c.err
		}
		copy(p, d)
		return len(d), nil
	}
}

// NewCancelableReader wraps r and starts its background read loop.
func NewCancelableReader(cancel <-chan error, r io.Reader) *CancelableReader {
	c := &CancelableReader{cancel: cancel, r: r, data: make(chan []byte)}
	go c.begin()
	return c
}

// CLI is the interactive REPL driving an engine.Handle, grounded on
// picast's mediaserver.CLI: a cancelable stdin reader feeding a urfave/cli
// command tree, one line at a time.
type CLI struct {
	handle        *engine.Handle
	reader        *CancelableReader
	cancelReader  chan<- error
	interruptOnce sync.Once
}

// NewCLI returns a CLI driving handle.
func NewCLI(handle *engine.Handle) *CLI {
	c := make(chan error, 1)
	return &CLI{
		handle:       handle,
		reader:       NewCancelableReader(c, os.Stdin),
		cancelReader: c,
	}
}

func (c *CLI) commandOpen(ctx context.Context, cmd *cli.Command) error {
	path := cmd.Value("path").(string)
	autoplay := cmd.Value("play").(bool)
	if err := c.handle.SwitchTrackToken(stage.InputRef(path), autoplay); err != nil {
		return err
	}
	log.Printf("opened %s (autoplay=%v)", path, autoplay)
	return nil
}

func (c *CLI) commandQueueNext(ctx context.Context, cmd *cli.Command) error {
	path := cmd.Value("path").(string)
	if err := c.handle.QueueNextTrackToken(stage.InputRef(path)); err != nil {
		return err
	}
	log.Printf("queued next: %s", path)
	return nil
}

func (c *CLI) commandPlay(ctx context.Context, cmd *cli.Command) error {
	return c.handle.Play()
}

func (c *CLI) commandPause(ctx context.Context, cmd *cli.Command) error {
	if cmd.Value("drain").(bool) {
		return c.handle.PauseWith(pipeline.PauseDrainQueue)
	}
	return c.handle.Pause()
}

func (c *CLI) commandStop(ctx context.Context, cmd *cli.Command) error {
	if cmd.Value("drain").(bool) {
		return c.handle.StopWith(pipeline.StopDrainQueue)
	}
	return c.handle.Stop()
}

func (c *CLI) commandSeek(ctx context.Context, cmd *cli.Command) error {
	ms, err := strconv.ParseInt(cmd.Value("ms").(string), 10, 64)
	if err != nil {
		return err
	}
	return c.handle.SeekMs(ms)
}

func (c *CLI) commandVolume(ctx context.Context, cmd *cli.Command) error {
	v, err := strconv.ParseFloat(cmd.Value("level").(string), 32)
	if err != nil {
		return err
	}
	c.handle.SetVolume(float32(v))
	return nil
}

func (c *CLI) commandStatus(ctx context.Context, cmd *cli.Command) error {
	snap, err := c.handle.Snapshot()
	if err != nil {
		return err
	}
	fmt.Printf("state=%v track=%v position_ms=%d\n", snap.State, snap.CurrentTrack, snap.PositionMs)
	return nil
}

// commandApplyControl parses a bare numeric/bool/string value off the
// command line into the type named by the --type flag (float, int, bool;
// any other name parses as a string). The CLI has no
// static schema for arbitrary stage controls, so it falls back to
// strutil's reflect-driven Stov the way picast's own manifest-editing
// commands convert free-form CLI input into typed fields.
func (c *CLI) commandApplyControl(ctx context.Context, cmd *cli.Command) error {
	key := cmd.Value("key").(string)
	raw := cmd.Value("value").(string)
	kind := cmd.Value("type").(string)

	var typ reflect.Type
	switch kind {
	case "float":
		typ = reflect.TypeOf(float64(0))
	case "int":
		typ = reflect.TypeOf(int64(0))
	case "bool":
		typ = reflect.TypeOf(false)
	default:
		typ = reflect.TypeOf("")
	}

	value, err := strutil.Stov(raw, typ)
	if err != nil {
		return err
	}
	if err := c.handle.ApplyStageControl(key, value); err != nil {
		return err
	}
	echoed, err := strutil.Vtos(value)
	if err != nil {
		return err
	}
	fmt.Printf("applied %s=%s\n", key, echoed)
	return nil
}

func (c *CLI) buildCommand() *cli.Command {
	return &cli.Command{
		Commands: []*cli.Command{
			{
				Name:  "open",
				Usage: "open a local WAV file as the active track",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Required: true, TakesFile: true},
					&cli.BoolFlag{Name: "play", Value: true, Usage: "start playback immediately"},
				},
				Action: c.commandOpen,
			},
			{
				Name:  "queue-next",
				Usage: "prewarm a WAV file to play gaplessly after the active track",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Required: true, TakesFile: true},
				},
				Action: c.commandQueueNext,
			},
			{Name: "play", Usage: "resume playback", Action: c.commandPlay},
			{
				Name:  "pause",
				Usage: "pause playback",
				Flags: []cli.Flag{&cli.BoolFlag{Name: "drain", Usage: "let queued audio finish before pausing"}},
				Action: c.commandPause,
			},
			{
				Name:  "stop",
				Usage: "tear down the active pipeline",
				Flags: []cli.Flag{&cli.BoolFlag{Name: "drain", Usage: "let queued audio finish before stopping"}},
				Action: c.commandStop,
			},
			{
				Name:  "seek",
				Usage: "seek to an absolute position",
				Flags: []cli.Flag{&cli.StringFlag{Name: "ms", Required: true}},
				Action: c.commandSeek,
			},
			{
				Name:  "volume",
				Usage: "set master volume in [0,1]",
				Flags: []cli.Flag{&cli.StringFlag{Name: "level", Required: true}},
				Action: c.commandVolume,
			},
			{Name: "status", Usage: "print the current snapshot", Action: c.commandStatus},
			{
				Name:  "apply-control",
				Usage: "apply an opaque control value to a transform stage by key",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "key", Required: true, Usage: "e.g. builtin.master_gain"},
					&cli.StringFlag{Name: "value", Required: true},
					&cli.StringFlag{Name: "type", Value: "float", Usage: "float|int|bool|string"},
				},
				Action: c.commandApplyControl,
			},
			{
				Name: "exit",
				Action: func(context.Context, *cli.Command) error {
					c.Interrupt(errExitFromCLI)
					return nil
				},
			},
		},
	}
}

// Run drives the REPL until stdin closes, "exit" is entered, or Interrupt
// is called from elsewhere in the run group.
func (c *CLI) Run() error {
	log.Println("stellatune-audio-demo CLI running")
	defer log.Println("stellatune-audio-demo CLI stopped")

	cli.OsExiter = func(int) {}
	cmd := c.buildCommand()

	reader := bufio.NewReader(c.reader)
	for {
		fmt.Print("stellatune> ")

		input, err := reader.ReadString('\n')
		if err != nil {
			if errors.As(err, &errReadCancelled) {
				return errors.Unwrap(err)
			}
			return err
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		args := append([]string{"stellatune"}, strings.Fields(input)...)
		if err := cmd.Run(context.Background(), args); err != nil {
			log.Println(err)
		}
	}
}

// Interrupt stops the CLI's stdin read, unblocking Run.
func (c *CLI) Interrupt(cause error) {
	c.interruptOnce.Do(func() {
		log.Printf("stopping stellatune-audio-demo CLI: %v\n", cause)
		c.cancelReader <- cause
	})
}
