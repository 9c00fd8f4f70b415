package stage

import "testing"

func TestStatusString(t *testing.T) {
	cases := map[Status]string{
		StatusOK:    "ok",
		StatusEOF:   "eof",
		StatusFatal: "fatal",
		Status(99):  "unknown",
	}
	for status, want := range cases {
		if got := status.String(); got != want {
			t.Errorf("Status(%d).String() = %q, want %q", status, got, want)
		}
	}
}

func TestStatusIsTerminal(t *testing.T) {
	if StatusOK.IsTerminal() {
		t.Error("StatusOK should not be terminal")
	}
	if !StatusEOF.IsTerminal() {
		t.Error("StatusEOF should be terminal")
	}
	if !StatusFatal.IsTerminal() {
		t.Error("StatusFatal should be terminal")
	}
}

func TestStreamSpecValid(t *testing.T) {
	if (StreamSpec{}).Valid() {
		t.Error("zero-value spec should be invalid")
	}
	if !(StreamSpec{SampleRate: 44100, Channels: 2}).Valid() {
		t.Error("44100/2 should be valid")
	}
	if (StreamSpec{SampleRate: 44100}).Valid() {
		t.Error("zero channels should be invalid")
	}
}

func TestGaplessTrimSpecIsDisabled(t *testing.T) {
	if !(GaplessTrimSpec{}).IsDisabled() {
		t.Error("zero-value trim spec should be disabled")
	}
	if (GaplessTrimSpec{LeadInFrames: 1}).IsDisabled() {
		t.Error("non-zero lead-in should not be disabled")
	}
	if (GaplessTrimSpec{LeadOutFrames: 1}).IsDisabled() {
		t.Error("non-zero lead-out should not be disabled")
	}
}

func TestPipelineContextReseat(t *testing.T) {
	ctx := NewPipelineContext()
	if ctx.Hot == nil {
		t.Fatal("NewPipelineContext should initialize Hot")
	}

	ctx.Reseat(5000)
	if ctx.PositionMs != 5000 {
		t.Errorf("PositionMs = %d, want 5000", ctx.PositionMs)
	}
	if ctx.Generation != 1 {
		t.Errorf("Generation = %d, want 1", ctx.Generation)
	}

	ctx.Reseat(-100)
	if ctx.PositionMs != 0 {
		t.Errorf("negative position should clamp to 0, got %d", ctx.PositionMs)
	}
	if ctx.Generation != 2 {
		t.Errorf("Generation = %d, want 2", ctx.Generation)
	}
}

func TestAudioBlockReset(t *testing.T) {
	b := AudioBlock{Data: make([]float32, 8), Frames: 4}
	b.Reset()
	if b.Frames != 0 {
		t.Errorf("Frames = %d, want 0", b.Frames)
	}
	if cap(b.Data) != 8 {
		t.Errorf("Reset must not release the backing array, cap = %d", cap(b.Data))
	}
}
