package main

import (
	"encoding/json"
	"log"
	"os"

	"github.com/rebeljah/stellatune-audio/util/fileutil"
)

// sessionState is what the demo binary remembers across runs: the last
// track opened and the last volume set. It is not part of the engine;
// it exists only so the CLI can greet a returning user with "last played"
// context, the way picast's own manifest is reloaded at startup.
type sessionState struct {
	LastTrack string  `json:"last_track"`
	Volume    float32 `json:"volume"`
}

func loadSessionState(path string) sessionState {
	st := sessionState{Volume: 1.0}

	created, err := fileutil.TouchFile(path)
	if err != nil {
		log.Printf("session state: could not touch %s: %v", path, err)
		return st
	}
	if created {
		return st
	}

	data, err := os.ReadFile(path)
	if err != nil || len(data) == 0 {
		return st
	}
	if err := json.Unmarshal(data, &st); err != nil {
		log.Printf("session state: ignoring corrupt state file: %v", err)
		return sessionState{Volume: 1.0}
	}
	return st
}

func saveSessionState(path string, st sessionState) {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		log.Printf("session state: marshal failed: %v", err)
		return
	}
	if err := fileutil.ReplaceFileContents(path, data); err != nil {
		log.Printf("session state: save failed: %v", err)
	}
}
