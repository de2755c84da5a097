package evm

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// LoadABIs loads every ABI JSON file under dirs and indexes their declared
// events by name. The result is keyed by event name rather than by source
// file: RuleMatcher (the only caller, via FindEvent) looks an event up by
// the name parsed out of a handler's EventSignature, never by which file it
// came from, so there is no reason to keep the file-path layer between
// loading and lookup. A later file redeclaring an already-seen event name
// overwrites the earlier one.
func LoadABIs(dirs []string) (map[string]*abi.Event, error) {
	events := map[string]*abi.Event{}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !strings.HasSuffix(strings.ToLower(d.Name()), ".json") {
				return nil
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read abi %s: %w", path, err)
			}
			a, err := abi.JSON(bytes.NewReader(data))
			if err != nil {
				return fmt.Errorf("parse abi %s: %w", path, err)
			}
			for name, ev := range a.Events {
				ev := ev
				events[name] = &ev
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return events, nil
}

// FindEvent looks up a previously loaded event by name.
func FindEvent(events map[string]*abi.Event, name string) (*abi.Event, bool) {
	ev, ok := events[name]
	return ev, ok
}
