/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"go.uber.org/multierr"
)

// ReplayStats summarises a replay.
type ReplayStats struct {
	Read    int `json:"read"`
	Skipped int `json:"skipped"`
	Written int `json:"written"`
	Failed  int `json:"failed"`
}

// ReadJSONL decodes one event per line. Blank lines are ignored; malformed
// or invalid lines are skipped individually and counted. Only an I/O error
// from r stops the read.
func ReadJSONL(r io.Reader) ([]Event, int, error) {
	var events []Event
	skipped, err := scanJSONL(r, func(e Event) error {
		events = append(events, e)
		return nil
	})
	return events, skipped, err
}

// Replay feeds every decodable record in r into sink, e.g. to rebuild a
// StreamSink after a restart. Sink failures are collected, not fatal.
func Replay(ctx context.Context, r io.Reader, sink Sink) (ReplayStats, error) {
	var stats ReplayStats
	var errs error
	skipped, err := scanJSONL(r, func(e Event) error {
		stats.Read++
		if err := ctx.Err(); err != nil {
			return err
		}
		if werr := sink.Write(ctx, e); werr != nil {
			stats.Failed++
			errs = multierr.Append(errs, fmt.Errorf("replay %s: %w", e.EventID, werr))
			return nil
		}
		stats.Written++
		return nil
	})
	stats.Skipped = skipped
	return stats, multierr.Append(err, errs)
}

func scanJSONL(r io.Reader, fn func(Event) error) (int, error) {
	br := bufio.NewReader(r)
	skipped := 0
	for {
		line, readErr := br.ReadBytes('\n')
		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			var e Event
			if err := json.Unmarshal(line, &e); err != nil || e.Validate() != nil {
				skipped++
			} else if err := fn(e); err != nil {
				return skipped, err
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return skipped, nil
			}
			return skipped, fmt.Errorf("read audit log: %w", readErr)
		}
	}
}
