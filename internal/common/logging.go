// Copyright 2026 fstree Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package common

import (
	"fmt"
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
)

// LogEnv overrides the configured log level when set.
const LogEnv = "FSTREE_LOG"

// SetupLogging configures the standard logrus logger. Level names are case
// insensitive: none, error, warn, info, debug, trace. "none" (or an empty
// level) discards all output.
func SetupLogging(level string) error {
	if env := os.Getenv(LogEnv); env != "" {
		level = env
	}
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "" || level == "none" {
		log.SetOutput(io.Discard)
		log.SetLevel(log.PanicLevel)
		return nil
	}
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid logging level %q: %w", level, err)
	}
	log.SetOutput(os.Stderr)
	log.SetLevel(lvl)
	log.SetFormatter(&log.TextFormatter{DisableTimestamp: true})
	return nil
}
