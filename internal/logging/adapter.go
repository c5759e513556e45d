/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package logging

import (
	"fmt"

	"raft/raft"
)

// Adapter satisfies raft.Logger over a *Logger, translating the core's
// printf-style calls into this package's message+keyvals calls.
type Adapter struct {
	l *Logger
}

// NewAdapter wraps a component-tagged Logger for use as Config.Logger.
func NewAdapter(component string) raft.Logger {
	return Adapter{l: NewLogger(component)}
}

func (a Adapter) Debugf(format string, args ...any) { a.l.Debug(fmt.Sprintf(format, args...)) }
func (a Adapter) Infof(format string, args ...any)  { a.l.Info(fmt.Sprintf(format, args...)) }
func (a Adapter) Warnf(format string, args ...any)  { a.l.Warn(fmt.Sprintf(format, args...)) }
func (a Adapter) Errorf(format string, args ...any) { a.l.Error(fmt.Sprintf(format, args...)) }

func (a Adapter) With(keyvals ...any) raft.Logger {
	return Adapter{l: a.l.With(keyvals...)}
}
