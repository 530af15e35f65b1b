package trellis

import (
	"encoding/json"
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/golang/glog"
)

// Logging convention for this package:
//   - glog.V(1): one line per commit, import and checkout
//   - glog.V(2): per-batch dispatch detail
//   - glog.Warningf: recovered callback panics (with stack)
//   - glog.Errorf: rejected import bytes

// errorJSON renders a recovered value and its stack as one JSON line.
func errorJSON(err any, stack []byte) string {
	stackLines := []string{}
	for _, line := range strings.Split(string(stack), "\n") {
		stackLines = append(stackLines, strings.TrimSpace(line))
	}
	out, _ := json.Marshal(map[string]any{
		"error": fmt.Sprintf("%T=%s", err, err),
		"stack": stackLines,
	})
	return string(out)
}

// handleCallback runs fn, converting a panic into a logged warning and an
// error. Each subscriber callback is isolated this way.
func handleCallback(tag string, fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			glog.Warningf("[%s] unexpected error: %s\n", tag, errorJSON(r, debug.Stack()))
			if e, ok := r.(error); ok {
				err = e
			} else {
				err = fmt.Errorf("%v", r)
			}
		}
	}()
	fn()
	return nil
}
