package observ

import (
	"encoding/json"
	"fmt"
	"time"
)

// Log emits one JSON object per line to stdout. Kept log-shippable: flat
// keys, RFC3339Nano timestamps.
func Log(event string, kv map[string]any) {
	logWithLevel("info", event, kv)
}

// LogError is Log with level=error; reserved for failures an operator should
// see, every one of which is also reflected in the audit trail or DLQ.
func LogError(event string, kv map[string]any) {
	logWithLevel("error", event, kv)
}

func logWithLevel(level, event string, kv map[string]any) {
	if kv == nil {
		kv = map[string]any{}
	}
	kv["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	kv["level"] = level
	kv["event"] = event
	b, _ := json.Marshal(kv)
	fmt.Println(string(b))
}
