package logfields

import (
	"log/slog"
	"time"
)

// Canonical log field name constants to avoid drift across packages.
const (
	KeyKey        = "key"
	KeyHandler    = "handler"
	KeyOrigin     = "origin"
	KeyRequestID  = "request_id"
	KeyMode       = "mode"
	KeyFromMode   = "from_mode"
	KeyEvent      = "event"
	KeyPath       = "path"
	KeyResult     = "result"
	KeyDurationMS = "duration_ms"
	KeyEraseType  = "erase_type"
	KeyCount      = "count"
	KeyError      = "error"
	KeyMethod     = "method"
	KeyStatus     = "status"
	KeyRemoteAddr = "remote_addr"
	KeyUserAgent  = "user_agent"
)

func Key(k string) slog.Attr        { return slog.String(KeyKey, k) }
func Handler(name string) slog.Attr { return slog.String(KeyHandler, name) }
func Origin(o string) slog.Attr     { return slog.String(KeyOrigin, o) }
func RequestID(id string) slog.Attr { return slog.String(KeyRequestID, id) }
func Mode(m string) slog.Attr       { return slog.String(KeyMode, m) }
func FromMode(m string) slog.Attr   { return slog.String(KeyFromMode, m) }
func Event(kind string) slog.Attr   { return slog.String(KeyEvent, kind) }
func Path(p string) slog.Attr       { return slog.String(KeyPath, p) }
func Result(r string) slog.Attr     { return slog.String(KeyResult, r) }
func EraseType(t string) slog.Attr  { return slog.String(KeyEraseType, t) }
func Count(n int) slog.Attr         { return slog.Int(KeyCount, n) }
func Method(m string) slog.Attr     { return slog.String(KeyMethod, m) }
func Status(code int) slog.Attr     { return slog.Int(KeyStatus, code) }
func RemoteAddr(a string) slog.Attr { return slog.String(KeyRemoteAddr, a) }
func UserAgent(ua string) slog.Attr { return slog.String(KeyUserAgent, ua) }
func Duration(d time.Duration) slog.Attr {
	return slog.Float64(KeyDurationMS, float64(d.Microseconds())/1000)
}
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
