package router

import (
	"math/rand/v2"
	"strings"
	"sync/atomic"
	"time"
)

var ridSeq uint64

func newReqID() string {
	n := atomic.AddUint64(&ridSeq, 1)
	return base36(time.Now().UnixNano()) + "-" + base36(int64(n)) + randSuffix(2)
}

func randSuffix(n int) string {
	const alpha = "abcdefghijklmnopqrstuvwxyz0123456789"
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteByte(alpha[rand.IntN(len(alpha))])
	}
	return b.String()
}

func base36(v int64) string {
	const chars = "0123456789abcdefghijklmnopqrstuvwxyz"
	if v < 0 {
		v = -v
	}
	if v == 0 {
		return "0"
	}
	var out [32]byte
	i := len(out)
	for v > 0 {
		i--
		out[i] = chars[v%36]
		v /= 36
	}
	return string(out[i:])
}

// tokenizeCommandLine splits command text into tokens. Quotes group words and
// may start mid-token, so title="Raid night" is a single token.
//
//	/event when="next tue 7pm" title='Raid night' lead=60,10
func tokenizeCommandLine(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var (
		out     []string
		buf     strings.Builder
		inQ     bool
		qChar   rune
		esc     bool
		started bool
	)
	flush := func() {
		if started {
			out = append(out, buf.String())
			buf.Reset()
			started = false
		}
	}
	for _, ch := range s {
		if esc {
			buf.WriteRune(ch)
			esc = false
			continue
		}
		if ch == '\\' {
			esc = true
			started = true
			continue
		}
		if inQ {
			if ch == qChar {
				inQ = false
				continue
			}
			buf.WriteRune(ch)
			continue
		}
		switch ch {
		case '"', '\'', '“', '”':
			inQ = true
			qChar = ch
			if ch == '“' {
				qChar = '”'
			}
			started = true
		case ' ', '\t', '\n', '\r':
			flush()
		default:
			buf.WriteRune(ch)
			started = true
		}
	}
	flush()
	return out
}

// parseOptions splits args into positionals and key=value options. Keys are
// lowercased; only [a-z_] keys count, so "2+2=4" stays positional.
func parseOptions(args []string) (pos []string, opts map[string]string) {
	opts = map[string]string{}
	for _, a := range args {
		if k, v, ok := strings.Cut(a, "="); ok && validOptKey(k) {
			opts[strings.ToLower(k)] = strings.TrimSpace(v)
			continue
		}
		pos = append(pos, a)
	}
	return pos, opts
}

func validOptKey(k string) bool {
	if k == "" {
		return false
	}
	for _, r := range strings.ToLower(k) {
		if (r < 'a' || r > 'z') && r != '_' {
			return false
		}
	}
	return true
}
