package agent

import (
	"encoding/json"
	"os"
	"os/user"
	"runtime"
	"strings"
	"time"

	"github.com/hession/korah/internal/tools"
)

// defaultLocale is reported when the environment names no usable locale
const defaultLocale = "en-US"

// QueryContext describes the machine a query runs on. It is serialized into
// the query template so the LLM can resolve relative dates, home paths and such.
type QueryContext struct {
	OSName       string          `json:"os_name"`
	SystemLocale string          `json:"system_locale"`
	TimeNow      tools.NaiveTime `json:"time_now"`
	Username     string          `json:"username"`
}

// NewQueryContext snapshots the current machine state
func NewQueryContext() QueryContext {
	return QueryContext{
		OSName:       runtime.GOOS,
		SystemLocale: systemLocale(),
		TimeNow:      tools.NewNaiveTime(time.Now()),
		Username:     username(),
	}
}

// systemLocale converts a POSIX locale such as en_US.UTF-8 to a BCP 47 tag
func systemLocale() string {
	for _, key := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		v := os.Getenv(key)
		if v == "" || v == "C" || v == "POSIX" || strings.HasPrefix(v, "C.") {
			continue
		}
		if i := strings.IndexAny(v, ".@"); i >= 0 {
			v = v[:i]
		}
		return strings.ReplaceAll(v, "_", "-")
	}
	return defaultLocale
}

func username() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	for _, key := range []string{"USER", "USERNAME"} {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return "unknown"
}

// FormatQuery substitutes {context} and {query} in format. Substitution is a
// single pass, so placeholders inside the query text are left alone.
func FormatQuery(format string, qc QueryContext, query string) string {
	data, err := json.Marshal(qc)
	if err != nil {
		data = []byte("{}")
	}
	return strings.NewReplacer("{context}", string(data), "{query}", query).Replace(format)
}
