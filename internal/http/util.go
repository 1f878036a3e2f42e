package httpx

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/target/mmk-autoingest/internal/domain/model"
)

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

// parseWaitQuery reads ?wait= as seconds or a Go duration ("15s").
func parseWaitQuery(r *http.Request, maxWait time.Duration) time.Duration {
	v := strings.TrimSpace(r.URL.Query().Get("wait"))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		d = time.Duration(parseIntQuery(r, "wait", 0)) * time.Second
	}
	if d < 0 {
		return 0
	}
	return min(d, maxWait)
}

// pathKey builds the JobKey from the {case} and {source} path values.
func pathKey(w http.ResponseWriter, r *http.Request) (model.JobKey, bool) {
	key := model.JobKey{
		CaseName:   strings.TrimSpace(r.PathValue("case")),
		DataSource: strings.TrimSpace(r.PathValue("source")),
	}
	if err := key.Validate(); err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: err})
		return model.JobKey{}, false
	}
	return key, true
}

// pathHost reads the {host} path value.
func pathHost(w http.ResponseWriter, r *http.Request) (string, bool) {
	host := strings.TrimSpace(r.PathValue("host"))
	if host == "" {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "invalid_path",
			Err:     errors.New("host name is required"),
		})
		return "", false
	}
	return host, true
}
