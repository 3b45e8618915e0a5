package httpapi

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/artobs/taxongrid/internal/apperr"
)

func queryInt(q url.Values, key string, def int) (int, error) {
	v := strings.TrimSpace(q.Get(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, apperr.New(apperr.BadRequest, "invalid integer for "+key)
	}
	return n, nil
}

func queryFloat(q url.Values, key string, def float64) (float64, error) {
	v := strings.TrimSpace(q.Get(key))
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, apperr.New(apperr.BadRequest, "invalid number for "+key)
	}
	return f, nil
}

func requireQueryInt(q url.Values, key string) (int, error) {
	v := strings.TrimSpace(q.Get(key))
	if v == "" {
		return 0, apperr.New(apperr.BadRequest, "missing required parameter: "+key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, apperr.New(apperr.BadRequest, "invalid integer for "+key)
	}
	return n, nil
}

func requireQueryFloat(q url.Values, key string) (float64, error) {
	v := strings.TrimSpace(q.Get(key))
	if v == "" {
		return 0, apperr.New(apperr.BadRequest, "missing required parameter: "+key)
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, apperr.New(apperr.BadRequest, "invalid number for "+key)
	}
	return f, nil
}

// queryIntCSV parses a comma-separated list of ints, e.g. slot_ids=1,2,3.
func queryIntCSV(q url.Values, key string) ([]int, error) {
	raw := strings.TrimSpace(q.Get(key))
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, apperr.New(apperr.BadRequest, "invalid integer in "+key)
		}
		out = append(out, n)
	}
	return out, nil
}
