package backend

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/kontrakt/core"
	"github.com/relabs-tech/kontrakt/core/contract"
	"github.com/relabs-tech/kontrakt/core/logger"
)

// reserved query parameters. Everything else is treated as a filter on
// the equally named field; unknown names are dropped by the allowlist.
var reservedParameters = map[string]bool{
	"page":     true,
	"pageSize": true,
	"limit":    true,
	"sort":     true,
	"search":   true,
	"fields":   true,
	"expand":   true,
}

// parseQuerySpec translates URL query parameters into the engine's query
// and expansion specs. Malformed numbers are a client error; range
// clamping happens later in the engine.
func parseQuerySpec(r *http.Request) (contract.QuerySpec, contract.ExpandSpec, error) {
	spec := contract.QuerySpec{Filters: map[string]string{}}
	var expand contract.ExpandSpec

	var err error
	for key, array := range r.URL.Query() {
		if len(array) > 1 {
			return spec, expand, fmt.Errorf("illegal parameter array '%s'", key)
		}
		value := array[0]
		switch key {
		case "page":
			spec.Page, err = strconv.Atoi(value)
			if err != nil {
				return spec, expand, fmt.Errorf("parameter 'page': %s", err.Error())
			}
		case "pageSize", "limit":
			spec.PageSize, err = strconv.Atoi(value)
			if err != nil {
				return spec, expand, fmt.Errorf("parameter '%s': %s", key, err.Error())
			}
		case "sort":
			spec.Sort = value
		case "search":
			spec.Search = value
		case "fields":
			spec.Fields = value
		case "expand":
			for _, name := range strings.Split(value, ",") {
				if name = strings.TrimSpace(name); name != "" {
					expand.Expand = append(expand.Expand, name)
				}
			}
		default:
			spec.Filters[key] = value
		}
	}
	return spec, expand, nil
}

// writeError maps an engine error onto an http status and a JSON error
// document. Internal failures log their cause and surface only the
// correlation id.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	type errorDocument struct {
		Error         string              `json:"error"`
		Fields        map[string][]string `json:"fields,omitempty"`
		Violations    []string            `json:"violations,omitempty"`
		CorrelationID string              `json:"correlation_id,omitempty"`
	}

	rlog := logger.FromContext(r.Context())
	doc := errorDocument{Error: err.Error()}
	status := http.StatusInternalServerError

	var ce *core.Error
	switch core.KindOf(err) {
	case core.KindValidation:
		status = http.StatusBadRequest
	case core.KindNotFound:
		status = http.StatusNotFound
	case core.KindConflict:
		status = http.StatusConflict
	case core.KindForbidden:
		status = http.StatusForbidden
	}
	if errors.As(err, &ce) {
		doc.Fields = ce.Fields
		doc.Violations = ce.Violations
		doc.CorrelationID = ce.CorrelationID
	}
	if status == http.StatusInternalServerError {
		rlog.WithError(err).Errorln("internal error", doc.CorrelationID)
		doc.Error = "internal error"
		doc.Fields = nil
		doc.Violations = nil
	}
	writeJSON(w, status, doc)
}

func writeJSON(w http.ResponseWriter, status int, document any) {
	data, _ := json.MarshalWithOption(document, json.DisableHTMLEscape())
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}
