package view

import (
	"fmt"
	"strconv"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/eduops/internal/pipeline"
	"github.com/starford/eduops/internal/source"
)

// ParseRange reads an inclusive range from two optional params. Absent
// bounds default to the domain [floor, ceil].
func ParseRange(p source.Params, minKey, maxKey string, floor, ceil float64) (pipeline.Range, error) {
	r := pipeline.FullRange(floor, ceil)
	var err error
	if r.Min, err = parseBound(p, minKey, floor); err != nil {
		return r, err
	}
	if r.Max, err = parseBound(p, maxKey, ceil); err != nil {
		return r, err
	}
	err = validation.Errors{
		minKey: validation.Validate(r.Min, validation.Min(floor), validation.Max(ceil)),
		maxKey: validation.Validate(r.Max, validation.Min(floor), validation.Max(ceil)),
	}.Filter()
	if err != nil {
		return r, err
	}
	if r.Min > r.Max {
		return r, fmt.Errorf("%s must not exceed %s", minKey, maxKey)
	}
	return r, nil
}

func parseBound(p source.Params, key string, def float64) (float64, error) {
	raw := strings.TrimSpace(p[key])
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, validation.Errors{key: validation.NewError("validation_is_number", "must be a number")}
	}
	return v, nil
}

// ParseList splits a comma-separated multi-select param. Blank entries and
// the "all" sentinel are dropped.
func ParseList(p source.Params, key string) []string {
	raw := strings.TrimSpace(p[key])
	if raw == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(raw, ",") {
		if v = strings.TrimSpace(v); v != "" && v != pipeline.All {
			out = append(out, v)
		}
	}
	return out
}

// ParseEnum returns the value of key, which must be one of allowed or "all".
// An absent value yields "all".
func ParseEnum(p source.Params, key string, allowed ...string) (string, error) {
	v := strings.TrimSpace(p[key])
	if v == "" {
		return pipeline.All, nil
	}
	in := make([]any, 0, len(allowed)+1)
	in = append(in, pipeline.All)
	for _, a := range allowed {
		in = append(in, a)
	}
	if err := validation.Validate(v, validation.In(in...)); err != nil {
		return "", validation.Errors{key: err}
	}
	return v, nil
}
