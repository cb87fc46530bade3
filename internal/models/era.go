package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ParseEra accepts the era shapes seen in the wild and normalizes them
// to a start/end pair:
//
//	{"start":1990,"end":1999}   {"min":1990,"max":1999}
//	{"decade":1990}             1990          [1990,1999]
//	"1990s"
//
// A nil or empty payload means no era constraint.
func ParseEra(raw json.RawMessage) (*EraConstraint, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return nil, nil
	}

	var obj struct {
		Start  *int `json:"start"`
		End    *int `json:"end"`
		Min    *int `json:"min"`
		Max    *int `json:"max"`
		Decade *int `json:"decade"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		switch {
		case obj.Start != nil || obj.End != nil:
			return clampEra(deref(obj.Start), deref(obj.End))
		case obj.Min != nil || obj.Max != nil:
			return clampEra(deref(obj.Min), deref(obj.Max))
		case obj.Decade != nil:
			return clampEra(*obj.Decade, *obj.Decade+9)
		}
		return nil, nil
	}

	var pair []int
	if err := json.Unmarshal(raw, &pair); err == nil {
		if len(pair) == 0 {
			return nil, nil
		}
		if len(pair) == 1 {
			return clampEra(pair[0], pair[0]+9)
		}
		return clampEra(pair[0], pair[1])
	}

	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return clampEra(n, n+9)
	}

	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		str = strings.TrimSpace(strings.ToLower(str))
		str = strings.TrimSuffix(str, "s")
		if y, err := strconv.Atoi(str); err == nil {
			return clampEra(y, y+9)
		}
	}

	return nil, fmt.Errorf("unrecognized era shape: %s", s)
}

func clampEra(start, end int) (*EraConstraint, error) {
	if start == 0 && end == 0 {
		return nil, nil
	}
	if start == 0 {
		start = end
	}
	if end == 0 {
		end = start
	}
	if start > end {
		start, end = end, start
	}
	if start < 1900 || end > 2100 {
		return nil, fmt.Errorf("era out of range: %d-%d", start, end)
	}
	return &EraConstraint{Start: start, End: end}, nil
}

func deref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
