// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package base

import (
	"fmt"
	"strconv"
	"time"
)

// OptionString reads a string option, returning def when absent
func OptionString(opts map[string]interface{}, key, def string) string {
	if v, ok := opts[key].(string); ok && v != "" {
		return v
	}
	return def
}

// OptionFloat reads a numeric option. YAML and JSON decode numbers as
// int or float64; numeric strings are accepted too.
func OptionFloat(opts map[string]interface{}, key string, def float64) (float64, error) {
	switch v := opts[key].(type) {
	case nil:
		return def, nil
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("option %s: %w", key, err)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("option %s: unsupported type %T", key, v)
	}
}

// OptionInt reads an integer option
func OptionInt(opts map[string]interface{}, key string, def int) (int, error) {
	f, err := OptionFloat(opts, key, float64(def))
	if err != nil {
		return 0, err
	}
	return int(f), nil
}

// OptionBool reads a boolean option
func OptionBool(opts map[string]interface{}, key string, def bool) bool {
	switch v := opts[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// OptionDuration reads a duration option given as a Go duration string or
// a number of seconds
func OptionDuration(opts map[string]interface{}, key string, def time.Duration) (time.Duration, error) {
	switch v := opts[key].(type) {
	case nil:
		return def, nil
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("option %s: %w", key, err)
		}
		return d, nil
	default:
		secs, err := OptionFloat(opts, key, 0)
		if err != nil {
			return 0, err
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
}
