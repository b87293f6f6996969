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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptions(t *testing.T) {
	opts := map[string]interface{}{
		"path":    "/v1/search",
		"rate":    2.5,
		"burst":   4,
		"limit":   "10",
		"enabled": "true",
		"nearby":  true,
		"timeout": "1500ms",
		"ttl":     90,
		"bad":     []string{"x"},
	}

	assert.Equal(t, "/v1/search", OptionString(opts, "path", "/search"))
	assert.Equal(t, "/search", OptionString(opts, "missing", "/search"))

	f, err := OptionFloat(opts, "rate", 0)
	require.NoError(t, err)
	assert.Equal(t, 2.5, f)

	n, err := OptionInt(opts, "burst", 1)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	n, err = OptionInt(opts, "limit", 1)
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	n, err = OptionInt(opts, "missing", 7)
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	_, err = OptionFloat(opts, "bad", 0)
	assert.Error(t, err)

	assert.True(t, OptionBool(opts, "enabled", false))
	assert.True(t, OptionBool(opts, "nearby", false))
	assert.False(t, OptionBool(opts, "missing", false))

	d, err := OptionDuration(opts, "timeout", 0)
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, d)

	d, err = OptionDuration(opts, "ttl", 0)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)

	_, err = OptionDuration(map[string]interface{}{"x": "soon"}, "x", 0)
	assert.Error(t, err)
}
