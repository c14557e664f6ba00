// Copyright 2021 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package base

import (
	"bufio"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEscape(t *testing.T) {
	assert.Equal(t, "123", Escape("123"))
	assert.Equal(t, "\"\"\"123\"\"\"", Escape("\"123\""))
	assert.Equal(t, "\"1,2,3\"", Escape("1,2,3"))
	assert.Equal(t, "\"\"\",\"\"\"", Escape("\",\""))
	assert.Equal(t, "\"1\r\n2\r\n3\"", Escape("1\r\n2\r\n3"))
}

func splitLines(t *testing.T, text, sep string) [][]string {
	sc := bufio.NewScanner(strings.NewReader(text))
	lines := make([][]string, 0)
	err := ReadLines(sc, sep, func(i int, fields []string) bool {
		lines = append(lines, fields)
		return fields[0] != "STOP"
	})
	assert.NoError(t, err)
	return lines
}

func TestReadLines(t *testing.T) {
	assert.Equal(t, [][]string{{"1", "2", "3"}, {"4", "5", "6"}},
		splitLines(t, "1,2,3\r\n4,5,6\r\n", ","))
	assert.Equal(t, [][]string{{"1,2", "3,4", "5,6"}, {"2,3", "4,6", "6,9"}},
		splitLines(t, "\"1,2\",\"3,4\",\"5,6\"\r\n\"2,3\",\"4,6\",\"6,9\"", ","))
	assert.Equal(t, [][]string{{"1\r\n2", "3\r\n4"}, {"2\r\n3", "4\r\n6"}},
		splitLines(t, "\"1\r\n2\",\"3\r\n4\"\r\n\"2\r\n3\",\"4\r\n6\"", ","))
	assert.Equal(t, [][]string{{"1", "2", "3"}, {"4", "5", "6"}, {"STOP"}},
		splitLines(t, "1,2,3\r\n4,5,6\r\nSTOP\r\n7,8,9", ","))
}

func TestReadLines_Separators(t *testing.T) {
	// MovieLens 100K
	assert.Equal(t, [][]string{{"196", "242", "3", "881250949"}},
		splitLines(t, "196\t242\t3\t881250949\n", "\t"))
	// MovieLens 10M
	assert.Equal(t, [][]string{{"1", "122", "5", "838985046"}, {"1", "185", "5", "838983525"}},
		splitLines(t, "1::122::5::838985046\n1::185::5::838983525\n", "::"))
	// a lone colon is not a separator
	assert.Equal(t, [][]string{{"a:b", "c"}},
		splitLines(t, "a:b::c", "::"))
	// empty fields survive
	assert.Equal(t, [][]string{{"1", "", "3"}},
		splitLines(t, "1::::3", "::"))
}
