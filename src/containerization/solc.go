// Copyright (c) 2026 Khaled Abbas
//
// This source code is licensed under the Business Source License 1.1.
//
// Change Date: 4 years after the first public release of this version.
// Change License: MIT
//
// On the Change Date, this version of the code automatically converts
// to the MIT License. Prior to that date, use is subject to the
// Additional Use Grant. See the LICENSE file for details.

package containerization

import (
	"os"
	"regexp"
	"strconv"
)

var pragmaSolidity = regexp.MustCompile(`pragma\s+solidity\s+[^;]*?0\.(\d+)`)

// SolcMinor returns the minor compiler version requested by the first
// `pragma solidity` directive in source, or -1 when there is none.
func SolcMinor(source []byte) int {
	m := pragmaSolidity.FindSubmatch(source)
	if m == nil {
		return -1
	}
	minor, err := strconv.Atoi(string(m[1]))
	if err != nil {
		return -1
	}
	return minor
}

// SolcMinorFile is SolcMinor for a file on disk; unreadable files count as unknown.
func SolcMinorFile(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return -1
	}
	return SolcMinor(data)
}
