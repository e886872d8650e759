// SPDX-FileCopyrightText: Copyright 2025 The vmcpd Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"fmt"
	"strings"
)

// ParseResourceAttributes parses a comma-separated key=value list, e.g.
// "region=eu-west-1,team=platform", into the ResourceAttributes map.
// Whitespace around keys and values is trimmed; empty segments are skipped.
func ParseResourceAttributes(input string) (map[string]string, error) {
	attrs := make(map[string]string)
	for _, pair := range strings.Split(input, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid attribute %q: expected key=value", pair)
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("invalid attribute %q: empty key", pair)
		}
		attrs[key] = strings.TrimSpace(value)
	}
	return attrs, nil
}
