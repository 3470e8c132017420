package store

import (
	"bufio"
	"regexp"
	"strings"
)

var regexLink = regexp.MustCompile(`(ss|vmess|vless)://[a-zA-Z0-9_\-\.\:@\?=&%#+/]+`)

// ExtractLinks pulls share links out of free-form text, one subscription
// dump or pasted chat message at a time. Output order follows input;
// duplicates are removed.
func ExtractLinks(text string) []string {
	var links []string
	text = strings.ReplaceAll(text, "\r\n", "\n")
	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		for _, match := range regexLink.FindAllString(line, -1) {
			clean := strings.TrimRight(match, ".,;)\"")
			if clean != "" {
				links = append(links, clean)
			}
		}
	}
	return deduplicate(links)
}

func deduplicate(input []string) []string {
	seen := make(map[string]bool, len(input))
	var out []string
	for _, entry := range input {
		if !seen[entry] {
			seen[entry] = true
			out = append(out, entry)
		}
	}
	return out
}
