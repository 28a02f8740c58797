package layout

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var pageFilePattern = regexp.MustCompile(`(?i)^page[_-]?(\d+)\.([a-z]+)$`)

// BoxIDForPage derives the box id carried by a page.
func BoxIDForPage(page int) string {
	return fmt.Sprintf("box-%03d", page)
}

// Discover lists page inputs found in dir whose extension is one of exts.
// Pages are returned in ascending page order. When two files claim the same
// page the first extension in exts wins.
func Discover(dir string, exts []string, asImage bool) ([]PageInput, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read page directory: %w", err)
	}

	rank := make(map[string]int, len(exts))
	for i, ext := range exts {
		rank[strings.ToLower(strings.TrimPrefix(ext, "."))] = i
	}

	type found struct {
		path string
		rank int
	}
	byPage := make(map[int]found)

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := pageFilePattern.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		r, ok := rank[strings.ToLower(m[2])]
		if !ok {
			continue
		}
		page, convErr := strconv.Atoi(m[1])
		if convErr != nil || page <= 0 {
			continue
		}
		if prev, exists := byPage[page]; exists && prev.rank <= r {
			continue
		}
		byPage[page] = found{path: filepath.Join(dir, entry.Name()), rank: r}
	}

	pages := make([]int, 0, len(byPage))
	for p := range byPage {
		pages = append(pages, p)
	}
	sort.Ints(pages)

	inputs := make([]PageInput, 0, len(pages))
	for _, p := range pages {
		in := PageInput{Number: p, BoxID: BoxIDForPage(p)}
		if asImage {
			in.ImagePath = byPage[p].path
		} else {
			in.LayoutPath = byPage[p].path
		}
		inputs = append(inputs, in)
	}
	return inputs, nil
}
