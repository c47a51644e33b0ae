package persist

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"episoded/internal/common/fsutil"
)

// ArchiveInfo describes an archive found on disk.
type ArchiveInfo struct {
	Session string `json:"session"`
	Split   string `json:"split"`
	Counter int    `json:"counter"`
	Path    string `json:"path"`
	Size    int64  `json:"size"`
}

// ListArchives scans <root>/<session>/{train,val}/episode_NNNNN.npz.
// Temp files and unrelated names are skipped. Results are ordered by
// session, then counter.
func ListArchives(root string) ([]ArchiveInfo, error) {
	base, err := fsutil.ExpandHome(root)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	sessions, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var out []ArchiveInfo
	for _, s := range sessions {
		if !s.IsDir() {
			continue
		}
		for _, split := range []string{SplitTrain, SplitVal} {
			dir := filepath.Join(abs, s.Name(), split)
			entries, err := os.ReadDir(dir)
			if os.IsNotExist(err) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("read dir: %w", err)
			}
			for _, e := range entries {
				counter, ok := parseFileName(e.Name())
				if e.IsDir() || !ok {
					continue
				}
				info := ArchiveInfo{Session: s.Name(), Split: split, Counter: counter, Path: filepath.Join(dir, e.Name())}
				if fi, err := e.Info(); err == nil {
					info.Size = fi.Size()
				}
				out = append(out, info)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Session != out[j].Session {
			return out[i].Session < out[j].Session
		}
		return out[i].Counter < out[j].Counter
	})
	return out, nil
}

// parseFileName extracts the counter from episode_NNNNN.npz.
func parseFileName(name string) (int, bool) {
	if !strings.HasPrefix(name, "episode_") || !strings.HasSuffix(strings.ToLower(name), ArchiveExt) {
		return 0, false
	}
	n, err := strconv.Atoi(name[len("episode_") : len(name)-len(ArchiveExt)])
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
