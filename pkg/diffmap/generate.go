package diffmap

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/Sumatoshi-tech/deltacov/pkg/diag"
)

// Generate computes the partition for one file directly from its baseline
// and current contents, without going through a textual unified diff. Files
// identical on both sides get an empty partition, matching the "===" marker
// of a parsed diff.
func (m *Map) Generate(path string, baseline, current string) {
	fd := &FileDiff{
		CurrentPath:  path,
		BaselinePath: path,
		deletedText:  make(map[uint32]string),
	}

	if baseline != current {
		dmp := diffmatchpatch.New()

		chars1, chars2, lineIndex := dmp.DiffLinesToChars(baseline, current)
		diffs := dmp.DiffCharsToLines(dmp.DiffMain(chars1, chars2, false), lineIndex)

		oldCur, newCur := uint32(1), uint32(1)

		for _, d := range diffs {
			lines := splitLines(d.Text)
			count := uint32(len(lines))

			if count == 0 {
				continue
			}

			switch d.Type {
			case diffmatchpatch.DiffEqual:
				appendCoalesced(&fd.Chunks, Chunk{
					Kind:     Equal,
					OldStart: oldCur, OldCount: count,
					NewStart: newCur, NewCount: count,
				})
				oldCur += count
				newCur += count

			case diffmatchpatch.DiffDelete:
				for i, text := range lines {
					fd.deletedText[oldCur+uint32(i)] = text
				}

				appendCoalesced(&fd.Chunks, Chunk{
					Kind:     Delete,
					OldStart: oldCur, OldCount: count,
					NewStart: newCur, NewCount: 0,
				})
				oldCur += count

			case diffmatchpatch.DiffInsert:
				appendCoalesced(&fd.Chunks, Chunk{
					Kind:     Insert,
					OldStart: oldCur, OldCount: 0,
					NewStart: newCur, NewCount: count,
				})
				newCur += count
			}
		}
	}

	m.files[path] = fd
}

// GenerateFromDirs synthesizes the diff for every given relative path by
// comparing the file under baselineDir against the one under currentDir. A
// path missing on one side becomes a whole-file insertion or deletion; a
// path missing on both raises a source diagnostic.
func (m *Map) GenerateFromDirs(baselineDir, currentDir string, paths []string, rep *diag.Reporter) error {
	changed := 0

	for _, path := range paths {
		baseline, baseOK, err := readIfExists(filepath.Join(baselineDir, path))
		if err != nil {
			return err
		}

		current, currOK, err := readIfExists(filepath.Join(currentDir, path))
		if err != nil {
			return err
		}

		switch {
		case !baseOK && !currOK:
			if repErr := rep.Report(diag.KindSource, "file %s missing in both snapshots", path); repErr != nil {
				return repErr
			}

			continue
		case !baseOK:
			m.Generate(path, "", current)
			m.files[path].BaselinePath = ""
		case !currOK:
			m.Generate(path, baseline, "")
			m.files[path].Deleted = true
			m.files[path].CurrentPath = path
		default:
			m.Generate(path, baseline, current)
		}

		if len(m.files[path].Chunks) > 0 {
			changed++
		}
	}

	m.loaded = true

	if changed == 0 {
		//nolint:errcheck // an empty diff just means "no changes".
		rep.Report(diag.KindEmpty, "snapshots are identical")
	}

	return nil
}

func readIfExists(path string) (string, bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}

	if err != nil {
		return "", false, fmt.Errorf("read %s: %w", path, err)
	}

	return string(data), true, nil
}

func splitLines(text string) []string {
	if text == "" {
		return nil
	}

	lines := strings.Split(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	return lines
}

func appendCoalesced(chunks *[]Chunk, chunk Chunk) {
	if n := len(*chunks); n > 0 {
		last := &(*chunks)[n-1]
		if last.Kind == chunk.Kind &&
			last.OldStart+last.OldCount == chunk.OldStart &&
			last.NewStart+last.NewCount == chunk.NewStart {
			last.OldCount += chunk.OldCount
			last.NewCount += chunk.NewCount

			return
		}
	}

	*chunks = append(*chunks, chunk)
}
