package snapshot

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// WaveformRootName chooses the side-car file's root name: the
// SnapshotFilename parameter without a ".snap" suffix when set, otherwise
// the request file path without a ".req" suffix (§4.8 Save).
func WaveformRootName(snapshotFilename, requestFile string) string {
	if snapshotFilename != "" {
		return strings.TrimSuffix(snapshotFilename, ".snap")
	}
	return strings.TrimSuffix(requestFile, ".req")
}

// WriteWaveformSideCars writes one side-car file per waveform, named
// rootName + "." + ControlName (with ':' and '/' replaced by '_'), one
// value per line.
func WriteWaveformSideCars(rootName string, waveforms map[string][]float64) ([]string, error) {
	var paths []string
	for name, values := range waveforms {
		path := fmt.Sprintf("%s.%s", rootName, sanitizeFileComponent(name))
		if err := writeWaveformFile(path, values); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func writeWaveformFile(path string, values []float64) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("snapshot: creating waveform side-car %s: %w", path, err)
	}
	defer f.Close()
	for _, v := range values {
		if _, err := fmt.Fprintln(f, FormatNumberPrecision(v, 15)); err != nil {
			return fmt.Errorf("snapshot: writing waveform side-car %s: %w", path, err)
		}
	}
	return nil
}

// WriteWaveformMultiPage writes every waveform into a single CSV file with
// a WaveformPV column, the alternative to side-car files named in §4.8.
func WriteWaveformMultiPage(path string, waveforms map[string][]float64) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("snapshot: creating %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"WaveformPV", "Index", "Value"}); err != nil {
		return err
	}
	for name, values := range waveforms {
		for i, v := range values {
			row := []string{name, strconv.Itoa(i), FormatNumberPrecision(v, 15)}
			if err := w.Write(row); err != nil {
				return fmt.Errorf("snapshot: writing %s: %w", path, err)
			}
		}
	}
	w.Flush()
	return w.Error()
}

func sanitizeFileComponent(name string) string {
	return strings.NewReplacer(":", "_", "/", "_").Replace(name)
}
