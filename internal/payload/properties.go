package payload

import (
	"bufio"
	"context"
	"fmt"

	"github.com/oshokin/ota-installer/internal/domain/ota"
	"github.com/oshokin/ota-installer/internal/logger"
)

// maxPropertyLine bounds a single header line.
const maxPropertyLine = 1 << 20

// ReadProperties returns the lines of entryName in their original order.
//
// A missing or unreadable entry yields an empty result instead of an error:
// the update engine treats absent header properties as "no extra properties".
func ReadProperties(ctx context.Context, path, entryName string) ota.Properties {
	lines, err := readLines(path, entryName)
	if err != nil {
		logger.WarnKV(ctx, "Failed to read header properties", "entry", entryName, "error", err)

		return ota.Properties{}
	}

	return lines
}

// readLines reads the whole entry and splits it on line boundaries.
func readLines(path, entryName string) (ota.Properties, error) {
	archive, err := openArchive(path)
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = archive.Close()
	}()

	entry := archive.find(entryName)
	if entry == nil {
		return nil, fmt.Errorf("%s: %w", entryName, ota.ErrEntryNotFound)
	}

	contents, err := entry.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", entryName, err)
	}

	defer func() {
		_ = contents.Close()
	}()

	scanner := bufio.NewScanner(contents)
	scanner.Buffer(make([]byte, 0, bufio.MaxScanTokenSize), maxPropertyLine)

	lines := ota.Properties{}
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}

	if err = scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", entryName, err)
	}

	return lines, nil
}
